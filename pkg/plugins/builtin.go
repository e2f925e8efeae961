// Package plugins 编译进程序的内置插件
package plugins

import (
	"github.com/lomehong/chatplot/pkg/plugin/api"
	"github.com/lomehong/chatplot/pkg/plugins/anomaly"
	"github.com/lomehong/chatplot/pkg/plugins/basket"
	"github.com/lomehong/chatplot/pkg/plugins/timeseries"
	"github.com/lomehong/chatplot/pkg/plugins/waterfall"
)

// Builtins 返回内置插件工厂表，每类一个插件
func Builtins() []api.Factory {
	return []api.Factory{
		timeseries.New,
		waterfall.New,
		basket.New,
		anomaly.New,
	}
}
