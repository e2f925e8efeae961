package config

import (
	"fmt"
	"reflect"

	"github.com/lomehong/chatplot/pkg/plugin/api"
	"github.com/mitchellh/mapstructure"
)

// Decode 将合并后的配置解码到结构体
// 使用弱类型解码，YAML 中的 3 与 3.0 都能写入 int 字段
func Decode(cfg api.PluginConfig, result any) error {
	// 检查结果是否为指针
	if reflect.ValueOf(result).Kind() != reflect.Ptr {
		return fmt.Errorf("结果必须为指针")
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           result,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("创建解码器失败: %w", err)
	}

	if err := decoder.Decode(map[string]any(cfg)); err != nil {
		return fmt.Errorf("解码配置失败: %w", err)
	}
	return nil
}
