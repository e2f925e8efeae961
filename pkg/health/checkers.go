package health

import (
	"context"
	"fmt"
	"runtime"

	"github.com/lomehong/chatplot/pkg/plugin/api"
	"github.com/lomehong/chatplot/pkg/plugin/dispatch"
)

// StatusLister 列出插件状态
type StatusLister interface {
	Statuses() []api.PluginStatus
}

// StatusListerFunc 函数形式的 StatusLister
type StatusListerFunc func() []api.PluginStatus

// Statuses 实现 StatusLister
func (f StatusListerFunc) Statuses() []api.PluginStatus { return f() }

// NewPluginsChecker 创建插件就绪检查器
// 没有插件时不健康，存在未初始化的插件时降级
func NewPluginsChecker(lister StatusLister) Checker {
	return NewSimpleChecker("plugins", func(ctx context.Context) CheckResult {
		statuses := lister.Statuses()
		var pending []string
		for _, s := range statuses {
			if s.State != api.PluginStateInitialized {
				pending = append(pending, string(s.Category)+"/"+s.Name)
			}
		}
		details := map[string]any{
			"total": len(statuses),
			"ready": len(statuses) - len(pending),
		}

		switch {
		case len(statuses) == 0:
			return CheckResult{Status: StatusUnhealthy, Message: "没有已注册的插件", Details: details}
		case len(pending) > 0:
			details["pending"] = pending
			return CheckResult{Status: StatusDegraded, Message: fmt.Sprintf("%d 个插件未初始化", len(pending)), Details: details}
		}
		return CheckResult{Status: StatusHealthy, Message: "所有插件均已就绪", Details: details}
	})
}

// NewDispatchChecker 创建分发失败率检查器
// 分发次数不少于 minSamples 且失败率达到 threshold 时降级
func NewDispatchChecker(stats func() dispatch.Stats, threshold float64, minSamples int64) Checker {
	return NewSimpleChecker("dispatch", func(ctx context.Context) CheckResult {
		s := stats()
		details := map[string]any{
			"dispatches": s.Dispatches,
			"failures":   s.Failures,
			"panics":     s.Panics,
		}
		if s.Dispatches < minSamples || s.Dispatches == 0 {
			return CheckResult{Status: StatusHealthy, Message: "分发样本不足", Details: details}
		}

		ratio := float64(s.Failures) / float64(s.Dispatches)
		details["failure_ratio"] = ratio
		if ratio >= threshold {
			return CheckResult{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("分发失败率 %.2f 超过阈值 %.2f", ratio, threshold),
				Details: details,
			}
		}
		return CheckResult{Status: StatusHealthy, Message: "分发正常", Details: details}
	})
}

// NewGoroutineChecker 创建Goroutine数量检查器
func NewGoroutineChecker(thresholdCount int) Checker {
	return NewSimpleChecker("goroutine", func(ctx context.Context) CheckResult {
		count := runtime.NumGoroutine()
		details := map[string]any{
			"count":     count,
			"threshold": thresholdCount,
		}

		if count >= thresholdCount {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("Goroutine数量 %d 超过阈值 %d", count, thresholdCount),
				Details: details,
			}
		}
		if count >= thresholdCount*8/10 {
			return CheckResult{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("Goroutine数量 %d 接近阈值 %d", count, thresholdCount),
				Details: details,
			}
		}
		return CheckResult{
			Status:  StatusHealthy,
			Message: fmt.Sprintf("Goroutine数量 %d 正常", count),
			Details: details,
		}
	})
}
