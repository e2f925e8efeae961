package health

import (
	"context"
	"testing"

	"github.com/lomehong/chatplot/pkg/plugin/api"
	"github.com/lomehong/chatplot/pkg/plugin/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(name string, status Status) Checker {
	return NewSimpleChecker(name, func(ctx context.Context) CheckResult {
		return CheckResult{Status: status, Message: string(status)}
	})
}

func TestRegistryReport(t *testing.T) {
	r := NewRegistry(nil)
	assert.Equal(t, StatusUnknown, r.Report(context.Background()).Status)

	r.Register(fixed("a", StatusHealthy))
	r.Register(fixed("b", StatusHealthy))
	report := r.Report(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Len(t, report.Checks, 2)
	assert.False(t, report.Checks["a"].LastChecked.IsZero())

	r.Register(fixed("c", StatusDegraded))
	assert.Equal(t, StatusDegraded, r.Report(context.Background()).Status)

	r.Register(fixed("d", StatusUnhealthy))
	report = r.Report(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Contains(t, report.Message, "c")
	assert.Contains(t, report.Message, "d")

	r.Unregister("c")
	r.Unregister("d")
	assert.Equal(t, []string{"a", "b"}, r.Names())
	assert.Equal(t, StatusHealthy, r.Report(context.Background()).Status)
}

func TestPluginsChecker(t *testing.T) {
	var statuses []api.PluginStatus
	checker := NewPluginsChecker(StatusListerFunc(func() []api.PluginStatus { return statuses }))

	assert.Equal(t, StatusUnhealthy, checker.Check(context.Background()).Status)

	statuses = []api.PluginStatus{
		{Category: api.CategoryVisualization, Name: "waterfall_chart", State: api.PluginStateInitialized},
		{Category: api.CategoryModel, Name: "anomaly_detector", State: api.PluginStateRegistered},
	}
	result := checker.Check(context.Background())
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Equal(t, []string{"model/anomaly_detector"}, result.Details["pending"])

	statuses[1].State = api.PluginStateInitialized
	assert.Equal(t, StatusHealthy, checker.Check(context.Background()).Status)
}

func TestDispatchChecker(t *testing.T) {
	stats := dispatch.Stats{}
	checker := NewDispatchChecker(func() dispatch.Stats { return stats }, 0.5, 4)

	assert.Equal(t, StatusHealthy, checker.Check(context.Background()).Status)

	stats = dispatch.Stats{Dispatches: 2, Failures: 2}
	assert.Equal(t, StatusHealthy, checker.Check(context.Background()).Status)

	stats = dispatch.Stats{Dispatches: 10, Failures: 6}
	result := checker.Check(context.Background())
	require.Equal(t, StatusDegraded, result.Status)
	assert.InDelta(t, 0.6, result.Details["failure_ratio"], 1e-9)

	stats = dispatch.Stats{Dispatches: 10, Failures: 1}
	assert.Equal(t, StatusHealthy, checker.Check(context.Background()).Status)
}

func TestGoroutineChecker(t *testing.T) {
	assert.Equal(t, StatusHealthy, NewGoroutineChecker(1<<20).Check(context.Background()).Status)
	assert.Equal(t, StatusUnhealthy, NewGoroutineChecker(1).Check(context.Background()).Status)
}
