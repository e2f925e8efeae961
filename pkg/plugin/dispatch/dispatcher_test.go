package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lomehong/chatplot/pkg/plugin/api"
	"github.com/lomehong/chatplot/pkg/plugin/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type base struct {
	api.InitGuard
	name string
}

func (b *base) Metadata() api.PluginMetadata {
	return api.PluginMetadata{Name: b.name, Version: "1.0", EntryPoint: b.name}
}

func (b *base) Initialize(ctx context.Context, cfg api.PluginConfig) error {
	return b.Begin(b.name)
}

// echoProcessor 原样返回数据，payload 为 "boom" 时返回错误，为 "panic" 时触发恐慌
type echoProcessor struct{ base }

func (p *echoProcessor) Process(ctx context.Context, data any, options api.Options) (any, error) {
	switch data {
	case "boom":
		return nil, errors.New("invalid date column")
	case "panic":
		panic("索引越界")
	}
	return data, nil
}

type barChart struct{ base }

func (c *barChart) Render(ctx context.Context, data any, options api.Options) (*api.ChartSpec, error) {
	return &api.ChartSpec{Type: "bar", Data: data}, nil
}

type summary struct{ base }

func (s *summary) Analyze(ctx context.Context, data any, options api.Options) (*api.AnalysisResult, error) {
	return &api.AnalysisResult{Findings: map[string]any{"input": data}}, nil
}

// meanModel 记录训练数据的平均值
type meanModel struct {
	base
	mu      sync.Mutex
	trained bool
	mean    float64
}

func (m *meanModel) Train(ctx context.Context, data any, options api.Options) error {
	values, ok := data.([]float64)
	if !ok || len(values) == 0 {
		return errors.New("训练数据为空")
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mean = sum / float64(len(values))
	m.trained = true
	return nil
}

func (m *meanModel) Predict(ctx context.Context, data any) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.trained {
		return nil, &api.NotTrainedError{Plugin: m.name}
	}
	return m.mean, nil
}

func setup(t *testing.T, opts ...Option) (*registry.Registry, *Dispatcher) {
	t.Helper()
	reg := registry.New(nil)
	factories := []api.Factory{
		func() api.Plugin { return &echoProcessor{base{name: "echo"}} },
		func() api.Plugin { return &barChart{base{name: "bar"}} },
		func() api.Plugin { return &summary{base: base{name: "summary"}} },
		func() api.Plugin { return &meanModel{base: base{name: "mean"}} },
	}
	for _, f := range factories {
		k, err := reg.RegisterFactory(f)
		require.NoError(t, err)
		_, err = reg.Instantiate(context.Background(), k.Category, k.Name, nil)
		require.NoError(t, err)
	}
	return reg, New(reg, nil, opts...)
}

func TestDispatchEachCategory(t *testing.T) {
	_, d := setup(t)
	ctx := context.Background()

	out, err := d.Dispatch(ctx, Request{Category: api.CategoryDataProcessor, Name: "echo", Operation: api.OperationProcess, Payload: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	out, err = d.Dispatch(ctx, Request{Category: api.CategoryVisualization, Name: "bar", Operation: api.OperationRender, Payload: []int{1}})
	require.NoError(t, err)
	assert.Equal(t, "bar", out.(*api.ChartSpec).Type)

	out, err = d.Dispatch(ctx, Request{Category: api.CategoryAnalysis, Name: "summary", Operation: api.OperationAnalyze, Payload: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, out.(*api.AnalysisResult).Findings["input"])

	_, err = d.Dispatch(ctx, Request{Category: api.CategoryModel, Name: "mean", Operation: api.OperationTrain, Payload: []float64{1, 2, 3}})
	require.NoError(t, err)
	out, err = d.Dispatch(ctx, Request{Category: api.CategoryModel, Name: "mean", Operation: api.OperationPredict})
	require.NoError(t, err)
	assert.Equal(t, 2.0, out)
}

func TestDispatchResult(t *testing.T) {
	_, d := setup(t)
	res, err := d.DispatchResult(context.Background(), Request{Category: api.CategoryDataProcessor, Name: "echo", Operation: api.OperationProcess, Payload: 42})
	require.NoError(t, err)
	assert.Equal(t, 42, res.Value)
	assert.Len(t, res.RequestID, 36)
	assert.GreaterOrEqual(t, res.Duration, time.Duration(0))
}

func TestDispatchUnsupportedOperation(t *testing.T) {
	_, d := setup(t)
	_, err := d.Dispatch(context.Background(), Request{Category: api.CategoryVisualization, Name: "bar", Operation: api.OperationTrain})

	var unsupported *api.UnsupportedOperationError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, api.CategoryVisualization, unsupported.Category)
	assert.Equal(t, api.OperationTrain, unsupported.Operation)
	assert.Equal(t, api.ErrorKindUnsupportedOperation, api.KindOf(err))
}

func TestDispatchLookupErrorsPropagate(t *testing.T) {
	reg, d := setup(t)
	ctx := context.Background()

	_, err := d.Dispatch(ctx, Request{Category: api.CategoryAnalysis, Name: "missing", Operation: api.OperationAnalyze})
	assert.Equal(t, api.ErrorKindPluginNotFound, api.KindOf(err))

	require.NoError(t, reg.Retire(ctx, api.CategoryDataProcessor, "echo"))
	_, err = d.Dispatch(ctx, Request{Category: api.CategoryDataProcessor, Name: "echo", Operation: api.OperationProcess})
	assert.ErrorIs(t, err, api.ErrPluginNotFound)

	_, err = reg.RegisterFactory(func() api.Plugin { return &echoProcessor{base{name: "idle"}} })
	require.NoError(t, err)
	_, err = d.Dispatch(ctx, Request{Category: api.CategoryDataProcessor, Name: "idle", Operation: api.OperationProcess})
	assert.ErrorIs(t, err, api.ErrPluginNotReady)
}

func TestDispatchPluginFailure(t *testing.T) {
	_, d := setup(t)
	_, err := d.Dispatch(context.Background(), Request{Category: api.CategoryDataProcessor, Name: "echo", Operation: api.OperationProcess, Payload: "boom"})

	var execErr *api.PluginExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "echo", execErr.Plugin)
	assert.Equal(t, api.OperationProcess, execErr.Operation)
	assert.Equal(t, "invalid date column", execErr.Message)
	assert.Contains(t, err.Error(), "invalid date column")
	assert.Equal(t, api.ErrorKindPluginExecution, api.KindOf(err))
}

func TestDispatchRecoversPanic(t *testing.T) {
	_, d := setup(t)
	_, err := d.Dispatch(context.Background(), Request{Category: api.CategoryDataProcessor, Name: "echo", Operation: api.OperationProcess, Payload: "panic"})

	var execErr *api.PluginExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Contains(t, execErr.Message, "索引越界")
	assert.Equal(t, int64(1), d.Stats().Panics)
}

func TestDispatchPredictBeforeTrain(t *testing.T) {
	_, d := setup(t)
	_, err := d.Dispatch(context.Background(), Request{Category: api.CategoryModel, Name: "mean", Operation: api.OperationPredict})

	assert.ErrorIs(t, err, api.ErrNotTrained)
	assert.ErrorIs(t, err, api.ErrPluginExecution)
	var notTrained *api.NotTrainedError
	require.True(t, errors.As(err, &notTrained))
	assert.Equal(t, "mean", notTrained.Plugin)
}

func TestDispatchRateLimit(t *testing.T) {
	_, d := setup(t, WithRateLimit(0.001, 1))
	req := Request{Category: api.CategoryDataProcessor, Name: "echo", Operation: api.OperationProcess, Payload: 1}

	_, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)

	// 令牌已耗尽，等待超出截止时间时立即失败
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = d.Dispatch(ctx, req)
	require.ErrorIs(t, err, api.ErrRateLimited)
	assert.Equal(t, api.ErrorKindRateLimited, api.KindOf(err))

	// 调用方取消时保留取消原因
	canceled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	_, err = d.Dispatch(canceled, req)
	assert.ErrorIs(t, err, api.ErrRateLimited)
	assert.ErrorIs(t, err, context.Canceled)

	// 不同插件使用独立的限流器
	_, err = d.Dispatch(context.Background(), Request{Category: api.CategoryVisualization, Name: "bar", Operation: api.OperationRender})
	assert.NoError(t, err)
}

func TestStats(t *testing.T) {
	_, d := setup(t)
	ctx := context.Background()
	_, _ = d.Dispatch(ctx, Request{Category: api.CategoryDataProcessor, Name: "echo", Operation: api.OperationProcess, Payload: 1})
	_, _ = d.Dispatch(ctx, Request{Category: api.CategoryDataProcessor, Name: "echo", Operation: api.OperationProcess, Payload: "boom"})

	stats := d.Stats()
	assert.Equal(t, int64(2), stats.Dispatches)
	assert.Equal(t, int64(1), stats.Failures)
	assert.Equal(t, int64(0), stats.Panics)
}
