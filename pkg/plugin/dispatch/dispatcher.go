// Package dispatch 将结构化请求路由到已初始化的插件并对失败进行分类
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/lomehong/chatplot/pkg/plugin/api"
	"github.com/lomehong/chatplot/pkg/plugin/registry"
	"golang.org/x/time/rate"
)

// Resolver 解析已初始化的插件实例
// *registry.Registry 实现了该接口
type Resolver interface {
	Get(category api.Category, name string) (api.Plugin, error)
}

// Request 分发请求
type Request struct {
	Category  api.Category  `json:"category"`
	Name      string        `json:"name"`
	Operation api.Operation `json:"operation"`
	Payload   any           `json:"payload,omitempty"`
	Options   api.Options   `json:"options,omitempty"`
}

// Result 分发结果
type Result struct {
	RequestID string        `json:"request_id"`
	Value     any           `json:"value"`
	Duration  time.Duration `json:"duration"`
}

// Stats 分发统计
type Stats struct {
	Dispatches int64 `json:"dispatches"`
	Failures   int64 `json:"failures"`
	Panics     int64 `json:"panics"`
}

// Option 分发器选项
type Option func(*Dispatcher)

// WithRateLimit 为每个插件设置限流
// rps 小于等于 0 时不限流
func WithRateLimit(rps float64, burst int) Option {
	return func(d *Dispatcher) {
		d.rps = rps
		if burst < 1 {
			burst = 1
		}
		d.burst = burst
	}
}

// Dispatcher 插件操作分发器
// 分发器不持有实例，每次请求都通过注册表解析
type Dispatcher struct {
	resolver Resolver
	logger   hclog.Logger

	// 限流配置
	rps      float64
	burst    int
	limiters map[registry.Key]*rate.Limiter
	mu       sync.Mutex

	// 统计
	dispatches atomic.Int64
	failures   atomic.Int64
	panics     atomic.Int64
}

// New 创建分发器
func New(resolver Resolver, logger hclog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	d := &Dispatcher{
		resolver: resolver,
		logger:   logger.Named("plugin-dispatcher"),
		limiters: make(map[registry.Key]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch 分发请求并返回插件的输出
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (any, error) {
	res, err := d.DispatchResult(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// DispatchResult 分发请求并返回带请求ID与耗时的结果
// 查找错误原样返回；插件自身的错误与恐慌统一包装为 PluginExecutionError
func (d *Dispatcher) DispatchResult(ctx context.Context, req Request) (*Result, error) {
	requestID := uuid.New().String()
	logger := d.logger.With("request_id", requestID, "category", req.Category, "name", req.Name, "operation", req.Operation)
	d.dispatches.Add(1)

	plugin, err := d.resolver.Get(req.Category, req.Name)
	if err != nil {
		d.failures.Add(1)
		logger.Debug("解析插件失败", "error", err)
		return nil, err
	}

	if !req.Category.Supports(req.Operation) {
		d.failures.Add(1)
		return nil, &api.UnsupportedOperationError{Category: req.Category, Operation: req.Operation}
	}

	if err := d.wait(ctx, registry.Key{Category: req.Category, Name: req.Name}); err != nil {
		d.failures.Add(1)
		return nil, err
	}

	start := time.Now()
	value, err := d.invoke(ctx, plugin, req)
	duration := time.Since(start)
	if err != nil {
		d.failures.Add(1)
		logger.Warn("插件执行失败", "duration", duration, "error", err)
		return nil, api.NewPluginExecutionError(req.Name, req.Category, req.Operation, err)
	}

	logger.Debug("插件执行完成", "duration", duration)
	return &Result{RequestID: requestID, Value: value, Duration: duration}, nil
}

// Stats 返回分发统计
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatches: d.dispatches.Load(),
		Failures:   d.failures.Load(),
		Panics:     d.panics.Load(),
	}
}

// wait 等待限流器放行
func (d *Dispatcher) wait(ctx context.Context, k registry.Key) error {
	if d.rps <= 0 {
		return nil
	}

	d.mu.Lock()
	limiter, ok := d.limiters[k]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(d.rps), d.burst)
		d.limiters[k] = limiter
	}
	d.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return &api.RateLimitedError{Category: k.Category, Name: k.Name, Cause: err}
	}
	return nil
}

// invoke 调用插件操作，捕获恐慌
func (d *Dispatcher) invoke(ctx context.Context, plugin api.Plugin, req Request) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.logger.Error("插件执行恐慌", "name", req.Name, "operation", req.Operation, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("插件执行恐慌: %v", r)
		}
	}()

	switch req.Operation {
	case api.OperationProcess:
		p, ok := plugin.(api.DataProcessor)
		if !ok {
			return nil, errCapability(plugin, req)
		}
		return p.Process(ctx, req.Payload, req.Options)
	case api.OperationRender:
		p, ok := plugin.(api.Visualization)
		if !ok {
			return nil, errCapability(plugin, req)
		}
		return p.Render(ctx, req.Payload, req.Options)
	case api.OperationAnalyze:
		p, ok := plugin.(api.Analysis)
		if !ok {
			return nil, errCapability(plugin, req)
		}
		return p.Analyze(ctx, req.Payload, req.Options)
	case api.OperationTrain:
		p, ok := plugin.(api.Model)
		if !ok {
			return nil, errCapability(plugin, req)
		}
		if err := p.Train(ctx, req.Payload, req.Options); err != nil {
			return nil, err
		}
		return map[string]any{"trained": true}, nil
	case api.OperationPredict:
		p, ok := plugin.(api.Model)
		if !ok {
			return nil, errCapability(plugin, req)
		}
		return p.Predict(ctx, req.Payload)
	}
	return nil, &api.UnsupportedOperationError{Category: req.Category, Operation: req.Operation}
}

func errCapability(plugin api.Plugin, req Request) error {
	return fmt.Errorf("插件 %s 未实现 %s 操作所需的接口 (%T)", req.Name, req.Operation, plugin)
}
