package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lomehong/chatplot/pkg/plugin/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockProcessor 模拟数据处理插件
type mockProcessor struct {
	api.InitGuard
	md       api.PluginMetadata
	config   api.PluginConfig
	initErr  error
	failOnce *atomic.Bool
	inits    *atomic.Int32
	shutdown *atomic.Int32
	delay    time.Duration
}

// errFirstInit 首次初始化失败时返回的错误
var errFirstInit = errors.New("首次初始化失败")

func (p *mockProcessor) Metadata() api.PluginMetadata { return p.md }

func (p *mockProcessor) Initialize(ctx context.Context, cfg api.PluginConfig) error {
	if err := p.Begin(p.md.Name); err != nil {
		return err
	}
	p.inits.Add(1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.initErr != nil {
		p.Abort()
		return p.initErr
	}
	if p.failOnce != nil && p.failOnce.CompareAndSwap(true, false) {
		p.Abort()
		return errFirstInit
	}
	p.config = cfg
	return nil
}

func (p *mockProcessor) Process(ctx context.Context, data any, options api.Options) (any, error) {
	return data, nil
}

func (p *mockProcessor) Shutdown(ctx context.Context) error {
	p.shutdown.Add(1)
	return nil
}

// mockFactory 模拟插件工厂，记录初始化与关闭次数
type mockFactory struct {
	md       api.PluginMetadata
	inits    atomic.Int32
	shutdown atomic.Int32
	initErr  error
	failOnce atomic.Bool
	delay    time.Duration
}

func newMockFactory(name string) *mockFactory {
	return &mockFactory{md: api.PluginMetadata{
		Name:       name,
		Version:    "1.0.0",
		EntryPoint: "mockProcessor",
		ConfigSchema: &api.ConfigSchema{Fields: map[string]api.FieldSpec{
			"threshold": {Type: api.FieldTypeNumber, Default: 3},
		}},
	}}
}

func (f *mockFactory) New() api.Plugin {
	return &mockProcessor{md: f.md, initErr: f.initErr, failOnce: &f.failOnce, inits: &f.inits, shutdown: &f.shutdown, delay: f.delay}
}

func newTestRegistry() *Registry {
	return New(nil)
}

func TestRegisterInstantiateGet(t *testing.T) {
	r := newTestRegistry()
	f := newMockFactory("time_series_processor")

	k, err := r.Register(f.md, f.New)
	require.NoError(t, err)
	assert.Equal(t, Key{Category: api.CategoryDataProcessor, Name: "time_series_processor"}, k)

	instance, err := r.Instantiate(context.Background(), api.CategoryDataProcessor, "time_series_processor", api.PluginConfig{"extra": "x"})
	require.NoError(t, err)

	got, err := r.Get(api.CategoryDataProcessor, "time_series_processor")
	require.NoError(t, err)
	assert.Same(t, instance, got)
	assert.Equal(t, f.md, got.Metadata())

	// 默认值与覆盖值都传给了插件
	cfg := got.(*mockProcessor).config
	assert.Equal(t, 3, cfg["threshold"])
	assert.Equal(t, "x", cfg["extra"])

	status, err := r.Status(api.CategoryDataProcessor, "time_series_processor")
	require.NoError(t, err)
	assert.Equal(t, api.PluginStateInitialized, status.State)
	assert.Equal(t, "x", status.Config["extra"])
	assert.Equal(t, int32(1), f.inits.Load())
}

func TestRegisterDuplicate(t *testing.T) {
	r := newTestRegistry()
	first := newMockFactory("p")
	second := newMockFactory("p")
	second.md.Version = "2.0.0"

	_, err := r.Register(first.md, first.New)
	require.NoError(t, err)

	_, err = r.Register(second.md, second.New)
	require.Error(t, err)
	var dup *api.DuplicateRegistrationError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, api.CategoryDataProcessor, dup.Category)

	list := r.List(api.CategoryDataProcessor)
	require.Len(t, list, 1)
	assert.Equal(t, "1.0.0", list[0].Version)
}

func TestRegisterInvalid(t *testing.T) {
	r := newTestRegistry()

	f := newMockFactory("")
	_, err := r.Register(f.md, f.New)
	assert.ErrorIs(t, err, api.ErrInvalidMetadata)

	f = newMockFactory("p")
	_, err = r.Register(f.md, nil)
	assert.ErrorIs(t, err, api.ErrInvalidMetadata)

	_, err = r.Register(f.md, func() api.Plugin { return nil })
	assert.ErrorIs(t, err, api.ErrInvalidMetadata)
}

func TestRegisterMetadataMismatch(t *testing.T) {
	r := newTestRegistry()
	f := newMockFactory("inner")

	tests := []struct {
		name   string
		modify func(md *api.PluginMetadata)
		field  string
	}{
		{"name", func(md *api.PluginMetadata) { md.Name = "outer" }, "name"},
		{"version", func(md *api.PluginMetadata) { md.Version = "2.0" }, "version"},
		{"entry point", func(md *api.PluginMetadata) { md.EntryPoint = "x" }, "entry_point"},
		{"description", func(md *api.PluginMetadata) { md.Description = "其他描述" }, "description"},
		{"schema", func(md *api.PluginMetadata) { md.ConfigSchema = nil }, "config_schema"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := f.md.Clone()
			tt.modify(&md)
			_, err := r.Register(md, f.New)
			require.ErrorIs(t, err, api.ErrInvalidMetadata)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
	assert.Empty(t, r.Keys())

	// 一致的元数据注册后，取回的实例报告相同的元数据
	md := f.md.Clone()
	_, err := r.Register(md, f.New)
	require.NoError(t, err)
	_, err = r.Instantiate(context.Background(), api.CategoryDataProcessor, "inner", nil)
	require.NoError(t, err)
	got, err := r.Get(api.CategoryDataProcessor, "inner")
	require.NoError(t, err)
	assert.Empty(t, md.Mismatch(got.Metadata()))
	assert.Equal(t, md.Name, got.Metadata().Name)
}

func TestRegisterFactory(t *testing.T) {
	r := newTestRegistry()
	f := newMockFactory("p")
	k, err := r.RegisterFactory(f.New)
	require.NoError(t, err)
	assert.Equal(t, "p", k.Name)
	assert.Equal(t, int32(0), f.inits.Load(), "注册时不应初始化插件")
}

func TestInstantiateUnknown(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Instantiate(context.Background(), api.CategoryModel, "missing", nil)
	assert.ErrorIs(t, err, api.ErrPluginNotFound)
}

func TestGetBeforeInstantiate(t *testing.T) {
	r := newTestRegistry()
	f := newMockFactory("p")
	_, err := r.Register(f.md, f.New)
	require.NoError(t, err)

	_, err = r.Get(api.CategoryDataProcessor, "p")
	assert.ErrorIs(t, err, api.ErrPluginNotReady)

	_, err = r.Get(api.CategoryDataProcessor, "missing")
	assert.ErrorIs(t, err, api.ErrPluginNotFound)

	// 类别不同视为不同的键
	_, err = r.Get(api.CategoryAnalysis, "p")
	assert.ErrorIs(t, err, api.ErrPluginNotFound)
}

func TestInstantiateConfigError(t *testing.T) {
	r := newTestRegistry()
	f := newMockFactory("p")
	_, err := r.Register(f.md, f.New)
	require.NoError(t, err)

	_, err = r.Instantiate(context.Background(), api.CategoryDataProcessor, "p", api.PluginConfig{"threshold": "high"})
	assert.ErrorIs(t, err, api.ErrConfigType)
	assert.Equal(t, int32(0), f.inits.Load(), "配置校验失败时不应运行插件代码")

	status, err := r.Status(api.CategoryDataProcessor, "p")
	require.NoError(t, err)
	assert.Equal(t, api.PluginStateRegistered, status.State)
}

func TestInstantiateInitFailureAllowsRetry(t *testing.T) {
	r := newTestRegistry()
	f := newMockFactory("p")
	boom := errors.New("连接失败")
	f.initErr = boom
	_, err := r.Register(f.md, f.New)
	require.NoError(t, err)

	_, err = r.Instantiate(context.Background(), api.CategoryDataProcessor, "p", nil)
	assert.Same(t, boom, err, "初始化错误应原样返回")

	_, err = r.Get(api.CategoryDataProcessor, "p")
	assert.ErrorIs(t, err, api.ErrPluginNotReady)

	f.initErr = nil
	_, err = r.Instantiate(context.Background(), api.CategoryDataProcessor, "p", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.inits.Load())
}

func TestInstantiateCachesInstance(t *testing.T) {
	r := newTestRegistry()
	f := newMockFactory("p")
	_, err := r.Register(f.md, f.New)
	require.NoError(t, err)

	first, err := r.Instantiate(context.Background(), api.CategoryDataProcessor, "p", nil)
	require.NoError(t, err)
	second, err := r.Instantiate(context.Background(), api.CategoryDataProcessor, "p", api.PluginConfig{"threshold": 9})
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), f.inits.Load())
}

func TestConcurrentInstantiate(t *testing.T) {
	r := newTestRegistry()
	f := newMockFactory("p")
	f.delay = 20 * time.Millisecond
	_, err := r.Register(f.md, f.New)
	require.NoError(t, err)

	const callers = 16
	results := make([]api.Plugin, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Instantiate(context.Background(), api.CategoryDataProcessor, "p", nil)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.inits.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
}

func TestConcurrentInstantiateWinnerFails(t *testing.T) {
	r := newTestRegistry()
	f := newMockFactory("p")
	f.delay = 20 * time.Millisecond
	f.failOnce.Store(true)
	_, err := r.Register(f.md, f.New)
	require.NoError(t, err)

	const callers = 8
	results := make([]api.Plugin, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Instantiate(context.Background(), api.CategoryDataProcessor, "p", nil)
		}(i)
	}
	wg.Wait()

	// 首个初始化失败后，下一个等待者自行重试并成功
	assert.Equal(t, int32(2), f.inits.Load())

	got, err := r.Get(api.CategoryDataProcessor, "p")
	require.NoError(t, err)

	failures := 0
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			assert.Same(t, errFirstInit, errs[i])
			failures++
			continue
		}
		assert.Same(t, got, results[i])
	}
	assert.Equal(t, 1, failures)
}

func TestKeyLocksReleased(t *testing.T) {
	r := newTestRegistry()
	for i := 0; i < 50; i++ {
		name := fmt.Sprintf("p%d", i)
		f := newMockFactory(name)
		_, err := r.Register(f.md, f.New)
		require.NoError(t, err)
		_, err = r.Instantiate(context.Background(), api.CategoryDataProcessor, name, nil)
		require.NoError(t, err)
		require.NoError(t, r.Retire(context.Background(), api.CategoryDataProcessor, name))
	}

	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	assert.Empty(t, r.keyLocks)
}

func TestListRegistrationOrder(t *testing.T) {
	r := newTestRegistry()
	for _, name := range []string{"c", "a", "b"} {
		f := newMockFactory(name)
		_, err := r.Register(f.md, f.New)
		require.NoError(t, err)
	}

	var names []string
	for _, md := range r.List(api.CategoryDataProcessor) {
		names = append(names, md.Name)
	}
	assert.Equal(t, []string{"c", "a", "b"}, names)
	assert.Empty(t, r.List(api.CategoryModel))
}

func TestRetire(t *testing.T) {
	r := newTestRegistry()
	f := newMockFactory("p")
	_, err := r.Register(f.md, f.New)
	require.NoError(t, err)
	_, err = r.Instantiate(context.Background(), api.CategoryDataProcessor, "p", nil)
	require.NoError(t, err)

	require.NoError(t, r.Retire(context.Background(), api.CategoryDataProcessor, "p"))
	assert.Equal(t, int32(1), f.shutdown.Load())

	_, err = r.Get(api.CategoryDataProcessor, "p")
	assert.ErrorIs(t, err, api.ErrPluginNotFound)
	_, err = r.Instantiate(context.Background(), api.CategoryDataProcessor, "p", nil)
	assert.ErrorIs(t, err, api.ErrPluginNotFound)
	assert.Empty(t, r.List(api.CategoryDataProcessor))

	// 重复注销返回 PluginNotFoundError
	err = r.Retire(context.Background(), api.CategoryDataProcessor, "p")
	assert.ErrorIs(t, err, api.ErrPluginNotFound)

	// 注销后可以重新注册
	_, err = r.Register(f.md, f.New)
	assert.NoError(t, err)
}

func TestReload(t *testing.T) {
	r := newTestRegistry()
	f := newMockFactory("p")
	_, err := r.Register(f.md, f.New)
	require.NoError(t, err)
	old, err := r.Instantiate(context.Background(), api.CategoryDataProcessor, "p", nil)
	require.NoError(t, err)

	fresh, err := r.Reload(context.Background(), api.CategoryDataProcessor, "p", api.PluginConfig{"threshold": 5})
	require.NoError(t, err)
	assert.NotSame(t, old, fresh)
	assert.Equal(t, int32(1), f.shutdown.Load())

	got, err := r.Get(api.CategoryDataProcessor, "p")
	require.NoError(t, err)
	assert.Same(t, fresh, got)
	assert.Equal(t, 5, got.(*mockProcessor).config["threshold"])

	// 重新加载失败时保留旧实例
	_, err = r.Reload(context.Background(), api.CategoryDataProcessor, "p", api.PluginConfig{"threshold": "x"})
	assert.ErrorIs(t, err, api.ErrConfigType)
	got, err = r.Get(api.CategoryDataProcessor, "p")
	require.NoError(t, err)
	assert.Same(t, fresh, got)

	_, err = r.Reload(context.Background(), api.CategoryModel, "p", nil)
	assert.ErrorIs(t, err, api.ErrPluginNotFound)
}

func TestShutdownRetiresAll(t *testing.T) {
	r := newTestRegistry()
	f1, f2 := newMockFactory("a"), newMockFactory("b")
	_, err := r.Register(f1.md, f1.New)
	require.NoError(t, err)
	_, err = r.Register(f2.md, f2.New)
	require.NoError(t, err)
	_, err = r.Instantiate(context.Background(), api.CategoryDataProcessor, "a", nil)
	require.NoError(t, err)

	r.Shutdown(context.Background())
	assert.Empty(t, r.Keys())
	assert.Equal(t, int32(1), f1.shutdown.Load())
	assert.Equal(t, int32(0), f2.shutdown.Load())
}

func TestWatch(t *testing.T) {
	r := newTestRegistry()
	events := make(chan Event, 8)
	w, err := r.Watch(func(e Event) { events <- e })
	require.NoError(t, err)

	f := newMockFactory("p")
	_, err = r.Register(f.md, f.New)
	require.NoError(t, err)

	select {
	case e := <-events:
		assert.Equal(t, EventRegistered, e.Type)
		assert.Equal(t, "p", e.Key.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("未收到注册事件")
	}

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	_, err = r.Instantiate(context.Background(), api.CategoryDataProcessor, "p", nil)
	require.NoError(t, err)

	select {
	case e := <-events:
		t.Fatalf("停止观察后仍收到事件: %v", e.Type)
	case <-time.After(100 * time.Millisecond):
	}

	_, err = r.Watch(nil)
	assert.Error(t, err)
}
