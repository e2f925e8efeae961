package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/lomehong/chatplot/pkg/plugin/api"
	"github.com/lomehong/chatplot/pkg/plugin/config"
)

// Key 注册表键
type Key struct {
	Category api.Category
	Name     string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Category, k.Name)
}

// entry 注册表条目
type entry struct {
	metadata      api.PluginMetadata
	factory       api.Factory
	state         api.PluginState
	instance      api.Plugin
	config        api.PluginConfig
	registeredAt  time.Time
	initializedAt time.Time
}

// Registry 插件注册表
// 以 (类别, 名称) 为键管理插件工厂与已初始化的实例
// 同一个键上的注册、实例化、重新加载与注销互斥，不同键之间互不阻塞
type Registry struct {
	// 插件条目
	entries map[Key]*entry

	// 注册顺序
	order []Key

	// 互斥锁
	mu sync.RWMutex

	// 键级互斥锁，只保留正在使用的键
	keyLocks map[Key]*keyLock

	// 键级互斥锁的互斥锁
	locksMu sync.Mutex

	// 日志记录器
	logger hclog.Logger

	// 事件处理器
	handlers map[uint64]EventHandler

	// 下一个事件处理器ID
	nextHandlerID uint64

	// 事件处理器互斥锁
	eventMu sync.RWMutex
}

// New 创建一个新的插件注册表
func New(logger hclog.Logger) *Registry {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &Registry{
		entries:  make(map[Key]*entry),
		keyLocks: make(map[Key]*keyLock),
		handlers: make(map[uint64]EventHandler),
		logger:   logger.Named("plugin-registry"),
	}
}

// keyLock 带引用计数的键级互斥锁
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// lockKey 获取键级互斥锁，返回的函数释放锁
// 最后一个持有者释放时删除该键的锁
func (r *Registry) lockKey(k Key) func() {
	r.locksMu.Lock()
	l, ok := r.keyLocks[k]
	if !ok {
		l = &keyLock{}
		r.keyLocks[k] = l
	}
	l.refs++
	r.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		r.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.keyLocks, k)
		}
		r.locksMu.Unlock()
	}
}

// lookup 查找条目
func (r *Registry) lookup(k Key) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[k]
	return e, ok
}

// Register 注册插件
// 通过工厂构造一个样本实例推断类别并核对元数据，样本实例不会被初始化
// 同一 (类别, 名称) 只能注册一次，先注册者生效
func (r *Registry) Register(metadata api.PluginMetadata, factory api.Factory) (Key, error) {
	if err := metadata.Validate(); err != nil {
		return Key{}, err
	}
	if factory == nil {
		return Key{}, &api.InvalidMetadataError{Plugin: metadata.Name, Reason: "插件工厂不能为空"}
	}

	sample := factory()
	if sample == nil {
		return Key{}, &api.InvalidMetadataError{Plugin: metadata.Name, Reason: "插件工厂返回了空实例"}
	}
	category, err := api.CategoryOf(sample)
	if err != nil {
		return Key{}, err
	}
	// 实例报告的元数据必须与注册的元数据一致
	if field := metadata.Mismatch(sample.Metadata()); field != "" {
		return Key{}, &api.InvalidMetadataError{
			Plugin: metadata.Name,
			Reason: fmt.Sprintf("注册的元数据字段 %s 与插件实例报告的不一致", field),
		}
	}

	k := Key{Category: category, Name: metadata.Name}
	unlock := r.lockKey(k)
	defer unlock()

	r.mu.Lock()
	if _, exists := r.entries[k]; exists {
		r.mu.Unlock()
		return k, &api.DuplicateRegistrationError{Category: category, Name: metadata.Name}
	}
	md := metadata.Clone()
	r.entries[k] = &entry{
		metadata:     md,
		factory:      factory,
		state:        api.PluginStateRegistered,
		registeredAt: time.Now(),
	}
	r.order = append(r.order, k)
	r.mu.Unlock()

	r.logger.Info("插件已注册", "category", category, "name", md.Name, "version", md.Version)
	r.publishEvent(EventRegistered, k, md)
	return k, nil
}

// RegisterFactory 使用插件自身声明的元数据注册插件
func (r *Registry) RegisterFactory(factory api.Factory) (Key, error) {
	if factory == nil {
		return Key{}, &api.InvalidMetadataError{Reason: "插件工厂不能为空"}
	}
	sample := factory()
	if sample == nil {
		return Key{}, &api.InvalidMetadataError{Reason: "插件工厂返回了空实例"}
	}
	return r.Register(sample.Metadata(), factory)
}

// Instantiate 实例化并初始化插件
// 已初始化时直接返回缓存的实例；初始化失败时条目保持已注册状态，可以重试
func (r *Registry) Instantiate(ctx context.Context, category api.Category, name string, overrides api.PluginConfig) (api.Plugin, error) {
	k := Key{Category: category, Name: name}
	unlock := r.lockKey(k)
	defer unlock()

	e, ok := r.lookup(k)
	if !ok {
		return nil, &api.PluginNotFoundError{Category: category, Name: name}
	}

	r.mu.RLock()
	state, instance := e.state, e.instance
	r.mu.RUnlock()
	if state == api.PluginStateInitialized {
		return instance, nil
	}

	instance, merged, err := r.build(ctx, e, overrides)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	e.instance = instance
	e.config = merged
	e.state = api.PluginStateInitialized
	e.initializedAt = time.Now()
	md := e.metadata
	r.mu.Unlock()

	r.logger.Info("插件已初始化", "category", category, "name", name)
	r.publishEvent(EventInitialized, k, md)
	return instance, nil
}

// build 合并配置、构造并初始化一个新实例
func (r *Registry) build(ctx context.Context, e *entry, overrides api.PluginConfig) (api.Plugin, api.PluginConfig, error) {
	schema := e.metadata.ConfigSchema
	merged, err := config.Merge(config.Defaults(schema), overrides, schema)
	if err != nil {
		r.logger.Warn("插件配置校验失败", "name", e.metadata.Name, "error", err)
		return nil, nil, err
	}

	instance := e.factory()
	if instance == nil {
		return nil, nil, &api.InvalidMetadataError{Plugin: e.metadata.Name, Reason: "插件工厂返回了空实例"}
	}

	if err := instance.Initialize(ctx, merged.Clone()); err != nil {
		r.logger.Error("插件初始化失败", "name", e.metadata.Name, "error", err)
		return nil, nil, err
	}
	return instance, merged, nil
}

// Get 获取已初始化的插件实例
func (r *Registry) Get(category api.Category, name string) (api.Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[Key{Category: category, Name: name}]
	if !ok {
		return nil, &api.PluginNotFoundError{Category: category, Name: name}
	}
	if e.state != api.PluginStateInitialized {
		return nil, &api.PluginNotReadyError{Category: category, Name: name}
	}
	return e.instance, nil
}

// List 按注册顺序列出类别下的插件元数据
func (r *Registry) List(category api.Category) []api.PluginMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plugins := make([]api.PluginMetadata, 0)
	for _, k := range r.order {
		if k.Category != category {
			continue
		}
		plugins = append(plugins, r.entries[k].metadata.Clone())
	}
	return plugins
}

// Keys 按注册顺序列出所有键
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Key(nil), r.order...)
}

// Status 获取插件状态
func (r *Registry) Status(category api.Category, name string) (api.PluginStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[Key{Category: category, Name: name}]
	if !ok {
		return api.PluginStatus{}, &api.PluginNotFoundError{Category: category, Name: name}
	}
	return api.PluginStatus{
		Category:      category,
		Name:          name,
		State:         e.state,
		Config:        e.config.Clone(),
		RegisteredAt:  e.registeredAt,
		InitializedAt: e.initializedAt,
		Metadata:      e.metadata.Clone(),
	}, nil
}

// Retire 注销插件
// 删除条目与缓存的实例，之后的查找返回 PluginNotFoundError
func (r *Registry) Retire(ctx context.Context, category api.Category, name string) error {
	k := Key{Category: category, Name: name}
	unlock := r.lockKey(k)
	defer unlock()

	r.mu.Lock()
	e, ok := r.entries[k]
	if !ok {
		r.mu.Unlock()
		return &api.PluginNotFoundError{Category: category, Name: name}
	}
	delete(r.entries, k)
	for i, key := range r.order {
		if key == k {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	instance, md := e.instance, e.metadata
	e.state = api.PluginStateRetired
	r.mu.Unlock()

	r.shutdown(ctx, k, instance)
	r.logger.Info("插件已注销", "category", category, "name", name)
	r.publishEvent(EventRetired, k, md)
	return nil
}

// Reload 使用新的覆盖配置重新初始化插件
// 新实例初始化成功后才替换旧实例；失败时旧实例保持可用
func (r *Registry) Reload(ctx context.Context, category api.Category, name string, overrides api.PluginConfig) (api.Plugin, error) {
	k := Key{Category: category, Name: name}
	unlock := r.lockKey(k)
	defer unlock()

	e, ok := r.lookup(k)
	if !ok {
		return nil, &api.PluginNotFoundError{Category: category, Name: name}
	}

	instance, merged, err := r.build(ctx, e, overrides)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	old := e.instance
	e.instance = instance
	e.config = merged
	e.state = api.PluginStateInitialized
	e.initializedAt = time.Now()
	md := e.metadata
	r.mu.Unlock()

	r.shutdown(ctx, k, old)
	r.logger.Info("插件已重新加载", "category", category, "name", name)
	r.publishEvent(EventReloaded, k, md)
	return instance, nil
}

// Shutdown 按注册的逆序注销所有插件
func (r *Registry) Shutdown(ctx context.Context) {
	keys := r.Keys()
	for i := len(keys) - 1; i >= 0; i-- {
		if err := r.Retire(ctx, keys[i].Category, keys[i].Name); err != nil {
			r.logger.Debug("注销插件失败", "key", keys[i], "error", err)
		}
	}
}

// shutdown 关闭插件实例
func (r *Registry) shutdown(ctx context.Context, k Key, instance api.Plugin) {
	if instance == nil {
		return
	}
	s, ok := instance.(api.Shutdowner)
	if !ok {
		return
	}
	if err := s.Shutdown(ctx); err != nil {
		r.logger.Warn("关闭插件失败", "key", k, "error", err)
	}
}
