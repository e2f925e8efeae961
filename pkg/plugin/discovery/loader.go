// Package discovery 注册内置插件工厂表，并根据插件目录中的描述文件与覆盖配置实例化插件
package discovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/lomehong/chatplot/pkg/plugin/api"
	"github.com/lomehong/chatplot/pkg/plugin/config"
	"github.com/lomehong/chatplot/pkg/plugin/registry"
)

// Report 加载结果
type Report struct {
	// 新注册的插件
	Registered []registry.Key

	// 已实例化的插件
	Instantiated []registry.Key

	// 被禁用的插件
	Disabled []registry.Key

	// 实例化失败的插件
	Failed map[registry.Key]error
}

// Loader 插件加载器
type Loader struct {
	registry   *registry.Registry
	catalog    []api.Factory
	discoverer *FileSystemDiscoverer
	logger     hclog.Logger
}

// LoaderOption 插件加载器选项
type LoaderOption func(*Loader)

// WithDiscoverer 设置插件描述文件发现器
func WithDiscoverer(d *FileSystemDiscoverer) LoaderOption {
	return func(l *Loader) {
		l.discoverer = d
	}
}

// WithLoaderLogger 设置日志记录器
func WithLoaderLogger(logger hclog.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger.Named("plugin-loader")
		}
	}
}

// NewLoader 创建插件加载器
// catalog 为编译进程序的插件工厂表
func NewLoader(reg *registry.Registry, catalog []api.Factory, options ...LoaderOption) *Loader {
	l := &Loader{
		registry: reg,
		catalog:  catalog,
		logger:   hclog.NewNullLogger(),
	}
	for _, option := range options {
		option(l)
	}
	return l
}

// RegisterAll 注册工厂表中的所有插件
// 已注册的插件被跳过，其他错误合并返回
func (l *Loader) RegisterAll() ([]registry.Key, error) {
	var (
		keys []registry.Key
		errs []error
	)
	for _, factory := range l.catalog {
		k, err := l.registry.RegisterFactory(factory)
		if err != nil {
			if errors.Is(err, api.ErrDuplicateRegistration) {
				l.logger.Debug("插件已注册，跳过", "key", k)
				continue
			}
			errs = append(errs, err)
			continue
		}
		keys = append(keys, k)
	}
	return keys, errors.Join(errs...)
}

// Load 注册工厂表并实例化所有启用的插件
// 描述文件中的配置先于覆盖配置文件合并，覆盖配置文件优先
// 单个插件实例化失败不会中止加载，失败记录在 Report.Failed 中
func (l *Loader) Load(ctx context.Context, overrides *config.Overrides) (*Report, error) {
	registered, err := l.RegisterAll()
	if err != nil {
		return nil, fmt.Errorf("注册内置插件失败: %w", err)
	}

	descriptors, err := l.descriptors(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Registered: registered,
		Failed:     make(map[registry.Key]error),
	}
	for _, k := range l.registry.Keys() {
		cfg, enabled := resolve(k, descriptors, overrides)
		if !enabled {
			l.logger.Info("插件已禁用", "key", k)
			report.Disabled = append(report.Disabled, k)
			continue
		}

		if _, err := l.registry.Instantiate(ctx, k.Category, k.Name, cfg); err != nil {
			l.logger.Error("实例化插件失败", "key", k, "error", err)
			report.Failed[k] = err
			continue
		}
		report.Instantiated = append(report.Instantiated, k)
	}

	l.logger.Info("插件加载完成",
		"registered", len(report.Registered),
		"instantiated", len(report.Instantiated),
		"disabled", len(report.Disabled),
		"failed", len(report.Failed))
	return report, nil
}

// Apply 应用新的覆盖配置
// 已初始化的启用插件重新加载，未初始化的启用插件被实例化，禁用的插件保持不变
func (l *Loader) Apply(ctx context.Context, overrides *config.Overrides) (*Report, error) {
	descriptors, err := l.descriptors(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{Failed: make(map[registry.Key]error)}
	for _, k := range l.registry.Keys() {
		cfg, enabled := resolve(k, descriptors, overrides)
		if !enabled {
			report.Disabled = append(report.Disabled, k)
			continue
		}

		status, err := l.registry.Status(k.Category, k.Name)
		if err != nil {
			// 期间被注销
			continue
		}
		if status.State == api.PluginStateInitialized {
			_, err = l.registry.Reload(ctx, k.Category, k.Name, cfg)
		} else {
			_, err = l.registry.Instantiate(ctx, k.Category, k.Name, cfg)
		}
		if err != nil {
			l.logger.Error("应用插件配置失败", "key", k, "error", err)
			report.Failed[k] = err
			continue
		}
		report.Instantiated = append(report.Instantiated, k)
	}
	return report, nil
}

// descriptors 发现描述文件并按键索引
func (l *Loader) descriptors(ctx context.Context) (map[registry.Key]Descriptor, error) {
	index := make(map[registry.Key]Descriptor)
	if l.discoverer == nil {
		return index, nil
	}

	found, err := l.discoverer.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("发现插件失败: %w", err)
	}
	for _, d := range found {
		k := registry.Key{Category: d.Category, Name: d.Name}
		if prev, ok := index[k]; ok {
			l.logger.Warn("插件描述文件重复，使用先发现的文件", "key", k, "used", prev.Path, "ignored", d.Path)
			continue
		}
		index[k] = d
	}
	return index, nil
}

// resolve 计算插件的覆盖配置与启用状态
func resolve(k registry.Key, descriptors map[registry.Key]Descriptor, overrides *config.Overrides) (api.PluginConfig, bool) {
	cfg := api.PluginConfig{}
	enabled := true
	if d, ok := descriptors[k]; ok {
		for key, v := range d.Config {
			cfg[key] = v
		}
		enabled = d.IsEnabled()
	}

	fileCfg, fileEnabled := overrides.Lookup(k.Category, k.Name)
	for key, v := range fileCfg {
		cfg[key] = v
	}
	return cfg, enabled && fileEnabled
}
