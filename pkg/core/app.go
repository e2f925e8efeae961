// Package core 读取应用程序配置并组装插件注册表、分发器、Web控制台与MCP服务器
package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/lomehong/chatplot/pkg/ingest"
	"github.com/lomehong/chatplot/pkg/logging"
	"github.com/lomehong/chatplot/pkg/mcpserver"
	"github.com/lomehong/chatplot/pkg/plugin/api"
	"github.com/lomehong/chatplot/pkg/plugin/config"
	"github.com/lomehong/chatplot/pkg/plugin/discovery"
	"github.com/lomehong/chatplot/pkg/plugin/dispatch"
	"github.com/lomehong/chatplot/pkg/plugin/registry"
	"github.com/lomehong/chatplot/pkg/webconsole"
)

// AppOption 应用程序选项
type AppOption func(*App)

// WithCatalog 设置插件工厂表
func WithCatalog(catalog []api.Factory) AppOption {
	return func(app *App) {
		app.catalog = catalog
	}
}

// WithAppLogger 使用已有的日志记录器，不再按配置创建
func WithAppLogger(logger *logging.Logger) AppOption {
	return func(app *App) {
		app.logging = logger
	}
}

// WithVersion 设置版本号
func WithVersion(version string) AppOption {
	return func(app *App) {
		app.version = version
	}
}

// App 应用程序
type App struct {
	config  *AppConfig
	catalog []api.Factory
	version string

	// 日志
	logging *logging.Logger
	logger  hclog.Logger

	// 插件
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	loader     *discovery.Loader
	reader     *ingest.Reader

	// 外部接口
	console   *webconsole.Console
	mcpServer *mcpserver.Server

	// 监视
	overridesWatcher *config.Watcher
	registryWatcher  *registry.Watcher

	startTime time.Time
	running   bool
	mu        sync.Mutex
}

// NewApp 创建应用程序
func NewApp(cfg *AppConfig, opts ...AppOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}

	app := &App{
		config:  cfg,
		version: "dev",
	}
	for _, opt := range opts {
		opt(app)
	}

	if app.logging == nil {
		l, err := logging.New("chatplot", &cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("创建日志记录器失败: %w", err)
		}
		app.logging = l
	}
	app.logger = app.logging.HCLogger()

	app.registry = registry.New(app.logger)
	app.dispatcher = dispatch.New(app.registry, app.logger,
		dispatch.WithRateLimit(cfg.Plugins.RateLimit, cfg.Plugins.RateBurst))
	app.reader = ingest.NewReader(cfg.Ingest, app.logger)

	loaderOpts := []discovery.LoaderOption{discovery.WithLoaderLogger(app.logger)}
	if cfg.Plugins.Dir != "" {
		loaderOpts = append(loaderOpts, discovery.WithDiscoverer(
			discovery.NewFileSystemDiscoverer([]string{cfg.Plugins.Dir}, discovery.WithLogger(app.logger))))
	}
	app.loader = discovery.NewLoader(app.registry, app.catalog, loaderOpts...)

	return app, nil
}

// consoleConfig 日志写入文件时同时检查日志目录可写
func (app *App) consoleConfig() webconsole.Config {
	config := app.config.WebConsole
	if app.config.Log.Output == logging.LogOutputFile && app.config.Log.FilePath != "" {
		dirs := append([]string(nil), config.Health.Directories...)
		config.Health.Directories = append(dirs, filepath.Dir(app.config.Log.FilePath))
	}
	return config
}

// Init 初始化应用程序：加载插件并创建Web控制台
// 单个插件加载失败只记录日志，不影响初始化
func (app *App) Init(ctx context.Context) error {
	app.logger.Info("初始化应用程序", "version", app.version)

	watcher, err := app.registry.Watch(app.recordEvent)
	if err != nil {
		return fmt.Errorf("监听注册表失败: %w", err)
	}
	app.registryWatcher = watcher

	overrides, err := config.LoadOverrides(app.config.Plugins.OverridesFile)
	if err != nil {
		return fmt.Errorf("加载插件配置失败: %w", err)
	}
	report, err := app.loader.Load(ctx, overrides)
	if err != nil {
		return fmt.Errorf("加载插件失败: %w", err)
	}
	for k, loadErr := range report.Failed {
		app.logger.Warn("插件不可用", "key", k, "kind", api.KindOf(loadErr), "error", loadErr)
	}

	if app.config.EnableWebConsole {
		console, err := webconsole.NewConsole(app.consoleConfig(), app.registry, app.dispatcher,
			webconsole.WithLogger(app.logger),
			webconsole.WithAccessLogger(app.logging.ZeroLogger()),
			webconsole.WithReader(app.reader))
		if err != nil {
			return fmt.Errorf("创建Web控制台失败: %w", err)
		}
		if err := console.Init(); err != nil {
			return fmt.Errorf("初始化Web控制台失败: %w", err)
		}
		app.console = console
	}

	app.logger.Info("应用程序初始化完成", "plugins", len(app.registry.Keys()))
	return nil
}

// recordEvent 将注册表事件写入事件日志
func (app *App) recordEvent(event registry.Event) {
	app.logging.ZeroLogger().Info().
		Str("event", string(event.Type)).
		Str("category", string(event.Key.Category)).
		Str("plugin", event.Key.Name).
		Str("version", event.Metadata.Version).
		Time("at", event.Timestamp).
		Msg("插件事件")
}

// Start 启动Web控制台与覆盖配置监视
func (app *App) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.running {
		return fmt.Errorf("应用程序已启动")
	}

	if app.console != nil {
		if err := app.console.Start(); err != nil {
			return fmt.Errorf("启动Web控制台失败: %w", err)
		}
	}

	if app.config.Plugins.WatchOverrides && app.config.Plugins.OverridesFile != "" {
		if err := app.watchOverrides(ctx); err != nil {
			// 监视失败不影响服务
			app.logger.Warn("无法监视插件配置文件", "path", app.config.Plugins.OverridesFile, "error", err)
		}
	}

	app.running = true
	app.startTime = time.Now()
	app.logger.Info("应用程序已启动")
	return nil
}

// watchOverrides 覆盖配置文件变化时重新应用插件配置
func (app *App) watchOverrides(ctx context.Context) error {
	if _, err := os.Stat(app.config.Plugins.OverridesFile); err != nil {
		return err
	}
	w, err := config.NewWatcher(app.config.Plugins.OverridesFile, func(overrides *config.Overrides) {
		report, err := app.loader.Apply(ctx, overrides)
		if err != nil {
			app.logger.Error("应用插件配置失败", "error", err)
			return
		}
		app.logger.Info("插件配置已重新应用",
			"applied", len(report.Instantiated),
			"disabled", len(report.Disabled),
			"failed", len(report.Failed))
	}, app.logger)
	if err != nil {
		return err
	}
	app.overridesWatcher = w
	return nil
}

// Stop 停止应用程序并关闭所有插件
func (app *App) Stop(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	var stopErr error
	if app.overridesWatcher != nil {
		app.overridesWatcher.Close()
		app.overridesWatcher = nil
	}
	if app.console != nil {
		if err := app.console.Stop(ctx); err != nil {
			app.logger.Error("停止Web控制台失败", "error", err)
			stopErr = err
		}
	}

	app.registry.Shutdown(ctx)
	if app.registryWatcher != nil {
		app.registryWatcher.Stop()
		app.registryWatcher = nil
	}

	if app.running {
		app.logger.Info("应用程序已停止", "uptime", time.Since(app.startTime).Round(time.Second))
	}
	app.running = false
	return stopErr
}

// Close 释放日志等资源
func (app *App) Close() error {
	return app.logging.Close()
}

// MCPServer 返回MCP服务器，首次调用时创建
func (app *App) MCPServer() (*mcpserver.Server, error) {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.mcpServer == nil {
		s, err := mcpserver.New("chatplot", app.version, app.registry, app.dispatcher, app.logger)
		if err != nil {
			return nil, err
		}
		app.mcpServer = s
	}
	return app.mcpServer, nil
}

// Registry 返回插件注册表
func (app *App) Registry() *registry.Registry {
	return app.registry
}

// Dispatcher 返回插件分发器
func (app *App) Dispatcher() *dispatch.Dispatcher {
	return app.dispatcher
}

// Reader 返回数据读取器
func (app *App) Reader() *ingest.Reader {
	return app.reader
}

// Console 返回Web控制台，未启用时为 nil
func (app *App) Console() *webconsole.Console {
	return app.console
}

// Logger 返回组件日志
func (app *App) Logger() hclog.Logger {
	return app.logger
}

// Version 返回版本号
func (app *App) Version() string {
	return app.version
}
