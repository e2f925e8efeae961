// Package webconsole 提供插件管理的HTTP接口与聊天会话的WebSocket接口
package webconsole

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/lomehong/chatplot/pkg/health"
	"github.com/lomehong/chatplot/pkg/ingest"
	"github.com/lomehong/chatplot/pkg/logging"
	"github.com/lomehong/chatplot/pkg/plugin/api"
	"github.com/lomehong/chatplot/pkg/plugin/dispatch"
	"github.com/lomehong/chatplot/pkg/plugin/registry"
	"github.com/rs/zerolog"
)

// Option Web控制台选项
type Option func(*Console)

// WithLogger 设置组件日志
func WithLogger(logger hclog.Logger) Option {
	return func(c *Console) {
		if logger != nil {
			c.logger = logger.Named("web-console")
		}
	}
}

// WithAccessLogger 设置访问日志，未设置时不记录访问日志
func WithAccessLogger(logger *zerolog.Logger) Option {
	return func(c *Console) {
		c.accessLogger = logger
	}
}

// WithReader 设置上传数据的读取器
func WithReader(reader *ingest.Reader) Option {
	return func(c *Console) {
		if reader != nil {
			c.reader = reader
		}
	}
}

// WithHealth 使用自定义的健康检查注册表
func WithHealth(checks *health.Registry) Option {
	return func(c *Console) {
		c.health = checks
	}
}

// 默认健康检查阈值
const (
	dispatchFailureThreshold = 0.5
	dispatchMinSamples       = 20
	goroutineThreshold       = 10000
)

// Console 定义Web控制台
type Console struct {
	// 配置
	config Config

	// 插件注册表
	registry *registry.Registry

	// 插件分发器
	dispatcher *dispatch.Dispatcher

	// 上传数据读取器
	reader *ingest.Reader

	// 聊天会话
	sessions *sessionHub

	// 健康检查
	health *health.Registry

	// HTTP服务器
	server *http.Server

	// Gin引擎
	engine *gin.Engine

	// 日志
	logger       hclog.Logger
	accessLogger *zerolog.Logger

	// 互斥锁
	mu sync.RWMutex

	initialized bool
	started     bool
	addr        string
}

// NewConsole 创建一个新的Web控制台
func NewConsole(config Config, reg *registry.Registry, dispatcher *dispatch.Dispatcher, opts ...Option) (*Console, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("无效的Web控制台配置: %w", err)
	}
	if reg == nil || dispatcher == nil {
		return nil, fmt.Errorf("Web控制台需要插件注册表与分发器")
	}

	if config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	c := &Console{
		config:     config,
		registry:   reg,
		dispatcher: dispatcher,
		engine:     gin.New(),
		logger:     hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.reader == nil {
		c.reader = ingest.NewReader(ingest.DefaultLimits(), c.logger)
	}
	c.sessions = newSessionHub(c.logger)
	if c.health == nil {
		c.health = c.defaultHealth()
	}

	return c, nil
}

// defaultHealth 检查插件就绪情况、分发失败率、Goroutine数量与系统资源
func (c *Console) defaultHealth() *health.Registry {
	checks := health.NewRegistry(c.logger)
	checks.Register(health.NewPluginsChecker(health.StatusListerFunc(func() []api.PluginStatus {
		return c.statuses("")
	})))
	checks.Register(health.NewDispatchChecker(c.dispatcher.Stats, dispatchFailureThreshold, dispatchMinSamples))
	checks.Register(health.NewGoroutineChecker(goroutineThreshold))
	for _, checker := range c.config.Health.Checkers() {
		checks.Register(checker)
	}
	return checks
}

// Init 初始化Web控制台
func (c *Console) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return fmt.Errorf("Web控制台已初始化")
	}

	c.setupMiddleware()
	c.setupRoutes()

	c.server = &http.Server{
		Addr:    c.config.GetAddress(),
		Handler: c.engine,
	}

	c.initialized = true
	c.logger.Debug("Web控制台初始化完成", "routes", len(c.engine.Routes()))
	return nil
}

// Handler 返回HTTP处理器
func (c *Console) Handler() http.Handler {
	return c.engine
}

// Start 启动Web控制台
func (c *Console) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return fmt.Errorf("Web控制台未初始化")
	}
	if c.started {
		return fmt.Errorf("Web控制台已启动")
	}

	listener, err := net.Listen("tcp", c.server.Addr)
	if err != nil {
		return fmt.Errorf("监听 %s 失败: %w", c.server.Addr, err)
	}

	go func() {
		if err := c.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			c.logger.Error("Web控制台运行失败", "error", err)
		}
	}()

	c.started = true
	c.addr = listener.Addr().String()
	c.logger.Info("Web控制台已启动", "address", c.addr)
	return nil
}

// Addr 返回实际监听地址，未启动时为空
func (c *Console) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.addr
}

// Stop 停止Web控制台并关闭所有聊天会话
func (c *Console) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, c.config.ShutdownTimeout)
	defer cancel()

	c.sessions.closeAll()
	if err := c.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("Web控制台关闭失败: %w", err)
	}

	c.started = false
	c.addr = ""
	c.logger.Info("Web控制台已停止")
	return nil
}

// setupMiddleware 设置中间件
func (c *Console) setupMiddleware() {
	if c.accessLogger != nil {
		c.engine.Use(logging.AccessLog(c.accessLogger))
	}
	c.engine.Use(gin.Recovery())
	c.engine.Use(c.corsMiddleware())
	c.engine.Use(c.rateLimitMiddleware())
}

// setupRoutes 设置路由
func (c *Console) setupRoutes() {
	api := c.engine.Group(c.config.APIPrefix)
	{
		api.GET("/ping", c.ping)
		api.GET("/stats", c.getStats)
		api.GET("/health", c.getHealth)

		plugins := api.Group("/plugins")
		{
			plugins.GET("", c.listPlugins)
			plugins.GET("/:category", c.listCategory)
			plugins.GET("/:category/:name", c.getPlugin)
			plugins.POST("/:category/:name/:operation", c.postOperation)
			plugins.DELETE("/:category/:name", c.retirePlugin)
		}
	}

	c.engine.GET("/ws/:client_id", c.serveSession)

	c.engine.NoRoute(func(ctx *gin.Context) {
		ctx.JSON(http.StatusNotFound, gin.H{
			"error": "接口不存在",
			"path":  ctx.Request.URL.Path,
		})
	})
}
