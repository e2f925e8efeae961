package webconsole

import (
	"fmt"
	"time"

	"github.com/lomehong/chatplot/pkg/health"
)

// Config 定义Web控制台配置
type Config struct {
	// 监听地址
	Host string `mapstructure:"host"`

	// 监听端口
	Port int `mapstructure:"port"`

	// API前缀
	APIPrefix string `mapstructure:"api_prefix"`

	// 跨域允许的来源，包含 "*" 时允许任意来源
	AllowOrigins []string `mapstructure:"allow_origins"`

	// 每个客户端每秒允许的请求数，<=0 表示不限
	RateLimit float64 `mapstructure:"rate_limit"`

	// 限流突发量
	RateBurst int `mapstructure:"rate_burst"`

	// WebSocket 等待客户端消息（含 pong）的超时时间
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WebSocket 写超时
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// WebSocket 单条消息最大字节数
	MaxMessageSize int64 `mapstructure:"max_message_size"`

	// 关闭超时
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// 是否输出调试信息
	Debug bool `mapstructure:"debug"`

	// 系统资源健康检查
	Health health.Config `mapstructure:"health"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8000,
		APIPrefix:       "/api",
		AllowOrigins:    []string{"*"},
		RateLimit:       20,
		RateBurst:       40,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		MaxMessageSize:  10 << 20,
		ShutdownTimeout: 5 * time.Second,
		Health:          health.DefaultConfig(),
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("无效的端口号: %d", c.Port)
	}
	if c.APIPrefix == "" || c.APIPrefix[0] != '/' {
		return fmt.Errorf("API前缀必须以 / 开头: %q", c.APIPrefix)
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket 读写超时必须大于0")
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("WebSocket 消息大小限制必须大于0")
	}
	return nil
}

// GetAddress 获取监听地址
func (c *Config) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
