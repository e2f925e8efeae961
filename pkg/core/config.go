package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lomehong/chatplot/pkg/ingest"
	"github.com/lomehong/chatplot/pkg/logging"
	"github.com/lomehong/chatplot/pkg/webconsole"
	"github.com/spf13/viper"
)

// 配置文件与环境变量
const (
	ConfigName = "chatplot"
	EnvPrefix  = "CHATPLOT"
)

// PluginsConfig 插件相关配置
type PluginsConfig struct {
	// 插件描述文件目录，目录下每个插件一个 config.yaml
	Dir string `mapstructure:"dir"`

	// 插件覆盖配置文件
	OverridesFile string `mapstructure:"overrides_file"`

	// 覆盖配置文件变化时是否自动重新加载插件
	WatchOverrides bool `mapstructure:"watch_overrides"`

	// 每个插件每秒允许的分发次数，<=0 表示不限
	RateLimit float64 `mapstructure:"rate_limit"`

	// 分发限流突发量
	RateBurst int `mapstructure:"rate_burst"`
}

// AppConfig 应用程序配置
type AppConfig struct {
	// 日志配置
	Log logging.LogConfig `mapstructure:"log"`

	// 插件配置
	Plugins PluginsConfig `mapstructure:"plugins"`

	// 上传限制
	Ingest ingest.Limits `mapstructure:"ingest"`

	// 是否启用Web控制台
	EnableWebConsole bool `mapstructure:"enable_web_console"`

	// Web控制台配置
	WebConsole webconsole.Config `mapstructure:"web_console"`
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	log := logging.DefaultLogConfig()
	v.SetDefault("log.level", string(log.Level))
	v.SetDefault("log.format", string(log.Format))
	v.SetDefault("log.output", string(log.Output))
	v.SetDefault("log.file_path", log.FilePath)
	v.SetDefault("log.max_size", log.MaxSize)
	v.SetDefault("log.max_age", log.MaxAge)
	v.SetDefault("log.max_backups", log.MaxBackups)
	v.SetDefault("log.include_location", log.IncludeLocation)
	v.SetDefault("log.time_format", log.TimeFormat)

	v.SetDefault("plugins.dir", "plugins")
	v.SetDefault("plugins.overrides_file", "plugins.yaml")
	v.SetDefault("plugins.watch_overrides", true)
	v.SetDefault("plugins.rate_limit", 0)
	v.SetDefault("plugins.rate_burst", 1)

	limits := ingest.DefaultLimits()
	v.SetDefault("ingest.max_size", limits.MaxSize)
	v.SetDefault("ingest.extensions", limits.Extensions)

	web := webconsole.DefaultConfig()
	v.SetDefault("enable_web_console", true)
	v.SetDefault("web_console.host", web.Host)
	v.SetDefault("web_console.port", web.Port)
	v.SetDefault("web_console.api_prefix", web.APIPrefix)
	v.SetDefault("web_console.allow_origins", web.AllowOrigins)
	v.SetDefault("web_console.rate_limit", web.RateLimit)
	v.SetDefault("web_console.rate_burst", web.RateBurst)
	v.SetDefault("web_console.read_timeout", web.ReadTimeout)
	v.SetDefault("web_console.write_timeout", web.WriteTimeout)
	v.SetDefault("web_console.max_message_size", web.MaxMessageSize)
	v.SetDefault("web_console.shutdown_timeout", web.ShutdownTimeout)
	v.SetDefault("web_console.debug", web.Debug)
	v.SetDefault("web_console.health.cpu_threshold", web.Health.CPUThreshold)
	v.SetDefault("web_console.health.memory_threshold", web.Health.MemoryThreshold)
	v.SetDefault("web_console.health.disk_threshold", web.Health.DiskThreshold)
	v.SetDefault("web_console.health.disk_path", web.Health.DiskPath)
}

// NewViper 创建带默认值与环境变量绑定的 viper 实例
// 环境变量以 CHATPLOT_ 为前缀，层级以下划线分隔，如 CHATPLOT_WEB_CONSOLE_PORT
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig 读取应用程序配置
// configFile 为空时在当前目录查找 chatplot.yaml，找不到时使用默认值
func LoadConfig(v *viper.Viper, configFile string) (*AppConfig, error) {
	if v == nil {
		v = NewViper()
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("无法读取配置文件: %w", err)
		}
	}

	var config AppConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate 验证配置
func (c *AppConfig) Validate() error {
	if c.EnableWebConsole {
		if err := c.WebConsole.Validate(); err != nil {
			return fmt.Errorf("无效的Web控制台配置: %w", err)
		}
	}
	if c.Ingest.MaxSize <= 0 {
		return fmt.Errorf("上传大小限制必须大于0")
	}
	if c.Plugins.RateLimit < 0 {
		return fmt.Errorf("插件限流不能为负数")
	}
	return nil
}
