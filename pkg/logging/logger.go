package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/rs/zerolog"
)

// LogLevel 日志级别
type LogLevel string

// 预定义日志级别
const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ParseLevel 解析日志级别，无法识别时返回 info
func ParseLevel(s string) LogLevel {
	switch l := LogLevel(strings.ToLower(strings.TrimSpace(s))); l {
	case LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return l
	}
	return LogLevelInfo
}

// LogFormat 日志格式
type LogFormat string

// 预定义日志格式
const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// LogOutput 日志输出
type LogOutput string

// 预定义日志输出
const (
	LogOutputStdout LogOutput = "stdout"
	LogOutputStderr LogOutput = "stderr"
	LogOutputFile   LogOutput = "file"
)

// LogConfig 日志配置
type LogConfig struct {
	Level           LogLevel      `mapstructure:"level"`            // 日志级别
	Format          LogFormat     `mapstructure:"format"`           // 日志格式
	Output          LogOutput     `mapstructure:"output"`           // 日志输出
	FilePath        string        `mapstructure:"file_path"`        // 日志文件路径
	MaxSize         int64         `mapstructure:"max_size"`         // 日志文件最大大小（字节）
	MaxAge          time.Duration `mapstructure:"max_age"`          // 日志文件最大保留时间
	MaxBackups      int           `mapstructure:"max_backups"`      // 日志文件最大备份数量
	IncludeLocation bool          `mapstructure:"include_location"` // 是否包含代码位置
	TimeFormat      string        `mapstructure:"time_format"`      // 时间格式
}

// DefaultLogConfig 默认日志配置
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:      LogLevelInfo,
		Format:     LogFormatText,
		Output:     LogOutputStderr,
		FilePath:   "logs/chatplot.log",
		MaxSize:    100 * 1024 * 1024,  // 100MB
		MaxAge:     7 * 24 * time.Hour, // 7天
		MaxBackups: 10,
		TimeFormat: time.RFC3339,
	}
}

// Logger 应用日志记录器
// 组件使用 hclog 记录器，HTTP 访问日志与会话事件使用 zerolog 记录器，二者写入同一输出
type Logger struct {
	hcLogger   hclog.Logger
	zeroLogger zerolog.Logger
	config     LogConfig
	rotator    *LogRotator
	mu         sync.RWMutex
}

// New 创建日志记录器
func New(name string, config *LogConfig) (*Logger, error) {
	if config == nil {
		config = DefaultLogConfig()
	}
	cfg := *config
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}

	writer, rotator, err := createLogWriter(&cfg)
	if err != nil {
		return nil, fmt.Errorf("创建日志输出失败: %w", err)
	}
	return newLogger(name, &cfg, writer, rotator), nil
}

// NewWithWriter 创建写入指定输出的日志记录器
func NewWithWriter(name string, config *LogConfig, w io.Writer) *Logger {
	if config == nil {
		config = DefaultLogConfig()
	}
	cfg := *config
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}
	return newLogger(name, &cfg, w, nil)
}

func newLogger(name string, cfg *LogConfig, writer io.Writer, rotator *LogRotator) *Logger {
	hcLogger := hclog.New(&hclog.LoggerOptions{
		Name:            name,
		Level:           getHCLogLevel(cfg.Level),
		Output:          writer,
		JSONFormat:      cfg.Format == LogFormatJSON,
		IncludeLocation: cfg.IncludeLocation,
		TimeFormat:      cfg.TimeFormat,
	})

	var zeroWriter io.Writer = writer
	if cfg.Format == LogFormatText {
		zeroWriter = zerolog.ConsoleWriter{Out: writer, TimeFormat: cfg.TimeFormat, NoColor: true}
	}
	zeroLogger := zerolog.New(zeroWriter).
		Level(getZeroLogLevel(cfg.Level)).
		With().Timestamp().Str("name", name).Logger()

	return &Logger{
		hcLogger:   hcLogger,
		zeroLogger: zeroLogger,
		config:     *cfg,
		rotator:    rotator,
	}
}

// createLogWriter 创建日志输出
func createLogWriter(config *LogConfig) (io.Writer, *LogRotator, error) {
	switch config.Output {
	case LogOutputStdout:
		return os.Stdout, nil, nil
	case LogOutputStderr, "":
		return os.Stderr, nil, nil
	case LogOutputFile:
		rotator, err := NewLogRotator(config.FilePath, config.MaxSize, config.MaxBackups, config.MaxAge)
		if err != nil {
			return nil, nil, err
		}
		return rotator, rotator, nil
	default:
		return nil, nil, fmt.Errorf("不支持的日志输出: %s", config.Output)
	}
}

// getZeroLogLevel 获取zerolog日志级别
func getZeroLogLevel(level LogLevel) zerolog.Level {
	switch level {
	case LogLevelTrace:
		return zerolog.TraceLevel
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// getHCLogLevel 获取hclog日志级别
func getHCLogLevel(level LogLevel) hclog.Level {
	switch level {
	case LogLevelTrace:
		return hclog.Trace
	case LogLevelDebug:
		return hclog.Debug
	case LogLevelWarn:
		return hclog.Warn
	case LogLevelError:
		return hclog.Error
	default:
		return hclog.Info
	}
}

// HCLogger 获取hclog日志记录器
func (l *Logger) HCLogger() hclog.Logger {
	return l.hcLogger
}

// ZeroLogger 获取zerolog日志记录器
func (l *Logger) ZeroLogger() *zerolog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	zl := l.zeroLogger
	return &zl
}

// SetLevel 设置日志级别，已派生的 hclog 子记录器同时生效
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.config.Level = level
	l.hcLogger.SetLevel(getHCLogLevel(level))
	l.zeroLogger = l.zeroLogger.Level(getZeroLogLevel(level))
}

// GetLevel 获取日志级别
func (l *Logger) GetLevel() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config.Level
}

// Close 关闭日志记录器
func (l *Logger) Close() error {
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}
