package api

import (
	"context"
	"sync/atomic"
	"time"
)

// Plugin 定义了所有插件必须实现的基础接口
// 每个插件还必须且只能实现一种能力接口（DataProcessor、Visualization、Analysis、Model）
type Plugin interface {
	// Metadata 返回插件元数据
	Metadata() PluginMetadata

	// Initialize 初始化插件
	// ctx: 上下文，可用于超时控制和取消操作
	// config: 合并后的插件配置
	// 返回: 初始化过程中的错误，重复调用返回 AlreadyInitializedError
	Initialize(ctx context.Context, config PluginConfig) error
}

// Shutdowner 定义了可关闭的插件
// 注销或重新加载插件时，注册表会调用 Shutdown 释放资源
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Factory 插件工厂
// 每次调用都必须返回一个新的、未初始化的插件实例
type Factory func() Plugin

// PluginConfig 定义了插件的配置
// 由插件声明的默认值与调用方提供的覆盖值合并而成
type PluginConfig map[string]any

// Clone 返回配置的浅拷贝
func (c PluginConfig) Clone() PluginConfig {
	out := make(PluginConfig, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Options 调用插件操作时附带的选项
type Options map[string]any

// String 读取字符串选项，不存在或类型不符时返回默认值
func (o Options) String(key, def string) string {
	if v, ok := o[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Strings 读取字符串列表选项
func (o Options) Strings(key string) []string {
	switch v := o[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// PluginState 表示注册表中插件条目的状态
type PluginState string

// 预定义的插件状态
const (
	PluginStateRegistered  PluginState = "registered"  // 已注册
	PluginStateInitialized PluginState = "initialized" // 已初始化
	PluginStateRetired     PluginState = "retired"     // 已注销
)

// PluginStatus 定义了插件的状态信息
type PluginStatus struct {
	Category      Category       `json:"category"`
	Name          string         `json:"name"`
	State         PluginState    `json:"state"`
	Config        PluginConfig   `json:"config,omitempty"`
	RegisteredAt  time.Time      `json:"registered_at"`
	InitializedAt time.Time      `json:"initialized_at,omitempty"`
	Metadata      PluginMetadata `json:"metadata"`
}

// InitGuard 保证 Initialize 只被调用一次
// 插件可以嵌入该类型，在 Initialize 开头调用 Begin
type InitGuard struct {
	done atomic.Bool
}

// Begin 标记初始化开始，重复调用返回 AlreadyInitializedError
func (g *InitGuard) Begin(name string) error {
	if !g.done.CompareAndSwap(false, true) {
		return &AlreadyInitializedError{Plugin: name}
	}
	return nil
}

// Abort 初始化失败时复位，使实例可以再次初始化
func (g *InitGuard) Abort() {
	g.done.Store(false)
}

// Initialized 是否已初始化
func (g *InitGuard) Initialized() bool {
	return g.done.Load()
}
