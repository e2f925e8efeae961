package api

import (
	"errors"
	"fmt"
)

// ErrorKind 定义了错误类型
type ErrorKind string

// 预定义的错误类型
const (
	ErrorKindInvalidMetadata       ErrorKind = "invalid_metadata"       // 元数据无效
	ErrorKindDuplicateRegistration ErrorKind = "duplicate_registration" // 重复注册
	ErrorKindMissingConfigField    ErrorKind = "missing_config_field"   // 缺少配置字段
	ErrorKindConfigType            ErrorKind = "config_type"            // 配置类型错误
	ErrorKindAlreadyInitialized    ErrorKind = "already_initialized"    // 重复初始化
	ErrorKindPluginNotFound        ErrorKind = "plugin_not_found"       // 插件不存在
	ErrorKindPluginNotReady        ErrorKind = "plugin_not_ready"       // 插件未就绪
	ErrorKindUnsupportedOperation  ErrorKind = "unsupported_operation"  // 不支持的操作
	ErrorKindNotTrained            ErrorKind = "not_trained"            // 模型未训练
	ErrorKindPluginExecution       ErrorKind = "plugin_execution"       // 插件执行错误
	ErrorKindRateLimited           ErrorKind = "rate_limited"           // 限流等待失败
	ErrorKindUnknown               ErrorKind = "unknown"                // 未知错误
)

// 哨兵错误，配合 errors.Is 使用
var (
	ErrInvalidMetadata       = errors.New("invalid plugin metadata")
	ErrDuplicateRegistration = errors.New("duplicate plugin registration")
	ErrMissingConfigField    = errors.New("missing config field")
	ErrConfigType            = errors.New("config type mismatch")
	ErrAlreadyInitialized    = errors.New("plugin already initialized")
	ErrPluginNotFound        = errors.New("plugin not found")
	ErrPluginNotReady        = errors.New("plugin not ready")
	ErrUnsupportedOperation  = errors.New("unsupported operation")
	ErrNotTrained            = errors.New("model not trained")
	ErrPluginExecution       = errors.New("plugin execution failed")
	ErrRateLimited           = errors.New("rate limited")
)

// KindedError 带错误类型的错误
type KindedError interface {
	error
	Kind() ErrorKind
}

// KindOf 返回错误链中最外层的错误类型
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ke KindedError
	if errors.As(err, &ke) {
		return ke.Kind()
	}
	return ErrorKindUnknown
}

// InvalidMetadataError 元数据无效
type InvalidMetadataError struct {
	Plugin string
	Reason string
}

func (e *InvalidMetadataError) Error() string {
	return fmt.Sprintf("插件 %q 元数据无效: %s", e.Plugin, e.Reason)
}
func (e *InvalidMetadataError) Kind() ErrorKind      { return ErrorKindInvalidMetadata }
func (e *InvalidMetadataError) Is(target error) bool { return target == ErrInvalidMetadata }

// DuplicateRegistrationError 重复注册
type DuplicateRegistrationError struct {
	Category Category
	Name     string
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("插件 %s/%s 已注册", e.Category, e.Name)
}
func (e *DuplicateRegistrationError) Kind() ErrorKind      { return ErrorKindDuplicateRegistration }
func (e *DuplicateRegistrationError) Is(target error) bool { return target == ErrDuplicateRegistration }

// MissingConfigFieldError 缺少必需的配置字段
type MissingConfigFieldError struct {
	Field string
}

func (e *MissingConfigFieldError) Error() string {
	return fmt.Sprintf("缺少必需的配置字段: %s", e.Field)
}
func (e *MissingConfigFieldError) Kind() ErrorKind      { return ErrorKindMissingConfigField }
func (e *MissingConfigFieldError) Is(target error) bool { return target == ErrMissingConfigField }

// ConfigTypeError 配置字段类型不符
type ConfigTypeError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *ConfigTypeError) Error() string {
	return fmt.Sprintf("配置字段 %s 类型错误: 期望 %s, 实际 %s", e.Field, e.Expected, e.Actual)
}
func (e *ConfigTypeError) Kind() ErrorKind      { return ErrorKindConfigType }
func (e *ConfigTypeError) Is(target error) bool { return target == ErrConfigType }

// AlreadyInitializedError 重复初始化
type AlreadyInitializedError struct {
	Plugin string
}

func (e *AlreadyInitializedError) Error() string {
	return fmt.Sprintf("插件 %s 已初始化", e.Plugin)
}
func (e *AlreadyInitializedError) Kind() ErrorKind      { return ErrorKindAlreadyInitialized }
func (e *AlreadyInitializedError) Is(target error) bool { return target == ErrAlreadyInitialized }

// PluginNotFoundError 插件不存在
type PluginNotFoundError struct {
	Category Category
	Name     string
}

func (e *PluginNotFoundError) Error() string {
	return fmt.Sprintf("插件 %s/%s 未注册", e.Category, e.Name)
}
func (e *PluginNotFoundError) Kind() ErrorKind      { return ErrorKindPluginNotFound }
func (e *PluginNotFoundError) Is(target error) bool { return target == ErrPluginNotFound }

// PluginNotReadyError 插件已注册但尚未初始化
type PluginNotReadyError struct {
	Category Category
	Name     string
}

func (e *PluginNotReadyError) Error() string {
	return fmt.Sprintf("插件 %s/%s 尚未初始化", e.Category, e.Name)
}
func (e *PluginNotReadyError) Kind() ErrorKind      { return ErrorKindPluginNotReady }
func (e *PluginNotReadyError) Is(target error) bool { return target == ErrPluginNotReady }

// UnsupportedOperationError 类别不支持该操作
type UnsupportedOperationError struct {
	Category  Category
	Operation Operation
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("类别 %s 不支持操作 %s", e.Category, e.Operation)
}
func (e *UnsupportedOperationError) Kind() ErrorKind      { return ErrorKindUnsupportedOperation }
func (e *UnsupportedOperationError) Is(target error) bool { return target == ErrUnsupportedOperation }

// NotTrainedError 模型未训练
type NotTrainedError struct {
	Plugin string
}

func (e *NotTrainedError) Error() string {
	return fmt.Sprintf("模型 %s 尚未训练，请先调用 train", e.Plugin)
}
func (e *NotTrainedError) Kind() ErrorKind      { return ErrorKindNotTrained }
func (e *NotTrainedError) Is(target error) bool { return target == ErrNotTrained }

// PluginExecutionError 插件执行错误
// 包装插件内部返回的任意错误，保留原始消息
type PluginExecutionError struct {
	Plugin    string
	Category  Category
	Operation Operation
	Message   string
	Cause     error
}

func (e *PluginExecutionError) Error() string {
	return fmt.Sprintf("插件 %s 执行 %s 失败: %s", e.Plugin, e.Operation, e.Message)
}
func (e *PluginExecutionError) Kind() ErrorKind      { return ErrorKindPluginExecution }
func (e *PluginExecutionError) Is(target error) bool { return target == ErrPluginExecution }

// Unwrap 实现errors.Unwrap接口
func (e *PluginExecutionError) Unwrap() error { return e.Cause }

// RateLimitedError 等待限流器放行失败，调用方取消或截止时间不足
type RateLimitedError struct {
	Category Category
	Name     string
	Cause    error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("插件 %s/%s 限流等待失败: %v", e.Category, e.Name, e.Cause)
}
func (e *RateLimitedError) Kind() ErrorKind      { return ErrorKindRateLimited }
func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }
func (e *RateLimitedError) Unwrap() error        { return e.Cause }

// NewPluginExecutionError 创建插件执行错误
func NewPluginExecutionError(plugin string, category Category, op Operation, cause error) *PluginExecutionError {
	msg := "未知错误"
	if cause != nil {
		msg = cause.Error()
	}
	return &PluginExecutionError{
		Plugin:    plugin,
		Category:  category,
		Operation: op,
		Message:   msg,
		Cause:     cause,
	}
}
