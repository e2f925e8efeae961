// Package health 汇总插件注册表与分发器的健康状况
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Status 表示健康状态
type Status string

// 预定义健康状态
const (
	StatusUnknown   Status = "unknown"   // 未知状态
	StatusHealthy   Status = "healthy"   // 健康状态
	StatusDegraded  Status = "degraded"  // 降级状态
	StatusUnhealthy Status = "unhealthy" // 不健康状态
)

// severity 状态严重程度，用于聚合
func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	}
	return -1
}

// CheckResult 健康检查结果
type CheckResult struct {
	Status        Status         `json:"status"`
	Message       string         `json:"message"`
	Details       map[string]any `json:"details,omitempty"`
	LastChecked   time.Time      `json:"last_checked"`
	CheckDuration time.Duration  `json:"check_duration"`
}

// Checker 健康检查器接口
type Checker interface {
	// Check 执行健康检查
	Check(ctx context.Context) CheckResult
	// Name 返回检查器名称
	Name() string
}

// CheckerFunc 健康检查函数类型
type CheckerFunc func(ctx context.Context) CheckResult

// SimpleChecker 简单健康检查器
type SimpleChecker struct {
	name      string
	checkFunc CheckerFunc
}

// NewSimpleChecker 创建简单健康检查器
func NewSimpleChecker(name string, checkFunc CheckerFunc) *SimpleChecker {
	return &SimpleChecker{name: name, checkFunc: checkFunc}
}

// Check 执行健康检查
func (c *SimpleChecker) Check(ctx context.Context) CheckResult {
	return c.checkFunc(ctx)
}

// Name 返回检查器名称
func (c *SimpleChecker) Name() string {
	return c.name
}

// Report 全部检查的汇总
type Report struct {
	Status  Status                 `json:"status"`
	Message string                 `json:"message"`
	Checks  map[string]CheckResult `json:"checks"`
}

// Registry 检查器注册表
type Registry struct {
	checkers map[string]Checker
	mu       sync.RWMutex
	logger   hclog.Logger
}

// NewRegistry 创建检查器注册表
func NewRegistry(logger hclog.Logger) *Registry {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Registry{
		checkers: make(map[string]Checker),
		logger:   logger.Named("health"),
	}
}

// Register 注册健康检查器，同名检查器被替换
func (r *Registry) Register(checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[checker.Name()] = checker
	r.logger.Debug("注册健康检查器", "name", checker.Name())
}

// Unregister 注销健康检查器
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.checkers, name)
}

// Names 返回已注册的检查器名称，按字母排序
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.checkers))
	for name := range r.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunChecks 运行所有健康检查
func (r *Registry) RunChecks(ctx context.Context) map[string]CheckResult {
	r.mu.RLock()
	checkers := make([]Checker, 0, len(r.checkers))
	for _, checker := range r.checkers {
		checkers = append(checkers, checker)
	}
	r.mu.RUnlock()

	results := make(map[string]CheckResult, len(checkers))
	for _, checker := range checkers {
		start := time.Now()
		result := checker.Check(ctx)
		result.CheckDuration = time.Since(start)
		result.LastChecked = time.Now()
		if result.Status != StatusHealthy {
			r.logger.Warn("健康检查未通过", "name", checker.Name(), "status", result.Status, "message", result.Message)
		}
		results[checker.Name()] = result
	}
	return results
}

// Report 运行所有检查并聚合为整体状态，整体状态取最严重的一项
func (r *Registry) Report(ctx context.Context) Report {
	results := r.RunChecks(ctx)
	if len(results) == 0 {
		return Report{Status: StatusUnknown, Message: "未执行任何健康检查", Checks: results}
	}

	status := StatusHealthy
	var failing []string
	for _, name := range sortedKeys(results) {
		result := results[name]
		if result.Status == StatusHealthy {
			continue
		}
		failing = append(failing, name)
		if result.Status.severity() > status.severity() {
			status = result.Status
		}
	}

	message := "所有检查均通过"
	if len(failing) > 0 {
		message = fmt.Sprintf("检查未通过: %v", failing)
	}
	return Report{Status: status, Message: message, Checks: results}
}

func sortedKeys(results map[string]CheckResult) []string {
	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
