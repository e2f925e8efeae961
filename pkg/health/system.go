package health

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Config 系统资源检查配置，阈值 <=0 表示不检查该项
type Config struct {
	CPUThreshold    float64  `mapstructure:"cpu_threshold"`
	MemoryThreshold float64  `mapstructure:"memory_threshold"`
	DiskThreshold   float64  `mapstructure:"disk_threshold"`
	DiskPath        string   `mapstructure:"disk_path"`
	Directories     []string `mapstructure:"directories"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		CPUThreshold:    90,
		MemoryThreshold: 85,
		DiskThreshold:   90,
		DiskPath:        "/",
	}
}

// Checkers 按配置创建系统资源检查器
func (c Config) Checkers() []Checker {
	var checkers []Checker
	if c.CPUThreshold > 0 {
		checkers = append(checkers, NewCPUChecker(c.CPUThreshold))
	}
	if c.MemoryThreshold > 0 {
		checkers = append(checkers, NewMemoryChecker(c.MemoryThreshold))
	}
	if c.DiskThreshold > 0 {
		path := c.DiskPath
		if path == "" {
			path = "/"
		}
		checkers = append(checkers, NewDiskChecker(path, c.DiskThreshold))
	}
	if len(c.Directories) > 0 {
		checkers = append(checkers, NewDirectoryChecker(c.Directories...))
	}
	return checkers
}

// UsageSampler 采样资源使用率（百分比）
type UsageSampler func(ctx context.Context) (float64, error)

// NewUsageChecker 创建资源使用率检查器
// 使用率达到阈值或无法采样时降级，资源紧张不影响插件调用
func NewUsageChecker(name, label string, sample UsageSampler, thresholdPercent float64) Checker {
	return NewSimpleChecker(name, func(ctx context.Context) CheckResult {
		used, err := sample(ctx)
		if err != nil {
			return CheckResult{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("无法获取%s信息", label),
				Details: map[string]any{"error": err.Error()},
			}
		}

		details := map[string]any{
			"used_percent": used,
			"threshold":    thresholdPercent,
		}
		if used >= thresholdPercent {
			return CheckResult{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("%s使用率 %.2f%% 超过阈值 %.2f%%", label, used, thresholdPercent),
				Details: details,
			}
		}
		return CheckResult{
			Status:  StatusHealthy,
			Message: fmt.Sprintf("%s使用率 %.2f%% 正常", label, used),
			Details: details,
		}
	})
}

// NewCPUChecker 创建CPU使用率检查器
func NewCPUChecker(thresholdPercent float64) Checker {
	return NewUsageChecker("cpu", "CPU", func(ctx context.Context) (float64, error) {
		// 间隔为0时与上次调用比较，首次调用返回开机以来的平均值
		percent, err := cpu.PercentWithContext(ctx, 0, false)
		if err != nil {
			return 0, err
		}
		if len(percent) == 0 {
			return 0, fmt.Errorf("无法获取CPU使用率")
		}
		return percent[0], nil
	}, thresholdPercent)
}

// NewMemoryChecker 创建内存使用率检查器
func NewMemoryChecker(thresholdPercent float64) Checker {
	return NewUsageChecker("memory", "内存", func(ctx context.Context) (float64, error) {
		v, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return 0, err
		}
		return v.UsedPercent, nil
	}, thresholdPercent)
}

// NewDiskChecker 创建磁盘使用率检查器
func NewDiskChecker(path string, thresholdPercent float64) Checker {
	return NewUsageChecker("disk", "磁盘 "+path+" ", func(ctx context.Context) (float64, error) {
		usage, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			return 0, err
		}
		return usage.UsedPercent, nil
	}, thresholdPercent)
}

// NewDirectoryChecker 创建目录检查器，目录必须存在且可写
func NewDirectoryChecker(dirs ...string) Checker {
	return NewSimpleChecker("directories", func(ctx context.Context) CheckResult {
		details := make(map[string]any, len(dirs))
		var failed int
		for _, dir := range dirs {
			if err := checkWritable(dir); err != nil {
				details[dir] = err.Error()
				failed++
				continue
			}
			details[dir] = "ok"
		}

		if failed > 0 {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("%d 个目录不可用", failed),
				Details: details,
			}
		}
		return CheckResult{Status: StatusHealthy, Message: "所有目录均可写", Details: details}
	})
}

// checkWritable 通过创建临时文件检查目录可写
func checkWritable(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("目录不存在: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("不是目录")
	}

	f, err := os.CreateTemp(dir, ".chatplot-health-*")
	if err != nil {
		return fmt.Errorf("目录不可写: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
