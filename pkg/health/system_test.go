package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageChecker(t *testing.T) {
	var (
		used float64
		err  error
	)
	checker := NewUsageChecker("memory", "内存", func(ctx context.Context) (float64, error) {
		return used, err
	}, 85)
	assert.Equal(t, "memory", checker.Name())

	used = 40
	result := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Equal(t, 85.0, result.Details["threshold"])

	used = 85
	result = checker.Check(context.Background())
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Contains(t, result.Message, "超过阈值")

	used, err = 0, errors.New("not supported")
	result = checker.Check(context.Background())
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Equal(t, "not supported", result.Details["error"])
}

func TestSystemCheckers(t *testing.T) {
	// 阈值大于100时只能是健康，采样失败时降级
	for _, checker := range []Checker{
		NewCPUChecker(101),
		NewMemoryChecker(101),
		NewDiskChecker(t.TempDir(), 101),
	} {
		result := checker.Check(context.Background())
		assert.Contains(t, []Status{StatusHealthy, StatusDegraded}, result.Status, checker.Name())
	}

	result := NewDiskChecker(filepath.Join(t.TempDir(), "missing"), 90).Check(context.Background())
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Contains(t, result.Details, "error")
}

func TestDirectoryChecker(t *testing.T) {
	dir := t.TempDir()
	result := NewDirectoryChecker(dir).Check(context.Background())
	require.Equal(t, StatusHealthy, result.Status)
	assert.Equal(t, "ok", result.Details[dir])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	file := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(file, []byte("a\n1\n"), 0644))
	missing := filepath.Join(dir, "missing")
	result = NewDirectoryChecker(dir, file, missing).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Equal(t, "ok", result.Details[dir])
	assert.Contains(t, result.Details[missing], "目录不存在")
	assert.Equal(t, "不是目录", result.Details[file])

	if runtime.GOOS != "windows" && os.Geteuid() != 0 {
		readonly := filepath.Join(dir, "readonly")
		require.NoError(t, os.Mkdir(readonly, 0555))
		result = NewDirectoryChecker(readonly).Check(context.Background())
		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Contains(t, result.Details[readonly], "目录不可写")
	}
}

func TestConfigCheckers(t *testing.T) {
	assert.Empty(t, Config{}.Checkers())

	names := func(checkers []Checker) []string {
		var out []string
		for _, c := range checkers {
			out = append(out, c.Name())
		}
		return out
	}
	assert.Equal(t, []string{"cpu", "memory", "disk"}, names(DefaultConfig().Checkers()))

	config := Config{MemoryThreshold: 85, Directories: []string{t.TempDir()}}
	assert.Equal(t, []string{"memory", "directories"}, names(config.Checkers()))
}
