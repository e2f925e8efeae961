package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// backupTimeFormat 备份文件名中的时间格式
const backupTimeFormat = "20060102-150405.000"

// LogRotator 按大小轮转的日志文件
type LogRotator struct {
	filePath   string        // 日志文件路径
	maxSize    int64         // 单个文件最大字节数，<=0 表示不轮转
	maxBackups int           // 最大备份数量，<=0 表示不限
	maxAge     time.Duration // 备份最大保留时间，<=0 表示不限
	size       int64
	file       *os.File
	now        func() time.Time
	mu         sync.Mutex
}

// NewLogRotator 创建日志轮转器并打开日志文件
func NewLogRotator(filePath string, maxSize int64, maxBackups int, maxAge time.Duration) (*LogRotator, error) {
	if filePath == "" {
		return nil, fmt.Errorf("日志文件路径为空")
	}
	r := &LogRotator{
		filePath:   filePath,
		maxSize:    maxSize,
		maxBackups: maxBackups,
		maxAge:     maxAge,
		now:        time.Now,
	}
	if err := r.openFile(); err != nil {
		return nil, err
	}
	return r, nil
}

// Write 实现io.Writer接口
func (r *LogRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.openFile(); err != nil {
			return 0, err
		}
	}

	if r.maxSize > 0 && r.size > 0 && r.size+int64(len(p)) > r.maxSize {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// Close 关闭日志文件
func (r *LogRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func (r *LogRotator) openFile() error {
	if err := os.MkdirAll(filepath.Dir(r.filePath), 0755); err != nil {
		return fmt.Errorf("创建日志目录失败: %w", err)
	}

	file, err := os.OpenFile(r.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("打开日志文件失败: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("获取日志文件信息失败: %w", err)
	}

	r.file = file
	r.size = info.Size()
	return nil
}

// rotate 将当前文件重命名为带时间戳的备份并重新打开
func (r *LogRotator) rotate() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("关闭日志文件失败: %w", err)
	}
	r.file = nil

	if err := os.Rename(r.filePath, r.backupName()); err != nil {
		return fmt.Errorf("重命名日志文件失败: %w", err)
	}
	if err := r.cleanBackups(); err != nil {
		return fmt.Errorf("清理旧日志文件失败: %w", err)
	}
	return r.openFile()
}

func (r *LogRotator) backupName() string {
	ext := filepath.Ext(r.filePath)
	base := strings.TrimSuffix(r.filePath, ext)
	stamp := r.now().Format(backupTimeFormat)

	name := fmt.Sprintf("%s.%s%s", base, stamp, ext)
	for i := 1; ; i++ {
		if _, err := os.Stat(name); os.IsNotExist(err) {
			return name
		}
		name = fmt.Sprintf("%s.%s-%d%s", base, stamp, i, ext)
	}
}

// backups 返回现有备份文件，最新的在前
func (r *LogRotator) backups() ([]os.FileInfo, error) {
	dir := filepath.Dir(r.filePath)
	base := filepath.Base(r.filePath)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext) + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var infos []os.FileInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == base || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].ModTime().Equal(infos[j].ModTime()) {
			return infos[i].Name() > infos[j].Name()
		}
		return infos[i].ModTime().After(infos[j].ModTime())
	})
	return infos, nil
}

func (r *LogRotator) cleanBackups() error {
	infos, err := r.backups()
	if err != nil {
		return err
	}

	dir := filepath.Dir(r.filePath)
	cutoff := r.now().Add(-r.maxAge)
	for i, info := range infos {
		expired := r.maxAge > 0 && info.ModTime().Before(cutoff)
		excess := r.maxBackups > 0 && i >= r.maxBackups
		if !expired && !excess {
			continue
		}
		if err := os.Remove(filepath.Join(dir, info.Name())); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
