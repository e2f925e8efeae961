package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/lomehong/chatplot/pkg/plugin/api"
	"gopkg.in/yaml.v3"
)

// Descriptor 插件描述文件
// 描述文件只为已编译进程序的插件提供启用开关与配置覆盖，不会加载任何代码
type Descriptor struct {
	// 插件名称，为空时使用所在目录名
	Name string `yaml:"name"`

	// 插件类别
	Category api.Category `yaml:"category"`

	// 是否启用，未设置时视为启用
	Enabled *bool `yaml:"enabled"`

	// 配置覆盖
	Config map[string]any `yaml:"config"`

	// 描述文件路径
	Path string `yaml:"-"`
}

// IsEnabled 是否启用
func (d Descriptor) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// FileSystemDiscoverer 文件系统插件发现器
// 从插件目录中发现插件描述文件
type FileSystemDiscoverer struct {
	// 插件目录
	directories []string

	// 文件模式
	patterns []string

	// 递归扫描
	recursive bool

	// 日志记录器
	logger hclog.Logger

	// 上次扫描时间
	lastScanTime time.Time

	// 互斥锁
	mu sync.Mutex
}

// FileSystemDiscovererOption 文件系统插件发现器选项
type FileSystemDiscovererOption func(*FileSystemDiscoverer)

// WithLogger 设置日志记录器
func WithLogger(logger hclog.Logger) FileSystemDiscovererOption {
	return func(d *FileSystemDiscoverer) {
		if logger != nil {
			d.logger = logger.Named("plugin-discoverer")
		}
	}
}

// WithRecursive 设置是否递归扫描
func WithRecursive(recursive bool) FileSystemDiscovererOption {
	return func(d *FileSystemDiscoverer) {
		d.recursive = recursive
	}
}

// WithPatterns 设置文件模式
func WithPatterns(patterns []string) FileSystemDiscovererOption {
	return func(d *FileSystemDiscoverer) {
		if len(patterns) > 0 {
			d.patterns = patterns
		}
	}
}

// NewFileSystemDiscoverer 创建一个新的文件系统插件发现器
func NewFileSystemDiscoverer(directories []string, options ...FileSystemDiscovererOption) *FileSystemDiscoverer {
	d := &FileSystemDiscoverer{
		directories: directories,
		patterns:    []string{"config.yaml", "config.yml"},
		recursive:   true,
		logger:      hclog.NewNullLogger(),
	}

	// 应用选项
	for _, option := range options {
		option(d)
	}

	return d
}

// Discover 发现插件描述文件
// 不存在的目录被忽略，无法解析的描述文件记录日志后跳过
func (d *FileSystemDiscoverer) Discover(ctx context.Context) ([]Descriptor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Info("开始发现插件", "directories", d.directories)
	d.lastScanTime = time.Now()

	var descriptors []Descriptor
	for _, dir := range d.directories {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := d.scanDirectory(dir)
		if err != nil {
			d.logger.Error("扫描目录失败", "directory", dir, "error", err)
			continue
		}
		descriptors = append(descriptors, found...)
	}

	sort.SliceStable(descriptors, func(i, j int) bool {
		return descriptors[i].Path < descriptors[j].Path
	})

	d.logger.Info("插件发现完成", "count", len(descriptors))
	return descriptors, nil
}

// LastScanTime 上次扫描时间
func (d *FileSystemDiscoverer) LastScanTime() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastScanTime
}

// scanDirectory 扫描目录
func (d *FileSystemDiscoverer) scanDirectory(dir string) ([]Descriptor, error) {
	// 检查目录是否存在
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			d.logger.Warn("目录不存在", "directory", dir)
			return nil, nil
		}
		return nil, err
	}

	// 检查是否为目录
	if !info.IsDir() {
		d.logger.Warn("不是目录", "path", dir)
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var descriptors []Descriptor
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		// 如果是目录且允许递归，则递归扫描
		if entry.IsDir() {
			if !d.recursive {
				continue
			}
			found, err := d.scanDirectory(path)
			if err != nil {
				d.logger.Error("递归扫描目录失败", "directory", path, "error", err)
				continue
			}
			descriptors = append(descriptors, found...)
			continue
		}

		if !d.matches(entry.Name()) {
			continue
		}

		descriptor, err := LoadDescriptor(path)
		if err != nil {
			d.logger.Warn("加载插件描述文件失败", "path", path, "error", err)
			continue
		}
		descriptors = append(descriptors, descriptor)
	}

	return descriptors, nil
}

// matches 检查是否匹配模式
func (d *FileSystemDiscoverer) matches(name string) bool {
	for _, pattern := range d.patterns {
		if match, _ := filepath.Match(pattern, name); match {
			return true
		}
	}
	return false
}

// LoadDescriptor 加载插件描述文件
func LoadDescriptor(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("读取插件描述文件失败: %w", err)
	}

	var descriptor Descriptor
	if err := yaml.Unmarshal(data, &descriptor); err != nil {
		return Descriptor{}, fmt.Errorf("解析插件描述文件失败: %w", err)
	}

	if descriptor.Name == "" {
		descriptor.Name = filepath.Base(filepath.Dir(path))
	}
	if _, err := api.ParseCategory(string(descriptor.Category)); err != nil {
		return Descriptor{}, fmt.Errorf("插件 %s: %w", descriptor.Name, err)
	}
	descriptor.Path = path

	return descriptor, nil
}
