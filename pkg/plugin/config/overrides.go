package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
	"github.com/lomehong/chatplot/pkg/plugin/api"
	"gopkg.in/yaml.v3"
)

// Overrides 插件覆盖配置文件
//
//	plugins:
//	  data_processor:
//	    time_series_processor:
//	      enabled: true
//	      config:
//	        outlier_threshold: 2.5
type Overrides struct {
	Plugins map[string]map[string]PluginOverride `yaml:"plugins"`
}

// PluginOverride 单个插件的覆盖配置
type PluginOverride struct {
	// 是否启用，未设置时视为启用
	Enabled *bool `yaml:"enabled"`

	// 覆盖值
	Config map[string]any `yaml:"config"`
}

// Lookup 查找插件的覆盖配置
// 返回覆盖值与是否启用
func (o *Overrides) Lookup(category api.Category, name string) (api.PluginConfig, bool) {
	if o == nil || o.Plugins == nil {
		return api.PluginConfig{}, true
	}
	entry, ok := o.Plugins[string(category)][name]
	if !ok {
		return api.PluginConfig{}, true
	}
	enabled := entry.Enabled == nil || *entry.Enabled
	return api.PluginConfig(entry.Config).Clone(), enabled
}

// LoadOverrides 从 YAML 文件加载覆盖配置
// 文件不存在时返回空配置
func LoadOverrides(path string) (*Overrides, error) {
	o := &Overrides{Plugins: make(map[string]map[string]PluginOverride)}
	if path == "" {
		return o, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return o, nil
		}
		return nil, fmt.Errorf("读取插件配置文件失败: %w", err)
	}

	if err := yaml.Unmarshal(data, o); err != nil {
		return nil, fmt.Errorf("解析插件配置文件失败: %w", err)
	}
	if o.Plugins == nil {
		o.Plugins = make(map[string]map[string]PluginOverride)
	}

	for category := range o.Plugins {
		if _, err := api.ParseCategory(category); err != nil {
			return nil, fmt.Errorf("插件配置文件 %s: %w", path, err)
		}
	}
	return o, nil
}

// ChangeHandler 覆盖配置变更处理函数
type ChangeHandler func(overrides *Overrides)

// Watcher 监视覆盖配置文件，文件变化时重新加载
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	handler ChangeHandler
	logger  hclog.Logger
	done    chan struct{}
	once    sync.Once
}

// NewWatcher 创建覆盖配置监视器
// 监视文件所在目录，编辑器以替换方式保存文件时也能收到事件
func NewWatcher(path string, handler ChangeHandler, logger hclog.Logger) (*Watcher, error) {
	if handler == nil {
		return nil, fmt.Errorf("处理函数不能为空")
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析配置文件路径失败: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建配置监视器失败: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("监视配置目录失败: %w", err)
	}

	w := &Watcher{
		path:    abs,
		watcher: fw,
		handler: handler,
		logger:  logger.Named("config-watcher"),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.logger.Info("插件配置文件已修改", "path", event.Name)
			overrides, err := LoadOverrides(w.path)
			if err != nil {
				w.logger.Error("重新加载插件配置失败", "error", err)
				continue
			}
			w.handler(overrides)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("配置监视器错误", "error", err)
		}
	}
}

// Close 停止监视
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		err = w.watcher.Close()
		<-w.done
	})
	return err
}
