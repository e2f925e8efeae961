package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/lomehong/chatplot/pkg/plugin/api"
)

// EventType 注册表事件类型
type EventType string

// 预定义的注册表事件类型
const (
	EventRegistered  EventType = "registered"
	EventInitialized EventType = "initialized"
	EventReloaded    EventType = "reloaded"
	EventRetired     EventType = "retired"
)

// Event 注册表事件
type Event struct {
	// 事件类型
	Type EventType

	// 插件键
	Key Key

	// 时间戳
	Timestamp time.Time

	// 插件元数据
	Metadata api.PluginMetadata
}

// EventHandler 注册表事件处理函数
type EventHandler func(event Event)

// Watcher 注册表观察者
type Watcher struct {
	registry *Registry
	id       uint64
	once     sync.Once
}

// Stop 停止观察
func (w *Watcher) Stop() error {
	w.once.Do(func() {
		w.registry.eventMu.Lock()
		delete(w.registry.handlers, w.id)
		w.registry.eventMu.Unlock()
	})
	return nil
}

// Watch 监听注册表变化
// 处理函数在独立的 goroutine 中异步调用
func (r *Registry) Watch(handler EventHandler) (*Watcher, error) {
	if handler == nil {
		return nil, fmt.Errorf("处理函数不能为空")
	}

	r.eventMu.Lock()
	r.nextHandlerID++
	id := r.nextHandlerID
	r.handlers[id] = handler
	r.eventMu.Unlock()

	return &Watcher{registry: r, id: id}, nil
}

// publishEvent 发布事件
func (r *Registry) publishEvent(t EventType, k Key, md api.PluginMetadata) {
	event := Event{Type: t, Key: k, Timestamp: time.Now(), Metadata: md}

	r.eventMu.RLock()
	handlers := make([]EventHandler, 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	r.eventMu.RUnlock()

	for _, handler := range handlers {
		go handler(event)
	}
}
