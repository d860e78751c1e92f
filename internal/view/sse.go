// sse.go — 渲染模型事件总线 + SSE handler。
package view

import (
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sparkbox/go-kiosk/internal/kiosk"
	"github.com/sparkbox/go-kiosk/pkg/logger"
)

// 事件类型。
const (
	EventState = "state"
	EventPing  = "ping"
)

// subscriberBuffer 每个订阅者的缓冲; 满时丢弃, 客户端会在下一次状态变化时追平。
const subscriberBuffer = 32

// Event SSE 事件。
type Event struct {
	Type string
	Data any
}

// EventBus 渲染模型广播。实现 kiosk.Publisher。
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	closed      bool
}

// NewEventBus 创建事件总线。
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string]chan Event)}
}

// Publish 广播渲染模型, 不阻塞。
func (b *EventBus) Publish(m kiosk.RenderModel) {
	b.broadcast(Event{Type: EventState, Data: m})
}

func (b *EventBus) broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			logger.Debug("view: SSE subscriber lagging, event dropped", logger.FieldClientID, id)
		}
	}
}

// Subscribe 订阅; 总线已关闭时返回已关闭的 channel。
func (b *EventBus) Subscribe(id string) chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers[id] = ch
	return ch
}

// Unsubscribe 取消订阅。
//
// 不关闭 ch, sseHandler 通过 ctx.Done() 退出。
func (b *EventBus) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subscribers, id)
	b.mu.Unlock()
}

// Len 当前订阅者数。
func (b *EventBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close 关闭所有订阅 (关机时调用), 之后的订阅立即结束。
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}

// sseHandler 先推送当前渲染模型, 之后推送每次变化; 空闲时发送 keepalive。
func (s *Server) sseHandler(c *gin.Context) {
	clientID := "sse-" + uuid.NewString()
	ch := s.bus.Subscribe(clientID)
	defer func() {
		s.bus.Unsubscribe(clientID)
		logger.Info("view: SSE client disconnected", logger.FieldClientID, clientID)
	}()
	logger.Info("view: SSE client connected", logger.FieldClientID, clientID)

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(EventState, s.kiosk.Latest())
	c.Writer.Flush()

	interval := s.keepalive
	keepalive := time.NewTimer(interval)
	defer keepalive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(evt.Type, evt.Data)
			if !keepalive.Stop() {
				select {
				case <-keepalive.C:
				default:
				}
			}
			keepalive.Reset(interval)
			return true
		case <-keepalive.C:
			c.SSEvent(EventPing, "keepalive")
			keepalive.Reset(interval)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
