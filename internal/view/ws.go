// ws.go — 双向 WebSocket: 推送渲染模型, 接收输入与图片上报。
package view

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sparkbox/go-kiosk/internal/kiosk"
	"github.com/sparkbox/go-kiosk/pkg/logger"
	"github.com/sparkbox/go-kiosk/pkg/util"
)

const (
	connOutboxSize = 64
	maxConnections = 16
	maxMessageSize = 64 * 1024
	writeTimeout   = 10 * time.Second
)

// 入站/出站消息类型。
const (
	msgState         = "state"
	msgInput         = "input"
	msgImageError    = "image_error"
	msgImageLoad     = "image_load"
	msgImageDecision = "image_decision"
	msgError         = "error"
)

// wsMessage WebSocket 信封, 入站出站共用。
type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
	inputRequest
	imageRequest
}

type wsOutbound struct {
	msgType int
	data    []byte
}

// connEntry WebSocket 连接 + 写锁 (gorilla/websocket 不支持并发写)。
type connEntry struct {
	ws        *websocket.Conn
	wrMu      sync.Mutex
	outbox    chan wsOutbound
	closeCh   chan struct{}
	closeOnce sync.Once
}

func newConnEntry(ws *websocket.Conn) *connEntry {
	return &connEntry{
		ws:      ws,
		outbox:  make(chan wsOutbound, connOutboxSize),
		closeCh: make(chan struct{}),
	}
}

func (c *connEntry) writeMsg(msgType int, data []byte) error {
	c.wrMu.Lock()
	defer c.wrMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(msgType, data)
}

func (c *connEntry) enqueue(msgType int, data []byte) bool {
	select {
	case <-c.closeCh:
		return false
	default:
	}
	select {
	case c.outbox <- wsOutbound{msgType: msgType, data: data}:
		return true
	default:
		return false
	}
}

func (c *connEntry) closeNow() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

func (c *connEntry) writeLoop() error {
	for {
		select {
		case <-c.closeCh:
			return nil
		case msg := <-c.outbox:
			if err := c.writeMsg(msg.msgType, msg.data); err != nil {
				return err
			}
		}
	}
}

// Hub 管理所有 WebSocket 连接。实现 kiosk.Publisher。
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*connEntry
	closed bool
}

// NewHub 创建 Hub。
func NewHub() *Hub {
	return &Hub{conns: make(map[string]*connEntry)}
}

// Publish 广播渲染模型; 发送队列满的连接被断开。
func (h *Hub) Publish(m kiosk.RenderModel) {
	data, err := json.Marshal(wsMessage{Type: msgState, Data: m})
	if err != nil {
		logger.Error("view: marshal render model failed", logger.FieldError, err)
		return
	}
	h.mu.RLock()
	snapshot := make(map[string]*connEntry, len(h.conns))
	for id, entry := range h.conns {
		snapshot[id] = entry
	}
	h.mu.RUnlock()
	for id, entry := range snapshot {
		h.send(id, entry, data)
	}
}

// Len 当前连接数。
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close 断开所有连接, 之后拒绝新连接。
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := h.conns
	h.conns = make(map[string]*connEntry)
	h.mu.Unlock()
	for _, entry := range conns {
		entry.closeNow()
	}
}

func (h *Hub) send(id string, entry *connEntry, data []byte) bool {
	if entry.enqueue(websocket.TextMessage, data) {
		return true
	}
	logger.Warn("view: client send queue overloaded, disconnecting", logger.FieldClientID, id)
	h.disconnect(id)
	return false
}

func (h *Hub) register(id string, entry *connEntry) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || len(h.conns) >= maxConnections {
		return false
	}
	h.conns[id] = entry
	return true
}

func (h *Hub) disconnect(id string) {
	h.mu.Lock()
	entry, ok := h.conns[id]
	if ok {
		delete(h.conns, id)
	}
	h.mu.Unlock()
	if ok {
		entry.closeNow()
	}
}

// checkLocalOrigin 仅允许无 Origin 或 localhost 来源。
func checkLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	origin = strings.ToLower(origin)
	for _, allowed := range []string{
		"http://localhost", "https://localhost",
		"http://127.0.0.1", "https://127.0.0.1",
		"http://[::1]", "https://[::1]",
	} {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	logger.Warn("view: rejected non-local origin", "origin", origin)
	return false
}

// wsHandler 升级连接, 推送当前渲染模型, 然后读取入站消息。
func (s *Server) wsHandler(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("view: upgrade failed", logger.FieldError, err)
		return
	}
	ws.SetReadLimit(maxMessageSize)

	connID := "ws-" + uuid.NewString()
	entry := newConnEntry(ws)
	if !s.hub.register(connID, entry) {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"),
			time.Now().Add(time.Second))
		entry.closeNow()
		logger.Warn("view: connection rejected", logger.FieldMax, maxConnections)
		return
	}
	util.SafeGo(func() {
		if err := entry.writeLoop(); err != nil {
			logger.Warn("view: write loop failed", logger.FieldClientID, connID, logger.FieldError, err)
			s.hub.disconnect(connID)
		}
	})
	logger.Info("view: client connected", logger.FieldClientID, connID, logger.FieldAddr, c.Request.RemoteAddr)
	defer func() {
		s.hub.disconnect(connID)
		logger.Info("view: client disconnected", logger.FieldClientID, connID)
	}()

	s.reply(connID, entry, wsMessage{Type: msgState, Data: s.kiosk.Latest()})
	s.readLoop(entry, connID)
}

func (s *Server) readLoop(entry *connEntry, connID string) {
	for {
		_, raw, err := entry.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("view: read error", logger.FieldClientID, connID, logger.FieldError, err)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.reply(connID, entry, wsMessage{Type: msgError, Data: "parse error: " + err.Error()})
			continue
		}
		switch msg.Type {
		case msgInput:
			if err := s.applyInput(msg.inputRequest); err != nil {
				s.reply(connID, entry, wsMessage{Type: msgError, Data: err.Error()})
			}
		case msgImageError:
			if msg.ID == "" {
				s.reply(connID, entry, wsMessage{Type: msgError, Data: "image id is required"})
				continue
			}
			d := s.kiosk.ImageError(msg.ID, msg.Original)
			s.reply(connID, entry, wsMessage{Type: msgImageDecision, Data: decisionView(msg.ID, d)})
		case msgImageLoad:
			s.kiosk.ImageLoaded(msg.ID)
		default:
			s.reply(connID, entry, wsMessage{Type: msgError, Data: "unknown message type " + msg.Type})
		}
	}
}

func (s *Server) reply(connID string, entry *connEntry, msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Error("view: marshal reply failed", logger.FieldClientID, connID, logger.FieldError, err)
		return
	}
	s.hub.send(connID, entry, data)
}
