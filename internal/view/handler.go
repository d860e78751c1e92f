// handler.go — 视图 REST API handlers。
package view

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sparkbox/go-kiosk/internal/events"
	"github.com/sparkbox/go-kiosk/internal/imgretry"
	"github.com/sparkbox/go-kiosk/internal/kiosk"
	"github.com/sparkbox/go-kiosk/internal/store"
	pkgerr "github.com/sparkbox/go-kiosk/pkg/errors"
)

var (
	errBadInput = pkgerr.New("view.applyInput", "one of action, key or slide is required")
	errStopped  = pkgerr.New("view.applyInput", "kiosk controller stopped")
)

// inputRequest 输入上报: 动作名、原始按键或幻灯片跳转三选一。
type inputRequest struct {
	Action  string `json:"action,omitempty"`
	Key     string `json:"key,omitempty"`
	Pressed *bool  `json:"pressed,omitempty"`
	Text    string `json:"text,omitempty"`
	Slide   *int   `json:"slide,omitempty"`
}

// imageRequest 图片加载结果上报。
type imageRequest struct {
	ID       string `json:"id,omitempty"`
	Original string `json:"original,omitempty"`
}

// imageDecision 图片重试决定的线上格式。
type imageDecision struct {
	ID          string `json:"id"`
	Retry       bool   `json:"retry"`
	DelayMS     int64  `json:"delay_ms"`
	Src         string `json:"src"`
	Placeholder bool   `json:"placeholder"`
	Attempt     int    `json:"attempt"`
}

func decisionView(id string, d imgretry.Decision) imageDecision {
	return imageDecision{
		ID:          id,
		Retry:       d.Retry,
		DelayMS:     d.Delay.Milliseconds(),
		Src:         d.Src,
		Placeholder: d.Placeholder,
		Attempt:     d.Attempt,
	}
}

// registerRoutes 注册路由。
func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	api := s.router.Group("/api")
	api.GET("/state", s.getState)
	api.POST("/input", s.postInput)
	api.POST("/image/error", s.postImageError)
	api.POST("/image/load", s.postImageLoad)
	api.GET("/stream", s.sseHandler)

	api.GET("/sessions", s.listSessions)
	api.GET("/sessions/:id", s.getSession)
	api.GET("/sessions/:id/messages", s.listMessages)
	api.GET("/sessions/:id/transitions", s.listTransitions)
	api.GET("/logs", s.listLogs)
	api.GET("/logs/filters", s.logFilters)

	if s.proxy != nil {
		s.router.GET(s.proxyPath, s.proxyImage)
	}

	s.router.GET("/ws", s.wsHandler)

	if dirExists(s.staticDir) {
		s.router.Static("/static", s.staticDir)
		index := filepath.Join(s.staticDir, "index.html")
		s.router.GET("/", func(c *gin.Context) { c.File(index) })
	}
}

// ========================================
// 辅助: 从 query 读分页参数
// ========================================

func queryLimit(c *gin.Context, def int) int {
	v, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if v < 1 {
		return def
	}
	if v > 2000 {
		return 2000
	}
	return v
}

// querySince 解析 since (RFC3339 或 Unix 秒), 缺省或非法时返回零值。
func querySince(c *gin.Context) time.Time {
	raw := strings.TrimSpace(c.Query("since"))
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	if sec, err := strconv.ParseInt(raw, 10, 64); err == nil && sec > 0 {
		return time.Unix(sec, 0)
	}
	return time.Time{}
}

// ========================================
// 状态与输入
// ========================================

func (s *Server) getState(c *gin.Context) {
	success(c, s.kiosk.Latest())
}

// applyInput 把输入上报转换为控制器消息。
func (s *Server) applyInput(req inputRequest) error {
	var sent bool
	switch {
	case req.Slide != nil:
		sent = s.kiosk.Send(kiosk.MsgGotoSlide{Index: *req.Slide})
	case req.Action != "":
		a, ok := events.ParseAction(req.Action)
		if !ok {
			return pkgerr.WithCode(pkgerr.ErrInvalidInput, "view.applyInput", "invalid_action", "unknown action "+req.Action)
		}
		sent = s.kiosk.Dispatch(a, req.Text)
	case req.Key != "":
		pressed := req.Pressed == nil || *req.Pressed
		sent = s.kiosk.Key(req.Key, pressed, req.Text)
	default:
		return errBadInput
	}
	if !sent {
		return errStopped
	}
	return nil
}

func (s *Server) postInput(c *gin.Context) {
	var req inputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	switch err := s.applyInput(req); {
	case err == nil:
		success(c, gin.H{"accepted": true})
	case err == errStopped:
		unavailable(c, err.Error())
	case err == errBadInput:
		badRequest(c, "invalid_request", err.Error())
	default:
		badRequest(c, pkgerr.CodeOf(err), err.Error())
	}
}

func (s *Server) postImageError(c *gin.Context) {
	var req imageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	if req.ID == "" {
		badRequest(c, "invalid_request", "image id is required")
		return
	}
	success(c, decisionView(req.ID, s.kiosk.ImageError(req.ID, req.Original)))
}

func (s *Server) postImageLoad(c *gin.Context) {
	var req imageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	s.kiosk.ImageLoaded(req.ID)
	success(c, gin.H{"id": req.ID})
}

func (s *Server) proxyImage(c *gin.Context) {
	s.proxy.ServeHTTP(c.Writer, c.Request)
}

// ========================================
// 会话历史
// ========================================

func (s *Server) listSessions(c *gin.Context) {
	if s.sessions == nil {
		unavailable(c, "session history not configured")
		return
	}
	items, err := s.sessions.ListSessions(c.Request.Context(), querySince(c), queryLimit(c, 50))
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, items)
}

func (s *Server) getSession(c *gin.Context) {
	if s.sessions == nil {
		unavailable(c, "session history not configured")
		return
	}
	item, err := s.sessions.GetSession(c.Request.Context(), c.Param("id"))
	if pkgerr.Is(err, pkgerr.ErrNotFound) {
		notFound(c, "session not found")
		return
	}
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, item)
}

func (s *Server) listMessages(c *gin.Context) {
	if s.sessions == nil {
		unavailable(c, "session history not configured")
		return
	}
	items, err := s.sessions.ListMessages(c.Request.Context(), c.Param("id"), queryLimit(c, 200))
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, items)
}

func (s *Server) listTransitions(c *gin.Context) {
	if s.sessions == nil {
		unavailable(c, "session history not configured")
		return
	}
	items, err := s.sessions.ListTransitions(c.Request.Context(), c.Param("id"), queryLimit(c, 200))
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, items)
}

// ========================================
// 日志
// ========================================

func (s *Server) listLogs(c *gin.Context) {
	if s.logs == nil {
		unavailable(c, "log store not configured")
		return
	}
	items, err := s.logs.List(c.Request.Context(), store.LogQuery{
		Level:     c.Query("level"),
		Component: c.Query("component"),
		SessionID: c.Query("session_id"),
		Screen:    c.Query("screen"),
		EventType: c.Query("event_type"),
		Keyword:   c.Query("keyword"),
		Since:     querySince(c),
		Limit:     queryLimit(c, 200),
	})
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, items)
}

func (s *Server) logFilters(c *gin.Context) {
	if s.logs == nil {
		unavailable(c, "log store not configured")
		return
	}
	values, err := s.logs.FilterValues(c.Request.Context())
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, values)
}
