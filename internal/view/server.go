// Package view 向浏览器前端提供渲染模型: REST 输入、SSE 与 WebSocket 推送、图片代理、静态资源。
package view

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/sparkbox/go-kiosk/internal/events"
	"github.com/sparkbox/go-kiosk/internal/imgretry"
	"github.com/sparkbox/go-kiosk/internal/kiosk"
	"github.com/sparkbox/go-kiosk/internal/store"
	pkgerr "github.com/sparkbox/go-kiosk/pkg/errors"
	"github.com/sparkbox/go-kiosk/pkg/logger"
)

const (
	defaultKeepalive = 15 * time.Second
	shutdownTimeout  = 5 * time.Second
)

// Kiosk 视图服务依赖的控制器能力, *kiosk.Controller 实现之。
type Kiosk interface {
	Latest() kiosk.RenderModel
	Send(msg kiosk.Msg) bool
	Dispatch(a events.ControlAction, text string) bool
	Key(key string, pressed bool, text string) bool
	ImageError(id, original string) imgretry.Decision
	ImageLoaded(id string)
	AddPublisher(p kiosk.Publisher)
}

// Deps 视图服务依赖。Sessions / Logs 为空时对应查询接口返回 503。
type Deps struct {
	Kiosk      Kiosk
	Sessions   *store.SessionStore
	Logs       *store.KioskLogStore
	BackendURL string
	ProxyPath  string
	StaticDir  string
	Keepalive  time.Duration
}

// Server 视图 HTTP 服务。
type Server struct {
	router    *gin.Engine
	kiosk     Kiosk
	bus       *EventBus
	hub       *Hub
	upgrader  websocket.Upgrader
	keepalive time.Duration
	sessions  *store.SessionStore
	logs      *store.KioskLogStore
	proxy     *httputil.ReverseProxy
	proxyPath string
	staticDir string
}

// NewServer 创建视图服务, 并把 SSE 总线与 WebSocket Hub 注册为控制器的发布者。
func NewServer(deps Deps) (*Server, error) {
	const op = "view.NewServer"
	if deps.Kiosk == nil {
		return nil, pkgerr.WithCode(pkgerr.ErrInvalidInput, op, pkgerr.CodeConfig, "kiosk controller is required")
	}
	s := &Server{
		router:    gin.New(),
		kiosk:     deps.Kiosk,
		bus:       NewEventBus(),
		hub:       NewHub(),
		keepalive: deps.Keepalive,
		sessions:  deps.Sessions,
		logs:      deps.Logs,
		proxyPath: deps.ProxyPath,
		staticDir: deps.StaticDir,
	}
	if s.keepalive <= 0 {
		s.keepalive = defaultKeepalive
	}
	if s.proxyPath == "" {
		s.proxyPath = "/api/proxy_image"
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     checkLocalOrigin,
	}
	if deps.BackendURL != "" {
		target, err := url.Parse(deps.BackendURL)
		if err != nil || target.Host == "" {
			return nil, pkgerr.WithCode(pkgerr.ErrInvalidInput, op, pkgerr.CodeConfig, "invalid backend url "+deps.BackendURL)
		}
		s.proxy = newImageProxy(target)
	}

	s.router.Use(gin.Recovery(), accessLog())
	s.registerRoutes()
	deps.Kiosk.AddPublisher(s.bus)
	deps.Kiosk.AddPublisher(s.hub)
	return s, nil
}

// Engine 返回 Gin 引擎。
func (s *Server) Engine() *gin.Engine { return s.router }

// Bus 返回 SSE 事件总线。
func (s *Server) Bus() *EventBus { return s.bus }

// Hub 返回 WebSocket Hub。
func (s *Server) Hub() *Hub { return s.hub }

// Run 监听 addr 直到 ctx 取消, 然后优雅关闭并断开所有推送连接。
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("view: listening", logger.FieldAddr, addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.closeStreams()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return pkgerr.WithCode(pkgerr.ErrTransport, "view.Server.Run", pkgerr.CodeTransport, err.Error())
	case <-ctx.Done():
	}

	// SSE / WebSocket 长连接先断开, 否则 Shutdown 会等到超时。
	s.closeStreams()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("view: shutdown incomplete", logger.FieldError, err)
	}
	logger.Info("view: stopped", logger.FieldAddr, addr)
	return nil
}

func (s *Server) closeStreams() {
	s.bus.Close()
	s.hub.Close()
}

// accessLog 请求访问日志。
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/healthz" {
			return
		}
		logger.Debug("view: request",
			logger.FieldMethod, c.Request.Method,
			logger.FieldPath, c.Request.URL.Path,
			logger.FieldStatus, c.Writer.Status(),
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
		)
	}
}

// newImageProxy 把图片代理请求原样转发到后端 (后端负责抓取外部图片)。
func newImageProxy(target *url.URL) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(target)
	base := proxy.Director
	proxy.Director = func(r *http.Request) {
		base(r)
		r.Host = target.Host
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("view: image proxy failed", logger.FieldURL, r.URL.String(), logger.FieldError, err)
		w.WriteHeader(http.StatusBadGateway)
	}
	return proxy
}

func dirExists(dir string) bool {
	if dir == "" {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}
