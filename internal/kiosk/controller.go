package kiosk

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sparkbox/go-kiosk/internal/chatfmt"
	"github.com/sparkbox/go-kiosk/internal/events"
	"github.com/sparkbox/go-kiosk/internal/imgretry"
	"github.com/sparkbox/go-kiosk/internal/reconcile"
	"github.com/sparkbox/go-kiosk/pkg/logger"
	"github.com/sparkbox/go-kiosk/pkg/util"
)

// inboxSize 控制器消息队列容量。
const inboxSize = 256

// Backend 控制器用到的后端命令。
type Backend interface {
	CreateIdea(ctx context.Context, idea string) (map[string]any, error)
	TriggerSnapshot(ctx context.Context) error
	Reset(ctx context.Context) error
	FetchResult(ctx context.Context) (map[string]any, error)
	VoiceStart(ctx context.Context) error
	VoiceStop(ctx context.Context) error
	Quit(ctx context.Context) error
}

// Recorder 会话持久化 (可选)。调用在后台执行, 失败只记日志。
type Recorder interface {
	StartSession(ctx context.Context, sessionID string, at time.Time) error
	RecordTransition(ctx context.Context, sessionID, from, to, reason string, at time.Time) error
	RecordMessages(ctx context.Context, sessionID string, msgs []chatfmt.Message, at time.Time) error
}

// Publisher 接收渲染模型。Publish 不得阻塞。
type Publisher interface {
	Publish(m RenderModel)
}

// Config 控制器参数。
type Config struct {
	Options         Options
	PollInterval    time.Duration
	PollMaxAttempts int
	AnimInterval    time.Duration
	CallTimeout     time.Duration
	ImagePolicy     imgretry.Policy
	// Clock 测试注入; nil 时使用 time.Now。
	Clock func() time.Time
}

// Controller 状态机的唯一写者: 一个 goroutine 串行处理 inbox 中的消息并执行副作用。
type Controller struct {
	cfg      Config
	backend  Backend
	recorder Recorder

	inbox  chan Msg
	done   chan struct{}
	poller *reconcile.Poller
	images *imgretry.Tracker

	// 以下字段只在 Run goroutine 内访问
	state      State
	sessionID  string
	runCtx     context.Context
	animCancel context.CancelFunc

	latest  atomic.Pointer[RenderModel]
	pubMu   sync.RWMutex
	pubs    []Publisher
	running atomic.Bool
}

// NewController 创建控制器。recorder 可为 nil。
func NewController(cfg Config, backend Backend, recorder Recorder) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.AnimInterval <= 0 {
		cfg.AnimInterval = 600 * time.Millisecond
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.ImagePolicy.Ceiling == 0 && cfg.ImagePolicy.Step == 0 {
		rule := cfg.ImagePolicy.Rule
		placeholder := cfg.ImagePolicy.Placeholder
		cfg.ImagePolicy = imgretry.DefaultPolicy()
		cfg.ImagePolicy.Rule = rule
		cfg.ImagePolicy.Placeholder = placeholder
	}
	cfg.Options = cfg.Options.normalized()

	c := &Controller{
		cfg:      cfg,
		backend:  backend,
		recorder: recorder,
		inbox:    make(chan Msg, inboxSize),
		done:     make(chan struct{}),
		images:   imgretry.NewTracker(cfg.ImagePolicy),
		state:    NewState(),
	}
	c.poller = reconcile.NewPoller(backend, reconcile.PollConfig{
		Interval:    cfg.PollInterval,
		MaxAttempts: cfg.PollMaxAttempts,
	}, func(token uint64, payload map[string]any) {
		c.Send(MsgPollResult{Seq: token, Payload: payload})
	})
	m := Render(cfg.Options, c.state)
	c.latest.Store(&m)
	return c
}

// AddPublisher 注册渲染订阅者, 立即收到一次当前模型。
func (c *Controller) AddPublisher(p Publisher) {
	c.pubMu.Lock()
	c.pubs = append(c.pubs, p)
	c.pubMu.Unlock()
	p.Publish(c.Latest())
}

// Latest 最近一次渲染模型。
func (c *Controller) Latest() RenderModel { return *c.latest.Load() }

// Done 控制器停止后关闭。
func (c *Controller) Done() <-chan struct{} { return c.done }

// PollActive 兜底轮询是否在进行。
func (c *Controller) PollActive() bool { return c.poller.Active() }

// PollAttempts 当前 (或最近一次) 轮询会话的请求数。
func (c *Controller) PollAttempts() int { return c.poller.Attempts() }

// ========================================
// 输入
// ========================================

// Send 投递消息; 控制器已停止时返回 false。
func (c *Controller) Send(msg Msg) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.inbox <- msg:
		return true
	case <-c.done:
		return false
	}
}

// Dispatch 投递用户动作。
func (c *Controller) Dispatch(a events.ControlAction, text string) bool {
	return c.Send(MsgAction{Action: a, Text: text})
}

// Key 投递原始按键。
func (c *Controller) Key(key string, pressed bool, text string) bool {
	return c.Send(MsgKey{Key: key, Pressed: pressed, Text: text})
}

// PushEvent 推送通道事件入口 (push.Sink)。
func (c *Controller) PushEvent(ev events.ServerEvent) { c.Send(MsgServerEvent{Event: ev}) }

// ChannelUp 推送通道已连接。
func (c *Controller) ChannelUp() { c.Send(MsgChannelUp{}) }

// ChannelFailure 推送通道失败 (push.FailureFunc)。
func (c *Controller) ChannelFailure(err error) { c.Send(MsgChannelFailure{Err: err}) }

// ImageError 视图上报图片加载失败, 返回重试或占位决定。不经过状态机。
func (c *Controller) ImageError(id, original string) imgretry.Decision {
	nonce := strconv.FormatInt(c.cfg.Clock().UnixMilli(), 10)
	return c.images.Error(id, original, nonce)
}

// ImageLoaded 视图上报图片加载成功。
func (c *Controller) ImageLoaded(id string) { c.images.Loaded(id) }

// ========================================
// 主循环
// ========================================

// Run 处理消息直到 ctx 结束或收到退出动作。
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.runCtx = ctx
	defer c.stop()

	c.newSession()
	c.publish()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-c.inbox:
			if c.handle(msg) {
				return nil
			}
		}
	}
}

// handle 执行一步; 返回 true 表示控制器应停止。
func (c *Controller) handle(msg Msg) bool {
	if ch, ok := msg.(MsgChannelFailure); ok && ch.Err != nil {
		c.log().Debug("kiosk: channel failure received", logger.FieldError, ch.Err)
	}
	next, effs := Step(c.cfg.Options, c.state, msg, c.cfg.Clock())
	changed := next.Version != c.state.Version
	c.state = next

	quit := false
	for _, e := range effs {
		if c.apply(e) {
			quit = true
		}
	}
	if changed {
		c.publish()
	}
	return quit
}

// apply 执行单个副作用; 返回 true 表示退出。
func (c *Controller) apply(e Effect) bool {
	switch e := e.(type) {
	case EffStartAnimation:
		c.startAnimation(e.Seq)
	case EffStopAnimation:
		c.stopAnimation()
	case EffStartPoll:
		if !c.poller.Start(c.runCtx, reconcile.Session{Token: e.Seq, Since: e.Since}) {
			c.log().Debug("kiosk: poll already active", logger.FieldSeq, e.Seq)
		}
	case EffCancelPoll:
		c.poller.Cancel()
	case EffCreateIdea:
		c.call("create", func(ctx context.Context) {
			payload, err := c.backend.CreateIdea(ctx, e.Idea)
			if err != nil {
				logger.Warn("kiosk: create failed", logger.FieldSeq, e.Seq, logger.FieldError, err)
			}
			c.Send(MsgCreateDone{Seq: e.Seq, Payload: payload, Err: err})
		})
	case EffTriggerSnapshot:
		c.call("snapshot", func(ctx context.Context) {
			err := c.backend.TriggerSnapshot(ctx)
			if err != nil {
				logger.Warn("kiosk: snapshot failed", logger.FieldSeq, e.Seq, logger.FieldError, err)
			}
			c.Send(MsgSnapshotDone{Seq: e.Seq, Err: err})
		})
	case EffNotifyReset:
		c.call("reset", func(ctx context.Context) {
			if err := c.backend.Reset(ctx); err != nil {
				logger.Debug("kiosk: reset notification failed", logger.FieldError, err)
			}
		})
	case EffVoiceStart:
		c.call("voice_start", func(ctx context.Context) {
			if err := c.backend.VoiceStart(ctx); err != nil {
				c.Send(MsgVoiceDone{Err: err})
			}
		})
	case EffVoiceStop:
		c.call("voice_stop", func(ctx context.Context) {
			if err := c.backend.VoiceStop(ctx); err != nil {
				c.Send(MsgVoiceDone{Stop: true, Err: err})
			}
		})
	case EffQuit:
		c.stopAnimation()
		c.poller.Cancel()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.runCtx), c.cfg.CallTimeout)
		if err := c.backend.Quit(ctx); err != nil {
			logger.Warn("kiosk: quit notification failed", logger.FieldError, err)
		}
		cancel()
		c.log().Info("kiosk: shutdown requested")
		return true
	case EffNewSession:
		c.newSession()
	case EffSlidesRebuilt:
		c.images.Reset()
		if e.ImageID != "" {
			c.images.Register(e.ImageID, e.Original)
		}
	case EffRecordTransition:
		c.record(func(ctx context.Context, sid string) error {
			return c.recorder.RecordTransition(ctx, sid, string(e.From), string(e.To), e.Reason, e.At)
		})
	case EffRecordMessages:
		c.record(func(ctx context.Context, sid string) error {
			return c.recorder.RecordMessages(ctx, sid, e.Messages, e.At)
		})
	}
	return false
}

// call 后台执行后端调用; 结果如需驱动状态, 由 fn 回投 inbox。
func (c *Controller) call(name string, fn func(ctx context.Context)) {
	parent := c.runCtx
	timeout := c.cfg.CallTimeout
	util.SafeGo(func() {
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()
		start := time.Now()
		fn(ctx)
		logger.Debug("kiosk: backend call finished",
			logger.FieldMethod, name,
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
		)
	})
}

// record 后台持久化, 未配置 Recorder 时跳过。
func (c *Controller) record(fn func(ctx context.Context, sessionID string) error) {
	if c.recorder == nil {
		return
	}
	sid := c.sessionID
	parent := context.WithoutCancel(c.runCtx)
	timeout := c.cfg.CallTimeout
	util.SafeGo(func() {
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()
		if err := fn(ctx, sid); err != nil {
			logger.Warn("kiosk: persist failed", logger.FieldSessionID, sid, logger.FieldError, err)
		}
	})
}

func (c *Controller) newSession() {
	c.sessionID = uuid.NewString()
	c.log().Info("kiosk: session started")
	at := c.cfg.Clock()
	c.record(func(ctx context.Context, sid string) error {
		return c.recorder.StartSession(ctx, sid, at)
	})
}

// startAnimation 开启动画节拍; 旧节拍先停止。
func (c *Controller) startAnimation(seq uint64) {
	c.stopAnimation()
	ctx, cancel := context.WithCancel(c.runCtx)
	c.animCancel = cancel
	interval := c.cfg.AnimInterval
	util.SafeGo(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			select {
			case c.inbox <- MsgAnimTick{Seq: seq}:
			case <-ctx.Done():
				return
			}
		}
	})
}

func (c *Controller) stopAnimation() {
	if c.animCancel != nil {
		c.animCancel()
		c.animCancel = nil
	}
}

func (c *Controller) publish() {
	m := Render(c.cfg.Options, c.state)
	m.SessionID = c.sessionID
	c.latest.Store(&m)

	c.pubMu.RLock()
	defer c.pubMu.RUnlock()
	for _, p := range c.pubs {
		p.Publish(m)
	}
}

// stop 停止所有定时任务并关闭 done。
// done 先关闭, 阻塞在 Send 上的轮询回调随即返回, Wait 不会卡住。
func (c *Controller) stop() {
	c.stopAnimation()
	c.poller.Cancel()
	close(c.done)
	c.poller.Wait()
	c.log().Info("kiosk: controller stopped")
}

func (c *Controller) log() *slog.Logger {
	return logger.With(logger.FieldComponent, "kiosk", logger.FieldSessionID, c.sessionID)
}
