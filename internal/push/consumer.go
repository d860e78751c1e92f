// Package push 推送通道消费者。
//
// http(s) 地址走 SSE (每个 data 块一条事件), ws(s) 地址走 WebSocket (每帧一条事件)。
// 断线后按封顶指数退避重连, 每次断线经 OnFailure 上报, 由上层决定是否启用兜底轮询。
package push

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sparkbox/go-kiosk/internal/events"
	pkgerr "github.com/sparkbox/go-kiosk/pkg/errors"
	"github.com/sparkbox/go-kiosk/pkg/logger"
)

// 默认参数。
const (
	DefaultReconnectBase = 500 * time.Millisecond
	DefaultReconnectMax  = 15 * time.Second
	// 后端空闲 30s 发一次 keepalive, 超过此时长无数据视为连接失效。
	DefaultIdleTimeout = 45 * time.Second
)

// Sink 接收解码后的事件。
type Sink func(events.ServerEvent)

// FailureFunc 连接失败或断开时调用, err 链上带 ErrTransport。
type FailureFunc func(err error)

// Config 消费者参数。
type Config struct {
	URL           string
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	IdleTimeout   time.Duration
}

// transport 一次连接: 握手成功后调用 open, 阻塞读取直到出错或 ctx 结束, 每条原始消息调用 emit。
type transport interface {
	stream(ctx context.Context, open func(), emit func([]byte)) error
}

// Consumer 推送通道消费者。
type Consumer struct {
	cfg       Config
	sink      Sink
	onFailure FailureFunc
	onConnect func()
	tr        transport

	connected atomic.Bool
	received  atomic.Int64
	dropped   atomic.Int64
}

// New 创建消费者。URL 协议决定传输方式。
func New(cfg Config, sink Sink, onFailure FailureFunc) (*Consumer, error) {
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = DefaultReconnectBase
	}
	if cfg.ReconnectMax < cfg.ReconnectBase {
		cfg.ReconnectMax = DefaultReconnectMax
		if cfg.ReconnectMax < cfg.ReconnectBase {
			cfg.ReconnectMax = cfg.ReconnectBase
		}
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, pkgerr.Wrapf(pkgerr.ErrInvalidInput, "push.New", "parse stream url %q: %v", cfg.URL, err)
	}

	c := &Consumer{cfg: cfg, sink: sink, onFailure: onFailure}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		c.tr = &sseTransport{url: cfg.URL, idle: cfg.IdleTimeout, client: &http.Client{}}
	case "ws", "wss":
		c.tr = &wsTransport{url: cfg.URL, idle: cfg.IdleTimeout}
	default:
		return nil, pkgerr.Newf("push.New", "unsupported stream scheme %q", u.Scheme)
	}
	return c, nil
}

// OnConnect 设置连接建立回调 (在 Run 之前调用)。
func (c *Consumer) OnConnect(f func()) { c.onConnect = f }

// Connected 当前是否已连接。
func (c *Consumer) Connected() bool { return c.connected.Load() }

// Stats 返回已分发与已丢弃的消息数。
func (c *Consumer) Stats() (received, dropped int64) {
	return c.received.Load(), c.dropped.Load()
}

// Run 连接并消费, 断线自动重连, 直到 ctx 结束 (返回 ctx.Err())。
func (c *Consumer) Run(ctx context.Context) error {
	attempt := 0
	for {
		attempt++
		delay := reconnectDelay(attempt, c.cfg.ReconnectBase, c.cfg.ReconnectMax)
		if delay > 0 {
			logger.Warn("push: reconnecting",
				logger.FieldAttempt, attempt,
				logger.FieldDelayMS, delay.Milliseconds(),
				logger.FieldURL, c.cfg.URL,
			)
		}
		if !sleepWithContext(ctx, delay) {
			return ctx.Err()
		}

		err := c.tr.stream(ctx, c.markConnected, c.dispatch)
		wasConnected := c.connected.Swap(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if wasConnected {
			// 连上过: 下一次从基础延迟开始
			attempt = 1
		}
		if err == nil {
			err = pkgerr.New("Consumer.Run", "stream closed")
		}
		failure := pkgerr.WithCode(wrapTransport(err), "Consumer.Run", pkgerr.CodeTransport, "push channel lost")
		logger.Warn("push: channel failure", logger.FieldURL, c.cfg.URL, logger.FieldError, err)
		if c.onFailure != nil {
			c.onFailure(failure)
		}
	}
}

// markConnected 握手成功时调用。
func (c *Consumer) markConnected() {
	if c.connected.Swap(true) {
		return
	}
	logger.Info("push: connected", logger.FieldURL, c.cfg.URL)
	if c.onConnect != nil {
		c.onConnect()
	}
}

// dispatch 解码单条消息; 无法解析的消息记录后丢弃, 连接保持。
func (c *Consumer) dispatch(raw []byte) {
	ev, err := events.Decode(raw)
	if err != nil {
		c.dropped.Add(1)
		logger.Warn("push: event dropped",
			logger.FieldError, err,
			logger.FieldRaw, truncateRaw(raw),
		)
		return
	}
	c.received.Add(1)
	if c.sink != nil {
		c.sink(ev)
	}
}

func truncateRaw(raw []byte) string {
	const n = 256
	if len(raw) <= n {
		return string(raw)
	}
	return string(raw[:n]) + "..."
}

// wrapTransport 保证错误链上有 ErrTransport。
func wrapTransport(err error) error {
	if pkgerr.Is(err, pkgerr.ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: %w", pkgerr.ErrTransport, err)
}

// reconnectDelay 第 1 次立即连接, 之后 base 起翻倍, 封顶 maxDelay。
func reconnectDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := base
	for i := 2; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func sleepWithContext(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
