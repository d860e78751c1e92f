package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/sparkbox/go-kiosk/pkg/logger"
	"github.com/sparkbox/go-kiosk/pkg/util"
)

// 默认轮询参数: 80 次 × 1.5s ≈ 2 分钟。
const (
	DefaultPollInterval    = 1500 * time.Millisecond
	DefaultPollMaxAttempts = 80
)

// Fetcher 拉取最新结果。
type Fetcher interface {
	FetchResult(ctx context.Context) (map[string]any, error)
}

// FetcherFunc 函数适配 Fetcher。
type FetcherFunc func(ctx context.Context) (map[string]any, error)

// FetchResult 实现 Fetcher。
func (f FetcherFunc) FetchResult(ctx context.Context) (map[string]any, error) { return f(ctx) }

// ResultSink 接收有效结果, token 为开启会话时传入的值。
type ResultSink func(token uint64, payload map[string]any)

// PollConfig 轮询参数。
type PollConfig struct {
	Interval    time.Duration
	MaxAttempts int
	Keys        []string
}

// Session 一次轮询会话的标识。Since 之前产生的结果视为旧结果。
type Session struct {
	Token uint64
	Since time.Time
}

// Poller 兜底轮询。任一时刻至多一个活跃会话。
type Poller struct {
	fetcher Fetcher
	cfg     PollConfig
	sink    ResultSink

	mu       sync.Mutex
	active   bool
	attempts int
	gen      uint64
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewPoller 创建轮询器。
func NewPoller(f Fetcher, cfg PollConfig, sink ResultSink) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultPollMaxAttempts
	}
	if len(cfg.Keys) == 0 {
		cfg.Keys = DefaultResultKeys
	}
	return &Poller{fetcher: f, cfg: cfg, sink: sink}
}

// Start 开启会话; 已有活跃会话时什么也不做并返回 false。
func (p *Poller) Start(ctx context.Context, s Session) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return false
	}
	p.gen++
	p.active = true
	p.attempts = 0

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	done := make(chan struct{})
	p.done = done
	gen := p.gen

	logger.Info("poll: session started",
		logger.FieldSeq, s.Token,
		logger.FieldInterval, p.cfg.Interval.String(),
		logger.FieldMax, p.cfg.MaxAttempts,
	)
	util.SafeGo(func() {
		defer close(done)
		p.run(runCtx, gen, s)
	})
	return true
}

// Cancel 取消活跃会话 (幂等)。
func (p *Poller) Cancel() {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return
	}
	p.active = false
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	logger.Info("poll: session cancelled")
}

// Active 是否有活跃会话。
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Attempts 当前 (或最近一次) 会话已发出的请求数。
func (p *Poller) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// Wait 等待最近一次会话的 goroutine 退出 (测试与关机使用)。
func (p *Poller) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (p *Poller) run(ctx context.Context, gen uint64, s Session) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	// 父 ctx 结束时会话同样失效
	defer p.finish(gen)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		attempt, ok := p.tick(gen)
		if !ok {
			return
		}

		payload, err := p.fetcher.FetchResult(ctx)
		if ctx.Err() != nil {
			return
		}
		switch {
		case err != nil:
			logger.Debug("poll: fetch failed", logger.FieldAttempt, attempt, logger.FieldError, err)
		case !IsValidResult(payload, p.cfg.Keys):
			logger.Debug("poll: no result yet", logger.FieldAttempt, attempt)
		case !FreshSince(payload, s.Since):
			logger.Debug("poll: result predates session", logger.FieldAttempt, attempt)
		default:
			if p.finish(gen) {
				logger.Info("poll: result received", logger.FieldAttempt, attempt, logger.FieldSeq, s.Token)
				p.sink(s.Token, payload)
			}
			return
		}

		if attempt >= p.cfg.MaxAttempts {
			if p.finish(gen) {
				logger.Info("poll: attempt ceiling reached", logger.FieldAttempt, attempt, logger.FieldMax, p.cfg.MaxAttempts)
			}
			return
		}
	}
}

// tick 计数一次请求; 会话已被取消或替换时返回 false。
func (p *Poller) tick(gen uint64) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active || p.gen != gen {
		return 0, false
	}
	p.attempts++
	return p.attempts, true
}

// finish 结束会话; 会话已不是当前会话时返回 false。
func (p *Poller) finish(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active || p.gen != gen {
		return false
	}
	p.active = false
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	return true
}
