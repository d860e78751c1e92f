// Package imgretry 单个图片实例的加载重试策略。
//
// 失败时按 (retryCount+1) × Step 退避重试, 达到上限后永久替换为占位图;
// 成功则清零计数。状态只属于一个图片实例, 幻灯片重建后不保留。
package imgretry

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sparkbox/go-kiosk/internal/slides"
	"github.com/sparkbox/go-kiosk/pkg/logger"
)

// 默认策略: 最多重试 3 次, 步长 2s (退避 2s/4s/6s)。
const (
	DefaultCeiling = 3
	DefaultStep    = 2 * time.Second
)

// Policy 重试参数与地址重推导规则。
type Policy struct {
	Ceiling     int
	Step        time.Duration
	Rule        slides.ImageRule
	Placeholder string
}

// DefaultPolicy 返回默认策略。
func DefaultPolicy() Policy {
	return Policy{Ceiling: DefaultCeiling, Step: DefaultStep}
}

// Attempt 一个图片实例的加载状态。
type Attempt struct {
	ID          string
	OriginalURL string
	RetryCount  int
	// Failed 达到上限后置位, 之后不再重试。
	Failed bool
}

// Decision OnError 的结果: 重试 (Delay 后加载 Src) 或换成占位图 (Placeholder=true)。
type Decision struct {
	Retry       bool
	Delay       time.Duration
	Src         string
	Placeholder bool
	Attempt     int
}

// OnError 记录一次加载失败并给出下一步。
//
// nonce 用于重新生成缓存破坏参数, 为空时使用重试次数。
func (p Policy) OnError(a *Attempt, nonce string) Decision {
	if a.Failed || a.RetryCount >= p.Ceiling {
		a.Failed = true
		return Decision{Placeholder: true, Src: p.Placeholder, Attempt: a.RetryCount}
	}
	delay := time.Duration(a.RetryCount+1) * p.Step
	a.RetryCount++
	if nonce == "" {
		nonce = "r" + strconv.Itoa(a.RetryCount)
	}
	return Decision{
		Retry:   true,
		Delay:   delay,
		Src:     p.Rule.Resolve(a.OriginalURL, nonce),
		Attempt: a.RetryCount,
	}
}

// OnLoad 加载成功, 清零计数。
func (p Policy) OnLoad(a *Attempt) {
	a.RetryCount = 0
}

// Fetch 尝试加载 src, 返回 nil 表示成功。
type Fetch func(ctx context.Context, src string) error

// Load 阻塞地加载一个图片, 失败按策略退避重试。
// 返回最终使用的地址与是否为占位图; ctx 取消时返回 ctx.Err()。
func (p Policy) Load(ctx context.Context, a *Attempt, src string, fetch Fetch) (string, bool, error) {
	log := logger.FromContext(ctx).With(logger.FieldImageID, a.ID)
	for {
		if err := fetch(ctx, src); err == nil {
			p.OnLoad(a)
			return src, false, nil
		} else if ctx.Err() != nil {
			return "", false, ctx.Err()
		} else {
			log.Debug("imgretry: load failed", logger.FieldURL, src, logger.FieldError, err)
		}

		d := p.OnError(a, "")
		if d.Placeholder {
			log.Warn("imgretry: retries exhausted, using placeholder", logger.FieldAttempt, d.Attempt)
			return d.Src, true, nil
		}
		log.Info("imgretry: retry scheduled", logger.FieldAttempt, d.Attempt, logger.FieldDelayMS, d.Delay.Milliseconds())

		timer := time.NewTimer(d.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", false, ctx.Err()
		case <-timer.C:
		}
		src = d.Src
	}
}

// Tracker 按图片实例 id 保存 Attempt, 供视图层上报 error/load 事件。
// Reset 在幻灯片重建时调用, 丢弃所有旧实例。
type Tracker struct {
	policy   Policy
	mu       sync.Mutex
	attempts map[string]*Attempt
}

// NewTracker 创建 Tracker。
func NewTracker(p Policy) *Tracker {
	return &Tracker{policy: p, attempts: make(map[string]*Attempt)}
}

// Policy 返回当前策略。
func (t *Tracker) Policy() Policy { return t.policy }

// Register 登记一个图片实例。已存在则保留原状态。
func (t *Tracker) Register(id, original string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.attempts[id]; !ok {
		t.attempts[id] = &Attempt{ID: id, OriginalURL: original}
	}
}

// Error 上报加载失败。未登记的实例以 original 登记后处理。
func (t *Tracker) Error(id, original, nonce string) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.attempts[id]
	if !ok {
		a = &Attempt{ID: id, OriginalURL: original}
		t.attempts[id] = a
	}
	d := t.policy.OnError(a, nonce)
	if d.Placeholder {
		logger.Warn("imgretry: placeholder substituted", logger.FieldImageID, id, logger.FieldAttempt, d.Attempt)
	} else {
		logger.Info("imgretry: retry scheduled", logger.FieldImageID, id, logger.FieldAttempt, d.Attempt, logger.FieldDelayMS, d.Delay.Milliseconds())
	}
	return d
}

// Loaded 上报加载成功。
func (t *Tracker) Loaded(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.attempts[id]; ok {
		t.policy.OnLoad(a)
	}
}

// Reset 清空所有实例状态。
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts = make(map[string]*Attempt)
}

// Get 返回实例状态副本。
func (t *Tracker) Get(id string) (Attempt, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.attempts[id]
	if !ok {
		return Attempt{}, false
	}
	return *a, true
}
