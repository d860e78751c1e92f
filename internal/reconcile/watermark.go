// Package reconcile 合并推送通道与兜底轮询: 重置水位过滤、结果校验、轮询会话生命周期。
package reconcile

import (
	"time"

	"github.com/sparkbox/go-kiosk/internal/events"
)

// Watermark 重置水位。只前进不后退。
type Watermark struct {
	t time.Time
}

// Time 当前水位时间; 从未重置时为零值。
func (w Watermark) Time() time.Time { return w.t }

// Advance 返回推进到 t 后的水位; t 早于当前水位时不变。
func (w Watermark) Advance(t time.Time) Watermark {
	if t.After(w.t) {
		return Watermark{t: t}
	}
	return w
}

// AdmitsTime 时间戳严格早于水位时返回 false。
func (w Watermark) AdmitsTime(t time.Time) bool {
	return !t.Before(w.t)
}

// Admits 事件是否通过水位。不带时间戳的事件总是通过。
func (w Watermark) Admits(ev events.ServerEvent) bool {
	if !ev.HasTimestamp {
		return true
	}
	return w.AdmitsTime(ev.Timestamp)
}

// Verdict 过滤结果。
type Verdict int

const (
	Dispatch Verdict = iota
	DropKeepalive
	DropStale
)

func (v Verdict) String() string {
	switch v {
	case Dispatch:
		return "dispatch"
	case DropKeepalive:
		return "drop_keepalive"
	case DropStale:
		return "drop_stale"
	}
	return "unknown"
}

// Filter 对一条推送事件做过滤判定。通过的事件按到达顺序分发, 不做重排。
func Filter(ev events.ServerEvent, wm Watermark) Verdict {
	if ev.Kind == events.KindKeepalive {
		return DropKeepalive
	}
	if !wm.Admits(ev) {
		return DropStale
	}
	return Dispatch
}

// PollAction 事件对轮询会话的影响。
type PollAction int

const (
	PollKeep PollAction = iota
	PollStart
	PollCancel
)

// PlanPoll 推送事件对应的轮询动作: processing 开启 (防止开工后通道立刻断开),
// complete/error 优先于轮询并立即取消。
func PlanPoll(kind events.Kind) PollAction {
	switch kind {
	case events.KindProcessing:
		return PollStart
	case events.KindComplete, events.KindError:
		return PollCancel
	}
	return PollKeep
}
