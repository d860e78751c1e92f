package reconcile

import (
	"math/rand"
	"testing"
	"time"

	"github.com/sparkbox/go-kiosk/internal/events"
)

func TestWatermarkOnlyMovesForward(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	var wm Watermark

	if wm = wm.Advance(base); !wm.Time().Equal(base) {
		t.Fatalf("Time() = %v, want %v", wm.Time(), base)
	}
	if wm = wm.Advance(base.Add(-time.Hour)); !wm.Time().Equal(base) {
		t.Errorf("earlier reset moved the watermark back to %v", wm.Time())
	}
	if wm = wm.Advance(base.Add(time.Second)); !wm.Time().Equal(base.Add(time.Second)) {
		t.Errorf("Time() = %v, want %v", wm.Time(), base.Add(time.Second))
	}
}

func TestFilter(t *testing.T) {
	reset := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	wm := Watermark{}.Advance(reset)

	tests := []struct {
		name string
		ev   events.ServerEvent
		want Verdict
	}{
		{"keepalive", events.ServerEvent{Kind: events.KindKeepalive}, DropKeepalive},
		{"stale", events.ServerEvent{Kind: events.KindComplete, Timestamp: reset.Add(-time.Millisecond), HasTimestamp: true}, DropStale},
		{"equal admitted", events.ServerEvent{Kind: events.KindComplete, Timestamp: reset, HasTimestamp: true}, Dispatch},
		{"newer", events.ServerEvent{Kind: events.KindError, Timestamp: reset.Add(time.Second), HasTimestamp: true}, Dispatch},
		{"no timestamp", events.ServerEvent{Kind: events.KindVoiceUser}, Dispatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Filter(tt.ev, wm); got != tt.want {
				t.Errorf("Filter() = %v, want %v", got, tt.want)
			}
		})
	}
}

// 随机时间戳: 严格早于水位的事件永远不会被分发。
func TestFilterNeverDispatchesStaleProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var wm Watermark

	for i := 0; i < 2000; i++ {
		if rng.Intn(5) == 0 {
			wm = wm.Advance(base.Add(time.Duration(rng.Int63n(int64(time.Hour)))))
		}
		ts := base.Add(time.Duration(rng.Int63n(int64(time.Hour))))
		ev := events.ServerEvent{Kind: events.KindComplete, Timestamp: ts, HasTimestamp: true}

		want := Dispatch
		if ts.Before(wm.Time()) {
			want = DropStale
		}
		if got := Filter(ev, wm); got != want {
			t.Fatalf("step %d: Filter(ts=%v, wm=%v) = %v, want %v", i, ts, wm.Time(), got, want)
		}
	}
}

func TestPlanPoll(t *testing.T) {
	tests := []struct {
		kind events.Kind
		want PollAction
	}{
		{events.KindProcessing, PollStart},
		{events.KindComplete, PollCancel},
		{events.KindError, PollCancel},
		{events.KindVoiceUser, PollKeep},
	}
	for _, tt := range tests {
		if got := PlanPoll(tt.kind); got != tt.want {
			t.Errorf("PlanPoll(%s) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestVerdictString(t *testing.T) {
	if got := DropStale.String(); got != "drop_stale" {
		t.Errorf("DropStale.String() = %q", got)
	}
}
