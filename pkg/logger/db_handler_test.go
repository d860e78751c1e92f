package logger

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

// ─── MultiHandler ───

func TestMultiHandler_FanOut(t *testing.T) {
	var records1, records2 []slog.Record
	h1 := &captureHandler{records: &records1}
	h2 := &captureHandler{records: &records2}

	slog.New(NewMultiHandler(h1, h2)).Info("test message")

	if len(records1) != 1 || len(records2) != 1 {
		t.Errorf("expected 1 record in each handler, got %d and %d", len(records1), len(records2))
	}
}

func TestMultiHandler_EnabledAny(t *testing.T) {
	warn := &DBHandler{level: slog.LevelWarn, closed: newClosedFlag()}
	debug := &DBHandler{level: slog.LevelDebug, closed: newClosedFlag()}
	m := NewMultiHandler(warn, debug)
	if !m.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("MultiHandler should be enabled when any child is")
	}
}

// ─── applyAttr ───

func TestApplyAttr_KnownFields(t *testing.T) {
	e := &LogEntry{}

	applyAttr(e, slog.String(FieldComponent, "reconcile"))
	applyAttr(e, slog.String(FieldSessionID, "s-1"))
	applyAttr(e, slog.String(FieldScreen, "loading"))
	applyAttr(e, slog.String(FieldEventType, "complete"))

	if e.Component != "reconcile" {
		t.Errorf("Component = %q", e.Component)
	}
	if e.SessionID != "s-1" {
		t.Errorf("SessionID = %q", e.SessionID)
	}
	if e.Screen != "loading" {
		t.Errorf("Screen = %q", e.Screen)
	}
	if e.EventType != "complete" {
		t.Errorf("EventType = %q", e.EventType)
	}
	if e.Extra != nil {
		t.Errorf("Extra = %v, want nil", e.Extra)
	}
}

func TestApplyAttr_UnknownGoesToExtra(t *testing.T) {
	e := &LogEntry{}
	applyAttr(e, slog.Int(FieldAttempt, 3))
	applyAttr(e, slog.Any(FieldError, errors.New("boom")))

	if e.Extra == nil {
		t.Fatal("Extra should not be nil")
	}
	if v := e.Extra[FieldAttempt]; v != int64(3) {
		t.Errorf("Extra[attempt] = %v (%T)", v, v)
	}
	if v := e.Extra[FieldError]; v != "boom" {
		t.Errorf("Extra[error] = %v, want boom", v)
	}
}

func TestApplyAttr_DurationMS(t *testing.T) {
	tests := []struct {
		name string
		attr slog.Attr
		want int
	}{
		{"int64", slog.Int64(FieldDurationMS, 42), 42},
		{"int", slog.Any(FieldDurationMS, int(100)), 100},
		{"float64", slog.Any(FieldDurationMS, float64(99.7)), 99},
		{"duration", slog.Any(FieldDurationMS, 1500*time.Millisecond), 1500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &LogEntry{}
			applyAttr(e, tt.attr)
			if e.DurationMS == nil || *e.DurationMS != tt.want {
				t.Errorf("DurationMS = %v, want %d", e.DurationMS, tt.want)
			}
		})
	}
}

// ─── DBHandler (in-memory, no PG) ───

func TestDBHandler_Handle_PopulatesEntry(t *testing.T) {
	h := &DBHandler{
		buf:    make(chan LogEntry, 10),
		level:  slog.LevelInfo,
		done:   make(chan struct{}),
		closed: newClosedFlag(),
	}
	withAttrs := h.WithAttrs([]slog.Attr{slog.String(FieldSessionID, "s-9")})

	record := slog.NewRecord(time.Now(), slog.LevelInfo, "poll started", 0)
	record.AddAttrs(slog.String(FieldScreen, "loading"))

	if err := withAttrs.Handle(context.Background(), record); err != nil {
		t.Fatal(err)
	}

	select {
	case entry := <-h.buf:
		if entry.Message != "poll started" {
			t.Errorf("Message = %q", entry.Message)
		}
		if entry.SessionID != "s-9" {
			t.Errorf("SessionID = %q", entry.SessionID)
		}
		if entry.Screen != "loading" {
			t.Errorf("Screen = %q", entry.Screen)
		}
	default:
		t.Fatal("expected entry in buffer")
	}
}

func TestDBHandler_NotEnabled_BelowLevel(t *testing.T) {
	h := &DBHandler{level: slog.LevelWarn}
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("should not be enabled for INFO when level is WARN")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("should be enabled for ERROR when level is WARN")
	}
}

// Shutdown 后 Handle 不应 panic, 重复 Shutdown 安全。
func TestDBHandler_ShutdownIdempotent(t *testing.T) {
	h := NewDBHandler(nil, slog.LevelInfo)
	l := slog.New(h)
	l.Info("before shutdown")

	h.Shutdown()
	h.Shutdown()

	l.Info("after shutdown")
}

// ─── helpers ───

type captureHandler struct {
	records *[]slog.Record
}

func (h *captureHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }
func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	*h.records = append(*h.records, r)
	return nil
}
func (h *captureHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(_ string) slog.Handler      { return h }

func newClosedFlag() *atomic.Bool { return &atomic.Bool{} }
