package kiosk

import (
	"math/rand"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sparkbox/go-kiosk/internal/chatfmt"
	"github.com/sparkbox/go-kiosk/internal/events"
	pkgerr "github.com/sparkbox/go-kiosk/pkg/errors"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func robotPayload() map[string]any {
	return map[string]any{
		"project_name":      "X",
		"materials":         []any{"a", "b"},
		"steps":             []any{"s1"},
		"learning_outcomes": []any{"o1"},
	}
}

// stepAll 依次执行消息, 返回最终状态与最后一步的副作用。
func stepAll(t *testing.T, s State, now time.Time, msgs ...Msg) (State, []Effect) {
	t.Helper()
	var effs []Effect
	for _, m := range msgs {
		s, effs = Step(DefaultOptions(), s, m, now)
	}
	return s, effs
}

func hasEffect[T Effect](effs []Effect) bool {
	for _, e := range effs {
		if _, ok := e.(T); ok {
			return true
		}
	}
	return false
}

func findEffect[T Effect](effs []Effect) (T, bool) {
	for _, e := range effs {
		if v, ok := e.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func submit(text string) Msg { return MsgAction{Action: events.ActionSubmit, Text: text} }

func act(a events.ControlAction) Msg { return MsgAction{Action: a} }

func push(ev events.ServerEvent) Msg { return MsgServerEvent{Event: ev} }

func completeEvent(data map[string]any) events.ServerEvent {
	return events.ServerEvent{Kind: events.KindComplete, Data: data}
}

// stamped 带时间戳的推送事件。
func stamped(kind events.Kind, msg string, ts time.Time) Msg {
	ev := events.ServerEvent{Kind: kind, Message: msg, Timestamp: ts, HasTimestamp: true}
	if kind == events.KindComplete {
		ev.Data = robotPayload()
	}
	return push(ev)
}

// resultState Result 屏幕, 已有四张幻灯片。
func resultState(t *testing.T) State {
	t.Helper()
	s, _ := stepAll(t, NewState(), at(0), submit("build a robot"), push(completeEvent(robotPayload())))
	if s.Screen != ScreenResult {
		t.Fatalf("screen = %s, want result", s.Screen)
	}
	return s
}

func wantScreen(t *testing.T, s State, want Screen) {
	t.Helper()
	if s.Screen != want {
		t.Fatalf("screen = %s, want %s", s.Screen, want)
	}
}

func TestSubmitThenCompleteShowsSlides(t *testing.T) {
	s, effs := Step(DefaultOptions(), NewState(), submit("  build a robot "), at(0))
	wantScreen(t, s, ScreenLoading)
	if s.Idea != "build a robot" || s.LoadSeq != 1 {
		t.Errorf("idea=%q seq=%d", s.Idea, s.LoadSeq)
	}
	if !hasEffect[EffStartAnimation](effs) {
		t.Error("entering Loading does not start the animation")
	}
	start, ok := findEffect[EffStartPoll](effs)
	if !ok || !start.Since.Equal(at(0)) {
		t.Errorf("entering Loading opens a poll session: %+v, %v", start, ok)
	}
	if create, ok := findEffect[EffCreateIdea](effs); !ok || create != (EffCreateIdea{Seq: 1, Idea: "build a robot"}) {
		t.Errorf("create effect = %+v, %v", create, ok)
	}

	s, effs = Step(DefaultOptions(), s, push(completeEvent(robotPayload())), at(5))
	wantScreen(t, s, ScreenResult)
	if len(s.Slides) != 4 || s.SlideIndex != 0 {
		t.Fatalf("slides=%d index=%d", len(s.Slides), s.SlideIndex)
	}
	if s.Slides[0].Title != "X" || !strings.Contains(string(s.Slides[0].Markup), "X") {
		t.Errorf("first slide = %+v", s.Slides[0])
	}
	if !hasEffect[EffStopAnimation](effs) || !hasEffect[EffCancelPoll](effs) || !hasEffect[EffSlidesRebuilt](effs) {
		t.Errorf("leaving Loading effects = %#v", effs)
	}

	m := Render(DefaultOptions(), s)
	if m.Result == nil || m.Result.Count != 4 || m.Result.Current == nil {
		t.Fatalf("result model = %+v", m.Result)
	}
	if !strings.Contains(string(m.Result.Current.Markup), "X") {
		t.Errorf("current markup = %q", m.Result.Current.Markup)
	}
}

func TestErrorEventReturnsToInput(t *testing.T) {
	s, _ := stepAll(t, NewState(), at(0), submit("build a robot"))
	s, effs := Step(DefaultOptions(), s, push(events.ServerEvent{Kind: events.KindError, Message: "boom"}), at(1))

	wantScreen(t, s, ScreenInput)
	if s.Error != "boom" {
		t.Errorf("Error = %q", s.Error)
	}
	if !hasEffect[EffStopAnimation](effs) || !hasEffect[EffCancelPoll](effs) {
		t.Errorf("timers not cancelled: %#v", effs)
	}
	if hasEffect[EffStartPoll](effs) {
		t.Error("poll timer left running")
	}

	if m := Render(DefaultOptions(), s); m.Input == nil || m.Input.Error != "boom" {
		t.Errorf("input model = %+v", m.Input)
	}
}

func TestResetDropsEarlierEvents(t *testing.T) {
	s := resultState(t)
	s, effs := Step(DefaultOptions(), s, act(events.ActionReset), at(10))
	wantScreen(t, s, ScreenInput)
	if !hasEffect[EffNotifyReset](effs) || !hasEffect[EffCancelPoll](effs) || !hasEffect[EffNewSession](effs) {
		t.Errorf("reset effects = %#v", effs)
	}
	if len(s.Slides) != 0 || len(s.Chat) != 0 {
		t.Errorf("reset kept slides=%d chat=%d", len(s.Slides), len(s.Chat))
	}

	stale := completeEvent(robotPayload())
	stale.Timestamp, stale.HasTimestamp = at(9), true
	next, effs := Step(DefaultOptions(), s, push(stale), at(11))
	wantScreen(t, next, ScreenInput)
	if next.Version != s.Version || len(effs) != 0 {
		t.Errorf("stale complete changed state: version %d→%d effects %#v", s.Version, next.Version, effs)
	}

	// 早于水位的 processing 同样被丢弃, 之后的正常生效
	s, _ = Step(DefaultOptions(), next, stamped(events.KindProcessing, "", at(8)), at(12))
	wantScreen(t, s, ScreenInput)

	s, _ = Step(DefaultOptions(), s, stamped(events.KindProcessing, "Vision Analysis...", at(12)), at(12))
	wantScreen(t, s, ScreenLoading)
	if s.LoadReason != LoadBackend || s.LoadingStatus != "Vision Analysis..." {
		t.Errorf("reason=%s status=%q", s.LoadReason, s.LoadingStatus)
	}

	// Loading 中到达的旧 complete 也被丢弃
	s, _ = Step(DefaultOptions(), s, push(stale), at(13))
	wantScreen(t, s, ScreenLoading)
}

// 后端不会因重置中止流水线: 重置前开始的那一轮, 其后续事件不能把屏幕拉回去。
func TestResetDiscardsRunInFlight(t *testing.T) {
	s, _ := stepAll(t, NewState(), at(0), submit("lamp"))
	s, _ = Step(DefaultOptions(), s, stamped(events.KindProcessing, "Analyzing Image...", at(1)), at(1))
	s, _ = Step(DefaultOptions(), s, act(events.ActionReset), at(2))
	wantScreen(t, s, ScreenInput)

	next, effs := Step(DefaultOptions(), s, stamped(events.KindProcessing, "Generating Solution...", at(3)), at(3))
	wantScreen(t, next, ScreenInput)
	if next.Version != s.Version || len(effs) != 0 {
		t.Errorf("old run processing changed state: effects %#v", effs)
	}

	s, _ = Step(DefaultOptions(), next, stamped(events.KindComplete, "", at(4)), at(4))
	wantScreen(t, s, ScreenInput)
	if len(s.Slides) != 0 {
		t.Fatalf("old run result shown: %d slides", len(s.Slides))
	}

	// 那一轮结束后, 新一轮后端处理照常进入 Loading
	s, _ = Step(DefaultOptions(), s, stamped(events.KindProcessing, "Analyzing Image...", at(5)), at(5))
	wantScreen(t, s, ScreenLoading)
}

func TestRunInFlightAtReset(t *testing.T) {
	tests := []struct {
		name string
		// before 重置前, 在 at(1) 执行
		before func(t *testing.T) State
		// after 重置后, 在 at(3) 执行
		after      []Msg
		wantScreen Screen
		wantDrain  bool
	}{
		{
			name: "processing seen on result",
			before: func(t *testing.T) State {
				s, _ := Step(DefaultOptions(), resultState(t), stamped(events.KindProcessing, "", at(1)), at(1))
				return s
			},
			wantScreen: ScreenInput,
			wantDrain:  true,
		},
		{
			name:       "idle result has nothing to drain",
			before:     resultState,
			wantScreen: ScreenInput,
		},
		{
			name: "error ends the old run",
			before: func(t *testing.T) State {
				s, _ := stepAll(t, NewState(), at(1), submit("lamp"))
				return s
			},
			after:      []Msg{stamped(events.KindError, "Vision Failed", at(3))},
			wantScreen: ScreenInput,
		},
		{
			name: "new submit clears the drain",
			before: func(t *testing.T) State {
				s, _ := stepAll(t, NewState(), at(1), submit("lamp"))
				return s
			},
			after:      []Msg{submit("kite")},
			wantScreen: ScreenLoading,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.before(t)
			s, _ = Step(DefaultOptions(), s, act(events.ActionReset), at(2))
			s, _ = stepAll(t, s, at(3), tt.after...)
			wantScreen(t, s, tt.wantScreen)
			if s.DrainRun != tt.wantDrain {
				t.Fatalf("DrainRun = %v, want %v", s.DrainRun, tt.wantDrain)
			}

			want := ScreenLoading
			if tt.wantDrain {
				want = ScreenInput
			}
			s, _ = Step(DefaultOptions(), s, stamped(events.KindProcessing, "", at(4)), at(4))
			wantScreen(t, s, want)
		})
	}
}

func TestWatermarkOnlyMovesForward(t *testing.T) {
	s := resultState(t)
	s, _ = Step(DefaultOptions(), s, act(events.ActionReset), at(20))
	s, _ = Step(DefaultOptions(), s, act(events.ActionReset), at(5))
	if !s.Watermark.Time().Equal(at(20)) {
		t.Errorf("watermark = %v, want %v", s.Watermark.Time(), at(20))
	}
}

func TestStaleEventsNeverDispatched(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	kinds := []events.Kind{
		events.KindProcessing, events.KindComplete, events.KindError, events.KindVoiceUser,
		events.KindVoiceResponse, events.KindVoiceError, events.KindVoiceRecording,
	}
	for i := 0; i < 200; i++ {
		s := NewState()
		resetAt := at(100 + rng.Intn(100))
		s, _ = Step(DefaultOptions(), s, act(events.ActionReset), resetAt)

		ev := events.ServerEvent{
			Kind:         kinds[rng.Intn(len(kinds))],
			Message:      "m",
			Data:         robotPayload(),
			Timestamp:    resetAt.Add(-time.Duration(1+rng.Intn(100000)) * time.Millisecond),
			HasTimestamp: true,
		}
		next, effs := Step(DefaultOptions(), s, push(ev), resetAt.Add(time.Second))
		if next.Version != s.Version || len(effs) != 0 {
			t.Fatalf("event %d (%s) changed state: effects %#v", i, ev.Kind, effs)
		}
	}
}

func TestReenteringCurrentStateIsNoop(t *testing.T) {
	loading, _ := stepAll(t, NewState(), at(0), submit("idea"))
	tests := []struct {
		name string
		s    State
		msg  Msg
	}{
		{"submit while loading", loading, submit("again")},
		{"snapshot while loading", loading, act(events.ActionSnapshot)},
		{"enter voice while loading", loading, act(events.ActionEnterVoice)},
		{"cancel voice on input", NewState(), act(events.ActionCancel)},
		{"empty submit", NewState(), submit("   ")},
		{"talk stop without talking", NewState(), act(events.ActionTalkStop)},
		{"next on input", NewState(), act(events.ActionNext)},
		{"keepalive", loading, push(events.ServerEvent{Kind: events.KindKeepalive})},
		{"processing on result", resultState(t), push(events.ServerEvent{Kind: events.KindProcessing})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, effs := Step(DefaultOptions(), tt.s, tt.msg, at(30))
			if next.Version != tt.s.Version || next.Screen != tt.s.Screen {
				t.Errorf("version %d→%d screen %s→%s", tt.s.Version, next.Version, tt.s.Screen, next.Screen)
			}
			if len(effs) != 0 {
				t.Errorf("effects = %#v", effs)
			}
		})
	}

	voice, _ := stepAll(t, resultState(t), at(1), act(events.ActionEnterVoice))
	next, effs := Step(DefaultOptions(), voice, act(events.ActionEnterVoice), at(2))
	if next.Version != voice.Version || len(effs) != 0 {
		t.Errorf("re-entering voice: version %d→%d effects %#v", voice.Version, next.Version, effs)
	}
}

func TestExactlyOneScreenActive(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	msgs := []Msg{
		submit("idea"), act(events.ActionSnapshot), act(events.ActionEnterVoice), act(events.ActionCancel),
		act(events.ActionNext), act(events.ActionPrev), act(events.ActionReset),
		act(events.ActionTalkStart), act(events.ActionTalkStop),
		push(completeEvent(robotPayload())),
		push(events.ServerEvent{Kind: events.KindError, Message: "boom"}),
		push(events.ServerEvent{Kind: events.KindProcessing}),
		push(events.ServerEvent{Kind: events.KindVoiceResponse, Message: "hello there"}),
		MsgChannelFailure{Err: pkgerr.ErrTransport},
		MsgAnimTick{Seq: 1},
	}
	s := NewState()
	for i := 0; i < 500; i++ {
		s, _ = Step(DefaultOptions(), s, msgs[rng.Intn(len(msgs))], at(i))
		m := Render(DefaultOptions(), s)

		active := 0
		for _, on := range m.Active {
			if on {
				active++
			}
		}
		if active != 1 || !m.Active[s.Screen] {
			t.Fatalf("step %d: active = %v, screen %s", i, m.Active, s.Screen)
		}

		sections := 0
		for _, present := range []bool{m.Input != nil, m.Loading != nil, m.Result != nil, m.Voice != nil} {
			if present {
				sections++
			}
		}
		if sections != 1 {
			t.Fatalf("step %d: %d sections rendered", i, sections)
		}
	}
}

func TestRebuildResetsSlideIndex(t *testing.T) {
	s := resultState(t)
	s, _ = stepAll(t, s, at(1), act(events.ActionNext), act(events.ActionNext))
	if s.SlideIndex != 2 {
		t.Fatalf("SlideIndex = %d, want 2", s.SlideIndex)
	}

	s, _ = stepAll(t, s, at(2), act(events.ActionReset), submit("second idea"))
	payload := robotPayload()
	payload["project_name"] = "Y"
	s, _ = Step(DefaultOptions(), s, push(completeEvent(payload)), at(3))
	wantScreen(t, s, ScreenResult)
	if s.SlideIndex != 0 || s.Slides[0].Title != "Y" {
		t.Errorf("index=%d title=%q", s.SlideIndex, s.Slides[0].Title)
	}
}

func TestSlideNavigationClamps(t *testing.T) {
	s := resultState(t)
	s, _ = stepAll(t, s, at(1), act(events.ActionPrev))
	if s.SlideIndex != 0 {
		t.Errorf("prev on first slide: index = %d", s.SlideIndex)
	}
	for i := 0; i < 10; i++ {
		s, _ = Step(DefaultOptions(), s, act(events.ActionNext), at(1))
	}
	if s.SlideIndex != 3 {
		t.Errorf("next past the end: index = %d", s.SlideIndex)
	}

	s, _ = Step(DefaultOptions(), s, MsgGotoSlide{Index: 1}, at(2))
	if s.SlideIndex != 1 {
		t.Errorf("goto 1: index = %d", s.SlideIndex)
	}
	s, _ = Step(DefaultOptions(), s, MsgGotoSlide{Index: 99}, at(2))
	if s.SlideIndex != 3 {
		t.Errorf("goto 99: index = %d", s.SlideIndex)
	}
}

func TestPreviewImageCacheBusted(t *testing.T) {
	payload := robotPayload()
	payload["preview_image"] = "/static/2.png"
	s, _ := stepAll(t, NewState(), at(0), submit("robot"))
	s, effs := Step(DefaultOptions(), s, push(completeEvent(payload)), at(1))

	img := s.Slides[0].Image
	if img == nil {
		t.Fatal("preview image missing")
	}
	if img.Original != "/static/2.png" {
		t.Errorf("Original = %q", img.Original)
	}
	if want := "/static/2.png?t=" + strconv.FormatInt(at(1).UnixMilli(), 10); img.Src != want {
		t.Errorf("Src = %q, want %q", img.Src, want)
	}

	rebuilt, ok := findEffect[EffSlidesRebuilt](effs)
	if !ok || rebuilt.ImageID != img.ID || rebuilt.Original != "/static/2.png" {
		t.Errorf("rebuilt effect = %+v, %v", rebuilt, ok)
	}
}

func TestProcessingDrivesPolling(t *testing.T) {
	// Input: 后端开始处理, 进入 Loading
	s, effs := Step(DefaultOptions(), NewState(), push(events.ServerEvent{Kind: events.KindProcessing, Message: "Analyzing Image..."}), at(0))
	wantScreen(t, s, ScreenLoading)
	if !hasEffect[EffStartPoll](effs) || hasEffect[EffCreateIdea](effs) {
		t.Errorf("effects = %#v", effs)
	}
	if len(s.LogLines) != 1 || s.LogLines[0] != "Analyzing Image..." {
		t.Errorf("LogLines = %q", s.LogLines)
	}

	// Loading: 再次要求轮询 (控制器侧对活跃会话无操作)
	s, effs = Step(DefaultOptions(), s, push(events.ServerEvent{Kind: events.KindProcessing, Message: "Generating Solution..."}), at(3))
	poll, ok := findEffect[EffStartPoll](effs)
	if !ok || poll.Seq != s.LoadSeq || !poll.Since.Equal(at(0)) {
		t.Errorf("poll effect = %+v, %v", poll, ok)
	}
	if s.LoadingStatus != "Generating Solution..." {
		t.Errorf("LoadingStatus = %q", s.LoadingStatus)
	}
}

func TestChannelFailure(t *testing.T) {
	s, effs := Step(DefaultOptions(), State{Screen: ScreenInput, Connected: true}, MsgChannelFailure{Err: pkgerr.ErrTransport}, at(0))
	if s.Connected || hasEffect[EffStartPoll](effs) {
		t.Errorf("input: connected=%v effects=%#v", s.Connected, effs)
	}

	loading, _ := stepAll(t, NewState(), at(0), submit("idea"))
	if _, effs = Step(DefaultOptions(), loading, MsgChannelFailure{Err: pkgerr.ErrTransport}, at(1)); !hasEffect[EffStartPoll](effs) {
		t.Error("channel failure while loading does not fall back to polling")
	}

	if s, _ = Step(DefaultOptions(), s, MsgChannelUp{}, at(2)); !s.Connected {
		t.Error("ChannelUp did not mark connected")
	}
}

func TestAsyncResultsGuardedBySeq(t *testing.T) {
	s, _ := stepAll(t, NewState(), at(0), submit("first"))
	first := s.LoadSeq
	s, _ = stepAll(t, s, at(1), act(events.ActionReset), submit("second"))
	if s.LoadSeq == first {
		t.Fatal("LoadSeq not advanced")
	}

	// 第一次提交的迟到结果
	next, effs := Step(DefaultOptions(), s, MsgCreateDone{Seq: first, Payload: robotPayload()}, at(2))
	if next.Screen != ScreenLoading || next.Version != s.Version || len(effs) != 0 {
		t.Errorf("late create applied: screen=%s effects=%#v", next.Screen, effs)
	}
	if next, _ = Step(DefaultOptions(), s, MsgPollResult{Seq: first, Payload: robotPayload()}, at(2)); next.Screen != ScreenLoading {
		t.Errorf("late poll applied: screen=%s", next.Screen)
	}

	// 当前会话的轮询结果生效
	if next, _ = Step(DefaultOptions(), s, MsgPollResult{Seq: s.LoadSeq, Payload: robotPayload()}, at(3)); next.Screen != ScreenResult {
		t.Errorf("current poll ignored: screen=%s", next.Screen)
	}
}

func TestCreateDone(t *testing.T) {
	s, _ := stepAll(t, NewState(), at(0), submit("idea"))

	tests := []struct {
		name       string
		msg        MsgCreateDone
		wantScreen Screen
		wantError  string
	}{
		{"result payload", MsgCreateDone{Payload: robotPayload()}, ScreenResult, ""},
		{"ack only keeps loading", MsgCreateDone{Payload: map[string]any{"status": "processing"}}, ScreenLoading, ""},
		{
			"backend error surfaced",
			MsgCreateDone{Err: pkgerr.WithCode(pkgerr.ErrBackend, "Client.CreateIdea", pkgerr.CodeBackend, "System offline")},
			ScreenInput, "System offline",
		},
		{"transport error", MsgCreateDone{Err: pkgerr.ErrTransport}, ScreenInput, msgBackendUnreachable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.msg.Seq = s.LoadSeq
			next, _ := Step(DefaultOptions(), s, tt.msg, at(1))
			if next.Screen != tt.wantScreen || next.Error != tt.wantError {
				t.Errorf("screen=%s error=%q, want %s %q", next.Screen, next.Error, tt.wantScreen, tt.wantError)
			}
		})
	}
}

func TestSnapshotFlow(t *testing.T) {
	s, effs := Step(DefaultOptions(), NewState(), act(events.ActionSnapshot), at(0))
	wantScreen(t, s, ScreenLoading)
	if s.LoadReason != LoadSnapshot || !hasEffect[EffTriggerSnapshot](effs) {
		t.Errorf("reason=%s effects=%#v", s.LoadReason, effs)
	}

	if next, _ := Step(DefaultOptions(), s, MsgSnapshotDone{Seq: s.LoadSeq}, at(1)); next.Screen != ScreenLoading {
		t.Errorf("snapshot ack left Loading: %s", next.Screen)
	}

	err := pkgerr.WithCode(pkgerr.ErrBackend, "Client.TriggerSnapshot", pkgerr.CodeBackend, "No camera frame available")
	next, _ := Step(DefaultOptions(), s, MsgSnapshotDone{Seq: s.LoadSeq, Err: err}, at(1))
	if next.Screen != ScreenInput || next.Error != "No camera frame available" {
		t.Errorf("screen=%s error=%q", next.Screen, next.Error)
	}
}

func TestVoiceSession(t *testing.T) {
	opts := DefaultOptions()
	s := resultState(t)

	s, _ = Step(opts, s, act(events.ActionEnterVoice), at(1))
	wantScreen(t, s, ScreenVoice)
	if len(s.Chat) != 1 || s.Chat[0].Role != chatfmt.RoleSystem || s.Chat[0].Text != opts.StandbyMessage {
		t.Fatalf("chat = %+v, want the standby message", s.Chat)
	}

	// 再次进入不重复写入待机消息
	if s, _ = stepAll(t, s, at(2), act(events.ActionCancel), act(events.ActionEnterVoice)); len(s.Chat) != 1 {
		t.Errorf("standby message repeated: %d messages", len(s.Chat))
	}

	s, effs := Step(opts, s, act(events.ActionTalkStart), at(3))
	if !s.Talking || s.VoiceStatus != VoiceRecording || !hasEffect[EffVoiceStart](effs) {
		t.Errorf("talk start: talking=%v status=%s effects=%#v", s.Talking, s.VoiceStatus, effs)
	}

	s, effs = Step(opts, s, act(events.ActionTalkStop), at(4))
	if s.Talking || s.VoiceStatus != VoiceProcessing || !hasEffect[EffVoiceStop](effs) {
		t.Errorf("talk stop: talking=%v status=%s effects=%#v", s.Talking, s.VoiceStatus, effs)
	}

	s, effs = Step(opts, s, push(events.ServerEvent{Kind: events.KindVoiceUser, Message: "what *glue* do I need?"}), at(5))
	if last := s.Chat[len(s.Chat)-1]; last.Role != chatfmt.RoleUser || last.Text != "what glue do I need?" {
		t.Errorf("last message = %+v", last)
	}
	if rec, ok := findEffect[EffRecordMessages](effs); !ok || len(rec.Messages) != 1 {
		t.Errorf("record effect = %+v, %v", rec, ok)
	}

	long := strings.Repeat("abcdefghi ", 50) // 500 字符, 无段落
	s, _ = Step(opts, s, push(events.ServerEvent{Kind: events.KindVoiceResponse, Message: long}), at(6))
	var parts []chatfmt.Message
	for _, m := range s.Chat {
		if m.Role == chatfmt.RoleAI {
			parts = append(parts, m)
		}
	}
	if len(parts) < 3 {
		t.Fatalf("AI reply split into %d parts, want >= 3", len(parts))
	}
	for i, p := range parts {
		if n := len([]rune(p.Text)); n > opts.ChunkMax {
			t.Errorf("part %d length %d > %d", i, n, opts.ChunkMax)
		}
		if !strings.HasPrefix(p.Text, chatfmt.Label(i+1, len(parts))) {
			t.Errorf("part %d = %q, missing label", i, p.Text)
		}
	}
	if s.VoiceStatus != VoiceIdle {
		t.Errorf("VoiceStatus = %s", s.VoiceStatus)
	}
	pages := chatfmt.PageCount(len(s.Chat), opts.PageSize)
	if s.ChatPage != pages {
		t.Errorf("ChatPage = %d, new AI reply jumps to last page %d", s.ChatPage, pages)
	}

	m := Render(opts, s)
	if m.Voice == nil || m.Voice.Typewriter == nil || m.Voice.Typewriter.Text != parts[len(parts)-1].Text {
		t.Fatalf("typewriter = %+v", m.Voice)
	}

	s, _ = Step(opts, s, act(events.ActionPrev), at(7))
	if s.ChatPage != pages-1 {
		t.Errorf("ChatPage = %d after prev", s.ChatPage)
	}
	if Render(opts, s).Voice.Typewriter != nil {
		t.Error("typewriter shown on an earlier page")
	}

	s, _ = Step(opts, s, push(events.ServerEvent{Kind: events.KindVoiceError, Message: "No speech detected"}), at(8))
	if last := s.Chat[len(s.Chat)-1]; last.Role != chatfmt.RoleSystem {
		t.Errorf("voice error role = %s", last.Role)
	}
}

func TestCancelVoiceWhileTalking(t *testing.T) {
	s, _ := stepAll(t, resultState(t), at(1), act(events.ActionEnterVoice), act(events.ActionTalkStart))
	s, effs := Step(DefaultOptions(), s, act(events.ActionCancel), at(2))
	wantScreen(t, s, ScreenResult)
	if s.Talking || !hasEffect[EffVoiceStop](effs) {
		t.Errorf("talking=%v effects=%#v", s.Talking, effs)
	}
}

func TestRemoteControlEvents(t *testing.T) {
	s := resultState(t)
	ctl := func(a events.ControlAction) Msg {
		return push(events.ServerEvent{Kind: events.KindControl, Action: a})
	}
	if s, _ = Step(DefaultOptions(), s, ctl(events.ActionNext), at(1)); s.SlideIndex != 1 {
		t.Errorf("remote next: index = %d", s.SlideIndex)
	}
	s, _ = Step(DefaultOptions(), s, ctl(events.ActionEnterVoice), at(2))
	wantScreen(t, s, ScreenVoice)

	// 远程不允许关机
	next, effs := Step(DefaultOptions(), s, ctl(events.ActionShutdown), at(3))
	if next.ShuttingDown || len(effs) != 0 {
		t.Errorf("remote shutdown accepted: %#v", effs)
	}

	s, _ = Step(DefaultOptions(), s, ctl(events.ActionReset), at(4))
	wantScreen(t, s, ScreenInput)
}

func TestShutdown(t *testing.T) {
	s, _ := stepAll(t, NewState(), at(0), submit("idea"))
	s, effs := Step(DefaultOptions(), s, MsgKey{Key: "ctrl+alt+q", Pressed: true}, at(1))
	if !s.ShuttingDown {
		t.Fatal("ShuttingDown = false")
	}
	if !hasEffect[EffQuit](effs) || !hasEffect[EffStopAnimation](effs) || !hasEffect[EffCancelPoll](effs) {
		t.Errorf("shutdown effects = %#v", effs)
	}

	next, effs := Step(DefaultOptions(), s, act(events.ActionReset), at(2))
	if next.Version != s.Version || len(effs) != 0 {
		t.Errorf("action after shutdown applied: %#v", effs)
	}
}

func TestAnimationTicks(t *testing.T) {
	opts := DefaultOptions()
	opts.LogMaxLines = 3
	s, _ := Step(opts, NewState(), submit("idea"), at(0))

	if stale, _ := Step(opts, s, MsgAnimTick{Seq: s.LoadSeq + 1}, at(1)); stale.Version != s.Version {
		t.Error("tick from another loading session applied")
	}

	for i := 0; i < 5; i++ {
		s, _ = Step(opts, s, MsgAnimTick{Seq: s.LoadSeq}, at(1+i))
	}
	if s.LogTick != 5 || len(s.LogLines) != 3 {
		t.Fatalf("tick=%d lines=%q", s.LogTick, s.LogLines)
	}
	if s.LogLines[2] != LogLine(LoadIdea, 5) {
		t.Errorf("last line = %q", s.LogLines[2])
	}
}

func TestStepDoesNotMutateInput(t *testing.T) {
	s := resultState(t)
	s, _ = Step(DefaultOptions(), s, act(events.ActionEnterVoice), at(1))
	chat := make([]chatfmt.Message, len(s.Chat), len(s.Chat)+8)
	copy(chat, s.Chat)
	s.Chat = chat
	before := append([]chatfmt.Message(nil), s.Chat[:cap(s.Chat)]...)

	_, _ = Step(DefaultOptions(), s, push(events.ServerEvent{Kind: events.KindVoiceUser, Message: "hi"}), at(2))
	if !reflect.DeepEqual(before, s.Chat[:cap(s.Chat)]) {
		t.Error("Step wrote into the caller's chat backing array")
	}
}

func TestKeyMessages(t *testing.T) {
	s, _ := Step(DefaultOptions(), NewState(), MsgKey{Key: "Enter", Pressed: true, Text: "lamp"}, at(0))
	wantScreen(t, s, ScreenLoading)
	if s.Idea != "lamp" {
		t.Errorf("Idea = %q", s.Idea)
	}

	s, _ = Step(DefaultOptions(), s, MsgKey{Key: "Escape", Pressed: true}, at(1))
	wantScreen(t, s, ScreenInput)
}

func TestChunkMaxClampedToMinimum(t *testing.T) {
	opts := DefaultOptions()
	opts.ChunkMax = 5
	if got := opts.normalized().ChunkMax; got != chatfmt.MinChunkLength {
		t.Errorf("normalized ChunkMax = %d, want %d", got, chatfmt.MinChunkLength)
	}
}
