package kiosk

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/sparkbox/go-kiosk/internal/chatfmt"
	"github.com/sparkbox/go-kiosk/internal/events"
	"github.com/sparkbox/go-kiosk/internal/reconcile"
	"github.com/sparkbox/go-kiosk/internal/slides"
	pkgerr "github.com/sparkbox/go-kiosk/pkg/errors"
	"github.com/sparkbox/go-kiosk/pkg/logger"
	"github.com/sparkbox/go-kiosk/pkg/util"
)

// 面向用户的错误文案。
const (
	msgProcessingFailed   = "Processing failed, please try again."
	msgBackendUnreachable = "The assistant is not reachable right now, please try again."
)

// Step 纯状态迁移: 旧状态 + 消息 → 新状态 + 副作用。
// 不修改入参 s 引用的切片; 状态有变化时 Version 递增。
func Step(opts Options, s State, msg Msg, now time.Time) (State, []Effect) {
	st := &stepper{opts: opts.normalized(), s: s, now: now}
	switch m := msg.(type) {
	case MsgAction:
		st.action(m.Action, m.Text)
	case MsgKey:
		if a, ok := KeyAction(st.s.Screen, m.Key, m.Pressed); ok {
			st.action(a, m.Text)
		}
	case MsgGotoSlide:
		st.gotoSlide(m.Index)
	case MsgServerEvent:
		st.serverEvent(m.Event)
	case MsgChannelUp:
		if !st.s.Connected {
			st.s.Connected = true
			st.touch()
		}
	case MsgChannelFailure:
		st.channelFailure()
	case MsgCreateDone:
		st.createDone(m)
	case MsgSnapshotDone:
		if st.current(m.Seq, "snapshot") && m.Err != nil {
			st.failLoading(userMessage(m.Err), "snapshot failed")
		}
	case MsgPollResult:
		if st.current(m.Seq, "poll") {
			st.applyResult(m.Payload, "poll")
		}
	case MsgVoiceDone:
		st.voiceDone(m)
	case MsgAnimTick:
		if st.s.Screen == ScreenLoading && m.Seq == st.s.LoadSeq {
			st.s.LogTick++
			st.addLogLine(LogLine(st.s.LoadReason, st.s.LogTick))
		}
	}
	if st.changed {
		st.s.Version++
	}
	return st.s, st.effs
}

type stepper struct {
	opts    Options
	s       State
	now     time.Time
	effs    []Effect
	changed bool
}

func (st *stepper) emit(effs ...Effect) { st.effs = append(st.effs, effs...) }

func (st *stepper) touch() { st.changed = true }

// transition 切换屏幕并挂接进入/离开副作用; 目标即当前屏幕时无操作。
func (st *stepper) transition(to Screen, reason string) bool {
	from := st.s.Screen
	if from == to {
		return false
	}
	if from == ScreenLoading {
		st.emit(EffStopAnimation{}, EffCancelPoll{})
		st.s.LogLines = nil
		st.s.LoadingStatus = ""
	}
	st.s.Screen = to
	if to == ScreenLoading {
		st.s.LoadSeq++
		st.s.LoadingSince = st.now
		st.s.LogLines = nil
		st.s.LogTick = 0
		st.s.LoadingStatus = ""
		st.emit(
			EffStartAnimation{Seq: st.s.LoadSeq},
			EffStartPoll{Seq: st.s.LoadSeq, Since: st.now},
		)
	}
	st.emit(EffRecordTransition{From: from, To: to, Reason: reason, At: st.now})
	logger.Info("kiosk: screen transition",
		logger.FieldFrom, string(from),
		logger.FieldTo, string(to),
		logger.FieldAction, reason,
		logger.FieldSeq, st.s.LoadSeq,
	)
	st.touch()
	return true
}

// ========================================
// 用户动作
// ========================================

func (st *stepper) action(a events.ControlAction, text string) {
	if st.s.ShuttingDown {
		return
	}
	switch a {
	case events.ActionSubmit:
		idea := strings.TrimSpace(text)
		if st.s.Screen != ScreenInput || idea == "" {
			return
		}
		st.s.Idea = idea
		st.s.Error = ""
		st.s.DrainRun = false
		st.s.LoadReason = LoadIdea
		st.transition(ScreenLoading, "submit")
		st.emit(EffCreateIdea{Seq: st.s.LoadSeq, Idea: idea})

	case events.ActionSnapshot:
		if st.s.Screen != ScreenInput {
			return
		}
		st.s.Error = ""
		st.s.DrainRun = false
		st.s.LoadReason = LoadSnapshot
		st.transition(ScreenLoading, "snapshot")
		st.emit(EffTriggerSnapshot{Seq: st.s.LoadSeq})

	case events.ActionEnterVoice:
		if st.s.Screen != ScreenResult {
			return
		}
		st.transition(ScreenVoice, "enter_voice")
		if !st.s.VoiceSeeded {
			st.s.VoiceSeeded = true
			st.appendChat(chatfmt.RoleSystem, st.opts.StandbyMessage)
		}
		st.s.ChatPage = chatfmt.PageCount(len(st.s.Chat), st.opts.PageSize)

	case events.ActionCancel:
		if st.s.Screen != ScreenVoice {
			return
		}
		if st.s.Talking {
			st.s.Talking = false
			st.s.VoiceStatus = VoiceIdle
			st.emit(EffVoiceStop{})
		}
		st.transition(ScreenResult, "cancel_voice")

	case events.ActionNext:
		st.navigate(1)
	case events.ActionPrev:
		st.navigate(-1)

	case events.ActionReset:
		st.reset()

	case events.ActionTalkStart:
		if st.s.Screen != ScreenVoice || st.s.Talking {
			return
		}
		st.s.Talking = true
		st.s.VoiceStatus = VoiceRecording
		st.touch()
		st.emit(EffVoiceStart{})

	case events.ActionTalkStop:
		if !st.s.Talking {
			return
		}
		st.s.Talking = false
		st.s.VoiceStatus = VoiceProcessing
		st.touch()
		st.emit(EffVoiceStop{})

	case events.ActionShutdown:
		st.s.ShuttingDown = true
		if st.s.Screen == ScreenLoading {
			st.emit(EffStopAnimation{}, EffCancelPoll{})
		}
		st.touch()
		st.emit(EffQuit{})
	}
}

// reset 推进水位线, 清空会话数据, 回到 Input 并通知后端。
func (st *stepper) reset() {
	st.s.Watermark = st.s.Watermark.Advance(st.now)
	// 后端不会因重置中止流水线, 那一轮后续的事件时间戳仍晚于水位线
	st.s.DrainRun = st.s.BackendRun || st.s.Screen == ScreenLoading
	st.s.BackendRun = false
	st.s.Chat = nil
	st.s.ChatPage = 1
	st.s.VoiceSeeded = false
	st.s.VoiceStatus = VoiceIdle
	st.s.Talking = false
	st.s.Slides = nil
	st.s.SlideIndex = 0
	st.s.ResultAt = time.Time{}
	st.s.Idea = ""
	st.s.Error = ""
	st.emit(EffCancelPoll{})
	st.transition(ScreenInput, "reset")
	st.emit(EffNotifyReset{}, EffNewSession{})
	st.touch()
}

// navigate Result 翻幻灯片, Voice 翻聊天页。
func (st *stepper) navigate(delta int) {
	switch st.s.Screen {
	case ScreenResult:
		st.gotoSlide(st.s.SlideIndex + delta)
	case ScreenVoice:
		pages := chatfmt.PageCount(len(st.s.Chat), st.opts.PageSize)
		page := util.ClampInt(st.s.ChatPage+delta, 1, pages)
		if page != st.s.ChatPage {
			st.s.ChatPage = page
			st.touch()
		}
	}
}

func (st *stepper) gotoSlide(index int) {
	if st.s.Screen != ScreenResult || len(st.s.Slides) == 0 {
		return
	}
	index = util.ClampInt(index, 0, len(st.s.Slides)-1)
	if index != st.s.SlideIndex {
		st.s.SlideIndex = index
		st.touch()
	}
}

// ========================================
// 推送事件
// ========================================

type serverEventHandler func(*stepper, events.ServerEvent)

var serverEventHandlers = map[events.Kind]serverEventHandler{
	events.KindProcessing:      handleProcessing,
	events.KindComplete:        handleComplete,
	events.KindError:           handleError,
	events.KindControl:         handleControl,
	events.KindVoiceRecording:  handleVoiceStatus(VoiceRecording),
	events.KindVoiceProcessing: handleVoiceStatus(VoiceProcessing),
	events.KindVoiceUser:       handleVoiceUser,
	events.KindVoiceResponse:   handleVoiceResponse,
	events.KindVoiceError:      handleVoiceError,
}

func (st *stepper) serverEvent(ev events.ServerEvent) {
	switch reconcile.Filter(ev, st.s.Watermark) {
	case reconcile.DropKeepalive:
		return
	case reconcile.DropStale:
		logger.Debug("kiosk: stale event dropped",
			logger.FieldEventType, string(ev.Kind),
			logger.FieldTimestamp, ev.Timestamp,
			logger.FieldWatermark, st.s.Watermark.Time(),
		)
		return
	}
	if h, ok := serverEventHandlers[ev.Kind]; ok {
		h(st, ev)
	}
	// complete/error 优先于轮询, 无论当前屏幕
	if reconcile.PlanPoll(ev.Kind) == reconcile.PollCancel {
		st.emit(EffCancelPoll{})
	}
}

func handleProcessing(st *stepper, ev events.ServerEvent) {
	st.s.BackendRun = true
	switch st.s.Screen {
	case ScreenInput:
		if st.s.DrainRun {
			logger.Debug("kiosk: processing from run before reset ignored", logger.FieldWatermark, st.s.Watermark.Time())
			return
		}
		st.s.Error = ""
		st.s.LoadReason = LoadBackend
		st.transition(ScreenLoading, "processing")
	case ScreenLoading:
		// 处理已开始: 推送通道随时可能断开, 兜底轮询提前就位
		st.emit(EffStartPoll{Seq: st.s.LoadSeq, Since: st.s.LoadingSince})
	default:
		logger.Debug("kiosk: processing ignored", logger.FieldScreen, string(st.s.Screen))
		return
	}
	if msg := strings.TrimSpace(ev.Message); msg != "" {
		st.s.LoadingStatus = msg
		st.addLogLine(msg)
	}
}

func handleComplete(st *stepper, ev events.ServerEvent) {
	st.endRun()
	if st.s.Screen != ScreenLoading {
		logger.Debug("kiosk: complete ignored", logger.FieldScreen, string(st.s.Screen))
		return
	}
	st.applyResult(ev.Data, "complete")
}

func handleError(st *stepper, ev events.ServerEvent) {
	st.endRun()
	if st.s.Screen != ScreenLoading {
		logger.Debug("kiosk: error event ignored", logger.FieldScreen, string(st.s.Screen))
		return
	}
	msg := strings.TrimSpace(ev.Message)
	if msg == "" {
		msg = msgProcessingFailed
	}
	st.failLoading(msg, "error")
}

// endRun 后端一轮处理结束 (complete/error)。
func (st *stepper) endRun() {
	st.s.BackendRun = false
	st.s.DrainRun = false
}

func handleControl(st *stepper, ev events.ServerEvent) {
	if !ev.Action.Remote() {
		logger.Debug("kiosk: control action not allowed remotely", logger.FieldAction, string(ev.Action))
		return
	}
	st.action(ev.Action, "")
}

func handleVoiceStatus(status VoiceStatus) serverEventHandler {
	return func(st *stepper, _ events.ServerEvent) {
		if st.s.VoiceStatus != status {
			st.s.VoiceStatus = status
			st.touch()
		}
	}
}

func handleVoiceUser(st *stepper, ev events.ServerEvent) {
	st.appendChat(chatfmt.RoleUser, ev.Message)
	st.s.VoiceStatus = VoiceProcessing
	st.touch()
}

func handleVoiceResponse(st *stepper, ev events.ServerEvent) {
	st.appendChat(chatfmt.RoleAI, ev.Message)
	st.s.VoiceStatus = VoiceIdle
	st.touch()
}

func handleVoiceError(st *stepper, ev events.ServerEvent) {
	st.appendChat(chatfmt.RoleSystem, ev.Message)
	st.s.VoiceStatus = VoiceIdle
	st.s.Talking = false
	st.touch()
}

// ========================================
// 异步结果
// ========================================

// current 异步结果是否属于当前 Loading 会话。
func (st *stepper) current(seq uint64, what string) bool {
	if st.s.Screen == ScreenLoading && seq == st.s.LoadSeq {
		return true
	}
	logger.Debug("kiosk: stale response dropped",
		logger.FieldAction, what,
		logger.FieldSeq, seq,
		logger.FieldScreen, string(st.s.Screen),
	)
	return false
}

func (st *stepper) createDone(m MsgCreateDone) {
	if !st.current(m.Seq, "create") {
		return
	}
	if m.Err != nil {
		st.failLoading(userMessage(m.Err), "create failed")
		return
	}
	if reconcile.IsValidResult(m.Payload, nil) {
		st.applyResult(m.Payload, "create")
	}
	// 否则结果稍后经推送或轮询到达
}

func (st *stepper) voiceDone(m MsgVoiceDone) {
	if m.Err == nil {
		return
	}
	op := "start"
	if m.Stop {
		op = "stop"
	}
	logger.Warn("kiosk: voice call failed", logger.FieldAction, op, logger.FieldError, m.Err)
	st.s.Talking = false
	st.s.VoiceStatus = VoiceIdle
	st.touch()
	if st.s.Screen == ScreenVoice {
		st.appendChat(chatfmt.RoleSystem, "Voice "+op+" failed: "+userMessage(m.Err))
	}
}

func (st *stepper) channelFailure() {
	if st.s.Connected {
		st.s.Connected = false
		st.touch()
	}
	if st.s.Screen == ScreenLoading {
		st.emit(EffStartPoll{Seq: st.s.LoadSeq, Since: st.s.LoadingSince})
	}
}

// applyResult 构建幻灯片并进入 Result, 幻灯片索引归零。
func (st *stepper) applyResult(payload map[string]any, reason string) {
	nonce := strconv.FormatInt(st.now.UnixMilli(), 10)
	built := slides.BuildFromPayload(payload, slides.Options{Rule: st.opts.ImageRule, Nonce: nonce})
	st.s.Slides = built
	st.s.SlideIndex = 0
	st.s.ResultAt = st.now
	st.s.Error = ""
	st.transition(ScreenResult, reason)
	st.touch()

	var rebuilt EffSlidesRebuilt
	if len(built) > 0 && built[0].Image != nil {
		rebuilt = EffSlidesRebuilt{ImageID: built[0].Image.ID, Original: built[0].Image.Original}
	}
	st.emit(rebuilt)
}

// failLoading 回到 Input 并展示错误。
func (st *stepper) failLoading(msg, reason string) {
	st.s.Error = msg
	st.transition(ScreenInput, reason)
	st.touch()
}

// ========================================
// 辅助
// ========================================

func (st *stepper) appendChat(role chatfmt.Role, text string) {
	msgs := chatfmt.Expand(role, text, st.opts.ChunkMax)
	msgs = slices.DeleteFunc(msgs, func(m chatfmt.Message) bool { return strings.TrimSpace(m.Text) == "" })
	if len(msgs) == 0 {
		return
	}
	st.s.Chat = append(slices.Clip(st.s.Chat), msgs...)
	st.s.ChatPage = chatfmt.PageCount(len(st.s.Chat), st.opts.PageSize)
	st.emit(EffRecordMessages{Messages: msgs, At: st.now})
	st.touch()
}

func (st *stepper) addLogLine(line string) {
	lines := append(slices.Clip(st.s.LogLines), line)
	if n := st.opts.LogMaxLines; len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	st.s.LogLines = lines
	st.touch()
}

// userMessage 错误的用户可见文案: 后端错误原样展示, 传输错误用通用文案。
func userMessage(err error) string {
	if pkgerr.Is(err, pkgerr.ErrBackend) {
		var ae *pkgerr.AppError
		if pkgerr.As(err, &ae) && strings.TrimSpace(ae.Message) != "" {
			return ae.Message
		}
		return msgProcessingFailed
	}
	return msgBackendUnreachable
}
