package kiosk

import (
	"time"

	"github.com/sparkbox/go-kiosk/internal/chatfmt"
	"github.com/sparkbox/go-kiosk/internal/events"
)

// ========================================
// 输入消息
// ========================================

// Msg 状态机输入。外部输入、推送事件、异步调用结果都以 Msg 进入控制器。
type Msg interface{ isMsg() }

// MsgAction 用户动作 (键盘、点击) 或远程控制。Text 仅 submit 使用。
type MsgAction struct {
	Action events.ControlAction
	Text   string
}

// MsgKey 原始按键, 由 KeyAction 按当前屏幕解析。Text 为输入框内容 (Enter 提交用)。
type MsgKey struct {
	Key     string
	Pressed bool
	Text    string
}

// MsgGotoSlide 直接跳到指定幻灯片 (点击指示点)。
type MsgGotoSlide struct{ Index int }

// MsgServerEvent 推送通道事件。
type MsgServerEvent struct{ Event events.ServerEvent }

// MsgChannelUp 推送通道已连接。
type MsgChannelUp struct{}

// MsgChannelFailure 推送通道断开或连接失败。
type MsgChannelFailure struct{ Err error }

// MsgCreateDone create 调用返回。
type MsgCreateDone struct {
	Seq     uint64
	Payload map[string]any
	Err     error
}

// MsgSnapshotDone snapshot 调用返回。
type MsgSnapshotDone struct {
	Seq uint64
	Err error
}

// MsgPollResult 兜底轮询拿到有效结果。
type MsgPollResult struct {
	Seq     uint64
	Payload map[string]any
}

// MsgVoiceDone 语音 start/stop 调用返回。
type MsgVoiceDone struct {
	Stop bool
	Err  error
}

// MsgAnimTick 加载动画节拍。
type MsgAnimTick struct{ Seq uint64 }

func (MsgAction) isMsg()         {}
func (MsgKey) isMsg()            {}
func (MsgGotoSlide) isMsg()      {}
func (MsgServerEvent) isMsg()    {}
func (MsgChannelUp) isMsg()      {}
func (MsgChannelFailure) isMsg() {}
func (MsgCreateDone) isMsg()     {}
func (MsgSnapshotDone) isMsg()   {}
func (MsgPollResult) isMsg()     {}
func (MsgVoiceDone) isMsg()      {}
func (MsgAnimTick) isMsg()       {}

// ========================================
// 副作用
// ========================================

// Effect Step 产生的副作用, 由控制器执行。
type Effect interface{ isEffect() }

// EffStartAnimation 开始加载动画。
type EffStartAnimation struct{ Seq uint64 }

// EffStopAnimation 停止加载动画 (幂等)。
type EffStopAnimation struct{}

// EffStartPoll 开启兜底轮询; 已有活跃会话时无操作。
type EffStartPoll struct {
	Seq   uint64
	Since time.Time
}

// EffCancelPoll 取消兜底轮询 (幂等)。
type EffCancelPoll struct{}

// EffCreateIdea 调用 create。
type EffCreateIdea struct {
	Seq  uint64
	Idea string
}

// EffTriggerSnapshot 调用 snapshot。
type EffTriggerSnapshot struct{ Seq uint64 }

// EffNotifyReset 通知后端重置, 失败忽略。
type EffNotifyReset struct{}

// EffVoiceStart / EffVoiceStop 按住说话。
type EffVoiceStart struct{}

// EffVoiceStop 松开说话。
type EffVoiceStop struct{}

// EffQuit 通知后端退出并停止控制器。
type EffQuit struct{}

// EffNewSession 重置后开始新会话。
type EffNewSession struct{}

// EffSlidesRebuilt 幻灯片重建, 旧图片实例的重试状态作废。
type EffSlidesRebuilt struct {
	ImageID  string
	Original string
}

// EffRecordTransition 持久化一次屏幕迁移。
type EffRecordTransition struct {
	From, To Screen
	Reason   string
	At       time.Time
}

// EffRecordMessages 持久化新增聊天记录。
type EffRecordMessages struct {
	Messages []chatfmt.Message
	At       time.Time
}

func (EffStartAnimation) isEffect()   {}
func (EffStopAnimation) isEffect()    {}
func (EffStartPoll) isEffect()        {}
func (EffCancelPoll) isEffect()       {}
func (EffCreateIdea) isEffect()       {}
func (EffTriggerSnapshot) isEffect()  {}
func (EffNotifyReset) isEffect()      {}
func (EffVoiceStart) isEffect()       {}
func (EffVoiceStop) isEffect()        {}
func (EffQuit) isEffect()             {}
func (EffNewSession) isEffect()       {}
func (EffSlidesRebuilt) isEffect()    {}
func (EffRecordTransition) isEffect() {}
func (EffRecordMessages) isEffect()   {}
