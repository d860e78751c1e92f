package events

import "strings"

// ControlAction 导航/控制动作。既来自 control 推送事件 (硬件按键), 也来自本地键盘/点击。
type ControlAction string

const (
	ActionSubmit     ControlAction = "submit"
	ActionSnapshot   ControlAction = "snapshot"
	ActionEnterVoice ControlAction = "enter_voice"
	ActionCancel     ControlAction = "cancel_voice"
	ActionNext       ControlAction = "next"
	ActionPrev       ControlAction = "prev"
	ActionReset      ControlAction = "reset"
	ActionTalkStart  ControlAction = "talk_start"
	ActionTalkStop   ControlAction = "talk_stop"
	ActionShutdown   ControlAction = "shutdown"
)

var actionAliases = map[string]ControlAction{
	"submit":       ActionSubmit,
	"snapshot":     ActionSnapshot,
	"enter_voice":  ActionEnterVoice,
	"voice":        ActionEnterVoice,
	"cancel_voice": ActionCancel,
	"exit_voice":   ActionCancel,
	"cancel":       ActionCancel,
	"back":         ActionCancel,
	"next":         ActionNext,
	"right":        ActionNext,
	"prev":         ActionPrev,
	"previous":     ActionPrev,
	"left":         ActionPrev,
	"reset":        ActionReset,
	"talk_start":   ActionTalkStart,
	"talk_stop":    ActionTalkStop,
	"shutdown":     ActionShutdown,
	"quit":         ActionShutdown,
}

// ParseAction 解析动作名 (含别名), 大小写不敏感。
func ParseAction(s string) (ControlAction, bool) {
	a, ok := actionAliases[strings.ToLower(strings.TrimSpace(s))]
	return a, ok
}

// Remote 是否允许由 control 推送事件触发。提交与关机只能来自本地输入。
func (a ControlAction) Remote() bool {
	return a != ActionSubmit && a != ActionShutdown
}
