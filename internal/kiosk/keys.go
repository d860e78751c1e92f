package kiosk

import (
	"strings"

	"github.com/sparkbox/go-kiosk/internal/events"
)

// 键名 (小写, 与终端和浏览器键名归一后一致)。
const (
	KeyEnter     = "enter"
	KeySnapshot  = "f2"
	KeyVoice     = "v"
	KeyCancel    = "c"
	KeyBackspace = "backspace"
	KeyTalk      = "b"
	KeyLeft      = "left"
	KeyRight     = "right"
	KeyEscape    = "esc"
	KeyShutdown  = "ctrl+alt+q"
)

var keyAliases = map[string]string{
	"arrowleft":  KeyLeft,
	"arrowright": KeyRight,
	"escape":     KeyEscape,
	"return":     KeyEnter,
	"alt+ctrl+q": KeyShutdown,
}

// NormalizeKey 统一键名: 小写、去空白、浏览器键名映射到终端键名。
func NormalizeKey(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	if alias, ok := keyAliases[k]; ok {
		return alias
	}
	return k
}

// KeyAction 按屏幕解析按键。pressed=false 表示松开, 只有按住说话关心松开。
func KeyAction(screen Screen, key string, pressed bool) (events.ControlAction, bool) {
	k := NormalizeKey(key)
	if k == KeyShutdown {
		return events.ActionShutdown, pressed
	}
	if k == KeyTalk && screen == ScreenVoice {
		if pressed {
			return events.ActionTalkStart, true
		}
		return events.ActionTalkStop, true
	}
	if !pressed {
		return "", false
	}

	switch screen {
	case ScreenInput:
		switch k {
		case KeyEnter:
			return events.ActionSubmit, true
		case KeySnapshot:
			return events.ActionSnapshot, true
		}
	case ScreenLoading:
		if k == KeyEscape {
			return events.ActionReset, true
		}
	case ScreenResult:
		switch k {
		case KeyVoice:
			return events.ActionEnterVoice, true
		case KeyLeft:
			return events.ActionPrev, true
		case KeyRight:
			return events.ActionNext, true
		case KeyEscape:
			return events.ActionReset, true
		}
	case ScreenVoice:
		switch k {
		case KeyCancel, KeyBackspace:
			return events.ActionCancel, true
		case KeyLeft:
			return events.ActionPrev, true
		case KeyRight:
			return events.ActionNext, true
		case KeyEscape:
			return events.ActionReset, true
		}
	}
	return "", false
}
