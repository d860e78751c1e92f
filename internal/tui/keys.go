package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap 终端视图按键。按键名与浏览器视图一致, 由控制器按当前屏幕解析。
type KeyMap struct {
	Submit   key.Binding
	Snapshot key.Binding
	Voice    key.Binding
	Cancel   key.Binding
	Talk     key.Binding
	Prev     key.Binding
	Next     key.Binding
	Reset    key.Binding
	Shutdown key.Binding
	Quit     key.Binding
}

// DefaultKeyMap 默认按键。
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "submit"),
		),
		Snapshot: key.NewBinding(
			key.WithKeys("f2"),
			key.WithHelp("f2", "snapshot"),
		),
		Voice: key.NewBinding(
			key.WithKeys("v"),
			key.WithHelp("v", "voice"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("c", "backspace"),
			key.WithHelp("c", "back"),
		),
		// 终端没有按键释放事件, b 在按下/松开之间切换。
		Talk: key.NewBinding(
			key.WithKeys("b"),
			key.WithHelp("b", "talk on/off"),
		),
		Prev: key.NewBinding(
			key.WithKeys("left"),
			key.WithHelp("←", "prev"),
		),
		Next: key.NewBinding(
			key.WithKeys("right"),
			key.WithHelp("→", "next"),
		),
		Reset: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "start over"),
		),
		Shutdown: key.NewBinding(
			key.WithKeys("ctrl+alt+q", "alt+ctrl+q"),
			key.WithHelp("ctrl+alt+q", "power off"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "close terminal"),
		),
	}
}

// helpKeys 实现 help.KeyMap, 只列出当前屏幕可用的按键。
type helpKeys struct {
	bindings []key.Binding
}

func (h helpKeys) ShortHelp() []key.Binding { return h.bindings }

func (h helpKeys) FullHelp() [][]key.Binding { return [][]key.Binding{h.bindings} }
