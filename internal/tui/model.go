// Package tui 终端视图: 订阅控制器渲染模型, 把按键转发给控制器。
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sparkbox/go-kiosk/internal/chatfmt"
	"github.com/sparkbox/go-kiosk/internal/kiosk"
)

const (
	typeInterval = 30 * time.Millisecond
	typeStep     = 2
)

// Kiosk 终端视图依赖的控制器能力。
type Kiosk interface {
	Latest() kiosk.RenderModel
	Key(key string, pressed bool, text string) bool
}

// renderMsg 控制器发布的新渲染模型。
type renderMsg kiosk.RenderModel

// typeTickMsg 打字机动画节拍。gen 用于丢弃旧目标的节拍。
type typeTickMsg struct{ gen int }

// imageMsg 终端图片检查结果。
type imageMsg struct {
	id          string
	src         string
	placeholder bool
	err         error
}

// Model bubbletea 模型。
type Model struct {
	ctx    context.Context
	kiosk  Kiosk
	keys   KeyMap
	help   help.Model
	input  textinput.Model
	images *ImageChecker

	model   kiosk.RenderModel
	talking bool
	width   int

	// 打字机
	target string
	shown  int
	gen    int

	// 图片检查状态, 按实例 id
	imageState map[string]string
}

// New 创建模型。images 为空时不检查图片。
func New(ctx context.Context, k Kiosk, images *ImageChecker) Model {
	ti := textinput.New()
	ti.Placeholder = "Describe your idea..."
	ti.CharLimit = 500
	ti.Width = 60
	ti.Focus()

	m := Model{
		ctx:        ctx,
		kiosk:      k,
		keys:       DefaultKeyMap(),
		help:       help.New(),
		input:      ti,
		images:     images,
		imageState: make(map[string]string),
	}
	m.model = k.Latest()
	return m
}

// Init 启动光标闪烁。
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update 处理渲染模型、按键与动画节拍。
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case renderMsg:
		return m.applyRender(kiosk.RenderModel(msg))

	case typeTickMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		total := utf8.RuneCountInString(m.target)
		m.shown = min(m.shown+typeStep, total)
		if m.shown < total {
			return m, m.typeTick()
		}
		return m, nil

	case imageMsg:
		switch {
		case msg.err != nil:
			delete(m.imageState, msg.id)
		case msg.placeholder:
			m.imageState[msg.id] = "image unavailable"
		default:
			m.imageState[msg.id] = "image: " + msg.src
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	if m.model.Screen == kiosk.ScreenInput {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) applyRender(next kiosk.RenderModel) (tea.Model, tea.Cmd) {
	prev := m.model
	m.model = next
	if next.Shutdown {
		return m, tea.Quit
	}

	var cmds []tea.Cmd
	if next.Voice != nil {
		m.talking = next.Voice.Talking
	} else {
		m.talking = false
	}
	if next.Screen == kiosk.ScreenInput {
		if prev.Screen != kiosk.ScreenInput {
			cmds = append(cmds, m.input.Focus())
		}
	} else {
		if prev.Screen == kiosk.ScreenInput {
			m.input.Reset()
		}
		m.input.Blur()
	}

	if target := typewriterTarget(next); target != m.target {
		m.target = target
		m.shown = 0
		m.gen++
		if target != "" {
			cmds = append(cmds, m.typeTick())
		}
	}

	if next.Result != nil && next.Result.Current != nil && next.Result.Current.Image != nil && m.images != nil {
		img := next.Result.Current.Image
		if _, ok := m.imageState[img.ID]; !ok {
			m.imageState[img.ID] = "loading image..."
			cmds = append(cmds, m.checkImage(img.ID, img.Original, img.Src))
		}
	}
	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		return m, tea.Quit
	}
	if key.Matches(msg, m.keys.Shutdown) {
		m.kiosk.Key(msg.String(), true, "")
		return m, nil
	}

	switch m.model.Screen {
	case kiosk.ScreenInput:
		switch {
		case key.Matches(msg, m.keys.Submit):
			m.kiosk.Key(msg.String(), true, m.input.Value())
			return m, nil
		case key.Matches(msg, m.keys.Snapshot):
			m.kiosk.Key(msg.String(), true, "")
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case kiosk.ScreenVoice:
		if key.Matches(msg, m.keys.Talk) {
			m.talking = !m.talking
			m.kiosk.Key(msg.String(), m.talking, "")
			return m, nil
		}
	}

	m.kiosk.Key(msg.String(), true, "")
	return m, nil
}

func (m Model) typeTick() tea.Cmd {
	gen := m.gen
	return tea.Tick(typeInterval, func(time.Time) tea.Msg { return typeTickMsg{gen: gen} })
}

func (m Model) checkImage(id, original, src string) tea.Cmd {
	ctx, images := m.ctx, m.images
	return func() tea.Msg {
		final, placeholder, err := images.Check(ctx, id, original, src)
		return imageMsg{id: id, src: final, placeholder: placeholder, err: err}
	}
}

// typewriterTarget 当前屏幕需要逐字显示的文字。
func typewriterTarget(m kiosk.RenderModel) string {
	switch {
	case m.Result != nil && m.Result.Current != nil:
		return m.Result.Current.TypewriterText
	case m.Voice != nil && m.Voice.Typewriter != nil:
		return m.Voice.Typewriter.Text
	}
	return ""
}

// reveal 返回 s 的前 n 个字符。
func reveal(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// ========================================
// View
// ========================================

// View 渲染当前屏幕。
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n")

	var body string
	switch m.model.Screen {
	case kiosk.ScreenInput:
		body = m.viewInput()
	case kiosk.ScreenLoading:
		body = m.viewLoading()
	case kiosk.ScreenResult:
		body = m.viewResult()
	case kiosk.ScreenVoice:
		body = m.viewVoice()
	}
	style := bodyStyle
	if m.width > 4 {
		style = style.Width(m.width - 2)
	}
	b.WriteString(style.Render(body))
	b.WriteString("\n")
	b.WriteString(m.help.View(m.screenKeys()))
	return b.String()
}

func (m Model) header() string {
	status := onlineStyle.Render("● live")
	if !m.model.Connected {
		status = offlineStyle.Render("● polling")
	}
	return headerStyle.Render("KIOSK · "+strings.ToUpper(string(m.model.Screen))) + "  " + status
}

func (m Model) viewInput() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("What do you want to build?"))
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	if m.model.Input != nil && m.model.Input.Error != "" {
		b.WriteString("\n\n")
		b.WriteString(errorStyle.Render(m.model.Input.Error))
	}
	return b.String()
}

func (m Model) viewLoading() string {
	v := m.model.Loading
	if v == nil {
		return ""
	}
	var b strings.Builder
	title := "Working on your idea"
	if v.Reason == kiosk.LoadSnapshot {
		title = "Analysing snapshot"
	}
	b.WriteString(titleStyle.Render(title))
	if v.Idea != "" {
		b.WriteString("  " + mutedStyle.Render(v.Idea))
	}
	b.WriteString("\n\n")
	for _, line := range v.Lines {
		b.WriteString(mutedStyle.Render(line))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) viewResult() string {
	v := m.model.Result
	if v == nil || v.Current == nil {
		return mutedStyle.Render("No slides.")
	}
	cur := v.Current
	var b strings.Builder
	b.WriteString(titleStyle.Render(cur.Title))
	b.WriteString("\n\n")
	if cur.TypewriterText != "" {
		b.WriteString(reveal(cur.TypewriterText, m.shown))
		b.WriteString("\n")
	}
	for _, line := range cur.Lines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if cur.Image != nil {
		if state, ok := m.imageState[cur.Image.ID]; ok {
			b.WriteString(mutedStyle.Render("[" + state + "]"))
			b.WriteString("\n")
		}
	}
	dots := make([]string, v.Count)
	for i := range dots {
		dots[i] = inactiveDot
		if i == v.Index {
			dots[i] = activeDot
		}
	}
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, strings.Join(dots, " ")))
	return b.String()
}

func (m Model) viewVoice() string {
	v := m.model.Voice
	if v == nil {
		return ""
	}
	var b strings.Builder
	for i, msg := range v.Messages {
		text := msg.Text
		if i == len(v.Messages)-1 && v.Typewriter != nil && msg.Text == v.Typewriter.Text {
			text = reveal(text, m.shown)
		}
		b.WriteString(roleLabel(msg.Role))
		b.WriteString(" ")
		b.WriteString(text)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	status := string(v.Status)
	if m.talking {
		status = "recording (press b to stop)"
	}
	b.WriteString(mutedStyle.Render(fmt.Sprintf("page %d/%d · %s", v.Page, v.Pages, status)))
	return b.String()
}

func roleLabel(r chatfmt.Role) string {
	switch r {
	case chatfmt.RoleUser:
		return userStyle.Render("you:")
	case chatfmt.RoleAI:
		return aiStyle.Render("ai:")
	default:
		return systemStyle.Render("·")
	}
}

func (m Model) screenKeys() helpKeys {
	k := m.keys
	switch m.model.Screen {
	case kiosk.ScreenInput:
		return helpKeys{[]key.Binding{k.Submit, k.Snapshot, k.Quit}}
	case kiosk.ScreenLoading:
		return helpKeys{[]key.Binding{k.Reset, k.Quit}}
	case kiosk.ScreenResult:
		return helpKeys{[]key.Binding{k.Prev, k.Next, k.Voice, k.Reset, k.Quit}}
	case kiosk.ScreenVoice:
		return helpKeys{[]key.Binding{k.Talk, k.Prev, k.Next, k.Cancel, k.Reset, k.Quit}}
	}
	return helpKeys{[]key.Binding{k.Quit}}
}
