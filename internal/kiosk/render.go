package kiosk

import (
	"github.com/sparkbox/go-kiosk/internal/chatfmt"
	"github.com/sparkbox/go-kiosk/internal/slides"
	"github.com/sparkbox/go-kiosk/pkg/util"
)

// RenderModel 视图层只读的渲染模型。只有当前屏幕对应的区块非空。
type RenderModel struct {
	Version   uint64          `json:"version"`
	Screen    Screen          `json:"screen"`
	Active    map[Screen]bool `json:"active"`
	Connected bool            `json:"connected"`
	Shutdown  bool            `json:"shutdown,omitempty"`
	SessionID string          `json:"session_id,omitempty"`

	Input   *InputView   `json:"input,omitempty"`
	Loading *LoadingView `json:"loading,omitempty"`
	Result  *ResultView  `json:"result,omitempty"`
	Voice   *VoiceView   `json:"voice,omitempty"`
}

// InputView 输入屏。
type InputView struct {
	Error string `json:"error,omitempty"`
}

// LoadingView 加载屏。
type LoadingView struct {
	Reason LoadReason `json:"reason"`
	Idea   string     `json:"idea,omitempty"`
	Status string     `json:"status,omitempty"`
	Lines  []string   `json:"lines"`
}

// ResultView 幻灯片浏览。
type ResultView struct {
	Slides  []slides.Slide `json:"slides"`
	Index   int            `json:"index"`
	Count   int            `json:"count"`
	Current *slides.Slide  `json:"current,omitempty"`
}

// VoiceView 分页聊天。Typewriter 为最新一条 AI 消息 (位于当前页时)。
type VoiceView struct {
	Messages   []chatfmt.Message `json:"messages"`
	Page       int               `json:"page"`
	Pages      int               `json:"pages"`
	Status     VoiceStatus       `json:"status"`
	Talking    bool              `json:"talking"`
	Typewriter *chatfmt.Message  `json:"typewriter,omitempty"`
}

// Render 从状态派生渲染模型; 页码与幻灯片索引在此夹紧。
func Render(opts Options, s State) RenderModel {
	opts = opts.normalized()
	m := RenderModel{
		Version:   s.Version,
		Screen:    s.Screen,
		Active:    make(map[Screen]bool, len(Screens)),
		Connected: s.Connected,
		Shutdown:  s.ShuttingDown,
	}
	for _, sc := range Screens {
		m.Active[sc] = sc == s.Screen
	}

	switch s.Screen {
	case ScreenInput:
		m.Input = &InputView{Error: s.Error}
	case ScreenLoading:
		m.Loading = &LoadingView{
			Reason: s.LoadReason,
			Idea:   s.Idea,
			Status: s.LoadingStatus,
			Lines:  append([]string{}, s.LogLines...),
		}
	case ScreenResult:
		m.Result = renderResult(s)
	case ScreenVoice:
		m.Voice = renderVoice(opts, s)
	}
	return m
}

func renderResult(s State) *ResultView {
	v := &ResultView{Slides: s.Slides, Count: len(s.Slides)}
	if len(s.Slides) == 0 {
		return v
	}
	v.Index = util.ClampInt(s.SlideIndex, 0, len(s.Slides)-1)
	cur := s.Slides[v.Index]
	v.Current = &cur
	return v
}

func renderVoice(opts Options, s State) *VoiceView {
	items, page, pages := chatfmt.Page(s.Chat, s.ChatPage, opts.PageSize)
	v := &VoiceView{
		Messages: append([]chatfmt.Message{}, items...),
		Page:     page,
		Pages:    pages,
		Status:   s.VoiceStatus,
		Talking:  s.Talking,
	}
	if n := len(s.Chat); n > 0 && page == pages {
		last := s.Chat[n-1]
		if last.Role == chatfmt.RoleAI {
			v.Typewriter = &last
		}
	}
	return v
}
