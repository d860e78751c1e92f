// Package kiosk 屏幕状态机与控制器。
//
// 状态迁移是纯函数 Step(opts, state, msg, now) → (state, effects),
// Render 从状态派生渲染模型; Controller 作为唯一写者串行执行消息与副作用。
package kiosk

import (
	"time"

	"github.com/sparkbox/go-kiosk/internal/chatfmt"
	"github.com/sparkbox/go-kiosk/internal/reconcile"
	"github.com/sparkbox/go-kiosk/internal/slides"
)

// Screen 当前屏幕, 任一时刻恰好一个。
type Screen string

const (
	ScreenInput   Screen = "input"
	ScreenLoading Screen = "loading"
	ScreenResult  Screen = "result"
	ScreenVoice   Screen = "voice"
)

// Screens 全部屏幕, 顺序固定。
var Screens = []Screen{ScreenInput, ScreenLoading, ScreenResult, ScreenVoice}

// LoadReason 进入 Loading 的来源。
type LoadReason string

const (
	LoadIdea     LoadReason = "idea"
	LoadSnapshot LoadReason = "snapshot"
	// LoadBackend 后端主动开始处理 (硬件拍照键)。
	LoadBackend LoadReason = "backend"
)

// VoiceStatus 语音会话状态行。
type VoiceStatus string

const (
	VoiceIdle       VoiceStatus = "idle"
	VoiceRecording  VoiceStatus = "recording"
	VoiceProcessing VoiceStatus = "processing"
)

// State 状态机全部数据。只由 Step 产生新值, 外部只读。
type State struct {
	Screen Screen
	// Version 每次可见状态变化递增, 视图据此去重。
	Version uint64

	Watermark reconcile.Watermark
	// BackendRun 后端有一轮处理在进行 (收到过 processing, 尚未 complete/error)。
	BackendRun bool
	// DrainRun 重置时仍在进行的那一轮尚未结束; 期间 processing 不能把 Input 拉回 Loading。
	DrainRun bool

	// LoadSeq 每次进入 Loading 递增; 异步结果携带它, 不匹配即丢弃。
	LoadSeq       uint64
	LoadingSince  time.Time
	LoadReason    LoadReason
	LoadingStatus string
	LogLines      []string
	LogTick       int

	Idea  string
	Error string

	Slides     []slides.Slide
	SlideIndex int
	ResultAt   time.Time

	Chat        []chatfmt.Message
	ChatPage    int
	VoiceSeeded bool
	VoiceStatus VoiceStatus
	Talking     bool

	Connected    bool
	ShuttingDown bool
}

// Options 状态机参数。
type Options struct {
	ChunkMax       int
	PageSize       int
	StandbyMessage string
	ImageRule      slides.ImageRule
	LogMaxLines    int
}

// DefaultOptions 默认参数。
func DefaultOptions() Options {
	return Options{
		ChunkMax:       180,
		PageSize:       4,
		StandbyMessage: "Voice assistant ready. Hold the talk button and ask about your project.",
		LogMaxLines:    8,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.ChunkMax <= 0 {
		o.ChunkMax = d.ChunkMax
	}
	o.ChunkMax = max(o.ChunkMax, chatfmt.MinChunkLength)
	if o.PageSize <= 0 {
		o.PageSize = d.PageSize
	}
	if o.StandbyMessage == "" {
		o.StandbyMessage = d.StandbyMessage
	}
	if o.LogMaxLines <= 0 {
		o.LogMaxLines = d.LogMaxLines
	}
	return o
}

// NewState 初始状态: Input 屏幕。
func NewState() State {
	return State{Screen: ScreenInput, ChatPage: 1, VoiceStatus: VoiceIdle}
}
