package tui

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/sparkbox/go-kiosk/internal/kiosk"
	"github.com/sparkbox/go-kiosk/pkg/logger"
	"github.com/sparkbox/go-kiosk/pkg/util"
)

// Bridge 把控制器发布的渲染模型转交给 bubbletea 程序。实现 kiosk.Publisher。
//
// Publish 不阻塞控制器: 只保留最新一份, 由 Pump 转发。
type Bridge struct {
	mu     sync.Mutex
	latest *kiosk.RenderModel
	notify chan struct{}
}

// NewBridge 创建 Bridge。
func NewBridge() *Bridge {
	return &Bridge{notify: make(chan struct{}, 1)}
}

// Publish 保存最新渲染模型。
func (b *Bridge) Publish(m kiosk.RenderModel) {
	b.mu.Lock()
	b.latest = &m
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// take 取出待转发的渲染模型。
func (b *Bridge) take() (kiosk.RenderModel, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.latest == nil {
		return kiosk.RenderModel{}, false
	}
	m := *b.latest
	b.latest = nil
	return m, true
}

// Pump 把渲染模型转发给 send 直到 ctx 取消。
func (b *Bridge) Pump(ctx context.Context, send func(tea.Msg)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.notify:
			if m, ok := b.take(); ok {
				send(renderMsg(m))
			}
		}
	}
}

// Controller 终端运行所需的控制器能力。
type Controller interface {
	Kiosk
	AddPublisher(p kiosk.Publisher)
}

// Run 运行终端视图直到用户退出、控制器关机或 ctx 取消。
func Run(ctx context.Context, ctl Controller, images *ImageChecker, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bridge := NewBridge()
	ctl.AddPublisher(bridge)

	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(New(ctx, ctl, images), opts...)
	util.SafeGo(func() { bridge.Pump(ctx, p.Send) })

	logger.Info("tui: started")
	_, err := p.Run()
	if err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("tui: stopped")
	return nil
}
