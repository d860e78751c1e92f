package push

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	pkgerr "github.com/sparkbox/go-kiosk/pkg/errors"
	"github.com/sparkbox/go-kiosk/pkg/util"
)

const wsWriteTimeout = 5 * time.Second

// wsTransport WebSocket 传输, 每个文本帧一条事件。
type wsTransport struct {
	url  string
	idle time.Duration
}

func (t *wsTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
		NetDialContext:   (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
	}
	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return nil, pkgerr.Wrapf(pkgerr.ErrTransport, "wsTransport.dial", "dial %s: %v", t.url, err)
	}
	if conn == nil {
		return nil, pkgerr.New("wsTransport.dial", "dial returned nil websocket connection")
	}
	_ = conn.SetReadDeadline(time.Now().Add(t.idle))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(t.idle))
		return nil
	})
	return conn, nil
}

func (t *wsTransport) stream(ctx context.Context, open func(), emit func([]byte)) error {
	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}
	open()

	var closeOnce sync.Once
	closeConn := func() { closeOnce.Do(func() { _ = conn.Close() }) }
	defer closeConn()

	// ctx 结束时关闭连接以打断阻塞的 ReadMessage
	stop := make(chan struct{})
	defer close(stop)
	util.SafeGo(func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-stop:
		}
	})
	util.SafeGo(func() { t.pingLoop(conn, stop) })

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return pkgerr.Wrapf(pkgerr.ErrTransport, "wsTransport.stream", "read: %v", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(t.idle))
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		emit(data)
	}
}

// pingLoop 定期 ping, 对端 pong 刷新读超时。
func (t *wsTransport) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	interval := t.idle / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
