package push

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	pkgerr "github.com/sparkbox/go-kiosk/pkg/errors"
)

// maxEventBytes 单条 SSE 行上限 (结果载荷可能内嵌 data URI)。
const maxEventBytes = 8 << 20

// sseTransport text/event-stream 传输。
type sseTransport struct {
	url    string
	idle   time.Duration
	client *http.Client
}

func (t *sseTransport) stream(ctx context.Context, open func(), emit func([]byte)) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, t.url, nil)
	if err != nil {
		return pkgerr.Wrapf(err, "sseTransport.stream", "GET %s", t.url)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.client.Do(req)
	if err != nil {
		return pkgerr.Wrapf(pkgerr.ErrTransport, "sseTransport.stream", "GET %s: %v", t.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return pkgerr.Wrapf(pkgerr.ErrTransport, "sseTransport.stream", "GET %s status %d", t.url, resp.StatusCode)
	}
	open()

	// 空闲看门狗: 超时无任何行 (含 keepalive) 则断开
	var idleHit atomic.Bool
	watchdog := time.AfterFunc(t.idle, func() {
		idleHit.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), maxEventBytes)
	var data bytes.Buffer
	for sc.Scan() {
		watchdog.Reset(t.idle)
		line := sc.Bytes()
		if len(line) == 0 {
			if data.Len() > 0 {
				emit(bytes.Clone(data.Bytes()))
				data.Reset()
			}
			continue
		}
		field, value := splitField(line)
		if string(field) != "data" {
			// 注释行 (":") 与 event/id/retry 字段不参与解码
			continue
		}
		if data.Len() > 0 {
			data.WriteByte('\n')
		}
		data.Write(value)
	}
	if err := sc.Err(); err != nil {
		if idleHit.Load() {
			return pkgerr.Wrapf(pkgerr.ErrTimeout, "sseTransport.stream", "no data for %s", t.idle)
		}
		return pkgerr.Wrapf(pkgerr.ErrTransport, "sseTransport.stream", "read: %v", err)
	}
	if idleHit.Load() {
		return pkgerr.Wrapf(pkgerr.ErrTimeout, "sseTransport.stream", "no data for %s", t.idle)
	}
	return pkgerr.Wrap(pkgerr.ErrTransport, "sseTransport.stream", fmt.Sprintf("stream %s ended", t.url))
}

// splitField 拆分 "field: value"; 冒号后的单个空格属于分隔符。
func splitField(line []byte) (field, value []byte) {
	i := bytes.IndexByte(line, ':')
	if i < 0 {
		return line, nil
	}
	field, value = line[:i], line[i+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return field, value
}
