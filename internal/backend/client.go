// Package backend 后端命令接口的 HTTP 客户端。
//
// 所有结果 (生成结果、语音转写、回复) 都走推送通道;
// 命令接口只返回确认或 {error}, FetchResult 供兜底轮询使用。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerr "github.com/sparkbox/go-kiosk/pkg/errors"
	"github.com/sparkbox/go-kiosk/pkg/util"
)

// maxBodyBytes 响应体上限, 超出部分截断。
const maxBodyBytes = 4 << 20

// 后端路径。
const (
	PathCreate     = "/api/create"
	PathSnapshot   = "/api/snapshot"
	PathReset      = "/api/reset"
	PathResult     = "/api/result"
	PathVoiceStart = "/api/voice/start"
	PathVoiceStop  = "/api/voice/stop"
	PathQuit       = "/api/quit"
)

// StatusSnapshotTriggered snapshot 成功时的 status 值。
const StatusSnapshotTriggered = "snapshot_triggered"

// Client 后端 HTTP 客户端。
type Client struct {
	baseURL string
	httpCli *http.Client
}

// NewClient 创建客户端。timeout<=0 时使用 10s。
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpCli: &http.Client{Timeout: timeout},
	}
}

// BaseURL 返回后端地址。
func (c *Client) BaseURL() string { return c.baseURL }

// ========================================
// 命令接口
// ========================================

// CreateIdea 提交创意文本, 返回结果载荷 (可能为空, 结果随后由推送通道送达)。
func (c *Client) CreateIdea(ctx context.Context, idea string) (map[string]any, error) {
	var out map[string]any
	if err := c.postJSON(ctx, "Client.CreateIdea", PathCreate, map[string]string{"idea": idea}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TriggerSnapshot 请求后端拍照并开始处理。
func (c *Client) TriggerSnapshot(ctx context.Context) error {
	var out map[string]any
	if err := c.postJSON(ctx, "Client.TriggerSnapshot", PathSnapshot, nil, &out); err != nil {
		return err
	}
	if s, _ := out["status"].(string); s != StatusSnapshotTriggered {
		return pkgerr.WithCode(pkgerr.ErrBackend, "Client.TriggerSnapshot", pkgerr.CodeBackend,
			fmt.Sprintf("unexpected status %q", s))
	}
	return nil
}

// Reset 通知后端重置 (尽力而为, 调用方忽略错误)。
func (c *Client) Reset(ctx context.Context) error {
	return c.postJSON(ctx, "Client.Reset", PathReset, nil, nil)
}

// FetchResult 拉取最近一次完整结果。{error} 响应返回 ErrBackend。
func (c *Client) FetchResult(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.getJSON(ctx, "Client.FetchResult", PathResult, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// VoiceStart 开始录音。
func (c *Client) VoiceStart(ctx context.Context) error {
	return c.postJSON(ctx, "Client.VoiceStart", PathVoiceStart, nil, nil)
}

// VoiceStop 停止录音, 转写与回复经推送通道到达。
func (c *Client) VoiceStop(ctx context.Context) error {
	return c.postJSON(ctx, "Client.VoiceStop", PathVoiceStop, nil, nil)
}

// Quit 通知后端退出。
func (c *Client) Quit(ctx context.Context) error {
	return c.postJSON(ctx, "Client.Quit", PathQuit, nil, nil)
}

// ========================================
// 通用 HTTP helpers
// ========================================

// postJSON POST JSON 请求。out 为 nil 时只检查 {error}。
func (c *Client) postJSON(ctx context.Context, op, path string, reqBody any, out *map[string]any) error {
	var body io.Reader = http.NoBody
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return pkgerr.Wrapf(err, op, "marshal %s", path)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return pkgerr.Wrapf(err, op, "POST %s", path)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, op, out)
}

// getJSON GET 请求并解析 JSON。
func (c *Client) getJSON(ctx context.Context, op, path string, out *map[string]any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return pkgerr.Wrapf(err, op, "GET %s", path)
	}
	return c.do(req, op, out)
}

// do 发送请求并解码 JSON 对象; 传输失败 → ErrTransport, {error} 或非 2xx → ErrBackend。
func (c *Client) do(req *http.Request, op string, out *map[string]any) error {
	target := req.Method + " " + req.URL.Path
	resp, err := c.httpCli.Do(req)
	if err != nil {
		return pkgerr.WithCode(joinCause(pkgerr.ErrTransport, err), op, pkgerr.CodeTransport, target)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	lw := util.NewLimitedWriter(&buf, maxBodyBytes)
	if _, err := io.Copy(lw, resp.Body); err != nil {
		return pkgerr.WithCode(joinCause(pkgerr.ErrTransport, err), op, pkgerr.CodeTransport, target+": read body")
	}
	if lw.Overflow() {
		return pkgerr.WithCode(pkgerr.ErrBackend, op, pkgerr.CodeBackend,
			fmt.Sprintf("%s: body exceeds %d bytes", target, maxBodyBytes))
	}

	decoded, decodeErr := decodeObject(buf.Bytes())
	if msg := errorField(decoded); msg != "" {
		return pkgerr.WithCode(pkgerr.ErrBackend, op, pkgerr.CodeBackend, msg)
	}
	if !statusOK(resp.StatusCode) {
		return pkgerr.WithCode(pkgerr.ErrBackend, op, pkgerr.CodeBackend,
			fmt.Sprintf("%s status %d: %s", target, resp.StatusCode,
				util.FirstNonEmpty(stringField(decoded, "message"), truncate(buf.String(), 200), http.StatusText(resp.StatusCode))))
	}
	if out == nil {
		return nil
	}
	if decodeErr != nil {
		return pkgerr.WithCode(pkgerr.ErrBackend, op, pkgerr.CodeDecode, target+": "+decodeErr.Error())
	}
	*out = decoded
	return nil
}

// decodeObject 解析 JSON 对象; 空 body 返回空 map。
func decodeObject(data []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// errorField 读取 {error: ...}; 空串或 null 视为无错误。
func errorField(m map[string]any) string {
	v, ok := m["error"]
	if !ok || v == nil {
		return ""
	}
	if s, isStr := v.(string); isStr {
		return strings.TrimSpace(s)
	}
	return fmt.Sprint(v)
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// statusOK 2xx 视为成功。
func statusOK(code int) bool { return code >= 200 && code < 300 }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// joinCause 同时保留哨兵与底层原因, errors.Is 两者均可匹配。
func joinCause(sentinel, cause error) error {
	return fmt.Errorf("%w: %w", sentinel, cause)
}
