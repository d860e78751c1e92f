// Package events 定义推送通道事件的封闭联合类型及其解码。
//
// 线上格式: 每条消息一个 JSON 对象, 判别字段为 state (后端默认) 或 type (keepalive),
// 可选 message / data / action / timestamp。
package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	pkgerr "github.com/sparkbox/go-kiosk/pkg/errors"
)

// Kind 事件判别值。
type Kind string

const (
	KindProcessing      Kind = "processing"
	KindComplete        Kind = "complete"
	KindError           Kind = "error"
	KindControl         Kind = "control"
	KindVoiceRecording  Kind = "voice_recording"
	KindVoiceUser       Kind = "voice_user"
	KindVoiceProcessing Kind = "voice_processing"
	KindVoiceResponse   Kind = "voice_response"
	KindVoiceError      Kind = "voice_error"
	KindKeepalive       Kind = "keepalive"
)

var knownKinds = map[Kind]struct{}{
	KindProcessing: {}, KindComplete: {}, KindError: {}, KindControl: {},
	KindVoiceRecording: {}, KindVoiceUser: {}, KindVoiceProcessing: {},
	KindVoiceResponse: {}, KindVoiceError: {}, KindKeepalive: {},
}

// Valid 是否为已知判别值。
func (k Kind) Valid() bool {
	_, ok := knownKinds[k]
	return ok
}

// IsVoice 是否为语音会话事件。
func (k Kind) IsVoice() bool { return strings.HasPrefix(string(k), "voice_") }

// ServerEvent 推送通道上的一条事件。
type ServerEvent struct {
	Kind    Kind
	Message string
	// Data 仅 complete / control 使用; complete 的结果载荷原样保留。
	Data   map[string]any
	Action ControlAction
	// Timestamp 事件产生时间; HasTimestamp=false 时为零值。
	Timestamp    time.Time
	HasTimestamp bool
}

type wireEvent struct {
	State     string          `json:"state"`
	Type      string          `json:"type"`
	Message   json.RawMessage `json:"message"`
	Data      json.RawMessage `json:"data"`
	Action    string          `json:"action"`
	Timestamp string          `json:"timestamp"`
}

// Decode 解析一条推送消息。
//
// 非法 JSON 或字段类型不符返回 ErrMalformedEvent; 判别值不在已知集合返回 ErrUnknownEvent。
func Decode(raw []byte) (ServerEvent, error) {
	const op = "events.Decode"
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ServerEvent{}, pkgerr.WithCode(pkgerr.ErrMalformedEvent, op, pkgerr.CodeDecode, "empty message")
	}

	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return ServerEvent{}, pkgerr.WithCode(pkgerr.ErrMalformedEvent, op, pkgerr.CodeDecode, err.Error())
	}

	disc := strings.TrimSpace(w.State)
	if disc == "" {
		disc = strings.TrimSpace(w.Type)
	}
	if disc == "" {
		return ServerEvent{}, pkgerr.WithCode(pkgerr.ErrMalformedEvent, op, pkgerr.CodeDecode, "missing state/type discriminator")
	}
	kind := Kind(strings.ToLower(disc))
	if !kind.Valid() {
		return ServerEvent{}, pkgerr.WithCode(pkgerr.ErrUnknownEvent, op, pkgerr.CodeDecode, "unknown kind "+disc)
	}

	ev := ServerEvent{Kind: kind, Message: rawText(w.Message)}

	if len(w.Data) > 0 && !bytes.Equal(w.Data, []byte("null")) {
		var data map[string]any
		if err := json.Unmarshal(w.Data, &data); err != nil {
			// complete 的 data 必须是对象; 其他事件的非对象 data 忽略
			if kind == KindComplete {
				return ServerEvent{}, pkgerr.WithCode(pkgerr.ErrMalformedEvent, op, pkgerr.CodeDecode, "complete data is not an object")
			}
		} else {
			ev.Data = data
		}
	}

	if kind == KindControl {
		action := w.Action
		if action == "" {
			if s, ok := ev.Data["action"].(string); ok {
				action = s
			}
		}
		a, ok := ParseAction(action)
		if !ok {
			return ServerEvent{}, pkgerr.WithCode(pkgerr.ErrMalformedEvent, op, pkgerr.CodeDecode, fmt.Sprintf("control action %q", action))
		}
		ev.Action = a
	}

	if ts := strings.TrimSpace(w.Timestamp); ts != "" {
		t, err := ParseTimestamp(ts)
		if err != nil {
			return ServerEvent{}, pkgerr.WithCode(pkgerr.ErrMalformedEvent, op, pkgerr.CodeDecode, err.Error())
		}
		ev.Timestamp, ev.HasTimestamp = t, true
	}
	return ev, nil
}

// rawText 取 message 字段: 字符串原样返回, 其他 JSON 值取其文本。
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Encode 生成与后端一致的线上格式 (测试与本地回放使用)。
func Encode(ev ServerEvent) ([]byte, error) {
	out := map[string]any{}
	if ev.Kind == KindKeepalive {
		out["type"] = string(ev.Kind)
	} else {
		out["state"] = string(ev.Kind)
	}
	if ev.Message != "" {
		out["message"] = ev.Message
	}
	if ev.Data != nil {
		out["data"] = ev.Data
	}
	if ev.Action != "" {
		out["action"] = string(ev.Action)
	}
	if ev.HasTimestamp {
		out["timestamp"] = ev.Timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(out)
}
