// Package store 会话持久化: 会话、屏幕迁移、聊天记录与结构化日志。
//
// Go struct 的 db tag 直接对应 PostgreSQL 列名。
package store

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNoPool 未配置数据库时调用 store 方法。
var ErrNoPool = errors.New("store: no database pool")

// ========================================
// 会话 — 表 kiosk_sessions
// ========================================

// Session 一次重置到下一次重置之间的会话。
type Session struct {
	ID        string     `db:"id" json:"id"`
	StartedAt time.Time  `db:"started_at" json:"started_at"`
	EndedAt   *time.Time `db:"ended_at" json:"ended_at,omitempty"`
}

// ========================================
// 屏幕迁移 — 表 screen_transitions
// ========================================

// Transition 一次屏幕切换。
type Transition struct {
	ID         int64     `db:"id" json:"id"`
	SessionID  string    `db:"session_id" json:"session_id"`
	FromScreen string    `db:"from_screen" json:"from"`
	ToScreen   string    `db:"to_screen" json:"to"`
	Reason     string    `db:"reason" json:"reason"`
	At         time.Time `db:"at" json:"at"`
}

// ========================================
// 聊天 — 表 chat_messages
// ========================================

// ChatMessage 聊天记录的一行。Part/Parts 为 0 表示未拆分。
type ChatMessage struct {
	ID        int64     `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"session_id"`
	Role      string    `db:"role" json:"role"`
	Text      string    `db:"text" json:"text"`
	Part      int       `db:"part" json:"part,omitempty"`
	Parts     int       `db:"parts" json:"parts,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ========================================
// 日志 — 表 kiosk_logs
// ========================================

// LogRecord 结构化日志的一行。
type LogRecord struct {
	ID         int64           `db:"id" json:"id"`
	Ts         time.Time       `db:"ts" json:"ts"`
	Level      string          `db:"level" json:"level"`
	Message    string          `db:"message" json:"message"`
	Component  string          `db:"component" json:"component"`
	SessionID  string          `db:"session_id" json:"session_id"`
	Screen     string          `db:"screen" json:"screen"`
	EventType  string          `db:"event_type" json:"event_type"`
	DurationMS *int            `db:"duration_ms" json:"duration_ms,omitempty"`
	Extra      json.RawMessage `db:"extra" json:"extra,omitempty"`
}
