// session.go — kiosk_sessions / screen_transitions / chat_messages 读写。
//
// SessionStore 满足控制器的 Recorder 接口: 控制器在后台 goroutine 中调用,
// 失败只记日志, 不影响屏幕状态。
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sparkbox/go-kiosk/internal/chatfmt"
	pkgerr "github.com/sparkbox/go-kiosk/pkg/errors"
)

// SessionStore 会话存储。
type SessionStore struct{ BaseStore }

// NewSessionStore 创建。
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{NewBaseStore(pool)}
}

const (
	sessionCols    = "id, started_at, ended_at"
	transitionCols = "id, session_id, from_screen, to_screen, reason, at"
	chatCols       = "id, session_id, role, text, part, parts, created_at"
)

func (s *SessionStore) check(op string) error {
	if s == nil || s.pool == nil {
		return pkgerr.WithCode(ErrNoPool, op, pkgerr.CodeStore, "database not configured")
	}
	return nil
}

// StartSession 登记新会话, 并结束仍未结束的旧会话。
func (s *SessionStore) StartSession(ctx context.Context, sessionID string, at time.Time) error {
	const op = "SessionStore.StartSession"
	if err := s.check(op); err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return pkgerr.Wrap(err, op, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`UPDATE kiosk_sessions SET ended_at = $1 WHERE ended_at IS NULL AND id <> $2`,
		at, sessionID); err != nil {
		return pkgerr.Wrap(err, op, "close previous sessions")
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO kiosk_sessions (id, started_at) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		sessionID, at); err != nil {
		return pkgerr.Wrap(err, op, "insert session")
	}
	if err := tx.Commit(ctx); err != nil {
		return pkgerr.Wrap(err, op, "commit")
	}
	return nil
}

// RecordTransition 写入一次屏幕切换。
func (s *SessionStore) RecordTransition(ctx context.Context, sessionID, from, to, reason string, at time.Time) error {
	const op = "SessionStore.RecordTransition"
	if err := s.check(op); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO screen_transitions (session_id, from_screen, to_screen, reason, at) VALUES ($1, $2, $3, $4, $5)`,
		sessionID, from, to, reason, at)
	if err != nil {
		return pkgerr.Wrap(err, op, "insert transition")
	}
	return nil
}

// RecordMessages 批量写入聊天记录, 保持传入顺序。
func (s *SessionStore) RecordMessages(ctx context.Context, sessionID string, msgs []chatfmt.Message, at time.Time) error {
	const op = "SessionStore.RecordMessages"
	if len(msgs) == 0 {
		return nil
	}
	if err := s.check(op); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, m := range msgs {
		batch.Queue(
			`INSERT INTO chat_messages (session_id, role, text, part, parts, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			sessionID, string(m.Role), m.Text, m.Part, m.Parts, at)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return pkgerr.Wrap(err, op, "insert messages")
	}
	return nil
}

// EndSession 标记会话结束 (关机时调用)。
func (s *SessionStore) EndSession(ctx context.Context, sessionID string, at time.Time) error {
	const op = "SessionStore.EndSession"
	if err := s.check(op); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE kiosk_sessions SET ended_at = $1 WHERE id = $2 AND ended_at IS NULL`, at, sessionID)
	if err != nil {
		return pkgerr.Wrap(err, op, "update session")
	}
	return nil
}

// GetSession 按 id 查询, 不存在返回 ErrNotFound。
func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	const op = "SessionStore.GetSession"
	if err := s.check(op); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, "SELECT "+sessionCols+" FROM kiosk_sessions WHERE id = $1", sessionID)
	if err != nil {
		return nil, pkgerr.Wrap(err, op, "query session")
	}
	sess, err := collectOne[Session](rows)
	if err != nil {
		return nil, pkgerr.Wrap(err, op, "scan session")
	}
	if sess == nil {
		return nil, pkgerr.WithCode(pkgerr.ErrNotFound, op, pkgerr.CodeStore, "session "+sessionID)
	}
	return sess, nil
}

// ListSessions 最近的会话, 最新在前。
func (s *SessionStore) ListSessions(ctx context.Context, since time.Time, limit int) ([]Session, error) {
	const op = "SessionStore.ListSessions"
	if err := s.check(op); err != nil {
		return nil, err
	}
	sql, params := NewQueryBuilder().
		Since("started_at", since).
		Build("SELECT "+sessionCols+" FROM kiosk_sessions", "started_at DESC", limit)
	rows, err := s.pool.Query(ctx, sql, params...)
	if err != nil {
		return nil, pkgerr.Wrap(err, op, "query sessions")
	}
	return collectRows[Session](rows)
}

// ListTransitions 会话内的屏幕切换, 按时间先后。
func (s *SessionStore) ListTransitions(ctx context.Context, sessionID string, limit int) ([]Transition, error) {
	const op = "SessionStore.ListTransitions"
	if err := s.check(op); err != nil {
		return nil, err
	}
	sql, params := NewQueryBuilder().
		Eq("session_id", sessionID).
		Build("SELECT "+transitionCols+" FROM screen_transitions", "at, id", limit)
	rows, err := s.pool.Query(ctx, sql, params...)
	if err != nil {
		return nil, pkgerr.Wrap(err, op, "query transitions")
	}
	return collectRows[Transition](rows)
}

// ListMessages 会话内的聊天记录, 按写入顺序。
func (s *SessionStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]ChatMessage, error) {
	const op = "SessionStore.ListMessages"
	if err := s.check(op); err != nil {
		return nil, err
	}
	sql, params := NewQueryBuilder().
		Eq("session_id", sessionID).
		Build("SELECT "+chatCols+" FROM chat_messages", "id", limit)
	rows, err := s.pool.Query(ctx, sql, params...)
	if err != nil {
		return nil, pkgerr.Wrap(err, op, "query messages")
	}
	return collectRows[ChatMessage](rows)
}

// ToChat 转回聊天消息 (回放使用)。
func ToChat(rows []ChatMessage) []chatfmt.Message {
	out := make([]chatfmt.Message, len(rows))
	for i, r := range rows {
		out[i] = chatfmt.Message{Role: chatfmt.Role(r.Role), Text: r.Text, Part: r.Part, Parts: r.Parts}
	}
	return out
}
