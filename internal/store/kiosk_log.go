// kiosk_log.go — kiosk_logs 查询与清理 (写入由 pkg/logger DBHandler 负责)。
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	pkgerr "github.com/sparkbox/go-kiosk/pkg/errors"
)

// KioskLogStore 日志存储。
type KioskLogStore struct{ BaseStore }

// NewKioskLogStore 创建。
func NewKioskLogStore(pool *pgxpool.Pool) *KioskLogStore {
	return &KioskLogStore{NewBaseStore(pool)}
}

const logCols = `id, ts, level, message, component, session_id, screen, event_type, duration_ms, extra`

// LogQuery 日志查询参数, 空字段不过滤。
type LogQuery struct {
	Level     string
	Component string
	SessionID string
	Screen    string
	EventType string
	Keyword   string
	Since     time.Time
	Limit     int
}

// List 按条件查询, 最新在前。
func (s *KioskLogStore) List(ctx context.Context, p LogQuery) ([]LogRecord, error) {
	const op = "KioskLogStore.List"
	if s == nil || s.pool == nil {
		return nil, pkgerr.WithCode(ErrNoPool, op, pkgerr.CodeStore, "database not configured")
	}
	sql, params := buildLogQuery(p)
	rows, err := s.pool.Query(ctx, sql, params...)
	if err != nil {
		return nil, pkgerr.Wrap(err, op, "query logs")
	}
	return collectRows[LogRecord](rows)
}

func buildLogQuery(p LogQuery) (string, []any) {
	return NewQueryBuilder().
		Eq("level", p.Level).
		Eq("component", p.Component).
		Eq("session_id", p.SessionID).
		Eq("screen", p.Screen).
		Eq("event_type", p.EventType).
		Since("ts", p.Since).
		KeywordLike(p.Keyword, "message", "event_type").
		Build("SELECT "+logCols+" FROM kiosk_logs", "ts DESC, id DESC", p.Limit)
}

// FilterValues 返回筛选下拉值。
func (s *KioskLogStore) FilterValues(ctx context.Context) (map[string][]string, error) {
	if s == nil || s.pool == nil {
		return nil, pkgerr.WithCode(ErrNoPool, "KioskLogStore.FilterValues", pkgerr.CodeStore, "database not configured")
	}
	return DistinctMap(ctx, s.pool, "kiosk_logs", "level", "component", "screen", "event_type")
}

// Cleanup 删除超过 retentionDays 天的日志，返回删除行数。
func (s *KioskLogStore) Cleanup(ctx context.Context, retentionDays int) (int, error) {
	if s == nil || s.pool == nil {
		return 0, pkgerr.WithCode(ErrNoPool, "KioskLogStore.Cleanup", pkgerr.CodeStore, "database not configured")
	}
	if retentionDays <= 0 {
		retentionDays = 30
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM kiosk_logs WHERE ts < NOW() - ($1 || ' days')::INTERVAL`,
		retentionDays)
	if err != nil {
		return 0, pkgerr.Wrap(err, "KioskLogStore.Cleanup", "delete logs")
	}
	return int(tag.RowsAffected()), nil
}
