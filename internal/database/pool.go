// Package database 提供 PostgreSQL 连接池管理与迁移。
//
// 使用 pgxpool 直接管理连接，裸写 SQL (不使用 ORM)。持久化是可选的:
// 连接串为空时调用方不创建连接池, 控制器以无 Recorder 模式运行。
package database

import (
	"context"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sparkbox/go-kiosk/internal/config"
	pkgerr "github.com/sparkbox/go-kiosk/pkg/errors"
	"github.com/sparkbox/go-kiosk/pkg/logger"
)

// NewPool 创建 PostgreSQL 连接池并验证连通性。
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	const op = "database.NewPool"
	if cfg.PostgresConnStr == "" {
		return nil, pkgerr.WithCode(pkgerr.ErrInvalidInput, op, pkgerr.CodeConfig, "POSTGRES_CONNECTION_STRING is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnStr)
	if err != nil {
		return nil, pkgerr.WithCode(err, op, pkgerr.CodeConfig, "parse postgres config")
	}

	poolCfg.MinConns = safeInt32(cfg.PostgresPoolMinSize, "PostgresPoolMinSize")
	poolCfg.MaxConns = safeInt32(cfg.PostgresPoolMaxSize, "PostgresPoolMaxSize")

	// AfterConnect: 设置 search_path (quote_ident 防注入)
	schema := cfg.PostgresSchema
	if schema != "" && schema != "public" {
		poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", pgx.Identifier{schema}.Sanitize()))
			return err
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, pkgerr.WithCode(err, op, pkgerr.CodeStore, "create pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, pkgerr.WithCode(err, op, pkgerr.CodeStore, "ping postgres")
	}

	logger.Info("postgres pool created",
		logger.FieldComponent, "database",
		"min_conns", poolCfg.MinConns,
		"max_conns", poolCfg.MaxConns,
		"schema", schema,
	)
	return pool, nil
}

// safeInt32 将 int 安全转为 int32，超出范围时 clamp 并记录警告。
func safeInt32(v int, name string) int32 {
	if v > math.MaxInt32 {
		logger.Warn("pool config overflow, clamped to MaxInt32", "field", name, "value", v)
		return math.MaxInt32
	}
	if v < 0 {
		logger.Warn("pool config negative, clamped to 0", "field", name, "value", v)
		return 0
	}
	return int32(v)
}
