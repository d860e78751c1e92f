package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/sparkbox/go-kiosk/internal/backend"
	"github.com/sparkbox/go-kiosk/internal/config"
	"github.com/sparkbox/go-kiosk/internal/database"
	"github.com/sparkbox/go-kiosk/internal/imgretry"
	"github.com/sparkbox/go-kiosk/internal/kiosk"
	"github.com/sparkbox/go-kiosk/internal/push"
	"github.com/sparkbox/go-kiosk/internal/slides"
	"github.com/sparkbox/go-kiosk/internal/store"
	"github.com/sparkbox/go-kiosk/migrations"
	"github.com/sparkbox/go-kiosk/pkg/logger"
)

const logCleanupInterval = 6 * time.Hour

// app 组装好的运行时组件。
type app struct {
	cfg         *config.Config
	ctl         *kiosk.Controller
	consumer    *push.Consumer
	pool        *pgxpool.Pool
	sessions    *store.SessionStore
	logs        *store.KioskLogStore
	imagePolicy imgretry.Policy

	cancel context.CancelFunc
}

// newApp 初始化日志、可选的数据库、后端客户端、控制器与推送通道。
// quiet 为 true 时日志只写文件 (终端视图占用 stdout)。
func newApp(ctx context.Context, cfg *config.Config, quiet bool) (*app, error) {
	if err := initLogging(cfg, quiet); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, imagePolicy: imagePolicy(cfg)}
	if cfg.PostgresConnStr != "" {
		if err := a.openStore(ctx); err != nil {
			a.Close()
			return nil, err
		}
	} else {
		logger.Info("kiosk: no database configured, session history disabled")
	}

	var rec kiosk.Recorder
	if a.sessions != nil {
		rec = a.sessions
	}
	client := backend.NewClient(cfg.BackendURL, cfg.HTTPTimeout())
	a.ctl = kiosk.NewController(controllerConfig(cfg, a.imagePolicy), client, rec)

	consumer, err := push.New(push.Config{
		URL:           cfg.StreamURL(),
		ReconnectBase: cfg.ReconnectBase(),
		ReconnectMax:  cfg.ReconnectMax(),
	}, a.ctl.PushEvent, a.ctl.ChannelFailure)
	if err != nil {
		a.Close()
		return nil, err
	}
	consumer.OnConnect(a.ctl.ChannelUp)
	a.consumer = consumer

	logger.Info("kiosk: initialized",
		logger.FieldURL, cfg.BackendURL,
		logger.FieldVersion, currentBuildInfo().Version,
	)
	return a, nil
}

func initLogging(cfg *config.Config, quiet bool) error {
	switch {
	case quiet:
		dir := cfg.LogDir
		if dir == "" {
			dir = filepath.Join(os.TempDir(), "kiosk")
		}
		return logger.InitFileOnly(dir, cfg.LogLevel)
	case cfg.LogDir != "":
		return logger.InitWithFile(cfg.LogDir, cfg.LogLevel)
	}
	logger.Init(cfg.LogLevel)
	return nil
}

func (a *app) openStore(ctx context.Context) error {
	pool, err := database.NewPool(ctx, a.cfg)
	if err != nil {
		return err
	}
	a.pool = pool
	if err := database.Migrate(ctx, pool, migrations.FS); err != nil {
		return err
	}
	logger.AttachDBHandler(pool)
	a.sessions = store.NewSessionStore(pool)
	a.logs = store.NewKioskLogStore(pool)
	return nil
}

// start 在 g 中启动控制器与推送通道, 返回的 ctx 在控制器停止 (关机) 时取消。
func (a *app) start(ctx context.Context, g *errgroup.Group) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	g.Go(func() error {
		err := a.ctl.Run(ctx)
		cancel()
		return err
	})
	g.Go(func() error { return a.consumer.Run(ctx) })
	if a.logs != nil {
		g.Go(func() error { return a.cleanupLogs(ctx) })
	}
	return ctx
}

// cleanupLogs 定期删除过期日志。
func (a *app) cleanupLogs(ctx context.Context) error {
	ticker := time.NewTicker(logCleanupInterval)
	defer ticker.Stop()
	for {
		n, err := a.logs.Cleanup(ctx, a.cfg.LogRetentionDays)
		if err != nil && ctx.Err() == nil {
			logger.Warn("kiosk: log cleanup failed", logger.FieldError, err)
		} else if n > 0 {
			logger.Info("kiosk: old logs removed", logger.FieldCount, n)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 释放数据库与日志资源。
func (a *app) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.pool != nil {
		logger.ShutdownDBHandler()
		a.pool.Close()
	}
	logger.ShutdownFileHandler()
}

func imagePolicy(cfg *config.Config) imgretry.Policy {
	rule := slides.ImageRule{ProxyPath: cfg.ImageProxyPath}
	if cfg.ImageProxyEnabled {
		rule.Proxy = slides.SchemePredicate(cfg.ImageProxySchemes)
	}
	return imgretry.Policy{
		Ceiling:     cfg.ImageRetryCeiling,
		Step:        cfg.ImageRetryStep(),
		Rule:        rule,
		Placeholder: cfg.ImagePlaceholder,
	}
}

func controllerConfig(cfg *config.Config, policy imgretry.Policy) kiosk.Config {
	return kiosk.Config{
		Options: kiosk.Options{
			ChunkMax:       cfg.ChatChunkMax,
			PageSize:       cfg.ChatPageSize,
			StandbyMessage: cfg.StandbyMessage,
			ImageRule:      policy.Rule,
			LogMaxLines:    cfg.LogAnimMaxLines,
		},
		PollInterval:    cfg.PollInterval(),
		PollMaxAttempts: cfg.PollMaxAttempts,
		AnimInterval:    cfg.LogAnimInterval(),
		CallTimeout:     cfg.HTTPTimeout(),
		ImagePolicy:     policy,
	}
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
