package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sparkbox/go-kiosk/internal/config"
	"github.com/sparkbox/go-kiosk/internal/database"
	"github.com/sparkbox/go-kiosk/migrations"
	pkgerr "github.com/sparkbox/go-kiosk/pkg/errors"
	"github.com/sparkbox/go-kiosk/pkg/logger"
)

// newMigrateCmd 只执行数据库迁移。默认使用内置脚本, --dir 指定磁盘目录。
func newMigrateCmd(load func() (*config.Config, error)) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return reportErr(err)
			}
			logger.Init(cfg.LogLevel)
			if err := migrate(cmd.Context(), cfg, dir); err != nil {
				return reportErr(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migration complete.")
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "read migrations from this directory instead of the built-in set")
	return cmd
}

func migrate(ctx context.Context, cfg *config.Config, dir string) error {
	if cfg.PostgresConnStr == "" {
		return pkgerr.WithCode(pkgerr.ErrInvalidInput, "kiosk.migrate", pkgerr.CodeConfig, "POSTGRES_CONNECTION_STRING not set")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if dir != "" {
		return database.MigrateDir(ctx, pool, dir)
	}
	return database.Migrate(ctx, pool, migrations.FS)
}
