package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sparkbox/go-kiosk/internal/config"
	"github.com/sparkbox/go-kiosk/internal/tui"
	"github.com/sparkbox/go-kiosk/internal/view"
	"github.com/sparkbox/go-kiosk/pkg/logger"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "kiosk",
		Short:         "Maker kiosk presentation front end",
		Long:          "kiosk drives the idea → result → voice chat flow of the maker kiosk and renders it in a browser or a terminal.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (overlays environment variables)")

	load := func() (*config.Config, error) {
		cfg, err := config.LoadFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Serve the browser view",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return reportErr(err)
			}
			return reportErr(runWeb(cmd.Context(), cfg))
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "tui",
		Short: "Run the kiosk in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return reportErr(err)
			}
			return reportErr(runTerminal(cmd.Context(), cfg))
		},
	})
	root.AddCommand(newMigrateCmd(load))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), currentBuildInfo())
		},
	})
	return root
}

// reportErr 记录致命错误后原样返回 (cobra 已静默错误输出)。
func reportErr(err error) error {
	if err != nil {
		logger.Error("kiosk: exited with error", logger.FieldError, err)
	}
	return err
}

// runWeb 控制器 + 推送通道 + 视图服务, 任一失败或控制器关机时全部停止。
func runWeb(parent context.Context, cfg *config.Config) error {
	ctx, stop := signalContext(parent)
	defer stop()

	app, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer app.Close()

	srv, err := view.NewServer(view.Deps{
		Kiosk:      app.ctl,
		Sessions:   app.sessions,
		Logs:       app.logs,
		BackendURL: cfg.BackendURL,
		ProxyPath:  cfg.ImageProxyPath,
		StaticDir:  cfg.StaticDir,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx := app.start(gctx, g)
	g.Go(func() error { return srv.Run(runCtx, cfg.ListenAddr) })
	return wait(g)
}

// runTerminal 与 runWeb 相同, 但由终端视图取代 HTTP 服务; 终端退出即结束。
func runTerminal(parent context.Context, cfg *config.Config) error {
	ctx, stop := signalContext(parent)
	defer stop()

	app, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer app.Close()

	images, err := tui.NewImageChecker(app.imagePolicy, cfg.BackendURL, cfg.HTTPTimeout())
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx := app.start(gctx, g)
	g.Go(func() error {
		err := tui.Run(runCtx, app.ctl, images)
		app.cancel()
		return err
	})
	return wait(g)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func wait(g *errgroup.Group) error {
	err := g.Wait()
	if err != nil && !isCanceled(err) {
		return err
	}
	logger.Info("kiosk: stopped")
	return nil
}
