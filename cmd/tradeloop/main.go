package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"tradeloop/internal/app"
	brcfg "tradeloop/internal/config"
	"tradeloop/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "tradeloop",
		Short:         "Futures execution and trigger loop",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default $TRADELOOP_CONFIG or configs/config.toml)")

	root.AddCommand(newRunCmd(&cfgPath))
	root.AddCommand(newOnceCmd(&cfgPath))
	root.AddCommand(newReconcileCmd(&cfgPath))
	root.AddCommand(newRoundsCmd(&cfgPath))
	return root
}

func newRunCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the trigger loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*cfgPath, func(ctx context.Context, a *app.App) error {
				return a.Run(ctx)
			})
		},
	}
}

func newOnceCmd(cfgPath *string) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Fire a single cycle immediately, ignoring cooldown",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*cfgPath, func(ctx context.Context, a *app.App) error {
				rep, err := a.RunOnce(ctx, reason)
				if rep != nil {
					printJSON(cmd.OutOrStdout(), rep)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual", "trigger reason recorded with the cycle")
	return cmd
}

func newReconcileCmd(cfgPath *string) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Backfill closes for ledger entries the exchange no longer holds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*cfgPath, func(ctx context.Context, a *app.App) error {
				res, err := a.Reconcile(ctx, dryRun)
				if err != nil {
					return err
				}
				printJSON(cmd.OutOrStdout(), res)
				fmt.Fprintf(cmd.ErrOrStderr(), "backfill done: %d closes added (dry-run=%v)\n", len(res.Backfilled), dryRun)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be backfilled without writing")
	return cmd
}

func newRoundsCmd(cfgPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "rounds",
		Short: "Print the most recent ledger rounds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*cfgPath, func(ctx context.Context, a *app.App) error {
				rounds, err := a.RecentRounds(ctx, limit)
				if err != nil {
					return err
				}
				printJSON(cmd.OutOrStdout(), rounds)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of rounds to print")
	return cmd
}

func withApp(cfgPath string, fn func(context.Context, *app.App) error) error {
	_ = godotenv.Load()
	path := resolveConfigPath(cfgPath)
	cfg, err := brcfg.Load(path)
	if err != nil {
		return fmt.Errorf("读取配置失败: %w", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		return fmt.Errorf("初始化日志文件失败: %w", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ 配置加载成功（环境=%s，配置=%s）", cfg.App.Env, path)

	a, err := app.NewApp(path, cfg)
	if err != nil {
		return fmt.Errorf("初始化应用失败: %w", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, a)
}

func resolveConfigPath(flag string) string {
	if p := strings.TrimSpace(flag); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(brcfg.EnvConfigPath)); p != "" {
		return p
	}
	return "configs/config.toml"
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		logger.Warnf("encode output: %v", err)
	}
}
