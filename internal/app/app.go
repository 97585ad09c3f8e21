package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	brcfg "tradeloop/internal/config"
	"tradeloop/internal/logger"
	"tradeloop/internal/reconcile"
	"tradeloop/internal/reflection"
	"tradeloop/internal/risk"
	"tradeloop/internal/store/ledger"
	"tradeloop/internal/store/trace"
	statushttp "tradeloop/internal/transport/http/status"
	"tradeloop/internal/trigger"
)

// 触发循环、对账、配置监听、状态接口。
const maxBackgroundTasks = 4

// App 负责应用级编排：加载配置→初始化依赖→启动触发循环与辅助任务。
type App struct {
	cfg     *brcfg.Config
	cfgPath string

	ledger     *ledger.Store
	traces     *trace.Store
	engine     *risk.Engine
	sched      *trigger.Scheduler
	reconciler *reconcile.Reconciler
	publisher  *reflection.Async
	http       *statushttp.Server
	closers    []func() error

	Summary *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfgPath string, cfg *brcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg, cfgPath)
}

// Run 启动触发循环及辅助任务，直到 ctx 结束或任一任务失败。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.sched == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(maxBackgroundTasks)

	group.Go(func() error {
		return ignoreCanceled(a.sched.Run(ctx))
	})
	if a.cfg.Reconcile.Enabled {
		group.Go(func() error {
			return ignoreCanceled(a.reconciler.Loop(ctx, a.cfg.Reconcile.Interval))
		})
	}
	if strings.TrimSpace(a.cfgPath) != "" {
		group.Go(func() error {
			if err := brcfg.Watch(ctx, a.cfgPath, a.applyConfig); err != nil {
				logger.Warnf("config watch disabled: %v", err)
			}
			return nil
		})
	}
	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("status http server error: %w", err)
			}
			return nil
		})
	}
	err := group.Wait()
	a.publisher.Wait()
	return err
}

// applyConfig 热更新阈值、资金与杠杆；tick 间隔与存储路径需重启生效。
func (a *App) applyConfig(cfg *brcfg.Config) {
	logger.SetLevel(cfg.App.LogLevel)
	a.sched.SetThresholds(trigger.ThresholdsFrom(cfg.Trigger))
	a.sched.SetOptions(schedulerOptions(cfg))
	a.engine.SetConfig(risk.ConfigFrom(cfg.Trading))
	if cfg.Trigger.Tick != a.cfg.Trigger.Tick {
		logger.Warnf("trigger tick changed to %s, restart to apply", cfg.Trigger.Tick)
	}
}

// RunOnce 立即执行一个完整周期，忽略冷却。
func (a *App) RunOnce(ctx context.Context, reason string) (*trigger.Report, error) {
	if strings.TrimSpace(reason) == "" {
		reason = trigger.ReasonManual
	}
	rep, err := a.sched.Fire(ctx, trigger.Decision{Fire: true, Reason: reason})
	a.publisher.Wait()
	return rep, err
}

func (a *App) Reconcile(ctx context.Context, dryRun bool) (reconcile.Result, error) {
	res, err := a.reconciler.Run(ctx, dryRun)
	a.publisher.Wait()
	return res, err
}

func (a *App) RecentRounds(ctx context.Context, limit int) ([]ledger.Round, error) {
	return a.ledger.GetRecentRounds(ctx, limit)
}

// Close 释放存储句柄，可重复调用。
func (a *App) Close() {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warnf("close: %v", err)
		}
	}
	a.closers = nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
