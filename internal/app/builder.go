package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	brcfg "tradeloop/internal/config"
	"tradeloop/internal/gateway/binance"
	"tradeloop/internal/gateway/exchange"
	"tradeloop/internal/gateway/notifier"
	"tradeloop/internal/logger"
	"tradeloop/internal/pkg/circuit"
	"tradeloop/internal/reconcile"
	"tradeloop/internal/reflection"
	"tradeloop/internal/research"
	"tradeloop/internal/risk"
	"tradeloop/internal/store/ledger"
	"tradeloop/internal/store/trace"
	statushttp "tradeloop/internal/transport/http/status"
	"tradeloop/internal/trigger"
)

const publishTimeout = 30 * time.Second

// AppBuilder 负责把配置转换成各组件；构造函数可在测试中替换。
type AppBuilder struct {
	cfg     *brcfg.Config
	cfgPath string

	gatewayFn  func(brcfg.ExchangeConfig) (exchange.Gateway, error)
	researchFn func(brcfg.ResearchConfig) (research.Source, error)
}

type AppBuilderOption func(*AppBuilder)

// WithGateway 替换交易所实现（测试或模拟盘）。
func WithGateway(gw exchange.Gateway) AppBuilderOption {
	return func(b *AppBuilder) {
		b.gatewayFn = func(brcfg.ExchangeConfig) (exchange.Gateway, error) { return gw, nil }
	}
}

func WithResearch(src research.Source) AppBuilderOption {
	return func(b *AppBuilder) {
		b.researchFn = func(brcfg.ResearchConfig) (research.Source, error) { return src, nil }
	}
}

func NewAppBuilder(cfg *brcfg.Config, cfgPath string, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		cfgPath:    cfgPath,
		gatewayFn:  buildGateway,
		researchFn: research.NewSource,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	a := &App{cfg: cfg, cfgPath: b.cfgPath}

	store, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	a.ledger = store
	a.closers = append(a.closers, store.Close)

	if path := strings.TrimSpace(cfg.Ledger.TracePath); path != "" {
		traces, err := trace.Open(path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open trace store: %w", err)
		}
		a.traces = traces
		a.closers = append(a.closers, traces.Close)
	}

	gw, err := b.gatewayFn(cfg.Exchange)
	if err != nil {
		a.Close()
		return nil, err
	}
	src, err := b.researchFn(cfg.Research)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("research source: %w", err)
	}

	a.publisher = reflection.NewAsync(buildSink(cfg.Notify), publishTimeout)
	a.engine = risk.NewEngine(gw, store, risk.ConfigFrom(cfg.Trading))

	deps := trigger.Deps{
		Ledger:    store,
		Prices:    gw,
		Research:  src,
		Executor:  a.engine,
		Publisher: a.publisher,
		Breaker: circuit.NewCircuitBreaker("research",
			cfg.Research.FailureThreshold, cfg.Research.FailureCooldown),
	}
	if a.traces != nil {
		deps.Traces = a.traces
	}
	a.sched = trigger.New(deps, trigger.ThresholdsFrom(cfg.Trigger), schedulerOptions(cfg))
	a.reconciler = reconcile.New(store, gw, a.publisher)
	a.reconciler.SetGuard(a.sched)

	if addr := strings.TrimSpace(cfg.HTTP.Addr); addr != "" {
		srvCfg := statushttp.ServerConfig{Addr: addr, Ledger: store, Loop: a.sched}
		if a.traces != nil {
			srvCfg.Traces = a.traces
		}
		srv, err := statushttp.NewServer(srvCfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.http = srv
	}
	a.Summary = newStartupSummary(cfg, src)
	return a, nil
}

func buildGateway(cfg brcfg.ExchangeConfig) (exchange.Gateway, error) {
	gw, err := binance.New(binance.Config{
		APIKey:      cfg.APIKey,
		SecretKey:   cfg.SecretKey,
		RESTBaseURL: cfg.BaseURL,
		HTTPTimeout: cfg.Timeout,
		RecvWindow:  cfg.RecvWindow,
		ProxyURL:    cfg.Proxy,
		RulesTTL:    cfg.RulesTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("init binance gateway: %w", err)
	}
	return gw, nil
}

func buildSink(cfg brcfg.NotifyConfig) reflection.Sink {
	if !cfg.Telegram.Enabled {
		return reflection.LogSink{}
	}
	logger.Infof("✓ Telegram 复盘推送已启用")
	return reflection.NewNotifierSink(notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID))
}

func schedulerOptions(cfg *brcfg.Config) trigger.Options {
	return trigger.Options{
		Symbols:     cfg.Trading.Symbols,
		Capital:     cfg.Trading.Capital,
		MinLeverage: cfg.Trading.MinLeverage,
		MaxLeverage: cfg.Trading.MaxLeverage,
		Keep:        cfg.Ledger.Keep,
	}
}
