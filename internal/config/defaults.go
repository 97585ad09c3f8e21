package config

import (
	"strings"
	"time"

	"tradeloop/internal/pkg/symbol"
)

// 默认值常量
const (
	defaultAppEnv             = "dev"
	defaultAppLogLevel        = "info"
	defaultExchangeBaseURL    = "https://fapi.binance.com"
	defaultExchangeTimeout    = 15 * time.Second
	defaultExchangeRecvWindow = 5000
	defaultCapital            = 10000
	defaultMinLeverage        = 1
	defaultMaxLeverage        = 3
	defaultMaxLossRatio       = 0.10
	defaultNudgeEpsilon       = 0.001
	defaultTick               = 60 * time.Second
	defaultMaxCycleAge        = 4 * time.Hour
	defaultCooldown           = 15 * time.Minute
	defaultProximity          = 0.005
	defaultSessionTimezone    = "America/New_York"
	defaultSessionStartHour   = 8
	defaultSessionEndHour     = 20
	defaultSessionMaxAge      = 15 * time.Minute
	defaultLedgerPath         = "data/tradeloop.db"
	defaultLedgerKeep         = 100
	defaultTracePath          = "data/trace.db"
	defaultResearchTimeout    = 10 * time.Minute
	defaultResearchFailures   = 3
	defaultResearchCooldown   = 30 * time.Minute
	defaultReconcileInterval  = 30 * time.Minute
)

var defaultSymbols = []string{"BTCUSDT", "ETHUSDT"}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

// applyDefaults 为所有子配置应用默认值。显式写在配置文件里的键不会被覆盖。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Trigger.applyDefaults(keys)
	c.Ledger.applyDefaults(keys)
	c.Research.applyDefaults(keys)
	c.Reconcile.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
	)
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.base_url", &e.BaseURL, defaultExchangeBaseURL),
		durationFieldDefault("exchange.timeout", &e.Timeout, defaultExchangeTimeout),
		fieldDefault{
			key:   "exchange.recv_window",
			need:  func() bool { return e.RecvWindow <= 0 },
			apply: func() { e.RecvWindow = defaultExchangeRecvWindow },
		},
	)
	e.BaseURL = strings.TrimRight(strings.TrimSpace(e.BaseURL), "/")
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "trading.capital",
			need:  func() bool { return t.Capital <= 0 },
			apply: func() { t.Capital = defaultCapital },
		},
		fieldDefault{
			key:   "trading.min_leverage",
			need:  func() bool { return t.MinLeverage == 0 },
			apply: func() { t.MinLeverage = defaultMinLeverage },
		},
		fieldDefault{
			key:   "trading.max_leverage",
			need:  func() bool { return t.MaxLeverage == 0 },
			apply: func() { t.MaxLeverage = defaultMaxLeverage },
		},
		fieldDefault{
			key:   "trading.symbols",
			need:  func() bool { return len(t.Symbols) == 0 },
			apply: func() { t.Symbols = append([]string(nil), defaultSymbols...) },
		},
		fieldDefault{
			key:   "trading.max_loss_ratio",
			need:  func() bool { return t.MaxLossRatio <= 0 },
			apply: func() { t.MaxLossRatio = defaultMaxLossRatio },
		},
		fieldDefault{
			key:   "trading.nudge_epsilon",
			need:  func() bool { return t.NudgeEpsilon <= 0 },
			apply: func() { t.NudgeEpsilon = defaultNudgeEpsilon },
		},
		stringFieldDefault("trading.on_misordered_levels", &t.OnMisorderedLevels, MisorderedNudge),
	)
	t.OnMisorderedLevels = strings.ToLower(strings.TrimSpace(t.OnMisorderedLevels))
	t.Symbols = symbol.NormalizeList(t.Symbols)
	t.MinLeverage, t.MaxLeverage = NormalizeLeverageBounds(t.MinLeverage, t.MaxLeverage)
}

// NormalizeLeverageBounds 把上下限抬到 >= 1，并在写反时交换。
func NormalizeLeverageBounds(minLev, maxLev int) (int, int) {
	if minLev < 1 {
		minLev = 1
	}
	if maxLev < 1 {
		maxLev = 1
	}
	if minLev > maxLev {
		minLev, maxLev = maxLev, minLev
	}
	return minLev, maxLev
}

func (t *TriggerConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		durationFieldDefault("trigger.tick", &t.Tick, defaultTick),
		durationFieldDefault("trigger.max_cycle_age", &t.MaxCycleAge, defaultMaxCycleAge),
		durationFieldDefault("trigger.cooldown", &t.Cooldown, defaultCooldown),
		fieldDefault{
			key:   "trigger.proximity",
			need:  func() bool { return t.Proximity <= 0 },
			apply: func() { t.Proximity = defaultProximity },
		},
		stringFieldDefault("trigger.session.timezone", &t.Session.Timezone, defaultSessionTimezone),
		fieldDefault{
			key:   "trigger.session.start_hour",
			apply: func() { t.Session.StartHour = defaultSessionStartHour },
		},
		fieldDefault{
			key:   "trigger.session.end_hour",
			apply: func() { t.Session.EndHour = defaultSessionEndHour },
		},
		durationFieldDefault("trigger.session.max_cycle_age", &t.Session.MaxCycleAge, defaultSessionMaxAge),
	)
}

func (l *LedgerConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("ledger.path", &l.Path, defaultLedgerPath),
		stringFieldDefault("ledger.trace_path", &l.TracePath, defaultTracePath),
		fieldDefault{
			key:   "ledger.keep",
			need:  func() bool { return l.Keep <= 0 },
			apply: func() { l.Keep = defaultLedgerKeep },
		},
	)
}

func (r *ResearchConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		durationFieldDefault("research.timeout", &r.Timeout, defaultResearchTimeout),
		durationFieldDefault("research.failure_cooldown", &r.FailureCooldown, defaultResearchCooldown),
		fieldDefault{
			key:   "research.failure_threshold",
			need:  func() bool { return r.FailureThreshold <= 0 },
			apply: func() { r.FailureThreshold = defaultResearchFailures },
		},
	)
}

func (r *ReconcileConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		boolFieldDefault("reconcile.enabled", &r.Enabled, true),
		durationFieldDefault("reconcile.interval", &r.Interval, defaultReconcileInterval),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:   key,
		apply: func() { *target = def },
	}
}

func durationFieldDefault(key string, target *time.Duration, def time.Duration) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}
