package config

import (
	"strings"
	"time"
)

// Config 是 tradeloop 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Exchange  ExchangeConfig  `toml:"exchange"`
	Trading   TradingConfig   `toml:"trading"`
	Trigger   TriggerConfig   `toml:"trigger"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Research  ResearchConfig  `toml:"research"`
	Notify    NotifyConfig    `toml:"notify"`
	HTTP      HTTPConfig      `toml:"http"`
	Reconcile ReconcileConfig `toml:"reconcile"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
}

// ExchangeConfig 描述 Binance U 本位合约 REST 接入。密钥优先从环境变量读取。
type ExchangeConfig struct {
	APIKey     string        `toml:"api_key"`
	SecretKey  string        `toml:"secret_key"`
	BaseURL    string        `toml:"base_url"`
	Timeout    time.Duration `toml:"timeout"`
	Proxy      string        `toml:"proxy"`
	RecvWindow int64         `toml:"recv_window"`
	// RulesTTL 为 0 时交易规则缓存整个进程生命周期。
	RulesTTL time.Duration `toml:"rules_ttl"`
}

type TradingConfig struct {
	Capital            float64  `toml:"capital"`
	MinLeverage        int      `toml:"min_leverage"`
	MaxLeverage        int      `toml:"max_leverage"`
	Symbols            []string `toml:"symbols"`
	MaxLossRatio       float64  `toml:"max_loss_ratio"`
	NudgeEpsilon       float64  `toml:"nudge_epsilon"`
	OnMisorderedLevels string   `toml:"on_misordered_levels"`
}

const (
	MisorderedNudge = "nudge"
	MisorderedSkip  = "skip"
)

type TriggerConfig struct {
	Tick        time.Duration `toml:"tick"`
	MaxCycleAge time.Duration `toml:"max_cycle_age"`
	Cooldown    time.Duration `toml:"cooldown"`
	Proximity   float64       `toml:"proximity"`
	Session     SessionConfig `toml:"session"`
}

// SessionConfig 在交易时段内缩短超时触发间隔（纽约工作日 08:00-20:00）。
type SessionConfig struct {
	Enabled     bool          `toml:"enabled"`
	Timezone    string        `toml:"timezone"`
	StartHour   int           `toml:"start_hour"`
	EndHour     int           `toml:"end_hour"`
	MaxCycleAge time.Duration `toml:"max_cycle_age"`
}

type LedgerConfig struct {
	Path      string `toml:"path"`
	Keep      int    `toml:"keep"`
	TracePath string `toml:"trace_path"`
}

type ResearchConfig struct {
	URL              string        `toml:"url"`
	Timeout          time.Duration `toml:"timeout"`
	PlanFile         string        `toml:"plan_file"`
	FailureThreshold int           `toml:"failure_threshold"`
	FailureCooldown  time.Duration `toml:"failure_cooldown"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type HTTPConfig struct {
	Addr string `toml:"addr"`
}

type ReconcileConfig struct {
	Enabled  bool          `toml:"enabled"`
	Interval time.Duration `toml:"interval"`
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}
