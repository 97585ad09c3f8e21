package config

import (
	"fmt"
	"strings"
	"time"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Exchange.validate(); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Trigger.validate(); err != nil {
		return err
	}
	if err := c.Ledger.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (e *ExchangeConfig) validate() error {
	if e.BaseURL == "" {
		return fmt.Errorf("exchange.base_url cannot be empty")
	}
	if e.Timeout <= 0 {
		return fmt.Errorf("exchange.timeout must be > 0")
	}
	if e.RulesTTL < 0 {
		return fmt.Errorf("exchange.rules_ttl must be >= 0")
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if t.Capital <= 0 {
		return fmt.Errorf("trading.capital must be > 0")
	}
	if len(t.Symbols) == 0 {
		return fmt.Errorf("trading.symbols requires at least one valid symbol")
	}
	if t.MaxLossRatio <= 0 || t.MaxLossRatio >= 1 {
		return fmt.Errorf("trading.max_loss_ratio must be in (0, 1)")
	}
	if t.NudgeEpsilon <= 0 || t.NudgeEpsilon >= 0.1 {
		return fmt.Errorf("trading.nudge_epsilon must be in (0, 0.1)")
	}
	switch t.OnMisorderedLevels {
	case MisorderedNudge, MisorderedSkip:
	default:
		return fmt.Errorf("trading.on_misordered_levels only supports nudge|skip, got %s", t.OnMisorderedLevels)
	}
	return nil
}

func (t *TriggerConfig) validate() error {
	if t.Tick <= 0 {
		return fmt.Errorf("trigger.tick must be > 0")
	}
	if t.MaxCycleAge <= 0 {
		return fmt.Errorf("trigger.max_cycle_age must be > 0")
	}
	if t.Cooldown < 0 {
		return fmt.Errorf("trigger.cooldown must be >= 0")
	}
	if t.Proximity < 0 || t.Proximity >= 0.5 {
		return fmt.Errorf("trigger.proximity must be in [0, 0.5)")
	}
	if !t.Session.Enabled {
		return nil
	}
	if _, err := time.LoadLocation(t.Session.Timezone); err != nil {
		return fmt.Errorf("trigger.session.timezone invalid: %w", err)
	}
	if t.Session.StartHour < 0 || t.Session.EndHour > 24 || t.Session.StartHour >= t.Session.EndHour {
		return fmt.Errorf("trigger.session hours must satisfy 0 <= start_hour < end_hour <= 24")
	}
	if t.Session.MaxCycleAge <= 0 {
		return fmt.Errorf("trigger.session.max_cycle_age must be > 0")
	}
	return nil
}

func (l *LedgerConfig) validate() error {
	if strings.TrimSpace(l.Path) == "" {
		return fmt.Errorf("ledger.path cannot be empty")
	}
	if l.Keep <= 0 {
		return fmt.Errorf("ledger.keep must be > 0")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	tg := n.Telegram
	if !tg.Enabled {
		return nil
	}
	if strings.TrimSpace(tg.BotToken) == "" || strings.TrimSpace(tg.ChatID) == "" {
		return fmt.Errorf("notify.telegram enabled but bot_token/chat_id missing")
	}
	return nil
}
