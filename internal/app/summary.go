package app

import (
	"fmt"
	"strings"
	"time"

	brcfg "tradeloop/internal/config"
	"tradeloop/internal/research"
)

type StartupSummary struct {
	Env       string
	Symbols   []string
	Capital   float64
	Leverage  [2]int
	MaxLoss   float64
	Research  string
	Tick      time.Duration
	Cooldown  time.Duration
	MaxAge    time.Duration
	Proximity float64
	Session   string
	Ledger    string
	HTTPAddr  string
	Reconcile string
}

func newStartupSummary(cfg *brcfg.Config, src research.Source) *StartupSummary {
	s := &StartupSummary{
		Env:       cfg.App.Env,
		Symbols:   cfg.Trading.Symbols,
		Capital:   cfg.Trading.Capital,
		Leverage:  [2]int{cfg.Trading.MinLeverage, cfg.Trading.MaxLeverage},
		MaxLoss:   cfg.Trading.MaxLossRatio,
		Research:  fmt.Sprintf("%T", src),
		Tick:      cfg.Trigger.Tick,
		Cooldown:  cfg.Trigger.Cooldown,
		MaxAge:    cfg.Trigger.MaxCycleAge,
		Proximity: cfg.Trigger.Proximity,
		Session:   "off",
		Ledger:    cfg.Ledger.Path,
		HTTPAddr:  cfg.HTTP.Addr,
		Reconcile: "off",
	}
	if sc := cfg.Trigger.Session; sc.Enabled {
		s.Session = fmt.Sprintf("%s %02d:00-%02d:00 max_age=%s", sc.Timezone, sc.StartHour, sc.EndHour, sc.MaxCycleAge)
	}
	if cfg.Reconcile.Enabled {
		s.Reconcile = "every " + cfg.Reconcile.Interval.String()
	}
	return s
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[交易 (TRADING)]")
	fmt.Printf("  环境: %s\n", orDash(s.Env))
	fmt.Printf("  币种: %s\n", formatList(s.Symbols))
	fmt.Printf("  单笔资金: %g  杠杆: %dx-%dx  最大亏损: %.2f%%\n", s.Capital, s.Leverage[0], s.Leverage[1], s.MaxLoss*100)
	fmt.Printf("  研究来源: %s\n", s.Research)
	fmt.Println()

	fmt.Println("[触发 (TRIGGER)]")
	fmt.Printf("  tick: %s  冷却: %s  超时: %s  接近阈值: %.3f%%\n", s.Tick, s.Cooldown, s.MaxAge, s.Proximity*100)
	fmt.Printf("  交易时段: %s\n", s.Session)
	fmt.Println()

	fmt.Println("[存储与服务 (STORAGE / SERVICES)]")
	fmt.Printf("  账本: %s\n", s.Ledger)
	fmt.Printf("  状态接口: %s\n", orDash(s.HTTPAddr))
	fmt.Printf("  对账: %s\n", s.Reconcile)
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
