// Package trigger decides on every tick whether a research+execution cycle
// should fire, and runs that cycle with a single in-flight guard.
package trigger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradeloop/internal/config"
	"tradeloop/internal/decision"
	"tradeloop/internal/logger"
	"tradeloop/internal/pkg/symbol"
	"tradeloop/internal/pkg/trading"
	"tradeloop/internal/store/ledger"
)

const (
	ReasonColdStart      = "cold_start"
	ReasonTimeout        = "timeout"
	ReasonStopLossHit    = "stop_loss_hit"
	ReasonTakeProfitHit  = "take_profit_hit"
	ReasonNearStopLoss   = "near_stop_loss"
	ReasonNearTakeProfit = "near_take_profit"
	ReasonMonitorPrefix  = "monitoring:"
	ReasonManual         = "manual"
)

// Session 在工作日 [StartHour, EndHour) 内使用更短的超时。
type Session struct {
	Enabled     bool
	Location    *time.Location
	StartHour   int
	EndHour     int
	MaxCycleAge time.Duration
}

func (s Session) Active(now time.Time) bool {
	if !s.Enabled || s.MaxCycleAge <= 0 {
		return false
	}
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return local.Hour() >= s.StartHour && local.Hour() < s.EndHour
}

type Thresholds struct {
	Tick        time.Duration
	MaxCycleAge time.Duration
	Cooldown    time.Duration
	Proximity   float64
	Session     Session
}

func ThresholdsFrom(tc config.TriggerConfig) Thresholds {
	th := Thresholds{
		Tick:        tc.Tick,
		MaxCycleAge: tc.MaxCycleAge,
		Cooldown:    tc.Cooldown,
		Proximity:   tc.Proximity,
		Session: Session{
			Enabled:     tc.Session.Enabled,
			StartHour:   tc.Session.StartHour,
			EndHour:     tc.Session.EndHour,
			MaxCycleAge: tc.Session.MaxCycleAge,
			Location:    time.UTC,
		},
	}
	if tz := strings.TrimSpace(tc.Session.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			logger.Warnf("trigger: unknown session timezone %q, using UTC: %v", tz, err)
		} else {
			th.Session.Location = loc
		}
	}
	return th
}

func (t Thresholds) maxAge(now time.Time) time.Duration {
	if t.Session.Active(now) {
		return t.Session.MaxCycleAge
	}
	return t.MaxCycleAge
}

// Decision 是一次 tick 的评估结果。Symbol/Price 只在价格触发时有值。
type Decision struct {
	Fire   bool
	Reason string
	Symbol string
	Price  float64
}

func (d Decision) PriceTriggered() bool { return d.Fire && d.Symbol != "" }

// State 是评估所需的全部输入，Prices 与 Alerts 以交易所 symbol 为键。
type State struct {
	Now       time.Time
	LastRound time.Time
	HasRound  bool
	Targets   []ledger.MonitoringTarget
	Prices    map[string]float64
	Alerts    map[string]ledger.AlertState
}

// Evaluate 依次检查冷却、超时、价格；纯函数。
func Evaluate(th Thresholds, st State) Decision {
	if d, done := evaluateTime(th, st.Now, st.LastRound, st.HasRound); done {
		return d
	}
	return evaluatePrices(th, st)
}

// evaluateTime 返回 done=true 表示已有结论（冷却中或超时触发），无需再查价格。
func evaluateTime(th Thresholds, now, last time.Time, hasRound bool) (Decision, bool) {
	if !hasRound {
		return Decision{Fire: true, Reason: ReasonColdStart}, true
	}
	elapsed := now.Sub(last)
	if elapsed < th.Cooldown {
		return Decision{Reason: "cooldown"}, true
	}
	if maxAge := th.maxAge(now); maxAge > 0 && elapsed >= maxAge {
		return Decision{Fire: true, Reason: ReasonTimeout}, true
	}
	return Decision{}, false
}

func evaluatePrices(th Thresholds, st State) Decision {
	prox := trading.Dec(th.Proximity)
	for _, t := range st.Targets {
		sym := symbol.Normalize(t.Symbol)
		price := st.Prices[sym]
		if price <= 0 {
			continue
		}
		reason := targetReason(t, trading.Dec(price), prox)
		if reason == "" {
			continue
		}
		if suppressed(st.Alerts[sym], reason, st.Now, th.Cooldown) {
			continue
		}
		return Decision{Fire: true, Reason: reason, Symbol: sym, Price: price}
	}
	return Decision{}
}

// targetReason 按 硬突破 > 接近 > 监控价位 的顺序返回第一个命中的原因。
func targetReason(t ledger.MonitoringTarget, price, prox decimal.Decimal) string {
	switch t.Decision {
	case decision.KindLong, decision.KindShort:
		long := t.Decision == decision.KindLong
		stop, hasStop := level(t.StopLoss)
		target, hasTarget := level(t.TakeProfit)
		if hasStop && ((long && price.LessThanOrEqual(stop)) || (!long && price.GreaterThanOrEqual(stop))) {
			return ReasonStopLossHit
		}
		if hasTarget && ((long && price.GreaterThanOrEqual(target)) || (!long && price.LessThanOrEqual(target))) {
			return ReasonTakeProfitHit
		}
		if hasStop && near(price, stop, prox) {
			return ReasonNearStopLoss
		}
		if hasTarget && near(price, target, prox) {
			return ReasonNearTakeProfit
		}
	case decision.KindWait:
		for _, node := range t.MonitoringPrices {
			if node.Price <= 0 {
				continue
			}
			lvl := trading.Dec(node.Price)
			hit := false
			switch node.Condition {
			case decision.ConditionAbove:
				hit = price.GreaterThanOrEqual(lvl)
			case decision.ConditionBelow:
				hit = price.LessThanOrEqual(lvl)
			default:
				hit = near(price, lvl, prox)
			}
			if hit {
				return ReasonMonitorPrefix + monitorLabel(node)
			}
		}
	}
	return ""
}

func level(p *float64) (decimal.Decimal, bool) {
	if p == nil || *p <= 0 {
		return decimal.Zero, false
	}
	return trading.Dec(*p), true
}

func near(price, lvl, prox decimal.Decimal) bool {
	if lvl.Sign() <= 0 {
		return false
	}
	return price.Sub(lvl).Abs().Div(lvl).LessThanOrEqual(prox)
}

func monitorLabel(node decision.MonitoringPrice) string {
	if note := strings.TrimSpace(node.Note); note != "" {
		return note
	}
	return string(node.Condition) + " " + trading.Dec(node.Price).String()
}

// suppressed: 同一 symbol 同一原因在冷却窗口内只触发一次。
func suppressed(st ledger.AlertState, reason string, now time.Time, cooldown time.Duration) bool {
	if st.Symbol == "" || st.LastReason != reason {
		return false
	}
	return now.Sub(st.LastTriggerAt) < cooldown
}
