package trigger

import (
	"fmt"
	"strings"
	"time"

	"tradeloop/internal/decision"
	"tradeloop/internal/risk"
	"tradeloop/internal/store/ledger"
)

// buildRounds 为计划里的每个资产生成一行账本记录，动作以实际执行结果为准。
func buildRounds(plan decision.Plan, res risk.CycleResult, roundID int64, now time.Time, trig Decision) []ledger.Round {
	assets := plan.Assets()
	adjusted := make(map[string]decision.TradingDecision, len(res.Decisions))
	for _, d := range res.Decisions {
		adjusted[d.Asset] = d
	}
	out := make([]ledger.Round, 0, len(plan.Decisions))
	for _, planned := range plan.Decisions {
		d, ok := adjusted[planned.Asset]
		if !ok {
			d = planned
		}
		kind := d.Kind
		if kind != decision.KindWait {
			kind = res.EffectiveKind(d.Asset, d.Kind)
		}
		r := ledger.Round{
			CreatedAt: now,
			RoundID:   roundID,
			Assets:    assets,
			Decision:  kind,
			Asset:     d.Asset,
			Summary:   summaryText(d, kind, res),
		}
		if kind.IsEntry() {
			r.EntryPrice = entryPrice(d, res)
			r.StopLoss = d.Risk.StopLoss
			r.TakeProfit = d.Risk.TakeProfit
			r.Leverage = d.Execution.Leverage
			r.Situation = contextSnapshot(d, res, trig)
		} else {
			r.Situation = fmt.Sprintf("%s | %s | %s", d.Asset, kind, orDefault(d.Thesis, "无"))
		}
		out = append(out, r)
	}
	return out
}

func buildTarget(r ledger.Round, d decision.TradingDecision) ledger.MonitoringTarget {
	t := ledger.MonitoringTarget{Symbol: r.Asset, Decision: r.Decision}
	switch {
	case r.Decision.IsEntry():
		t.StopLoss, t.TakeProfit = r.StopLoss, r.TakeProfit
	case r.Decision == decision.KindWait:
		t.MonitoringPrices = d.Risk.MonitoringPrices
	}
	return t
}

func targetFromEntry(open ledger.Round) ledger.MonitoringTarget {
	return ledger.MonitoringTarget{
		Symbol:     open.Asset,
		Decision:   open.Decision,
		StopLoss:   open.StopLoss,
		TakeProfit: open.TakeProfit,
	}
}

func entryPrice(d decision.TradingDecision, res risk.CycleResult) *float64 {
	if p, ok := res.EntryPrices[d.Asset]; ok && p > 0 {
		return decision.Float(p)
	}
	return d.Execution.EntryPrice
}

func summaryText(d decision.TradingDecision, kind decision.Kind, res risk.CycleResult) string {
	lines := []string{
		fmt.Sprintf("[结论] %s | %s | %s", d.Asset, kind, orDefault(d.Thesis, "无明确理由")),
	}
	if kind != d.Kind {
		reason := res.Skipped[d.Asset]
		if reason == "" {
			reason = string(res.Outcomes[d.Asset])
		}
		lines = append(lines, fmt.Sprintf("[执行] 计划 %s 未生效：%s", d.Kind, orDefault(reason, "unknown")))
	}
	lines = append(lines, fmt.Sprintf("[风险] 入场 %s | 止损 %s | 止盈 %s | 杠杆 %s",
		fmtFloat(entryPrice(d, res)), fmtFloat(d.Risk.StopLoss), fmtFloat(d.Risk.TakeProfit), fmtInt(d.Execution.Leverage)))
	watch := d.Risk.Monitoring
	if len(watch) == 0 {
		watch = d.Risk.Invalidations
	}
	if len(watch) == 0 {
		watch = []string{"暂无"}
	}
	lines = append(lines, "[下轮关注] "+strings.Join(watch, ", "))
	return strings.Join(lines, "\n")
}

// contextSnapshot 记录开仓时的触发原因、风控改写和执行结果，供复盘使用。
func contextSnapshot(d decision.TradingDecision, res risk.CycleResult, trig Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s | %s | %s\n", d.Asset, d.Kind, orDefault(d.Thesis, "无"))
	fmt.Fprintf(&b, "trigger: %s", trig.Reason)
	if trig.Symbol != "" {
		fmt.Fprintf(&b, " (%s @ %g)", trig.Symbol, trig.Price)
	}
	b.WriteString("\n")
	for _, a := range res.Adjustments {
		if a.Asset == d.Asset {
			b.WriteString("adjust: " + a.String() + "\n")
		}
	}
	for _, l := range res.Execution {
		if l.Asset == d.Asset {
			b.WriteString("exec: " + l.String() + "\n")
		}
	}
	if len(d.Risk.Invalidations) > 0 {
		b.WriteString("invalidations: " + strings.Join(d.Risk.Invalidations, "; ") + "\n")
	}
	return strings.TrimSpace(b.String())
}

func fmtFloat(p *float64) string {
	if p == nil {
		return "未给出"
	}
	return fmt.Sprintf("%g", *p)
}

func fmtInt(p *int) string {
	if p == nil {
		return "未给出"
	}
	return fmt.Sprintf("%dx", *p)
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
