package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tradeloop/internal/config"
	"tradeloop/internal/decision"
	"tradeloop/internal/pkg/symbol"
	"tradeloop/internal/pkg/trading"
)

// boundSlack 吸收 float64 往返带来的误差，避免刚好落在边界上的止损被误判。
var boundSlack = decimal.New(1, -9)

// Validate 不做任何 I/O：只根据 snapshot 改写计划里的杠杆与止损。
// 缺少杠杆或止损的开仓决策一律跳过。
func Validate(cfg Config, decisions []decision.TradingDecision, snap Snapshot) ValidationResult {
	cfg = cfg.withDefaults()
	res := ValidationResult{Skipped: map[string]string{}}
	skip := func(asset, format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		res.Skipped[asset] = msg
		res.Warnings = append(res.Warnings, asset+": "+msg)
	}

	for _, d := range decisions {
		d.Asset = symbol.Normalize(d.Asset)
		if !d.Kind.IsEntry() {
			res.Decisions = append(res.Decisions, d)
			continue
		}
		if d.Execution.Leverage == nil || *d.Execution.Leverage <= 0 {
			skip(d.Asset, "%s without leverage, skipped", d.Kind)
			continue
		}
		if d.Risk.StopLoss == nil || *d.Risk.StopLoss <= 0 {
			skip(d.Asset, "%s without stop loss, skipped", d.Kind)
			continue
		}

		lev := *d.Execution.Leverage
		switch {
		case lev < cfg.MinLeverage:
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: leverage %d below min, using %d", d.Asset, lev, cfg.MinLeverage))
			lev = cfg.MinLeverage
		case lev > cfg.MaxLeverage:
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: leverage %d above max, using %d", d.Asset, lev, cfg.MaxLeverage))
			lev = cfg.MaxLeverage
		}
		d.Execution.Leverage = decision.Int(lev)

		entry := referenceEntry(d, snap)
		if entry <= 0 {
			skip(d.Asset, "no entry reference (position, plan or mark), skipped")
			continue
		}
		long := d.Kind == decision.KindLong
		orig := *d.Risk.StopLoss
		stop := orig
		if clamped, ok := ClampStop(cfg.MaxLossRatio, entry, lev, stop, long); ok {
			stop = clamped
			res.Adjustments = append(res.Adjustments, Adjustment{Asset: d.Asset, OriginalStop: orig, AdjustedStop: stop, Reason: ReasonMaxLossClamp})
		}

		mark := snap.MarkPrices[d.Asset]
		if mark > 0 {
			var target *float64
			if d.Risk.TakeProfit != nil && *d.Risk.TakeProfit > 0 {
				target = decision.Float(*d.Risk.TakeProfit)
			}
			stopBad := misordered(stop, mark, long, true)
			targetBad := target != nil && misordered(*target, mark, long, false)
			if stopBad || targetBad {
				if cfg.OnMisordered == config.MisorderedSkip {
					skip(d.Asset, "stop/target on the wrong side of mark %g, skipped", mark)
					continue
				}
				if stopBad {
					before := stop
					stop = nudge(mark, cfg.NudgeEpsilon, long, true)
					res.Warnings = append(res.Warnings, fmt.Sprintf("%s: stop %g on the wrong side of mark %g, nudged to %g", d.Asset, before, mark, stop))
					res.Adjustments = append(res.Adjustments, Adjustment{Asset: d.Asset, OriginalStop: before, AdjustedStop: stop, Reason: ReasonDirectionNudge})
					if !WithinBound(cfg.MaxLossRatio, entry, lev, stop) {
						skip(d.Asset, "nudged stop %g breaks the %.0f%% loss cap at %dx, skipped", stop, cfg.MaxLossRatio*100, lev)
						continue
					}
				}
				if targetBad {
					before := *target
					*target = nudge(mark, cfg.NudgeEpsilon, long, false)
					res.Warnings = append(res.Warnings, fmt.Sprintf("%s: target %g on the wrong side of mark %g, nudged to %g", d.Asset, before, mark, *target))
				}
			}
			if target != nil {
				d.Risk.TakeProfit = target
			}
		}
		d.Risk.StopLoss = decision.Float(stop)
		res.Decisions = append(res.Decisions, d)
	}
	return res
}

// referenceEntry: 实时持仓均价 > 计划入场价 > 标记价。
func referenceEntry(d decision.TradingDecision, snap Snapshot) float64 {
	if pos, ok := snap.Positions[d.Asset]; ok && !pos.IsFlat() && pos.EntryPrice > 0 {
		return pos.EntryPrice
	}
	if d.Execution.EntryPrice != nil && *d.Execution.EntryPrice > 0 {
		return *d.Execution.EntryPrice
	}
	return snap.MarkPrices[d.Asset]
}

// ClampStop 在 |stop-entry|/entry > ratio/lev 时返回 entry*(1∓ratio/lev)。
func ClampStop(ratio, entry float64, lev int, stop float64, long bool) (float64, bool) {
	if entry <= 0 || lev <= 0 || WithinBound(ratio, entry, lev, stop) {
		return stop, false
	}
	e := trading.Dec(entry)
	maxDist := trading.Dec(ratio).Div(decimal.NewFromInt(int64(lev)))
	if long {
		return trading.Float(e.Mul(decimal.NewFromInt(1).Sub(maxDist))), true
	}
	return trading.Float(e.Mul(decimal.NewFromInt(1).Add(maxDist))), true
}

func WithinBound(ratio, entry float64, lev int, stop float64) bool {
	if entry <= 0 || lev <= 0 {
		return false
	}
	e := trading.Dec(entry)
	dist := trading.Dec(stop).Sub(e).Abs().Div(e)
	maxDist := trading.Dec(ratio).Div(decimal.NewFromInt(int64(lev)))
	return dist.LessThanOrEqual(maxDist.Add(boundSlack))
}

// misordered: 多头要求 stop < mark < target，空头相反。
func misordered(price, mark float64, long, isStop bool) bool {
	below := price < mark
	above := price > mark
	if long == isStop {
		return !below
	}
	return !above
}

func nudge(mark, eps float64, long, isStop bool) float64 {
	m := trading.Dec(mark)
	step := m.Mul(trading.Dec(eps))
	if long == isStop {
		return trading.Float(m.Sub(step))
	}
	return trading.Float(m.Add(step))
}
