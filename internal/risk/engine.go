package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"tradeloop/internal/decision"
	"tradeloop/internal/gateway/exchange"
	"tradeloop/internal/logger"
	"tradeloop/internal/pkg/errs"
	"tradeloop/internal/pkg/symbol"
	"tradeloop/internal/pkg/trading"
	"tradeloop/internal/store/ledger"
)

// protectionTolerance 是判断已有条件单是否与目标价一致的相对误差。
const protectionTolerance = 1e-4

// EntryLookup 是平仓绑定开仓记录所需的账本读接口。
type EntryLookup interface {
	GetOpenEntry(ctx context.Context, asset string) (*ledger.Round, error)
	GetFirstOpenEntrySinceLastClose(ctx context.Context, asset string) (*ledger.Round, error)
}

type Engine struct {
	gw      exchange.Gateway
	entries EntryLookup

	mu  sync.RWMutex
	cfg Config

	nowFn func() time.Time
}

func NewEngine(gw exchange.Gateway, entries EntryLookup, cfg Config) *Engine {
	return &Engine{gw: gw, entries: entries, cfg: cfg.withDefaults(), nowFn: time.Now}
}

// SetConfig 热更新资金与杠杆参数，下一个周期生效。
func (e *Engine) SetConfig(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg.withDefaults()
	e.mu.Unlock()
}

func (e *Engine) config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Execute 校验计划并按顺序逐个资产执行。单个资产的失败只记为 warning。
// 读取持仓失败时本周期跳过所有开仓（无法判断是否会重复开仓），平仓与 WAIT 照常执行。
func (e *Engine) Execute(ctx context.Context, plan decision.Plan) (CycleResult, error) {
	cfg := e.config()
	res := CycleResult{
		PlanID:      plan.ID,
		Warnings:    append([]string(nil), plan.Warnings...),
		EntryPrices: map[string]float64{},
		Outcomes:    map[string]Outcome{},
	}

	snap, snapErr := e.snapshot(ctx, plan.Decisions, &res)
	if snapErr != nil {
		res.warn("read positions: %v; entries skipped this cycle", snapErr)
	}
	vr := Validate(cfg, plan.Decisions, snap)
	res.Decisions = vr.Decisions
	res.Adjustments = append(res.Adjustments, vr.Adjustments...)
	res.Warnings = append(res.Warnings, vr.Warnings...)
	res.Skipped = vr.Skipped
	if res.Skipped == nil {
		res.Skipped = map[string]string{}
	}
	if snapErr != nil {
		for _, d := range plan.Decisions {
			if d.Kind.IsEntry() {
				res.Skipped[d.Asset] = "positions unavailable"
			}
		}
	}
	for asset := range res.Skipped {
		res.Outcomes[asset] = OutcomeSkipped
	}

	for i := range res.Decisions {
		if err := ctx.Err(); err != nil {
			res.warn("cycle cancelled before %s: %v", res.Decisions[i].Asset, err)
			break
		}
		d := &res.Decisions[i]
		switch {
		case d.Kind.IsEntry():
			if _, skipped := res.Skipped[d.Asset]; skipped {
				continue
			}
			pos, hasPos := snap.Positions[d.Asset]
			e.executeEntry(ctx, cfg, d, pos, hasPos, &res)
		case d.Kind.IsClose():
			e.executeClose(ctx, *d, snap.MarkPrices[d.Asset], &res)
		default:
			res.Outcomes[d.Asset] = OutcomeWaiting
		}
	}
	for _, w := range res.Warnings {
		logger.Warnf("[risk] plan=%s %s", plan.ID, w)
	}
	return res, nil
}

// snapshot 只查询需要下单的资产；全是 WAIT 时不访问交易所。
func (e *Engine) snapshot(ctx context.Context, decisions []decision.TradingDecision, res *CycleResult) (Snapshot, error) {
	snap := Snapshot{Positions: map[string]exchange.Position{}, MarkPrices: map[string]float64{}}
	var active []string
	seen := map[string]bool{}
	for _, d := range decisions {
		sym := symbol.Normalize(d.Asset)
		if d.Kind == decision.KindWait || sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		active = append(active, sym)
	}
	if len(active) == 0 {
		return snap, nil
	}
	positions, posErr := e.gw.GetPositions(ctx, active...)
	for _, p := range positions {
		snap.Positions[symbol.Normalize(p.Symbol)] = p
	}
	for _, sym := range active {
		mark, err := e.gw.GetMarkPrice(ctx, sym)
		if err != nil {
			res.warn("%s: mark price unavailable: %v", sym, err)
			continue
		}
		snap.MarkPrices[sym] = mark
	}
	return snap, posErr
}

func (e *Engine) executeEntry(ctx context.Context, cfg Config, d *decision.TradingDecision, pos exchange.Position, hasPos bool, res *CycleResult) {
	long := d.Kind == decision.KindLong
	stop := decision.Value(d.Risk.StopLoss)
	target := decision.Value(d.Risk.TakeProfit)

	if hasPos && !pos.IsFlat() {
		res.Outcomes[d.Asset] = OutcomeHeld
		if pos.IsLong() != long {
			res.warn("%s: live %s position conflicts with %s decision, not flipping", d.Asset, pos.Direction(), d.Kind)
			res.line(d.Asset, "conflict", errors.New("opposite position open"), "")
			res.Outcomes[d.Asset] = OutcomeConflict
			return
		}
		orders, err := e.gw.ListConditionalOrders(ctx, d.Asset)
		if err != nil {
			res.warn("%s: list conditional orders: %v", d.Asset, err)
		} else if protectionMatches(orders, stop, target) {
			res.line(d.Asset, "keep_protection", nil, fmt.Sprintf("sl=%g tp=%g already live", stop, target))
			return
		}
		exits, err := e.gw.ConfigureExitOrders(ctx, d.Asset, legFor(long), stop, target, true)
		if err != nil {
			res.warn("%s: refresh protection: %v", d.Asset, err)
		}
		res.line(d.Asset, "refresh_protection", err, describeExits(exits))
		return
	}

	res.Outcomes[d.Asset] = OutcomeFailed
	lev := decision.Value(d.Execution.Leverage)
	confirmed, err := e.gw.SetLeverage(ctx, d.Asset, lev)
	if err != nil {
		res.warn("%s: set leverage %dx: %v", d.Asset, lev, err)
		res.line(d.Asset, "set_leverage", err, "")
		return
	}
	if confirmed > 0 && confirmed != lev {
		res.warn("%s: exchange confirmed leverage %dx instead of %dx", d.Asset, confirmed, lev)
	}
	res.line(d.Asset, "set_leverage", nil, fmt.Sprintf("%dx", confirmed))

	notional := trading.Float(trading.Dec(cfg.Capital).Mul(trading.Dec(float64(lev))))
	side, action := exchange.SideBuy, "open_long"
	if !long {
		side, action = exchange.SideSell, "open_short"
	}
	order, err := e.gw.MarketOrderByNotional(ctx, d.Asset, side, notional)
	if err != nil {
		res.warn("%s: %s notional=%g: %v", d.Asset, action, notional, err)
		res.line(d.Asset, action, err, "")
		return
	}
	res.line(d.Asset, action, nil, order.String())
	res.Outcomes[d.Asset] = OutcomeOpened

	entry := order.AvgPrice
	if positions, err := e.gw.GetPositions(ctx, d.Asset); err != nil {
		res.warn("%s: re-read position after fill: %v", d.Asset, err)
	} else {
		for _, p := range positions {
			if symbol.Normalize(p.Symbol) == d.Asset && !p.IsFlat() && p.EntryPrice > 0 {
				entry = p.EntryPrice
			}
		}
	}
	if entry > 0 {
		res.EntryPrices[d.Asset] = entry
		d.Execution.EntryPrice = decision.Float(entry)
		if clamped, ok := ClampStop(cfg.MaxLossRatio, entry, lev, stop, long); ok {
			res.Adjustments = append(res.Adjustments, Adjustment{Asset: d.Asset, OriginalStop: stop, AdjustedStop: clamped, Reason: ReasonPostFillClamp})
			stop = clamped
			d.Risk.StopLoss = decision.Float(stop)
		}
	}

	exits, err := e.gw.ConfigureExitOrders(ctx, d.Asset, legFor(long), stop, target, true)
	if err != nil {
		res.warn("%s: position open WITHOUT protection: %v", d.Asset, err)
	}
	res.line(d.Asset, "configure_exits", err, describeExits(exits))
}

func (e *Engine) executeClose(ctx context.Context, d decision.TradingDecision, mark float64, res *CycleResult) {
	order, err := e.gw.ClosePosition(ctx, d.Asset, legFor(d.Kind == decision.KindCloseLong), 0)
	if err != nil {
		if errors.Is(err, errs.ErrNoPosition) {
			res.warn("%s: %s but no live position", d.Asset, d.Kind)
			res.Outcomes[d.Asset] = OutcomeAlreadyFlat
		} else {
			res.warn("%s: close position: %v", d.Asset, err)
			res.Outcomes[d.Asset] = OutcomeFailed
		}
		res.line(d.Asset, "close", err, "")
		return
	}
	res.line(d.Asset, "close", nil, order.String())
	res.Outcomes[d.Asset] = OutcomeClosed
	exitTime := e.nowFn().UTC()

	if err := e.gw.CancelAllConditionalOrders(ctx, d.Asset); err != nil {
		res.warn("%s: cancel conditional orders after close: %v", d.Asset, err)
		res.line(d.Asset, "cancel_conditionals", err, "")
	} else {
		res.line(d.Asset, "cancel_conditionals", nil, "")
	}

	exit := order.AvgPrice
	if exit <= 0 {
		exit = mark
	}
	rec := CloseRecord{
		Symbol:    d.Asset,
		Side:      d.Kind.ClosedSide(),
		ExitPrice: exit,
		ExitTime:  exitTime,
		Notes:     NoteActiveClose,
	}
	if entry := e.bindEntry(ctx, d.Asset, res); entry != nil {
		if entry.Decision != rec.Side {
			res.warn("%s: %s closes a %s ledger entry", d.Asset, d.Kind, entry.Decision)
		}
		rec.EntryPrice = decision.Value(entry.EntryPrice)
		rec.EntryTime = entry.CreatedAt
		rec.Leverage = decision.Value(entry.Leverage)
		rec.StopLoss = entry.StopLoss
		rec.TakeProfit = entry.TakeProfit
	}
	rec.PnL = closePnL(rec)
	res.Closes = append(res.Closes, rec)
}

// bindEntry 绑定到上次平仓之后最早的开仓；与最近开仓不一致时记 warning。
func (e *Engine) bindEntry(ctx context.Context, asset string, res *CycleResult) *ledger.Round {
	if e.entries == nil {
		return nil
	}
	first, err := e.entries.GetFirstOpenEntrySinceLastClose(ctx, asset)
	if err != nil {
		res.warn("%s: lookup first open entry: %v", asset, err)
	}
	latest, err := e.entries.GetOpenEntry(ctx, asset)
	if err != nil {
		res.warn("%s: lookup open entry: %v", asset, err)
	}
	switch {
	case first == nil && latest == nil:
		res.warn("%s: closed without a ledger entry", asset)
		return nil
	case first == nil:
		return latest
	case latest != nil && latest.ID != first.ID:
		res.warn("%s: latest open entry %d differs from first entry %d since last close, binding to %d", asset, latest.ID, first.ID, first.ID)
	}
	return first
}

func closePnL(rec CloseRecord) *float64 {
	pnl, ok := trading.PnLRatio(rec.EntryPrice, rec.ExitPrice, rec.Side == decision.KindLong)
	if !ok {
		return nil
	}
	return &pnl
}

// protectionMatches 要求恰好一张止损单（以及给定时恰好一张止盈单），且触发价一致。
func protectionMatches(orders []exchange.ConditionalOrder, stop, target float64) bool {
	var stops, targets []float64
	for _, o := range orders {
		switch o.Type {
		case exchange.OrderTypeStopMarket:
			stops = append(stops, o.StopPrice)
		case exchange.OrderTypeTakeProfitMarket:
			targets = append(targets, o.StopPrice)
		}
	}
	if stop > 0 {
		if len(stops) != 1 || !samePrice(stops[0], stop) {
			return false
		}
	} else if len(stops) != 0 {
		return false
	}
	if target > 0 {
		return len(targets) == 1 && samePrice(targets[0], target)
	}
	return len(targets) == 0
}

func samePrice(a, b float64) bool {
	if b == 0 {
		return a == 0
	}
	return math.Abs(a-b)/math.Abs(b) <= protectionTolerance
}

func describeExits(x exchange.ExitOrders) string {
	out := ""
	if x.StopLoss != nil {
		out = "sl=" + x.StopLoss.String()
	}
	if x.TakeProfit != nil {
		if out != "" {
			out += "; "
		}
		out += "tp=" + x.TakeProfit.String()
	}
	return out
}

func legFor(long bool) exchange.PositionSide {
	if long {
		return exchange.PositionSideLong
	}
	return exchange.PositionSideShort
}
