// Package reconcile 补录交易所侧已平仓、账本仍显示持仓的记录（止损/止盈单成交、手动平仓）。
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradeloop/internal/decision"
	"tradeloop/internal/gateway/exchange"
	"tradeloop/internal/logger"
	"tradeloop/internal/pkg/trading"
	"tradeloop/internal/risk"
	"tradeloop/internal/scheduler"
	"tradeloop/internal/store/ledger"
)

const contextLookback = 50

type Ledger interface {
	OpenEntries(ctx context.Context) ([]ledger.Round, error)
	GetFirstOpenEntrySinceLastClose(ctx context.Context, asset string) (*ledger.Round, error)
	GetRecentRounds(ctx context.Context, limit int) ([]ledger.Round, error)
	AppendRound(ctx context.Context, r *ledger.Round) error
}

type Exchange interface {
	exchange.PositionReader
	exchange.MarkPricer
}

type Publisher interface {
	PublishAll(recs []risk.CloseRecord)
}

// Guard 与交易周期共享的互斥标志。
type Guard interface {
	TryAcquire() bool
	Release()
}

// Result 汇总一次对账。
type Result struct {
	Checked    int                `json:"checked"`
	Backfilled []ledger.Round     `json:"backfilled"`
	Closes     []risk.CloseRecord `json:"closes"`
	Skipped    map[string]string  `json:"skipped,omitempty"`
	Deferred   bool               `json:"deferred,omitempty"`
}

type Reconciler struct {
	ledger Ledger
	ex     Exchange
	pub    Publisher
	guard  Guard
	nowFn  func() time.Time
}

func New(l Ledger, ex Exchange, pub Publisher) *Reconciler {
	return &Reconciler{ledger: l, ex: ex, pub: pub, nowFn: time.Now}
}

// SetGuard 让对账与交易周期互斥；周期执行中时本轮对账推迟到下一个间隔。
func (r *Reconciler) SetGuard(g Guard) { r.guard = g }

// Loop 按固定间隔执行对账，直到 ctx 结束。
func (r *Reconciler) Loop(ctx context.Context, interval time.Duration) error {
	loop := scheduler.NewAlignedScheduler("reconcile", interval, 0)
	return loop.Run(ctx, func(ctx context.Context) {
		res, err := r.Run(ctx, false)
		if err != nil {
			logger.Errorf("reconcile: %v", err)
			return
		}
		if len(res.Backfilled) > 0 {
			logger.Infof("reconcile: backfilled %d closes", len(res.Backfilled))
		}
	})
}

// Run 对每个账本未平仓资产查询交易所；无持仓则追加 CLOSE_* 行。
// dryRun 只计算不写入，也不推送复盘。
func (r *Reconciler) Run(ctx context.Context, dryRun bool) (Result, error) {
	res := Result{Skipped: map[string]string{}}
	if r.guard != nil {
		if !r.guard.TryAcquire() {
			logger.Infof("reconcile: cycle in flight, deferred")
			res.Deferred = true
			return res, nil
		}
		defer r.guard.Release()
	}
	entries, err := r.ledger.OpenEntries(ctx)
	if err != nil {
		return res, fmt.Errorf("list open entries: %w", err)
	}
	if len(entries) == 0 {
		return res, nil
	}
	waitCtx := r.latestWaitContext(ctx)
	for _, entry := range entries {
		res.Checked++
		sym := entry.Asset
		positions, err := r.ex.GetPositions(ctx, sym)
		if err != nil {
			res.Skipped[sym] = err.Error()
			logger.Warnf("reconcile: positions %s unavailable: %v", sym, err)
			continue
		}
		if hasPosition(positions, sym) {
			continue
		}
		round := backfillRound(entry, waitCtx, r.nowFn().UTC())
		rec := r.closeRecord(ctx, entry, round)
		if dryRun {
			res.Backfilled = append(res.Backfilled, round)
			res.Closes = append(res.Closes, rec)
			continue
		}
		if err := r.ledger.AppendRound(ctx, &round); err != nil {
			res.Skipped[sym] = err.Error()
			logger.Errorf("reconcile: append close %s: %v", sym, err)
			continue
		}
		logger.Infof("reconcile: %s %s backfilled (round %d)", sym, round.Decision, round.RoundID)
		res.Backfilled = append(res.Backfilled, round)
		res.Closes = append(res.Closes, rec)
	}
	if !dryRun && r.pub != nil && len(res.Closes) > 0 {
		r.pub.PublishAll(res.Closes)
	}
	return res, nil
}

func hasPosition(positions []exchange.Position, sym string) bool {
	for _, p := range positions {
		if p.Symbol != "" && !strings.EqualFold(p.Symbol, sym) {
			continue
		}
		if !p.IsFlat() {
			return true
		}
	}
	return false
}

// latestWaitContext 取最近一条 WAIT 轮次的总结与情境，作为补录行的情境文本。
func (r *Reconciler) latestWaitContext(ctx context.Context) string {
	rounds, err := r.ledger.GetRecentRounds(ctx, contextLookback)
	if err != nil {
		logger.Warnf("reconcile: recent rounds: %v", err)
		return ""
	}
	for _, rd := range rounds {
		if rd.Decision != decision.KindWait {
			continue
		}
		var parts []string
		for _, p := range []string{rd.Summary, rd.Situation} {
			if strings.TrimSpace(p) != "" {
				parts = append(parts, p)
			}
		}
		return strings.Join(parts, "\n\n")
	}
	return ""
}

func closeKind(entry decision.Kind) decision.Kind {
	if entry == decision.KindShort {
		return decision.KindCloseShort
	}
	return decision.KindCloseLong
}

func backfillRound(entry ledger.Round, waitContext string, now time.Time) ledger.Round {
	kind := closeKind(entry.Decision)
	summary := fmt.Sprintf("[结论] %s | %s | 交易所自动平仓回填", entry.Asset, kind)
	situation := waitContext
	if situation == "" {
		situation = entry.Situation
	}
	if situation == "" {
		situation = summary
	}
	assets := entry.Assets
	if len(assets) == 0 {
		assets = []string{entry.Asset}
	}
	return ledger.Round{
		CreatedAt:  now,
		RoundID:    entry.RoundID,
		Assets:     assets,
		Situation:  situation,
		Summary:    summary,
		Decision:   kind,
		Asset:      entry.Asset,
		EntryPrice: entry.EntryPrice,
		StopLoss:   entry.StopLoss,
		TakeProfit: entry.TakeProfit,
		Leverage:   entry.Leverage,
	}
}

// closeRecord 绑定上次平仓后的第一条开仓；退出价取当前标记价，拿不到时 PnL 留空。
func (r *Reconciler) closeRecord(ctx context.Context, latest ledger.Round, round ledger.Round) risk.CloseRecord {
	entry := latest
	if first, err := r.ledger.GetFirstOpenEntrySinceLastClose(ctx, latest.Asset); err != nil {
		logger.Warnf("reconcile: first open entry %s: %v", latest.Asset, err)
	} else if first != nil {
		entry = *first
	}
	rec := risk.CloseRecord{
		Symbol:     entry.Asset,
		Side:       entry.Decision,
		EntryPrice: decision.Value(entry.EntryPrice),
		EntryTime:  entry.CreatedAt,
		ExitTime:   round.CreatedAt,
		Leverage:   decision.Value(entry.Leverage),
		StopLoss:   entry.StopLoss,
		TakeProfit: entry.TakeProfit,
		Notes:      risk.NoteBackfill,
	}
	mark, err := r.ex.GetMarkPrice(ctx, entry.Asset)
	if err != nil {
		logger.Warnf("reconcile: mark price %s: %v", entry.Asset, err)
		return rec
	}
	rec.ExitPrice = mark
	if pnl, ok := trading.PnLRatio(rec.EntryPrice, mark, entry.Decision == decision.KindLong); ok {
		rec.PnL = &pnl
	}
	return rec
}
