// Package risk validates research plans against the per-trade loss cap and
// drives the exchange gateway for the surviving decisions.
package risk

import (
	"fmt"
	"time"

	"tradeloop/internal/config"
	"tradeloop/internal/decision"
	"tradeloop/internal/gateway/exchange"
)

const (
	DefaultMaxLossRatio = 0.10
	DefaultNudgeEpsilon = 0.001
)

type Config struct {
	Capital      float64
	MinLeverage  int
	MaxLeverage  int
	MaxLossRatio float64
	NudgeEpsilon float64
	// OnMisordered 为 skip 时，止损/止盈方向错误的资产直接跳过，不做微调。
	OnMisordered string
}

func ConfigFrom(tc config.TradingConfig) Config {
	return Config{
		Capital:      tc.Capital,
		MinLeverage:  tc.MinLeverage,
		MaxLeverage:  tc.MaxLeverage,
		MaxLossRatio: tc.MaxLossRatio,
		NudgeEpsilon: tc.NudgeEpsilon,
		OnMisordered: tc.OnMisorderedLevels,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxLossRatio <= 0 {
		c.MaxLossRatio = DefaultMaxLossRatio
	}
	if c.NudgeEpsilon <= 0 {
		c.NudgeEpsilon = DefaultNudgeEpsilon
	}
	c.MinLeverage, c.MaxLeverage = config.NormalizeLeverageBounds(c.MinLeverage, c.MaxLeverage)
	if c.OnMisordered != config.MisorderedSkip {
		c.OnMisordered = config.MisorderedNudge
	}
	return c
}

const (
	ReasonMaxLossClamp   = "max_loss_clamp"
	ReasonDirectionNudge = "direction_nudge"
	ReasonPostFillClamp  = "post_fill_clamp"
)

// Adjustment 记录一次止损改写，无论原因都会出现在周期结果里。
type Adjustment struct {
	Asset        string  `json:"asset"`
	OriginalStop float64 `json:"original_stop"`
	AdjustedStop float64 `json:"adjusted_stop"`
	Reason       string  `json:"reason"`
}

func (a Adjustment) String() string {
	return fmt.Sprintf("%s stop %g -> %g (%s)", a.Asset, a.OriginalStop, a.AdjustedStop, a.Reason)
}

// Snapshot 是校验所需的实时状态，键为交易所格式的 symbol。
type Snapshot struct {
	Positions  map[string]exchange.Position
	MarkPrices map[string]float64
}

type ValidationResult struct {
	Decisions   []decision.TradingDecision
	Adjustments []Adjustment
	Warnings    []string
	// Skipped 资产 -> 原因；被跳过的资产不会进入 Decisions。
	Skipped map[string]string
}

type ExecutionLine struct {
	Asset  string `json:"asset"`
	Action string `json:"action"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

func (l ExecutionLine) String() string {
	status := "ok"
	if !l.OK {
		status = "failed"
	}
	if l.Detail == "" {
		return fmt.Sprintf("%s %s %s", l.Asset, l.Action, status)
	}
	return fmt.Sprintf("%s %s %s: %s", l.Asset, l.Action, status, l.Detail)
}

// CloseRecord 描述一次已完成的平仓，交给复盘 sink。
type CloseRecord struct {
	Symbol     string        `json:"symbol"`
	Side       decision.Kind `json:"side"`
	EntryPrice float64       `json:"entry_price"`
	EntryTime  time.Time     `json:"entry_time"`
	ExitPrice  float64       `json:"exit_price"`
	ExitTime   time.Time     `json:"exit_time"`
	Leverage   int           `json:"leverage"`
	PnL        *float64      `json:"pnl,omitempty"`
	StopLoss   *float64      `json:"stop_loss,omitempty"`
	TakeProfit *float64      `json:"take_profit,omitempty"`
	Notes      string        `json:"notes,omitempty"`
}

const (
	NoteActiveClose = "active_close"
	NoteBackfill    = "exchange_auto_close"
)

type CycleResult struct {
	PlanID      string                     `json:"plan_id"`
	Decisions   []decision.TradingDecision `json:"decisions"`
	Adjustments []Adjustment               `json:"adjustments"`
	Warnings    []string                   `json:"warnings"`
	Execution   []ExecutionLine            `json:"execution"`
	Closes      []CloseRecord              `json:"closes,omitempty"`
	Skipped     map[string]string          `json:"skipped,omitempty"`
	// EntryPrices 是本周期新开仓的实际成交均价。
	EntryPrices map[string]float64 `json:"entry_prices,omitempty"`
	Outcomes    map[string]Outcome `json:"outcomes,omitempty"`
}

// Outcome 是单个资产在本周期的执行结论，决定账本里记录的动作。
type Outcome string

const (
	OutcomeOpened      Outcome = "opened"
	OutcomeHeld        Outcome = "held"
	OutcomeClosed      Outcome = "closed"
	OutcomeAlreadyFlat Outcome = "already_flat"
	OutcomeConflict    Outcome = "conflict"
	OutcomeFailed      Outcome = "failed"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeWaiting     Outcome = "waiting"
)

// EffectiveKind 返回应写入账本的动作：只有真正持仓或真正平仓才记录为开/平，
// 其余（跳过、失败、方向冲突）一律按 WAIT 记录，避免账本出现不存在的开仓。
func (r CycleResult) EffectiveKind(asset string, planned decision.Kind) decision.Kind {
	switch r.Outcomes[asset] {
	case OutcomeOpened, OutcomeHeld:
		if planned.IsEntry() {
			return planned
		}
	case OutcomeClosed, OutcomeAlreadyFlat:
		if planned.IsClose() {
			return planned
		}
	}
	return decision.KindWait
}

func (r *CycleResult) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *CycleResult) line(asset, action string, err error, detail string) {
	l := ExecutionLine{Asset: asset, Action: action, OK: err == nil, Detail: detail}
	if err != nil {
		l.Detail = err.Error()
	}
	r.Execution = append(r.Execution, l)
}
