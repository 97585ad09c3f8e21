// Package exchange defines the futures gateway contract consumed by risk control,
// the trigger scheduler and reconciliation. Implementations convert SDK errors into
// errs.Kind values so callers never see a library-specific error type.
package exchange

import (
	"fmt"
	"strings"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that reduces a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PositionSide is the leg tag required by hedge-mode accounts. One-way accounts use BOTH.
type PositionSide string

const (
	PositionSideBoth  PositionSide = "BOTH"
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

type PositionMode string

const (
	PositionModeOneWay PositionMode = "oneway"
	PositionModeHedge  PositionMode = "hedge"
)

// Position is a read-only exchange snapshot. Amount is signed: >0 long, <0 short, 0 flat.
type Position struct {
	Symbol       string
	Amount       float64
	EntryPrice   float64
	MarkPrice    float64
	Leverage     int
	PositionSide PositionSide
}

func (p Position) IsFlat() bool { return p.Amount == 0 }
func (p Position) IsLong() bool { return p.Amount > 0 }
func (p Position) IsShort() bool { return p.Amount < 0 }

// CloseSide is the order side that reduces this position.
func (p Position) CloseSide() Side {
	if p.Amount > 0 {
		return SideSell
	}
	return SideBuy
}

func (p Position) Direction() string {
	switch {
	case p.Amount > 0:
		return "LONG"
	case p.Amount < 0:
		return "SHORT"
	default:
		return "FLAT"
	}
}

type OrderResult struct {
	OrderID     int64
	Symbol      string
	Side        Side
	Type        string
	ExecutedQty float64
	AvgPrice    float64
	StopPrice   float64
}

// String 只拼接非空字段，供执行日志使用。
func (o OrderResult) String() string {
	var parts []string
	for _, f := range []string{o.Symbol, strings.ToLower(o.Type), string(o.Side)} {
		if f != "" {
			parts = append(parts, f)
		}
	}
	if o.StopPrice > 0 {
		parts = append(parts, fmt.Sprintf("trigger=%g", o.StopPrice))
	} else {
		parts = append(parts, fmt.Sprintf("qty=%g", o.ExecutedQty), fmt.Sprintf("avg=%g", o.AvgPrice))
	}
	parts = append(parts, fmt.Sprintf("id=%d", o.OrderID))
	return strings.Join(parts, " ")
}

// ExitOrders holds whichever protective orders were placed.
type ExitOrders struct {
	StopLoss   *OrderResult
	TakeProfit *OrderResult
}

// ConditionalOrder is a live stop/take-profit order as reported by the exchange.
type ConditionalOrder struct {
	OrderID   int64
	Type      string
	Side      Side
	StopPrice float64
}

const (
	OrderTypeMarket           = "MARKET"
	OrderTypeStopMarket       = "STOP_MARKET"
	OrderTypeTakeProfitMarket = "TAKE_PROFIT_MARKET"
)

// SymbolRules are the lot/price filters needed for order precision.
type SymbolRules struct {
	Symbol   string
	StepSize float64
	MinQty   float64
	MaxQty   float64
	TickSize float64
}
