package exchange

import "context"

// Gateway is the single-account futures surface used by the control loop.
// All methods block until the exchange answers or the request timeout fires.
type Gateway interface {
	// GetPositions returns non-zero positions. With exactly one symbol the
	// exchange-side filter is used; otherwise filtering happens client-side.
	GetPositions(ctx context.Context, symbols ...string) ([]Position, error)

	GetMarkPrice(ctx context.Context, symbol string) (float64, error)

	SetLeverage(ctx context.Context, symbol string, leverage int) (int, error)

	MarketOrderByNotional(ctx context.Context, symbol string, side Side, notional float64) (OrderResult, error)

	// ClosePosition closes qty (or the full position when qty <= 0) with a reduce-only market order.
	// leg selects the LONG or SHORT leg when a hedge-mode account holds both; BOTH or "" takes the only open leg.
	ClosePosition(ctx context.Context, symbol string, leg PositionSide, qty float64) (OrderResult, error)

	// ConfigureExitOrders places stop/take-profit close-position orders on the given leg. Prices <= 0 are treated as unset.
	ConfigureExitOrders(ctx context.Context, symbol string, leg PositionSide, stopLoss, takeProfit float64, replaceExisting bool) (ExitOrders, error)

	ListConditionalOrders(ctx context.Context, symbol string) ([]ConditionalOrder, error)

	CancelAllOrders(ctx context.Context, symbol string) error

	CancelAllConditionalOrders(ctx context.Context, symbol string) error
}

// MarkPricer is the read-only slice used by the trigger scheduler.
type MarkPricer interface {
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)
}

// PositionReader is the read-only slice used by reconciliation.
type PositionReader interface {
	GetPositions(ctx context.Context, symbols ...string) ([]Position, error)
}
