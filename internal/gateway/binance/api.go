package binance

import (
	"context"

	"tradeloop/internal/gateway/exchange"
)

// FuturesAPI 是 Gateway 依赖的最小 REST 面，SDK 适配在 sdk.go，测试用 fake 替换。
type FuturesAPI interface {
	// PositionRisk 返回原始持仓（包含 0 仓位）；symbol 为空时返回全部。
	PositionRisk(ctx context.Context, symbol string) ([]exchange.Position, error)
	MarkPrice(ctx context.Context, symbol string) (float64, error)
	ChangeLeverage(ctx context.Context, symbol string, leverage int) (int, error)
	CreateOrder(ctx context.Context, req OrderRequest) (exchange.OrderResult, error)
	OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	CancelAllOpenOrders(ctx context.Context, symbol string) error
	ExchangeRules(ctx context.Context) (map[string]exchange.SymbolRules, error)
	DualSidePosition(ctx context.Context) (bool, error)
}

// OrderRequest 的数量与价格已按交易规则格式化为字符串。
type OrderRequest struct {
	Symbol        string
	Side          exchange.Side
	Type          string
	Quantity      string
	StopPrice     string
	ReduceOnly    bool
	ClosePosition bool
	PositionSide  exchange.PositionSide
	MarkPriceTrig bool
}

type OpenOrder struct {
	OrderID       int64
	Type          string
	Side          exchange.Side
	StopPrice     float64
	ClosePosition bool
	ReduceOnly    bool
}

func (o OpenOrder) conditional() bool {
	switch o.Type {
	case exchange.OrderTypeStopMarket, exchange.OrderTypeTakeProfitMarket,
		"STOP", "TAKE_PROFIT", "TRAILING_STOP_MARKET":
		return true
	default:
		return false
	}
}
