package binance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeloop/internal/gateway/exchange"
	"tradeloop/internal/pkg/errs"
)

// fakeAPI 在内存里模拟一个账户：持仓、条件单、交易规则。
type fakeAPI struct {
	positions   []exchange.Position
	mark        map[string]float64
	rules       map[string]exchange.SymbolRules
	dual        bool
	dualErr     error
	cancelErr   error
	createErr   error
	nextID      int64
	open        []OpenOrder
	created     []OrderRequest
	positionQ   []string
	rulesCalls  int
	modeCalls   int
	cancelAllN  int
	leverageSet map[string]int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		mark: map[string]float64{"BTCUSDT": 50000, "ETHUSDT": 2500},
		rules: map[string]exchange.SymbolRules{
			"BTCUSDT": {Symbol: "BTCUSDT", StepSize: 0.001, MinQty: 0.001, MaxQty: 100, TickSize: 0.1},
			"ETHUSDT": {Symbol: "ETHUSDT", StepSize: 0.01, MinQty: 0.01, MaxQty: 2, TickSize: 0.01},
		},
		leverageSet: map[string]int{},
	}
}

func (f *fakeAPI) PositionRisk(_ context.Context, symbol string) ([]exchange.Position, error) {
	f.positionQ = append(f.positionQ, symbol)
	out := make([]exchange.Position, 0, len(f.positions))
	for _, p := range f.positions {
		if symbol == "" || p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeAPI) MarkPrice(_ context.Context, symbol string) (float64, error) {
	p, ok := f.mark[symbol]
	if !ok {
		return 0, errors.New("dial tcp: timeout")
	}
	return p, nil
}

func (f *fakeAPI) ChangeLeverage(_ context.Context, symbol string, leverage int) (int, error) {
	f.leverageSet[symbol] = leverage
	return leverage, nil
}

func (f *fakeAPI) CreateOrder(_ context.Context, req OrderRequest) (exchange.OrderResult, error) {
	if f.createErr != nil {
		return exchange.OrderResult{}, f.createErr
	}
	f.nextID++
	f.created = append(f.created, req)
	if req.ClosePosition {
		f.open = append(f.open, OpenOrder{OrderID: f.nextID, Type: req.Type, Side: req.Side, StopPrice: parseFloat(req.StopPrice), ClosePosition: true})
		return exchange.OrderResult{OrderID: f.nextID}, nil
	}
	return exchange.OrderResult{OrderID: f.nextID, ExecutedQty: parseFloat(req.Quantity), AvgPrice: f.mark[req.Symbol]}, nil
}

func (f *fakeAPI) OpenOrders(context.Context, string) ([]OpenOrder, error) {
	return append([]OpenOrder(nil), f.open...), nil
}

func (f *fakeAPI) CancelOrder(_ context.Context, _ string, orderID int64) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	for i, o := range f.open {
		if o.OrderID == orderID {
			f.open = append(f.open[:i], f.open[i+1:]...)
			return nil
		}
	}
	return &common.APIError{Code: codeUnknownOrder, Message: "Unknown order sent."}
}

func (f *fakeAPI) CancelAllOpenOrders(context.Context, string) error {
	f.cancelAllN++
	f.open = nil
	return nil
}

func (f *fakeAPI) ExchangeRules(context.Context) (map[string]exchange.SymbolRules, error) {
	f.rulesCalls++
	return f.rules, nil
}

func (f *fakeAPI) DualSidePosition(context.Context) (bool, error) {
	f.modeCalls++
	return f.dual, f.dualErr
}

func TestGetPositionsFiltering(t *testing.T) {
	api := newFakeAPI()
	api.positions = []exchange.Position{
		{Symbol: "BTCUSDT", Amount: 0.5, EntryPrice: 48000},
		{Symbol: "ETHUSDT", Amount: 0},
		{Symbol: "SOLUSDT", Amount: -3, EntryPrice: 150},
	}
	gw := NewWithAPI(api, 0)

	t.Run("single symbol uses exchange filter", func(t *testing.T) {
		got, err := gw.GetPositions(context.Background(), "btc/usdt")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "BTCUSDT", api.positionQ[len(api.positionQ)-1])
	})

	t.Run("many symbols filter client side and drop flat", func(t *testing.T) {
		got, err := gw.GetPositions(context.Background(), "BTCUSDT", "ETHUSDT")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "", api.positionQ[len(api.positionQ)-1])
	})

	t.Run("no filter returns every non-zero position", func(t *testing.T) {
		got, err := gw.GetPositions(context.Background())
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})
}

func TestMarketOrderByNotional(t *testing.T) {
	t.Run("quantity rounds down to lot step", func(t *testing.T) {
		api := newFakeAPI()
		api.mark["BTCUSDT"] = 43210.5
		gw := NewWithAPI(api, 0)

		res, err := gw.MarketOrderByNotional(context.Background(), "BTCUSDT", exchange.SideBuy, 5000)
		require.NoError(t, err)
		require.Len(t, api.created, 1)
		assert.Equal(t, "0.115", api.created[0].Quantity)
		assert.Equal(t, exchange.PositionSideBoth, api.created[0].PositionSide)
		assert.False(t, api.created[0].ReduceOnly)

		qty := decimal.RequireFromString(api.created[0].Quantity)
		assert.True(t, qty.Mul(decimal.NewFromFloat(43210.5)).LessThanOrEqual(decimal.NewFromInt(5000)))
		assert.Equal(t, 0.115, res.ExecutedQty)
	})

	t.Run("below min quantity", func(t *testing.T) {
		gw := NewWithAPI(newFakeAPI(), 0)
		_, err := gw.MarketOrderByNotional(context.Background(), "BTCUSDT", exchange.SideBuy, 20)
		assert.ErrorIs(t, err, errs.ErrInsufficientSize)
	})

	t.Run("above max quantity", func(t *testing.T) {
		gw := NewWithAPI(newFakeAPI(), 0)
		_, err := gw.MarketOrderByNotional(context.Background(), "ETHUSDT", exchange.SideSell, 10000)
		assert.ErrorIs(t, err, errs.ErrLimitExceeded)
	})

	t.Run("transport failure is external", func(t *testing.T) {
		gw := NewWithAPI(newFakeAPI(), 0)
		_, err := gw.MarketOrderByNotional(context.Background(), "DOGEUSDT", exchange.SideBuy, 100)
		assert.ErrorIs(t, err, errs.ErrExternalService)
	})

	t.Run("hedge mode tags the leg", func(t *testing.T) {
		api := newFakeAPI()
		api.dual = true
		gw := NewWithAPI(api, 0)
		_, err := gw.MarketOrderByNotional(context.Background(), "BTCUSDT", exchange.SideSell, 5000)
		require.NoError(t, err)
		assert.Equal(t, exchange.PositionSideShort, api.created[0].PositionSide)
	})
}

func TestClosePosition(t *testing.T) {
	t.Run("flat symbol", func(t *testing.T) {
		gw := NewWithAPI(newFakeAPI(), 0)
		_, err := gw.ClosePosition(context.Background(), "BTCUSDT", "", 0)
		assert.ErrorIs(t, err, errs.ErrNoPosition)
	})

	t.Run("defaults to full size reduce-only", func(t *testing.T) {
		api := newFakeAPI()
		api.positions = []exchange.Position{{Symbol: "BTCUSDT", Amount: -0.25, EntryPrice: 51000}}
		gw := NewWithAPI(api, 0)
		_, err := gw.ClosePosition(context.Background(), "BTCUSDT", "", 0)
		require.NoError(t, err)
		req := api.created[0]
		assert.Equal(t, exchange.SideBuy, req.Side)
		assert.Equal(t, "0.25", req.Quantity)
		assert.True(t, req.ReduceOnly)
	})

	t.Run("partial quantity capped at position size", func(t *testing.T) {
		api := newFakeAPI()
		api.positions = []exchange.Position{{Symbol: "BTCUSDT", Amount: 0.25}}
		gw := NewWithAPI(api, 0)
		_, err := gw.ClosePosition(context.Background(), "BTCUSDT", "", 0.1004)
		require.NoError(t, err)
		assert.Equal(t, "0.1", api.created[0].Quantity)

		_, err = gw.ClosePosition(context.Background(), "BTCUSDT", "", 5)
		require.NoError(t, err)
		assert.Equal(t, "0.25", api.created[1].Quantity)
	})

	t.Run("hedge mode uses position side instead of reduce-only", func(t *testing.T) {
		api := newFakeAPI()
		api.dual = true
		api.positions = []exchange.Position{{Symbol: "BTCUSDT", Amount: 0.25, PositionSide: exchange.PositionSideLong}}
		gw := NewWithAPI(api, 0)
		_, err := gw.ClosePosition(context.Background(), "BTCUSDT", "", 0)
		require.NoError(t, err)
		assert.Equal(t, exchange.PositionSideLong, api.created[0].PositionSide)
		assert.False(t, api.created[0].ReduceOnly)
	})

	t.Run("hedge mode with both legs closes the requested one", func(t *testing.T) {
		api := newFakeAPI()
		api.dual = true
		api.positions = []exchange.Position{
			{Symbol: "BTCUSDT", Amount: 0.25, PositionSide: exchange.PositionSideLong},
			{Symbol: "BTCUSDT", Amount: -0.4, PositionSide: exchange.PositionSideShort},
		}
		gw := NewWithAPI(api, 0)
		_, err := gw.ClosePosition(context.Background(), "BTCUSDT", exchange.PositionSideShort, 0)
		require.NoError(t, err)
		req := api.created[0]
		assert.Equal(t, exchange.PositionSideShort, req.PositionSide)
		assert.Equal(t, exchange.SideBuy, req.Side)
		assert.Equal(t, "0.4", req.Quantity)

		api.positions = api.positions[:1]
		_, err = gw.ClosePosition(context.Background(), "BTCUSDT", exchange.PositionSideShort, 0)
		assert.ErrorIs(t, err, errs.ErrNoPosition)
	})
}

func TestConfigureExitOrders(t *testing.T) {
	t.Run("both prices unset", func(t *testing.T) {
		gw := NewWithAPI(newFakeAPI(), 0)
		_, err := gw.ConfigureExitOrders(context.Background(), "BTCUSDT", exchange.PositionSideLong, 0, -1, true)
		assert.ErrorIs(t, err, errs.ErrInvalidPrice)
	})

	t.Run("nothing to protect", func(t *testing.T) {
		gw := NewWithAPI(newFakeAPI(), 0)
		_, err := gw.ConfigureExitOrders(context.Background(), "BTCUSDT", exchange.PositionSideLong, 49000, 0, true)
		assert.ErrorIs(t, err, errs.ErrNoPosition)
	})

	t.Run("calling twice leaves exactly one stop and one target", func(t *testing.T) {
		api := newFakeAPI()
		api.positions = []exchange.Position{{Symbol: "BTCUSDT", Amount: 0.1, EntryPrice: 50000}}
		gw := NewWithAPI(api, 0)

		for i := 0; i < 2; i++ {
			out, err := gw.ConfigureExitOrders(context.Background(), "BTCUSDT", exchange.PositionSideLong, 49500.04, 52000, true)
			require.NoError(t, err)
			require.NotNil(t, out.StopLoss)
			require.NotNil(t, out.TakeProfit)
		}
		live, err := gw.ListConditionalOrders(context.Background(), "BTCUSDT")
		require.NoError(t, err)
		require.Len(t, live, 2)
		types := []string{live[0].Type, live[1].Type}
		assert.ElementsMatch(t, []string{exchange.OrderTypeStopMarket, exchange.OrderTypeTakeProfitMarket}, types)
		for _, o := range live {
			assert.Equal(t, exchange.SideSell, o.Side)
		}
		last := api.created[len(api.created)-2]
		assert.Equal(t, "49500", last.StopPrice)
		assert.True(t, last.ClosePosition)
		assert.True(t, last.MarkPriceTrig)
	})

	t.Run("short in hedge mode closes with BUY on SHORT leg", func(t *testing.T) {
		api := newFakeAPI()
		api.dual = true
		api.positions = []exchange.Position{{Symbol: "ETHUSDT", Amount: -1, PositionSide: exchange.PositionSideShort}}
		gw := NewWithAPI(api, 0)
		out, err := gw.ConfigureExitOrders(context.Background(), "ETHUSDT", exchange.PositionSideShort, 2600, 0, true)
		require.NoError(t, err)
		assert.Nil(t, out.TakeProfit)
		req := api.created[0]
		assert.Equal(t, exchange.SideBuy, req.Side)
		assert.Equal(t, exchange.PositionSideShort, req.PositionSide)
	})

	t.Run("hedge mode with both legs protects the requested one", func(t *testing.T) {
		api := newFakeAPI()
		api.dual = true
		api.positions = []exchange.Position{
			{Symbol: "ETHUSDT", Amount: 2, PositionSide: exchange.PositionSideLong},
			{Symbol: "ETHUSDT", Amount: -1, PositionSide: exchange.PositionSideShort},
		}
		gw := NewWithAPI(api, 0)
		_, err := gw.ConfigureExitOrders(context.Background(), "ETHUSDT", exchange.PositionSideLong, 2400, 0, true)
		require.NoError(t, err)
		req := api.created[0]
		assert.Equal(t, exchange.SideSell, req.Side)
		assert.Equal(t, exchange.PositionSideLong, req.PositionSide)
	})

	t.Run("cancel failure falls back to cancel-all", func(t *testing.T) {
		api := newFakeAPI()
		api.positions = []exchange.Position{{Symbol: "BTCUSDT", Amount: 0.1}}
		api.open = []OpenOrder{{OrderID: 99, Type: exchange.OrderTypeStopMarket}}
		api.cancelErr = errors.New("503 service unavailable")
		gw := NewWithAPI(api, 0)
		_, err := gw.ConfigureExitOrders(context.Background(), "BTCUSDT", exchange.PositionSideLong, 49000, 0, true)
		require.NoError(t, err)
		assert.Equal(t, 1, api.cancelAllN)
	})

	t.Run("placement failure is reported but other leg still placed", func(t *testing.T) {
		api := newFakeAPI()
		api.positions = []exchange.Position{{Symbol: "BTCUSDT", Amount: 0.1}}
		gw := NewWithAPI(api, 0)
		api.createErr = &common.APIError{Code: codeWouldTrigger, Message: "Order would immediately trigger."}
		_, err := gw.ConfigureExitOrders(context.Background(), "BTCUSDT", exchange.PositionSideLong, 49000, 51000, false)
		assert.ErrorIs(t, err, errs.ErrInvalidPrice)
	})
}

func TestPositionModeFallbackAndCache(t *testing.T) {
	api := newFakeAPI()
	api.dualErr = errors.New("timeout")
	gw := NewWithAPI(api, 0)

	assert.Equal(t, exchange.PositionModeOneWay, gw.positionMode(context.Background()))
	api.dualErr = nil
	api.dual = true
	assert.Equal(t, exchange.PositionModeHedge, gw.positionMode(context.Background()))
	assert.Equal(t, exchange.PositionModeHedge, gw.positionMode(context.Background()))
	assert.Equal(t, 2, api.modeCalls)
}

func TestRulesCacheTTL(t *testing.T) {
	api := newFakeAPI()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	gw := NewWithAPI(api, time.Hour)
	gw.nowFn = func() time.Time { return now }

	_, err := gw.symbolRules(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	_, err = gw.symbolRules(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, api.rulesCalls)

	now = now.Add(2 * time.Hour)
	_, err = gw.symbolRules(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2, api.rulesCalls)

	_, err = gw.symbolRules(context.Background(), "XYZUSDT")
	assert.ErrorIs(t, err, errs.ErrExternalService)
}
