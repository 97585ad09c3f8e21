package binance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradeloop/internal/gateway/exchange"
	"tradeloop/internal/logger"
	"tradeloop/internal/pkg/errs"
	"tradeloop/internal/pkg/symbol"
	"tradeloop/internal/pkg/trading"
)

// Gateway 实现 exchange.Gateway：下单精度、持仓模式、止盈止损单都在这里处理。
type Gateway struct {
	api      FuturesAPI
	rulesTTL time.Duration
	nowFn    func() time.Time

	rulesMu sync.Mutex
	rules   map[string]exchange.SymbolRules
	rulesAt time.Time

	modeMu sync.Mutex
	mode   exchange.PositionMode
}

var _ exchange.Gateway = (*Gateway)(nil)

func New(cfg Config) (*Gateway, error) {
	final := cfg.withDefaults()
	api, err := newSDKAPI(final)
	if err != nil {
		return nil, err
	}
	return NewWithAPI(api, final.RulesTTL), nil
}

func NewWithAPI(api FuturesAPI, rulesTTL time.Duration) *Gateway {
	return &Gateway{api: api, rulesTTL: rulesTTL, nowFn: time.Now}
}

func (g *Gateway) GetPositions(ctx context.Context, symbols ...string) ([]exchange.Position, error) {
	wanted := symbol.NormalizeList(symbols)
	query := ""
	if len(wanted) == 1 {
		query = wanted[0]
	}
	raw, err := g.api.PositionRisk(ctx, query)
	if err != nil {
		return nil, classify("get_positions", query, err)
	}
	filter := make(map[string]struct{}, len(wanted))
	for _, s := range wanted {
		filter[s] = struct{}{}
	}
	out := make([]exchange.Position, 0, len(raw))
	for _, p := range raw {
		if p.Amount == 0 {
			continue
		}
		if len(filter) > 0 {
			if _, ok := filter[p.Symbol]; !ok {
				continue
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func (g *Gateway) GetMarkPrice(ctx context.Context, sym string) (float64, error) {
	sym = symbol.Normalize(sym)
	price, err := g.api.MarkPrice(ctx, sym)
	if err != nil {
		return 0, classify("mark_price", sym, err)
	}
	if price <= 0 || math.IsNaN(price) {
		return 0, errs.New(errs.KindExternalService, "mark_price", sym, "non-positive mark price")
	}
	return price, nil
}

func (g *Gateway) SetLeverage(ctx context.Context, sym string, leverage int) (int, error) {
	sym = symbol.Normalize(sym)
	if leverage <= 0 {
		return 0, fmt.Errorf("set_leverage %s: leverage must be > 0, got %d", sym, leverage)
	}
	got, err := g.api.ChangeLeverage(ctx, sym, leverage)
	if err != nil {
		return 0, classify("set_leverage", sym, err)
	}
	return got, nil
}

func (g *Gateway) MarketOrderByNotional(ctx context.Context, sym string, side exchange.Side, notional float64) (exchange.OrderResult, error) {
	const op = "market_order"
	sym = symbol.Normalize(sym)
	if notional <= 0 {
		return exchange.OrderResult{}, errs.New(errs.KindInsufficientSize, op, sym, fmt.Sprintf("notional %g must be > 0", notional))
	}
	mark, err := g.GetMarkPrice(ctx, sym)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	rules, err := g.symbolRules(ctx, sym)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	qty := trading.QtyFromNotional(trading.Dec(notional), trading.Dec(mark), trading.Dec(rules.StepSize))
	if qty.Sign() <= 0 {
		return exchange.OrderResult{}, errs.New(errs.KindInsufficientSize, op, sym,
			fmt.Sprintf("notional %g at mark %g truncates to zero (step %g)", notional, mark, rules.StepSize))
	}
	if rules.MinQty > 0 && qty.LessThan(trading.Dec(rules.MinQty)) {
		return exchange.OrderResult{}, errs.New(errs.KindInsufficientSize, op, sym,
			fmt.Sprintf("qty %s below min %g", qty, rules.MinQty))
	}
	if rules.MaxQty > 0 && qty.GreaterThan(trading.Dec(rules.MaxQty)) {
		return exchange.OrderResult{}, errs.New(errs.KindLimitExceeded, op, sym,
			fmt.Sprintf("qty %s above max %g", qty, rules.MaxQty))
	}
	req := OrderRequest{
		Symbol:       sym,
		Side:         side,
		Type:         exchange.OrderTypeMarket,
		Quantity:     qty.String(),
		PositionSide: exchange.PositionSideBoth,
	}
	if g.positionMode(ctx) == exchange.PositionModeHedge {
		req.PositionSide = exchange.PositionSideLong
		if side == exchange.SideSell {
			req.PositionSide = exchange.PositionSideShort
		}
	}
	res, err := g.api.CreateOrder(ctx, req)
	if err != nil {
		return exchange.OrderResult{}, classify(op, sym, err)
	}
	logger.Infof("binance: market %s %s qty=%s notional=%g mark=%g -> id=%d avg=%g",
		sym, side, qty, notional, mark, res.OrderID, res.AvgPrice)
	return fillDefaults(res, req), nil
}

func (g *Gateway) ClosePosition(ctx context.Context, sym string, leg exchange.PositionSide, qty float64) (exchange.OrderResult, error) {
	const op = "close_position"
	sym = symbol.Normalize(sym)
	positions, err := g.GetPositions(ctx, sym)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	pos, ok := pickLeg(op, sym, positions, leg)
	if !ok {
		return exchange.OrderResult{}, errs.New(errs.KindNoPosition, op, sym, "no open position")
	}
	size := decimal.NewFromFloat(math.Abs(pos.Amount))
	if qty > 0 {
		want := trading.Dec(qty)
		if rules, err := g.symbolRules(ctx, sym); err == nil {
			want = trading.FloorToStep(want, trading.Dec(rules.StepSize))
		}
		if want.Sign() > 0 && want.LessThan(size) {
			size = want
		}
	}
	req := OrderRequest{
		Symbol:   sym,
		Side:     pos.CloseSide(),
		Type:     exchange.OrderTypeMarket,
		Quantity: size.String(),
	}
	// 双向持仓模式下不能带 reduceOnly，依靠 positionSide 指定平哪条腿
	if g.positionMode(ctx) == exchange.PositionModeHedge {
		req.PositionSide = legOf(pos)
	} else {
		req.PositionSide = exchange.PositionSideBoth
		req.ReduceOnly = true
	}
	res, err := g.api.CreateOrder(ctx, req)
	if err != nil {
		return exchange.OrderResult{}, classify(op, sym, err)
	}
	logger.Infof("binance: close %s %s qty=%s -> id=%d avg=%g", sym, req.Side, size, res.OrderID, res.AvgPrice)
	return fillDefaults(res, req), nil
}

func (g *Gateway) ConfigureExitOrders(ctx context.Context, sym string, want exchange.PositionSide, stopLoss, takeProfit float64, replaceExisting bool) (exchange.ExitOrders, error) {
	const op = "configure_exit_orders"
	sym = symbol.Normalize(sym)
	var out exchange.ExitOrders
	hasStop := stopLoss > 0 && !math.IsNaN(stopLoss)
	hasTarget := takeProfit > 0 && !math.IsNaN(takeProfit)
	if !hasStop && !hasTarget {
		return out, errs.New(errs.KindInvalidPrice, op, sym, "stop_loss and take_profit both unset")
	}
	positions, err := g.GetPositions(ctx, sym)
	if err != nil {
		return out, err
	}
	pos, ok := pickLeg(op, sym, positions, want)
	if !ok {
		return out, errs.New(errs.KindNoPosition, op, sym, "nothing to protect")
	}
	if replaceExisting {
		if err := g.CancelAllConditionalOrders(ctx, sym); err != nil {
			return out, err
		}
	}
	rules, err := g.symbolRules(ctx, sym)
	if err != nil {
		return out, err
	}
	leg := exchange.PositionSideBoth
	if g.positionMode(ctx) == exchange.PositionModeHedge {
		leg = legOf(pos)
	}
	place := func(orderType string, price float64) (*exchange.OrderResult, error) {
		req := OrderRequest{
			Symbol:        sym,
			Side:          pos.CloseSide(),
			Type:          orderType,
			StopPrice:     roundToTick(price, rules.TickSize),
			ClosePosition: true,
			PositionSide:  leg,
			MarkPriceTrig: true,
		}
		res, err := g.api.CreateOrder(ctx, req)
		if err != nil {
			return nil, classify(op, sym, err)
		}
		res = fillDefaults(res, req)
		return &res, nil
	}
	var errList []error
	if hasStop {
		res, err := place(exchange.OrderTypeStopMarket, stopLoss)
		if err != nil {
			errList = append(errList, fmt.Errorf("stop loss: %w", err))
		}
		out.StopLoss = res
	}
	if hasTarget {
		res, err := place(exchange.OrderTypeTakeProfitMarket, takeProfit)
		if err != nil {
			errList = append(errList, fmt.Errorf("take profit: %w", err))
		}
		out.TakeProfit = res
	}
	logger.Infof("binance: exits %s side=%s leg=%s sl=%g tp=%g errors=%d", sym, pos.CloseSide(), leg, stopLoss, takeProfit, len(errList))
	return out, errors.Join(errList...)
}

func (g *Gateway) ListConditionalOrders(ctx context.Context, sym string) ([]exchange.ConditionalOrder, error) {
	sym = symbol.Normalize(sym)
	orders, err := g.api.OpenOrders(ctx, sym)
	if err != nil {
		return nil, classify("list_open_orders", sym, err)
	}
	out := make([]exchange.ConditionalOrder, 0, len(orders))
	for _, o := range orders {
		if !o.conditional() {
			continue
		}
		out = append(out, exchange.ConditionalOrder{OrderID: o.OrderID, Type: o.Type, Side: o.Side, StopPrice: o.StopPrice})
	}
	return out, nil
}

func (g *Gateway) CancelAllOrders(ctx context.Context, sym string) error {
	sym = symbol.Normalize(sym)
	if err := g.api.CancelAllOpenOrders(ctx, sym); err != nil {
		return classify("cancel_all_orders", sym, err)
	}
	return nil
}

// CancelAllConditionalOrders 逐个撤销条件单；任何一单失败时退回到 cancel-all。
func (g *Gateway) CancelAllConditionalOrders(ctx context.Context, sym string) error {
	sym = symbol.Normalize(sym)
	orders, err := g.ListConditionalOrders(ctx, sym)
	if err != nil {
		return err
	}
	for _, o := range orders {
		err := g.api.CancelOrder(ctx, sym, o.OrderID)
		if err == nil || isUnknownOrder(err) {
			continue
		}
		logger.Warnf("binance: cancel conditional %s id=%d failed, fallback to cancel-all: %v", sym, o.OrderID, err)
		return g.CancelAllOrders(ctx, sym)
	}
	return nil
}

// symbolRules 读取并缓存交易规则；rulesTTL 为 0 时不过期。
func (g *Gateway) symbolRules(ctx context.Context, sym string) (exchange.SymbolRules, error) {
	g.rulesMu.Lock()
	defer g.rulesMu.Unlock()
	expired := g.rulesTTL > 0 && g.nowFn().Sub(g.rulesAt) > g.rulesTTL
	if g.rules == nil || expired {
		all, err := g.api.ExchangeRules(ctx)
		if err != nil {
			return exchange.SymbolRules{}, classify("exchange_info", sym, err)
		}
		g.rules = all
		g.rulesAt = g.nowFn()
	}
	rules, ok := g.rules[sym]
	if !ok {
		return exchange.SymbolRules{}, errs.New(errs.KindExternalService, "exchange_info", sym, "symbol not listed")
	}
	return rules, nil
}

// positionMode 查询一次并缓存；查询失败按单向持仓处理且不缓存，下次再试。
func (g *Gateway) positionMode(ctx context.Context) exchange.PositionMode {
	g.modeMu.Lock()
	defer g.modeMu.Unlock()
	if g.mode != "" {
		return g.mode
	}
	dual, err := g.api.DualSidePosition(ctx)
	if err != nil {
		logger.Warnf("binance: position mode query failed, assume one-way: %v", err)
		return exchange.PositionModeOneWay
	}
	g.mode = exchange.PositionModeOneWay
	if dual {
		g.mode = exchange.PositionModeHedge
	}
	logger.Infof("binance: account position mode=%s", g.mode)
	return g.mode
}

// pickLeg 选出要操作的持仓腿：指定 LONG/SHORT 时只接受同向的腿；
// 未指定且有多条腿时取第一条并告警。
func pickLeg(op, sym string, positions []exchange.Position, want exchange.PositionSide) (exchange.Position, bool) {
	var open []exchange.Position
	for _, p := range positions {
		if !p.IsFlat() {
			open = append(open, p)
		}
	}
	switch want {
	case exchange.PositionSideLong, exchange.PositionSideShort:
		for _, p := range open {
			if legOf(p) == want {
				return p, true
			}
		}
		return exchange.Position{}, false
	}
	if len(open) == 0 {
		return exchange.Position{}, false
	}
	if len(open) > 1 {
		logger.Warnf("binance: %s %s has %d open legs, using %s", op, sym, len(open), legOf(open[0]))
	}
	return open[0], true
}

func legOf(pos exchange.Position) exchange.PositionSide {
	switch strings.ToUpper(string(pos.PositionSide)) {
	case string(exchange.PositionSideLong):
		return exchange.PositionSideLong
	case string(exchange.PositionSideShort):
		return exchange.PositionSideShort
	}
	if pos.Amount < 0 {
		return exchange.PositionSideShort
	}
	return exchange.PositionSideLong
}

func roundToTick(price, tick float64) string {
	p := trading.Dec(price)
	if tick <= 0 {
		return p.String()
	}
	t := trading.Dec(tick)
	return p.Div(t).Round(0).Mul(t).String()
}

func fillDefaults(res exchange.OrderResult, req OrderRequest) exchange.OrderResult {
	if res.Symbol == "" {
		res.Symbol = req.Symbol
	}
	if res.Side == "" {
		res.Side = req.Side
	}
	if res.Type == "" {
		res.Type = req.Type
	}
	if res.StopPrice == 0 && req.StopPrice != "" {
		res.StopPrice = parseFloat(req.StopPrice)
	}
	return res
}
