package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2/futures"

	"tradeloop/internal/gateway/exchange"
)

// sdkAPI 基于 go-binance futures.Client 实现 FuturesAPI。
type sdkAPI struct {
	client     *futures.Client
	recvWindow int64
}

func newSDKAPI(cfg Config) (*sdkAPI, error) {
	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	client.BaseURL = cfg.RESTBaseURL
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &sdkAPI{client: client, recvWindow: cfg.RecvWindow}, nil
}

func (a *sdkAPI) opts() []futures.RequestOption {
	return []futures.RequestOption{futures.WithRecvWindow(a.recvWindow)}
}

func (a *sdkAPI) PositionRisk(ctx context.Context, symbol string) ([]exchange.Position, error) {
	svc := a.client.NewGetPositionRiskService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	res, err := svc.Do(ctx, a.opts()...)
	if err != nil {
		return nil, err
	}
	out := make([]exchange.Position, 0, len(res))
	for _, p := range res {
		if p == nil {
			continue
		}
		lev, _ := strconv.Atoi(strings.TrimSpace(p.Leverage))
		out = append(out, exchange.Position{
			Symbol:       p.Symbol,
			Amount:       parseFloat(p.PositionAmt),
			EntryPrice:   parseFloat(p.EntryPrice),
			MarkPrice:    parseFloat(p.MarkPrice),
			Leverage:     lev,
			PositionSide: exchange.PositionSide(strings.ToUpper(p.PositionSide)),
		})
	}
	return out, nil
}

func (a *sdkAPI) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	res, err := a.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, entry := range res {
		if entry != nil && strings.EqualFold(entry.Symbol, symbol) {
			return parseFloat(entry.MarkPrice), nil
		}
	}
	if len(res) > 0 && res[0] != nil {
		return parseFloat(res[0].MarkPrice), nil
	}
	return 0, fmt.Errorf("mark price not available for %s", symbol)
}

func (a *sdkAPI) ChangeLeverage(ctx context.Context, symbol string, leverage int) (int, error) {
	res, err := a.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx, a.opts()...)
	if err != nil {
		return 0, err
	}
	return res.Leverage, nil
}

func (a *sdkAPI) CreateOrder(ctx context.Context, req OrderRequest) (exchange.OrderResult, error) {
	svc := a.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderType(req.Type)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if req.PositionSide != "" {
		svc = svc.PositionSide(futures.PositionSideType(req.PositionSide))
	}
	if req.Quantity != "" {
		svc = svc.Quantity(req.Quantity)
	}
	if req.StopPrice != "" {
		svc = svc.StopPrice(req.StopPrice)
	}
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	if req.ClosePosition {
		svc = svc.ClosePosition(true)
	}
	if req.MarkPriceTrig {
		svc = svc.WorkingType(futures.WorkingTypeMarkPrice)
	}
	res, err := svc.Do(ctx, a.opts()...)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	return exchange.OrderResult{
		OrderID:     res.OrderID,
		Symbol:      res.Symbol,
		Side:        exchange.Side(res.Side),
		Type:        string(res.Type),
		ExecutedQty: parseFloat(res.ExecutedQuantity),
		AvgPrice:    parseFloat(res.AvgPrice),
		StopPrice:   parseFloat(res.StopPrice),
	}, nil
}

func (a *sdkAPI) OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	res, err := a.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx, a.opts()...)
	if err != nil {
		return nil, err
	}
	out := make([]OpenOrder, 0, len(res))
	for _, o := range res {
		if o == nil {
			continue
		}
		out = append(out, OpenOrder{
			OrderID:       o.OrderID,
			Type:          string(o.Type),
			Side:          exchange.Side(o.Side),
			StopPrice:     parseFloat(o.StopPrice),
			ClosePosition: o.ClosePosition,
			ReduceOnly:    o.ReduceOnly,
		})
	}
	return out, nil
}

func (a *sdkAPI) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	_, err := a.client.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx, a.opts()...)
	return err
}

func (a *sdkAPI) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	return a.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx, a.opts()...)
}

func (a *sdkAPI) ExchangeRules(ctx context.Context) (map[string]exchange.SymbolRules, error) {
	info, err := a.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]exchange.SymbolRules, len(info.Symbols))
	for _, s := range info.Symbols {
		rules := exchange.SymbolRules{Symbol: s.Symbol}
		if lot := s.LotSizeFilter(); lot != nil {
			rules.StepSize = parseFloat(lot.StepSize)
			rules.MinQty = parseFloat(lot.MinQuantity)
			rules.MaxQty = parseFloat(lot.MaxQuantity)
		}
		if pf := s.PriceFilter(); pf != nil {
			rules.TickSize = parseFloat(pf.TickSize)
		}
		out[s.Symbol] = rules
	}
	return out, nil
}

func (a *sdkAPI) DualSidePosition(ctx context.Context) (bool, error) {
	res, err := a.client.NewGetPositionModeService().Do(ctx, a.opts()...)
	if err != nil {
		return false, err
	}
	return res.DualSidePosition, nil
}

func parseFloat(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return f
}
