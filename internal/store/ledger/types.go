package ledger

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"tradeloop/internal/decision"
	"tradeloop/internal/store/model"
)

// Round 是 trader_rounds 的领域视图。
type Round struct {
	ID          int64         `json:"id"`
	CreatedAt   time.Time     `json:"created_at"`
	RoundID     int64         `json:"round_id"`
	Assets      []string      `json:"assets"`
	Situation   string        `json:"situation"`
	Summary     string        `json:"summary"`
	Decision    decision.Kind `json:"decision"`
	Asset       string        `json:"asset"`
	IsOpenEntry bool          `json:"is_open_entry"`
	EntryPrice  *float64      `json:"entry_price,omitempty"`
	StopLoss    *float64      `json:"stop_loss,omitempty"`
	TakeProfit  *float64      `json:"take_profit,omitempty"`
	Leverage    *int          `json:"leverage,omitempty"`
}

type MonitoringTarget struct {
	Symbol           string                     `json:"symbol"`
	Decision         decision.Kind              `json:"decision"`
	StopLoss         *float64                   `json:"stop_loss,omitempty"`
	TakeProfit       *float64                   `json:"take_profit,omitempty"`
	MonitoringPrices []decision.MonitoringPrice `json:"monitoring_prices,omitempty"`
	UpdatedAt        time.Time                  `json:"updated_at"`
}

type AlertState struct {
	Symbol        string    `json:"symbol"`
	LastTriggerAt time.Time `json:"last_trigger_at"`
	LastReason    string    `json:"last_reason"`
	LastPrice     float64   `json:"last_price"`
}

func roundToModel(r Round) (model.TraderRoundModel, error) {
	assets, err := json.Marshal(nonNil(r.Assets))
	if err != nil {
		return model.TraderRoundModel{}, err
	}
	return model.TraderRoundModel{
		CreatedAt:   r.CreatedAt,
		RoundID:     r.RoundID,
		Assets:      datatypes.JSON(assets),
		Situation:   r.Situation,
		Summary:     r.Summary,
		Decision:    string(r.Decision),
		Asset:       r.Asset,
		IsOpenEntry: r.IsOpenEntry,
		EntryPrice:  r.EntryPrice,
		StopLoss:    r.StopLoss,
		TakeProfit:  r.TakeProfit,
		Leverage:    r.Leverage,
	}, nil
}

func roundFromModel(m model.TraderRoundModel) Round {
	var assets []string
	if len(m.Assets) > 0 {
		_ = json.Unmarshal(m.Assets, &assets)
	}
	return Round{
		ID:          m.ID,
		CreatedAt:   m.CreatedAt.UTC(),
		RoundID:     m.RoundID,
		Assets:      nonNil(assets),
		Situation:   m.Situation,
		Summary:     m.Summary,
		Decision:    decision.Kind(m.Decision),
		Asset:       m.Asset,
		IsOpenEntry: m.IsOpenEntry,
		EntryPrice:  m.EntryPrice,
		StopLoss:    m.StopLoss,
		TakeProfit:  m.TakeProfit,
		Leverage:    m.Leverage,
	}
}

func targetFromModel(m model.MonitoringTargetModel) MonitoringTarget {
	return MonitoringTarget{
		Symbol:           m.Symbol,
		Decision:         decision.Kind(m.Decision),
		StopLoss:         m.StopLoss,
		TakeProfit:       m.TakeProfit,
		MonitoringPrices: decision.ParseMonitoringPrices(string(m.MonitoringPrices)),
		UpdatedAt:        m.UpdatedAt.UTC(),
	}
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
