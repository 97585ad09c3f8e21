package model

import (
	"time"

	"gorm.io/datatypes"
)

// TraderRoundModel 每个周期每个资产一行，只追加不更新。
type TraderRoundModel struct {
	ID          int64          `gorm:"column:id;primaryKey;autoIncrement"`
	CreatedAt   time.Time      `gorm:"column:created_at;index:idx_rounds_created;index:idx_rounds_asset_created,priority:2"`
	RoundID     int64          `gorm:"column:round_id;index"`
	Assets      datatypes.JSON `gorm:"column:assets"`
	Situation   string         `gorm:"column:situation;type:text"`
	Summary     string         `gorm:"column:summary;type:text"`
	Decision    string         `gorm:"column:decision;size:16;index"`
	Asset       string         `gorm:"column:asset;size:32;index:idx_rounds_asset_created,priority:1"`
	IsOpenEntry bool           `gorm:"column:is_open_entry"`
	EntryPrice  *float64       `gorm:"column:entry_price"`
	StopLoss    *float64       `gorm:"column:stop_loss"`
	TakeProfit  *float64       `gorm:"column:take_profit"`
	Leverage    *int           `gorm:"column:leverage"`
}

func (TraderRoundModel) TableName() string { return "trader_rounds" }

// MonitoringTargetModel 按 symbol upsert，始终是最近一轮的风控参数。
type MonitoringTargetModel struct {
	Symbol           string         `gorm:"column:symbol;primaryKey;size:32"`
	Decision         string         `gorm:"column:decision;size:16"`
	StopLoss         *float64       `gorm:"column:stop_loss"`
	TakeProfit       *float64       `gorm:"column:take_profit"`
	MonitoringPrices datatypes.JSON `gorm:"column:monitoring_prices"`
	UpdatedAt        time.Time      `gorm:"column:updated_at"`
}

func (MonitoringTargetModel) TableName() string { return "monitoring_targets" }

type AlertStateModel struct {
	Symbol        string    `gorm:"column:symbol;primaryKey;size:32"`
	LastTriggerAt time.Time `gorm:"column:last_trigger_at"`
	LastReason    string    `gorm:"column:last_reason"`
	LastPrice     float64   `gorm:"column:last_price"`
}

func (AlertStateModel) TableName() string { return "price_alert_state" }
