package decision

import (
	"strings"
)

// Kind 是单个资产的决策动作。
type Kind string

const (
	KindLong       Kind = "LONG"
	KindShort      Kind = "SHORT"
	KindWait       Kind = "WAIT"
	KindCloseLong  Kind = "CLOSE_LONG"
	KindCloseShort Kind = "CLOSE_SHORT"
)

func ParseKind(raw string) (Kind, bool) {
	k := Kind(strings.ToUpper(strings.TrimSpace(raw)))
	switch k {
	case KindLong, KindShort, KindWait, KindCloseLong, KindCloseShort:
		return k, true
	}
	return "", false
}

func (k Kind) IsEntry() bool { return k == KindLong || k == KindShort }
func (k Kind) IsClose() bool { return k == KindCloseLong || k == KindCloseShort }

// ClosedSide 返回 CLOSE_* 对应的开仓方向。
func (k Kind) ClosedSide() Kind {
	switch k {
	case KindCloseLong:
		return KindLong
	case KindCloseShort:
		return KindShort
	}
	return ""
}

// Condition 是 WAIT 状态下监控价位的触发条件。
type Condition string

const (
	ConditionAbove Condition = "above"
	ConditionBelow Condition = "below"
	ConditionTouch Condition = "touch"
)

func ParseCondition(raw string) Condition {
	switch Condition(strings.ToLower(strings.TrimSpace(raw))) {
	case ConditionAbove, ">", ">=":
		return ConditionAbove
	case ConditionBelow, "<", "<=":
		return ConditionBelow
	default:
		return ConditionTouch
	}
}

type MonitoringPrice struct {
	Price     float64   `json:"price" yaml:"price"`
	Condition Condition `json:"condition" yaml:"condition"`
	Note      string    `json:"note,omitempty" yaml:"note,omitempty"`
}

// Execution 与 RiskManagement 中的指针字段表示"未给出"，不能当作 0 处理。
type Execution struct {
	Leverage   *int     `json:"leverage,omitempty"`
	EntryPrice *float64 `json:"entry_price,omitempty"`
}

type RiskManagement struct {
	StopLoss         *float64          `json:"stop_loss_price,omitempty"`
	TakeProfit       *float64          `json:"take_profit_price,omitempty"`
	MonitoringPrices []MonitoringPrice `json:"monitoring_prices,omitempty"`
	Invalidations    []string          `json:"invalidations,omitempty"`
	Monitoring       []string          `json:"monitoring,omitempty"`
}

type TradingDecision struct {
	Asset     string         `json:"asset"`
	Kind      Kind           `json:"decision"`
	Thesis    string         `json:"thesis,omitempty"`
	Execution Execution      `json:"execution"`
	Risk      RiskManagement `json:"risk_management"`
}

// Plan 是一次研究输出，ID 仅用于日志与追踪。
type Plan struct {
	ID        string            `json:"id"`
	Raw       string            `json:"-"`
	Decisions []TradingDecision `json:"per_asset_decisions"`
	Warnings  []string          `json:"warnings,omitempty"`
}

// Assets 按出现顺序返回计划覆盖的资产。
func (p Plan) Assets() []string {
	out := make([]string, 0, len(p.Decisions))
	for _, d := range p.Decisions {
		out = append(out, d.Asset)
	}
	return out
}

func Float(v float64) *float64 { return &v }
func Int(v int) *int           { return &v }

// Value 解引用可选数值，未给出时返回 0。
func Value[T int | float64](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}
