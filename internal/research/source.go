// Package research is the boundary to the external research pipeline that
// turns market context into a per-asset trading plan.
package research

import (
	"context"
	"fmt"
	"strings"

	"tradeloop/internal/config"
)

// Request 是一次研究调用的输入，Reason 为触发原因（cold_start、stop_loss_hit 等）。
type Request struct {
	Symbols     []string `json:"symbols"`
	Capital     float64  `json:"capital"`
	MinLeverage int      `json:"min_leverage"`
	MaxLeverage int      `json:"max_leverage"`
	Reason      string   `json:"reason"`
	Symbol      string   `json:"symbol,omitempty"`
}

// Result 保留原始文本，由 decision.ParsePlan 统一解析。
type Result struct {
	PlanID string
	Text   string
}

type Source interface {
	Fetch(ctx context.Context, req Request) (Result, error)
}

// NewSource: 配置了 plan_file 时使用静态计划，否则调用 HTTP 研究服务。
func NewSource(cfg config.ResearchConfig) (Source, error) {
	if path := strings.TrimSpace(cfg.PlanFile); path != "" {
		return NewFileSource(path), nil
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("research.url 或 research.plan_file 必须配置一个")
	}
	return NewHTTPSource(cfg.URL, cfg.Timeout), nil
}
