package decision

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"tradeloop/internal/pkg/convert"
	"tradeloop/internal/pkg/jsonutil"
	"tradeloop/internal/pkg/symbol"
)

// ParsePlan 从研究输出文本中解析多资产计划。
// 文本可以是纯 JSON，也可以是夹带 ``` 代码块的自然语言。
// 无法识别的单条决策会被跳过并记入 Warnings，而不是整体失败。
func ParsePlan(planID, text string) (Plan, error) {
	plan := Plan{ID: planID, Raw: text}
	raw, ok := jsonutil.ExtractObject(text)
	if !ok {
		return plan, fmt.Errorf("plan %s: no JSON object found", planID)
	}
	if !gjson.Valid(raw) {
		return plan, fmt.Errorf("plan %s: invalid JSON", planID)
	}
	if err := validateSchema(raw); err != nil {
		return plan, fmt.Errorf("plan %s: %w", planID, err)
	}
	seen := make(map[string]bool)
	idx := 0
	gjson.Get(raw, "per_asset_decisions").ForEach(func(_, item gjson.Result) bool {
		idx++
		d, warn := parseDecision(item)
		if warn != "" {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("#%d %s", idx, warn))
			return true
		}
		if seen[d.Asset] {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("#%d duplicate asset %s ignored", idx, d.Asset))
			return true
		}
		seen[d.Asset] = true
		plan.Decisions = append(plan.Decisions, d)
		return true
	})
	return plan, nil
}

func parseDecision(item gjson.Result) (TradingDecision, string) {
	rawAsset := strings.TrimSpace(item.Get("asset").String())
	if rawAsset == "" {
		return TradingDecision{}, "missing asset"
	}
	asset := symbol.Normalize(rawAsset)
	if asset == "" {
		return TradingDecision{}, fmt.Sprintf("unrecognised asset %q", rawAsset)
	}
	kind, ok := ParseKind(item.Get("decision").String())
	if !ok {
		return TradingDecision{}, fmt.Sprintf("%s: unknown decision %q", asset, item.Get("decision").String())
	}
	d := TradingDecision{
		Asset:  asset,
		Kind:   kind,
		Thesis: strings.TrimSpace(item.Get("thesis").String()),
	}
	if lev, ok := convert.OptionalInt(optional(item.Get("execution.leverage"))); ok && lev > 0 {
		d.Execution.Leverage = Int(lev)
	}
	d.Execution.EntryPrice = positiveFloat(item.Get("execution.entry_price"))

	risk := item.Get("risk_management")
	d.Risk.StopLoss = positiveFloat(risk.Get("stop_loss_price"))
	d.Risk.TakeProfit = positiveFloat(risk.Get("take_profit_price"))
	if d.Risk.TakeProfit == nil {
		d.Risk.TakeProfit = firstTarget(risk.Get("take_profit_targets"))
	}
	d.Risk.MonitoringPrices = parseMonitoringPrices(risk.Get("monitoring_prices"))
	d.Risk.Invalidations = stringList(risk.Get("invalidations"))
	d.Risk.Monitoring = stringList(risk.Get("monitoring"))
	return d, ""
}

// ParseMonitoringPrices 接受数组或 JSON 字符串形式（旧数据按字符串存储）。
func ParseMonitoringPrices(raw string) []MonitoringPrice {
	raw = strings.TrimSpace(raw)
	if raw == "" || !gjson.Valid(raw) {
		return nil
	}
	return parseMonitoringPrices(gjson.Parse(raw))
}

func parseMonitoringPrices(node gjson.Result) []MonitoringPrice {
	if node.Type == gjson.String {
		node = gjson.Parse(node.String())
	}
	if !node.IsArray() {
		return nil
	}
	var out []MonitoringPrice
	node.ForEach(func(_, item gjson.Result) bool {
		var price *float64
		if item.IsObject() {
			price = positiveFloat(item.Get("price"))
		} else {
			price = positiveFloat(item)
		}
		if price == nil {
			return true
		}
		out = append(out, MonitoringPrice{
			Price:     *price,
			Condition: ParseCondition(item.Get("condition").String()),
			Note:      strings.TrimSpace(item.Get("note").String()),
		})
		return true
	})
	return out
}

func positiveFloat(node gjson.Result) *float64 {
	v, ok := convert.OptionalFloat(optional(node))
	if !ok || v <= 0 {
		return nil
	}
	return Float(v)
}

// firstTarget 取 take_profit_targets 中第一个正数，兼容单值写法。
func firstTarget(node gjson.Result) *float64 {
	if !node.IsArray() {
		return positiveFloat(node)
	}
	for _, item := range node.Array() {
		if p := positiveFloat(item); p != nil {
			return p
		}
	}
	return nil
}

func optional(node gjson.Result) any {
	if !node.Exists() || node.Type == gjson.Null {
		return nil
	}
	return node.Value()
}

func stringList(node gjson.Result) []string {
	if !node.IsArray() {
		if s := strings.TrimSpace(node.String()); s != "" && node.Type == gjson.String {
			return []string{s}
		}
		return nil
	}
	var out []string
	node.ForEach(func(_, item gjson.Result) bool {
		if s := strings.TrimSpace(item.String()); s != "" {
			out = append(out, s)
		}
		return true
	})
	return out
}
