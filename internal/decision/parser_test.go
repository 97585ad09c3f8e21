package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fencedPlan = "综合判断如下：\n```json\n" + `{
  "per_asset_decisions": [
    {
      "asset": "BTCUSDT",
      "decision": "long",
      "thesis": "breakout retest",
      "execution": {"leverage": "5x", "entry_price": "64000"},
      "risk_management": {"stop_loss_price": 62500, "take_profit_price": "68000.5", "invalidations": ["close below 62k"]}
    },
    {
      "asset": "eth",
      "decision": "WAIT",
      "risk_management": {
        "stop_loss_price": null,
        "monitoring_prices": [
          {"price": 3500, "condition": "above", "note": "range high"},
          {"price": "3100", "condition": "<=", "note": "range low"},
          {"price": 0, "condition": "touch"}
        ]
      }
    },
    {"asset": "", "decision": "LONG"},
    {"asset": "SOLUSDT", "decision": "HOLD"},
    {"asset": "BTC/USDT", "decision": "SHORT"}
  ]
}` + "\n```\n"

func TestParsePlan(t *testing.T) {
	plan, err := ParsePlan("cycle-1", fencedPlan)
	require.NoError(t, err)
	require.Len(t, plan.Decisions, 2)
	assert.Len(t, plan.Warnings, 3)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, plan.Assets())

	btc := plan.Decisions[0]
	assert.Equal(t, KindLong, btc.Kind)
	require.NotNil(t, btc.Execution.Leverage)
	assert.Equal(t, 5, *btc.Execution.Leverage)
	assert.Equal(t, 64000.0, Value(btc.Execution.EntryPrice))
	assert.Equal(t, 62500.0, Value(btc.Risk.StopLoss))
	assert.Equal(t, 68000.5, Value(btc.Risk.TakeProfit))
	assert.Equal(t, []string{"close below 62k"}, btc.Risk.Invalidations)

	eth := plan.Decisions[1]
	assert.Equal(t, KindWait, eth.Kind)
	assert.Nil(t, eth.Risk.StopLoss, "null stop stays missing")
	assert.Nil(t, eth.Execution.Leverage)
	require.Len(t, eth.Risk.MonitoringPrices, 2)
	assert.Equal(t, MonitoringPrice{Price: 3500, Condition: ConditionAbove, Note: "range high"}, eth.Risk.MonitoringPrices[0])
	assert.Equal(t, ConditionBelow, eth.Risk.MonitoringPrices[1].Condition)
}

func TestParsePlanTakeProfitTargets(t *testing.T) {
	cases := map[string]struct {
		risk string
		want *float64
	}{
		"first positive of list": {`{"stop_loss_price": 62500, "take_profit_targets": [0, "68000", 70000]}`, Float(68000)},
		"scalar":                 {`{"take_profit_targets": 69000}`, Float(69000)},
		"explicit price wins":    {`{"take_profit_price": 67000, "take_profit_targets": [68000]}`, Float(67000)},
		"no positive element":    {`{"take_profit_targets": [0, null]}`, nil},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			text := `{"per_asset_decisions":[{"asset":"BTC","decision":"LONG","risk_management":` + tc.risk + `}]}`
			plan, err := ParsePlan("tp", text)
			require.NoError(t, err)
			require.Len(t, plan.Decisions, 1)
			assert.Equal(t, tc.want, plan.Decisions[0].Risk.TakeProfit)
		})
	}
}

func TestParsePlanErrors(t *testing.T) {
	cases := map[string]string{
		"no json":          "market looks choppy, staying flat",
		"missing root key": `{"decisions": []}`,
		"wrong root type":  `{"per_asset_decisions": "none"}`,
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePlan("x", text)
			assert.Error(t, err)
		})
	}
}

func TestParseMonitoringPricesFromStoredString(t *testing.T) {
	got := ParseMonitoringPrices(`[{"price": 105, "condition": "above", "note": "breakout"}]`)
	require.Len(t, got, 1)
	assert.Equal(t, "breakout", got[0].Note)
	assert.Nil(t, ParseMonitoringPrices("not json"))
}

func TestKindHelpers(t *testing.T) {
	k, ok := ParseKind(" close_short ")
	require.True(t, ok)
	assert.True(t, k.IsClose())
	assert.Equal(t, KindShort, k.ClosedSide())
	assert.True(t, KindLong.IsEntry())
	_, ok = ParseKind("flip")
	assert.False(t, ok)
}
