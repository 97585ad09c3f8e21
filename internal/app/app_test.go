package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	brcfg "tradeloop/internal/config"
	"tradeloop/internal/decision"
	"tradeloop/internal/gateway/exchange"
	"tradeloop/internal/research"
	"tradeloop/internal/trigger"
)

// stubGateway 只实现本测试会走到的方法，其余调用直接 panic。
type stubGateway struct {
	exchange.Gateway
}

func (stubGateway) GetMarkPrice(context.Context, string) (float64, error) { return 100, nil }

const planYAML = `
id: plan-yaml
per_asset_decisions:
  - asset: btc
    decision: WAIT
    thesis: range bound
    risk_management:
      monitoring_prices:
        - price: 105
          condition: above
          note: breakout
`

func testConfig(t *testing.T) *brcfg.Config {
	dir := t.TempDir()
	return &brcfg.Config{
		App:     brcfg.AppConfig{LogLevel: "warn"},
		Trading: brcfg.TradingConfig{Capital: 1000, MinLeverage: 1, MaxLeverage: 5, Symbols: []string{"BTCUSDT"}, MaxLossRatio: 0.03},
		Trigger: brcfg.TriggerConfig{Tick: time.Minute, Cooldown: 15 * time.Minute, MaxCycleAge: 4 * time.Hour, Proximity: 0.005},
		Ledger: brcfg.LedgerConfig{
			Path:      filepath.Join(dir, "ledger.db"),
			TracePath: filepath.Join(dir, "trace.db"),
			Keep:      100,
		},
		HTTP: brcfg.HTTPConfig{Addr: "127.0.0.1:0"},
	}
}

func TestRunOnceWithFilePlan(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	planPath := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(planPath, []byte(planYAML), 0o644))

	a, err := NewAppBuilder(cfg, "", WithGateway(stubGateway{}), WithResearch(research.NewFileSource(planPath))).Build(ctx)
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.http)
	require.NotNil(t, a.Summary)

	rep, err := a.RunOnce(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, trigger.ReasonManual, rep.Trigger.Reason)
	assert.Equal(t, "plan-yaml", rep.PlanID)

	rounds, err := a.RecentRounds(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rounds, 1)
	assert.Equal(t, "BTCUSDT", rounds[0].Asset)
	assert.Equal(t, decision.KindWait, rounds[0].Decision)

	latest, err := a.traces.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, rep.CycleID, latest.ID)

	res, err := a.Reconcile(ctx, true)
	require.NoError(t, err)
	assert.Zero(t, res.Checked)
}

func TestApplyConfigHotReload(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.HTTP.Addr = ""
	cfg.Ledger.TracePath = ""
	a, err := NewAppBuilder(cfg, "", WithGateway(stubGateway{}), WithResearch(research.NewFileSource("unused"))).Build(ctx)
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.http)
	assert.Nil(t, a.traces)

	next := *cfg
	next.Trigger.Cooldown = time.Minute
	next.Trading.Capital = 2500
	a.applyConfig(&next)
	assert.False(t, a.sched.InFlight())
}

func TestBuildRequiresConfig(t *testing.T) {
	_, err := NewAppBuilder(nil, "").Build(context.Background())
	assert.Error(t, err)
}
