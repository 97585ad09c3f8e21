package research

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeloop/internal/config"
	"tradeloop/internal/decision"
	"tradeloop/internal/pkg/errs"
)

func TestHTTPSourceFetch(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"plan_id": "p-42",
			"plan":    "analysis...\n```json\n{\"per_asset_decisions\":[{\"asset\":\"BTC\",\"decision\":\"WAIT\"}]}\n```",
		})
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, time.Second)
	res, err := src.Fetch(context.Background(), Request{Symbols: []string{"BTCUSDT"}, Reason: "cold_start", Capital: 1000})
	require.NoError(t, err)
	assert.Equal(t, "p-42", res.PlanID)
	assert.Equal(t, "cold_start", got.Reason)
	assert.Equal(t, []string{"BTCUSDT"}, got.Symbols)

	plan, err := decision.ParsePlan(res.PlanID, res.Text)
	require.NoError(t, err)
	require.Len(t, plan.Decisions, 1)
	assert.Equal(t, "BTCUSDT", plan.Decisions[0].Asset)
}

func TestHTTPSourceRawBodyAndErrors(t *testing.T) {
	t.Run("raw text gets a generated id", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"per_asset_decisions":[]}`))
		}))
		defer srv.Close()
		res, err := NewHTTPSource(srv.URL, time.Second).Fetch(context.Background(), Request{})
		require.NoError(t, err)
		assert.NotEmpty(t, res.PlanID)
		assert.JSONEq(t, `{"per_asset_decisions":[]}`, res.Text)
	})

	t.Run("server error is external service", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusBadGateway)
		}))
		defer srv.Close()
		_, err := NewHTTPSource(srv.URL, time.Second).Fetch(context.Background(), Request{})
		require.Error(t, err)
		assert.ErrorIs(t, err, errs.ErrExternalService)
	})
}

const yamlPlan = `id: manual-1
per_asset_decisions:
  - asset: eth
    decision: long
    thesis: reclaim of range high
    execution:
      leverage: 3x
    risk_management:
      stop_loss_price: 3150
      take_profit_price: "3600"
  - asset: BTC
    decision: WAIT
    risk_management:
      monitoring_prices:
        - price: 105000
          condition: above
          note: ath retest
`

func TestFileSourceYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlPlan), 0o644))

	res, err := NewFileSource(path).Fetch(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "manual-1", res.PlanID)

	plan, err := decision.ParsePlan(res.PlanID, res.Text)
	require.NoError(t, err)
	require.Len(t, plan.Decisions, 2)
	eth := plan.Decisions[0]
	assert.Equal(t, decision.KindLong, eth.Kind)
	assert.Equal(t, 3, decision.Value(eth.Execution.Leverage))
	assert.Equal(t, 3600.0, decision.Value(eth.Risk.TakeProfit))
	btc := plan.Decisions[1]
	require.Len(t, btc.Risk.MonitoringPrices, 1)
	assert.Equal(t, decision.ConditionAbove, btc.Risk.MonitoringPrices[0].Condition)
}

func TestFileSourceRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yml")
	require.NoError(t, os.WriteFile(path, []byte("per_asset_decisions:\n  - asset: BTC\n    decison: LONG\n"), 0o644))
	_, err := NewFileSource(path).Fetch(context.Background(), Request{})
	assert.Error(t, err)
}

func TestNewSource(t *testing.T) {
	src, err := NewSource(config.ResearchConfig{PlanFile: "plan.yaml", URL: "http://x"})
	require.NoError(t, err)
	assert.IsType(t, &FileSource{}, src)

	src, err = NewSource(config.ResearchConfig{URL: "http://x"})
	require.NoError(t, err)
	assert.IsType(t, &HTTPSource{}, src)

	_, err = NewSource(config.ResearchConfig{})
	assert.Error(t, err)
}
