package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.toml", `
[app]
log_level = "debug"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "https://fapi.binance.com", cfg.Exchange.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Exchange.Timeout)
	assert.Equal(t, 10000.0, cfg.Trading.Capital)
	assert.Equal(t, 1, cfg.Trading.MinLeverage)
	assert.Equal(t, 3, cfg.Trading.MaxLeverage)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Trading.Symbols)
	assert.Equal(t, MisorderedNudge, cfg.Trading.OnMisorderedLevels)
	assert.Equal(t, 60*time.Second, cfg.Trigger.Tick)
	assert.Equal(t, 4*time.Hour, cfg.Trigger.MaxCycleAge)
	assert.Equal(t, 15*time.Minute, cfg.Trigger.Cooldown)
	assert.InDelta(t, 0.005, cfg.Trigger.Proximity, 1e-12)
	assert.Equal(t, 100, cfg.Ledger.Keep)
	assert.True(t, cfg.Reconcile.Enabled)
	assert.Equal(t, 8, cfg.Trigger.Session.StartHour)
	assert.Equal(t, 20, cfg.Trigger.Session.EndHour)
}

func TestLoadIncludeAndOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.toml", `
[trading]
capital = 500
symbols = ["btc", "SOL/USDT"]
min_leverage = 8
max_leverage = 2
`)
	path := writeFile(t, dir, "config.toml", `
include = ["base.toml"]

[trigger]
cooldown = "5m"
proximity = 0.01

[reconcile]
enabled = false
`)
	t.Setenv("BINANCE_API_KEY", "k-from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 500.0, cfg.Trading.Capital)
	assert.Equal(t, []string{"BTCUSDT", "SOLUSDT"}, cfg.Trading.Symbols)
	assert.Equal(t, 2, cfg.Trading.MinLeverage, "bounds are swapped when reversed")
	assert.Equal(t, 8, cfg.Trading.MaxLeverage)
	assert.Equal(t, 5*time.Minute, cfg.Trigger.Cooldown)
	assert.InDelta(t, 0.01, cfg.Trigger.Proximity, 1e-12)
	assert.False(t, cfg.Reconcile.Enabled, "explicit false must survive defaults")
	assert.Equal(t, "k-from-env", cfg.Exchange.APIKey)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"explicit zero capital": "[trading]\ncapital = 0\n",
		"bad misordered mode":   "[trading]\non_misordered_levels = \"ignore\"\n",
		"proximity too wide":    "[trigger]\nproximity = 0.9\n",
		"telegram incomplete":   "[notify.telegram]\nenabled = true\n",
		"bad session hours":     "[trigger.session]\nenabled = true\nstart_hour = 20\nend_hour = 8\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.toml", body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestIncludeCycleDetected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.toml", "include = [\"b.toml\"]\n")
	writeFile(t, dir, "b.toml", "include = [\"a.toml\"]\n")
	_, err := Load(filepath.Join(dir, "a.toml"))
	assert.ErrorContains(t, err, "include cycle")
}

func TestNormalizeLeverageBounds(t *testing.T) {
	lo, hi := NormalizeLeverageBounds(0, -3)
	assert.Equal(t, 1, lo)
	assert.Equal(t, 1, hi)

	lo, hi = NormalizeLeverageBounds(10, 4)
	assert.Equal(t, 4, lo)
	assert.Equal(t, 10, hi)
}
