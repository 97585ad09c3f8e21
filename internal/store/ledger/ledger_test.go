package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeloop/internal/decision"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var base = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func appendAt(t *testing.T, s *Store, at time.Time, asset string, kind decision.Kind) Round {
	t.Helper()
	r := Round{CreatedAt: at, Asset: asset, Decision: kind, Assets: []string{asset}}
	require.NoError(t, s.AppendRound(context.Background(), &r))
	return r
}

func TestAppendRoundRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	in := Round{
		RoundID:    7,
		Assets:     []string{"BTCUSDT", "ETHUSDT"},
		Situation:  "BTCUSDT | LONG | breakout",
		Summary:    "[结论] BTCUSDT | LONG | breakout",
		Decision:   decision.KindLong,
		Asset:      "btc",
		EntryPrice: decision.Float(64000),
		StopLoss:   decision.Float(62500),
		TakeProfit: decision.Float(68000),
		Leverage:   decision.Int(5),
	}
	require.NoError(t, s.AppendRound(ctx, &in))
	assert.NotZero(t, in.ID)

	got, err := s.GetRecentRounds(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	out := got[0]
	assert.Equal(t, in.ID, out.ID)
	assert.WithinDuration(t, in.CreatedAt, out.CreatedAt, time.Millisecond)
	out.ID, out.CreatedAt = 0, time.Time{}
	in.ID, in.CreatedAt = 0, time.Time{}
	assert.Equal(t, in, out)
	assert.True(t, out.IsOpenEntry)
	assert.Equal(t, "BTCUSDT", out.Asset)
}

func TestAppendRoundRejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.AppendRound(context.Background(), &Round{Asset: "", Decision: decision.KindWait}))
	assert.Error(t, s.AppendRound(context.Background(), &Round{Asset: "BTCUSDT", Decision: "HOLD"}))
}

func TestOpenEntryLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := appendAt(t, s, base, "BTCUSDT", decision.KindLong)
	appendAt(t, s, base.Add(time.Minute), "ETHUSDT", decision.KindCloseShort)
	appendAt(t, s, base.Add(2*time.Minute), "BTCUSDT", decision.KindWait)

	got, err := s.GetOpenEntry(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entry.ID, got.ID)

	appendAt(t, s, base.Add(3*time.Minute), "BTCUSDT", decision.KindCloseLong)
	got, err = s.GetOpenEntry(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, got, "close after entry means nothing is open")

	reopened := appendAt(t, s, base.Add(4*time.Minute), "BTCUSDT", decision.KindShort)
	got, err = s.GetOpenEntry(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, reopened.ID, got.ID)
	assert.Equal(t, decision.KindShort, got.Decision)
}

func TestFirstOpenEntrySinceLastClose(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	appendAt(t, s, base, "ETHUSDT", decision.KindLong)
	appendAt(t, s, base.Add(time.Minute), "ETHUSDT", decision.KindCloseLong)
	first := appendAt(t, s, base.Add(2*time.Minute), "ETHUSDT", decision.KindLong)
	latest := appendAt(t, s, base.Add(3*time.Minute), "ETHUSDT", decision.KindLong)

	got, err := s.GetFirstOpenEntrySinceLastClose(ctx, "ETHUSDT")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)

	recent, err := s.GetOpenEntry(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, latest.ID, recent.ID)

	none, err := s.GetFirstOpenEntrySinceLastClose(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSameTimestampTieBreaksOnID(t *testing.T) {
	s := newTestStore(t)
	appendAt(t, s, base, "BTCUSDT", decision.KindLong)
	appendAt(t, s, base, "BTCUSDT", decision.KindCloseLong)

	got, err := s.GetOpenEntry(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLastRoundTimeAndNextRoundID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetLastRoundTime(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	next, err := s.NextRoundID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)

	r := Round{CreatedAt: base, Asset: "BTCUSDT", Decision: decision.KindWait, RoundID: 4}
	require.NoError(t, s.AppendRound(ctx, &r))

	last, ok, err := s.GetLastRoundTime(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, last.Equal(base))

	next, err = s.NextRoundID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), next)
}

func TestPruneRecentKeepsNewest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		appendAt(t, s, base.Add(time.Duration(i)*time.Minute), "BTCUSDT", decision.KindWait)
	}
	entry := appendAt(t, s, base.Add(10*time.Minute), "ETHUSDT", decision.KindShort)

	deleted, err := s.PruneRecent(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)

	rounds, err := s.GetRecentRounds(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rounds, 3)
	assert.Equal(t, entry.ID, rounds[0].ID)

	open, err := s.GetOpenEntry(ctx, "ETHUSDT")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, entry.ID, open.ID)
}

func TestOpenEntries(t *testing.T) {
	s := newTestStore(t)
	appendAt(t, s, base, "BTCUSDT", decision.KindLong)
	appendAt(t, s, base.Add(time.Minute), "ETHUSDT", decision.KindShort)
	appendAt(t, s, base.Add(2*time.Minute), "ETHUSDT", decision.KindCloseShort)

	open, err := s.OpenEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "BTCUSDT", open[0].Asset)
}

func TestMonitoringTargetsUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertMonitoringTarget(ctx, MonitoringTarget{
		Symbol:   "ETHUSDT",
		Decision: decision.KindWait,
		MonitoringPrices: []decision.MonitoringPrice{
			{Price: 3500, Condition: decision.ConditionAbove, Note: "range high"},
		},
	}))
	require.NoError(t, s.UpsertMonitoringTarget(ctx, MonitoringTarget{
		Symbol: "BTCUSDT", Decision: decision.KindLong,
		StopLoss: decision.Float(62000), TakeProfit: decision.Float(70000),
	}))
	require.NoError(t, s.UpsertMonitoringTarget(ctx, MonitoringTarget{
		Symbol: "ETHUSDT", Decision: decision.KindShort, StopLoss: decision.Float(3600),
	}))

	targets, err := s.GetMonitoringTargets(ctx)
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "BTCUSDT", targets[0].Symbol)
	eth := targets[1]
	assert.Equal(t, decision.KindShort, eth.Decision)
	assert.Equal(t, 3600.0, decision.Value(eth.StopLoss))
	assert.Nil(t, eth.TakeProfit)
	assert.Empty(t, eth.MonitoringPrices, "upsert replaces the whole row")
}

func TestAlertState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st, err := s.GetAlertState(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, st)

	require.NoError(t, s.SetAlertState(ctx, AlertState{Symbol: "BTCUSDT", LastTriggerAt: base, LastReason: "near_stop_loss", LastPrice: 62100}))
	require.NoError(t, s.SetAlertState(ctx, AlertState{Symbol: "BTCUSDT", LastTriggerAt: base.Add(time.Hour), LastReason: "stop_loss_hit", LastPrice: 61900}))

	st, err = s.GetAlertState(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "stop_loss_hit", st.LastReason)
	assert.Equal(t, 61900.0, st.LastPrice)
	assert.True(t, st.LastTriggerAt.Equal(base.Add(time.Hour)))
}
