package reflection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"tradeloop/internal/decision"
	"tradeloop/internal/risk"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendText(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

func sampleClose() risk.CloseRecord {
	opened := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	return risk.CloseRecord{
		Symbol: "ETHUSDT", Side: decision.KindLong,
		EntryPrice: 3000, EntryTime: opened,
		ExitPrice: 3300, ExitTime: opened.Add(90 * time.Minute),
		Leverage: 3, PnL: decision.Float(0.1), StopLoss: decision.Float(2950),
		Notes: risk.NoteActiveClose,
	}
}

func TestRender(t *testing.T) {
	out := Render(sampleClose()).Markdown()
	assert.Contains(t, out, "📗 ETHUSDT LONG closed")
	assert.Contains(t, out, "- stop 2950")
	assert.Contains(t, out, "- held 1h30m0s")
	assert.Contains(t, out, "pnl +10.00% (x3 = +30.00%)")
}

func TestSummaryWithoutPnL(t *testing.T) {
	rec := sampleClose()
	rec.PnL = nil
	assert.Contains(t, Summary(rec), "pnl=n/a")
}

func TestAsyncPublishesInBackground(t *testing.T) {
	n := new(MockNotifier)
	done := make(chan struct{})
	n.On("SendText", mock.Anything, mock.MatchedBy(func(s string) bool { return len(s) > 0 })).
		Return(nil).Run(func(mock.Arguments) { close(done) })

	NewAsync(NewNotifierSink(n), time.Second).PublishAll([]risk.CloseRecord{sampleClose()})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish did not run")
	}
	n.AssertExpectations(t)
}
