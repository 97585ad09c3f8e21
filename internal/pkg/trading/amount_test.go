package trading

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestQtyFromNotionalNeverRoundsUp(t *testing.T) {
	cases := []struct {
		notional, price, step string
		want                  string
	}{
		{"5000", "43210.5", "0.001", "0.115"},
		{"5000", "100", "1", "50"},
		{"999", "1000", "0.001", "0.999"},
		{"10", "3333", "0.01", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.notional+"@"+tc.price, func(t *testing.T) {
			n := decimal.RequireFromString(tc.notional)
			p := decimal.RequireFromString(tc.price)
			s := decimal.RequireFromString(tc.step)
			got := QtyFromNotional(n, p, s)
			assert.True(t, got.Equal(decimal.RequireFromString(tc.want)), "got %s", got)
			assert.True(t, got.Mul(p).LessThanOrEqual(n))
		})
	}
}

func TestPnLRatio(t *testing.T) {
	got, ok := PnLRatio(100, 110, true)
	assert.True(t, ok)
	assert.InDelta(t, 0.10, got, 1e-12)

	got, ok = PnLRatio(100, 110, false)
	assert.True(t, ok)
	assert.InDelta(t, -0.10, got, 1e-12)

	_, ok = PnLRatio(0, 110, true)
	assert.False(t, ok)
}

func TestRelativeDistance(t *testing.T) {
	assert.InDelta(t, 0.005, RelativeDistance(99.5, 100), 1e-12)
	assert.Equal(t, 0.0, RelativeDistance(1, 0))
}
