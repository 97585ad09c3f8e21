package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesSentinelByKind(t *testing.T) {
	err := New(KindNoPosition, "close_position", "BTCUSDT", "flat")
	wrapped := fmt.Errorf("cycle: %w", err)

	assert.True(t, errors.Is(wrapped, ErrNoPosition))
	assert.False(t, errors.Is(wrapped, ErrInvalidPrice))
	assert.Equal(t, KindNoPosition, KindOf(wrapped))
	assert.Equal(t, "close_position BTCUSDT: no_position: flat", err.Error())
}

func TestWrapKeepsExistingKind(t *testing.T) {
	inner := New(KindLimitExceeded, "order", "ETHUSDT", "qty above max")
	got := Wrap(KindExternalService, "order", "ETHUSDT", inner)
	assert.Equal(t, KindLimitExceeded, KindOf(got))

	raw := errors.New("connection reset")
	got = Wrap(KindExternalService, "mark_price", "ETHUSDT", raw)
	assert.True(t, errors.Is(got, ErrExternalService))
	assert.ErrorIs(t, got, raw)

	assert.Nil(t, Wrap(KindLedgerIO, "append", "", nil))
	assert.Equal(t, KindUnknown, KindOf(raw))
}
