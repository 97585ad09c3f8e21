package convert

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptionalFloat(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want float64
		ok   bool
	}{
		{"nil", nil, 0, false},
		{"float", 101.5, 101.5, true},
		{"int", 3, 3, true},
		{"json number", json.Number("99.9"), 99.9, true},
		{"padded string", " 42.0 ", 42, true},
		{"thousands", "1,250.5", 1250.5, true},
		{"empty string", "", 0, false},
		{"garbage", "n/a", 0, false},
		{"bool", true, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := OptionalFloat(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestOptionalIntLeverage(t *testing.T) {
	got, ok := OptionalInt("10x")
	assert.True(t, ok)
	assert.Equal(t, 10, got)

	got, ok = OptionalInt(5.9)
	assert.True(t, ok)
	assert.Equal(t, 5, got)

	_, ok = OptionalInt("x")
	assert.False(t, ok)
}
