package token

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		text string
		want int64
	}{
		{"", 0},
		{"hi", 1},                    // 2 / 3.5 = 0.57 → 1
		{"hello", 1},                 // 5 / 3.5 = 1.43 → 1
		{"hello, world!", 4},         // 13 / 3.5 = 3.71 → 4
		{"1234567", 2},               // 7 / 3.5 = 2
		{"こんにちは", 1},                 // 5 runes, not 15 bytes
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Estimate(tc.text), "estimate for %q", tc.text)
	}
}

type fixedCounter struct {
	n   int64
	err error
}

func (c fixedCounter) Count(ctx context.Context, text string) (int64, error) {
	return c.n, c.err
}

func TestCount_UsesCounter(t *testing.T) {
	n := Count(context.Background(), fixedCounter{n: 42}, "whatever")
	assert.Equal(t, int64(42), n)
}

func TestCount_FallsBackOnError(t *testing.T) {
	n := Count(context.Background(), fixedCounter{err: errors.New("host unavailable")}, "hello, world!")
	assert.Equal(t, int64(4), n)
}

func TestCount_FallsBackOnNegative(t *testing.T) {
	n := Count(context.Background(), fixedCounter{n: -1}, "hello, world!")
	assert.Equal(t, int64(4), n)
}

func TestCount_NilCounter(t *testing.T) {
	n := Count(context.Background(), nil, "hello")
	assert.Equal(t, int64(1), n)
}
