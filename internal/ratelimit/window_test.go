package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/autokita/wa-campaign-engine/pkg/clock"
)

func TestLimiter_AllowWithinBudget(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	l := NewLimiter(3, 0, clk)

	for i := 0; i < 3; i++ {
		ok, wait := l.Allow()
		assert.True(t, ok, "admission %d should pass", i)
		assert.Zero(t, wait)
	}

	ok, wait := l.Allow()
	assert.False(t, ok)
	assert.Equal(t, time.Minute, wait)
}

func TestLimiter_WindowRolls(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	l := NewLimiter(2, 0, clk)

	ok, _ := l.Allow()
	assert.True(t, ok)
	clk.Advance(30 * time.Second)
	ok, _ = l.Allow()
	assert.True(t, ok)

	// Budget full; the oldest admission frees up in 30s.
	ok, wait := l.Allow()
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, wait)

	clk.Advance(31 * time.Second)
	ok, _ = l.Allow()
	assert.True(t, ok)
}

func TestLimiter_HourBudgetBinds(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	l := NewLimiter(10, 2, clk)

	for i := 0; i < 2; i++ {
		ok, _ := l.Allow()
		assert.True(t, ok)
	}

	// Minute budget still has room but the hour budget is exhausted.
	ok, wait := l.Allow()
	assert.False(t, ok)
	assert.Equal(t, time.Hour, wait)
}

func TestLimiter_ConcurrentAdmissionsNeverExceedBudget(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	l := NewLimiter(50, 0, clk)

	results := make(chan bool, 200)
	for i := 0; i < 200; i++ {
		go func() {
			ok, _ := l.Allow()
			results <- ok
		}()
	}

	admitted := 0
	for i := 0; i < 200; i++ {
		if <-results {
			admitted++
		}
	}
	assert.Equal(t, 50, admitted)
}

func TestLimiter_DisabledWindows(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	l := NewLimiter(0, 0, clk)

	for i := 0; i < 1000; i++ {
		ok, _ := l.Allow()
		assert.True(t, ok)
	}
}
