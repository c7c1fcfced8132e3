package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_SleepAdvancesAndRecords(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)

	require.NoError(t, c.Sleep(context.Background(), 200*time.Millisecond))
	require.NoError(t, c.Sleep(context.Background(), time.Second))
	c.Advance(time.Minute)

	assert.Equal(t, start.Add(time.Minute+1200*time.Millisecond), c.Now())
	assert.Equal(t, []time.Duration{200 * time.Millisecond, time.Second}, c.Sleeps())
}

func TestFake_SleepCancelled(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, c.Sleep(ctx, time.Second), context.Canceled)
	assert.Empty(t, c.Sleeps())
}

func TestReal_SleepCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := Real{}.Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestJitter_Bounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		j := Jitter(500 * time.Millisecond)
		assert.GreaterOrEqual(t, j, time.Duration(0))
		assert.Less(t, j, 500*time.Millisecond)
	}
	assert.Equal(t, time.Duration(0), Jitter(0))
}
