package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClock_StartsAtEpoch(t *testing.T) {
	clock := NewFakeClock()
	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, Epoch, clock.Now(), "zero step keeps time frozen")
}

func TestFakeClock_SleepAdvancesAndRecords(t *testing.T) {
	clock := NewFakeClock()

	require.NoError(t, clock.Sleep(context.Background(), 100*time.Millisecond))
	require.NoError(t, clock.Sleep(context.Background(), 200*time.Millisecond))

	assert.Equal(t, Epoch.Add(300*time.Millisecond), clock.Now())
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, clock.Sleeps())
}

func TestFakeClock_SleepHonoursCancelledContext(t *testing.T) {
	clock := NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := clock.Sleep(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, clock.Sleeps())
	assert.Equal(t, Epoch, clock.Now())
}

func TestFakeClock_Step(t *testing.T) {
	clock := NewFakeClock()
	clock.SetStep(time.Second)

	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, Epoch.Add(time.Second), clock.Now())
	assert.Equal(t, Epoch.Add(2*time.Second), clock.Now())
}

func TestFakeClock_Advance(t *testing.T) {
	clock := NewFakeClockAt(Epoch.Add(time.Hour))
	clock.Advance(time.Minute)
	assert.Equal(t, Epoch.Add(time.Hour+time.Minute), clock.Now())
}

func TestFakeClock_ThreadSafe(t *testing.T) {
	clock := NewFakeClock()
	const numGoroutines = 50

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			_ = clock.Sleep(context.Background(), time.Millisecond)
			_ = clock.Now()
		}()
	}
	wg.Wait()

	assert.Len(t, clock.Sleeps(), numGoroutines)
	assert.Equal(t, Epoch.Add(numGoroutines*time.Millisecond), clock.Now())
}
