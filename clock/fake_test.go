package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, time.October, 14, 12, 0, 0, 0, time.UTC)

func TestFakeAfterFuncFiresOnce(t *testing.T) {
	f := NewFake(epoch)
	calls := 0
	f.AfterFunc(2*time.Minute, func() { calls++ })

	f.Advance(time.Minute)
	assert.Equal(t, 0, calls)

	f.Advance(time.Minute)
	assert.Equal(t, 1, calls)

	f.Advance(time.Hour)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, f.Pending())
}

func TestFakeStoppedTimerNeverFires(t *testing.T) {
	f := NewFake(epoch)
	fired := false
	timer := f.AfterFunc(time.Second, func() { fired = true })

	require.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	f.Advance(time.Minute)
	assert.False(t, fired)
}

func TestFakeTickerDropsWhenFull(t *testing.T) {
	f := NewFake(epoch)
	ticker := f.NewTicker(time.Minute)
	defer ticker.Stop()

	f.Advance(3 * time.Minute)

	select {
	case got := <-ticker.C:
		assert.Equal(t, epoch.Add(3*time.Minute), got)
	default:
		t.Fatal("expected a tick")
	}
	select {
	case <-ticker.C:
		t.Fatal("ticks should not queue up")
	default:
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	f := NewFake(epoch)
	done := make(chan struct{})

	go func() {
		f.AfterFunc(time.Second, func() { close(done) })
	}()

	f.WaitForTimers(1)
	f.Advance(time.Second)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}
