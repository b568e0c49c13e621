package timer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func newTestCoordinator() (*Coordinator, *clock.Manual) {
	clk := clock.NewManual(t0)
	return NewCoordinator(clk, zerolog.Nop()), clk
}

func TestRoundRemainingDerivedFromStartTime(t *testing.T) {
	c, clk := newTestCoordinator()
	c.StartRound(t0, 10*time.Minute, func() error { return nil })

	clk.Advance(90 * time.Second)
	snap := c.Tick()
	require.NotNil(t, snap.Round)
	assert.Equal(t, 510, *snap.Round)
	assert.Equal(t, 510, *snap.Effective)
	assert.Nil(t, snap.Overall)
	assert.Nil(t, snap.Window)

	// A long gap between ticks (suspended tab) is not credited back.
	clk.Advance(5 * time.Minute)
	snap = c.Tick()
	assert.Equal(t, 210, *snap.Round)
}

func TestRoundStartedEarlierThanArmingIsHonoured(t *testing.T) {
	c, clk := newTestCoordinator()
	clk.Set(t0.Add(4 * time.Minute))
	c.StartRound(t0, 10*time.Minute, func() error { return nil })

	snap := c.Remaining()
	assert.Equal(t, 360, *snap.Round)
}

func TestExpiryFiresAfterDeadline(t *testing.T) {
	c, clk := newTestCoordinator()
	var fired int32
	c.StartRound(t0, 10*time.Minute, func() error {
		atomic.AddInt32(&fired, 1)
		return nil
	})

	clk.Set(t0.Add(599 * time.Second))
	c.Tick()
	assert.Zero(t, atomic.LoadInt32(&fired))

	clk.Set(t0.Add(601 * time.Second))
	snap := c.Tick()
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
	assert.True(t, snap.Expired)
	assert.Equal(t, 0, *snap.Round, "display is floored at zero")

	c.Tick()
	c.Tick()
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired), "expiry fires once per round")
}

func TestEffectiveDeadlineIsMinimum(t *testing.T) {
	c, clk := newTestCoordinator()
	var firedAt time.Time
	c.StartRound(t0, 500*time.Second, func() error {
		firedAt = clk.Now()
		return nil
	})
	c.Reconcile(intPtr(50), intPtr(9000))

	for i := 0; i < 600; i++ {
		clk.Advance(time.Second)
		c.Tick()
		if !firedAt.IsZero() {
			break
		}
	}
	assert.Equal(t, t0.Add(50*time.Second), firedAt)
}

func TestOverallBudgetEndsRoundEarly(t *testing.T) {
	c, clk := newTestCoordinator()
	var fired atomic.Bool
	c.StartRound(t0, 5*time.Minute, func() error {
		fired.Store(true)
		return nil
	})
	c.Reconcile(intPtr(5), nil)

	for i := 0; i < 10 && !fired.Load(); i++ {
		clk.Advance(time.Second)
		c.Tick()
	}
	assert.True(t, fired.Load())
	assert.Equal(t, 295, *c.Remaining().Round, "round clock still had time left")
}

func TestFailedExpiryRearmsLatch(t *testing.T) {
	c, clk := newTestCoordinator()
	calls := 0
	c.StartRound(t0, time.Minute, func() error {
		calls++
		if calls == 1 {
			return errors.New("network down")
		}
		return nil
	})

	clk.Advance(2 * time.Minute)
	c.Tick()
	c.Tick()
	c.Tick()
	assert.Equal(t, 2, calls)
}

func TestStopDisarmsRound(t *testing.T) {
	c, clk := newTestCoordinator()
	fired := false
	c.StartRound(t0, time.Minute, func() error { fired = true; return nil })
	c.Reconcile(intPtr(1000), nil)
	c.Stop()

	clk.Advance(time.Hour)
	snap := c.Tick()
	assert.False(t, fired)
	assert.Nil(t, snap.Round)
	// Server budget is still reported after the round stops.
	require.NotNil(t, snap.Overall)
	assert.Equal(t, 0, *snap.Overall)
}

func TestNoCountdownsMeansNoEffectiveDeadline(t *testing.T) {
	c, _ := newTestCoordinator()
	snap := c.Tick()
	assert.Nil(t, snap.Effective)
	assert.False(t, snap.Expired)
}

func TestConcurrentTicksFireOnce(t *testing.T) {
	c, clk := newTestCoordinator()
	var fired int32
	c.StartRound(t0, time.Second, func() error {
		atomic.AddInt32(&fired, 1)
		return nil
	})
	clk.Advance(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Tick()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestRunStopsWithContext(t *testing.T) {
	c, _ := newTestCoordinator()
	ticks := make(chan Snapshot, 16)
	c.OnTick(func(s Snapshot) {
		select {
		case ticks <- s:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("no tick observed")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
