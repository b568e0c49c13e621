package timer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcilerKeepsLastKnownValueOnFailure(t *testing.T) {
	c, clk := newTestCoordinator()

	fail := false
	r := NewReconciler(c, func(ctx context.Context) (*int, *int, error) {
		if fail {
			return nil, nil, errors.New("timeout")
		}
		return intPtr(120), intPtr(3600), nil
	}, 10*time.Second, zerolog.Nop())

	require.NoError(t, r.Once(context.Background()))

	clk.Advance(10 * time.Second)
	fail = true
	assert.Error(t, r.Once(context.Background()))
	assert.Equal(t, 1, r.ConsecutiveFailures())

	snap := c.Tick()
	require.NotNil(t, snap.Overall)
	assert.Equal(t, 110, *snap.Overall)
	assert.Equal(t, 3590, *snap.Window)
	assert.False(t, snap.Expired)

	fail = false
	require.NoError(t, r.Once(context.Background()))
	assert.Zero(t, r.ConsecutiveFailures())
}

func TestReconcilerNeverFiresExpiry(t *testing.T) {
	c, _ := newTestCoordinator()
	fired := false
	c.StartRound(t0, time.Minute, func() error { fired = true; return nil })

	r := NewReconciler(c, func(ctx context.Context) (*int, *int, error) {
		return intPtr(0), nil, nil
	}, time.Second, zerolog.Nop())

	require.NoError(t, r.Once(context.Background()))
	assert.False(t, fired, "only a tick may fire expiry")

	c.Tick()
	assert.True(t, fired)
}
