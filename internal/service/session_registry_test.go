package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-session/internal/config"
)

func liveSession(connID string, closed *atomic.Int32) *LiveSession {
	return &LiveSession{ConnID: connID, Close: func() { closed.Add(1) }}
}

func TestSessionRegistry_NewConnectionEvictsOld(t *testing.T) {
	reg := NewSessionRegistry(nil, time.Minute, zerolog.Nop())
	ctx := context.Background()
	var oldClosed, newClosed atomic.Int32

	require.NoError(t, reg.Claim(ctx, "stu-1", "pkg-1", liveSession("c1", &oldClosed)))
	require.NoError(t, reg.Claim(ctx, "stu-1", "pkg-1", liveSession("c2", &newClosed)))

	assert.Equal(t, int32(1), oldClosed.Load())
	assert.Equal(t, int32(0), newClosed.Load())
	assert.Equal(t, 1, reg.Len())

	ok, err := reg.Refresh(ctx, "stu-1", "pkg-1", "c1")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = reg.Refresh(ctx, "stu-1", "pkg-1", "c2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSessionRegistry_StaleReleaseKeepsNewOwner(t *testing.T) {
	reg := NewSessionRegistry(nil, time.Minute, zerolog.Nop())
	ctx := context.Background()
	var closed atomic.Int32

	require.NoError(t, reg.Claim(ctx, "stu-1", "pkg-1", liveSession("c1", &closed)))
	require.NoError(t, reg.Claim(ctx, "stu-1", "pkg-1", liveSession("c2", &closed)))
	reg.Release(ctx, "stu-1", "pkg-1", "c1")
	assert.Equal(t, 1, reg.Len())

	reg.Release(ctx, "stu-1", "pkg-1", "c2")
	assert.Equal(t, 0, reg.Len())
}

func TestSessionRegistry_SeparatePackagesCoexist(t *testing.T) {
	reg := NewSessionRegistry(nil, time.Minute, zerolog.Nop())
	ctx := context.Background()
	var closed atomic.Int32

	require.NoError(t, reg.Claim(ctx, "stu-1", "pkg-1", liveSession("c1", &closed)))
	require.NoError(t, reg.Claim(ctx, "stu-1", "pkg-2", liveSession("c2", &closed)))
	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, int32(0), closed.Load())

	reg.CloseAll()
	assert.Equal(t, int32(2), closed.Load())
	assert.Equal(t, 0, reg.Len())
}

func TestSessionRegistry_EvictFromOtherInstance(t *testing.T) {
	reg := NewSessionRegistry(nil, time.Minute, zerolog.Nop())
	ctx := context.Background()
	var closed atomic.Int32

	require.NoError(t, reg.Claim(ctx, "stu-1", "pkg-1", liveSession("c1", &closed)))
	key := config.CacheKey.ActiveSessionKey("stu-1", "pkg-1")

	reg.evict(key, "c1")
	assert.Equal(t, int32(0), closed.Load(), "own announcement is ignored")

	reg.evict(key, "remote-conn")
	assert.Equal(t, int32(1), closed.Load())
	_, ok := reg.Lookup("stu-1", "pkg-1")
	assert.False(t, ok)
}
