// Package timer runs the countdowns that bound an exam round.
//
// Up to three countdowns are tracked: the round's own clock, the attempt's overall
// budget and the package's time window. Remaining time is always recomputed from
// an authoritative origin rather than decremented, so throttled or missed ticks
// can never extend the time available.
package timer

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/clock"
)

// ExpiryFunc is invoked when the effective deadline passes. Returning an error
// re-arms the latch so the next tick tries again.
type ExpiryFunc func() error

// Snapshot is the remaining time of every countdown at one instant. Nil fields
// are inactive or unbounded. Values are whole seconds, never negative.
type Snapshot struct {
	Round     *int `json:"round_remaining_seconds,omitempty"`
	Overall   *int `json:"overall_remaining_seconds,omitempty"`
	Window    *int `json:"time_window_remaining_seconds,omitempty"`
	Effective *int `json:"remaining_seconds,omitempty"`
	Expired   bool `json:"expired"`
}

// projection is a server-reported remaining value pinned to the local instant
// it was observed.
type projection struct {
	seconds    int
	observedAt time.Time
}

func (p *projection) at(now time.Time) int {
	return int(math.Ceil(float64(p.seconds) - now.Sub(p.observedAt).Seconds()))
}

// Coordinator combines the round, overall and time-window countdowns and fires
// a single expiry callback per round when the earliest one runs out.
type Coordinator struct {
	clock clock.Clock
	log   zerolog.Logger

	mu         sync.Mutex
	armed      bool
	generation uint64
	roundStart time.Time
	roundLen   time.Duration
	overall    *projection
	window     *projection
	onExpire   ExpiryFunc
	fired      bool
	onTick     func(Snapshot)
}

// NewCoordinator creates an idle Coordinator reading time from clk.
func NewCoordinator(clk clock.Clock, log zerolog.Logger) *Coordinator {
	if clk == nil {
		clk = clock.System{}
	}
	return &Coordinator{
		clock: clk,
		log:   log.With().Str("component", "timer").Logger(),
	}
}

// StartRound arms the round countdown from its authoritative start time and
// resets the expiry latch.
func (c *Coordinator) StartRound(start time.Time, duration time.Duration, onExpire ExpiryFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.armed = true
	c.fired = false
	c.roundStart = start
	c.roundLen = duration
	c.onExpire = onExpire

	c.log.Debug().
		Time("round_start", start).
		Dur("duration", duration).
		Msg("Round countdown armed")
}

// Stop disarms the round countdown. Server-reported budgets are kept so the
// next round starts from the last known values.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.armed = false
	c.onExpire = nil
}

// Reconcile records the server's overall and time-window remaining seconds.
// A nil value means that budget is unbounded.
func (c *Coordinator) Reconcile(overall, window *int) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.overall = pin(overall, now)
	c.window = pin(window, now)
}

func pin(v *int, now time.Time) *projection {
	if v == nil {
		return nil
	}
	return &projection{seconds: *v, observedAt: now}
}

// OnTick registers a callback receiving every tick's snapshot.
func (c *Coordinator) OnTick(fn func(Snapshot)) {
	c.mu.Lock()
	c.onTick = fn
	c.mu.Unlock()
}

// Remaining computes the current snapshot without firing expiry.
func (c *Coordinator) Remaining() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, _ := c.snapshotLocked(c.clock.Now())
	return snap
}

// Tick evaluates all countdowns once and fires the expiry callback if the
// effective deadline has passed and it has not fired for this round yet.
func (c *Coordinator) Tick() Snapshot {
	c.mu.Lock()
	snap, effective := c.snapshotLocked(c.clock.Now())

	var fire ExpiryFunc
	gen := c.generation
	if c.armed && !c.fired && effective != nil && *effective <= 0 {
		c.fired = true
		fire = c.onExpire
	}
	onTick := c.onTick
	c.mu.Unlock()

	if onTick != nil {
		onTick(snap)
	}

	if fire != nil {
		c.log.Info().Msg("Effective deadline reached")
		if err := fire(); err != nil {
			c.log.Warn().Err(err).Msg("Expiry handler failed, retrying next tick")
			c.mu.Lock()
			if c.generation == gen {
				c.fired = false
			}
			c.mu.Unlock()
		}
	}
	return snap
}

// Run ticks every interval until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// snapshotLocked returns the display snapshot and the raw (possibly negative)
// effective remaining value. Caller holds c.mu.
func (c *Coordinator) snapshotLocked(now time.Time) (Snapshot, *int) {
	var snap Snapshot
	var effective *int

	consider := func(raw int) *int {
		if effective == nil || raw < *effective {
			v := raw
			effective = &v
		}
		return floorZero(raw)
	}

	if c.armed {
		raw := int(math.Ceil((c.roundLen - now.Sub(c.roundStart)).Seconds()))
		snap.Round = consider(raw)
	}
	if c.overall != nil {
		snap.Overall = consider(c.overall.at(now))
	}
	if c.window != nil {
		snap.Window = consider(c.window.at(now))
	}

	if effective != nil {
		snap.Effective = floorZero(*effective)
		snap.Expired = *effective <= 0
	}
	return snap, effective
}

func floorZero(v int) *int {
	if v < 0 {
		v = 0
	}
	return &v
}
