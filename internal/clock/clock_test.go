package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSkewedAppliesServerOffset(t *testing.T) {
	local := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	base := NewManual(local)
	c := NewSkewed(base)

	c.Observe(local.Add(90*time.Second), local)
	assert.Equal(t, 90*time.Second, c.Offset())
	assert.Equal(t, local.Add(90*time.Second), c.Now())

	base.Advance(10 * time.Second)
	assert.Equal(t, local.Add(100*time.Second), c.Now())
}

func TestSkewedIgnoresSubSecondNoise(t *testing.T) {
	local := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	c := NewSkewed(NewManual(local))

	c.Observe(local.Add(5*time.Second), local)
	c.Observe(local.Add(400*time.Millisecond), local)
	assert.Zero(t, c.Offset())

	c.Observe(time.Time{}, local)
	assert.Zero(t, c.Offset())
}

func TestManualAdvance(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	m := NewManual(start)
	m.Advance(time.Minute)
	assert.Equal(t, start.Add(time.Minute), m.Now())
	m.Set(start)
	assert.Equal(t, start, m.Now())
}
