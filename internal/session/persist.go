package session

import (
	"sync"
	"time"

	"github.com/stemsi/exstem-session/internal/model"
)

// pendingSave is one answer map bound to the round it belongs to.
type pendingSave struct {
	attemptID string
	roundID   string
	answers   model.AnswerMap
}

// debouncer coalesces answer writes. Saves run one at a time in the order
// their values were captured, so the last write always lands last.
type debouncer struct {
	delay time.Duration
	save  func(pendingSave)

	mu      sync.Mutex
	timer   *time.Timer
	pending *pendingSave

	// saving is held for the duration of a save.
	saving sync.Mutex
}

func newDebouncer(delay time.Duration, save func(pendingSave)) *debouncer {
	return &debouncer{delay: delay, save: save}
}

// Schedule replaces the pending value and restarts the delay.
func (d *debouncer) Schedule(p pendingSave) {
	d.mu.Lock()
	d.pending = &p
	if d.delay <= 0 {
		d.runLocked()
		return
	}
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.fire)
	} else {
		d.timer.Reset(d.delay)
	}
	d.mu.Unlock()
}

func (d *debouncer) fire() {
	d.mu.Lock()
	d.timer = nil
	d.runLocked()
}

// runLocked saves the pending value. It is entered with d.mu held and returns
// with it released.
func (d *debouncer) runLocked() {
	p := d.pending
	d.pending = nil
	if p == nil {
		d.mu.Unlock()
		return
	}
	d.saving.Lock()
	d.mu.Unlock()
	defer d.saving.Unlock()
	d.save(*p)
}

func (d *debouncer) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Cancel drops any pending value and waits out a save already running. After
// Cancel returns nothing captured earlier can still be written.
func (d *debouncer) Cancel() {
	d.mu.Lock()
	d.stopLocked()
	d.pending = nil
	d.mu.Unlock()

	d.saving.Lock()
	d.saving.Unlock()
}

// Flush writes any pending value now.
func (d *debouncer) Flush() {
	d.mu.Lock()
	d.stopLocked()
	d.runLocked()
}
