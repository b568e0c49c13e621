package speech

import (
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const (
	// DefaultMaxRestarts bounds consecutive failed restarts after the engine
	// ends a session on its own.
	DefaultMaxRestarts = 3

	msgUnsupported = "Voice input is not supported on this device. Please type your answer."
	msgDenied      = "Microphone access was denied. Voice input is disabled for this session."
)

// Callbacks receive dictation output. Any of them may be nil.
type Callbacks struct {
	OnInterim func(text string)
	OnFinal   func(text string)
	OnError   func(err error)
}

// Status describes the dictation control for display.
type Status struct {
	Available bool   `json:"available"`
	Listening bool   `json:"listening"`
	Disabled  bool   `json:"disabled"`
	Interim   string `json:"interim,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Dictation supervises a continuous recognizer. While the caller considers
// itself recording, engine-initiated session ends are restarted transparently.
type Dictation struct {
	engine      Engine
	cb          Callbacks
	maxRestarts int
	log         zerolog.Logger

	mu        sync.Mutex
	listening bool
	disabled  bool
	interim   string
	message   string
}

// NewDictation creates a supervisor over engine. A nil engine means the host
// has no recognizer; Start then reports ErrUnsupported.
func NewDictation(engine Engine, cb Callbacks, log zerolog.Logger) *Dictation {
	d := &Dictation{
		engine:      engine,
		cb:          cb,
		maxRestarts: DefaultMaxRestarts,
		log:         log.With().Str("component", "dictation").Logger(),
	}
	if engine == nil {
		d.message = msgUnsupported
	}
	return d
}

// Start begins a logical recording.
func (d *Dictation) Start() error {
	if d.engine == nil {
		return ErrUnsupported
	}

	d.mu.Lock()
	if d.disabled {
		d.mu.Unlock()
		return ErrDisabled
	}
	if d.listening {
		d.mu.Unlock()
		return nil
	}
	d.listening = true
	d.interim = ""
	d.mu.Unlock()

	if err := d.engine.Start(handler{d}); err != nil {
		d.fail(err)
		return err
	}
	d.log.Debug().Msg("Dictation started")
	return nil
}

// Stop ends the logical recording. Pending interim text is committed as final.
func (d *Dictation) Stop() error {
	d.mu.Lock()
	if !d.listening {
		d.mu.Unlock()
		return nil
	}
	d.listening = false
	pending := strings.TrimSpace(d.interim)
	d.interim = ""
	d.mu.Unlock()

	err := d.engine.Stop()
	if pending != "" && d.cb.OnFinal != nil {
		d.cb.OnFinal(pending)
	}
	d.log.Debug().Msg("Dictation stopped")
	return err
}

// Listening reports whether a logical recording is in progress.
func (d *Dictation) Listening() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listening
}

// Interim returns the not-yet-final text of the current segment.
func (d *Dictation) Interim() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.interim
}

// Disabled reports whether dictation was turned off for the session.
func (d *Dictation) Disabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disabled
}

// Status returns the control's display state.
func (d *Dictation) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		Available: d.engine != nil,
		Listening: d.listening,
		Disabled:  d.disabled,
		Interim:   d.interim,
		Message:   d.message,
	}
}

func (d *Dictation) stillListening() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listening
}

// fail forces the control back to stopped after an unrecoverable error.
func (d *Dictation) fail(err error) {
	d.mu.Lock()
	d.listening = false
	d.interim = ""
	if errors.Is(err, ErrPermissionDenied) {
		d.disabled = true
		d.message = msgDenied
	}
	d.mu.Unlock()

	d.log.Warn().Err(err).Msg("Dictation stopped on error")
	if d.cb.OnError != nil {
		d.cb.OnError(err)
	}
}

// restart re-opens the engine after it ended a session on its own.
func (d *Dictation) restart() {
	for attempt := 1; ; attempt++ {
		if !d.stillListening() {
			return
		}

		err := d.engine.Start(handler{d})
		if err == nil {
			// Stop may have raced the restart; do not leave the engine running.
			if !d.stillListening() {
				_ = d.engine.Stop()
				return
			}
			d.log.Debug().Int("attempt", attempt).Msg("Dictation engine restarted")
			return
		}

		if errors.Is(err, ErrPermissionDenied) || attempt >= d.maxRestarts {
			d.fail(err)
			return
		}
		d.log.Debug().Err(err).Int("attempt", attempt).Msg("Dictation restart failed, retrying")
	}
}

// handler adapts engine callbacks onto the supervisor.
type handler struct{ d *Dictation }

func (h handler) OnResult(text string, final bool) {
	d := h.d
	d.mu.Lock()
	if !d.listening {
		d.mu.Unlock()
		return
	}
	if final {
		d.interim = ""
	} else {
		d.interim = text
	}
	d.mu.Unlock()

	if final {
		if t := strings.TrimSpace(text); t != "" && d.cb.OnFinal != nil {
			d.cb.OnFinal(t)
		}
		return
	}
	if d.cb.OnInterim != nil {
		d.cb.OnInterim(text)
	}
}

func (h handler) OnEnd() {
	h.d.restart()
}

func (h handler) OnError(err error) {
	d := h.d
	switch {
	case errors.Is(err, ErrNoSpeech):
		// Silence is not an error.
		d.log.Debug().Msg("No speech detected")
	case errors.Is(err, ErrPermissionDenied):
		_ = d.engine.Stop()
		d.fail(err)
	default:
		// The engine follows errors with an end event; the restart loop decides.
		d.log.Warn().Err(err).Msg("Dictation engine error")
		if d.cb.OnError != nil {
			d.cb.OnError(err)
		}
	}
}
