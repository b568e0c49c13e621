package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-session/internal/speech"
)

// Sender writes one server event to the client.
type Sender func(v interface{}) error

// Relay drives the browser's speech primitives over the socket. It is both
// the dictation engine and the synthesizer of a remote session: commands go
// out as events and the browser's callbacks come back as actions.
type Relay struct {
	send Sender

	mu      sync.Mutex
	handler speech.Handler
	pending map[string]chan error
}

// NewRelay creates a relay writing through send.
func NewRelay(send Sender) *Relay {
	return &Relay{send: send, pending: map[string]chan error{}}
}

// Start asks the browser to start recognition and routes its results to h.
func (r *Relay) Start(h speech.Handler) error {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()

	if err := r.send(DictationResponse{Event: EventDictation, Command: DictationStart}); err != nil {
		r.mu.Lock()
		r.handler = nil
		r.mu.Unlock()
		return fmt.Errorf("send dictation start: %w", err)
	}
	return nil
}

// Stop asks the browser to stop recognition. Results arriving afterwards are
// dropped.
func (r *Relay) Stop() error {
	r.mu.Lock()
	r.handler = nil
	r.mu.Unlock()

	if err := r.send(DictationResponse{Event: EventDictation, Command: DictationStop}); err != nil {
		return fmt.Errorf("send dictation stop: %w", err)
	}
	return nil
}

// Result forwards a transcript from the browser.
func (r *Relay) Result(text string, final bool) {
	if h := r.current(); h != nil {
		h.OnResult(text, final)
	}
}

// End forwards the browser engine's end-of-session event.
func (r *Relay) End() {
	if h := r.current(); h != nil {
		h.OnEnd()
	}
}

// Error forwards a browser recognition error code.
func (r *Relay) Error(code string) {
	if h := r.current(); h != nil {
		h.OnError(RecognitionError(code))
	}
}

func (r *Relay) current() speech.Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handler
}

// Speak sends text to the browser and waits for its playback_done ack.
func (r *Relay) Speak(ctx context.Context, text string) error {
	id := uuid.NewString()
	done := make(chan error, 1)

	r.mu.Lock()
	r.pending[id] = done
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
	}()

	if err := r.send(SpeakResponse{Event: EventSpeak, ID: id, Text: text}); err != nil {
		return fmt.Errorf("send speak: %w", err)
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("wait for playback: %w", ctx.Err())
	}
}

// PlaybackDone completes the Speak call waiting on id. Unknown IDs are ignored.
func (r *Relay) PlaybackDone(id, errMsg string) {
	r.mu.Lock()
	done, ok := r.pending[id]
	r.mu.Unlock()
	if !ok {
		return
	}

	var err error
	if errMsg != "" {
		err = fmt.Errorf("playback: %s", errMsg)
	}
	select {
	case done <- err:
	default:
	}
}

// RecognitionError maps a Web Speech API error code to a speech error.
func RecognitionError(code string) error {
	switch code {
	case "not-allowed", "service-not-allowed":
		return speech.ErrPermissionDenied
	case "no-speech":
		return speech.ErrNoSpeech
	case "":
		return errors.New("speech recognition failed")
	default:
		return fmt.Errorf("speech recognition: %s", code)
	}
}
