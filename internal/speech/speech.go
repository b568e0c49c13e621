// Package speech wraps the host's speech-to-text and text-to-speech primitives.
//
// Dictation and playback are independent capabilities. Either may be missing on
// a given device; that is detected up front and reported, never silently ignored.
package speech

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrUnsupported      = errors.New("speech capability is not available on this device")
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrNoSpeech         = errors.New("no speech detected")
	ErrDisabled         = errors.New("dictation is disabled for this session")
)

// Handler receives a recognition engine's callbacks.
type Handler interface {
	OnResult(text string, final bool)
	OnEnd()
	OnError(err error)
}

// Engine is a continuous speech recognizer. An engine may end a session on its
// own (silence or duration limits) by calling Handler.OnEnd.
type Engine interface {
	Start(h Handler) error
	Stop() error
}

// Synthesizer plays text aloud once.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
}

// AppendSegment appends a finalized dictation segment to an answer, separated
// by a single space.
func AppendSegment(existing, segment string) string {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return existing
	}
	if existing == "" {
		return segment
	}
	if strings.HasSuffix(existing, " ") {
		return existing + segment
	}
	return existing + " " + segment
}
