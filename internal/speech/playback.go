package speech

import (
	"context"
	"sync"
)

// Playback enforces the listen-once rule: a question's prompt plays at most
// once per visit. The played flag is reset explicitly on navigation.
type Playback struct {
	synth Synthesizer

	mu       sync.Mutex
	question string
	played   bool
}

// NewPlayback creates a Playback. A nil synth means the host cannot speak.
func NewPlayback(synth Synthesizer) *Playback {
	return &Playback{synth: synth}
}

// Available reports whether a synthesizer is present.
func (p *Playback) Available() bool {
	return p.synth != nil
}

// SetQuestion records navigation to questionID, resetting the played flag when
// the question changes.
func (p *Playback) SetQuestion(questionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if questionID != p.question {
		p.question = questionID
		p.played = false
	}
}

// Played reports whether questionID has been played during the current visit.
func (p *Playback) Played(questionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.question == questionID && p.played
}

// Speak plays text for questionID unless it already played this visit. It
// reports whether audio was requested. A failed playback does not count.
func (p *Playback) Speak(ctx context.Context, questionID, text string) (bool, error) {
	if p.synth == nil {
		return false, ErrUnsupported
	}

	p.mu.Lock()
	if questionID != p.question {
		p.question = questionID
		p.played = false
	}
	if p.played {
		p.mu.Unlock()
		return false, nil
	}
	p.played = true
	p.mu.Unlock()

	if err := p.synth.Speak(ctx, text); err != nil {
		p.mu.Lock()
		if p.question == questionID {
			p.played = false
		}
		p.mu.Unlock()
		return true, err
	}
	return true, nil
}
