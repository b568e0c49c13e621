// Package round holds the view model for one round's question set.
package round

import (
	"errors"
	"fmt"
	"sync"

	"github.com/stemsi/exstem-session/internal/model"
)

var (
	ErrNoQuestion = errors.New("round has no current question")
	ErrOutOfRange = errors.New("question index out of range")
	ErrNotMCQ     = errors.New("current question is not multiple choice")
	ErrBadOption  = errors.New("option index out of range")
)

// Answerer is the controller surface the renderer writes through.
type Answerer interface {
	SetAnswer(questionID, value string) error
	Answers() model.AnswerMap
}

// PaletteStatus is a question's state in the navigation palette.
type PaletteStatus string

const (
	StatusUnvisited PaletteStatus = "unvisited"
	StatusVisited   PaletteStatus = "visited"
	StatusAnswered  PaletteStatus = "answered"
)

// PaletteEntry is one cell of the question palette.
type PaletteEntry struct {
	QuestionID string        `json:"question_id"`
	Number     int           `json:"number"`
	Status     PaletteStatus `json:"status"`
}

// View is a serializable snapshot of the renderer.
type View struct {
	Index    int            `json:"index"`
	Total    int            `json:"total"`
	Progress int            `json:"progress"`
	Selected string         `json:"selected,omitempty"`
	Palette  []PaletteEntry `json:"palette"`
}

// Renderer tracks the current question and visit state for one round. It owns
// no answers; those live in the Answerer.
type Renderer struct {
	answers Answerer

	mu        sync.Mutex
	questions []model.Question
	index     int
	visited   map[string]bool
	listeners []func(model.Question)
}

// NewRenderer creates a renderer with no questions loaded.
func NewRenderer(answers Answerer) *Renderer {
	return &Renderer{answers: answers, visited: map[string]bool{}}
}

// Load replaces the question set and moves to the first question.
func (r *Renderer) Load(questions []model.Question) {
	r.mu.Lock()
	r.questions = append([]model.Question(nil), questions...)
	r.index = 0
	r.visited = map[string]bool{}
	q, ok := r.currentLocked()
	if ok {
		r.visited[q.QuestionID] = true
	}
	listeners := append([]func(model.Question){}, r.listeners...)
	r.mu.Unlock()

	if ok {
		notify(listeners, q)
	}
}

// OnNavigate registers fn to run whenever the current question changes.
func (r *Renderer) OnNavigate(fn func(model.Question)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Current returns the question under the cursor.
func (r *Renderer) Current() (model.Question, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentLocked()
}

func (r *Renderer) currentLocked() (model.Question, bool) {
	if r.index < 0 || r.index >= len(r.questions) {
		return model.Question{}, false
	}
	return r.questions[r.index], true
}

func (r *Renderer) Index() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index
}

func (r *Renderer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.questions)
}

// Next moves forward one question. It reports false at the last question.
func (r *Renderer) Next() bool {
	return r.GoTo(r.Index()+1) == nil
}

// Prev moves back one question. It reports false at the first question.
func (r *Renderer) Prev() bool {
	return r.GoTo(r.Index()-1) == nil
}

// GoTo moves to question i.
func (r *Renderer) GoTo(i int) error {
	r.mu.Lock()
	if i < 0 || i >= len(r.questions) {
		r.mu.Unlock()
		return fmt.Errorf("go to %d of %d: %w", i, len(r.questions), ErrOutOfRange)
	}
	changed := i != r.index
	r.index = i
	q := r.questions[i]
	r.visited[q.QuestionID] = true
	listeners := append([]func(model.Question){}, r.listeners...)
	r.mu.Unlock()

	if changed {
		notify(listeners, q)
	}
	return nil
}

// SelectOption records the i-th option of the current MCQ question as its
// letter code.
func (r *Renderer) SelectOption(i int) error {
	q, ok := r.Current()
	if !ok {
		return ErrNoQuestion
	}
	if q.QuestionType != model.QuestionTypeMCQ {
		return ErrNotMCQ
	}
	if i < 0 || i >= len(q.Options) || OptionLetter(i) == "" {
		return fmt.Errorf("select option %d of %d: %w", i, len(q.Options), ErrBadOption)
	}
	return r.answers.SetAnswer(q.QuestionID, OptionLetter(i))
}

// Selected returns the option index recorded for the current question, or -1.
func (r *Renderer) Selected() int {
	q, ok := r.Current()
	if !ok || q.QuestionType != model.QuestionTypeMCQ {
		return -1
	}
	idx := LetterIndex(r.answers.Answers()[q.QuestionID])
	if idx >= len(q.Options) {
		return -1
	}
	return idx
}

// Palette returns the per-question navigation status.
func (r *Renderer) Palette() []PaletteEntry {
	answers := r.answers.Answers()

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PaletteEntry, 0, len(r.questions))
	for i, q := range r.questions {
		st := StatusUnvisited
		switch {
		case answers[q.QuestionID] != "":
			st = StatusAnswered
		case r.visited[q.QuestionID]:
			st = StatusVisited
		}
		out = append(out, PaletteEntry{QuestionID: q.QuestionID, Number: i + 1, Status: st})
	}
	return out
}

// Progress returns the share of questions answered, as a percentage.
func (r *Renderer) Progress() int {
	answers := r.answers.Answers()

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, q := range r.questions {
		if answers[q.QuestionID] != "" {
			n++
		}
	}
	return Percent(n, len(r.questions))
}

// View snapshots the renderer for a client.
func (r *Renderer) View() View {
	v := View{
		Index:    r.Index(),
		Total:    r.Len(),
		Progress: r.Progress(),
		Palette:  r.Palette(),
	}
	if i := r.Selected(); i >= 0 {
		v.Selected = OptionLetter(i)
	}
	return v
}

func notify(listeners []func(model.Question), q model.Question) {
	for _, fn := range listeners {
		fn(q)
	}
}
