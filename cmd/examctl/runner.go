package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/round"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stemsi/exstem-session/internal/speech"
)

const helpText = `Commands:
  begin            start or resume the assessment
  start            start the current round
  next | prev      move between questions
  go N             jump to question N
  a TEXT           answer the current question
  o LETTER         pick an option on a multiple-choice question
  dictate          voice input (not available in the terminal)
  speak            read the question aloud (not available in the terminal)
  submit           submit the round
  continue         go on to the next round
  status | time    show the session and remaining time
  help             show this text
  quit             leave; answers stay saved for a later resume
`

// runner drives one session from line commands.
type runner struct {
	ctrl      *session.Controller
	renderer  *round.Renderer
	dictation *speech.Dictation
	playback  *speech.Playback
	in        io.Reader
	prompt    bool
	log       zerolog.Logger

	mu        sync.Mutex
	out       io.Writer
	lastState session.State
	lastErr   string
	roundKey  string
}

func newRunner(ctrl *session.Controller, in io.Reader, out io.Writer, prompt bool, log zerolog.Logger) *runner {
	r := &runner{
		ctrl:     ctrl,
		renderer: round.NewRenderer(ctrl),
		// The terminal has neither a microphone bridge nor a speaker bridge.
		dictation: speech.NewDictation(nil, speech.Callbacks{}, log),
		playback:  speech.NewPlayback(nil),
		in:        in,
		out:       out,
		prompt:    prompt,
		log:       log,
	}
	ctrl.AttachDictation(r.dictation)
	return r
}

func (r *runner) run(ctx context.Context) error {
	unsubscribe := r.ctrl.Subscribe(r.observe)
	defer unsubscribe()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	r.observe(r.ctrl.Snapshot())
	r.printf("Type \"help\" for commands.\n")
	for {
		r.showPrompt()
		select {
		case <-ctx.Done():
			r.printf("\nInterrupted; answers are saved.\n")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := r.exec(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// exec runs one command line. It reports whether the user asked to leave.
func (r *runner) exec(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch strings.ToLower(cmd) {
	case "help", "?":
		r.printf("%s", helpText)
	case "begin":
		err = r.ctrl.Begin(ctx)
	case "start":
		err = r.ctrl.StartRound(ctx, "")
		if err == nil {
			r.printQuestion()
		}
	case "next", "n":
		if !r.renderer.Next() {
			r.printf("Already at the last question.\n")
		}
		r.printQuestion()
	case "prev", "p":
		if !r.renderer.Prev() {
			r.printf("Already at the first question.\n")
		}
		r.printQuestion()
	case "go", "g":
		n, convErr := strconv.Atoi(arg)
		if convErr != nil {
			r.printf("Usage: go N\n")
			return false
		}
		if err = r.renderer.GoTo(n - 1); err == nil {
			r.printQuestion()
		}
	case "a", "answer":
		q, ok := r.renderer.Current()
		if !ok {
			err = round.ErrNoQuestion
			break
		}
		if err = r.ctrl.SetAnswer(q.QuestionID, arg); err == nil {
			r.printf("Saved.\n")
		}
	case "o", "option":
		if err = r.renderer.SelectOption(round.LetterIndex(arg)); err == nil {
			r.printf("Selected %s.\n", strings.ToUpper(arg))
		}
	case "dictate":
		err = r.dictation.Start()
	case "speak":
		q, ok := r.renderer.Current()
		if !ok {
			err = round.ErrNoQuestion
			break
		}
		_, err = r.playback.Speak(ctx, q.QuestionID, q.QuestionText)
	case "submit":
		err = r.ctrl.SubmitRound(context.WithoutCancel(ctx))
	case "continue", "c":
		err = r.ctrl.ContinueToNextRound(ctx)
	case "status", "time", "s":
		r.printStatus(r.ctrl.Snapshot())
	case "quit", "exit", "q":
		return true
	default:
		r.printf("Unknown command %q; type \"help\".\n", cmd)
	}

	if err != nil {
		r.printf("Error: %s\n", describe(err))
	}
	return false
}

// observe reports state changes, including the ones the timers cause on their
// own.
func (r *runner) observe(snap session.Snapshot) {
	r.syncRound(snap)

	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.Error != "" && snap.Error != r.lastErr {
		fmt.Fprintf(r.out, "! %s\n", snap.Error)
	}
	r.lastErr = snap.Error

	if snap.State == r.lastState {
		return
	}
	r.lastState = snap.State

	switch snap.State {
	case session.StateInstructions:
		fmt.Fprintf(r.out, "Assessment %s. Type \"begin\" when ready.\n", snap.PackageID)
	case session.StateRoundInstructions:
		if snap.Round != nil {
			fmt.Fprintf(r.out, "Round %d of %d: %s (%d min). Type \"start\" to begin.\n",
				snap.Round.RoundNumber, snap.TotalRounds, roundName(snap.Round), snap.Round.DurationMinutes)
		}
	case session.StateExam:
		fmt.Fprintf(r.out, "Round started with %d questions.\n", len(snap.Questions))
	case session.StateRoundComplete:
		fmt.Fprintf(r.out, "Round submitted.%s Type \"continue\" for the next round.\n", scoreText(snap.LastScore))
	case session.StateAssessmentComplete:
		fmt.Fprintf(r.out, "Assessment complete.%s\n", scoreText(snap.LastScore))
	}
}

// syncRound reloads the renderer when a different round enters the exam state.
func (r *runner) syncRound(snap session.Snapshot) {
	key := ""
	if snap.State == session.StateExam && snap.Round != nil {
		key = snap.AttemptID + "/" + snap.Round.RoundID
	}

	r.mu.Lock()
	if key == r.roundKey {
		r.mu.Unlock()
		return
	}
	r.roundKey = key
	r.mu.Unlock()

	if key == "" {
		r.renderer.Load(nil)
		return
	}
	r.renderer.Load(snap.Questions)
}

func (r *runner) printQuestion() {
	q, ok := r.renderer.Current()
	if !ok {
		return
	}
	view := r.renderer.View()
	answer := r.ctrl.Answers()[q.QuestionID]

	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "\nQuestion %d/%d [%s] %d%% answered\n", view.Index+1, view.Total, q.QuestionType, view.Progress)
	fmt.Fprintf(r.out, "%s\n", q.QuestionText)
	for i, opt := range q.Options {
		mark := " "
		if view.Selected == round.OptionLetter(i) {
			mark = "*"
		}
		fmt.Fprintf(r.out, " %s %s. %s\n", mark, round.OptionLetter(i), round.DisplayOption(opt))
	}
	if len(q.Options) == 0 && answer != "" {
		fmt.Fprintf(r.out, "Your answer: %s\n", answer)
	}
}

func (r *runner) printStatus(snap session.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintf(r.out, "State: %s\n", snap.State)
	if snap.AttemptID != "" {
		fmt.Fprintf(r.out, "Attempt: %s (round %d of %d)\n", snap.AttemptID, snap.CurrentRound, snap.TotalRounds)
	}
	if snap.Round != nil {
		fmt.Fprintf(r.out, "Round: %s\n", roundName(snap.Round))
	}
	if t := snap.Timers.Round; t != nil {
		fmt.Fprintf(r.out, "Round time left: %s\n", clockText(*t))
	}
	if t := snap.Timers.Overall; t != nil {
		fmt.Fprintf(r.out, "Assessment time left: %s\n", clockText(*t))
	}
	if t := snap.Timers.Window; t != nil {
		fmt.Fprintf(r.out, "Window closes in: %s\n", clockText(*t))
	}
	if snap.Submitting {
		fmt.Fprintln(r.out, "Submitting...")
	}
	if e := snap.Evaluation; e != nil {
		switch {
		case e.Done:
			fmt.Fprintf(r.out, "Evaluation: %s\n", e.Status)
		case e.GaveUp:
			fmt.Fprintln(r.out, "Evaluation: still running, check back later")
		default:
			fmt.Fprintln(r.out, "Evaluation: in progress")
		}
	}
}

func (r *runner) showPrompt() {
	if !r.prompt {
		return
	}
	r.printf("> ")
}

func (r *runner) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func describe(err error) string {
	switch {
	case errors.Is(err, speech.ErrUnsupported):
		return "voice features are not available in the terminal; type your answer with \"a\""
	case errors.Is(err, round.ErrNotMCQ):
		return "this question takes a typed answer; use \"a TEXT\""
	case errors.Is(err, round.ErrBadOption):
		return "no such option"
	case errors.Is(err, session.ErrInvalidTransition):
		return "not possible right now; type \"status\" to see where you are"
	}
	return err.Error()
}

func roundName(info *session.RoundInfo) string {
	if info.RoundName != "" {
		return info.RoundName
	}
	return "Round " + strconv.Itoa(info.RoundNumber)
}

func scoreText(score *float64) string {
	if score == nil {
		return ""
	}
	return fmt.Sprintf(" Score: %.1f.", *score)
}

func clockText(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
