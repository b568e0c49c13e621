package session

import (
	"context"
	"time"

	"github.com/stemsi/exstem-session/internal/model"
)

// pollEvaluation checks the attempt status until evaluation reaches a terminal
// state or the poll budget runs out.
func (c *Controller) pollEvaluation(ctx context.Context, attemptID string) {
	ticker := time.NewTicker(c.opts.EvalPollInterval)
	defer ticker.Stop()

	for i := 1; i <= c.opts.EvalPollMaxAttempts; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st, err := c.api.GetAttemptStatus(ctx, c.packageID, attemptID)

		c.mu.Lock()
		c.eval.Polls = i
		if err == nil {
			c.eval.Status = st.Status
		}
		done := err == nil && st.Status.Terminal()
		if done {
			c.eval.Done = true
		}
		c.mu.Unlock()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn().Err(err).Int("poll", i).Msg("Evaluation status poll failed")
			continue
		}

		if done {
			c.log.Info().Str("status", string(st.Status)).Int("polls", i).Msg("Evaluation finished")
			c.record(ctx, model.EventEvaluationFinished, "", map[string]any{"status": st.Status, "polls": i})
			c.notify()
			return
		}
		c.notify()
	}

	c.mu.Lock()
	c.eval.GaveUp = true
	c.mu.Unlock()

	c.log.Warn().Int("polls", c.opts.EvalPollMaxAttempts).Msg("Evaluation still pending, giving up polling")
	c.record(ctx, model.EventEvaluationPollGaveUp, "", nil)
	c.notify()
}
