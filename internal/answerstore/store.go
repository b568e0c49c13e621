// Package answerstore persists in-progress round answers so a reload or
// reconnect does not lose work.
//
// Every backend swallows its own failures: a full disk, an unreachable Redis or a
// corrupt payload is logged and treated as "nothing stored", never surfaced to the
// exam flow.
package answerstore

import (
	"context"

	"github.com/stemsi/exstem-session/internal/model"
)

// Store is keyed by (attemptID, roundID). Load returns an empty, non-nil map
// when nothing usable is stored.
type Store interface {
	Save(ctx context.Context, attemptID, roundID string, answers model.AnswerMap)
	Load(ctx context.Context, attemptID, roundID string) model.AnswerMap
	Clear(ctx context.Context, attemptID, roundID string)
}
