package answerstore

import (
	"context"
	"sync"

	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// MemoryStore keeps answers in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]model.AnswerMap
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]model.AnswerMap)}
}

func (s *MemoryStore) Save(_ context.Context, attemptID, roundID string, answers model.AnswerMap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[config.CacheKey.AnswersKey(attemptID, roundID)] = answers.Clone()
}

func (s *MemoryStore) Load(_ context.Context, attemptID, roundID string) model.AnswerMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[config.CacheKey.AnswersKey(attemptID, roundID)].Clone()
}

func (s *MemoryStore) Clear(_ context.Context, attemptID, roundID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, config.CacheKey.AnswersKey(attemptID, roundID))
}

// Len reports how many keys are stored.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
