package answerstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// RedisStore keeps each round's answers as one JSON string value under
// answers:{attemptId}:{roundId}, expiring after ttl.
type RedisStore struct {
	rdb redis.Cmdable
	ttl time.Duration
	log zerolog.Logger
}

// NewRedisStore creates a RedisStore. A zero ttl keeps keys until cleared.
func NewRedisStore(rdb redis.Cmdable, ttl time.Duration, log zerolog.Logger) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		ttl: ttl,
		log: log.With().Str("component", "answer_store").Logger(),
	}
}

func (s *RedisStore) Save(ctx context.Context, attemptID, roundID string, answers model.AnswerMap) {
	key := config.CacheKey.AnswersKey(attemptID, roundID)

	raw, err := json.Marshal(answers)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Marshal answers failed")
		return
	}
	if err := s.rdb.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Save answers failed")
	}
}

func (s *RedisStore) Load(ctx context.Context, attemptID, roundID string) model.AnswerMap {
	key := config.CacheKey.AnswersKey(attemptID, roundID)

	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Error().Err(err).Str("key", key).Msg("Load answers failed")
		}
		return model.AnswerMap{}
	}

	answers := model.AnswerMap{}
	if err := json.Unmarshal(raw, &answers); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Discarding corrupt answers payload")
		return model.AnswerMap{}
	}
	return answers
}

func (s *RedisStore) Clear(ctx context.Context, attemptID, roundID string) {
	key := config.CacheKey.AnswersKey(attemptID, roundID)
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Clear answers failed")
	}
}
