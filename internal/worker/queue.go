package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stemsi/exstem-session/internal/model"
)

// ErrQueueEmpty is returned by Pop when nothing arrived within the timeout.
var ErrQueueEmpty = errors.New("queue empty")

// Queue is a FIFO of raw payloads.
type Queue interface {
	Push(ctx context.Context, items ...[]byte) error
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
}

// RedisQueue is a Queue on a Redis list (RPUSH / BLPOP).
type RedisQueue struct {
	rdb redis.Cmdable
	key string
}

// NewRedisQueue creates a queue on the list at key.
func NewRedisQueue(rdb redis.Cmdable, key string) *RedisQueue {
	return &RedisQueue{rdb: rdb, key: key}
}

func (q *RedisQueue) Push(ctx context.Context, items ...[]byte) error {
	if len(items) == 0 {
		return nil
	}
	values := make([]any, len(items))
	for i, it := range items {
		values[i] = it
	}
	return q.rdb.RPush(ctx, q.key, values...).Err()
}

// Pop blocks up to timeout, which Redis requires to be at least one second.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	result, err := q.rdb.BLPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, err
	}
	if len(result) < 2 {
		return nil, ErrQueueEmpty
	}
	return []byte(result[1]), nil
}

// QueueSink journals session events by pushing them onto a Queue for the
// JournalWorker.
type QueueSink struct {
	queue Queue
}

// NewQueueSink creates a sink on q.
func NewQueueSink(q Queue) *QueueSink {
	return &QueueSink{queue: q}
}

// Record enqueues ev.
func (s *QueueSink) Record(ctx context.Context, ev model.SessionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode session event: %w", err)
	}
	if err := s.queue.Push(ctx, data); err != nil {
		return fmt.Errorf("enqueue session event: %w", err)
	}
	return nil
}
