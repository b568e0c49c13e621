package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/session"
)

// LiveSession is one connection's running controller.
type LiveSession struct {
	ConnID     string
	Controller *session.Controller
	// Close tears the connection down. It must be safe to call more than once.
	Close func()
}

type kickMessage struct {
	Key    string `json:"key"`
	ConnID string `json:"conn_id"`
}

// releaseScript deletes the ownership key only if connID still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// refreshScript extends the ownership TTL only if connID still owns it.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// SessionRegistry enforces one live controller per (student, package). A new
// connection evicts the previous one, on this instance directly and on other
// gateway instances through Redis pub/sub. A nil Redis client keeps the
// registry local.
type SessionRegistry struct {
	rdb redis.UniversalClient
	ttl time.Duration
	log zerolog.Logger

	mu   sync.Mutex
	live map[string]*LiveSession
}

// NewSessionRegistry creates a registry whose ownership keys expire after ttl
// unless refreshed.
func NewSessionRegistry(rdb redis.UniversalClient, ttl time.Duration, log zerolog.Logger) *SessionRegistry {
	return &SessionRegistry{
		rdb:  rdb,
		ttl:  ttl,
		log:  log.With().Str("component", "session_registry").Logger(),
		live: make(map[string]*LiveSession),
	}
}

// Claim registers ls as the owner of (studentID, packageID), closing whatever
// held it before.
func (r *SessionRegistry) Claim(ctx context.Context, studentID, packageID string, ls *LiveSession) error {
	key := config.CacheKey.ActiveSessionKey(studentID, packageID)

	r.mu.Lock()
	prev := r.live[key]
	r.live[key] = ls
	r.mu.Unlock()

	if prev != nil && prev.ConnID != ls.ConnID {
		r.log.Info().
			Str("student_id", studentID).
			Str("package_id", packageID).
			Str("old_conn", prev.ConnID).
			Str("new_conn", ls.ConnID).
			Msg("Session taken over by a new connection")
		prev.Close()
	}

	if r.rdb == nil {
		return nil
	}
	if err := r.rdb.Set(ctx, key, ls.ConnID, r.ttl).Err(); err != nil {
		return fmt.Errorf("store session owner: %w", err)
	}
	msg, _ := json.Marshal(kickMessage{Key: key, ConnID: ls.ConnID})
	if err := r.rdb.Publish(ctx, config.SessionKickChannel, msg).Err(); err != nil {
		return fmt.Errorf("announce session owner: %w", err)
	}
	return nil
}

// Refresh extends connID's ownership. It reports false when another
// connection has taken over.
func (r *SessionRegistry) Refresh(ctx context.Context, studentID, packageID, connID string) (bool, error) {
	if r.rdb == nil {
		return r.owns(config.CacheKey.ActiveSessionKey(studentID, packageID), connID), nil
	}
	key := config.CacheKey.ActiveSessionKey(studentID, packageID)
	n, err := refreshScript.Run(ctx, r.rdb, []string{key}, connID, r.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("refresh session owner: %w", err)
	}
	return n == 1, nil
}

// Release drops connID's registration if it still owns the slot.
func (r *SessionRegistry) Release(ctx context.Context, studentID, packageID, connID string) {
	key := config.CacheKey.ActiveSessionKey(studentID, packageID)

	r.mu.Lock()
	if cur := r.live[key]; cur != nil && cur.ConnID == connID {
		delete(r.live, key)
	}
	r.mu.Unlock()

	if r.rdb == nil {
		return
	}
	if err := releaseScript.Run(ctx, r.rdb, []string{key}, connID).Err(); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("Failed to release session owner")
	}
}

// Lookup returns the controller live on this instance for (studentID, packageID).
func (r *SessionRegistry) Lookup(studentID, packageID string) (*session.Controller, bool) {
	key := config.CacheKey.ActiveSessionKey(studentID, packageID)
	r.mu.Lock()
	defer r.mu.Unlock()
	ls, ok := r.live[key]
	if !ok || ls.Controller == nil {
		return nil, false
	}
	return ls.Controller, true
}

// Len reports how many sessions are live on this instance.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Listen evicts local sessions taken over on other instances until ctx is
// cancelled. Call in a goroutine.
func (r *SessionRegistry) Listen(ctx context.Context) {
	if r.rdb == nil {
		return
	}
	sub := r.rdb.Subscribe(ctx, config.SessionKickChannel)
	defer sub.Close()

	r.log.Info().Msg("Listening for session takeovers")
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var km kickMessage
			if err := json.Unmarshal([]byte(msg.Payload), &km); err != nil {
				r.log.Warn().Err(err).Msg("Discarding malformed takeover message")
				continue
			}
			r.evict(km.Key, km.ConnID)
		}
	}
}

// evict closes the local session under key unless it is owned by connID.
func (r *SessionRegistry) evict(key, connID string) {
	r.mu.Lock()
	cur := r.live[key]
	if cur == nil || cur.ConnID == connID {
		r.mu.Unlock()
		return
	}
	delete(r.live, key)
	r.mu.Unlock()

	r.log.Info().Str("key", key).Str("conn_id", cur.ConnID).Msg("Session taken over on another instance")
	cur.Close()
}

// CloseAll tears down every local session. Used on shutdown.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	all := make([]*LiveSession, 0, len(r.live))
	for _, ls := range r.live {
		all = append(all, ls)
	}
	r.live = make(map[string]*LiveSession)
	r.mu.Unlock()

	for _, ls := range all {
		ls.Close()
	}
}

func (r *SessionRegistry) owns(key, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.live[key]
	return cur != nil && cur.ConnID == connID
}
