package redis

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"sats-arena/internal/app"
)

// DefaultOpTimeout bounds every Redis call made from the tick loop.
const DefaultOpTimeout = 50 * time.Millisecond

// SessionStore is a Redis-aware implementation of app.SessionRegistry.
// Notes:
//   - Sessions live in a local map; only the scheduler goroutine mutates them.
//   - Redis holds a liveness marker per key (value = session ID) so that other
//     instances sharing the world refuse to start a second session in the same area.
//   - Claim and Release wait at most opTimeout on Redis. When Redis does not
//     answer in time the claim is granted locally only.
//   - A release that fails is kept pending and retried by Refresh; a later Claim
//     of the same key may overwrite that stale marker.
//   - Markers expire on their own if the process dies; Refresh extends them.
type SessionStore struct {
	client    *redis.Client
	ttl       time.Duration
	opTimeout time.Duration
	logger    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*app.Session
	pending  map[string]string // key -> session ID whose marker still needs deleting
}

func NewSessionStore(client *redis.Client, ttl time.Duration, logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		client:    client,
		ttl:       ttl,
		opTimeout: DefaultOpTimeout,
		logger:    logger,
		sessions:  make(map[string]*app.Session),
		pending:   make(map[string]string),
	}
}

// Claim reserves key locally and in Redis.
func (s *SessionStore) Claim(key string, session *app.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[key]; ok {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()
	ok, err := claimScript.Run(ctx, s.client, []string{s.key(key)},
		session.ID(), s.ttl.Milliseconds(), s.pending[key]).Bool()
	switch {
	case err != nil:
		s.logger.Warn("session marker not set, claiming locally", "key", key, "session", session.ID(), "err", err)
	case !ok:
		return false
	default:
		delete(s.pending, key)
	}
	s.sessions[key] = session
	return true
}

func (s *SessionStore) Get(key string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[key]
	return session, ok
}

// Release removes key if it still maps to sessionID.
func (s *SessionStore) Release(key, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[key]
	if !ok || session.ID() != sessionID {
		return
	}
	delete(s.sessions, key)

	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()
	if err := releaseScript.Run(ctx, s.client, []string{s.key(key)}, sessionID).Err(); err != nil {
		s.logger.Warn("session marker release deferred", "key", key, "session", sessionID, "err", err)
		s.pending[key] = sessionID
	}
}

func (s *SessionStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.sessions))
	for k := range s.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Pending returns the keys whose markers still wait for a release.
func (s *SessionStore) Pending() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.pending))
	for k := range s.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Refresh retries deferred releases and extends the markers of all local sessions.
func (s *SessionStore) Refresh(ctx context.Context) error {
	s.mu.RLock()
	live := make([]string, 0, len(s.sessions))
	for k := range s.sessions {
		live = append(live, s.key(k))
	}
	stale := make(map[string]string, len(s.pending))
	for k, id := range s.pending {
		stale[k] = id
	}
	s.mu.RUnlock()

	var errs []error
	for k, id := range stale {
		if err := releaseScript.Run(ctx, s.client, []string{s.key(k)}, id).Err(); err != nil {
			errs = append(errs, err)
			continue
		}
		s.mu.Lock()
		if s.pending[k] == id {
			delete(s.pending, k)
		}
		s.mu.Unlock()
	}

	if len(live) > 0 && s.ttl > 0 {
		pipe := s.client.Pipeline()
		for _, k := range live {
			pipe.Expire(ctx, k, s.ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *SessionStore) key(key string) string {
	return "arena:session:" + key
}

// claimScript sets the marker when it is free or still held by the stale
// session ID in ARGV[3]. ARGV[2] is the TTL in milliseconds; 0 means no expiry.
var claimScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur and cur ~= ARGV[3] then
	return 0
end
local ttl = tonumber(ARGV[2])
if ttl > 0 then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ttl)
else
	redis.call("SET", KEYS[1], ARGV[1])
end
return 1
`)

// releaseScript deletes the marker only when it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
