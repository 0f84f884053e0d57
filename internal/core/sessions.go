package core

import (
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
)

const sessionShardCount = 32

// Registry tracks which users currently have a live session. Lookups and
// mutations are sharded by username so unrelated logins never contend on a
// single lock.
type Registry struct {
	shards [sessionShardCount]sessionShard

	hookMu   sync.RWMutex
	onRemove []func(username, sessionID string)
}

type sessionShard struct {
	mu       sync.RWMutex
	sessions map[string]string
}

// NewRegistry constructs an empty session registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].sessions = make(map[string]string)
	}
	return r
}

func shardIndex(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32()) % n
}

func (r *Registry) shard(username string) *sessionShard {
	return &r.shards[shardIndex(username, sessionShardCount)]
}

// OnRemove registers a hook fired after a session is removed. Hooks must be
// registered before the registry is shared across goroutines handling
// requests; they run synchronously on the removing goroutine.
func (r *Registry) OnRemove(fn func(username, sessionID string)) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.onRemove = append(r.onRemove, fn)
}

// AddSession records a live session for the user, generating a session id
// when none is supplied. Adding twice overwrites the previous session.
func (r *Registry) AddSession(username, sessionID string) string {
	id, _, _ := r.ReplaceSession(username, sessionID)
	return id
}

// ReplaceSession records a live session and reports the session id it
// displaced. Replacement does not fire removal hooks; the caller decides
// what happens to state keyed by the old id.
func (r *Registry) ReplaceSession(username, sessionID string) (string, string, bool) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	s := r.shard(username)
	s.mu.Lock()
	old, replaced := s.sessions[username]
	s.sessions[username] = sessionID
	s.mu.Unlock()
	if old == sessionID {
		replaced = false
	}
	return sessionID, old, replaced
}

// RemoveSession drops the user's session, if any, and fires removal hooks so
// held edit locks are reclaimed. Removing a non-existent session is a no-op.
func (r *Registry) RemoveSession(username string) {
	s := r.shard(username)
	s.mu.Lock()
	sessionID, ok := s.sessions[username]
	if ok {
		delete(s.sessions, username)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	r.hookMu.RLock()
	hooks := r.onRemove
	r.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(username, sessionID)
	}
}

// IsActive reports whether the user currently has a live session.
func (r *Registry) IsActive(username string) bool {
	s := r.shard(username)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[username]
	return ok
}

// SessionIDFor returns the user's current session id.
func (r *Registry) SessionIDFor(username string) (string, bool) {
	s := r.shard(username)
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.sessions[username]
	return id, ok
}

// ActiveCount returns the number of live sessions.
func (r *Registry) ActiveCount() int {
	total := 0
	for i := range r.shards {
		r.shards[i].mu.RLock()
		total += len(r.shards[i].sessions)
		r.shards[i].mu.RUnlock()
	}
	return total
}
