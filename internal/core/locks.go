package core

import (
	"sync"
	"time"

	"recordcore/pkg/domain"
)

const lockShardCount = 32

// Tracker maps each record id to the single session currently editing it.
// Acquisition is a check-and-set under the record's shard mutex, so two
// concurrent attempts for the same record can never both observe the record
// unlocked and both succeed. Unrelated records live on different shards and
// never contend.
type Tracker struct {
	shards [lockShardCount]lockShard
	nowFn  func() time.Time
}

type lockShard struct {
	mu    sync.Mutex
	locks map[string]domain.EditLock
}

// NewTracker constructs an empty lock tracker.
func NewTracker() *Tracker {
	t := &Tracker{nowFn: func() time.Time { return time.Now().UTC() }}
	for i := range t.shards {
		t.shards[i].locks = make(map[string]domain.EditLock)
	}
	return t
}

func (t *Tracker) shard(recordID string) *lockShard {
	return &t.shards[shardIndex(recordID, lockShardCount)]
}

// Acquire attempts to take the edit lock for the record. A principal already
// holding the lock re-enters idempotently. Returns StatusEditMode on
// success, StatusOtherEditing when a different principal holds the lock.
func (t *Tracker) Acquire(recordID, username, sessionID string) domain.EditStatus {
	s := t.shard(recordID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if held, ok := s.locks[recordID]; ok {
		if held.Username == username {
			return StatusEditMode
		}
		return StatusOtherEditing
	}
	s.locks[recordID] = domain.EditLock{
		RecordID:   recordID,
		Username:   username,
		SessionID:  sessionID,
		AcquiredAt: t.nowFn(),
	}
	return StatusEditMode
}

// Release unlocks the record if the caller is the current holder. Unlocking
// by a non-holder is silently ignored; it commonly happens on cleanup races.
func (t *Tracker) Release(recordID, username string) {
	s := t.shard(recordID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.locks[recordID]; ok && held.Username == username {
		delete(s.locks, recordID)
	}
}

// ReleaseSession force-releases every lock held by the given session and
// returns the released locks. Called on session removal so no record stays
// locked by a dead session.
func (t *Tracker) ReleaseSession(username, sessionID string) []domain.EditLock {
	var released []domain.EditLock
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for id, held := range s.locks {
			if held.Username == username && held.SessionID == sessionID {
				released = append(released, held)
				delete(s.locks, id)
			}
		}
		s.mu.Unlock()
	}
	return released
}

// AdoptSession re-keys every lock the user holds under a replaced session to
// the new session id, so reclamation on the new session's removal still
// covers locks taken before a re-login. Returns the number of adopted locks.
func (t *Tracker) AdoptSession(username, oldID, newID string) int {
	adopted := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for id, held := range s.locks {
			if held.Username == username && held.SessionID == oldID {
				held.SessionID = newID
				s.locks[id] = held
				adopted++
			}
		}
		s.mu.Unlock()
	}
	return adopted
}

// HolderOf returns the live lock for the record, if any.
func (t *Tracker) HolderOf(recordID string) (domain.EditLock, bool) {
	s := t.shard(recordID)
	s.mu.Lock()
	defer s.mu.Unlock()
	held, ok := s.locks[recordID]
	return held, ok
}

// CurrentEditor reports who is editing the record, hiding the caller's own
// lock: a self-held lock is invisible to the holder.
func (t *Tracker) CurrentEditor(recordID, caller string) (string, bool) {
	held, ok := t.HolderOf(recordID)
	if !ok || held.Username == caller {
		return "", false
	}
	return held.Username, true
}

// ActiveCount returns the number of live edit locks.
func (t *Tracker) ActiveCount() int {
	total := 0
	for i := range t.shards {
		t.shards[i].mu.Lock()
		total += len(t.shards[i].locks)
		t.shards[i].mu.Unlock()
	}
	return total
}
