package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditEntry records one permission-relevant action. Entries are immutable
// once appended.
type AuditEntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	Actor      string    `json:"actor"`
	OnBehalfOf string    `json:"on_behalf_of,omitempty"`
	Target     string    `json:"target,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Audit actions recorded by the service.
const (
	AuditShare            = "share"
	AuditUnshare          = "unshare"
	AuditPermissionChange = "permission_change"
	AuditRoleChange       = "role_change"
	AuditMembershipChange = "membership_change"
	AuditAutoshareToggle  = "autoshare_toggle"
	AuditLockReclaim      = "lock_reclaim"
	AuditRecordDelete     = "record_delete"
	AuditPropertyChange   = "property_change"
)

// AuditLog is an append-only in-process audit trail.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
	nowFn   func() time.Time
}

// NewAuditLog constructs an empty audit log.
func NewAuditLog() *AuditLog {
	return &AuditLog{nowFn: func() time.Time { return time.Now().UTC() }}
}

// Record appends an entry, assigning its id and timestamp.
func (l *AuditLog) Record(entry AuditEntry) AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.ID = uuid.NewString()
	entry.OccurredAt = l.nowFn()
	l.entries = append(l.entries, entry)
	return entry
}

// Entries returns a copy of the recorded entries in append order.
func (l *AuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]AuditEntry(nil), l.entries...)
}
