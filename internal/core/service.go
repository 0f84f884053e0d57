package core

import (
	"context"
	"time"

	"recordcore/internal/infra/persistence/memory"
	"recordcore/internal/notify"
)

// Service exposes the session, locking, permission, sharing, and directory
// operations over a persistent store. All methods are safe for concurrent
// use.
type Service struct {
	store    PersistentStore
	sessions *Registry
	locks    *Tracker
	resolver *Resolver
	props    *PropertyStore

	audit    *AuditLog
	notifier notify.Sink
	logger   Logger
	clock    Clock
	metrics  MetricsRecorder
}

type serviceOptions struct {
	clock    Clock
	logger   Logger
	metrics  MetricsRecorder
	notifier notify.Sink
	audit    *AuditLog
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		clock:    ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:   noopLogger{},
		metrics:  noopMetricsRecorder{},
		notifier: notify.NoopSink{},
		audit:    NewAuditLog(),
	}
}

// ServiceOption customises service construction.
type ServiceOption func(*serviceOptions)

// WithClock overrides the time source.
func WithClock(c Clock) ServiceOption {
	return func(o *serviceOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l Logger) ServiceOption {
	return func(o *serviceOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetricsRecorder attaches a metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithNotifier attaches a notification sink.
func WithNotifier(n notify.Sink) ServiceOption {
	return func(o *serviceOptions) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithAuditLog overrides the audit log, letting callers share one across
// services.
func WithAuditLog(a *AuditLog) ServiceOption {
	return func(o *serviceOptions) {
		if a != nil {
			o.audit = a
		}
	}
}

// NewService constructs a service backed by the supplied store. Session
// removal is wired to lock reclamation before the service is returned.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	options := defaultServiceOptions()
	for _, opt := range opts {
		opt(&options)
	}

	sessions := NewRegistry()
	locks := NewTracker()
	s := &Service{
		store:    store,
		sessions: sessions,
		locks:    locks,
		resolver: NewResolver(store, locks, sessions),
		props:    NewPropertyStore(),
		audit:    options.audit,
		notifier: options.notifier,
		logger:   options.logger,
		clock:    options.clock,
		metrics:  options.metrics,
	}

	sessions.OnRemove(func(username, sessionID string) {
		for _, lock := range locks.ReleaseSession(username, sessionID) {
			s.logger.Info("edit lock reclaimed",
				"record", lock.RecordID, "user", username)
			s.audit.Record(AuditEntry{
				Action: AuditLockReclaim,
				Actor:  username,
				Target: lock.RecordID,
				Detail: "session ended while editing",
			})
			s.notifier.Publish(notify.Event{
				Type:       notify.TypeLockReclaimed,
				Actor:      username,
				RecordID:   lock.RecordID,
				Message:    "edit lock released on session end",
				OccurredAt: s.clock.Now(),
			})
		}
	})
	return s
}

// NewInMemoryService creates a service over an in-memory store with the
// given rules engine. A nil engine gets the default rule set.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore { return s.store }

// Sessions returns the active session registry.
func (s *Service) Sessions() *Registry { return s.sessions }

// Locks returns the edit lock tracker.
func (s *Service) Locks() *Tracker { return s.locks }

// Properties returns the system property store. Mutate it through
// SetSystemProperty so authorization and auditing apply.
func (s *Service) Properties() *PropertyStore { return s.props }

// Audit returns the audit trail.
func (s *Service) Audit() *AuditLog { return s.audit }

// run instruments one service operation with metrics and logging.
func (s *Service) run(ctx context.Context, operation string, fn func() error) error {
	start := s.clock.Now()
	err := fn()
	s.metrics.Observe(ctx, operation, err == nil, s.clock.Now().Sub(start))
	if err != nil {
		s.logger.Warn("operation failed", "operation", operation, "error", err)
	} else {
		s.logger.Debug("operation completed", "operation", operation)
	}
	return err
}

// AddSession registers a live session for the user, returning the session
// id. An empty id gets a generated one. Logging in again replaces the
// previous session and re-keys its edit locks to the new session, so the
// user keeps editing and a later logout still reclaims everything.
func (s *Service) AddSession(username, sessionID string) string {
	id, old, replaced := s.sessions.ReplaceSession(username, sessionID)
	if replaced {
		if n := s.locks.AdoptSession(username, old, id); n > 0 {
			s.logger.Info("edit locks carried to new session", "user", username, "locks", n)
		}
	}
	s.logger.Debug("session added", "user", username)
	return id
}

// RemoveSession drops the user's live session, reclaiming any edit locks it
// held. Removing an absent session is a no-op.
func (s *Service) RemoveSession(username string) {
	s.sessions.RemoveSession(username)
}

// IsSessionActive reports whether the user has a live session.
func (s *Service) IsSessionActive(username string) bool {
	return s.sessions.IsActive(username)
}

// IsPermitted evaluates the operation for the principal's acting identity.
func (s *Service) IsPermitted(p Principal, recordID string, op Operation) bool {
	return s.resolver.IsPermitted(p.Username, recordID, op)
}

// Decide evaluates the operation and returns the full decision.
func (s *Service) Decide(p Principal, recordID string, op Operation) Decision {
	return s.resolver.Decide(p.Username, recordID, op)
}

// InvalidateGroupCache drops cached permission decisions for every member
// of the group. Exposed for callers mutating directory state outside the
// service operations.
func (s *Service) InvalidateGroupCache(groupID string) {
	if g, ok := s.store.GetGroup(groupID); ok {
		s.resolver.InvalidateGroup(g)
	}
}

// RequestEdit attempts to open the record for editing. Read access without a
// live session yields view mode; write access with a live session acquires
// the edit lock unless another principal holds it.
func (s *Service) RequestEdit(ctx context.Context, p Principal, recordID string) EditStatus {
	status := StatusAccessDenied
	_ = s.run(ctx, "request_edit", func() error {
		if _, ok := s.store.GetRecord(recordID); !ok {
			return nil
		}
		if !s.resolver.IsPermitted(p.Username, recordID, OpRead) {
			return nil
		}
		sessionID, active := s.sessions.SessionIDFor(p.Username)
		if !active {
			status = StatusViewMode
			return nil
		}
		if !s.resolver.IsPermitted(p.Username, recordID, OpWrite) {
			status = StatusNoPermission
			return nil
		}
		status = s.locks.Acquire(recordID, p.Username, sessionID)
		return nil
	})
	return status
}

// Unlock releases the record if the principal holds its edit lock. Calls by
// a non-holder are ignored.
func (s *Service) Unlock(p Principal, recordID string) {
	s.locks.Release(recordID, p.Username)
}

// CurrentEditor reports who is editing the record, hiding the caller's own
// lock.
func (s *Service) CurrentEditor(p Principal, recordID string) (string, bool) {
	return s.locks.CurrentEditor(recordID, p.Username)
}

// SetSystemProperty updates a system-wide feature switch. Only a sysadmin
// may change properties.
func (s *Service) SetSystemProperty(ctx context.Context, p Principal, name string, value PropertyValue) error {
	return s.run(ctx, "set_system_property", func() error {
		actor, ok := s.store.GetUser(p.Username)
		if !ok || actor.Role != RoleSysAdmin {
			return DeniedError{Operation: OpAdminister, Reason: "only a system administrator may change system properties"}
		}
		s.props.Set(name, value)
		s.recordAudit(p, AuditEntry{
			Action: AuditPropertyChange,
			Target: name,
			Detail: string(value),
		})
		return nil
	})
}

// recordAudit appends an audit entry attributed per the principal's run-as
// and incognito settings.
func (s *Service) recordAudit(p Principal, entry AuditEntry) {
	if p.Incognito {
		return
	}
	entry.Actor = p.Effective()
	if p.RunAs != "" {
		entry.OnBehalfOf = p.Username
	}
	s.audit.Record(entry)
}

// groupIDsFor returns the ids of every group the user belongs to.
func (s *Service) groupIDsFor(username string) []string {
	groups := s.store.GroupsForUser(username)
	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	return ids
}
