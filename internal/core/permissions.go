package core

import (
	"fmt"
	"sync"

	"recordcore/pkg/domain"
)

// Decision is the outcome of a permission evaluation, carrying a
// user-facing reason on denial.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

// Resolver evaluates whether a principal may perform an operation on a
// record. Evaluation composes, in order: the live-lock guard for delete and
// structural writes, the sysadmin bypass, ownership, group PI rights, lab
// admin visibility, and explicit grants. First matching rule wins.
//
// Evaluations that do not depend on live lock state are cached per user and
// invalidated explicitly on every role, membership, or grant mutation.
type Resolver struct {
	store    domain.PersistentStore
	locks    *Tracker
	sessions *Registry
	cache    permissionCache
}

// NewResolver constructs a resolver over the given store, lock tracker, and
// session registry.
func NewResolver(store domain.PersistentStore, locks *Tracker, sessions *Registry) *Resolver {
	return &Resolver{
		store:    store,
		locks:    locks,
		sessions: sessions,
		cache:    permissionCache{byUser: make(map[string]map[string]Decision)},
	}
}

// IsPermitted reports whether the operation is allowed.
func (r *Resolver) IsPermitted(username, recordID string, op domain.Operation) bool {
	return r.Decide(username, recordID, op).Allowed
}

// Decide evaluates the operation and returns the decision with a reason on
// denial. Records that do not exist yield the same denial as records the
// principal may not see.
func (r *Resolver) Decide(username, recordID string, op domain.Operation) Decision {
	// The lock guard is absolute: a record being edited by a different
	// active session cannot be deleted or structurally altered by anyone,
	// owner, PI, and sysadmin included.
	if op == OpDelete || op == OpStructure {
		if held, ok := r.locks.HolderOf(recordID); ok && held.Username != username {
			if r.sessions == nil || r.sessions.IsActive(held.Username) {
				return deny(fmt.Sprintf("record cannot be %sd as it is currently edited by %s",
					verb(op), held.Username))
			}
		}
	}

	if d, ok := r.cache.get(username, cacheKey(recordID, op)); ok {
		return d
	}
	d := r.decide(username, recordID, op)
	r.cache.put(username, cacheKey(recordID, op), d)
	return d
}

func verb(op domain.Operation) string {
	if op == OpStructure {
		return "alter"
	}
	return string(op)
}

func (r *Resolver) decide(username, recordID string, op domain.Operation) Decision {
	user, ok := r.store.GetUser(username)
	if !ok || user.Disabled {
		return deny("access denied")
	}

	if user.Role == RoleSysAdmin {
		return allow()
	}

	rec, ok := r.store.GetRecord(recordID)
	if !ok {
		return deny("access denied")
	}

	if rec.Owner == username {
		return allow()
	}

	groups := r.store.GroupsForUser(username)
	for _, g := range groups {
		member, _ := g.Member(username)
		switch member.Role {
		case GroupRolePI:
			if g.HasMember(rec.Owner) {
				switch op {
				case OpRead, OpWrite, OpStructure, OpAdminister:
					return allow()
				case OpDelete:
					// A PI may delete only what has been shared into the
					// group, not members' private content.
					if r.recordGrantedToGroup(rec, g.ID) {
						return allow()
					}
				}
			}
		case GroupRoleLabAdmin:
			if !member.ViewAll {
				continue
			}
			owner, ok := g.Member(rec.Owner)
			if !ok || owner.Role != GroupRoleMember {
				continue
			}
			switch op {
			case OpRead:
				return allow()
			case OpWrite:
				if g.LabAdminEdit {
					return allow()
				}
			}
		}
	}

	if op == OpRead || op == OpWrite {
		groupIDs := make([]string, 0, len(groups))
		for _, g := range groups {
			groupIDs = append(groupIDs, g.ID)
		}
		level := r.effectiveLevel(rec, username, groupIDs)
		if op == OpRead && level.CanRead() {
			return allow()
		}
		if op == OpWrite && level.CanWrite() {
			return allow()
		}
	}

	return deny(fmt.Sprintf("%s does not have %s permission on this record", username, op))
}

// effectiveLevel computes the highest grant level applicable to the
// principal: the union of grants attached directly to the record and, for
// notebook entries, grants inherited from the enclosing notebook, read at
// evaluation time.
func (r *Resolver) effectiveLevel(rec Record, username string, groupIDs []string) PermissionLevel {
	level := LevelNone
	for _, g := range r.store.GrantsForRecord(rec.ID) {
		if g.AppliesTo(username, groupIDs) {
			level = domain.MaxLevel(level, g.Level)
		}
	}
	if nb := rec.EnclosingNotebook(); nb != "" {
		for _, g := range r.store.GrantsForRecord(nb) {
			if g.AppliesTo(username, groupIDs) {
				level = domain.MaxLevel(level, g.Level)
			}
		}
	}
	return level
}

func (r *Resolver) recordGrantedToGroup(rec Record, groupID string) bool {
	for _, g := range r.store.GrantsForRecord(rec.ID) {
		if g.PrincipalKind == PrincipalGroup && g.TargetID == groupID {
			return true
		}
	}
	if nb := rec.EnclosingNotebook(); nb != "" {
		for _, g := range r.store.GrantsForRecord(nb) {
			if g.PrincipalKind == PrincipalGroup && g.TargetID == groupID {
				return true
			}
		}
	}
	return false
}

// InvalidateUser drops every cached decision for the user. Called whenever
// the user's role, memberships, or applicable grants change.
func (r *Resolver) InvalidateUser(username string) {
	r.cache.invalidateUser(username)
}

// InvalidateGroup drops cached decisions for every member of the group.
func (r *Resolver) InvalidateGroup(g Group) {
	for _, m := range g.Members {
		r.cache.invalidateUser(m.Username)
	}
}

// InvalidateAll drops the whole cache. Used for world-grant changes, which
// can affect any principal.
func (r *Resolver) InvalidateAll() {
	r.cache.invalidateAll()
}

func cacheKey(recordID string, op domain.Operation) string {
	return recordID + ":" + string(op)
}

// permissionCache memoises lock-independent decisions per user. Invalidation
// is an explicit side effect of each mutating operation; there is no TTL.
type permissionCache struct {
	mu     sync.RWMutex
	byUser map[string]map[string]Decision
}

func (c *permissionCache) get(username, key string) (Decision, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	decisions, ok := c.byUser[username]
	if !ok {
		return Decision{}, false
	}
	d, ok := decisions[key]
	return d, ok
}

func (c *permissionCache) put(username, key string, d Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	decisions, ok := c.byUser[username]
	if !ok {
		decisions = make(map[string]Decision)
		c.byUser[username] = decisions
	}
	decisions[key] = d
}

func (c *permissionCache) invalidateUser(username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byUser, username)
}

func (c *permissionCache) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byUser = make(map[string]map[string]Decision)
}
