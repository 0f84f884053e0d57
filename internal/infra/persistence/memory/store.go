// Package memory provides the in-memory transactional store for the core
// domain. Durable backends embed it and snapshot committed state.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"recordcore/pkg/domain"
)

type (
	User                = domain.User
	Group               = domain.Group
	GroupMember         = domain.GroupMember
	Record              = domain.Record
	Grant               = domain.Grant
	AutoshareMembership = domain.AutoshareMembership
	Change              = domain.Change
	Result              = domain.Result
	RulesEngine         = domain.RulesEngine
	Transaction         = domain.Transaction
	RuleView            = domain.RuleView
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

type memoryState struct {
	users      map[string]User
	groups     map[string]Group
	records    map[string]Record
	grants     map[string]Grant
	autoshares map[string]AutoshareMembership
}

func newMemoryState() memoryState {
	return memoryState{
		users:      make(map[string]User),
		groups:     make(map[string]Group),
		records:    make(map[string]Record),
		grants:     make(map[string]Grant),
		autoshares: make(map[string]AutoshareMembership),
	}
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Users      []User                `json:"users"`
	Groups     []Group               `json:"groups"`
	Records    []Record              `json:"records"`
	Grants     []Grant               `json:"grants"`
	Autoshares []AutoshareMembership `json:"autoshare_memberships"`
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Users:      make([]User, 0, len(state.users)),
		Groups:     make([]Group, 0, len(state.groups)),
		Records:    make([]Record, 0, len(state.records)),
		Grants:     make([]Grant, 0, len(state.grants)),
		Autoshares: make([]AutoshareMembership, 0, len(state.autoshares)),
	}
	for _, u := range state.users {
		s.Users = append(s.Users, u)
	}
	for _, g := range state.groups {
		s.Groups = append(s.Groups, cloneGroup(g))
	}
	for _, r := range state.records {
		s.Records = append(s.Records, cloneRecord(r))
	}
	for _, g := range state.grants {
		s.Grants = append(s.Grants, cloneGrant(g))
	}
	for _, a := range state.autoshares {
		s.Autoshares = append(s.Autoshares, a)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for _, u := range s.Users {
		state.users[u.Username] = u
	}
	for _, g := range s.Groups {
		state.groups[g.ID] = cloneGroup(g)
	}
	for _, r := range s.Records {
		state.records[r.ID] = cloneRecord(r)
	}
	for _, g := range s.Grants {
		state.grants[g.ID] = cloneGrant(g)
	}
	for _, a := range s.Autoshares {
		state.autoshares[a.ID] = a
	}
	return state
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.users {
		cloned.users[k] = v
	}
	for k, v := range s.groups {
		cloned.groups[k] = cloneGroup(v)
	}
	for k, v := range s.records {
		cloned.records[k] = cloneRecord(v)
	}
	for k, v := range s.grants {
		cloned.grants[k] = cloneGrant(v)
	}
	for k, v := range s.autoshares {
		cloned.autoshares[k] = v
	}
	return cloned
}

func cloneGroup(g Group) Group {
	cp := g
	cp.Members = append([]domain.GroupMember(nil), g.Members...)
	return cp
}

func cloneRecord(r Record) Record {
	cp := r
	cp.FolderLinks = append([]string(nil), r.FolderLinks...)
	return cp
}

func cloneGrant(g Grant) Grant {
	cp := g
	if g.Publication != nil {
		pub := *g.Publication
		cp.Publication = &pub
	}
	return cp
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// SetNowFunc overrides the time provider, primarily for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// ruleView exposes a read-only snapshot of the transactional state to rules.
type ruleView struct {
	state *memoryState
}

func newRuleView(state *memoryState) RuleView {
	return ruleView{state: state}
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newRuleView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(RuleView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(newRuleView(&snapshot))
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot exposes the transactional state as a rule view.
func (tx *transaction) Snapshot() RuleView {
	return newRuleView(&tx.state)
}

// CreateUser stores a new user keyed by username.
func (tx *transaction) CreateUser(u User) (User, error) {
	if u.Username == "" {
		return User{}, fmt.Errorf("username required")
	}
	if _, exists := tx.state.users[u.Username]; exists {
		return User{}, fmt.Errorf("user %q already exists", u.Username)
	}
	if u.ID == "" {
		u.ID = u.Username
	}
	if u.Role == "" {
		u.Role = domain.RoleUser
	}
	u.CreatedAt = tx.now
	u.UpdatedAt = tx.now
	tx.state.users[u.Username] = u
	tx.recordChange(Change{Entity: domain.EntityUser, Action: domain.ActionCreate, After: u})
	return u, nil
}

// UpdateUser mutates a user using the provided mutator function.
func (tx *transaction) UpdateUser(username string, mutator func(*User) error) (User, error) {
	current, ok := tx.state.users[username]
	if !ok {
		return User{}, fmt.Errorf("user %q not found", username)
	}
	before := current
	if err := mutator(&current); err != nil {
		return User{}, err
	}
	current.Username = username
	current.UpdatedAt = tx.now
	tx.state.users[username] = current
	tx.recordChange(Change{Entity: domain.EntityUser, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// CreateGroup stores a new group.
func (tx *transaction) CreateGroup(g Group) (Group, error) {
	if g.ID == "" {
		g.ID = tx.store.newID()
	}
	if _, exists := tx.state.groups[g.ID]; exists {
		return Group{}, fmt.Errorf("group %q already exists", g.ID)
	}
	g.CreatedAt = tx.now
	g.UpdatedAt = tx.now
	tx.state.groups[g.ID] = cloneGroup(g)
	tx.recordChange(Change{Entity: domain.EntityGroup, Action: domain.ActionCreate, After: cloneGroup(g)})
	return cloneGroup(g), nil
}

// UpdateGroup mutates an existing group.
func (tx *transaction) UpdateGroup(id string, mutator func(*Group) error) (Group, error) {
	current, ok := tx.state.groups[id]
	if !ok {
		return Group{}, fmt.Errorf("group %q not found", id)
	}
	before := cloneGroup(current)
	if err := mutator(&current); err != nil {
		return Group{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.groups[id] = cloneGroup(current)
	tx.recordChange(Change{Entity: domain.EntityGroup, Action: domain.ActionUpdate, Before: before, After: cloneGroup(current)})
	return cloneGroup(current), nil
}

// DeleteGroup removes a group from state.
func (tx *transaction) DeleteGroup(id string) error {
	current, ok := tx.state.groups[id]
	if !ok {
		return fmt.Errorf("group %q not found", id)
	}
	delete(tx.state.groups, id)
	tx.recordChange(Change{Entity: domain.EntityGroup, Action: domain.ActionDelete, Before: cloneGroup(current)})
	return nil
}

// CreateRecord stores a new workspace record.
func (tx *transaction) CreateRecord(r Record) (Record, error) {
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if _, exists := tx.state.records[r.ID]; exists {
		return Record{}, fmt.Errorf("record %q already exists", r.ID)
	}
	if r.Owner == "" {
		return Record{}, fmt.Errorf("record owner required")
	}
	if r.Kind == "" {
		r.Kind = domain.KindDocument
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	tx.state.records[r.ID] = cloneRecord(r)
	tx.recordChange(Change{Entity: domain.EntityRecord, Action: domain.ActionCreate, After: cloneRecord(r)})
	return cloneRecord(r), nil
}

// UpdateRecord mutates an existing record.
func (tx *transaction) UpdateRecord(id string, mutator func(*Record) error) (Record, error) {
	current, ok := tx.state.records[id]
	if !ok {
		return Record{}, fmt.Errorf("record %q not found", id)
	}
	before := cloneRecord(current)
	if err := mutator(&current); err != nil {
		return Record{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.records[id] = cloneRecord(current)
	tx.recordChange(Change{Entity: domain.EntityRecord, Action: domain.ActionUpdate, Before: before, After: cloneRecord(current)})
	return cloneRecord(current), nil
}

// DeleteRecord removes a record and its grants.
func (tx *transaction) DeleteRecord(id string) error {
	current, ok := tx.state.records[id]
	if !ok {
		return fmt.Errorf("record %q not found", id)
	}
	delete(tx.state.records, id)
	for gid, g := range tx.state.grants {
		if g.RecordID == id {
			delete(tx.state.grants, gid)
			tx.recordChange(Change{Entity: domain.EntityGrant, Action: domain.ActionDelete, Before: cloneGrant(g)})
		}
	}
	tx.recordChange(Change{Entity: domain.EntityRecord, Action: domain.ActionDelete, Before: cloneRecord(current)})
	return nil
}

// CreateGrant stores a new grant.
func (tx *transaction) CreateGrant(g Grant) (Grant, error) {
	if g.ID == "" {
		g.ID = tx.store.newID()
	}
	if _, exists := tx.state.grants[g.ID]; exists {
		return Grant{}, fmt.Errorf("grant %q already exists", g.ID)
	}
	if !g.Level.Valid() {
		return Grant{}, fmt.Errorf("grant level %q invalid", g.Level)
	}
	g.CreatedAt = tx.now
	g.UpdatedAt = tx.now
	tx.state.grants[g.ID] = cloneGrant(g)
	tx.recordChange(Change{Entity: domain.EntityGrant, Action: domain.ActionCreate, After: cloneGrant(g)})
	return cloneGrant(g), nil
}

// UpdateGrant mutates an existing grant.
func (tx *transaction) UpdateGrant(id string, mutator func(*Grant) error) (Grant, error) {
	current, ok := tx.state.grants[id]
	if !ok {
		return Grant{}, fmt.Errorf("grant %q not found", id)
	}
	before := cloneGrant(current)
	if err := mutator(&current); err != nil {
		return Grant{}, err
	}
	current.ID = id
	if !current.Level.Valid() {
		return Grant{}, fmt.Errorf("grant level %q invalid", current.Level)
	}
	current.UpdatedAt = tx.now
	tx.state.grants[id] = cloneGrant(current)
	tx.recordChange(Change{Entity: domain.EntityGrant, Action: domain.ActionUpdate, Before: before, After: cloneGrant(current)})
	return cloneGrant(current), nil
}

// DeleteGrant removes a grant from state.
func (tx *transaction) DeleteGrant(id string) error {
	current, ok := tx.state.grants[id]
	if !ok {
		return fmt.Errorf("grant %q not found", id)
	}
	delete(tx.state.grants, id)
	tx.recordChange(Change{Entity: domain.EntityGrant, Action: domain.ActionDelete, Before: cloneGrant(current)})
	return nil
}

// CreateAutoshareMembership stores a membership for one (user, group) pair.
func (tx *transaction) CreateAutoshareMembership(a AutoshareMembership) (AutoshareMembership, error) {
	if a.ID == "" {
		a.ID = tx.store.newID()
	}
	if _, exists := tx.state.autoshares[a.ID]; exists {
		return AutoshareMembership{}, fmt.Errorf("autoshare membership %q already exists", a.ID)
	}
	for _, existing := range tx.state.autoshares {
		if existing.Username == a.Username && existing.GroupID == a.GroupID {
			return AutoshareMembership{}, fmt.Errorf("autoshare membership for %s in group %s already exists", a.Username, a.GroupID)
		}
	}
	a.CreatedAt = tx.now
	a.UpdatedAt = tx.now
	tx.state.autoshares[a.ID] = a
	tx.recordChange(Change{Entity: domain.EntityAutoshare, Action: domain.ActionCreate, After: a})
	return a, nil
}

// DeleteAutoshareMembership removes a membership.
func (tx *transaction) DeleteAutoshareMembership(id string) error {
	current, ok := tx.state.autoshares[id]
	if !ok {
		return fmt.Errorf("autoshare membership %q not found", id)
	}
	delete(tx.state.autoshares, id)
	tx.recordChange(Change{Entity: domain.EntityAutoshare, Action: domain.ActionDelete, Before: current})
	return nil
}

// FindUser retrieves a user from the transaction state.
func (tx *transaction) FindUser(username string) (User, bool) {
	u, ok := tx.state.users[username]
	return u, ok
}

// FindGroup retrieves a group from the transaction state.
func (tx *transaction) FindGroup(id string) (Group, bool) {
	g, ok := tx.state.groups[id]
	if !ok {
		return Group{}, false
	}
	return cloneGroup(g), true
}

// FindRecord retrieves a record from the transaction state.
func (tx *transaction) FindRecord(id string) (Record, bool) {
	r, ok := tx.state.records[id]
	if !ok {
		return Record{}, false
	}
	return cloneRecord(r), true
}

// FindGrant retrieves a grant from the transaction state.
func (tx *transaction) FindGrant(id string) (Grant, bool) {
	g, ok := tx.state.grants[id]
	if !ok {
		return Grant{}, false
	}
	return cloneGrant(g), true
}

// GrantsForRecord returns grants attached directly to the record.
func (tx *transaction) GrantsForRecord(recordID string) []Grant {
	return grantsForRecord(&tx.state, recordID)
}

// AutosharesForUser returns the user's autoshare memberships.
func (tx *transaction) AutosharesForUser(username string) []AutoshareMembership {
	return autosharesForUser(&tx.state, username)
}

func grantsForRecord(state *memoryState, recordID string) []Grant {
	var out []Grant
	for _, g := range state.grants {
		if g.RecordID == recordID {
			out = append(out, cloneGrant(g))
		}
	}
	return out
}

func autosharesForUser(state *memoryState, username string) []AutoshareMembership {
	var out []AutoshareMembership
	for _, a := range state.autoshares {
		if a.Username == username {
			out = append(out, a)
		}
	}
	return out
}

// Rule view accessors --------------------------------------------------------

func (v ruleView) ListUsers() []User {
	out := make([]User, 0, len(v.state.users))
	for _, u := range v.state.users {
		out = append(out, u)
	}
	return out
}

func (v ruleView) ListGroups() []Group {
	out := make([]Group, 0, len(v.state.groups))
	for _, g := range v.state.groups {
		out = append(out, cloneGroup(g))
	}
	return out
}

func (v ruleView) ListRecords() []Record {
	out := make([]Record, 0, len(v.state.records))
	for _, r := range v.state.records {
		out = append(out, cloneRecord(r))
	}
	return out
}

func (v ruleView) ListGrants() []Grant {
	out := make([]Grant, 0, len(v.state.grants))
	for _, g := range v.state.grants {
		out = append(out, cloneGrant(g))
	}
	return out
}

func (v ruleView) ListAutoshareMemberships() []AutoshareMembership {
	out := make([]AutoshareMembership, 0, len(v.state.autoshares))
	for _, a := range v.state.autoshares {
		out = append(out, a)
	}
	return out
}

func (v ruleView) FindUser(username string) (User, bool) {
	u, ok := v.state.users[username]
	return u, ok
}

func (v ruleView) FindGroup(id string) (Group, bool) {
	g, ok := v.state.groups[id]
	if !ok {
		return Group{}, false
	}
	return cloneGroup(g), true
}

func (v ruleView) FindRecord(id string) (Record, bool) {
	r, ok := v.state.records[id]
	if !ok {
		return Record{}, false
	}
	return cloneRecord(r), true
}

func (v ruleView) FindGrant(id string) (Grant, bool) {
	g, ok := v.state.grants[id]
	if !ok {
		return Grant{}, false
	}
	return cloneGrant(g), true
}

func (v ruleView) GrantsForRecord(recordID string) []Grant {
	return grantsForRecord(v.state, recordID)
}

func (v ruleView) AutosharesForUser(username string) []AutoshareMembership {
	return autosharesForUser(v.state, username)
}

// Committed-state read helpers -----------------------------------------------

// GetUser retrieves a user by username from committed state.
func (s *Store) GetUser(username string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.state.users[username]
	return u, ok
}

// GetGroup retrieves a group by ID from committed state.
func (s *Store) GetGroup(id string) (Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.state.groups[id]
	if !ok {
		return Group{}, false
	}
	return cloneGroup(g), true
}

// GetRecord retrieves a record by ID from committed state.
func (s *Store) GetRecord(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state.records[id]
	if !ok {
		return Record{}, false
	}
	return cloneRecord(r), true
}

// GetGrant retrieves a grant by ID from committed state.
func (s *Store) GetGrant(id string) (Grant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.state.grants[id]
	if !ok {
		return Grant{}, false
	}
	return cloneGrant(g), true
}

// ListUsers returns all users from committed state.
func (s *Store) ListUsers() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.state.users))
	for _, u := range s.state.users {
		out = append(out, u)
	}
	return out
}

// ListGroups returns all groups from committed state.
func (s *Store) ListGroups() []Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Group, 0, len(s.state.groups))
	for _, g := range s.state.groups {
		out = append(out, cloneGroup(g))
	}
	return out
}

// ListRecords returns all records from committed state.
func (s *Store) ListRecords() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.state.records))
	for _, r := range s.state.records {
		out = append(out, cloneRecord(r))
	}
	return out
}

// ListGrants returns all grants from committed state.
func (s *Store) ListGrants() []Grant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Grant, 0, len(s.state.grants))
	for _, g := range s.state.grants {
		out = append(out, cloneGrant(g))
	}
	return out
}

// ListAutoshareMemberships returns all autoshare memberships.
func (s *Store) ListAutoshareMemberships() []AutoshareMembership {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AutoshareMembership, 0, len(s.state.autoshares))
	for _, a := range s.state.autoshares {
		out = append(out, a)
	}
	return out
}

// GrantsForRecord returns grants attached directly to the record.
func (s *Store) GrantsForRecord(recordID string) []Grant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return grantsForRecord(&s.state, recordID)
}

// AutosharesForUser returns the user's autoshare memberships.
func (s *Store) AutosharesForUser(username string) []AutoshareMembership {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return autosharesForUser(&s.state, username)
}

// GroupsForUser returns the groups the user belongs to.
func (s *Store) GroupsForUser(username string) []Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Group
	for _, g := range s.state.groups {
		if g.HasMember(username) {
			out = append(out, cloneGroup(g))
		}
	}
	return out
}
