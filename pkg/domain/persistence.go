package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() RuleView
	CreateUser(User) (User, error)
	UpdateUser(username string, mutator func(*User) error) (User, error)
	CreateGroup(Group) (Group, error)
	UpdateGroup(id string, mutator func(*Group) error) (Group, error)
	DeleteGroup(id string) error
	CreateRecord(Record) (Record, error)
	UpdateRecord(id string, mutator func(*Record) error) (Record, error)
	DeleteRecord(id string) error
	CreateGrant(Grant) (Grant, error)
	UpdateGrant(id string, mutator func(*Grant) error) (Grant, error)
	DeleteGrant(id string) error
	CreateAutoshareMembership(AutoshareMembership) (AutoshareMembership, error)
	DeleteAutoshareMembership(id string) error
	FindUser(username string) (User, bool)
	FindGroup(id string) (Group, bool)
	FindRecord(id string) (Record, bool)
	FindGrant(id string) (Grant, bool)
	GrantsForRecord(recordID string) []Grant
	AutosharesForUser(username string) []AutoshareMembership
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(RuleView) error) error
	GetUser(username string) (User, bool)
	GetGroup(id string) (Group, bool)
	GetRecord(id string) (Record, bool)
	GetGrant(id string) (Grant, bool)
	ListUsers() []User
	ListGroups() []Group
	ListRecords() []Record
	ListGrants() []Grant
	ListAutoshareMemberships() []AutoshareMembership
	GrantsForRecord(recordID string) []Grant
	AutosharesForUser(username string) []AutoshareMembership
	GroupsForUser(username string) []Group
}
