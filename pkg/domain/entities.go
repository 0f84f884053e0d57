// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by recordcore.
package domain

import (
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityUser identifies a user account record.
	EntityUser EntityType = "user"
	// EntityGroup identifies a group record.
	EntityGroup EntityType = "group"
	// EntityRecord identifies an addressable workspace record (document,
	// notebook, notebook entry, or folder).
	EntityRecord EntityType = "record"
	// EntityGrant identifies an access-control grant.
	EntityGrant EntityType = "grant"
	// EntityAutoshare identifies a per-user autoshare membership.
	EntityAutoshare EntityType = "autoshare_membership"
)

// GlobalRole represents a user's system-wide role.
type GlobalRole string

// Global roles ordered by increasing authority. A user holds exactly one.
const (
	// RoleUser is the default role with no elevated access.
	RoleUser GlobalRole = "user"
	// RolePI marks a user eligible to lead groups. It confers no access by
	// itself; elevated rights come from holding the PI position in a group.
	RolePI GlobalRole = "pi"
	// RoleAdmin can provision groups and accounts.
	RoleAdmin GlobalRole = "admin"
	// RoleSysAdmin bypasses all permission checks.
	RoleSysAdmin GlobalRole = "sysadmin"
)

// GroupRole represents a member's role within a single group.
type GroupRole string

// Roles a member may hold inside a group. Each group has exactly one PI.
const (
	// GroupRolePI is the principal investigator of the group.
	GroupRolePI GroupRole = "pi"
	// GroupRoleLabAdmin is a group-scoped administrator. Elevated
	// visibility requires the member's ViewAll flag.
	GroupRoleLabAdmin GroupRole = "lab_admin"
	// GroupRoleMember is an ordinary member.
	GroupRoleMember GroupRole = "member"
)

// RecordKind distinguishes the addressable record shapes.
type RecordKind string

// Record kinds handled by the sharing and lock subsystems.
const (
	KindDocument RecordKind = "document"
	KindNotebook RecordKind = "notebook"
	KindEntry    RecordKind = "notebook_entry"
	KindFolder   RecordKind = "folder"
)

// PermissionLevel is the access level attached to a grant.
//
// Levels are hierarchical: write implies read.
type PermissionLevel string

const (
	// LevelNone indicates no access.
	LevelNone PermissionLevel = "none"
	// LevelRead allows reading the record.
	LevelRead PermissionLevel = "read"
	// LevelWrite allows reading and editing the record.
	LevelWrite PermissionLevel = "write"
)

// Rank returns the numeric level of the permission for comparison. Higher
// values indicate more permissive access.
func (p PermissionLevel) Rank() int {
	switch p {
	case LevelRead:
		return 1
	case LevelWrite:
		return 2
	default:
		return 0
	}
}

// CanRead reports whether this level allows reading.
func (p PermissionLevel) CanRead() bool { return p.Rank() >= LevelRead.Rank() }

// CanWrite reports whether this level allows writing.
func (p PermissionLevel) CanWrite() bool { return p.Rank() >= LevelWrite.Rank() }

// Valid reports whether the value is a recognised grantable level.
func (p PermissionLevel) Valid() bool { return p == LevelRead || p == LevelWrite }

// MaxLevel returns the more permissive of two levels.
func MaxLevel(a, b PermissionLevel) PermissionLevel {
	if a.Rank() > b.Rank() {
		return a
	}
	return b
}

// Operation is a requested action evaluated by the permission resolver.
type Operation string

// Operations recognised by the resolver. OpWrite covers content edits,
// which are additionally serialised by the edit-lock tracker. OpStructure
// covers renames, moves, and other structural alterations that are denied
// while another session holds the record's edit lock.
const (
	OpRead       Operation = "read"
	OpWrite      Operation = "write"
	OpStructure  Operation = "structure"
	OpDelete     Operation = "delete"
	OpAdminister Operation = "administer"
)

// PrincipalKind identifies who a grant targets.
type PrincipalKind string

// Grantable principal kinds.
const (
	PrincipalGroup PrincipalKind = "group"
	PrincipalUser  PrincipalKind = "user"
	// PrincipalWorld targets the anonymous principal; grants of this kind
	// publish the record.
	PrincipalWorld PrincipalKind = "world"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User represents a provisioned account. Users are keyed by username and are
// never deleted, only disabled.
type User struct {
	Base
	Username      string     `json:"username"`
	DisplayName   string     `json:"display_name"`
	Role          GlobalRole `json:"role"`
	AllowedPiRole bool       `json:"allowed_pi_role"`
	Disabled      bool       `json:"disabled"`
}

// GroupMember annotates a group membership with the member's role-in-group.
type GroupMember struct {
	Username string    `json:"username"`
	Role     GroupRole `json:"role"`
	// ViewAll grants a lab admin visibility into ordinary members' records.
	// It has no effect for other roles.
	ViewAll bool `json:"view_all"`
}

// Group is a collection of members led by exactly one PI.
type Group struct {
	Base
	Name    string        `json:"name"`
	Members []GroupMember `json:"members"`
	// AutoshareEnabled turns on group-wide autosharing of newly created
	// records into the group's shared folder.
	AutoshareEnabled bool `json:"autoshare_enabled"`
	// AutoshareLevel is the permission level granted when autosharing. The
	// zero value is treated as write.
	AutoshareLevel PermissionLevel `json:"autoshare_level,omitempty"`
	// PublicationAllowed gates world grants on records owned by members of
	// this group.
	PublicationAllowed bool `json:"publication_allowed"`
	// LabAdminEdit extends ViewAll lab admins from read to write over
	// ordinary members' records.
	LabAdminEdit      bool `json:"lab_admin_edit"`
	EnforceOntologies bool `json:"enforce_ontologies"`
	// CommunalFolderID is the group's shared folder. Records granted to the
	// group project into it.
	CommunalFolderID string `json:"communal_folder_id,omitempty"`
}

// PI returns the group's principal investigator.
func (g Group) PI() (GroupMember, bool) {
	for _, m := range g.Members {
		if m.Role == GroupRolePI {
			return m, true
		}
	}
	return GroupMember{}, false
}

// Member returns the membership entry for the given username.
func (g Group) Member(username string) (GroupMember, bool) {
	for _, m := range g.Members {
		if m.Username == username {
			return m, true
		}
	}
	return GroupMember{}, false
}

// HasMember reports whether the username belongs to the group.
func (g Group) HasMember(username string) bool {
	_, ok := g.Member(username)
	return ok
}

// Record is an addressable unit owned by exactly one user. ParentID is the
// canonical location; FolderLinks are additional non-owning projections
// (shared and communal folders).
type Record struct {
	Base
	Kind  RecordKind `json:"kind"`
	Name  string     `json:"name"`
	Owner string     `json:"owner"`
	// ParentID references the enclosing folder, or the enclosing notebook
	// for notebook entries. Empty for roots.
	ParentID string `json:"parent_id,omitempty"`
	// NotebookID links a document into a notebook without changing its
	// canonical location. Linked documents inherit the notebook's grants.
	NotebookID  string   `json:"notebook_id,omitempty"`
	FolderLinks []string `json:"folder_links,omitempty"`
}

// IsNotebookEntry reports whether the record's effective grants include an
// enclosing notebook's grant set.
func (r Record) IsNotebookEntry() bool {
	return r.Kind == KindEntry || r.NotebookID != ""
}

// EnclosingNotebook returns the notebook whose grants the record inherits.
func (r Record) EnclosingNotebook() string {
	if r.Kind == KindEntry {
		return r.ParentID
	}
	return r.NotebookID
}

// Grant attaches a permission level to a principal for a record or notebook.
type Grant struct {
	Base
	RecordID      string        `json:"record_id"`
	PrincipalKind PrincipalKind `json:"principal_kind"`
	// TargetID is the group id or username the grant targets. Empty for
	// world grants.
	TargetID    string           `json:"target_id,omitempty"`
	Level       PermissionLevel  `json:"level"`
	Publication *PublicationMeta `json:"publication,omitempty"`
}

// AppliesTo reports whether the grant covers the given principal, taking the
// supplied group memberships into account.
func (g Grant) AppliesTo(username string, groupIDs []string) bool {
	switch g.PrincipalKind {
	case PrincipalWorld:
		return true
	case PrincipalUser:
		return g.TargetID == username
	case PrincipalGroup:
		for _, id := range groupIDs {
			if g.TargetID == id {
				return true
			}
		}
	}
	return false
}

// PublicationMeta captures the metadata attached to a world grant.
type PublicationMeta struct {
	Summary            string `json:"summary"`
	DisplayContactInfo bool   `json:"display_contact_info"`
	PublicLink         string `json:"public_link"`
}

// EditLock records the single session currently editing a record. At most
// one live lock exists per record id.
type EditLock struct {
	RecordID   string    `json:"record_id"`
	Username   string    `json:"username"`
	SessionID  string    `json:"session_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// AutoshareMembership enables autosharing for one (user, group) pair and
// names the folder newly created records are granted into.
type AutoshareMembership struct {
	Base
	Username string `json:"username"`
	GroupID  string `json:"group_id"`
	FolderID string `json:"folder_id"`
}

// EditStatus is the outcome of an edit request.
type EditStatus string

// Edit request outcomes returned by the lock tracker.
const (
	// StatusEditMode means the caller holds the edit lock.
	StatusEditMode EditStatus = "EDIT_MODE"
	// StatusViewMode means the caller may read but holds no live session,
	// so no lock was taken.
	StatusViewMode EditStatus = "VIEW_MODE"
	// StatusOtherEditing means another session holds the lock.
	StatusOtherEditing EditStatus = "CANNOT_EDIT_OTHER_EDITING"
	// StatusNoPermission means the caller may read but not write.
	StatusNoPermission EditStatus = "CANNOT_EDIT_NO_PERMISSION"
	// StatusAccessDenied means the record is missing or unreadable. The two
	// cases are deliberately indistinguishable.
	StatusAccessDenied EditStatus = "ACCESS_DENIED"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
