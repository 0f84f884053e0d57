package core

import "recordcore/pkg/domain"

type (
	EntityType          = domain.EntityType
	GlobalRole          = domain.GlobalRole
	GroupRole           = domain.GroupRole
	RecordKind          = domain.RecordKind
	PermissionLevel     = domain.PermissionLevel
	Operation           = domain.Operation
	PrincipalKind       = domain.PrincipalKind
	Base                = domain.Base
	User                = domain.User
	Group               = domain.Group
	GroupMember         = domain.GroupMember
	Record              = domain.Record
	Grant               = domain.Grant
	PublicationMeta     = domain.PublicationMeta
	EditLock            = domain.EditLock
	AutoshareMembership = domain.AutoshareMembership
	EditStatus          = domain.EditStatus
	Severity            = domain.Severity
	Change              = domain.Change
	Action              = domain.Action
	Violation           = domain.Violation
	Result              = domain.Result
	RuleViolationError  = domain.RuleViolationError
	RulesEngine         = domain.RulesEngine
	Rule                = domain.Rule
	RuleView            = domain.RuleView
	Transaction         = domain.Transaction
	PersistentStore     = domain.PersistentStore
)

const (
	EntityUser      = domain.EntityUser
	EntityGroup     = domain.EntityGroup
	EntityRecord    = domain.EntityRecord
	EntityGrant     = domain.EntityGrant
	EntityAutoshare = domain.EntityAutoshare
)

const (
	RoleUser     = domain.RoleUser
	RolePI       = domain.RolePI
	RoleAdmin    = domain.RoleAdmin
	RoleSysAdmin = domain.RoleSysAdmin
)

const (
	GroupRolePI       = domain.GroupRolePI
	GroupRoleLabAdmin = domain.GroupRoleLabAdmin
	GroupRoleMember   = domain.GroupRoleMember
)

const (
	KindDocument = domain.KindDocument
	KindNotebook = domain.KindNotebook
	KindEntry    = domain.KindEntry
	KindFolder   = domain.KindFolder
)

const (
	LevelNone  = domain.LevelNone
	LevelRead  = domain.LevelRead
	LevelWrite = domain.LevelWrite
)

const (
	OpRead       = domain.OpRead
	OpWrite      = domain.OpWrite
	OpStructure  = domain.OpStructure
	OpDelete     = domain.OpDelete
	OpAdminister = domain.OpAdminister
)

const (
	PrincipalGroup = domain.PrincipalGroup
	PrincipalUser  = domain.PrincipalUser
	PrincipalWorld = domain.PrincipalWorld
)

const (
	StatusEditMode     = domain.StatusEditMode
	StatusViewMode     = domain.StatusViewMode
	StatusOtherEditing = domain.StatusOtherEditing
	StatusNoPermission = domain.StatusNoPermission
	StatusAccessDenied = domain.StatusAccessDenied
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)

// MaxLevel returns the more permissive of two levels.
var MaxLevel = domain.MaxLevel

// Principal is the acting identity carried through every core operation.
// RunAs attributes the action to another user for audit purposes while
// permissions are still evaluated against Username. Incognito suppresses the
// audit entry entirely.
type Principal struct {
	Username  string
	SessionID string
	RunAs     string
	Incognito bool
}

// Effective returns the username actions are attributed to in the audit
// trail.
func (p Principal) Effective() string {
	if p.RunAs != "" {
		return p.RunAs
	}
	return p.Username
}
