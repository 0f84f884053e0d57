package core

import (
	"context"
	"fmt"
	"strings"
)

// CreateUser registers a user. The first user may be created without an
// actor; afterwards only admins and sysadmins may create accounts.
func (s *Service) CreateUser(ctx context.Context, p Principal, user User) (User, error) {
	var created User
	err := s.run(ctx, "create_user", func() error {
		if strings.TrimSpace(user.Username) == "" {
			return InvalidStateError{Message: "username required"}
		}
		if len(s.store.ListUsers()) > 0 {
			actor, ok := s.store.GetUser(p.Username)
			if !ok || (actor.Role != RoleAdmin && actor.Role != RoleSysAdmin) {
				return DeniedError{Operation: OpAdminister, Reason: "only an administrator may create users"}
			}
		}
		if user.Role == "" {
			user.Role = RoleUser
		}
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateUser(user)
			return err
		})
		return err
	})
	return created, err
}

// SetGlobalRole changes a user's system-wide role. Admins and sysadmins may
// change roles; the only self-service path is a user taking the PI role when
// their account carries the standing PI entitlement.
func (s *Service) SetGlobalRole(ctx context.Context, p Principal, username string, role GlobalRole) (User, error) {
	var updated User
	err := s.run(ctx, "set_global_role", func() error {
		actor, ok := s.store.GetUser(p.Username)
		if !ok {
			return DeniedError{Operation: OpAdminister, Reason: "access denied"}
		}
		admin := actor.Role == RoleAdmin || actor.Role == RoleSysAdmin
		selfPI := p.Username == username && role == RolePI && actor.AllowedPiRole
		if !admin && !selfPI {
			return DeniedError{Operation: OpAdminister, Reason: "not entitled to change this role"}
		}
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			updated, err = tx.UpdateUser(username, func(u *User) error {
				u.Role = role
				return nil
			})
			return err
		})
		if err != nil {
			return err
		}
		s.resolver.InvalidateUser(username)
		s.recordAudit(p, AuditEntry{
			Action: AuditRoleChange,
			Target: username,
			Detail: string(role),
		})
		return nil
	})
	return updated, err
}

// DisableUser marks the account disabled, ends its session, and reclaims
// its locks. Sysadmin only.
func (s *Service) DisableUser(ctx context.Context, p Principal, username string) error {
	return s.run(ctx, "disable_user", func() error {
		actor, ok := s.store.GetUser(p.Username)
		if !ok || actor.Role != RoleSysAdmin {
			return DeniedError{Operation: OpAdminister, Reason: "only a system administrator may disable accounts"}
		}
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			_, err := tx.UpdateUser(username, func(u *User) error {
				u.Disabled = true
				return nil
			})
			return err
		})
		if err != nil {
			return err
		}
		s.sessions.RemoveSession(username)
		s.resolver.InvalidateUser(username)
		s.recordAudit(p, AuditEntry{
			Action: AuditRoleChange,
			Target: username,
			Detail: "account disabled",
		})
		return nil
	})
}

// CreateGroup creates a group with its members and a communal folder owned
// by the group's PI. The group must arrive with exactly one PI.
func (s *Service) CreateGroup(ctx context.Context, p Principal, group Group) (Group, error) {
	var created Group
	err := s.run(ctx, "create_group", func() error {
		actor, ok := s.store.GetUser(p.Username)
		if !ok || (actor.Role != RoleAdmin && actor.Role != RoleSysAdmin) {
			return DeniedError{Operation: OpAdminister, Reason: "only an administrator may create groups"}
		}
		pi, ok := group.PI()
		if !ok {
			return InvalidStateError{Message: "a group requires a principal investigator"}
		}
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			folder, err := tx.CreateRecord(Record{
				Kind:  KindFolder,
				Name:  group.Name + " shared",
				Owner: pi.Username,
			})
			if err != nil {
				return err
			}
			group.CommunalFolderID = folder.ID
			created, err = tx.CreateGroup(group)
			return err
		})
		if err != nil {
			return err
		}
		for _, m := range created.Members {
			s.resolver.InvalidateUser(m.Username)
		}
		s.recordAudit(p, AuditEntry{
			Action: AuditMembershipChange,
			Target: created.ID,
			Detail: "group created",
		})
		return nil
	})
	return created, err
}

// canManageGroup reports whether the actor may administer the group's
// membership: its PI, or a global admin.
func (s *Service) canManageGroup(username string, g Group) bool {
	actor, ok := s.store.GetUser(username)
	if !ok {
		return false
	}
	if actor.Role == RoleAdmin || actor.Role == RoleSysAdmin {
		return true
	}
	m, ok := g.Member(username)
	return ok && m.Role == GroupRolePI
}

// AddMember adds a user to the group. Joining never enables autosharing for
// the new member; that is a separate explicit step.
func (s *Service) AddMember(ctx context.Context, p Principal, groupID string, member GroupMember) (Group, error) {
	var updated Group
	err := s.run(ctx, "add_member", func() error {
		group, ok := s.store.GetGroup(groupID)
		if !ok {
			return NotFoundError{Entity: EntityGroup, ID: groupID}
		}
		if !s.canManageGroup(p.Username, group) {
			return DeniedError{Operation: OpAdminister, Reason: "not entitled to manage this group"}
		}
		if member.Role == "" {
			member.Role = GroupRoleMember
		}
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			updated, err = tx.UpdateGroup(groupID, func(g *Group) error {
				if g.HasMember(member.Username) {
					return InvalidStateError{Message: fmt.Sprintf("%s is already a member", member.Username)}
				}
				g.Members = append(g.Members, member)
				return nil
			})
			return err
		})
		if err != nil {
			return err
		}
		s.resolver.InvalidateGroup(updated)
		s.recordAudit(p, AuditEntry{
			Action: AuditMembershipChange,
			Target: groupID,
			Detail: "added " + member.Username,
		})
		return nil
	})
	return updated, err
}

// RemoveMember removes a user from the group, detaching their autoshare
// membership. Removing the sole PI is rejected.
func (s *Service) RemoveMember(ctx context.Context, p Principal, groupID, username string) (Group, error) {
	var updated Group
	err := s.run(ctx, "remove_member", func() error {
		group, ok := s.store.GetGroup(groupID)
		if !ok {
			return NotFoundError{Entity: EntityGroup, ID: groupID}
		}
		if !s.canManageGroup(p.Username, group) {
			return DeniedError{Operation: OpAdminister, Reason: "not entitled to manage this group"}
		}
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			updated, err = tx.UpdateGroup(groupID, func(g *Group) error {
				kept := g.Members[:0]
				found := false
				for _, m := range g.Members {
					if m.Username == username {
						found = true
						continue
					}
					kept = append(kept, m)
				}
				if !found {
					return NotFoundError{Entity: EntityUser, ID: username}
				}
				g.Members = kept
				return nil
			})
			if err != nil {
				return err
			}
			for _, a := range tx.AutosharesForUser(username) {
				if a.GroupID == groupID {
					if err := tx.DeleteAutoshareMembership(a.ID); err != nil {
						return err
					}
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		s.resolver.InvalidateGroup(group)
		s.recordAudit(p, AuditEntry{
			Action: AuditMembershipChange,
			Target: groupID,
			Detail: "removed " + username,
		})
		return nil
	})
	return updated, err
}

// SetGroupRole changes a member's role within the group, including the
// lab admin view-all flag. Demoting the sole PI is rejected; promoting a
// different member to PI demotes the incumbent in the same commit so the
// group never passes through a zero-PI or two-PI state.
func (s *Service) SetGroupRole(ctx context.Context, p Principal, groupID, username string, role GroupRole, viewAll bool) (Group, error) {
	var updated Group
	err := s.run(ctx, "set_group_role", func() error {
		group, ok := s.store.GetGroup(groupID)
		if !ok {
			return NotFoundError{Entity: EntityGroup, ID: groupID}
		}
		if !s.canManageGroup(p.Username, group) {
			return DeniedError{Operation: OpAdminister, Reason: "not entitled to manage this group"}
		}
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			updated, err = tx.UpdateGroup(groupID, func(g *Group) error {
				for i := range g.Members {
					if g.Members[i].Username != username {
						continue
					}
					if role == GroupRolePI && g.Members[i].Role != GroupRolePI {
						// PI handover: the incumbent steps down to plain
						// membership in the same commit.
						for j := range g.Members {
							if g.Members[j].Role == GroupRolePI {
								g.Members[j].Role = GroupRoleMember
								g.Members[j].ViewAll = false
							}
						}
					}
					g.Members[i].Role = role
					g.Members[i].ViewAll = viewAll && role == GroupRoleLabAdmin
					return nil
				}
				return NotFoundError{Entity: EntityUser, ID: username}
			})
			return err
		})
		if err != nil {
			return err
		}
		s.resolver.InvalidateGroup(group)
		s.recordAudit(p, AuditEntry{
			Action: AuditRoleChange,
			Target: username,
			Detail: fmt.Sprintf("group %s role %s", groupID, role),
		})
		return nil
	})
	return updated, err
}

// DeleteGroup removes an empty group. Groups with members cannot be torn
// down.
func (s *Service) DeleteGroup(ctx context.Context, p Principal, groupID string) error {
	return s.run(ctx, "delete_group", func() error {
		group, ok := s.store.GetGroup(groupID)
		if !ok {
			return NotFoundError{Entity: EntityGroup, ID: groupID}
		}
		if !s.canManageGroup(p.Username, group) {
			return DeniedError{Operation: OpAdminister, Reason: "not entitled to manage this group"}
		}
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			return tx.DeleteGroup(groupID)
		})
		if err != nil {
			return err
		}
		s.recordAudit(p, AuditEntry{
			Action: AuditMembershipChange,
			Target: groupID,
			Detail: "group deleted",
		})
		return nil
	})
}

// CreateRecord persists a record owned by the principal. Autoshare
// propagation happens in the same transaction: one grant per group the
// owner autoshares with, deduplicated across overlapping memberships.
func (s *Service) CreateRecord(ctx context.Context, p Principal, rec Record) (Record, error) {
	var created Record
	err := s.run(ctx, "create_record", func() error {
		if _, ok := s.store.GetUser(p.Username); !ok {
			return DeniedError{Operation: OpWrite, Reason: "access denied"}
		}
		rec.Owner = p.Username
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateRecord(rec)
			if err != nil {
				return err
			}
			created, err = s.propagateAutoshares(tx, created)
			return err
		})
		if err != nil {
			return err
		}
		// Drop any denial cached for this id before the record existed.
		s.resolver.InvalidateUser(p.Username)
		for _, g := range s.store.GrantsForRecord(created.ID) {
			s.invalidateForGrant(g)
		}
		return nil
	})
	return created, err
}

// DeleteRecord removes a record and its grants. Deletion is refused while a
// different live session is editing, regardless of the caller's role.
func (s *Service) DeleteRecord(ctx context.Context, p Principal, recordID string) error {
	return s.run(ctx, "delete_record", func() error {
		if editor, ok := s.locks.CurrentEditor(recordID, p.Username); ok && s.sessions.IsActive(editor) {
			return InvalidStateError{Message: fmt.Sprintf(
				"record cannot be deleted as it is currently edited by %s", editor)}
		}
		if d := s.resolver.Decide(p.Username, recordID, OpDelete); !d.Allowed {
			return DeniedError{Operation: OpDelete, RecordID: recordID, Reason: d.Reason}
		}
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			for _, g := range tx.GrantsForRecord(recordID) {
				if err := tx.DeleteGrant(g.ID); err != nil {
					return err
				}
			}
			return tx.DeleteRecord(recordID)
		})
		if err != nil {
			return err
		}
		s.locks.Release(recordID, p.Username)
		s.resolver.InvalidateAll()
		s.recordAudit(p, AuditEntry{
			Action: AuditRecordDelete,
			Target: recordID,
		})
		return nil
	})
}
