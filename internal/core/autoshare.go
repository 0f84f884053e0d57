package core

import (
	"context"
	"fmt"

	"recordcore/internal/notify"
)

// canToggleGroupAutoshare reports whether the actor may flip autosharing
// for other members of the group: the group's PI, a view-all lab admin, or
// a sysadmin.
func (s *Service) canToggleGroupAutoshare(username string, g Group) bool {
	actor, ok := s.store.GetUser(username)
	if !ok {
		return false
	}
	if actor.Role == RoleSysAdmin {
		return true
	}
	m, ok := g.Member(username)
	if !ok {
		return false
	}
	return m.Role == GroupRolePI || (m.Role == GroupRoleLabAdmin && m.ViewAll)
}

// SetGroupAutoshare toggles group-wide autosharing. Gated by group role and
// by the system-wide availability switch. Exactly one notification goes out
// per toggle, addressed to every member, never one per document.
func (s *Service) SetGroupAutoshare(ctx context.Context, p Principal, groupID string, enabled bool) (Group, error) {
	var updated Group
	err := s.run(ctx, "set_group_autoshare", func() error {
		group, ok := s.store.GetGroup(groupID)
		if !ok {
			return NotFoundError{Entity: EntityGroup, ID: groupID}
		}
		if !s.props.Allowed(PropGroupAutosharing) {
			return PolicyDisabledError{Property: PropGroupAutosharing}
		}
		if !s.canToggleGroupAutoshare(p.Username, group) {
			return DeniedError{Operation: OpAdminister, Reason: "not entitled to toggle autosharing for this group"}
		}
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var uerr error
			updated, uerr = tx.UpdateGroup(groupID, func(g *Group) error {
				g.AutoshareEnabled = enabled
				return nil
			})
			return uerr
		})
		if err != nil {
			return err
		}
		recipients := make([]string, 0, len(updated.Members))
		for _, m := range updated.Members {
			recipients = append(recipients, m.Username)
		}
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		s.recordAudit(p, AuditEntry{
			Action: AuditAutoshareToggle,
			Target: groupID,
			Detail: "group-wide " + state,
		})
		s.notifier.Publish(notify.Event{
			Type:       notify.TypeAutoshareToggle,
			Actor:      p.Effective(),
			GroupID:    groupID,
			Recipients: recipients,
			Message:    fmt.Sprintf("autosharing %s for %s", state, updated.Name),
			OccurredAt: s.clock.Now(),
		})
		return nil
	})
	return updated, err
}

// SetUserAutoshare toggles one member's autoshare membership for a group.
// Members always control their own membership; toggling someone else's
// requires group-admin standing and the availability switch. Enabling with a
// fresh folder name creates a new target folder and leaves any previous one
// detached with its contents intact.
func (s *Service) SetUserAutoshare(ctx context.Context, p Principal, groupID, username string, enabled bool, folderName string) (AutoshareMembership, error) {
	var membership AutoshareMembership
	err := s.run(ctx, "set_user_autoshare", func() error {
		group, ok := s.store.GetGroup(groupID)
		if !ok {
			return NotFoundError{Entity: EntityGroup, ID: groupID}
		}
		if !group.HasMember(username) {
			return InvalidStateError{Message: fmt.Sprintf("%s is not a member of the group", username)}
		}
		if p.Username != username {
			if !s.props.Allowed(PropGroupAutosharing) {
				return PolicyDisabledError{Property: PropGroupAutosharing}
			}
			if !s.canToggleGroupAutoshare(p.Username, group) {
				return DeniedError{Operation: OpAdminister, Reason: "not entitled to toggle autosharing for this member"}
			}
		}

		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var existing *AutoshareMembership
			for _, a := range tx.AutosharesForUser(username) {
				if a.GroupID == groupID {
					a := a
					existing = &a
					break
				}
			}

			if !enabled {
				if existing == nil {
					return nil
				}
				// The target folder stays behind with whatever was shared
				// into it.
				return tx.DeleteAutoshareMembership(existing.ID)
			}

			if folderName == "" {
				folderName = group.Name + " autoshared"
			}
			if existing != nil {
				folder, ok := tx.FindRecord(existing.FolderID)
				if ok && folder.Name == folderName {
					membership = *existing
					return nil
				}
				if err := tx.DeleteAutoshareMembership(existing.ID); err != nil {
					return err
				}
			}
			folder, err := tx.CreateRecord(Record{
				Kind:  KindFolder,
				Name:  folderName,
				Owner: username,
			})
			if err != nil {
				return err
			}
			membership, err = tx.CreateAutoshareMembership(AutoshareMembership{
				Username: username,
				GroupID:  groupID,
				FolderID: folder.ID,
			})
			return err
		})
		if err != nil {
			return err
		}
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		s.recordAudit(p, AuditEntry{
			Action: AuditAutoshareToggle,
			Target: username,
			Detail: fmt.Sprintf("group %s %s", groupID, state),
		})
		return nil
	})
	return membership, err
}

// propagateAutoshares grants the freshly created record to every group the
// owner autoshares with, either through a personal membership or through a
// group-wide toggle. Overlapping memberships collapse to one grant per
// group.
func (s *Service) propagateAutoshares(tx Transaction, rec Record) (Record, error) {
	if rec.Kind == KindFolder {
		return rec, nil
	}

	type target struct {
		level    PermissionLevel
		folderID string
	}
	targets := make(map[string]target)

	view := tx.Snapshot()
	for _, a := range tx.AutosharesForUser(rec.Owner) {
		level := LevelWrite
		folderID := a.FolderID
		if g, ok := view.FindGroup(a.GroupID); ok && g.AutoshareLevel != LevelNone {
			level = g.AutoshareLevel
		}
		targets[a.GroupID] = target{level: level, folderID: folderID}
	}
	for _, g := range view.ListGroups() {
		if !g.AutoshareEnabled || !g.HasMember(rec.Owner) {
			continue
		}
		if _, ok := targets[g.ID]; ok {
			continue
		}
		level := g.AutoshareLevel
		if level == LevelNone {
			level = LevelWrite
		}
		targets[g.ID] = target{level: level, folderID: g.CommunalFolderID}
	}

	for groupID, t := range targets {
		if _, err := tx.CreateGrant(Grant{
			RecordID:      rec.ID,
			PrincipalKind: PrincipalGroup,
			TargetID:      groupID,
			Level:         t.level,
		}); err != nil {
			return rec, err
		}
		if t.folderID == "" {
			continue
		}
		folderID := t.folderID
		updated, err := tx.UpdateRecord(rec.ID, func(r *Record) error {
			for _, link := range r.FolderLinks {
				if link == folderID {
					return nil
				}
			}
			r.FolderLinks = append(r.FolderLinks, folderID)
			return nil
		})
		if err != nil {
			return rec, err
		}
		rec = updated
	}
	return rec, nil
}
