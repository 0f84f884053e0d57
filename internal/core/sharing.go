package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"recordcore/internal/notify"
)

// GrantSpec describes one requested grant in a share call.
type GrantSpec struct {
	Kind        PrincipalKind    `json:"kind"`
	Target      string           `json:"target,omitempty"`
	Level       PermissionLevel  `json:"level"`
	Publication *PublicationMeta `json:"publication,omitempty"`
}

// ShareResult reports the outcome of a share call. Individual grant
// failures land in Errors without aborting the remaining grants.
type ShareResult struct {
	SharedIDs   []string `json:"shared_ids,omitempty"`
	PublicLinks []string `json:"public_links,omitempty"`
	Errors      []error  `json:"-"`
}

// canAdminister reports whether the principal may create or modify grants on
// the record.
func (s *Service) canAdminister(username, recordID string) Decision {
	return s.resolver.Decide(username, recordID, OpAdminister)
}

// Share applies the requested grants to the record. The caller must own the
// record or hold administrative rights over it. World grants additionally
// require the public sharing property and a group of the owner that allows
// publication; they produce a public link alongside any existing grants.
func (s *Service) Share(ctx context.Context, p Principal, recordID string, specs []GrantSpec) (ShareResult, error) {
	var result ShareResult
	err := s.run(ctx, "share", func() error {
		rec, ok := s.store.GetRecord(recordID)
		if !ok {
			return DeniedError{Operation: OpAdminister, RecordID: recordID, Reason: "access denied"}
		}
		if d := s.canAdminister(p.Username, recordID); !d.Allowed {
			return DeniedError{Operation: OpAdminister, RecordID: recordID, Reason: d.Reason}
		}
		// Entries of a shared notebook cannot be shared independently; they
		// follow the notebook's grant set.
		if nb := rec.EnclosingNotebook(); nb != "" && len(s.store.GrantsForRecord(nb)) > 0 {
			return InvalidStateError{Message: "entry inherits sharing from its notebook; share the notebook instead"}
		}

		for _, spec := range specs {
			grant, err := s.applyGrant(ctx, p, rec, spec)
			if err != nil {
				result.Errors = append(result.Errors, err)
				continue
			}
			result.SharedIDs = append(result.SharedIDs, grant.ID)
			if grant.Publication != nil {
				result.PublicLinks = append(result.PublicLinks, grant.Publication.PublicLink)
			}
		}
		return nil
	})
	return result, err
}

// applyGrant upserts one grant. An existing grant for the same principal is
// upgraded in place rather than duplicated.
func (s *Service) applyGrant(ctx context.Context, p Principal, rec Record, spec GrantSpec) (Grant, error) {
	if !spec.Level.Valid() || spec.Level == LevelNone {
		return Grant{}, InvalidStateError{Message: fmt.Sprintf("invalid permission level %q", spec.Level)}
	}

	var created Grant
	switch spec.Kind {
	case PrincipalUser:
		if _, ok := s.store.GetUser(spec.Target); !ok {
			return Grant{}, NotFoundError{Entity: EntityUser, ID: spec.Target}
		}
	case PrincipalGroup:
		if _, ok := s.store.GetGroup(spec.Target); !ok {
			return Grant{}, NotFoundError{Entity: EntityGroup, ID: spec.Target}
		}
	case PrincipalWorld:
		if !s.props.Allowed(PropPublicSharing) {
			return Grant{}, PolicyDisabledError{Property: PropPublicSharing}
		}
		if !s.ownerMayPublish(rec.Owner) {
			return Grant{}, PolicyDisabledError{
				Property: PropPublicSharing,
				Message:  "no group of the record owner allows publication",
			}
		}
	default:
		return Grant{}, InvalidStateError{Message: fmt.Sprintf("unknown principal kind %q", spec.Kind)}
	}

	_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		for _, g := range tx.GrantsForRecord(rec.ID) {
			if g.PrincipalKind == spec.Kind && g.TargetID == spec.Target {
				var uerr error
				created, uerr = tx.UpdateGrant(g.ID, func(up *Grant) error {
					up.Level = MaxLevel(up.Level, spec.Level)
					return nil
				})
				return uerr
			}
		}

		grant := Grant{
			RecordID:      rec.ID,
			PrincipalKind: spec.Kind,
			TargetID:      spec.Target,
			Level:         spec.Level,
		}
		if spec.Kind == PrincipalWorld {
			meta := PublicationMeta{PublicLink: uuid.NewString()}
			if spec.Publication != nil {
				meta.Summary = spec.Publication.Summary
				meta.DisplayContactInfo = spec.Publication.DisplayContactInfo
			}
			grant.Publication = &meta
		}
		var cerr error
		created, cerr = tx.CreateGrant(grant)
		if cerr != nil {
			return cerr
		}

		if spec.Kind == PrincipalGroup {
			return s.linkIntoCommunalFolder(tx, rec.ID, spec.Target)
		}
		return nil
	})
	if err != nil {
		return Grant{}, err
	}

	s.invalidateForGrant(created)
	s.recordAudit(p, AuditEntry{
		Action: AuditShare,
		Target: rec.ID,
		Detail: fmt.Sprintf("%s %s to %s", spec.Level, string(spec.Kind), spec.Target),
	})
	s.notifier.Publish(notify.Event{
		Type:       notify.TypeShared,
		Actor:      p.Effective(),
		RecordID:   rec.ID,
		GroupID:    groupTarget(created),
		Message:    fmt.Sprintf("%s shared %s", p.Effective(), rec.Name),
		OccurredAt: s.clock.Now(),
	})
	return created, nil
}

// ownerMayPublish reports whether any group the owner belongs to allows
// publication. Owners outside every group cannot publish.
func (s *Service) ownerMayPublish(owner string) bool {
	for _, g := range s.store.GroupsForUser(owner) {
		if g.PublicationAllowed {
			return true
		}
	}
	return false
}

// linkIntoCommunalFolder projects the record into the group's shared folder.
func (s *Service) linkIntoCommunalFolder(tx Transaction, recordID, groupID string) error {
	group, ok := tx.FindGroup(groupID)
	if !ok || group.CommunalFolderID == "" {
		return nil
	}
	_, err := tx.UpdateRecord(recordID, func(r *Record) error {
		for _, link := range r.FolderLinks {
			if link == group.CommunalFolderID {
				return nil
			}
		}
		r.FolderLinks = append(r.FolderLinks, group.CommunalFolderID)
		return nil
	})
	return err
}

func groupTarget(g Grant) string {
	if g.PrincipalKind == PrincipalGroup {
		return g.TargetID
	}
	return ""
}

// invalidateForGrant drops the cached decisions the grant can affect.
func (s *Service) invalidateForGrant(g Grant) {
	switch g.PrincipalKind {
	case PrincipalUser:
		s.resolver.InvalidateUser(g.TargetID)
	case PrincipalGroup:
		if group, ok := s.store.GetGroup(g.TargetID); ok {
			s.resolver.InvalidateGroup(group)
		}
	case PrincipalWorld:
		s.resolver.InvalidateAll()
	}
}

// UpdatePermission changes a grant's level. The change applies to every
// subsequent permission evaluation; operations already in flight under the
// old level are not interrupted.
func (s *Service) UpdatePermission(ctx context.Context, p Principal, grantID string, level PermissionLevel) (Grant, error) {
	var updated Grant
	err := s.run(ctx, "update_permission", func() error {
		if !level.Valid() || level == LevelNone {
			return InvalidStateError{Message: fmt.Sprintf("invalid permission level %q", level)}
		}
		grant, ok := s.store.GetGrant(grantID)
		if !ok {
			return NotFoundError{Entity: EntityGrant, ID: grantID}
		}
		if d := s.canAdminister(p.Username, grant.RecordID); !d.Allowed {
			return DeniedError{Operation: OpAdminister, RecordID: grant.RecordID, Reason: d.Reason}
		}
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var uerr error
			updated, uerr = tx.UpdateGrant(grantID, func(g *Grant) error {
				g.Level = level
				return nil
			})
			return uerr
		})
		if err != nil {
			return err
		}
		s.invalidateForGrant(updated)
		s.recordAudit(p, AuditEntry{
			Action: AuditPermissionChange,
			Target: grantID,
			Detail: string(level),
		})
		s.notifier.Publish(notify.Event{
			Type:       notify.TypePermissionChange,
			Actor:      p.Effective(),
			RecordID:   updated.RecordID,
			GroupID:    groupTarget(updated),
			Message:    fmt.Sprintf("permission changed to %s", level),
			OccurredAt: s.clock.Now(),
		})
		return nil
	})
	return updated, err
}

// Unshare removes a grant, revoking the principal's access on the next
// evaluation. A revoked user currently editing keeps their session; their
// next access check reflects the revocation.
func (s *Service) Unshare(ctx context.Context, p Principal, grantID string) error {
	return s.run(ctx, "unshare", func() error {
		grant, ok := s.store.GetGrant(grantID)
		if !ok {
			return NotFoundError{Entity: EntityGrant, ID: grantID}
		}
		if d := s.canAdminister(p.Username, grant.RecordID); !d.Allowed {
			return DeniedError{Operation: OpAdminister, RecordID: grant.RecordID, Reason: d.Reason}
		}
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if err := tx.DeleteGrant(grantID); err != nil {
				return err
			}
			if grant.PrincipalKind == PrincipalGroup {
				return s.unlinkFromCommunalFolder(tx, grant.RecordID, grant.TargetID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		s.invalidateForGrant(grant)
		s.recordAudit(p, AuditEntry{
			Action: AuditUnshare,
			Target: grant.RecordID,
			Detail: fmt.Sprintf("%s %s", string(grant.PrincipalKind), grant.TargetID),
		})
		s.notifier.Publish(notify.Event{
			Type:       notify.TypeUnshared,
			Actor:      p.Effective(),
			RecordID:   grant.RecordID,
			GroupID:    groupTarget(grant),
			Message:    fmt.Sprintf("%s revoked access", p.Effective()),
			OccurredAt: s.clock.Now(),
		})
		return nil
	})
}

// unlinkFromCommunalFolder removes the shared-folder projection when the
// group grant goes away.
func (s *Service) unlinkFromCommunalFolder(tx Transaction, recordID, groupID string) error {
	group, ok := tx.FindGroup(groupID)
	if !ok || group.CommunalFolderID == "" {
		return nil
	}
	_, err := tx.UpdateRecord(recordID, func(r *Record) error {
		kept := r.FolderLinks[:0]
		for _, link := range r.FolderLinks {
			if link != group.CommunalFolderID {
				kept = append(kept, link)
			}
		}
		r.FolderLinks = kept
		return nil
	})
	return err
}

// ShareIntoNotebook links a document into a notebook so it inherits the
// notebook's grants. The caller needs administrative rights over the
// document and write access to the notebook.
func (s *Service) ShareIntoNotebook(ctx context.Context, p Principal, recordID, notebookID string) (Record, error) {
	var updated Record
	err := s.run(ctx, "share_into_notebook", func() error {
		rec, ok := s.store.GetRecord(recordID)
		if !ok {
			return DeniedError{Operation: OpAdminister, RecordID: recordID, Reason: "access denied"}
		}
		if rec.Kind != KindDocument {
			return InvalidStateError{Message: "only documents can be shared into a notebook"}
		}
		notebook, ok := s.store.GetRecord(notebookID)
		if !ok || notebook.Kind != KindNotebook {
			return InvalidStateError{Message: fmt.Sprintf("%s is not a notebook", notebookID)}
		}
		if d := s.canAdminister(p.Username, recordID); !d.Allowed {
			return DeniedError{Operation: OpAdminister, RecordID: recordID, Reason: d.Reason}
		}
		if !s.resolver.IsPermitted(p.Username, notebookID, OpWrite) {
			return DeniedError{Operation: OpWrite, RecordID: notebookID, Reason: "write access to the notebook required"}
		}
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var uerr error
			updated, uerr = tx.UpdateRecord(recordID, func(r *Record) error {
				r.NotebookID = notebookID
				return nil
			})
			return uerr
		})
		if err != nil {
			return err
		}
		// Inherited grants change who can see the document.
		s.resolver.InvalidateAll()
		s.recordAudit(p, AuditEntry{
			Action: AuditShare,
			Target: recordID,
			Detail: "into notebook " + notebookID,
		})
		return nil
	})
	return updated, err
}
