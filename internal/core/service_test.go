package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"recordcore/internal/notify"
)

// seedTx applies fn inside a store transaction, failing the test on error.
func seedTx(t *testing.T, s *Service, fn func(tx Transaction) error) {
	t.Helper()
	if _, err := s.Store().RunInTransaction(context.Background(), fn); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

// seedLab provisions a standard fixture: group with carol as PI, dana as
// view-all lab admin, alice and bob as members, and a document owned by
// alice. Returns the group and document ids.
func seedLab(t *testing.T, s *Service) (string, string) {
	t.Helper()
	var groupID, docID string
	seedTx(t, s, func(tx Transaction) error {
		for _, u := range []User{
			{Username: "alice"},
			{Username: "bob"},
			{Username: "carol", Role: RolePI},
			{Username: "dana"},
			{Username: "eve"},
			{Username: "root", Role: RoleSysAdmin},
			{Username: "adm", Role: RoleAdmin},
		} {
			if _, err := tx.CreateUser(u); err != nil {
				return err
			}
		}
		folder, err := tx.CreateRecord(Record{Kind: KindFolder, Name: "lab shared", Owner: "carol"})
		if err != nil {
			return err
		}
		group, err := tx.CreateGroup(Group{
			Name: "lab",
			Members: []GroupMember{
				{Username: "carol", Role: GroupRolePI},
				{Username: "dana", Role: GroupRoleLabAdmin, ViewAll: true},
				{Username: "alice", Role: GroupRoleMember},
				{Username: "bob", Role: GroupRoleMember},
			},
			PublicationAllowed: true,
			CommunalFolderID:   folder.ID,
		})
		if err != nil {
			return err
		}
		groupID = group.ID
		doc, err := tx.CreateRecord(Record{Kind: KindDocument, Name: "experiment", Owner: "alice"})
		if err != nil {
			return err
		}
		docID = doc.ID
		return nil
	})
	return groupID, docID
}

func TestRequestEditLockHandoff(t *testing.T) {
	svc := NewInMemoryService(nil)
	_, docID := seedLab(t, svc)
	ctx := context.Background()

	// bob needs write access before contending for the lock.
	if _, err := svc.Share(ctx, Principal{Username: "alice"}, docID, []GrantSpec{
		{Kind: PrincipalUser, Target: "bob", Level: LevelWrite},
	}); err != nil {
		t.Fatalf("share: %v", err)
	}

	svc.AddSession("alice", "s-alice")
	svc.AddSession("bob", "s-bob")

	if got := svc.RequestEdit(ctx, Principal{Username: "alice"}, docID); got != StatusEditMode {
		t.Fatalf("alice expected EDIT_MODE, got %s", got)
	}
	if got := svc.RequestEdit(ctx, Principal{Username: "bob"}, docID); got != StatusOtherEditing {
		t.Fatalf("bob expected CANNOT_EDIT_OTHER_EDITING, got %s", got)
	}
	// Re-entry by the holder is idempotent.
	if got := svc.RequestEdit(ctx, Principal{Username: "alice"}, docID); got != StatusEditMode {
		t.Fatalf("alice re-entry expected EDIT_MODE, got %s", got)
	}

	svc.Unlock(Principal{Username: "alice"}, docID)
	if got := svc.RequestEdit(ctx, Principal{Username: "bob"}, docID); got != StatusEditMode {
		t.Fatalf("bob after unlock expected EDIT_MODE, got %s", got)
	}
}

func TestRequestEditStatuses(t *testing.T) {
	svc := NewInMemoryService(nil)
	_, docID := seedLab(t, svc)
	ctx := context.Background()

	// No read access at all.
	svc.AddSession("eve", "s-eve")
	if got := svc.RequestEdit(ctx, Principal{Username: "eve"}, docID); got != StatusAccessDenied {
		t.Fatalf("expected ACCESS_DENIED, got %s", got)
	}

	// Missing record.
	if got := svc.RequestEdit(ctx, Principal{Username: "alice"}, "nope"); got != StatusAccessDenied {
		t.Fatalf("missing record expected ACCESS_DENIED, got %s", got)
	}

	// Read grant only: with a live session the caller still lacks write.
	if _, err := svc.Share(ctx, Principal{Username: "alice"}, docID, []GrantSpec{
		{Kind: PrincipalUser, Target: "bob", Level: LevelRead},
	}); err != nil {
		t.Fatalf("share: %v", err)
	}
	svc.AddSession("bob", "s-bob")
	if got := svc.RequestEdit(ctx, Principal{Username: "bob"}, docID); got != StatusNoPermission {
		t.Fatalf("expected CANNOT_EDIT_NO_PERMISSION, got %s", got)
	}

	// Readable but no live session: view only.
	svc.RemoveSession("bob")
	if got := svc.RequestEdit(ctx, Principal{Username: "bob"}, docID); got != StatusViewMode {
		t.Fatalf("expected VIEW_MODE, got %s", got)
	}
}

func TestSessionRemovalReclaimsLocks(t *testing.T) {
	sink := notify.NewMemorySink()
	svc := NewInMemoryService(nil, WithNotifier(sink))
	_, docID := seedLab(t, svc)
	ctx := context.Background()

	svc.AddSession("alice", "s1")
	if got := svc.RequestEdit(ctx, Principal{Username: "alice"}, docID); got != StatusEditMode {
		t.Fatalf("expected EDIT_MODE, got %s", got)
	}
	if svc.Locks().ActiveCount() != 1 {
		t.Fatalf("expected one live lock")
	}

	svc.RemoveSession("alice")
	if svc.Locks().ActiveCount() != 0 {
		t.Fatalf("expected lock reclaimed on session removal")
	}

	var reclaims int
	for _, e := range svc.Audit().Entries() {
		if e.Action == AuditLockReclaim && e.Target == docID {
			reclaims++
		}
	}
	if reclaims != 1 {
		t.Fatalf("expected one reclaim audit entry, got %d", reclaims)
	}

	events := sink.Events()
	if len(events) != 1 || events[0].Type != notify.TypeLockReclaimed {
		t.Fatalf("expected one lock reclaim event, got %+v", events)
	}

	// Removing an absent session is a no-op.
	svc.RemoveSession("alice")
	if got := len(svc.Audit().Entries()); got != 1 {
		t.Fatalf("expected no further audit entries, got %d", got)
	}
}

func TestReloginCarriesLocksToNewSession(t *testing.T) {
	svc := NewInMemoryService(nil)
	_, docID := seedLab(t, svc)
	ctx := context.Background()

	svc.AddSession("alice", "s1")
	if got := svc.RequestEdit(ctx, Principal{Username: "alice"}, docID); got != StatusEditMode {
		t.Fatalf("expected EDIT_MODE, got %s", got)
	}

	// Logging in again replaces the session; the held lock follows it.
	svc.AddSession("alice", "s2")
	if got := svc.RequestEdit(ctx, Principal{Username: "alice"}, docID); got != StatusEditMode {
		t.Fatalf("re-entry after re-login expected EDIT_MODE, got %s", got)
	}
	if held, ok := svc.Locks().HolderOf(docID); !ok || held.SessionID != "s2" {
		t.Fatalf("lock should be keyed to the new session, got %+v ok=%v", held, ok)
	}

	// Logging out the new session reclaims the lock taken under the old one.
	svc.RemoveSession("alice")
	if svc.Locks().ActiveCount() != 0 {
		t.Fatalf("expected lock reclaimed after logout of the new session")
	}
}

func TestConcurrentEditSingleWinner(t *testing.T) {
	svc := NewInMemoryService(nil)
	_, docID := seedLab(t, svc)
	ctx := context.Background()

	users := []string{"alice", "bob", "carol", "dana"}
	if _, err := svc.Share(ctx, Principal{Username: "alice"}, docID, []GrantSpec{
		{Kind: PrincipalUser, Target: "bob", Level: LevelWrite},
		{Kind: PrincipalUser, Target: "dana", Level: LevelWrite},
	}); err != nil {
		t.Fatalf("share: %v", err)
	}
	for _, u := range users {
		svc.AddSession(u, "s-"+u)
	}

	const rounds = 50
	for round := 0; round < rounds; round++ {
		var wg sync.WaitGroup
		results := make([]EditStatus, len(users))
		for i, u := range users {
			wg.Add(1)
			go func(i int, u string) {
				defer wg.Done()
				results[i] = svc.RequestEdit(ctx, Principal{Username: u}, docID)
			}(i, u)
		}
		wg.Wait()

		winners := 0
		winner := ""
		for i, status := range results {
			switch status {
			case StatusEditMode:
				winners++
				winner = users[i]
			case StatusOtherEditing:
			default:
				t.Fatalf("round %d: unexpected status %s for %s", round, status, users[i])
			}
		}
		if winners != 1 {
			t.Fatalf("round %d: expected exactly one editor, got %d", round, winners)
		}
		svc.Unlock(Principal{Username: winner}, docID)
	}
}

func TestCurrentEditorHidesSelf(t *testing.T) {
	svc := NewInMemoryService(nil)
	_, docID := seedLab(t, svc)
	ctx := context.Background()

	svc.AddSession("alice", "s1")
	if got := svc.RequestEdit(ctx, Principal{Username: "alice"}, docID); got != StatusEditMode {
		t.Fatalf("expected EDIT_MODE, got %s", got)
	}

	if editor, ok := svc.CurrentEditor(Principal{Username: "alice"}, docID); ok {
		t.Fatalf("holder should not see their own lock, got %q", editor)
	}
	editor, ok := svc.CurrentEditor(Principal{Username: "bob"}, docID)
	if !ok || editor != "alice" {
		t.Fatalf("expected alice as current editor, got %q ok=%v", editor, ok)
	}
}

func TestDeleteWhileLockedNamesEditor(t *testing.T) {
	svc := NewInMemoryService(nil)
	_, docID := seedLab(t, svc)
	ctx := context.Background()

	svc.AddSession("alice", "s1")
	if got := svc.RequestEdit(ctx, Principal{Username: "alice"}, docID); got != StatusEditMode {
		t.Fatalf("expected EDIT_MODE, got %s", got)
	}

	// The lock guard is absolute: even a sysadmin cannot delete mid-edit.
	for _, actor := range []string{"carol", "root"} {
		err := svc.DeleteRecord(ctx, Principal{Username: actor}, docID)
		var invalid InvalidStateError
		if !errors.As(err, &invalid) {
			t.Fatalf("%s: expected InvalidStateError, got %v", actor, err)
		}
		if want := "record cannot be deleted as it is currently edited by alice"; invalid.Message != want {
			t.Fatalf("unexpected message %q", invalid.Message)
		}
	}

	// The holder may delete their own locked record.
	if err := svc.DeleteRecord(ctx, Principal{Username: "alice"}, docID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if svc.Locks().ActiveCount() != 0 {
		t.Fatalf("expected lock released after delete")
	}
}

func TestUnlockByNonHolderIgnored(t *testing.T) {
	svc := NewInMemoryService(nil)
	_, docID := seedLab(t, svc)
	ctx := context.Background()

	svc.AddSession("alice", "s1")
	if got := svc.RequestEdit(ctx, Principal{Username: "alice"}, docID); got != StatusEditMode {
		t.Fatalf("expected EDIT_MODE, got %s", got)
	}
	svc.Unlock(Principal{Username: "bob"}, docID)
	if svc.Locks().ActiveCount() != 1 {
		t.Fatalf("non-holder unlock must not release the lock")
	}
}

func TestSetSystemPropertySysadminOnly(t *testing.T) {
	svc := NewInMemoryService(nil)
	seedLab(t, svc)
	ctx := context.Background()

	if err := svc.SetSystemProperty(ctx, Principal{Username: "carol"}, PropPublicSharing, PropDenied); err == nil {
		t.Fatalf("expected denial for non-sysadmin")
	}
	if err := svc.SetSystemProperty(ctx, Principal{Username: "root"}, PropPublicSharing, PropDenied); err != nil {
		t.Fatalf("sysadmin set property: %v", err)
	}
	if svc.Properties().Allowed(PropPublicSharing) {
		t.Fatalf("expected property denied")
	}
}

func TestRunAsAndIncognitoAudit(t *testing.T) {
	svc := NewInMemoryService(nil)
	_, docID := seedLab(t, svc)
	ctx := context.Background()

	// Run-as attributes the entry to the impersonated user.
	if _, err := svc.Share(ctx, Principal{Username: "root", RunAs: "alice"}, docID, []GrantSpec{
		{Kind: PrincipalUser, Target: "bob", Level: LevelRead},
	}); err != nil {
		t.Fatalf("share: %v", err)
	}
	entries := svc.Audit().Entries()
	if len(entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(entries))
	}
	if entries[0].Actor != "alice" || entries[0].OnBehalfOf != "root" {
		t.Fatalf("unexpected attribution %+v", entries[0])
	}

	// Incognito suppresses the entry entirely.
	if _, err := svc.Share(ctx, Principal{Username: "root", Incognito: true}, docID, []GrantSpec{
		{Kind: PrincipalUser, Target: "dana", Level: LevelRead},
	}); err != nil {
		t.Fatalf("incognito share: %v", err)
	}
	if got := len(svc.Audit().Entries()); got != 1 {
		t.Fatalf("expected audit unchanged, got %d entries", got)
	}
}
