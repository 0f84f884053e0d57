package core

import (
	"context"
	"errors"
	"testing"

	"recordcore/internal/notify"
)

func TestPersonalAutoshareGrantsOnCreate(t *testing.T) {
	svc := NewInMemoryService(nil)
	groupID, _ := seedLab(t, svc)
	ctx := context.Background()
	alice := Principal{Username: "alice"}

	membership, err := svc.SetUserAutoshare(ctx, alice, groupID, "alice", true, "Shared")
	if err != nil {
		t.Fatalf("enable autoshare: %v", err)
	}
	if membership.FolderID == "" {
		t.Fatalf("expected a target folder")
	}
	folder, ok := svc.Store().GetRecord(membership.FolderID)
	if !ok || folder.Name != "Shared" || folder.Kind != KindFolder {
		t.Fatalf("unexpected folder %+v", folder)
	}

	rec, err := svc.CreateRecord(ctx, alice, Record{Kind: KindDocument, Name: "new data"})
	if err != nil {
		t.Fatalf("create record: %v", err)
	}

	grants := svc.Store().GrantsForRecord(rec.ID)
	if len(grants) != 1 {
		t.Fatalf("expected exactly one grant, got %d", len(grants))
	}
	if grants[0].PrincipalKind != PrincipalGroup || grants[0].TargetID != groupID {
		t.Fatalf("unexpected grant %+v", grants[0])
	}
	if grants[0].Level != LevelWrite {
		t.Fatalf("default autoshare level is write, got %s", grants[0].Level)
	}
	linked := false
	for _, l := range rec.FolderLinks {
		if l == membership.FolderID {
			linked = true
		}
	}
	if !linked {
		t.Fatalf("expected record linked into the autoshare folder, links=%v", rec.FolderLinks)
	}

	// Group members can now read the record through the grant.
	if !svc.IsPermitted(Principal{Username: "bob"}, rec.ID, OpRead) {
		t.Fatalf("autoshared record must be visible to the group")
	}
}

func TestAutoshareDeduplicatesAcrossGroups(t *testing.T) {
	svc := NewInMemoryService(nil)
	groupID, _ := seedLab(t, svc)
	ctx := context.Background()
	alice := Principal{Username: "alice"}

	// alice also belongs to a second group with group-wide autosharing,
	// and the first group is toggled group-wide on top of her personal
	// membership.
	var secondID string
	seedTx(t, svc, func(tx Transaction) error {
		second, err := tx.CreateGroup(Group{
			Name: "side project",
			Members: []GroupMember{
				{Username: "carol", Role: GroupRolePI},
				{Username: "alice", Role: GroupRoleMember},
			},
			AutoshareEnabled: true,
			AutoshareLevel:   LevelRead,
		})
		if err != nil {
			return err
		}
		secondID = second.ID
		return nil
	})

	if _, err := svc.SetUserAutoshare(ctx, alice, groupID, "alice", true, ""); err != nil {
		t.Fatalf("personal autoshare: %v", err)
	}
	if _, err := svc.SetGroupAutoshare(ctx, Principal{Username: "carol"}, groupID, true); err != nil {
		t.Fatalf("group autoshare: %v", err)
	}

	rec, err := svc.CreateRecord(ctx, alice, Record{Kind: KindDocument, Name: "overlap"})
	if err != nil {
		t.Fatalf("create record: %v", err)
	}

	grants := svc.Store().GrantsForRecord(rec.ID)
	perGroup := make(map[string]int)
	for _, g := range grants {
		perGroup[g.TargetID]++
	}
	if perGroup[groupID] != 1 {
		t.Fatalf("expected exactly one grant for the lab group, got %d", perGroup[groupID])
	}
	if perGroup[secondID] != 1 {
		t.Fatalf("expected exactly one grant for the side group, got %d", perGroup[secondID])
	}
	for _, g := range grants {
		if g.TargetID == secondID && g.Level != LevelRead {
			t.Fatalf("side group configured level read, got %s", g.Level)
		}
	}
}

func TestGroupAutoshareToggleSingleNotification(t *testing.T) {
	sink := notify.NewMemorySink()
	svc := NewInMemoryService(nil, WithNotifier(sink))
	groupID, _ := seedLab(t, svc)
	ctx := context.Background()

	if _, err := svc.SetGroupAutoshare(ctx, Principal{Username: "carol"}, groupID, true); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	events := sink.Events()
	if len(events) != 1 {
		t.Fatalf("expected exactly one notification per toggle, got %d", len(events))
	}
	if events[0].Type != notify.TypeAutoshareToggle || events[0].GroupID != groupID {
		t.Fatalf("unexpected event %+v", events[0])
	}
	if len(events[0].Recipients) != 4 {
		t.Fatalf("expected all members notified once, got %v", events[0].Recipients)
	}
}

func TestGroupAutoshareRoleGating(t *testing.T) {
	svc := NewInMemoryService(nil)
	groupID, _ := seedLab(t, svc)
	ctx := context.Background()

	// Ordinary members cannot toggle the group.
	_, err := svc.SetGroupAutoshare(ctx, Principal{Username: "alice"}, groupID, true)
	var denied DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected DeniedError for member, got %v", err)
	}

	// A view-all lab admin can.
	if _, err := svc.SetGroupAutoshare(ctx, Principal{Username: "dana"}, groupID, true); err != nil {
		t.Fatalf("lab admin toggle: %v", err)
	}
	// So can a sysadmin.
	if _, err := svc.SetGroupAutoshare(ctx, Principal{Username: "root"}, groupID, false); err != nil {
		t.Fatalf("sysadmin toggle: %v", err)
	}
}

func TestAutosharePropertyDeniedLeavesSelfService(t *testing.T) {
	svc := NewInMemoryService(nil)
	groupID, _ := seedLab(t, svc)
	ctx := context.Background()

	if err := svc.SetSystemProperty(ctx, Principal{Username: "root"}, PropGroupAutosharing, PropDenied); err != nil {
		t.Fatalf("set property: %v", err)
	}

	// Group-wide toggling is unavailable, even for the PI.
	_, err := svc.SetGroupAutoshare(ctx, Principal{Username: "carol"}, groupID, true)
	var disabled PolicyDisabledError
	if !errors.As(err, &disabled) {
		t.Fatalf("expected PolicyDisabledError, got %v", err)
	}

	// The PI cannot flip someone else's membership either.
	if _, err := svc.SetUserAutoshare(ctx, Principal{Username: "carol"}, groupID, "alice", true, ""); !errors.As(err, &disabled) {
		t.Fatalf("expected PolicyDisabledError for third-party toggle, got %v", err)
	}

	// Members keep control of their own membership.
	if _, err := svc.SetUserAutoshare(ctx, Principal{Username: "alice"}, groupID, "alice", true, ""); err != nil {
		t.Fatalf("self toggle: %v", err)
	}
}

func TestAutoshareFolderRename(t *testing.T) {
	svc := NewInMemoryService(nil)
	groupID, _ := seedLab(t, svc)
	ctx := context.Background()
	alice := Principal{Username: "alice"}

	first, err := svc.SetUserAutoshare(ctx, alice, groupID, "alice", true, "Shared")
	if err != nil {
		t.Fatalf("enable: %v", err)
	}

	// Re-enabling with the same folder name keeps the membership.
	same, err := svc.SetUserAutoshare(ctx, alice, groupID, "alice", true, "Shared")
	if err != nil {
		t.Fatalf("re-enable: %v", err)
	}
	if same.FolderID != first.FolderID {
		t.Fatalf("same name must keep the folder, got %s and %s", first.FolderID, same.FolderID)
	}

	// A fresh name produces a new folder; the old one stays behind.
	renamed, err := svc.SetUserAutoshare(ctx, alice, groupID, "alice", true, "Shared 2024")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.FolderID == first.FolderID {
		t.Fatalf("expected a new target folder")
	}
	if _, ok := svc.Store().GetRecord(first.FolderID); !ok {
		t.Fatalf("old folder must be left detached, not deleted")
	}

	// Disable removes the membership but keeps the folder.
	if _, err := svc.SetUserAutoshare(ctx, alice, groupID, "alice", false, ""); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if got := len(svc.Store().AutosharesForUser("alice")); got != 0 {
		t.Fatalf("expected no memberships, got %d", got)
	}
	if _, ok := svc.Store().GetRecord(renamed.FolderID); !ok {
		t.Fatalf("target folder must survive disable")
	}
}
