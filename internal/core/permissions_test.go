package core

import (
	"context"
	"testing"
)

func TestResolverEvaluationOrder(t *testing.T) {
	svc := NewInMemoryService(nil)
	groupID, docID := seedLab(t, svc)
	ctx := context.Background()

	cases := []struct {
		name     string
		username string
		op       Operation
		want     bool
	}{
		{"sysadmin bypasses everything", "root", OpDelete, true},
		{"owner full control", "alice", OpWrite, true},
		{"owner delete", "alice", OpDelete, true},
		{"pi reads member record", "carol", OpRead, true},
		{"pi writes member record", "carol", OpWrite, true},
		{"pi administers member record", "carol", OpAdminister, true},
		{"pi cannot delete unshared member record", "carol", OpDelete, false},
		{"labadmin viewall reads member record", "dana", OpRead, true},
		{"labadmin without edit flag cannot write", "dana", OpWrite, false},
		{"outsider denied", "eve", OpRead, false},
		{"fellow member denied without grant", "bob", OpRead, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := svc.IsPermitted(Principal{Username: tc.username}, docID, tc.op); got != tc.want {
				t.Fatalf("IsPermitted(%s, %s) = %v, want %v", tc.username, tc.op, got, tc.want)
			}
		})
	}

	// Once the record is shared into the group, the PI may delete it.
	if _, err := svc.Share(ctx, Principal{Username: "alice"}, docID, []GrantSpec{
		{Kind: PrincipalGroup, Target: groupID, Level: LevelRead},
	}); err != nil {
		t.Fatalf("share: %v", err)
	}
	if !svc.IsPermitted(Principal{Username: "carol"}, docID, OpDelete) {
		t.Fatalf("pi should delete a record shared into the group")
	}
}

func TestWriteGrantImpliesRead(t *testing.T) {
	svc := NewInMemoryService(nil)
	_, docID := seedLab(t, svc)
	ctx := context.Background()

	if _, err := svc.Share(ctx, Principal{Username: "alice"}, docID, []GrantSpec{
		{Kind: PrincipalUser, Target: "bob", Level: LevelWrite},
	}); err != nil {
		t.Fatalf("share: %v", err)
	}
	p := Principal{Username: "bob"}
	if !svc.IsPermitted(p, docID, OpRead) {
		t.Fatalf("write grant must imply read")
	}
	if !svc.IsPermitted(p, docID, OpWrite) {
		t.Fatalf("write grant must allow write")
	}
	if svc.IsPermitted(p, docID, OpDelete) {
		t.Fatalf("write grant must not allow delete")
	}
}

func TestNotebookEntryInheritsGrants(t *testing.T) {
	svc := NewInMemoryService(nil)
	groupID, _ := seedLab(t, svc)
	ctx := context.Background()

	var notebookID, entryID string
	seedTx(t, svc, func(tx Transaction) error {
		nb, err := tx.CreateRecord(Record{Kind: KindNotebook, Name: "nb", Owner: "alice"})
		if err != nil {
			return err
		}
		notebookID = nb.ID
		entry, err := tx.CreateRecord(Record{Kind: KindEntry, Name: "entry", Owner: "alice", ParentID: nb.ID})
		if err != nil {
			return err
		}
		entryID = entry.ID
		return nil
	})

	if svc.IsPermitted(Principal{Username: "bob"}, entryID, OpRead) {
		t.Fatalf("bob should not read the entry yet")
	}

	// Sharing the notebook makes its entries readable at evaluation time.
	if _, err := svc.Share(ctx, Principal{Username: "alice"}, notebookID, []GrantSpec{
		{Kind: PrincipalGroup, Target: groupID, Level: LevelRead},
	}); err != nil {
		t.Fatalf("share notebook: %v", err)
	}
	if !svc.IsPermitted(Principal{Username: "bob"}, entryID, OpRead) {
		t.Fatalf("entry must inherit the notebook grant")
	}
	if svc.IsPermitted(Principal{Username: "bob"}, entryID, OpWrite) {
		t.Fatalf("read grant must not allow write")
	}
}

func TestRevocationIsImmediate(t *testing.T) {
	svc := NewInMemoryService(nil)
	_, docID := seedLab(t, svc)
	ctx := context.Background()

	result, err := svc.Share(ctx, Principal{Username: "alice"}, docID, []GrantSpec{
		{Kind: PrincipalUser, Target: "bob", Level: LevelWrite},
	})
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	if len(result.SharedIDs) != 1 {
		t.Fatalf("expected one grant, got %d", len(result.SharedIDs))
	}
	if !svc.IsPermitted(Principal{Username: "bob"}, docID, OpWrite) {
		t.Fatalf("grant should apply")
	}

	if err := svc.Unshare(ctx, Principal{Username: "alice"}, result.SharedIDs[0]); err != nil {
		t.Fatalf("unshare: %v", err)
	}
	if svc.IsPermitted(Principal{Username: "bob"}, docID, OpWrite) {
		t.Fatalf("revocation must take effect on the next evaluation")
	}

	// Revocation does not forcibly release an existing lock.
	svc.AddSession("bob", "s-bob")
	if got := svc.RequestEdit(ctx, Principal{Username: "bob"}, docID); got != StatusAccessDenied {
		t.Fatalf("expected ACCESS_DENIED after revocation, got %s", got)
	}
}

func TestDisabledUserDenied(t *testing.T) {
	svc := NewInMemoryService(nil)
	_, docID := seedLab(t, svc)
	ctx := context.Background()

	if err := svc.DisableUser(ctx, Principal{Username: "root"}, "alice"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if svc.IsPermitted(Principal{Username: "alice"}, docID, OpRead) {
		t.Fatalf("disabled owner must be denied")
	}
}

func TestCacheInvalidationOnGrantChange(t *testing.T) {
	svc := NewInMemoryService(nil)
	_, docID := seedLab(t, svc)
	ctx := context.Background()

	p := Principal{Username: "bob"}
	// Prime the cache with a denial.
	if svc.IsPermitted(p, docID, OpRead) {
		t.Fatalf("expected denial before grant")
	}
	if _, err := svc.Share(ctx, Principal{Username: "alice"}, docID, []GrantSpec{
		{Kind: PrincipalUser, Target: "bob", Level: LevelRead},
	}); err != nil {
		t.Fatalf("share: %v", err)
	}
	// The share must have invalidated bob's cached denial.
	if !svc.IsPermitted(p, docID, OpRead) {
		t.Fatalf("grant change must invalidate the cached decision")
	}
}

func TestCacheInvalidationOnRoleChange(t *testing.T) {
	svc := NewInMemoryService(nil)
	_, docID := seedLab(t, svc)
	ctx := context.Background()

	p := Principal{Username: "eve"}
	if svc.IsPermitted(p, docID, OpRead) {
		t.Fatalf("expected denial before promotion")
	}
	if _, err := svc.SetGlobalRole(ctx, Principal{Username: "root"}, "eve", RoleSysAdmin); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if !svc.IsPermitted(p, docID, OpRead) {
		t.Fatalf("role change must invalidate the cached decision")
	}
}

func TestDenialReasonNamesOperation(t *testing.T) {
	svc := NewInMemoryService(nil)
	_, docID := seedLab(t, svc)

	d := svc.Decide(Principal{Username: "bob"}, docID, OpWrite)
	if d.Allowed {
		t.Fatalf("expected denial")
	}
	if d.Reason == "" {
		t.Fatalf("denial must carry a reason")
	}
}
