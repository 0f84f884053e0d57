package memory

import (
	"context"
	"errors"
	"testing"

	"recordcore/pkg/domain"
)

func TestTransactionCommitAndRollback(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()

	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		if _, err := tx.CreateUser(User{Username: "alice"}); err != nil {
			return err
		}
		_, err := tx.CreateRecord(Record{Kind: domain.KindDocument, Name: "doc", Owner: "alice"})
		return err
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, ok := store.GetUser("alice"); !ok {
		t.Fatalf("expected alice persisted")
	}

	// A failing transaction leaves no partial state behind.
	wantErr := context.Canceled
	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		if _, err := tx.CreateUser(User{Username: "bob"}); err != nil {
			return err
		}
		return wantErr
	}); err != wantErr {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
	if _, ok := store.GetUser("bob"); ok {
		t.Fatalf("rolled back user must not be visible")
	}
}

func TestTransactionIsolation(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()

	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		g, err := tx.CreateGroup(Group{Name: "lab", Members: []GroupMember{{Username: "carol", Role: domain.GroupRolePI}}})
		if err != nil {
			return err
		}
		// Mutating the returned value must not leak into committed state.
		g.Name = "mutated"
		return nil
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	groups := store.ListGroups()
	if len(groups) != 1 || groups[0].Name != "lab" {
		t.Fatalf("unexpected groups %+v", groups)
	}

	got := store.ListGroups()[0]
	got.Members[0].Username = "hacked"
	if store.ListGroups()[0].Members[0].Username != "carol" {
		t.Fatalf("committed state must be isolated from returned copies")
	}
}

func TestGroupsForUser(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()

	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		for _, name := range []string{"one", "two"} {
			if _, err := tx.CreateGroup(Group{Name: name, Members: []GroupMember{
				{Username: "carol", Role: domain.GroupRolePI},
				{Username: "alice", Role: domain.GroupRoleMember},
			}}); err != nil {
				return err
			}
		}
		_, err := tx.CreateGroup(Group{Name: "other", Members: []GroupMember{
			{Username: "dave", Role: domain.GroupRolePI},
		}})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if got := len(store.GroupsForUser("alice")); got != 2 {
		t.Fatalf("expected alice in two groups, got %d", got)
	}
	if got := len(store.GroupsForUser("dave")); got != 1 {
		t.Fatalf("expected dave in one group, got %d", got)
	}
	if got := len(store.GroupsForUser("stranger")); got != 0 {
		t.Fatalf("expected no groups, got %d", got)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()

	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		if _, err := tx.CreateUser(User{Username: "alice"}); err != nil {
			return err
		}
		rec, err := tx.CreateRecord(Record{Kind: domain.KindDocument, Name: "doc", Owner: "alice"})
		if err != nil {
			return err
		}
		_, err = tx.CreateGrant(Grant{RecordID: rec.ID, PrincipalKind: domain.PrincipalUser, TargetID: "alice", Level: domain.LevelRead})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	snapshot := store.ExportState()
	restored := NewStore(nil)
	restored.ImportState(snapshot)

	if _, ok := restored.GetUser("alice"); !ok {
		t.Fatalf("expected user restored")
	}
	if got := len(restored.ListRecords()); got != 1 {
		t.Fatalf("expected one record, got %d", got)
	}
	if got := len(restored.ListGrants()); got != 1 {
		t.Fatalf("expected one grant, got %d", got)
	}
}

func TestRulesEvaluatedAtCommit(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(blockAllRule{})
	store := NewStore(engine)

	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateUser(User{Username: "alice"})
		return err
	})
	var violation domain.RuleViolationError
	if err == nil {
		t.Fatalf("expected blocking violation")
	}
	if !errors.As(err, &violation) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
	if _, ok := store.GetUser("alice"); ok {
		t.Fatalf("blocked commit must not apply")
	}
}

type blockAllRule struct{}

func (blockAllRule) Name() string { return "block_all" }

func (blockAllRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for range changes {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "block_all",
			Severity: domain.SeverityBlock,
			Message:  "blocked",
		})
	}
	return res, nil
}
