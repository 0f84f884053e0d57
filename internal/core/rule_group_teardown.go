package core

import (
	"context"
	"fmt"

	"recordcore/pkg/domain"
)

// NewGroupTeardownRule returns the rule blocking deletion of a group that
// still has members.
func NewGroupTeardownRule() domain.Rule {
	return groupTeardownRule{}
}

type groupTeardownRule struct{}

func (groupTeardownRule) Name() string { return "group_teardown" }

func (groupTeardownRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityGroup || change.Action != domain.ActionDelete {
			continue
		}
		group, ok := change.Before.(domain.Group)
		if !ok {
			continue
		}
		if len(group.Members) > 0 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "group_teardown",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("group %s (%s) still has %d members", group.Name, group.ID, len(group.Members)),
				Entity:   domain.EntityGroup,
				EntityID: group.ID,
			})
		}
	}
	return res, nil
}
