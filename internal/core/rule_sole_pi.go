package core

import (
	"context"
	"fmt"

	"recordcore/pkg/domain"
)

// NewSolePIRule returns the in-transaction rule enforcing that every group
// with members has exactly one PI. Demoting or removing the last PI is
// blocked regardless of who the actor is.
func NewSolePIRule() domain.Rule {
	return solePIRule{}
}

type solePIRule struct{}

func (solePIRule) Name() string { return "sole_pi" }

func (solePIRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, group := range view.ListGroups() {
		if len(group.Members) == 0 {
			continue
		}
		count := 0
		for _, m := range group.Members {
			if m.Role == domain.GroupRolePI {
				count++
			}
		}
		if count != 1 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "sole_pi",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("group %s (%s) must have exactly one PI, has %d", group.Name, group.ID, count),
				Entity:   domain.EntityGroup,
				EntityID: group.ID,
			})
		}
	}
	return res, nil
}
