package core

import (
	"context"
	"fmt"

	"recordcore/pkg/domain"
)

// NewGrantIntegrityRule returns the rule requiring every grant to reference
// an existing record and an existing principal.
func NewGrantIntegrityRule() domain.Rule {
	return grantIntegrityRule{}
}

type grantIntegrityRule struct{}

func (grantIntegrityRule) Name() string { return "grant_integrity" }

func (grantIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, grant := range view.ListGrants() {
		if _, ok := view.FindRecord(grant.RecordID); !ok {
			res.Violations = append(res.Violations, violation(grant, fmt.Sprintf("grant %s references missing record %s", grant.ID, grant.RecordID)))
			continue
		}
		switch grant.PrincipalKind {
		case domain.PrincipalGroup:
			if _, ok := view.FindGroup(grant.TargetID); !ok {
				res.Violations = append(res.Violations, violation(grant, fmt.Sprintf("grant %s references missing group %s", grant.ID, grant.TargetID)))
			}
		case domain.PrincipalUser:
			if _, ok := view.FindUser(grant.TargetID); !ok {
				res.Violations = append(res.Violations, violation(grant, fmt.Sprintf("grant %s references missing user %s", grant.ID, grant.TargetID)))
			}
		case domain.PrincipalWorld:
			// Anonymous principal always exists.
		default:
			res.Violations = append(res.Violations, violation(grant, fmt.Sprintf("grant %s has unknown principal kind %q", grant.ID, grant.PrincipalKind)))
		}
	}
	return res, nil
}

func violation(grant domain.Grant, message string) domain.Violation {
	return domain.Violation{
		Rule:     "grant_integrity",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityGrant,
		EntityID: grant.ID,
	}
}
