package core

import (
	"fmt"

	"recordcore/pkg/domain"
)

// DeniedError reports a permission denial with a user-facing reason. It is a
// structured failure, recoverable at the request boundary.
type DeniedError struct {
	Operation domain.Operation
	RecordID  string
	Reason    string
}

func (e DeniedError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("%s on %s denied", e.Operation, e.RecordID)
}

// InvalidStateError reports a rejected state transition, such as deleting a
// record another session is editing. State is unchanged.
type InvalidStateError struct {
	Message string
}

func (e InvalidStateError) Error() string { return e.Message }

// PolicyDisabledError reports a feature-gated action attempted while the
// governing system property denies it. Distinct from a plain authorization
// denial.
type PolicyDisabledError struct {
	Property string
	Message  string
}

func (e PolicyDisabledError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("action disabled by system property %s", e.Property)
}

// NotFoundError is returned when reference validation fails within
// transactional helpers. At the public boundary it is translated to an
// access denial so existence is not leaked.
type NotFoundError struct {
	Entity domain.EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}
