package core

import (
	"fmt"
	"strings"

	"recordcore/pkg/domain"
)

// Constraint is a parsed declarative access predicate, reusable across
// evaluations (for example on published grants).
//
// The textual form is RECORD:<operation>[:group=<id>|user=<name>|world],
// e.g. "RECORD:READ:group=g1" or "RECORD:WRITE:world". The operation token
// is case-insensitive. A missing principal clause matches any principal.
type Constraint struct {
	Operation domain.Operation
	Kind      domain.PrincipalKind
	Target    string
}

// ResolveConstraint parses a constraint string. Parse failures are errors,
// not denials: they indicate a misconfigured policy.
func ResolveConstraint(s string) (Constraint, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Constraint{}, fmt.Errorf("constraint %q: expected RECORD:<operation>[:<principal>]", s)
	}
	if !strings.EqualFold(parts[0], "RECORD") {
		return Constraint{}, fmt.Errorf("constraint %q: unknown domain %q", s, parts[0])
	}

	var op domain.Operation
	switch strings.ToLower(parts[1]) {
	case "read":
		op = OpRead
	case "write":
		op = OpWrite
	case "delete":
		op = OpDelete
	case "administer":
		op = OpAdminister
	default:
		return Constraint{}, fmt.Errorf("constraint %q: unknown operation %q", s, parts[1])
	}

	c := Constraint{Operation: op}
	if len(parts) == 2 {
		return c, nil
	}

	principal := parts[2]
	switch {
	case strings.EqualFold(principal, "world"):
		c.Kind = PrincipalWorld
	case strings.HasPrefix(principal, "group="):
		c.Kind = PrincipalGroup
		c.Target = strings.TrimPrefix(principal, "group=")
	case strings.HasPrefix(principal, "user="):
		c.Kind = PrincipalUser
		c.Target = strings.TrimPrefix(principal, "user=")
	default:
		return Constraint{}, fmt.Errorf("constraint %q: unknown principal clause %q", s, principal)
	}
	if c.Kind != PrincipalWorld && c.Target == "" {
		return Constraint{}, fmt.Errorf("constraint %q: empty principal target", s)
	}
	return c, nil
}

// Satisfies reports whether the constraint admits the given operation for a
// principal with the supplied group memberships. Write admits read.
func (c Constraint) Satisfies(op domain.Operation, username string, groupIDs []string) bool {
	if c.Operation != op {
		if !(c.Operation == OpWrite && op == OpRead) {
			return false
		}
	}
	switch c.Kind {
	case "":
		return true
	case PrincipalWorld:
		return true
	case PrincipalUser:
		return c.Target == username
	case PrincipalGroup:
		for _, id := range groupIDs {
			if id == c.Target {
				return true
			}
		}
	}
	return false
}

// String renders the constraint back to its textual form.
func (c Constraint) String() string {
	op := strings.ToUpper(string(c.Operation))
	switch c.Kind {
	case PrincipalWorld:
		return fmt.Sprintf("RECORD:%s:world", op)
	case PrincipalGroup:
		return fmt.Sprintf("RECORD:%s:group=%s", op, c.Target)
	case PrincipalUser:
		return fmt.Sprintf("RECORD:%s:user=%s", op, c.Target)
	default:
		return fmt.Sprintf("RECORD:%s", op)
	}
}
