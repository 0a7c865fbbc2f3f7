// Package rowguard provides row-level authorization for applications whose
// database policies cannot be trusted on their own. Rules are registered per
// resource type and operation, evaluated against a resolved subject and the
// row being touched, and every decision is audited.
package rowguard

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// Operation is the closed set of row operations rules can cover.
type Operation string

const (
	OpCreate Operation = "create"
	OpRead   Operation = "read"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Operations returns all operations in declaration order.
func Operations() []Operation {
	return []Operation{OpCreate, OpRead, OpUpdate, OpDelete}
}

// ParseOperation validates a raw operation string, case-insensitively.
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(strings.ToLower(strings.TrimSpace(s))); op {
	case OpCreate, OpRead, OpUpdate, OpDelete:
		return op, nil
	default:
		return "", fmt.Errorf("unknown operation %q", s)
	}
}

// IdentitySource tags where a rule's predicate derives identity from.
// Rules reading the resolved subject are the safe default; rules that reach
// into an auth store snapshot are flagged by the diagnostic reporter.
type IdentitySource string

const (
	IdentityFromSubject   IdentitySource = "subject"
	IdentityFromAuthStore IdentitySource = "auth_store"
)

// Subject is a resolved caller identity. It is immutable after resolution;
// predicates must treat it as read-only.
type Subject struct {
	ID      string
	Email   string
	Roles   []string
	IsAdmin bool
}

// Anonymous reports whether the subject carries no stable identity.
func (s *Subject) Anonymous() bool {
	return s == nil || s.ID == ""
}

// HasRole reports whether the subject carries the given role.
func (s *Subject) HasRole(role string) bool {
	if s == nil {
		return false
	}
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Roles a resolver assigns by default.
const (
	RoleAnonymous     = "anon"
	RoleAuthenticated = "authenticated"
	RoleService       = "service"
)

// RowView is a read-only view of the row under evaluation. For create
// operations it carries the incoming payload; for collection reads it may be
// nil. Lookups on a nil view return zero values.
type RowView map[string]any

// Str returns the named column as a string, or "" when absent or non-string.
func (r RowView) Str(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// Bool returns the named column as a bool, or false when absent or non-bool.
func (r RowView) Bool(key string) bool {
	if v, ok := r[key].(bool); ok {
		return v
	}
	return false
}

// Predicate decides whether a subject may touch a row. Returning an error
// marks the rule broken for this evaluation; it never silently widens access.
type Predicate func(subject *Subject, row RowView) (bool, error)

// PolicyRule binds a named predicate to a resource type and operation.
type PolicyRule struct {
	Resource  string
	Operation Operation
	Name      string
	Source    IdentitySource
	Predicate Predicate
}

// Key returns the registry slot the rule occupies.
func (r *PolicyRule) Key() string {
	return r.Resource + "/" + string(r.Operation)
}

// ============================================================================
// DECISIONS
// ============================================================================

// Outcome is the result of an evaluation.
type Outcome string

const (
	OutcomeAllow Outcome = "allow"
	OutcomeDeny  Outcome = "deny"
)

// Decision reasons. A Deny is a value, not an error.
const (
	ReasonMatched     = "rule matched"
	ReasonNoRule      = "no rule registered"
	ReasonNoMatch     = "no rule matched"
	ReasonRuleError   = "rule evaluation error"
	ReasonUnprotected = "resource not protected"
)

// Decision is the outcome of evaluating one subject/operation/row triple.
type Decision struct {
	Allowed     bool
	Reason      string
	MatchedRule string
	// RuleError is set when at least one rule failed during evaluation,
	// regardless of the final outcome.
	RuleError *RuleEvaluationError
	Timestamp time.Time
}

// Outcome maps Allowed onto the audit outcome.
func (d *Decision) Outcome() Outcome {
	if d != nil && d.Allowed {
		return OutcomeAllow
	}
	return OutcomeDeny
}

func (d *Decision) String() string {
	if d == nil {
		return "deny (nil decision)"
	}
	if d.Allowed {
		return fmt.Sprintf("allow (%s: %s)", d.Reason, d.MatchedRule)
	}
	if d.RuleError != nil {
		return fmt.Sprintf("deny (%s: %v)", d.Reason, d.RuleError)
	}
	return fmt.Sprintf("deny (%s)", d.Reason)
}
