package rowguard

import (
	"fmt"
	"strings"
)

// IdentityError reports a malformed or unresolvable auth context. Callers
// receiving one must treat the subject as anonymous.
type IdentityError struct {
	Reason string
	Err    error
}

func (e *IdentityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("identity: %s: %v", e.Reason, e.Err)
	}
	return "identity: " + e.Reason
}

func (e *IdentityError) Unwrap() error { return e.Err }

// RuleEvaluationError reports a predicate that returned an error or panicked.
// A broken rule never grants access; it is carried on the Decision and
// flagged in the audit log.
type RuleEvaluationError struct {
	Resource  string
	Operation Operation
	Rule      string
	Err       error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %s (%s %s): %v", e.Rule, e.Resource, e.Operation, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error { return e.Err }

// RegistryValidationError aborts a bulk load. The previously live rule set
// stays in effect.
type RegistryValidationError struct {
	Problems []string
}

func (e *RegistryValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "registry validation: " + e.Problems[0]
	}
	return fmt.Sprintf("registry validation: %d problems: %s",
		len(e.Problems), strings.Join(e.Problems, "; "))
}
