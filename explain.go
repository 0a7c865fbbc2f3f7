package rowguard

import (
	"context"
	"fmt"
	"time"
)

// Explanation carries a decision plus a per-rule trace for debugging why a
// subject was or was not allowed.
type Explanation struct {
	Decision *Decision
	Trace    []string
}

// Explain evaluates every rule for the slot, without short-circuiting,
// and reports each rule's individual outcome. It is a diagnostic surface:
// nothing is audited, so it must not be used for enforcement.
func (e *Engine) Explain(ctx context.Context, subject *Subject, resource string, op Operation, row RowView) *Explanation {
	ex := &Explanation{Decision: &Decision{Timestamp: time.Now()}}

	if err := ctx.Err(); err != nil {
		ex.Decision.Reason = "context canceled"
		ex.Trace = append(ex.Trace, "context canceled before evaluation")
		return ex
	}

	snap := e.registry.snapshot()
	rules := snap.rules[resource+"/"+string(op)]
	ex.Trace = append(ex.Trace, fmt.Sprintf("subject=%s resource=%s operation=%s rules=%d",
		subjectID(subject), resource, op, len(rules)))

	if len(rules) == 0 {
		if snap.defaultDeny[resource] {
			ex.Decision.Reason = ReasonNoRule
			ex.Trace = append(ex.Trace, "resource is default-deny and no rule covers this operation: DENY")
		} else {
			ex.Decision.Allowed = true
			ex.Decision.Reason = ReasonUnprotected
			ex.Trace = append(ex.Trace, "resource is not protected: ALLOW")
		}
		return ex
	}

	for _, rule := range rules {
		ok, err := runPredicate(rule, subject, row)
		switch {
		case err != nil:
			ex.Trace = append(ex.Trace, fmt.Sprintf("rule=%s ERROR %v", rule.Name, err))
			if ex.Decision.RuleError == nil {
				ex.Decision.RuleError = &RuleEvaluationError{
					Resource: resource, Operation: op, Rule: rule.Name, Err: err,
				}
			}
		case ok:
			ex.Trace = append(ex.Trace, fmt.Sprintf("rule=%s MATCH", rule.Name))
			if !ex.Decision.Allowed {
				ex.Decision.Allowed = true
				ex.Decision.Reason = ReasonMatched
				ex.Decision.MatchedRule = rule.Name
			}
		default:
			ex.Trace = append(ex.Trace, fmt.Sprintf("rule=%s no match", rule.Name))
		}
	}

	if !ex.Decision.Allowed {
		if ex.Decision.RuleError != nil {
			ex.Decision.Reason = ReasonRuleError
		} else {
			ex.Decision.Reason = ReasonNoMatch
		}
	}
	ex.Trace = append(ex.Trace, "final: "+ex.Decision.String())
	return ex
}
