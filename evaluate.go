package rowguard

import (
	"context"
	"fmt"
	"time"

	"github.com/oarkflow/rowguard/logger"
)

// ============================================================================
// ENGINE
// ============================================================================

// Engine evaluates registered rules and audits every decision. Rules for one
// resource/operation pair compose with OR semantics: any rule returning true
// allows; with no rule true the operation is denied.
type Engine struct {
	registry *Registry
	queue    *auditQueue
	log      logger.Logger

	auditQueueSize int
	flushInterval  time.Duration
}

// EngineOption customizes engine construction.
type EngineOption func(*Engine)

// WithLogger replaces the default phuslu-backed logger.
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithAuditQueueSize caps the in-memory audit queue.
func WithAuditQueueSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.auditQueueSize = n
		}
	}
}

// WithAuditFlushInterval sets how often the queue flushes when idle.
func WithAuditFlushInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.flushInterval = d
		}
	}
}

// WithRegistry shares a pre-populated registry with the engine.
func WithRegistry(r *Registry) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.registry = r
		}
	}
}

// NewEngine builds an engine writing decisions to the given audit store.
// A nil store falls back to an in-memory one.
func NewEngine(auditStore AuditStore, opts ...EngineOption) *Engine {
	if auditStore == nil {
		auditStore = NewMemoryAuditStore()
	}
	e := &Engine{
		registry:       NewRegistry(),
		log:            logger.NewPhusluLogger(),
		auditQueueSize: 1024,
		flushInterval:  200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.queue = newAuditQueue(auditStore, e.log, e.auditQueueSize, e.flushInterval)
	return e
}

// Registry exposes the engine's rule registry for registration and loading.
func (e *Engine) Registry() *Registry { return e.registry }

// Close drains the audit queue and stops its flusher.
func (e *Engine) Close() {
	e.queue.close()
}

// AuditDropped reports how many audit entries overflow has discarded.
func (e *Engine) AuditDropped() uint64 { return e.queue.droppedCount() }

// runPredicate executes one rule, converting a panic into an error.
func runPredicate(rule *PolicyRule, subject *Subject, row RowView) (ok bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			ok = false
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return rule.Predicate(subject, row)
}

// Evaluate decides whether subject may perform op on one row of resource.
// Exactly one audit entry is recorded per call, on every path out.
func (e *Engine) Evaluate(ctx context.Context, subject *Subject, resource string, op Operation, row RowView) *Decision {
	decision := &Decision{Timestamp: time.Now()}
	defer func() { e.audit(subject, resource, op, decision) }()

	if err := ctx.Err(); err != nil {
		decision.Reason = "context canceled"
		return decision
	}

	snap := e.registry.snapshot()
	rules := snap.rules[resource+"/"+string(op)]
	if len(rules) == 0 {
		if snap.defaultDeny[resource] {
			decision.Reason = ReasonNoRule
		} else {
			// No rules and not marked protected: the resource opted out of
			// row-level enforcement entirely, like a table without RLS.
			decision.Allowed = true
			decision.Reason = ReasonUnprotected
		}
		return decision
	}

	for _, rule := range rules {
		ok, err := runPredicate(rule, subject, row)
		if err != nil {
			// A broken rule never grants and never hides: remember the first
			// failure, keep trying the remaining rules.
			if decision.RuleError == nil {
				decision.RuleError = &RuleEvaluationError{
					Resource:  resource,
					Operation: op,
					Rule:      rule.Name,
					Err:       err,
				}
			}
			continue
		}
		if ok {
			decision.Allowed = true
			decision.Reason = ReasonMatched
			decision.MatchedRule = rule.Name
			return decision
		}
	}

	if decision.RuleError != nil {
		decision.Reason = ReasonRuleError
	} else {
		decision.Reason = ReasonNoMatch
	}
	return decision
}

// FilterPredicate returns a pure row filter composed from the resource's
// read rules, for narrowing list queries in application code. One
// collection-level audit entry is recorded now; the returned function
// performs no I/O and records nothing per row. A rule error on a row counts
// as a non-match for that rule.
func (e *Engine) FilterPredicate(subject *Subject, resource string) func(RowView) bool {
	snap := e.registry.snapshot()
	rules := snap.rules[resource+"/"+string(OpRead)]

	decision := &Decision{Timestamp: time.Now()}
	switch {
	case len(rules) > 0:
		decision.Allowed = true
		decision.Reason = "collection filter issued"
	case snap.defaultDeny[resource]:
		decision.Reason = ReasonNoRule
	default:
		decision.Allowed = true
		decision.Reason = ReasonUnprotected
	}
	e.audit(subject, resource, OpRead, decision)

	if len(rules) == 0 {
		allow := !snap.defaultDeny[resource]
		return func(RowView) bool { return allow }
	}
	return func(row RowView) bool {
		for _, rule := range rules {
			ok, err := runPredicate(rule, subject, row)
			if err != nil {
				continue
			}
			if ok {
				return true
			}
		}
		return false
	}
}

// audit records and logs one decision.
func (e *Engine) audit(subject *Subject, resource string, op Operation, decision *Decision) {
	entry := &AuditEntry{
		ID:          newAuditID(decision.Timestamp),
		Timestamp:   decision.Timestamp,
		SubjectID:   subjectID(subject),
		Resource:    resource,
		Operation:   op,
		Outcome:     decision.Outcome(),
		MatchedRule: decision.MatchedRule,
	}
	if decision.RuleError != nil {
		entry.RuleError = decision.RuleError.Error()
	}
	e.queue.enqueue(entry)

	if entry.Broken() {
		e.log.Error("authorization rule failed",
			"subject", entry.SubjectID,
			"resource", resource,
			"operation", string(op),
			"outcome", string(entry.Outcome),
			"error", entry.RuleError)
		return
	}
	e.log.Info("authorization decision",
		"subject", entry.SubjectID,
		"resource", resource,
		"operation", string(op),
		"outcome", string(entry.Outcome),
		"rule", entry.MatchedRule,
		"reason", decision.Reason)
}

func subjectID(s *Subject) string {
	if s.Anonymous() {
		return "anonymous"
	}
	return s.ID
}
