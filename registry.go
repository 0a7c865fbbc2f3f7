package rowguard

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// ============================================================================
// POLICY REGISTRY
// ============================================================================

// registrySnapshot is an immutable view of the registered rule set. Readers
// grab the current pointer once per evaluation and never see a half-applied
// update.
type registrySnapshot struct {
	rules       map[string][]*PolicyRule // Key() -> rules in registration order
	defaultDeny map[string]bool          // protected resource types
	resources   map[string]bool          // every resource type any rule names
}

func newSnapshot() *registrySnapshot {
	return &registrySnapshot{
		rules:       make(map[string][]*PolicyRule),
		defaultDeny: make(map[string]bool),
		resources:   make(map[string]bool),
	}
}

func (s *registrySnapshot) clone() *registrySnapshot {
	c := newSnapshot()
	for k, v := range s.rules {
		c.rules[k] = append([]*PolicyRule(nil), v...)
	}
	for k := range s.defaultDeny {
		c.defaultDeny[k] = true
	}
	for k := range s.resources {
		c.resources[k] = true
	}
	return c
}

// add inserts a rule, replacing any existing rule with the same name on the
// same resource/operation slot.
func (s *registrySnapshot) add(rule *PolicyRule) {
	key := rule.Key()
	slot := s.rules[key]
	for i, existing := range slot {
		if existing.Name == rule.Name {
			slot[i] = rule
			s.rules[key] = slot
			return
		}
	}
	s.rules[key] = append(slot, rule)
	s.resources[rule.Resource] = true
}

// Registry holds the live rule set. Reads are lock-free against an atomic
// snapshot; writers serialize on a mutex and publish a fresh snapshot.
type Registry struct {
	mu   sync.Mutex
	snap atomic.Pointer[registrySnapshot]
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.snap.Store(newSnapshot())
	return r
}

func (r *Registry) snapshot() *registrySnapshot {
	return r.snap.Load()
}

func validateRule(rule *PolicyRule) error {
	if rule == nil {
		return fmt.Errorf("nil rule")
	}
	if rule.Resource == "" {
		return fmt.Errorf("rule %q has no resource type", rule.Name)
	}
	if rule.Name == "" {
		return fmt.Errorf("rule on %s has no name", rule.Resource)
	}
	if _, err := ParseOperation(string(rule.Operation)); err != nil {
		return fmt.Errorf("rule %s: %w", rule.Name, err)
	}
	if rule.Predicate == nil {
		return fmt.Errorf("rule %s has no predicate", rule.Name)
	}
	return nil
}

// Register adds or replaces a single rule. Registering the same name twice
// on the same resource/operation is idempotent, keeping the latest predicate.
func (r *Registry) Register(rule *PolicyRule) error {
	if err := validateRule(rule); err != nil {
		return &RegistryValidationError{Problems: []string{err.Error()}}
	}
	if rule.Source == "" {
		rule.Source = IdentityFromSubject
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.snapshot().clone()
	next.add(rule)
	r.snap.Store(next)
	return nil
}

// MarkDefaultDeny marks resource types as protected: operations with no
// registered rule are denied outright instead of falling through.
func (r *Registry) MarkDefaultDeny(resources ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.snapshot().clone()
	for _, res := range resources {
		if res != "" {
			next.defaultDeny[res] = true
			next.resources[res] = true
		}
	}
	r.snap.Store(next)
}

// ReplaceAll swaps the entire rule set atomically. The new set is staged and
// validated first; on any validation failure the previous set stays live and
// the returned error lists every problem found.
func (r *Registry) ReplaceAll(rules []*PolicyRule, defaultDeny []string) error {
	staging := newSnapshot()
	var problems []string
	seen := make(map[string]bool)
	for _, rule := range rules {
		if err := validateRule(rule); err != nil {
			problems = append(problems, err.Error())
			continue
		}
		if rule.Source == "" {
			rule.Source = IdentityFromSubject
		}
		nameKey := rule.Key() + "/" + rule.Name
		if seen[nameKey] {
			problems = append(problems, fmt.Sprintf("duplicate rule %s on %s", rule.Name, rule.Key()))
			continue
		}
		seen[nameKey] = true
		staging.add(rule)
	}
	for _, res := range defaultDeny {
		if res == "" {
			problems = append(problems, "empty default-deny resource type")
			continue
		}
		staging.defaultDeny[res] = true
		staging.resources[res] = true
	}
	if len(problems) > 0 {
		return &RegistryValidationError{Problems: problems}
	}
	r.mu.Lock()
	r.snap.Store(staging)
	r.mu.Unlock()
	return nil
}

// RulesFor returns the rules covering one resource/operation slot. The
// returned slice belongs to an immutable snapshot and must not be modified.
func (r *Registry) RulesFor(resource string, op Operation) []*PolicyRule {
	return r.snapshot().rules[resource+"/"+string(op)]
}

// DefaultDeny reports whether the resource type is marked protected.
func (r *Registry) DefaultDeny(resource string) bool {
	return r.snapshot().defaultDeny[resource]
}

// ResourceTypes returns every known resource type, sorted.
func (r *Registry) ResourceTypes() []string {
	snap := r.snapshot()
	out := make([]string, 0, len(snap.resources))
	for res := range snap.resources {
		out = append(out, res)
	}
	sort.Strings(out)
	return out
}

// RuleCount returns the total number of registered rules.
func (r *Registry) RuleCount() int {
	n := 0
	for _, slot := range r.snapshot().rules {
		n += len(slot)
	}
	return n
}
