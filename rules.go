package rowguard

import (
	"fmt"
	"sort"
)

// ============================================================================
// RULE SPECS AND BUILT-IN RULE KINDS
// ============================================================================

// RuleKind selects a predicate constructor for declarative rule specs.
type RuleKind string

const (
	KindOwnerMatch RuleKind = "ownerMatch"
	KindAdminOnly  RuleKind = "adminOnly"
	KindPublicRead RuleKind = "publicRead"
	KindEmailMatch RuleKind = "emailMatch"
	KindCustom     RuleKind = "custom"
)

// RuleSpec is the declarative form of a rule, as loaded from config files.
type RuleSpec struct {
	Resource  string            `json:"resource" yaml:"resource"`
	Operation Operation         `json:"operation" yaml:"operation"`
	Name      string            `json:"name" yaml:"name"`
	Kind      RuleKind          `json:"kind" yaml:"kind"`
	Params    map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// OwnerMatch allows authenticated subjects whose ID equals the row's owner
// column. Anonymous subjects never match.
func OwnerMatch(field string) Predicate {
	return func(subject *Subject, row RowView) (bool, error) {
		if subject.Anonymous() {
			return false, nil
		}
		return row.Str(field) == subject.ID, nil
	}
}

// AdminOnly allows subjects whose resolved admin flag is set.
func AdminOnly() Predicate {
	return func(subject *Subject, _ RowView) (bool, error) {
		return subject != nil && subject.IsAdmin, nil
	}
}

// PublicRead allows anyone when the row's visibility column is true.
func PublicRead(field string) Predicate {
	return func(_ *Subject, row RowView) (bool, error) {
		return row.Bool(field), nil
	}
}

// EmailMatch allows subjects whose resolved email equals the row's column.
// An empty email never matches.
func EmailMatch(field string) Predicate {
	return func(subject *Subject, row RowView) (bool, error) {
		if subject == nil || subject.Email == "" {
			return false, nil
		}
		return row.Str(field) == subject.Email, nil
	}
}

// ============================================================================
// REGISTRAR
// ============================================================================

// customPredicate is a programmatic predicate registered under a name so
// declarative specs can reference it.
type customPredicate struct {
	source IdentitySource
	fn     Predicate
}

// Registrar turns RuleSpecs into live PolicyRules. Built-in kinds are
// constructed from their params; custom kinds resolve against predicates
// registered up front with RegisterCustom.
type Registrar struct {
	registry *Registry
	custom   map[string]customPredicate
}

func NewRegistrar(registry *Registry) *Registrar {
	return &Registrar{
		registry: registry,
		custom:   make(map[string]customPredicate),
	}
}

// RegisterCustom makes a programmatic predicate available to specs with
// kind=custom and params.func=name. The source tag feeds the diagnostic
// reporter; use IdentityFromAuthStore for predicates that bypass the
// resolved subject.
func (r *Registrar) RegisterCustom(name string, source IdentitySource, fn Predicate) error {
	if name == "" || fn == nil {
		return fmt.Errorf("custom predicate needs a name and a function")
	}
	if source == "" {
		source = IdentityFromSubject
	}
	r.custom[name] = customPredicate{source: source, fn: fn}
	return nil
}

// CustomNames returns the registered custom predicate names, sorted.
func (r *Registrar) CustomNames() []string {
	out := make([]string, 0, len(r.custom))
	for name := range r.custom {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Build materializes a single spec into a PolicyRule without registering it.
func (r *Registrar) Build(spec RuleSpec) (*PolicyRule, error) {
	op, err := ParseOperation(string(spec.Operation))
	if err != nil {
		return nil, fmt.Errorf("rule %s on %s: %w", spec.Name, spec.Resource, err)
	}
	rule := &PolicyRule{
		Resource:  spec.Resource,
		Operation: op,
		Name:      spec.Name,
		Source:    IdentityFromSubject,
	}
	switch spec.Kind {
	case KindOwnerMatch:
		field := spec.Params["field"]
		if field == "" {
			return nil, fmt.Errorf("rule %s: ownerMatch needs params.field", spec.Name)
		}
		rule.Predicate = OwnerMatch(field)
	case KindAdminOnly:
		rule.Predicate = AdminOnly()
	case KindPublicRead:
		field := spec.Params["field"]
		if field == "" {
			return nil, fmt.Errorf("rule %s: publicRead needs params.field", spec.Name)
		}
		rule.Predicate = PublicRead(field)
	case KindEmailMatch:
		field := spec.Params["field"]
		if field == "" {
			return nil, fmt.Errorf("rule %s: emailMatch needs params.field", spec.Name)
		}
		rule.Predicate = EmailMatch(field)
	case KindCustom:
		fnName := spec.Params["func"]
		if fnName == "" {
			fnName = spec.Name
		}
		cp, ok := r.custom[fnName]
		if !ok {
			return nil, fmt.Errorf("rule %s: custom predicate %q not registered", spec.Name, fnName)
		}
		rule.Source = cp.source
		rule.Predicate = cp.fn
	default:
		return nil, fmt.Errorf("rule %s: unknown kind %q", spec.Name, spec.Kind)
	}
	return rule, nil
}

// Register builds and registers a single spec immediately.
func (r *Registrar) Register(spec RuleSpec) error {
	rule, err := r.Build(spec)
	if err != nil {
		return &RegistryValidationError{Problems: []string{err.Error()}}
	}
	return r.registry.Register(rule)
}

// LoadAll stages every spec, validates the whole batch, and swaps the
// registry in one step. Any failure aborts the load with every problem
// reported; the previously live rule set stays in effect.
func (r *Registrar) LoadAll(specs []RuleSpec, defaultDeny []string) error {
	rules := make([]*PolicyRule, 0, len(specs))
	var problems []string
	for _, spec := range specs {
		rule, err := r.Build(spec)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		rules = append(rules, rule)
	}
	if len(problems) > 0 {
		return &RegistryValidationError{Problems: problems}
	}
	return r.registry.ReplaceAll(rules, defaultDeny)
}
