package rowguard

import (
	"fmt"
	"sort"
)

// ============================================================================
// DIAGNOSTIC REPORTER
// ============================================================================

// FindingKind classifies a policy-set defect.
type FindingKind string

const (
	// FindingMissingOperationCoverage: a default-deny resource has an
	// operation with no rule at all. Everything on that slot is denied,
	// which usually means a rule was forgotten rather than intended.
	FindingMissingOperationCoverage FindingKind = "missing_operation_coverage"
	// FindingSuspiciousIdentitySource: a rule derives identity from an auth
	// store snapshot instead of the resolved subject.
	FindingSuspiciousIdentitySource FindingKind = "suspicious_identity_source"
	// FindingDuplicateRuleName: two rules share a name on one slot.
	FindingDuplicateRuleName FindingKind = "duplicate_rule_name"
	// FindingExcessiveRuleCount: one slot carries more rules than the
	// configured threshold, a smell for contradictory policy.
	FindingExcessiveRuleCount FindingKind = "excessive_rule_count"
)

// Finding is one defect found by Validate.
type Finding struct {
	Kind      FindingKind
	Resource  string
	Operation Operation
	Rule      string
	Count     int
}

func (f Finding) String() string {
	switch f.Kind {
	case FindingMissingOperationCoverage:
		return fmt.Sprintf("%s: %s has no rule for %s", f.Kind, f.Resource, f.Operation)
	case FindingSuspiciousIdentitySource:
		return fmt.Sprintf("%s: rule %s on %s/%s reads identity from the auth store", f.Kind, f.Rule, f.Resource, f.Operation)
	case FindingDuplicateRuleName:
		return fmt.Sprintf("%s: rule name %s appears %d times on %s/%s", f.Kind, f.Rule, f.Count, f.Resource, f.Operation)
	case FindingExcessiveRuleCount:
		return fmt.Sprintf("%s: %s/%s carries %d rules", f.Kind, f.Resource, f.Operation, f.Count)
	}
	return string(f.Kind)
}

// Reporter inspects a registry for policy-set defects. It runs offline, at
// startup or in CI, and never sits on the evaluation path.
type Reporter struct {
	// MaxRulesPerSlot is the threshold for FindingExcessiveRuleCount.
	MaxRulesPerSlot int
}

func NewReporter() *Reporter {
	return &Reporter{MaxRulesPerSlot: 3}
}

// Validate walks the registered rule set and returns every finding, ordered
// by resource, operation, then kind.
func (rp *Reporter) Validate(reg *Registry) []Finding {
	var findings []Finding
	for _, resource := range reg.ResourceTypes() {
		protected := reg.DefaultDeny(resource)
		for _, op := range Operations() {
			rules := reg.RulesFor(resource, op)
			if len(rules) == 0 {
				if protected {
					findings = append(findings, Finding{
						Kind:      FindingMissingOperationCoverage,
						Resource:  resource,
						Operation: op,
					})
				}
				continue
			}
			if rp.MaxRulesPerSlot > 0 && len(rules) > rp.MaxRulesPerSlot {
				findings = append(findings, Finding{
					Kind:      FindingExcessiveRuleCount,
					Resource:  resource,
					Operation: op,
					Count:     len(rules),
				})
			}
			names := make(map[string]int)
			for _, rule := range rules {
				names[rule.Name]++
				if rule.Source == IdentityFromAuthStore {
					findings = append(findings, Finding{
						Kind:      FindingSuspiciousIdentitySource,
						Resource:  resource,
						Operation: op,
						Rule:      rule.Name,
					})
				}
			}
			for name, n := range names {
				if n > 1 {
					findings = append(findings, Finding{
						Kind:      FindingDuplicateRuleName,
						Resource:  resource,
						Operation: op,
						Rule:      name,
						Count:     n,
					})
				}
			}
		}
	}
	sort.Slice(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Resource != b.Resource {
			return a.Resource < b.Resource
		}
		if a.Operation != b.Operation {
			return a.Operation < b.Operation
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Rule < b.Rule
	})
	return findings
}
