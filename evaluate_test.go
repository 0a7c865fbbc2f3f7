package rowguard

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/oarkflow/rowguard/logger"
)

func newTestEngine(t *testing.T, store AuditStore, opts ...EngineOption) *Engine {
	t.Helper()
	opts = append([]EngineOption{
		WithLogger(logger.NewNullLogger()),
		WithAuditFlushInterval(5 * time.Millisecond),
	}, opts...)
	return NewEngine(store, opts...)
}

func mustRegister(t *testing.T, reg *Registry, rule *PolicyRule) {
	t.Helper()
	if err := reg.Register(rule); err != nil {
		t.Fatalf("register %s: %v", rule.Name, err)
	}
}

func TestEvaluateVisibilityAndOwnership(t *testing.T) {
	store := NewMemoryAuditStore()
	e := newTestEngine(t, store)
	defer e.Close()

	reg := e.Registry()
	reg.MarkDefaultDeny("providers")
	mustRegister(t, reg, &PolicyRule{
		Resource: "providers", Operation: OpRead, Name: "published_visible",
		Predicate: PublicRead("published"),
	})
	mustRegister(t, reg, &PolicyRule{
		Resource: "providers", Operation: OpRead, Name: "owner_sees_own",
		Predicate: OwnerMatch("owner_user_id"),
	})

	ctx := context.Background()
	anon := &Subject{}
	owner := &Subject{ID: "user-7", Roles: []string{RoleAuthenticated}}
	stranger := &Subject{ID: "user-9", Roles: []string{RoleAuthenticated}}

	unpublished := RowView{"owner_user_id": "user-7", "published": false}
	published := RowView{"owner_user_id": "user-7", "published": true}

	if d := e.Evaluate(ctx, anon, "providers", OpRead, unpublished); d.Allowed {
		t.Fatalf("anonymous read of unpublished row allowed: %s", d)
	}
	if d := e.Evaluate(ctx, stranger, "providers", OpRead, unpublished); d.Allowed {
		t.Fatalf("non-owner read of unpublished row allowed: %s", d)
	}
	if d := e.Evaluate(ctx, owner, "providers", OpRead, unpublished); !d.Allowed {
		t.Fatalf("owner read of own unpublished row denied: %s", d)
	} else if d.MatchedRule != "owner_sees_own" {
		t.Fatalf("expected owner_sees_own match, got %q", d.MatchedRule)
	}
	if d := e.Evaluate(ctx, anon, "providers", OpRead, published); !d.Allowed {
		t.Fatalf("anonymous read of published row denied: %s", d)
	}
}

func TestEvaluateNoRuleOnProtectedResource(t *testing.T) {
	store := NewMemoryAuditStore()
	e := newTestEngine(t, store)
	defer e.Close()

	reg := e.Registry()
	reg.MarkDefaultDeny("bookings")
	mustRegister(t, reg, &PolicyRule{
		Resource: "bookings", Operation: OpRead, Name: "owner",
		Predicate: OwnerMatch("customer_id"),
	})

	subject := &Subject{ID: "user-1"}
	d := e.Evaluate(context.Background(), subject, "bookings", OpDelete, RowView{"customer_id": "user-1"})
	if d.Allowed {
		t.Fatalf("delete with no registered rule allowed on protected resource")
	}
	if d.Reason != ReasonNoRule {
		t.Fatalf("expected reason %q, got %q", ReasonNoRule, d.Reason)
	}
}

func TestEvaluateUnprotectedResource(t *testing.T) {
	store := NewMemoryAuditStore()
	e := newTestEngine(t, store)
	defer e.Close()

	d := e.Evaluate(context.Background(), &Subject{}, "service_categories", OpRead, nil)
	if !d.Allowed {
		t.Fatalf("read of unprotected resource denied: %s", d)
	}
	if d.Reason != ReasonUnprotected {
		t.Fatalf("expected reason %q, got %q", ReasonUnprotected, d.Reason)
	}
}

func TestEvaluateAdminOnlyDelete(t *testing.T) {
	store := NewMemoryAuditStore()
	e := newTestEngine(t, store)
	defer e.Close()

	reg := e.Registry()
	reg.MarkDefaultDeny("reviews")
	mustRegister(t, reg, &PolicyRule{
		Resource: "reviews", Operation: OpDelete, Name: "admin_moderation",
		Predicate: AdminOnly(),
	})

	row := RowView{"id": "rev-1"}
	admin := &Subject{ID: "user-adm", IsAdmin: true}
	regular := &Subject{ID: "user-2"}

	if d := e.Evaluate(context.Background(), regular, "reviews", OpDelete, row); d.Allowed {
		t.Fatalf("non-admin delete allowed")
	}
	if d := e.Evaluate(context.Background(), admin, "reviews", OpDelete, row); !d.Allowed {
		t.Fatalf("admin delete denied: %s", d)
	}
}

func TestEvaluateOwnerOrAdminDelete(t *testing.T) {
	store := NewMemoryAuditStore()
	e := newTestEngine(t, store)
	defer e.Close()

	reg := e.Registry()
	reg.MarkDefaultDeny("jobPosts")
	mustRegister(t, reg, &PolicyRule{
		Resource: "jobPosts", Operation: OpDelete, Name: "owner",
		Predicate: OwnerMatch("owner_id"),
	})
	mustRegister(t, reg, &PolicyRule{
		Resource: "jobPosts", Operation: OpDelete, Name: "admin",
		Predicate: AdminOnly(),
	})

	u1 := &Subject{ID: "u1"}
	if d := e.Evaluate(context.Background(), u1, "jobPosts", OpDelete, RowView{"owner_id": "u1"}); !d.Allowed {
		t.Fatalf("owner delete denied: %s", d)
	} else if d.MatchedRule != "owner" {
		t.Fatalf("expected owner match, got %q", d.MatchedRule)
	}
	if d := e.Evaluate(context.Background(), u1, "jobPosts", OpDelete, RowView{"owner_id": "u2"}); d.Allowed {
		t.Fatalf("non-owner non-admin delete allowed")
	}
}

func TestBrokenRuleFailsClosed(t *testing.T) {
	store := NewMemoryAuditStore()
	e := newTestEngine(t, store)

	reg := e.Registry()
	reg.MarkDefaultDeny("jobPosts")
	mustRegister(t, reg, &PolicyRule{
		Resource: "jobPosts", Operation: OpUpdate, Name: "throws",
		Predicate: func(*Subject, RowView) (bool, error) {
			return false, errors.New("column renamed")
		},
	})

	d := e.Evaluate(context.Background(), &Subject{ID: "user-1"}, "jobPosts", OpUpdate, RowView{})
	if d.Allowed {
		t.Fatalf("broken rule granted access")
	}
	if d.RuleError == nil {
		t.Fatalf("expected rule error on decision")
	}
	if d.RuleError.Rule != "throws" {
		t.Fatalf("expected error from rule throws, got %q", d.RuleError.Rule)
	}

	e.Close()
	broken, err := store.GetAccessLog(context.Background(), AuditFilter{OnlyBroken: true})
	if err != nil {
		t.Fatalf("get access log: %v", err)
	}
	if len(broken) != 1 {
		t.Fatalf("expected 1 broken-rule audit entry, got %d", len(broken))
	}
	if broken[0].Outcome != OutcomeDeny {
		t.Fatalf("broken-rule entry should record deny, got %s", broken[0].Outcome)
	}
}

func TestBrokenRuleOrderIndependence(t *testing.T) {
	throwing := &PolicyRule{
		Resource: "jobPosts", Operation: OpDelete, Name: "throws",
		Predicate: func(*Subject, RowView) (bool, error) {
			return false, errors.New("boom")
		},
	}
	adminRule := &PolicyRule{
		Resource: "jobPosts", Operation: OpDelete, Name: "admin",
		Predicate: AdminOnly(),
	}

	for name, order := range map[string][]*PolicyRule{
		"throwing_first": {throwing, adminRule},
		"admin_first":    {adminRule, throwing},
	} {
		store := NewMemoryAuditStore()
		e := newTestEngine(t, store)
		reg := e.Registry()
		reg.MarkDefaultDeny("jobPosts")
		for _, r := range order {
			mustRegister(t, reg, &PolicyRule{
				Resource: r.Resource, Operation: r.Operation, Name: r.Name, Predicate: r.Predicate,
			})
		}

		admin := &Subject{ID: "adm", IsAdmin: true}
		regular := &Subject{ID: "usr"}

		if d := e.Evaluate(context.Background(), admin, "jobPosts", OpDelete, RowView{}); !d.Allowed {
			t.Fatalf("%s: admin denied despite matching rule: %s", name, d)
		}
		if d := e.Evaluate(context.Background(), regular, "jobPosts", OpDelete, RowView{}); d.Allowed {
			t.Fatalf("%s: regular user allowed", name)
		} else if d.RuleError == nil {
			t.Fatalf("%s: denial should carry the rule error", name)
		}
		e.Close()
	}
}

func TestPanickingPredicateIsCaptured(t *testing.T) {
	store := NewMemoryAuditStore()
	e := newTestEngine(t, store)
	defer e.Close()

	reg := e.Registry()
	mustRegister(t, reg, &PolicyRule{
		Resource: "providers", Operation: OpUpdate, Name: "panics",
		Predicate: func(*Subject, RowView) (bool, error) {
			panic("nil map write")
		},
	})

	d := e.Evaluate(context.Background(), &Subject{ID: "u"}, "providers", OpUpdate, RowView{})
	if d.Allowed {
		t.Fatalf("panicking rule granted access")
	}
	if d.RuleError == nil {
		t.Fatalf("expected captured panic as rule error")
	}
}

func TestExactlyOneAuditEntryPerEvaluate(t *testing.T) {
	store := NewMemoryAuditStore()
	e := newTestEngine(t, store)

	reg := e.Registry()
	reg.MarkDefaultDeny("providers")
	mustRegister(t, reg, &PolicyRule{
		Resource: "providers", Operation: OpRead, Name: "published",
		Predicate: PublicRead("published"),
	})

	subject := &Subject{ID: "u1"}
	const calls = 25
	for i := 0; i < calls; i++ {
		e.Evaluate(context.Background(), subject, "providers", OpRead, RowView{"published": i%2 == 0})
	}
	// no rule registered for update; still exactly one entry
	e.Evaluate(context.Background(), subject, "providers", OpUpdate, RowView{})
	e.Close()

	entries, err := store.GetAccessLog(context.Background(), AuditFilter{})
	if err != nil {
		t.Fatalf("get access log: %v", err)
	}
	if len(entries) != calls+1 {
		t.Fatalf("expected %d audit entries, got %d", calls+1, len(entries))
	}
}

func TestFilterPredicateMatchesEvaluate(t *testing.T) {
	store := NewMemoryAuditStore()
	e := newTestEngine(t, store)

	reg := e.Registry()
	reg.MarkDefaultDeny("providers")
	mustRegister(t, reg, &PolicyRule{
		Resource: "providers", Operation: OpRead, Name: "published",
		Predicate: PublicRead("published"),
	})
	mustRegister(t, reg, &PolicyRule{
		Resource: "providers", Operation: OpRead, Name: "owner",
		Predicate: OwnerMatch("owner_user_id"),
	})

	subject := &Subject{ID: "user-3"}
	rows := []RowView{
		{"owner_user_id": "user-3", "published": false},
		{"owner_user_id": "user-8", "published": false},
		{"owner_user_id": "user-8", "published": true},
		{},
	}

	filter := e.FilterPredicate(subject, "providers")
	for i, row := range rows {
		want := e.Evaluate(context.Background(), subject, "providers", OpRead, row).Allowed
		if got := filter(row); got != want {
			t.Fatalf("row %d: filter=%v evaluate=%v", i, got, want)
		}
	}
}

func TestFilterPredicateAuditsOnce(t *testing.T) {
	store := NewMemoryAuditStore()
	e := newTestEngine(t, store)

	reg := e.Registry()
	mustRegister(t, reg, &PolicyRule{
		Resource: "providers", Operation: OpRead, Name: "published",
		Predicate: PublicRead("published"),
	})

	filter := e.FilterPredicate(&Subject{ID: "u"}, "providers")
	for i := 0; i < 500; i++ {
		filter(RowView{"published": true})
	}
	e.Close()

	entries, err := store.GetAccessLog(context.Background(), AuditFilter{})
	if err != nil {
		t.Fatalf("get access log: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected a single collection-level audit entry, got %d", len(entries))
	}
}

func TestFilterPredicateRuleErrorIsNonMatch(t *testing.T) {
	store := NewMemoryAuditStore()
	e := newTestEngine(t, store)
	defer e.Close()

	reg := e.Registry()
	reg.MarkDefaultDeny("providers")
	mustRegister(t, reg, &PolicyRule{
		Resource: "providers", Operation: OpRead, Name: "throws",
		Predicate: func(*Subject, RowView) (bool, error) {
			return true, errors.New("broken")
		},
	})
	mustRegister(t, reg, &PolicyRule{
		Resource: "providers", Operation: OpRead, Name: "published",
		Predicate: PublicRead("published"),
	})

	filter := e.FilterPredicate(&Subject{}, "providers")
	if filter(RowView{"published": false}) {
		t.Fatalf("broken rule matched a row")
	}
	if !filter(RowView{"published": true}) {
		t.Fatalf("healthy rule should still match past the broken one")
	}
}

func TestFilterPredicateDefaultDenyWithoutRules(t *testing.T) {
	store := NewMemoryAuditStore()
	e := newTestEngine(t, store)
	defer e.Close()

	e.Registry().MarkDefaultDeny("bookings")
	filter := e.FilterPredicate(&Subject{ID: "u"}, "bookings")
	if filter(RowView{"customer_id": "u"}) {
		t.Fatalf("protected resource with no read rules should filter everything out")
	}
}

func TestExplainTracesEveryRule(t *testing.T) {
	store := NewMemoryAuditStore()
	e := newTestEngine(t, store)
	defer e.Close()

	reg := e.Registry()
	reg.MarkDefaultDeny("reviews")
	mustRegister(t, reg, &PolicyRule{
		Resource: "reviews", Operation: OpUpdate, Name: "owner",
		Predicate: OwnerMatch("author_id"),
	})
	mustRegister(t, reg, &PolicyRule{
		Resource: "reviews", Operation: OpUpdate, Name: "admin",
		Predicate: AdminOnly(),
	})

	ex := e.Explain(context.Background(), &Subject{ID: "u1", IsAdmin: true}, "reviews", OpUpdate,
		RowView{"author_id": "someone-else"})
	if !ex.Decision.Allowed {
		t.Fatalf("admin should be allowed: %s", ex.Decision)
	}
	if ex.Decision.MatchedRule != "admin" {
		t.Fatalf("expected admin match, got %q", ex.Decision.MatchedRule)
	}
	// header + one line per rule + final
	if len(ex.Trace) != 4 {
		t.Fatalf("expected 4 trace lines, got %d: %v", len(ex.Trace), ex.Trace)
	}
}

func TestEvaluateConcurrentWithReload(t *testing.T) {
	store := NewMemoryAuditStore()
	e := newTestEngine(t, store, WithAuditQueueSize(1<<16))
	defer e.Close()

	reg := e.Registry()
	registrar := NewRegistrar(reg)
	specA := []RuleSpec{{Resource: "providers", Operation: OpRead, Name: "published", Kind: KindPublicRead, Params: map[string]string{"field": "published"}}}
	specB := []RuleSpec{{Resource: "providers", Operation: OpRead, Name: "owner", Kind: KindOwnerMatch, Params: map[string]string{"field": "owner_user_id"}}}
	if err := registrar.LoadAll(specA, []string{"providers"}); err != nil {
		t.Fatalf("initial load: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			specs := specA
			if i%2 == 0 {
				specs = specB
			}
			if err := registrar.LoadAll(specs, []string{"providers"}); err != nil {
				t.Errorf("reload %d: %v", i, err)
				return
			}
		}
	}()

	subject := &Subject{ID: "owner-1"}
	row := RowView{"published": true, "owner_user_id": "owner-1"}
	for i := 0; i < 2000; i++ {
		// both rule sets allow this row, so any consistent snapshot allows
		if d := e.Evaluate(context.Background(), subject, "providers", OpRead, row); !d.Allowed {
			t.Fatalf("iteration %d: denied during reload: %s", i, d)
		}
	}
	<-done
}

func TestDecisionString(t *testing.T) {
	d := &Decision{Allowed: true, Reason: ReasonMatched, MatchedRule: "owner"}
	if got := d.String(); got != fmt.Sprintf("allow (%s: owner)", ReasonMatched) {
		t.Fatalf("unexpected decision string %q", got)
	}
}
