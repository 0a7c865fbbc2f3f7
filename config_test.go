package rowguard

import (
	"context"
	"testing"
)

const sampleYAML = `
version: 1
default_deny:
  - providers
  - bookings
rules:
  - resource: providers
    operation: read
    name: published_visible
    kind: publicRead
    params:
      field: published
  - resource: providers
    operation: update
    name: owner
    kind: ownerMatch
    params:
      field: owner_user_id
  - resource: bookings
    operation: delete
    name: admin
    kind: adminOnly
engine:
  audit_queue_size: 2048
  audit_flush_interval: 100
`

func TestLoadYAMLAndApply(t *testing.T) {
	cfg, err := NewConfigLoader().LoadYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if len(cfg.Rules) != 3 || len(cfg.DefaultDeny) != 2 {
		t.Fatalf("unexpected config shape: %+v", cfg)
	}
	if cfg.Engine.AuditQueueSize != 2048 {
		t.Fatalf("engine section not parsed: %+v", cfg.Engine)
	}

	reg := NewRegistry()
	if err := NewRegistrar(reg).ApplyConfig(cfg); err != nil {
		t.Fatalf("apply config: %v", err)
	}
	if !reg.DefaultDeny("bookings") {
		t.Fatalf("default-deny list not applied")
	}
	if len(reg.RulesFor("providers", OpRead)) != 1 {
		t.Fatalf("rules not applied")
	}
}

func TestLoadYAMLRejectsBadConfigs(t *testing.T) {
	loader := NewConfigLoader()
	cases := map[string]string{
		"bad_version":   "version: 0\nrules: []\n",
		"missing_name":  "version: 1\nrules:\n  - resource: r\n    operation: read\n    kind: adminOnly\n",
		"bad_operation": "version: 1\nrules:\n  - resource: r\n    operation: write\n    name: x\n    kind: adminOnly\n",
		"missing_kind":  "version: 1\nrules:\n  - resource: r\n    operation: read\n    name: x\n",
		"not_yaml":      "{{{{",
	}
	for name, raw := range cases {
		if _, err := loader.LoadYAML([]byte(raw)); err == nil {
			t.Fatalf("%s: accepted", name)
		}
	}
}

func TestJSONRoundTrip(t *testing.T) {
	cfg, err := NewConfigLoader().LoadYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	data, err := cfg.ToJSON()
	if err != nil {
		t.Fatalf("to json: %v", err)
	}
	back, err := NewConfigLoader().LoadJSON(data)
	if err != nil {
		t.Fatalf("load json: %v", err)
	}
	if len(back.Rules) != len(cfg.Rules) || back.Version != cfg.Version {
		t.Fatalf("round trip lost data: %+v", back)
	}
	if back.Rules[0].Params["field"] != "published" {
		t.Fatalf("params lost in round trip")
	}
}

func TestConfigBuilderAndEngineOptions(t *testing.T) {
	cfg := NewConfigBuilder().
		DefaultDeny("providers").
		Rule(NewRuleSpec("providers", OpRead).
			Named("published").
			Kind(KindPublicRead).
			Param("field", "published").
			Build()).
		Engine(EngineConfig{AuditQueueSize: 16, AuditFlushInterval: 5}).
		Build()

	store := NewMemoryAuditStore()
	e := NewEngine(store, cfg.EngineOptions()...)

	if err := NewRegistrar(e.Registry()).ApplyConfig(cfg); err != nil {
		t.Fatalf("apply built config: %v", err)
	}
	d := e.Evaluate(context.Background(), &Subject{}, "providers", OpRead, RowView{"published": true})
	if !d.Allowed {
		t.Fatalf("built config not effective: %s", d)
	}

	e.Close()
	entries, _ := store.GetAccessLog(context.Background(), AuditFilter{})
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
}
