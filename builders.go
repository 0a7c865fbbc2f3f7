package rowguard

// ============================================================================
// FLUENT BUILDERS
// ============================================================================

// RuleSpecBuilder assembles a RuleSpec fluently:
//
//	spec := NewRuleSpec("providers", OpRead).
//		Named("published_visible").
//		Kind(KindPublicRead).
//		Param("field", "published").
//		Build()
type RuleSpecBuilder struct {
	spec RuleSpec
}

func NewRuleSpec(resource string, op Operation) *RuleSpecBuilder {
	return &RuleSpecBuilder{spec: RuleSpec{Resource: resource, Operation: op}}
}

func (b *RuleSpecBuilder) Named(name string) *RuleSpecBuilder {
	b.spec.Name = name
	return b
}

func (b *RuleSpecBuilder) Kind(kind RuleKind) *RuleSpecBuilder {
	b.spec.Kind = kind
	return b
}

func (b *RuleSpecBuilder) Param(key, value string) *RuleSpecBuilder {
	if b.spec.Params == nil {
		b.spec.Params = make(map[string]string)
	}
	b.spec.Params[key] = value
	return b
}

func (b *RuleSpecBuilder) Build() RuleSpec {
	return b.spec
}

// ConfigBuilder assembles a full Config without going through a file.
type ConfigBuilder struct {
	cfg Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{cfg: Config{Version: 1}}
}

func (b *ConfigBuilder) Version(v int) *ConfigBuilder {
	b.cfg.Version = v
	return b
}

func (b *ConfigBuilder) DefaultDeny(resources ...string) *ConfigBuilder {
	b.cfg.DefaultDeny = append(b.cfg.DefaultDeny, resources...)
	return b
}

func (b *ConfigBuilder) Rule(spec RuleSpec) *ConfigBuilder {
	b.cfg.Rules = append(b.cfg.Rules, spec)
	return b
}

func (b *ConfigBuilder) Engine(ec EngineConfig) *ConfigBuilder {
	b.cfg.Engine = ec
	return b
}

func (b *ConfigBuilder) Build() *Config {
	cfg := b.cfg
	return &cfg
}
