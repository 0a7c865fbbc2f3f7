package rowguard

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// CONFIGURATION
// ============================================================================

// EngineConfig tunes engine and resolver runtime behavior. Durations are in
// milliseconds to keep config files plain.
type EngineConfig struct {
	AuditQueueSize     int   `json:"audit_queue_size,omitempty" yaml:"audit_queue_size,omitempty"`
	AuditFlushInterval int64 `json:"audit_flush_interval,omitempty" yaml:"audit_flush_interval,omitempty"`
	AdminCacheTTL      int64 `json:"admin_cache_ttl,omitempty" yaml:"admin_cache_ttl,omitempty"`
	MaxRulesPerSlot    int   `json:"max_rules_per_slot,omitempty" yaml:"max_rules_per_slot,omitempty"`
}

// Config is the declarative form of a complete policy set.
type Config struct {
	Version     int          `json:"version" yaml:"version"`
	DefaultDeny []string     `json:"default_deny,omitempty" yaml:"default_deny,omitempty"`
	Rules       []RuleSpec   `json:"rules" yaml:"rules"`
	Engine      EngineConfig `json:"engine,omitempty" yaml:"engine,omitempty"`
}

// ToYAML serializes the config for storage or conversion.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON serializes the config as indented JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ConfigLoader parses policy sets from serialized form.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader { return &ConfigLoader{} }

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml config: %w", err)
	}
	if err := l.check(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse json config: %w", err)
	}
	if err := l.check(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// check rejects structurally invalid configs before any rule is built.
func (l *ConfigLoader) check(cfg *Config) error {
	if cfg.Version <= 0 {
		return fmt.Errorf("config version must be positive, got %d", cfg.Version)
	}
	for i, spec := range cfg.Rules {
		if spec.Resource == "" {
			return fmt.Errorf("rule %d: missing resource", i)
		}
		if spec.Name == "" {
			return fmt.Errorf("rule %d (%s): missing name", i, spec.Resource)
		}
		if spec.Kind == "" {
			return fmt.Errorf("rule %s: missing kind", spec.Name)
		}
		if _, err := ParseOperation(string(spec.Operation)); err != nil {
			return fmt.Errorf("rule %s: %w", spec.Name, err)
		}
	}
	return nil
}

// EngineOptions derives engine options from the config's engine section.
func (c *Config) EngineOptions() []EngineOption {
	var opts []EngineOption
	if c.Engine.AuditQueueSize > 0 {
		opts = append(opts, WithAuditQueueSize(c.Engine.AuditQueueSize))
	}
	if c.Engine.AuditFlushInterval > 0 {
		opts = append(opts, WithAuditFlushInterval(time.Duration(c.Engine.AuditFlushInterval)*time.Millisecond))
	}
	return opts
}

// ApplyConfig loads a parsed config into the registrar's registry in one
// atomic swap.
func (r *Registrar) ApplyConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	return r.LoadAll(cfg.Rules, cfg.DefaultDeny)
}
