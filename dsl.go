package rowguard

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ============================================================================
// COMPACT DSL
// ============================================================================
//
// Line-oriented policy format for hand-written rule files:
//
//	# comments and blank lines are ignored
//	version 1
//	default-deny providers bookings
//	rule providers read published_visible publicRead field:published
//	rule providers update owner ownerMatch field:owner_user_id
//	engine audit_queue=2048 flush_interval=500
//
// Params are key:value tokens; values containing spaces use double quotes.

// DSLParser parses the compact policy format.
type DSLParser struct {
	line int
}

func NewDSLParser() *DSLParser { return &DSLParser{} }

// Parse reads an entire policy file into a Config.
func (p *DSLParser) Parse(data []byte) (*Config, error) {
	cfg := &Config{Version: 1}
	p.line = 0
	for _, raw := range bytes.Split(data, []byte{'\n'}) {
		p.line++
		fields, err := splitLineBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", p.line, err)
		}
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "version":
			if err := p.parseVersion(cfg, fields); err != nil {
				return nil, fmt.Errorf("line %d: %w", p.line, err)
			}
		case "default-deny":
			if len(fields) < 2 {
				return nil, fmt.Errorf("line %d: default-deny needs at least one resource", p.line)
			}
			cfg.DefaultDeny = append(cfg.DefaultDeny, fields[1:]...)
		case "rule":
			spec, err := p.parseRule(fields)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", p.line, err)
			}
			cfg.Rules = append(cfg.Rules, spec)
		case "engine":
			if err := p.parseEngine(cfg, fields[1:]); err != nil {
				return nil, fmt.Errorf("line %d: %w", p.line, err)
			}
		default:
			return nil, fmt.Errorf("line %d: unknown directive %q", p.line, fields[0])
		}
	}
	return cfg, nil
}

func (p *DSLParser) parseVersion(cfg *Config, fields []string) error {
	if len(fields) != 2 {
		return fmt.Errorf("version needs exactly one value")
	}
	v, err := strconv.Atoi(fields[1])
	if err != nil || v <= 0 {
		return fmt.Errorf("bad version %q", fields[1])
	}
	cfg.Version = v
	return nil
}

func (p *DSLParser) parseRule(fields []string) (RuleSpec, error) {
	// rule <resource> <operation> <name> <kind> [k:v ...]
	if len(fields) < 5 {
		return RuleSpec{}, fmt.Errorf("rule needs resource, operation, name and kind")
	}
	op, err := ParseOperation(fields[2])
	if err != nil {
		return RuleSpec{}, err
	}
	spec := RuleSpec{
		Resource:  fields[1],
		Operation: op,
		Name:      fields[3],
		Kind:      RuleKind(fields[4]),
	}
	for _, tok := range fields[5:] {
		k, v, ok := strings.Cut(tok, ":")
		if !ok || k == "" {
			return RuleSpec{}, fmt.Errorf("bad param %q, want key:value", tok)
		}
		if spec.Params == nil {
			spec.Params = make(map[string]string)
		}
		spec.Params[k] = v
	}
	return spec, nil
}

func (p *DSLParser) parseEngine(cfg *Config, tokens []string) error {
	for _, tok := range tokens {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			return fmt.Errorf("bad engine setting %q, want key=value", tok)
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("engine setting %s: bad value %q", k, v)
		}
		switch k {
		case "audit_queue":
			cfg.Engine.AuditQueueSize = n
		case "flush_interval":
			cfg.Engine.AuditFlushInterval = int64(n)
		case "admin_ttl":
			cfg.Engine.AdminCacheTTL = int64(n)
		case "max_rules":
			cfg.Engine.MaxRulesPerSlot = n
		default:
			return fmt.Errorf("unknown engine setting %q", k)
		}
	}
	return nil
}

// splitLineBytes tokenizes one line. Double quotes group tokens containing
// spaces; a '#' outside quotes starts a comment.
func splitLineBytes(line []byte) ([]string, error) {
	var fields []string
	var buf []byte
	inQuote := false
	flush := func() {
		if len(buf) > 0 {
			fields = append(fields, string(buf))
			buf = buf[:0]
		}
	}
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			if inQuote {
				fields = append(fields, string(buf))
				buf = buf[:0]
			}
			inQuote = !inQuote
		case inQuote:
			buf = append(buf, c)
		case c == '#':
			flush()
			return fields, nil
		case c == ' ' || c == '\t' || c == '\r':
			flush()
		default:
			buf = append(buf, c)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote")
	}
	flush()
	return fields, nil
}

// DSLEncoder renders a Config back into the compact format.
type DSLEncoder struct{}

func NewDSLEncoder() *DSLEncoder { return &DSLEncoder{} }

func (e *DSLEncoder) Encode(cfg *Config) ([]byte, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "version %d\n", cfg.Version)
	if len(cfg.DefaultDeny) > 0 {
		b.WriteString("default-deny " + strings.Join(cfg.DefaultDeny, " ") + "\n")
	}
	for _, spec := range cfg.Rules {
		fmt.Fprintf(&b, "rule %s %s %s %s", spec.Resource, spec.Operation, spec.Name, spec.Kind)
		keys := make([]string, 0, len(spec.Params))
		for k := range spec.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := spec.Params[k]
			if strings.ContainsAny(v, " \t") {
				fmt.Fprintf(&b, " %s:%q", k, v)
			} else {
				fmt.Fprintf(&b, " %s:%s", k, v)
			}
		}
		b.WriteByte('\n')
	}
	if cfg.Engine != (EngineConfig{}) {
		b.WriteString("engine")
		if cfg.Engine.AuditQueueSize > 0 {
			fmt.Fprintf(&b, " audit_queue=%d", cfg.Engine.AuditQueueSize)
		}
		if cfg.Engine.AuditFlushInterval > 0 {
			fmt.Fprintf(&b, " flush_interval=%d", cfg.Engine.AuditFlushInterval)
		}
		if cfg.Engine.AdminCacheTTL > 0 {
			fmt.Fprintf(&b, " admin_ttl=%d", cfg.Engine.AdminCacheTTL)
		}
		if cfg.Engine.MaxRulesPerSlot > 0 {
			fmt.Fprintf(&b, " max_rules=%d", cfg.Engine.MaxRulesPerSlot)
		}
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}
