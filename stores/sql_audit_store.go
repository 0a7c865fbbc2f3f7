// Package stores provides SQL and redis persistence for audit logs and the
// admin allow-list.
package stores

import (
	"context"
	"strings"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/rowguard"
)

// SQLAuditStore persists audit entries through squealx named queries.
type SQLAuditStore struct {
	db *squealx.DB
}

var _ rowguard.AuditStore = (*SQLAuditStore)(nil)

func NewSQLAuditStore(db *squealx.DB) (*SQLAuditStore, error) {
	return &SQLAuditStore{db: db}, nil
}

func (s *SQLAuditStore) LogDecision(ctx context.Context, entry *rowguard.AuditEntry) error {
	q := `INSERT INTO audit_log(id, timestamp, subject_id, resource, operation, outcome, matched_rule, rule_error)
	      VALUES(:id, :timestamp, :subject_id, :resource, :operation, :outcome, :matched_rule, :rule_error)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":           entry.ID,
		"timestamp":    entry.Timestamp,
		"subject_id":   entry.SubjectID,
		"resource":     entry.Resource,
		"operation":    string(entry.Operation),
		"outcome":      string(entry.Outcome),
		"matched_rule": entry.MatchedRule,
		"rule_error":   entry.RuleError,
	})
	return err
}

func (s *SQLAuditStore) GetAccessLog(ctx context.Context, filter rowguard.AuditFilter) ([]*rowguard.AuditEntry, error) {
	q := `SELECT id, timestamp, subject_id, resource, operation, outcome, matched_rule, rule_error FROM audit_log WHERE 1=1`
	params := map[string]any{}
	if filter.SubjectID != "" {
		q += " AND subject_id = :subject_id"
		params["subject_id"] = filter.SubjectID
	}
	if filter.Resource != "" {
		if strings.Contains(filter.Resource, "*") {
			q += ` AND resource LIKE :resource ESCAPE '\'`
			params["resource"] = likePattern(filter.Resource)
		} else {
			q += " AND resource = :resource"
			params["resource"] = filter.Resource
		}
	}
	if filter.Operation != "" {
		q += " AND operation = :operation"
		params["operation"] = string(filter.Operation)
	}
	if filter.Outcome != "" {
		q += " AND outcome = :outcome"
		params["outcome"] = string(filter.Outcome)
	}
	if filter.OnlyBroken {
		q += " AND rule_error != ''"
	}
	if !filter.StartTime.IsZero() {
		q += " AND timestamp >= :start"
		params["start"] = filter.StartTime
	}
	if !filter.EndTime.IsZero() {
		q += " AND timestamp <= :end"
		params["end"] = filter.EndTime
	}
	q += " ORDER BY timestamp"
	if filter.Limit > 0 {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	} else {
		q += " LIMIT 100"
	}

	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out := make([]*rowguard.AuditEntry, 0)
	for r.Next() {
		var id, subject, resource, operation, outcome, matchedRule, ruleError string
		var timestampRaw any
		if err := r.Scan(&id, &timestampRaw, &subject, &resource, &operation, &outcome, &matchedRule, &ruleError); err != nil {
			return nil, err
		}
		out = append(out, &rowguard.AuditEntry{
			ID:          id,
			Timestamp:   scanTime(timestampRaw),
			SubjectID:   subject,
			Resource:    resource,
			Operation:   rowguard.Operation(operation),
			Outcome:     rowguard.Outcome(outcome),
			MatchedRule: matchedRule,
			RuleError:   ruleError,
		})
	}
	return out, nil
}
