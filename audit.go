package rowguard

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oarkflow/rowguard/logger"
	"github.com/oarkflow/rowguard/utils"
)

// ============================================================================
// AUDIT SINK
// ============================================================================

// AuditEntry records one authorization decision. Entries with a non-empty
// RuleError are broken-rule events and are never dropped by the queue.
type AuditEntry struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	SubjectID   string    `json:"subject_id"`
	Resource    string    `json:"resource"`
	Operation   Operation `json:"operation"`
	Outcome     Outcome   `json:"outcome"`
	MatchedRule string    `json:"matched_rule,omitempty"`
	RuleError   string    `json:"rule_error,omitempty"`
}

// Broken reports whether the entry records a rule evaluation failure.
func (e *AuditEntry) Broken() bool { return e.RuleError != "" }

// AuditFilter narrows GetAccessLog queries. Zero fields are ignored.
// Resource may contain '*' wildcards.
type AuditFilter struct {
	SubjectID  string
	Resource   string
	Operation  Operation
	Outcome    Outcome
	OnlyBroken bool
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
}

// Match reports whether the entry passes the filter.
func (f AuditFilter) Match(e *AuditEntry) bool {
	if f.SubjectID != "" && e.SubjectID != f.SubjectID {
		return false
	}
	if f.Resource != "" && !utils.MatchResource(e.Resource, f.Resource) {
		return false
	}
	if f.Operation != "" && e.Operation != f.Operation {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	if f.OnlyBroken && !e.Broken() {
		return false
	}
	if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime) {
		return false
	}
	return true
}

// AuditStore persists decision records.
type AuditStore interface {
	LogDecision(ctx context.Context, entry *AuditEntry) error
	GetAccessLog(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)
}

var auditSeq atomic.Uint64

func newAuditID(ts time.Time) string {
	return fmt.Sprintf("%d-%d", ts.UnixNano(), auditSeq.Add(1))
}

// ----------------------------------------------------------------------------
// In-memory store
// ----------------------------------------------------------------------------

// MemoryAuditStore keeps entries in memory, oldest first.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []*AuditEntry
}

func NewMemoryAuditStore() *MemoryAuditStore { return &MemoryAuditStore{} }

func (m *MemoryAuditStore) LogDecision(_ context.Context, entry *AuditEntry) error {
	if entry == nil {
		return fmt.Errorf("nil audit entry")
	}
	m.mu.Lock()
	m.entries = append(m.entries, entry)
	m.mu.Unlock()
	return nil
}

func (m *MemoryAuditStore) GetAccessLog(_ context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*AuditEntry
	for _, e := range m.entries {
		if filter.Match(e) {
			out = append(out, e)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				break
			}
		}
	}
	return out, nil
}

// ----------------------------------------------------------------------------
// Bounded async queue
// ----------------------------------------------------------------------------

// auditQueue buffers entries between the hot evaluation path and the store.
// Enqueue never blocks: when full it evicts the oldest non-broken entry, and
// a non-broken entry arriving with no evictable slot is dropped. Broken-rule
// entries are always kept, temporarily exceeding the cap if necessary. A
// single flusher goroutine preserves enqueue order.
type auditQueue struct {
	store  AuditStore
	log    logger.Logger
	max    int
	flush  time.Duration
	notify chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending []*AuditEntry
	dropped uint64
}

func newAuditQueue(store AuditStore, log logger.Logger, max int, flush time.Duration) *auditQueue {
	if max <= 0 {
		max = 1024
	}
	if flush <= 0 {
		flush = 200 * time.Millisecond
	}
	q := &auditQueue{
		store:  store,
		log:    log,
		max:    max,
		flush:  flush,
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *auditQueue) enqueue(entry *AuditEntry) {
	q.mu.Lock()
	if len(q.pending) >= q.max {
		evicted := false
		for i, e := range q.pending {
			if !e.Broken() {
				q.pending = append(q.pending[:i], q.pending[i+1:]...)
				q.dropped++
				evicted = true
				break
			}
		}
		if !evicted && !entry.Broken() {
			q.dropped++
			q.mu.Unlock()
			q.log.Error("audit queue full, entry dropped",
				"subject", entry.SubjectID, "resource", entry.Resource)
			return
		}
	}
	q.pending = append(q.pending, entry)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *auditQueue) drain() {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()
	for _, entry := range batch {
		if err := q.store.LogDecision(context.Background(), entry); err != nil {
			q.log.Error("audit store write failed", "error", err.Error(), "entry", entry.ID)
		}
	}
}

func (q *auditQueue) run() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.flush)
	defer ticker.Stop()
	for {
		select {
		case <-q.notify:
			q.drain()
		case <-ticker.C:
			q.drain()
		case <-q.stop:
			q.drain()
			return
		}
	}
}

// close stops the flusher after a final drain.
func (q *auditQueue) close() {
	close(q.stop)
	q.wg.Wait()
}

// droppedCount returns how many entries overflow has discarded.
func (q *auditQueue) droppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
