package rowguard

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/oarkflow/rowguard/logger"
)

// ============================================================================
// IDENTITY RESOLVER
// ============================================================================

// AuthContext is the raw claim set handed in by the caller's auth layer.
type AuthContext struct {
	SubjectID string
	Email     string
	Roles     []string
}

// AdminLookup answers whether a subject is on the admin allow-list. It is
// the only external dependency of the resolver; implementations live in
// memory here and in the stores package for SQL and redis.
type AdminLookup interface {
	IsAdmin(ctx context.Context, subjectID, email string) (bool, error)
}

// Resolver turns auth contexts into Subjects, once per request. The admin
// flag is cached with a TTL so repeated resolutions of the same subject skip
// the allow-list lookup. The resolver never touches resource rows.
type Resolver struct {
	admins AdminLookup
	cache  *ristretto.Cache
	ttl    time.Duration
	log    logger.Logger
}

// ResolverOption customizes resolver construction.
type ResolverOption func(*Resolver)

// WithAdminCacheTTL sets how long a cached admin flag stays fresh.
func WithAdminCacheTTL(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.ttl = d
		}
	}
}

// WithResolverLogger replaces the resolver's default logger.
func WithResolverLogger(l logger.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

// NewResolver builds a resolver over the given allow-list. A nil lookup
// resolves every subject as non-admin.
func NewResolver(admins AdminLookup, opts ...ResolverOption) (*Resolver, error) {
	r := &Resolver{
		admins: admins,
		ttl:    time.Minute,
		log:    logger.NewPhusluLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	r.cache = cache
	return r, nil
}

// Resolve populates a Subject from the auth context. A context with no
// subject ID resolves to the anonymous subject; if it still carries claims,
// an IdentityError is returned alongside so the caller can log the anomaly.
// Admin lookup failures resolve the subject as non-admin.
func (r *Resolver) Resolve(ctx context.Context, ac AuthContext) (*Subject, error) {
	if ac.SubjectID == "" {
		anon := &Subject{Roles: []string{RoleAnonymous}}
		if ac.Email != "" || len(ac.Roles) > 0 {
			return anon, &IdentityError{Reason: "claims present without a subject id"}
		}
		return anon, nil
	}

	subject := &Subject{
		ID:    ac.SubjectID,
		Email: ac.Email,
		Roles: ac.Roles,
	}
	if len(subject.Roles) == 0 {
		subject.Roles = []string{RoleAuthenticated}
	}

	isAdmin, err := r.isAdmin(ctx, ac.SubjectID, ac.Email)
	if err != nil {
		// Fail closed: an unreachable allow-list means not admin.
		r.log.Error("admin lookup failed",
			"subject", ac.SubjectID, "error", err.Error())
		return subject, nil
	}
	subject.IsAdmin = isAdmin
	return subject, nil
}

func (r *Resolver) isAdmin(ctx context.Context, subjectID, email string) (bool, error) {
	if r.admins == nil {
		return false, nil
	}
	key := "admin:" + subjectID
	if v, ok := r.cache.Get(key); ok {
		if flag, ok := v.(bool); ok {
			return flag, nil
		}
	}
	flag, err := r.admins.IsAdmin(ctx, subjectID, email)
	if err != nil {
		return false, err
	}
	r.cache.SetWithTTL(key, flag, 1, r.ttl)
	return flag, nil
}

// Invalidate evicts a subject's cached admin flag, for use after allow-list
// changes.
func (r *Resolver) Invalidate(subjectID string) {
	r.cache.Del("admin:" + subjectID)
}

// Wait blocks until pending cache writes are applied. Test helper.
func (r *Resolver) Wait() { r.cache.Wait() }

// ----------------------------------------------------------------------------
// In-memory allow-list
// ----------------------------------------------------------------------------

// MemoryAdminStore is an AdminLookup backed by in-process sets.
type MemoryAdminStore struct {
	mu     sync.RWMutex
	ids    map[string]bool
	emails map[string]bool
}

func NewMemoryAdminStore() *MemoryAdminStore {
	return &MemoryAdminStore{
		ids:    make(map[string]bool),
		emails: make(map[string]bool),
	}
}

func (m *MemoryAdminStore) GrantID(subjectID string) {
	m.mu.Lock()
	m.ids[subjectID] = true
	m.mu.Unlock()
}

func (m *MemoryAdminStore) GrantEmail(email string) {
	m.mu.Lock()
	m.emails[email] = true
	m.mu.Unlock()
}

func (m *MemoryAdminStore) Revoke(subjectID, email string) {
	m.mu.Lock()
	delete(m.ids, subjectID)
	delete(m.emails, email)
	m.mu.Unlock()
}

func (m *MemoryAdminStore) IsAdmin(_ context.Context, subjectID, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if subjectID != "" && m.ids[subjectID] {
		return true, nil
	}
	if email != "" && m.emails[email] {
		return true, nil
	}
	return false, nil
}
