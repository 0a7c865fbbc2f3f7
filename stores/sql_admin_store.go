package stores

import (
	"context"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/rowguard"
)

// SQLAdminStore is an admin allow-list backed by the admin_allowlist table.
// It satisfies rowguard.AdminLookup.
type SQLAdminStore struct {
	db *squealx.DB
}

var _ rowguard.AdminLookup = (*SQLAdminStore)(nil)

func NewSQLAdminStore(db *squealx.DB) (*SQLAdminStore, error) {
	return &SQLAdminStore{db: db}, nil
}

// Grant adds a subject id and/or email to the allow-list.
func (s *SQLAdminStore) Grant(ctx context.Context, subjectID, email string) error {
	q := `INSERT INTO admin_allowlist(subject_id, email, granted_at) VALUES(:subject_id, :email, :granted_at)
	      ON CONFLICT(subject_id, email) DO NOTHING`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"subject_id": subjectID,
		"email":      email,
		"granted_at": time.Now(),
	})
	return err
}

// Revoke removes any allow-list rows naming the subject id or email.
func (s *SQLAdminStore) Revoke(ctx context.Context, subjectID, email string) error {
	q := `DELETE FROM admin_allowlist WHERE (subject_id != '' AND subject_id = :subject_id) OR (email != '' AND email = :email)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"subject_id": subjectID,
		"email":      email,
	})
	return err
}

func (s *SQLAdminStore) IsAdmin(ctx context.Context, subjectID, email string) (bool, error) {
	q := `SELECT COUNT(1) FROM admin_allowlist WHERE (subject_id != '' AND subject_id = :subject_id) OR (email != '' AND email = :email)`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{
		"subject_id": subjectID,
		"email":      email,
	})
	if err != nil {
		return false, err
	}
	defer r.Close()
	var n int
	if r.Next() {
		if err := r.Scan(&n); err != nil {
			return false, err
		}
	}
	return n > 0, nil
}
