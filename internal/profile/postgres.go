package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// uniqueViolation is the Postgres SQLSTATE for unique-constraint failures.
const uniqueViolation = "23505"

// PostgresStore accesses user records directly over SQL. It serves
// deployments that run next to the database (the sessiond diagnostic daemon,
// batch jobs) where going through the REST gateway is a needless hop.
type PostgresStore struct {
	db    *sqlx.DB
	table string
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store using the provided database handle. An
// empty table uses DefaultTable.
func NewPostgresStore(db *sqlx.DB, table string) *PostgresStore {
	if table == "" {
		table = DefaultTable
	}
	return &PostgresStore{db: db, table: table}
}

// GetByID returns the record for the principal id.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Record, error) {
	var rec Record
	query := fmt.Sprintf(`SELECT id, phone_number, COALESCE(role, '') AS role, created_at FROM %s WHERE id = $1`, s.table)
	err := s.db.GetContext(ctx, &rec, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table, err)
	}
	return &rec, nil
}

// Insert creates the record, mapping a unique violation to ErrDuplicate.
func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, phone_number, role, created_at) VALUES ($1, $2, NULLIF($3, ''), $4)`, s.table)
	_, err := s.db.ExecContext(ctx, query, rec.ID, rec.PhoneNumber, rec.Role, rec.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("insert %s: %w", s.table, err)
	}
	return nil
}
