// Package profile manages the backend user record that mirrors an identity
// principal. Records are created lazily the first time a valid principal is
// observed without one, and are never deleted by this subsystem.
package profile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Record is a row in the backend users table. ID carries the identity
// provider's principal id, which is the only field guaranteed stable across
// token refreshes.
type Record struct {
	ID          string    `json:"id" db:"id"`
	PhoneNumber string    `json:"phone_number" db:"phone_number"`
	Role        string    `json:"role,omitempty" db:"role"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ErrDuplicate is returned by Insert when a record with the same id already
// exists. Callers treat it as success: a concurrent caller won the race.
var ErrDuplicate = errors.New("profile: record already exists")

// ErrNotFound is returned by GetByID when no record matches.
var ErrNotFound = errors.New("profile: record not found")

// Store is the data-access contract for user records.
type Store interface {
	// GetByID returns the record for the principal id, or ErrNotFound.
	GetByID(ctx context.Context, id string) (*Record, error)
	// Insert creates the record. A uniqueness conflict is reported as
	// ErrDuplicate, distinguishable from all other failures.
	Insert(ctx context.Context, rec Record) error
}

// =============================================================================
// In-memory store
// =============================================================================

// MemoryStore is an in-memory Store for tests and local development. It is
// safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record

	// FailInsert forces Insert to fail with the given error (after the
	// duplicate check), for exercising degraded validator paths.
	FailInsert error
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// GetByID returns the record for id.
func (m *MemoryStore) GetByID(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := rec
	return &out, nil
}

// Insert creates the record, enforcing id uniqueness.
func (m *MemoryStore) Insert(_ context.Context, rec Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("profile: record id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return ErrDuplicate
	}
	if m.FailInsert != nil {
		return m.FailInsert
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.records[rec.ID] = rec
	return nil
}

// Len reports the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
