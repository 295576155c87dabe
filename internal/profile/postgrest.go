package profile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/UtkarshTheDev/HomeMeal-sub000/supabase"
)

// DefaultTable is the backend users table.
const DefaultTable = "users"

// PostgRESTStore accesses user records through the Supabase REST API. This is
// the store the mobile flows use; row-level security applies the caller's
// token when one is provided.
type PostgRESTStore struct {
	db    *supabase.DatabaseClient
	table string
}

var _ Store = (*PostgRESTStore)(nil)

// NewPostgRESTStore creates a store over the given database client. An empty
// table uses DefaultTable.
func NewPostgRESTStore(db *supabase.DatabaseClient, table string) *PostgRESTStore {
	if table == "" {
		table = DefaultTable
	}
	return &PostgRESTStore{db: db, table: table}
}

// GetByID returns the record for the principal id.
func (s *PostgRESTStore) GetByID(ctx context.Context, id string) (*Record, error) {
	resp, err := s.db.From(s.table).
		Select("id,phone_number,role,created_at").
		Eq("id", id).
		Limit(1).
		Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table, err)
	}
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table, err)
	}

	rows := gjson.ParseBytes(resp.Body)
	if !rows.IsArray() || len(rows.Array()) == 0 {
		return nil, ErrNotFound
	}

	row := rows.Array()[0]
	rec := &Record{
		ID:          row.Get("id").String(),
		PhoneNumber: row.Get("phone_number").String(),
		Role:        row.Get("role").String(),
	}
	if ts := row.Get("created_at").String(); ts != "" {
		if t, perr := time.Parse(time.RFC3339, ts); perr == nil {
			rec.CreatedAt = t
		}
	}
	if rec.ID == "" {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Insert creates the record. PostgREST reports a unique violation as SQLSTATE
// 23505 (HTTP 409), which is mapped to ErrDuplicate.
func (s *PostgRESTStore) Insert(ctx context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	resp, err := s.db.From(s.table).ExecuteInsert(ctx, rec)
	if err != nil {
		return fmt.Errorf("insert %s: %w", s.table, err)
	}
	if insertErr := resp.Err(); insertErr != nil {
		var apiErr *supabase.Error
		if errors.As(insertErr, &apiErr) {
			if apiErr.IsDuplicate() || apiErr.StatusCode == http.StatusConflict {
				return ErrDuplicate
			}
		}
		return fmt.Errorf("insert %s: %w", s.table, insertErr)
	}
	return nil
}
