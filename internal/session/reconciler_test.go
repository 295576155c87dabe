package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/UtkarshTheDev/HomeMeal-sub000/internal/profile"
)

func TestEnsureRecord_PreExisting(t *testing.T) {
	store := profile.NewMemoryStore()
	if err := store.Insert(context.Background(), profile.Record{ID: "u-1", PhoneNumber: "+15550100"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rec := NewReconciler(store, quietLogger())

	ok, err := rec.EnsureRecord(context.Background(), "u-1", "+15550100")
	if !ok || err != nil {
		t.Errorf("EnsureRecord() = (%v, %v), want (true, nil)", ok, err)
	}
	if store.Len() != 1 {
		t.Errorf("record count = %d, want 1", store.Len())
	}
}

func TestEnsureRecord_CreatesMissing(t *testing.T) {
	store := profile.NewMemoryStore()
	rec := NewReconciler(store, quietLogger())

	ok, err := rec.EnsureRecord(context.Background(), "u-2", "+15550101")
	if !ok || err != nil {
		t.Fatalf("EnsureRecord() = (%v, %v), want (true, nil)", ok, err)
	}
	created, err := store.GetByID(context.Background(), "u-2")
	if err != nil {
		t.Fatalf("GetByID after create: %v", err)
	}
	if created.PhoneNumber != "+15550101" {
		t.Errorf("phone = %q, want +15550101", created.PhoneNumber)
	}
}

func TestEnsureRecord_EmptyPrincipal(t *testing.T) {
	rec := NewReconciler(profile.NewMemoryStore(), quietLogger())
	if ok, err := rec.EnsureRecord(context.Background(), "", ""); ok || err == nil {
		t.Errorf("EnsureRecord(\"\") = (%v, %v), want (false, error)", ok, err)
	}
}

func TestEnsureRecord_InsertFailure(t *testing.T) {
	store := profile.NewMemoryStore()
	store.FailInsert = errors.New("row level security violation")
	rec := NewReconciler(store, quietLogger())

	ok, err := rec.EnsureRecord(context.Background(), "u-3", "")
	if ok {
		t.Error("EnsureRecord() = true, want false when insert fails")
	}
	if !errors.Is(err, store.FailInsert) {
		t.Errorf("err = %v, want insert error", err)
	}
}

func TestEnsureRecord_ConcurrentCallersCreateOneRow(t *testing.T) {
	store := profile.NewMemoryStore()
	rec := NewReconciler(store, quietLogger())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := rec.EnsureRecord(context.Background(), "u-race", "+15550102")
			if !ok || err != nil {
				t.Errorf("EnsureRecord() = (%v, %v), want (true, nil)", ok, err)
			}
		}()
	}
	wg.Wait()

	if store.Len() != 1 {
		t.Errorf("record count = %d, want exactly 1", store.Len())
	}
}
