package authstore

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestStore_GetPrefersPreferredBackend(t *testing.T) {
	ctx := context.Background()
	preferred := NewMemory()
	fallback := NewMemory()
	_ = preferred.Set(ctx, KeySession, "from-preferred")
	_ = fallback.Set(ctx, KeySession, "from-fallback")

	store := New(preferred, fallback, quietLogger())

	v, ok := store.Get(ctx, KeySession)
	if !ok {
		t.Fatal("Get() ok = false")
	}
	if v != "from-preferred" {
		t.Errorf("Get() = %q, want from-preferred", v)
	}
}

func TestStore_GetFallsBackWhenPreferredFails(t *testing.T) {
	ctx := context.Background()
	preferred := NewMemory()
	preferred.FailGet = errors.New("backend unavailable")
	fallback := NewMemory()
	_ = fallback.Set(ctx, KeySession, "from-fallback")

	store := New(preferred, fallback, quietLogger())

	v, ok := store.Get(ctx, KeySession)
	if !ok {
		t.Fatal("Get() ok = false, fallback value must be served without error")
	}
	if v != "from-fallback" {
		t.Errorf("Get() = %q, want from-fallback", v)
	}
}

func TestStore_GetTotalFailureReadsAsAbsent(t *testing.T) {
	ctx := context.Background()
	preferred := NewMemory()
	preferred.FailGet = errors.New("down")
	fallback := NewMemory()
	fallback.FailGet = errors.New("also down")

	store := New(preferred, fallback, quietLogger())

	if _, ok := store.Get(ctx, KeySession); ok {
		t.Error("Get() ok = true, want absent on total failure")
	}
}

func TestStore_GetPopulatesCache(t *testing.T) {
	ctx := context.Background()
	preferred := NewMemory()
	_ = preferred.Set(ctx, KeySession, "v1")
	store := New(preferred, NewMemory(), quietLogger())

	if _, ok := store.Get(ctx, KeySession); !ok {
		t.Fatal("first Get() failed")
	}

	// Backend starts failing; the cached value keeps serving.
	preferred.FailGet = errors.New("down")
	v, ok := store.Get(ctx, KeySession)
	if !ok || v != "v1" {
		t.Errorf("cached Get() = %q, %v; want v1, true", v, ok)
	}
}

func TestStore_SetFallsBackAndStaysReadable(t *testing.T) {
	ctx := context.Background()
	preferred := NewMemory()
	preferred.FailSet = errors.New("write failed")
	fallback := NewMemory()

	store := New(preferred, fallback, quietLogger())

	if err := store.Set(ctx, KeyRefreshToken, "rt-1"); err != nil {
		t.Fatalf("Set() error = %v, fallback write should succeed", err)
	}

	if v, err := fallback.Get(ctx, KeyRefreshToken); err != nil || v != "rt-1" {
		t.Errorf("fallback has %q, %v; want rt-1", v, err)
	}
	if v, ok := store.Get(ctx, KeyRefreshToken); !ok || v != "rt-1" {
		t.Errorf("Get() = %q, %v; want rt-1, true", v, ok)
	}
}

func TestStore_SetBothBackendsFailingSurfacesError(t *testing.T) {
	ctx := context.Background()
	preferred := NewMemory()
	preferred.FailSet = errors.New("down")
	fallback := NewMemory()
	fallback.FailSet = errors.New("also down")

	store := New(preferred, fallback, quietLogger())

	if err := store.Set(ctx, KeySession, "v"); err == nil {
		t.Error("Set() error = nil, want failure when durability cannot be claimed")
	}
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := New(NewMemory(), NewMemory(), quietLogger())

	if err := store.Delete(ctx, KeySession); err != nil {
		t.Errorf("Delete() of absent key error = %v, want nil", err)
	}

	_ = store.Set(ctx, KeySession, "v")
	if err := store.Delete(ctx, KeySession); err != nil {
		t.Errorf("Delete() error = %v", err)
	}
	if _, ok := store.Get(ctx, KeySession); ok {
		t.Error("key still present after Delete()")
	}
}

func TestStore_ClearPrefix(t *testing.T) {
	ctx := context.Background()
	preferred := NewMemory()
	fallback := NewMemory()
	store := New(preferred, fallback, quietLogger())

	keys := []string{KeySession, KeyRefreshToken, Namespace + "device_id"}
	for _, k := range keys {
		if err := store.Set(ctx, k, "v"); err != nil {
			t.Fatalf("Set(%s) error = %v", k, err)
		}
	}
	if err := store.Set(ctx, "cart.items", "keep-me"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	store.ClearPrefix(ctx, Namespace)

	for _, k := range keys {
		if _, ok := store.Get(ctx, k); ok {
			t.Errorf("Get(%s) ok = true after ClearPrefix", k)
		}
	}
	if v, ok := store.Get(ctx, "cart.items"); !ok || v != "keep-me" {
		t.Errorf("non-auth key affected by ClearPrefix: %q, %v", v, ok)
	}
}

func TestStore_ClearPrefixSurvivesBackendFailure(t *testing.T) {
	ctx := context.Background()
	preferred := NewMemory()
	fallback := NewMemory()
	store := New(preferred, fallback, quietLogger())

	_ = store.Set(ctx, KeySession, "v")
	preferred.FailKeys = errors.New("listing broken")
	preferred.FailGet = errors.New("reads broken")

	// Must not panic or fail the caller; cache and fallback still clear.
	store.ClearPrefix(ctx, Namespace)

	if _, ok := store.Get(ctx, KeySession); ok {
		t.Error("cache entry survived ClearPrefix")
	}
}
