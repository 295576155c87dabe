// Package authstore persists small auth blobs (tokens, serialized sessions)
// across two heterogeneous backends: a preferred secure backend and a
// general-purpose fallback used when the secure one is unavailable. Reads
// never surface backend failures to callers.
package authstore

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/UtkarshTheDev/HomeMeal-sub000/internal/metrics"
)

// Namespace is the key prefix for all auth storage.
const Namespace = "auth."

// Well-known keys.
const (
	KeySession      = Namespace + "session"
	KeyRefreshToken = Namespace + "refresh_token"
)

// ErrNotFound is returned by backends when a key is absent.
var ErrNotFound = errors.New("authstore: key not found")

// Backend is a single key-value storage engine.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Store composes the preferred and fallback backends behind an in-process
// read cache. The cache is advisory: every write also goes to durable
// storage, so a stale cache entry can cause at worst a stale read.
type Store struct {
	preferred Backend
	fallback  Backend
	log       logrus.FieldLogger

	mu    sync.RWMutex
	cache map[string]string
}

// New creates a Store over the two backends.
func New(preferred, fallback Backend, log logrus.FieldLogger) *Store {
	if log == nil {
		logger := logrus.New()
		logger.SetLevel(logrus.WarnLevel)
		log = logger
	}
	return &Store{
		preferred: preferred,
		fallback:  fallback,
		log:       log,
		cache:     make(map[string]string),
	}
}

// Get returns the value for key, or ok=false when it cannot be found.
// Backend failures are absorbed: a failing preferred backend falls through to
// the fallback, and a total failure reads as absent.
func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	s.mu.RLock()
	if v, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return v, true
	}
	s.mu.RUnlock()

	v, err := s.preferred.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.WithError(err).WithField("key", key).Warn("preferred backend read failed, trying fallback")
			metrics.StorageFallbacksTotal.Inc()
		}
		v, err = s.fallback.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				s.log.WithError(err).WithField("key", key).Warn("fallback backend read failed")
			}
			return "", false
		}
	}

	s.mu.Lock()
	s.cache[key] = v
	s.mu.Unlock()
	return v, true
}

// Set writes the value to the preferred backend, falling back on failure.
// The cache is updated optimistically before the backend outcome so the
// in-process view stays consistent under backend hiccups. An error is
// returned only when both backends fail, since durability cannot be claimed.
func (s *Store) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	s.cache[key] = value
	s.mu.Unlock()

	if err := s.preferred.Set(ctx, key, value); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("preferred backend write failed, trying fallback")
		metrics.StorageFallbacksTotal.Inc()
		if ferr := s.fallback.Set(ctx, key, value); ferr != nil {
			return errors.Join(err, ferr)
		}
	}
	return nil
}

// Delete removes the key from both backends unconditionally and clears the
// cache entry. Absence is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()

	perr := s.preferred.Delete(ctx, key)
	ferr := s.fallback.Delete(ctx, key)
	if perr != nil && !errors.Is(perr, ErrNotFound) {
		if ferr != nil && !errors.Is(ferr, ErrNotFound) {
			return errors.Join(perr, ferr)
		}
		return perr
	}
	if ferr != nil && !errors.Is(ferr, ErrNotFound) {
		return ferr
	}
	return nil
}

// ClearPrefix removes every key under prefix from both backends and the
// cache. Best effort: individual failures are logged and skipped so a full
// sign-out never fails the caller.
func (s *Store) ClearPrefix(ctx context.Context, prefix string) {
	s.mu.Lock()
	for k := range s.cache {
		if strings.HasPrefix(k, prefix) {
			delete(s.cache, k)
		}
	}
	s.mu.Unlock()

	for _, backend := range []Backend{s.preferred, s.fallback} {
		keys, err := backend.Keys(ctx, prefix)
		if err != nil {
			s.log.WithError(err).WithField("prefix", prefix).Warn("listing keys for clear failed")
			continue
		}
		for _, k := range keys {
			if err := backend.Delete(ctx, k); err != nil && !errors.Is(err, ErrNotFound) {
				s.log.WithError(err).WithField("key", k).Warn("clearing key failed")
			}
		}
	}
}
