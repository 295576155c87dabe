package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/UtkarshTheDev/HomeMeal-sub000/internal/metrics"
	"github.com/UtkarshTheDev/HomeMeal-sub000/internal/profile"
)

// Reconciler ensures a backend user record exists for an identity principal.
// It creates at most one row per principal and never mutates existing rows.
// Safe to call repeatedly and concurrently: a duplicate-key conflict means a
// concurrent caller won the race and is treated as success.
type Reconciler struct {
	store profile.Store
	log   logrus.FieldLogger
}

// NewReconciler creates a reconciler over the given record store.
func NewReconciler(store profile.Store, log logrus.FieldLogger) *Reconciler {
	if log == nil {
		logger := logrus.New()
		logger.SetLevel(logrus.WarnLevel)
		log = logger
	}
	return &Reconciler{store: store, log: log}
}

// EnsureRecord makes sure a record exists for principalID. It returns true
// when the record exists afterwards (pre-existing, created here, or created
// by a concurrent caller) and false with the insert error otherwise.
func (r *Reconciler) EnsureRecord(ctx context.Context, principalID, phone string) (bool, error) {
	if principalID == "" {
		return false, fmt.Errorf("principal id is required")
	}

	_, err := r.store.GetByID(ctx, principalID)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, profile.ErrNotFound) {
		// The lookup itself failed; the insert below settles the question
		// either way via the uniqueness conflict.
		r.log.WithError(err).WithField("principal_id", principalID).Warn("record lookup failed, attempting insert")
	}

	err = r.store.Insert(ctx, profile.Record{
		ID:          principalID,
		PhoneNumber: phone,
	})
	if err == nil {
		metrics.RecordCreatesTotal.Inc()
		r.log.WithField("principal_id", principalID).Info("created missing user record")
		return true, nil
	}
	if errors.Is(err, profile.ErrDuplicate) {
		return true, nil
	}
	return false, err
}
