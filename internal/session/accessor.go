// Package session keeps a client authenticated against the hosted identity
// service despite flaky local storage, expired or rotated tokens, and backend
// user records that drift out of sync with the provider's claims.
package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/UtkarshTheDev/HomeMeal-sub000/internal/authstore"
	"github.com/UtkarshTheDev/HomeMeal-sub000/supabase"
)

// IdentityAPI is the surface of the identity provider this subsystem
// consumes. *supabase.AuthClient satisfies it; tests supply fakes.
type IdentityAPI interface {
	RefreshToken(ctx context.Context, refreshToken string) (*supabase.Session, error)
	GetUser(ctx context.Context, accessToken string) (*supabase.User, error)
	VerifyOTP(ctx context.Context, req supabase.VerifyOTPRequest) (*supabase.Session, error)
	SignOut(ctx context.Context, accessToken string) error
}

var _ IdentityAPI = (*supabase.AuthClient)(nil)

// RPCCaller runs a remote procedure on the backend, used for best-effort
// claim repair. *supabase.DatabaseClient satisfies it.
type RPCCaller interface {
	RPC(ctx context.Context, fn string, params any) ([]byte, error)
}

var _ RPCCaller = (*supabase.DatabaseClient)(nil)

// Accessor wraps the identity service's session read and refresh operations,
// normalizing results. Recovery decisions belong to the Validator, not here:
// refresh errors pass through unmodified.
type Accessor struct {
	store *authstore.Store
	auth  IdentityAPI
	log   logrus.FieldLogger
}

// NewAccessor creates an accessor over the local store and identity API.
func NewAccessor(store *authstore.Store, auth IdentityAPI, log logrus.FieldLogger) *Accessor {
	if log == nil {
		logger := logrus.New()
		logger.SetLevel(logrus.WarnLevel)
		log = logger
	}
	return &Accessor{store: store, auth: auth, log: log}
}

// CurrentSession reads the locally persisted session. It returns nil when no
// complete session is stored; partial sessions are never trusted. Local only,
// no network.
func (a *Accessor) CurrentSession(ctx context.Context) *supabase.Session {
	blob, ok := a.store.Get(ctx, authstore.KeySession)
	if !ok {
		return nil
	}

	var sess supabase.Session
	if err := json.Unmarshal([]byte(blob), &sess); err != nil {
		a.log.WithError(err).Warn("stored session is not valid JSON, treating as absent")
		return nil
	}
	if !sess.Complete() {
		return nil
	}
	return &sess
}

// Refresh exchanges the stored refresh token for a new session and persists
// it. The identity service's error is returned unmodified on failure.
func (a *Accessor) Refresh(ctx context.Context) (*supabase.Session, error) {
	refreshToken, ok := a.store.Get(ctx, authstore.KeyRefreshToken)
	if !ok || refreshToken == "" {
		if sess := a.CurrentSession(ctx); sess != nil {
			refreshToken = sess.RefreshToken
		}
	}
	if refreshToken == "" {
		return nil, fmt.Errorf("no refresh token available")
	}

	sess, err := a.auth.RefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if !sess.Complete() {
		return nil, fmt.Errorf("identity service returned a partial session")
	}

	a.Persist(ctx, sess)
	return sess, nil
}

// Persist stores the session blob and refresh token. Storage failures are
// logged, not surfaced: the session remains usable in-process either way.
func (a *Accessor) Persist(ctx context.Context, sess *supabase.Session) {
	blob, err := json.Marshal(sess)
	if err != nil {
		a.log.WithError(err).Error("marshal session for storage")
		return
	}
	if err := a.store.Set(ctx, authstore.KeySession, string(blob)); err != nil {
		a.log.WithError(err).Warn("persisting session failed on both backends")
	}
	if err := a.store.Set(ctx, authstore.KeyRefreshToken, sess.RefreshToken); err != nil {
		a.log.WithError(err).Warn("persisting refresh token failed on both backends")
	}
}
