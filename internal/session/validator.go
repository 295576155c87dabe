package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/UtkarshTheDev/HomeMeal-sub000/internal/authstore"
	"github.com/UtkarshTheDev/HomeMeal-sub000/internal/metrics"
	"github.com/UtkarshTheDev/HomeMeal-sub000/internal/profile"
	"github.com/UtkarshTheDev/HomeMeal-sub000/supabase"
)

// =============================================================================
// Result
// =============================================================================

// Status is the validator's judgment of the caller's authentication.
type Status int

const (
	// StatusInvalid means the caller is not authenticated and should be sent
	// to re-authentication.
	StatusInvalid Status = iota
	// StatusValid means the caller holds a healthy session.
	StatusValid
	// StatusDegraded means the caller is authenticated but an irregularity
	// was recovered along the way. The diagnostic is advisory telemetry, not
	// a failure signal; callers must proceed as for StatusValid.
	StatusDegraded
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusDegraded:
		return "degraded"
	case StatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the status as its string form.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Result is a point-in-time judgment produced fresh on every validation call.
// It is never persisted.
type Result struct {
	Status     Status            `json:"status"`
	Diagnostic string            `json:"diagnostic,omitempty"`
	Principal  *supabase.User    `json:"principal,omitempty"`
	Session    *supabase.Session `json:"session,omitempty"`
}

// Valid reports whether the caller may proceed. Degraded sessions are valid.
func (r Result) Valid() bool {
	return r.Status != StatusInvalid
}

// Diagnostics attached to results. Degraded diagnostics are advisory.
const (
	DiagNoActiveSession      = "No active session"
	DiagJWTButUserExists     = "Session has JWT issues but user exists — proceeding"
	DiagCreatedMissingRecord = "Created missing user record"
	DiagRecordCreateFailed   = "User creation failed but auth exists"
	DiagInternalError        = "Session validation failed unexpectedly"
)

// =============================================================================
// Validator
// =============================================================================

// Config holds the validator's retry and recovery policy.
type Config struct {
	// MaxRetries bounds top-level re-entries for absent sessions and
	// unexpected failures. Defaults to 2.
	MaxRetries int
	// RetryBackoff is the fixed wait between top-level retries, covering
	// storage that has not finished writing after a just-completed sign-in.
	// Defaults to 1s.
	RetryBackoff time.Duration
	// RepairRPC is the remote procedure invoked best-effort before the
	// second refresh during claim recovery. Empty disables the call.
	RepairRPC string
	// Verbose enables per-transition debug logging.
	Verbose bool
}

func (c Config) withDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	return c
}

// Deps are the collaborators the validator orchestrates. All identity calls
// go through the resilient Supabase transport; all local persistence goes
// through the dual-backend store.
type Deps struct {
	Accessor *Accessor
	Auth     IdentityAPI
	Profiles profile.Store
	RPC      RPCCaller // optional; nil disables claim repair
	Store    *authstore.Store
	Log      logrus.FieldLogger
}

// Validator answers "is this caller currently authenticated, and with what
// identity". It is the single entry point the rest of the application must
// call before trusting the caller's identity.
type Validator struct {
	accessor   *Accessor
	auth       IdentityAPI
	profiles   profile.Store
	reconciler *Reconciler
	rpc        RPCCaller
	store      *authstore.Store
	cfg        Config
	log        logrus.FieldLogger

	// sleep is swapped out by tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewValidator constructs a validator with explicit dependencies.
func NewValidator(deps Deps, cfg Config) (*Validator, error) {
	if deps.Accessor == nil {
		return nil, fmt.Errorf("accessor is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("identity API is required")
	}
	if deps.Profiles == nil {
		return nil, fmt.Errorf("profile store is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("auth store is required")
	}
	log := deps.Log
	if log == nil {
		logger := logrus.New()
		logger.SetLevel(logrus.WarnLevel)
		log = logger
	}

	return &Validator{
		accessor:   deps.Accessor,
		auth:       deps.Auth,
		profiles:   deps.Profiles,
		reconciler: NewReconciler(deps.Profiles, log),
		rpc:        deps.RPC,
		store:      deps.Store,
		cfg:        cfg.withDefaults(),
		log:        log,
		sleep:      sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Validate runs the full validation state machine and reports the outcome.
// It never returns an error: every failure mode is folded into the Result so
// callers have a single branching point.
func (v *Validator) Validate(ctx context.Context) Result {
	res := v.validate(ctx, 0)
	metrics.ValidationsTotal.WithLabelValues(res.Status.String()).Inc()
	return res
}

func (v *Validator) validate(ctx context.Context, retryCount int) Result {
	res, err := v.attempt(ctx, retryCount)
	if err == nil {
		return res
	}

	// Unexpected failure: bounded whole-call retry from scratch.
	v.log.WithError(err).WithField("retry", retryCount).Warn("validation attempt failed unexpectedly")
	if retryCount < v.cfg.MaxRetries && ctx.Err() == nil {
		if serr := v.sleep(ctx, v.cfg.RetryBackoff); serr == nil {
			return v.validate(ctx, retryCount+1)
		}
	}
	return Result{Status: StatusInvalid, Diagnostic: DiagInternalError}
}

// attempt executes one pass of the state machine. A returned error marks an
// unexpected defect for the whole-call retry path; expected outcomes, good or
// bad, arrive as a Result.
func (v *Validator) attempt(ctx context.Context, retryCount int) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("validation panic: %v", r)
		}
	}()

	// NO_SESSION: storage may still be flushing after a just-completed
	// sign-in, so absence is retried before it is believed.
	sess := v.accessor.CurrentSession(ctx)
	if sess == nil {
		if retryCount < v.cfg.MaxRetries {
			v.debugf("no local session, retry %d after backoff", retryCount+1)
			if serr := v.sleep(ctx, v.cfg.RetryBackoff); serr != nil {
				return Result{Status: StatusInvalid, Diagnostic: DiagNoActiveSession}, nil
			}
			return v.attempt(ctx, retryCount+1)
		}
		return Result{Status: StatusInvalid, Diagnostic: DiagNoActiveSession}, nil
	}

	// SESSION_PRESENT_UNVALIDATED -> REFRESHING: a locally cached session
	// does not guarantee the backend still honors it.
	v.debugf("local session present, refreshing")
	fresh, refreshErr := v.accessor.Refresh(ctx)
	if refreshErr == nil {
		return Result{
			Status:    StatusValid,
			Principal: v.identityFor(ctx, fresh),
			Session:   fresh,
		}, nil
	}

	if classifyRefreshFailure(refreshErr) == classClaim {
		v.debugf("refresh failed with claims-class error: %v", refreshErr)
		metrics.ClaimRecoveriesTotal.Inc()
		return v.recoverClaims(ctx, sess, refreshErr), nil
	}

	// Last resort: the prior token may still be accepted when refresh died
	// on a transient blip.
	if user, uerr := v.auth.GetUser(ctx, sess.AccessToken); uerr == nil {
		v.debugf("refresh failed but direct identity read succeeded")
		return Result{Status: StatusValid, Principal: user, Session: sess}, nil
	}

	return Result{Status: StatusInvalid, Diagnostic: refreshErr.Error()}, nil
}

// recoverClaims handles the claims/token-malformation class. The backend user
// table is treated as a secondary proof of authenticity: record presence
// outranks a flaky token refresh, so a legitimately authenticated user is not
// spuriously logged out by claim propagation lag.
func (v *Validator) recoverClaims(ctx context.Context, sess *supabase.Session, refreshErr error) Result {
	principalID, phone := principalFromSession(sess)
	if principalID == "" {
		return Result{Status: StatusInvalid, Diagnostic: refreshErr.Error()}
	}

	rec, err := v.profiles.GetByID(ctx, principalID)
	if err == nil {
		// Record exists. Best-effort claim repair, then one more refresh.
		v.repairClaims(ctx, principalID)
		if fresh, rerr := v.accessor.Refresh(ctx); rerr == nil {
			v.debugf("refresh recovered after claim repair")
			return Result{
				Status:    StatusValid,
				Principal: v.identityFor(ctx, fresh),
				Session:   fresh,
			}
		}
		return Result{
			Status:     StatusDegraded,
			Diagnostic: DiagJWTButUserExists,
			Principal:  principalFromRecord(rec, phone),
			Session:    sess,
		}
	}
	if !errors.Is(err, profile.ErrNotFound) {
		v.log.WithError(err).WithField("principal_id", principalID).Warn("record lookup failed during claim recovery")
	}

	principal := &supabase.User{ID: principalID, Phone: phone}
	ok, cerr := v.reconciler.EnsureRecord(ctx, principalID, phone)
	if ok {
		return Result{
			Status:     StatusDegraded,
			Diagnostic: DiagCreatedMissingRecord,
			Principal:  principal,
			Session:    sess,
		}
	}

	// The identity provider already authenticated this caller; backend
	// bookkeeping failures must not block them, only be surfaced.
	v.log.WithError(cerr).WithField("principal_id", principalID).Warn("record creation failed during claim recovery")
	return Result{
		Status:     StatusDegraded,
		Diagnostic: DiagRecordCreateFailed,
		Principal:  principal,
		Session:    sess,
	}
}

// repairClaims invokes the claim-repair remote procedure, ignoring failures.
func (v *Validator) repairClaims(ctx context.Context, principalID string) {
	if v.rpc == nil || v.cfg.RepairRPC == "" {
		return
	}
	if _, err := v.rpc.RPC(ctx, v.cfg.RepairRPC, map[string]string{"user_id": principalID}); err != nil {
		v.log.WithError(err).WithField("principal_id", principalID).Debug("claim repair call failed")
	}
}

// identityFor re-reads the identity behind a freshly refreshed session. The
// embedded user is the fallback when the read fails; it came from the same
// refresh response and therefore the same authority.
func (v *Validator) identityFor(ctx context.Context, sess *supabase.Session) *supabase.User {
	if user, err := v.auth.GetUser(ctx, sess.AccessToken); err == nil {
		return user
	}
	return sess.User
}

func principalFromRecord(rec *profile.Record, phone string) *supabase.User {
	if phone == "" {
		phone = rec.PhoneNumber
	}
	return &supabase.User{ID: rec.ID, Phone: phone, Role: rec.Role}
}

func (v *Validator) debugf(format string, args ...any) {
	if v.cfg.Verbose {
		v.log.Debugf(format, args...)
	}
}

// =============================================================================
// Exposed application surface
// =============================================================================

// RefreshSilently attempts a best-effort refresh without surfacing errors,
// used for background keep-alive. It returns nil when the refresh failed.
func (v *Validator) RefreshSilently(ctx context.Context) *supabase.Session {
	sess, err := v.accessor.Refresh(ctx)
	if err != nil {
		v.log.WithError(err).Debug("silent refresh failed")
		return nil
	}
	return sess
}

// SignOutAndClear signs out via the identity service and unconditionally
// clears all namespaced auth storage, even when remote sign-out fails.
func (v *Validator) SignOutAndClear(ctx context.Context) {
	if sess := v.accessor.CurrentSession(ctx); sess != nil {
		if err := v.auth.SignOut(ctx, sess.AccessToken); err != nil {
			v.log.WithError(err).Warn("remote sign-out failed, clearing local state anyway")
		}
	}
	v.store.ClearPrefix(ctx, authstore.Namespace)
}
