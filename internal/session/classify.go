package session

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/UtkarshTheDev/HomeMeal-sub000/supabase"
)

// failureClass is the validator's view of why a refresh failed.
type failureClass int

const (
	// classOther covers revocation, exhausted retries and everything else
	// that is not recoverable here.
	classOther failureClass = iota
	// classClaim marks claims/token-malformation failures: the identity
	// record is stale relative to the backend user table, which the claim
	// recovery path can repair.
	classClaim
)

// Structured GoTrue error codes that indicate a claims/token defect.
var claimErrorCodes = map[string]struct{}{
	supabase.CodeBadJWT:       {},
	supabase.CodeInvalidClaim: {},
}

// Substring fallback, matching the failure messages the identity service has
// been observed to emit for malformed tokens.
var claimErrorNeedles = []string{"claim", "jwt", "token"}

// classifyRefreshFailure distinguishes claims/token-malformation failures
// from other refresh failures. It prefers the structured error code and only
// falls back to message matching when no code is present. The heuristic lives
// here so it can be replaced in one place.
func classifyRefreshFailure(err error) failureClass {
	if err == nil {
		return classOther
	}

	var apiErr *supabase.Error
	if errors.As(err, &apiErr) && apiErr.Code != "" {
		if _, ok := claimErrorCodes[apiErr.Code]; ok {
			return classClaim
		}
	}

	msg := strings.ToLower(err.Error())
	for _, needle := range claimErrorNeedles {
		if strings.Contains(msg, needle) {
			return classClaim
		}
	}
	return classOther
}

// principalFromSession extracts the principal id and phone from a session,
// preferring the embedded user and falling back to the access token's claims.
// The token is decoded without signature verification; it is only used to
// recover the subject for reconciliation, never as proof of identity.
func principalFromSession(sess *supabase.Session) (id, phone string) {
	if sess == nil {
		return "", ""
	}
	if sess.User != nil && sess.User.ID != "" {
		return sess.User.ID, sess.User.Phone
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(sess.AccessToken, claims); err != nil {
		return "", ""
	}
	if sub, err := claims.GetSubject(); err == nil {
		id = sub
	}
	if p, ok := claims["phone"].(string); ok {
		phone = p
	}
	return id, phone
}
