// Package supabase provides the HomeMeal client for the hosted Supabase
// backend: auth (GoTrue), PostgREST queries and RPC. All outbound calls go
// through the resilient HTTP layer in resilience.go.
package supabase

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds Supabase client configuration.
type Config struct {
	// ProjectURL is the Supabase project URL (e.g. https://xxx.supabase.co).
	ProjectURL string

	// AnonKey is the project anon key, attached to every request.
	AnonKey string

	// Retry configures the resilient transport. Zero value means defaults.
	Retry RetryConfig

	// AttemptTimeout is the hard per-attempt timeout. Defaults to 15s.
	AttemptTimeout time.Duration

	// DefaultHeaders are added to every request.
	DefaultHeaders map[string]string
}

// =============================================================================
// Auth Types
// =============================================================================

// User represents a Supabase auth user.
type User struct {
	ID           string                 `json:"id"`
	Aud          string                 `json:"aud,omitempty"`
	Role         string                 `json:"role,omitempty"`
	Email        string                 `json:"email,omitempty"`
	Phone        string                 `json:"phone,omitempty"`
	AppMetadata  map[string]interface{} `json:"app_metadata,omitempty"`
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// Session represents an auth session held by the client.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user,omitempty"`
}

// Complete reports whether the session carries everything needed to be
// trusted. Partial sessions are treated as absent.
func (s *Session) Complete() bool {
	if s == nil {
		return false
	}
	return s.AccessToken != "" && s.RefreshToken != "" && s.ExpiresAt != 0
}

// Expired reports whether the session's access token expiry has passed.
func (s *Session) Expired(now time.Time) bool {
	if s == nil || s.ExpiresAt == 0 {
		return true
	}
	return now.Unix() >= s.ExpiresAt
}

// VerifyOTPRequest carries a one-time-code verification.
type VerifyOTPRequest struct {
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
	Token string `json:"token"`
	Type  string `json:"type"`
}

// =============================================================================
// Error Types
// =============================================================================

// Structured GoTrue/PostgREST error codes the client cares about.
const (
	CodeBadJWT         = "bad_jwt"
	CodeInvalidClaim   = "invalid_claim"
	CodeSessionExpired = "session_expired"
	CodeUniqueViolation = "23505"
)

// Error represents a Supabase API error.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	Hint       string `json:"hint,omitempty"`
	StatusCode int    `json:"status_code"`
}

func (e *Error) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// IsDuplicate reports whether the error is a unique-constraint violation.
func (e *Error) IsDuplicate() bool {
	return e.Code == CodeUniqueViolation || e.StatusCode == 409
}

// parseError parses an error response body into a typed *Error.
func parseError(body []byte, statusCode int) error {
	var errResp struct {
		Code             json.RawMessage `json:"code"`
		ErrorCode        string          `json:"error_code"`
		Message          string          `json:"message"`
		Details          string          `json:"details"`
		Hint             string          `json:"hint"`
		Error            string          `json:"error"`
		ErrorDescription string          `json:"error_description"`
	}

	if err := json.Unmarshal(body, &errResp); err != nil {
		return &Error{
			Code:       "unknown",
			Message:    string(body),
			StatusCode: statusCode,
		}
	}

	msg := errResp.Message
	if msg == "" {
		msg = errResp.Error
	}
	if msg == "" {
		msg = errResp.ErrorDescription
	}
	if msg == "" {
		msg = fmt.Sprintf("request failed with status %d", statusCode)
	}

	// GoTrue uses "error_code", PostgREST puts the SQLSTATE in "code".
	code := errResp.ErrorCode
	if code == "" && len(errResp.Code) > 0 {
		var s string
		if json.Unmarshal(errResp.Code, &s) == nil {
			code = s
		}
	}

	return &Error{
		Code:       code,
		Message:    msg,
		Details:    errResp.Details,
		Hint:       errResp.Hint,
		StatusCode: statusCode,
	}
}
