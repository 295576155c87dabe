package session

import (
	"errors"
	"fmt"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/UtkarshTheDev/HomeMeal-sub000/supabase"
)

func TestClassifyRefreshFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want failureClass
	}{
		{
			name: "nil",
			err:  nil,
			want: classOther,
		},
		{
			name: "structured bad_jwt",
			err:  &supabase.Error{Code: supabase.CodeBadJWT, Message: "missing sub claim"},
			want: classClaim,
		},
		{
			name: "structured invalid_claim",
			err:  &supabase.Error{Code: supabase.CodeInvalidClaim, Message: "invalid claim"},
			want: classClaim,
		},
		{
			name: "structured claim code wrapped",
			err:  fmt.Errorf("refresh: %w", &supabase.Error{Code: supabase.CodeBadJWT, Message: "bad"}),
			want: classClaim,
		},
		{
			name: "structured non-claim code with neutral message",
			err:  &supabase.Error{Code: supabase.CodeSessionExpired, Message: "session has expired"},
			want: classOther,
		},
		{
			name: "message mentions claim",
			err:  errors.New("AuthApiError: missing sub claim"),
			want: classClaim,
		},
		{
			name: "message mentions jwt uppercase",
			err:  errors.New("JWT is malformed"),
			want: classClaim,
		},
		{
			name: "message mentions token",
			err:  errors.New("refresh token not found"),
			want: classClaim,
		},
		{
			name: "network failure",
			err:  errors.New("connection refused"),
			want: classOther,
		},
		{
			name: "revocation",
			err:  errors.New("session revoked"),
			want: classOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyRefreshFailure(tt.err); got != tt.want {
				t.Errorf("classifyRefreshFailure(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestPrincipalFromSession_EmbeddedUserPreferred(t *testing.T) {
	sess := &supabase.Session{
		AccessToken: "not-a-jwt",
		User:        &supabase.User{ID: "u-9", Phone: "+15550111"},
	}
	id, phone := principalFromSession(sess)
	if id != "u-9" || phone != "+15550111" {
		t.Errorf("principalFromSession() = (%q, %q), want embedded user", id, phone)
	}
}

func TestPrincipalFromSession_TokenClaimsFallback(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "u-from-claims",
		"phone": "+15550122",
	})
	signed, err := token.SignedString([]byte("test-signing-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	id, phone := principalFromSession(&supabase.Session{AccessToken: signed})
	if id != "u-from-claims" {
		t.Errorf("id = %q, want u-from-claims", id)
	}
	if phone != "+15550122" {
		t.Errorf("phone = %q, want +15550122", phone)
	}
}

func TestPrincipalFromSession_Unrecoverable(t *testing.T) {
	if id, _ := principalFromSession(nil); id != "" {
		t.Errorf("id = %q, want empty for nil session", id)
	}
	if id, _ := principalFromSession(&supabase.Session{AccessToken: "garbage"}); id != "" {
		t.Errorf("id = %q, want empty for undecodable token", id)
	}
}
