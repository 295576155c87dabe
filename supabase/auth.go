package supabase

import (
	"context"
	"encoding/json"
	"fmt"
)

// AuthClient handles GoTrue auth operations.
type AuthClient struct {
	client *Client
}

// SignInWithPhone authenticates a user with phone/password.
func (a *AuthClient) SignInWithPhone(ctx context.Context, phone, password string) (*Session, error) {
	req := map[string]string{
		"phone":    phone,
		"password": password,
	}
	return a.sessionRequest(ctx, a.client.authURL+"/token?grant_type=password", req)
}

// SignInWithPassword authenticates a user with email/password.
func (a *AuthClient) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	req := map[string]string{
		"email":    email,
		"password": password,
	}
	return a.sessionRequest(ctx, a.client.authURL+"/token?grant_type=password", req)
}

// RefreshToken exchanges a refresh token for a new session.
func (a *AuthClient) RefreshToken(ctx context.Context, refreshToken string) (*Session, error) {
	req := map[string]string{
		"refresh_token": refreshToken,
	}
	return a.sessionRequest(ctx, a.client.authURL+"/token?grant_type=refresh_token", req)
}

// VerifyOTP verifies a one-time code and returns the resulting session.
func (a *AuthClient) VerifyOTP(ctx context.Context, req VerifyOTPRequest) (*Session, error) {
	return a.sessionRequest(ctx, a.client.authURL+"/verify", req)
}

// GetUser retrieves the user behind an access token. A success here means the
// token is still honored by the identity provider.
func (a *AuthClient) GetUser(ctx context.Context, accessToken string) (*User, error) {
	respBody, statusCode, err := a.client.requestWithToken(ctx, "GET", a.client.authURL+"/user", nil, nil, accessToken)
	if err != nil {
		return nil, err
	}

	if statusCode >= 400 {
		return nil, parseError(respBody, statusCode)
	}

	var user User
	if err := json.Unmarshal(respBody, &user); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return &user, nil
}

// SignOut revokes the session behind the access token.
func (a *AuthClient) SignOut(ctx context.Context, accessToken string) error {
	respBody, statusCode, err := a.client.requestWithToken(ctx, "POST", a.client.authURL+"/logout", nil, nil, accessToken)
	if err != nil {
		return err
	}

	if statusCode >= 400 {
		return parseError(respBody, statusCode)
	}

	return nil
}

// sessionRequest posts a JSON body and decodes a session response.
func (a *AuthClient) sessionRequest(ctx context.Context, url string, req any) (*Session, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, statusCode, err := a.client.request(ctx, "POST", url, body, nil)
	if err != nil {
		return nil, err
	}

	if statusCode >= 400 {
		return nil, parseError(respBody, statusCode)
	}

	var session Session
	if err := json.Unmarshal(respBody, &session); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return &session, nil
}
