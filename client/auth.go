package client

import (
	"context"
	"net/http"
)

// Auth endpoint paths, relative to the API prefix
const (
	LoginPath          = "/auth/login"
	RegisterPath       = "/auth/register"
	ForgotPasswordPath = "/auth/forgot-password"
	ResetPasswordPath  = "/auth/reset-password"
	LogoutPath         = "/auth/logout"
	MePath             = "/auth/me"
)

// UserInfo is the user object in auth responses
type UserInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	Plan     string `json:"plan,omitempty"`
}

// Attributes converts the user into session attributes. A nil user yields nil.
func (u *UserInfo) Attributes() *SessionAttributes {
	if u == nil {
		return nil
	}
	return &SessionAttributes{
		DisplayName: u.Name,
		Email:       u.Email,
		TenantID:    u.TenantID,
		Role:        u.Role,
		PlanSlug:    u.Plan,
	}
}

// AuthResponse is returned by login, register and refresh
type AuthResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresIn    int64     `json:"expires_in,omitempty"`
	User         *UserInfo `json:"user,omitempty"`
}

// LoginRequest is the body of a login call
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest creates a tenant and its owner account
type RegisterRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	BusinessName string `json:"business_name"`
}

// ResetPasswordRequest completes a password reset
type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// Login authenticates with email/password and stores the credentials
func (c *Client) Login(ctx context.Context, email, password string) (*UserInfo, error) {
	return c.authenticate(ctx, LoginPath, LoginRequest{Email: email, Password: password})
}

// Register creates an account and stores the credentials
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*UserInfo, error) {
	return c.authenticate(ctx, RegisterPath, req)
}

func (c *Client) authenticate(ctx context.Context, path string, body any) (*UserInfo, error) {
	var resp AuthResponse
	err := c.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: body, SkipAuth: true}, &resp)
	if err != nil {
		return nil, err
	}
	pair := CredentialPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}
	attrs := resp.User.Attributes()
	if attrs == nil {
		attrs = &SessionAttributes{}
	}
	if err := c.session.SetCredentials(pair, attrs); err != nil {
		return nil, &APIError{Message: "invalid response from server", StatusCode: http.StatusOK, Err: err}
	}
	return resp.User, nil
}

// ForgotPassword asks the backend to send a reset link
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	return c.Do(ctx, &Request{
		Method:   http.MethodPost,
		Path:     ForgotPasswordPath,
		Body:     map[string]string{"email": email},
		SkipAuth: true,
	}, nil)
}

// ResetPassword sets a new password using a reset token
func (c *Client) ResetPassword(ctx context.Context, token, password string) error {
	return c.Do(ctx, &Request{
		Method:   http.MethodPost,
		Path:     ResetPasswordPath,
		Body:     ResetPasswordRequest{Token: token, Password: password},
		SkipAuth: true,
	}, nil)
}

// Logout revokes the refresh token (best effort) and clears the session.
// It does not emit SignalAuthExpired.
func (c *Client) Logout(ctx context.Context) error {
	refresh := c.session.RefreshToken()
	var err error
	if refresh != "" {
		err = c.Do(ctx, &Request{
			Method:   http.MethodPost,
			Path:     LogoutPath,
			Body:     RefreshRequest{RefreshToken: refresh},
			SkipAuth: true,
		}, nil)
		if err != nil {
			c.logger.Warn("failed to revoke refresh token", "err", err)
		}
	}
	c.session.ClearCredentials()
	return err
}

// Me fetches the current user and updates the session attributes
func (c *Client) Me(ctx context.Context) (*UserInfo, error) {
	var user UserInfo
	if err := c.Get(ctx, MePath, &user); err != nil {
		return nil, err
	}
	c.session.SetAttributes(*user.Attributes())
	return &user, nil
}
