package client

import (
	"context"
	"fmt"
)

// UserProfile is the signed-in user as returned by the Auth API
type UserProfile struct {
	ID                  string `json:"id"`
	Email               string `json:"email"`
	Name                string `json:"name,omitempty"`
	TeamID              string `json:"teamId,omitempty"`
	Role                string `json:"role,omitempty"`
	OnboardingCompleted bool   `json:"onboardingCompleted,omitempty"`
}

// AuthResult is the payload of a successful sign-in, sign-up or OAuth callback
type AuthResult struct {
	Token string      `json:"token"`
	User  UserProfile `json:"user"`
}

// SignUpRequest carries the registration form
type SignUpRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	TeamName string `json:"teamName,omitempty"`
}

// AuthAPI is the remote authentication service. Implementations map failures
// onto the authsession error taxonomy: transport failures wrap ErrNetwork,
// rejected credentials ErrInvalidCredentials, throttling ErrRateLimitExceeded
// and a refused refresh ErrRefreshFailed.
type AuthAPI interface {
	Register(ctx context.Context, req SignUpRequest) (*AuthResult, error)
	Login(ctx context.Context, email, password string) (*AuthResult, error)
	ExchangeGoogleCode(ctx context.Context, code, codeVerifier string) (*AuthResult, error)

	// Validate checks token; a nil error means it is still good
	Validate(ctx context.Context, token string) error

	// Refresh exchanges token for a new one
	Refresh(ctx context.Context, token string) (string, error)

	// Logout revokes token on the server. csrfToken may be empty.
	Logout(ctx context.Context, token, csrfToken string) error

	ForgotPassword(ctx context.Context, email string) error
	VerifyResetCode(ctx context.Context, email, code string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
}

// APIError is a non-success envelope returned by the Auth API that has no
// more specific meaning for the session lifecycle
type APIError struct {
	Endpoint string
	Status   int
	Message  string
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s failed with status %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("%s failed with status %d: %s", e.Endpoint, e.Status, e.Message)
}
