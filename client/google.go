package client

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// GoogleConfig configures the browser leg of Google sign-in
type GoogleConfig struct {
	ClientID    string
	RedirectURL string
	Scopes      []string
}

// GoogleOAuth builds the Google authorization redirect. The code Google
// returns to the redirect URL is passed to Manager.CompleteOAuth together
// with the PKCE verifier from Start; the Auth API holds the client secret
// and performs the exchange.
type GoogleOAuth struct {
	config *oauth2.Config
}

// GoogleStart is what the caller keeps between the redirect and the callback
type GoogleStart struct {
	AuthURL      string
	State        string
	CodeVerifier string
}

// NewGoogleOAuth creates the Google sign-in helper
func NewGoogleOAuth(cfg GoogleConfig) (*GoogleOAuth, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("redirect URL is required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}

	return &GoogleOAuth{
		config: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURL,
			Scopes:      scopes,
			Endpoint:    google.Endpoint,
		},
	}, nil
}

// Start generates state and a PKCE verifier and returns the authorization URL
func (g *GoogleOAuth) Start() (*GoogleStart, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(b)
	verifier := oauth2.GenerateVerifier()

	return &GoogleStart{
		AuthURL:      g.config.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)),
		State:        state,
		CodeVerifier: verifier,
	}, nil
}

// CheckState reports whether the state returned on the callback matches
func CheckState(expected, got string) bool {
	if expected == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}
