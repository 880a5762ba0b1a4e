package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rosterhub/authsession"
	"github.com/rosterhub/authsession/instrumentation"
	"github.com/rosterhub/authsession/security"
)

// Auth API endpoints, relative to the base URL
const (
	EndpointRegister        = "/auth/register"
	EndpointLogin           = "/auth/login"
	EndpointRefresh         = "/auth/refresh"
	EndpointLogout          = "/auth/logout"
	EndpointValidate        = "/auth/validate"
	EndpointForgotPassword  = "/auth/forgot-password"
	EndpointVerifyResetCode = "/auth/verify-reset-code"
	EndpointResetPassword   = "/auth/reset-password"
	EndpointGoogleCallback  = "/auth/google/callback"
)

// CSRFHeader carries the session's CSRF token on state-changing requests
const CSRFHeader = "X-CSRF-Token"

const (
	// DefaultRequestsPerSecond paces outbound calls to the Auth API
	DefaultRequestsPerSecond = 10

	// DefaultBurst is the number of calls allowed back to back
	DefaultBurst = 5

	// DefaultHTTPTimeout bounds a single Auth API call
	DefaultHTTPTimeout = 30 * time.Second

	// maxResponseSize caps the envelope read from the Auth API
	maxResponseSize = 1 << 20
)

// HTTPConfig configures an HTTPAuthAPI
type HTTPConfig struct {
	// BaseURL of the Auth API, e.g. https://api.example.com. Required.
	BaseURL string

	// HTTPClient overrides the default client with a 30s timeout
	HTTPClient *http.Client

	// RequestsPerSecond and Burst configure the outbound token bucket
	RequestsPerSecond float64
	Burst             int

	Logger *slog.Logger
}

// envelope is the response shape shared by every Auth API endpoint
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// HTTPAuthAPI is an AuthAPI talking JSON over HTTP
type HTTPAuthAPI struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger

	instrumentation *instrumentation.Instrumentation
}

// NewHTTPAuthAPI creates an Auth API client
func NewHTTPAuthAPI(cfg HTTPConfig) (*HTTPAuthAPI, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = DefaultBurst
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPAuthAPI{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		logger:     logger,
	}, nil
}

// SetInstrumentation records call counts and latencies per endpoint
func (a *HTTPAuthAPI) SetInstrumentation(inst *instrumentation.Instrumentation) {
	a.instrumentation = inst
}

// Register creates an account and signs it in
func (a *HTTPAuthAPI) Register(ctx context.Context, req SignUpRequest) (*AuthResult, error) {
	var res AuthResult
	if err := a.call(ctx, EndpointRegister, "", nil, req, &res); err != nil {
		return nil, err
	}
	return checkAuthResult(EndpointRegister, &res)
}

// Login signs in with email and password
func (a *HTTPAuthAPI) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	body := map[string]string{"email": email, "password": password}

	var res AuthResult
	err := a.call(ctx, EndpointLogin, "", nil, body, &res)
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusBadRequest) {
		return nil, authsession.NewError(authsession.ErrInvalidCredentials, apiErr.Message)
	}
	if err != nil {
		return nil, err
	}
	return checkAuthResult(EndpointLogin, &res)
}

// ExchangeGoogleCode completes a Google sign-in with the authorization code
func (a *HTTPAuthAPI) ExchangeGoogleCode(ctx context.Context, code, codeVerifier string) (*AuthResult, error) {
	body := map[string]string{"code": code}
	if codeVerifier != "" {
		body["codeVerifier"] = codeVerifier
	}

	var res AuthResult
	if err := a.call(ctx, EndpointGoogleCallback, "", nil, body, &res); err != nil {
		return nil, err
	}
	return checkAuthResult(EndpointGoogleCallback, &res)
}

// Validate checks token with the Auth API
func (a *HTTPAuthAPI) Validate(ctx context.Context, token string) error {
	err := a.call(ctx, EndpointValidate, token, nil, nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %w", authsession.ErrTokenInvalid, apiErr)
	}
	return err
}

// Refresh exchanges token for a new access token. Every failure wraps
// ErrRefreshFailed.
func (a *HTTPAuthAPI) Refresh(ctx context.Context, token string) (string, error) {
	var res struct {
		Token string `json:"token"`
	}
	body := map[string]string{"token": token}
	if err := a.call(ctx, EndpointRefresh, token, nil, body, &res); err != nil {
		if errors.Is(err, authsession.ErrRefreshFailed) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", authsession.ErrRefreshFailed, err)
	}
	if res.Token == "" {
		return "", fmt.Errorf("%w: response carried no token", authsession.ErrRefreshFailed)
	}
	return res.Token, nil
}

// Logout revokes token on the server
func (a *HTTPAuthAPI) Logout(ctx context.Context, token, csrfToken string) error {
	var headers http.Header
	if csrfToken != "" {
		headers = http.Header{CSRFHeader: []string{csrfToken}}
	}
	return a.call(ctx, EndpointLogout, token, headers, nil, nil)
}

// ForgotPassword asks the Auth API to email a reset code
func (a *HTTPAuthAPI) ForgotPassword(ctx context.Context, email string) error {
	return a.call(ctx, EndpointForgotPassword, "", nil, map[string]string{"email": email}, nil)
}

// VerifyResetCode checks a reset code before the new password is chosen
func (a *HTTPAuthAPI) VerifyResetCode(ctx context.Context, email, code string) error {
	body := map[string]string{"email": email, "code": code}
	return a.call(ctx, EndpointVerifyResetCode, "", nil, body, nil)
}

// ResetPassword sets a new password using a verified reset code
func (a *HTTPAuthAPI) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	body := map[string]string{"email": email, "code": code, "newPassword": newPassword}
	return a.call(ctx, EndpointResetPassword, "", nil, body, nil)
}

// call POSTs body to endpoint and decodes the envelope's data into out.
// Transport failures wrap ErrNetwork, 429 maps to ErrRateLimitExceeded and any
// other non-success envelope becomes an *APIError.
func (a *HTTPAuthAPI) call(ctx context.Context, endpoint, bearer string, headers http.Header, body, out any) (err error) {
	start := time.Now()
	status := 0
	defer func() {
		if a.instrumentation != nil {
			a.instrumentation.Metrics().RecordAuthAPICall(ctx, endpoint, status,
				float64(time.Since(start).Microseconds())/1000.0, err)
		}
	}()

	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", authsession.ErrNetwork, endpoint, err)
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", endpoint, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", endpoint, err)
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(security.RequestIDHeader, security.RequestIDFor(ctx))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.logger.Warn("Auth API call failed", "endpoint", endpoint, "error", err)
		return fmt.Errorf("%w: %s: %v", authsession.ErrNetwork, endpoint, err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: %s: reading response: %v", authsession.ErrNetwork, endpoint, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	switch {
	case status == http.StatusTooManyRequests:
		return authsession.NewError(authsession.ErrRateLimitExceeded, env.Message)
	case status >= http.StatusInternalServerError && decodeErr != nil:
		return fmt.Errorf("%w: %s returned status %d", authsession.ErrNetwork, endpoint, status)
	case decodeErr != nil:
		return fmt.Errorf("%s: invalid response envelope: %w", endpoint, decodeErr)
	case status < 200 || status >= 300 || !env.Success:
		a.logger.Debug("Auth API rejected request", "endpoint", endpoint, "status", status)
		return &APIError{Endpoint: endpoint, Status: status, Message: env.Message}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%s: invalid response data: %w", endpoint, err)
		}
	}
	return nil
}

func checkAuthResult(endpoint string, res *AuthResult) (*AuthResult, error) {
	if res.Token == "" {
		return nil, fmt.Errorf("%s: response carried no token", endpoint)
	}
	return res, nil
}
