// Package authority issues, validates, refreshes and revokes session tokens on
// the server. Route handlers for /auth/login, /auth/validate, /auth/refresh and
// /auth/logout call into a Service; the handlers themselves live elsewhere.
//
// Access tokens are short-lived HS256 JWTs. Refresh tokens are opaque random
// strings held in a tokens.RefreshRegistry, one per signed-in device, and each
// access token names its device's refresh token by hash in the sid claim.
// Refresh rotates that refresh token, so a revoked or already exchanged
// access token can never be refreshed again. A revoked access token stays on
// the tokens.Blacklist for as long as Refresh would still accept it.
package authority

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/rosterhub/authsession"
	"github.com/rosterhub/authsession/instrumentation"
	"github.com/rosterhub/authsession/security"
	"github.com/rosterhub/authsession/tokens"
)

const (
	// DefaultAccessTTL is the lifetime of an access token
	DefaultAccessTTL = 15 * time.Minute

	// DefaultRefreshWindow bounds how long after expiry an access token can still be refreshed
	DefaultRefreshWindow = 7 * 24 * time.Hour

	// DefaultIssuer is the iss claim when none is configured
	DefaultIssuer = "authsession"

	// MinSigningKeyLength is the minimum HS256 key size in bytes
	MinSigningKeyLength = 32

	refreshTokenBytes = 32
)

// Config holds the token service configuration
type Config struct {
	// SigningKey is the HS256 secret. Required, at least 32 bytes.
	SigningKey []byte

	// Issuer is written to and required in the iss claim
	Issuer string

	// AccessTTL is the access token lifetime. It must not exceed the
	// blacklist TTL, or a revoked token could outlive its blacklist entry.
	AccessTTL time.Duration

	// RefreshWindow bounds how long an expired access token may be exchanged.
	// Zero uses DefaultRefreshWindow; negative disables the bound.
	RefreshWindow time.Duration

	// Leeway tolerates clock skew when checking expiry
	Leeway time.Duration

	// Now overrides the clock, for tests
	Now func() time.Time
}

// AccessClaims are the claims of an access token. The subject is the user ID
// and the ID (jti) is unique per token.
type AccessClaims struct {
	// SessionID binds the token to the refresh token of the device it was issued to
	SessionID string `json:"sid"`

	jwt.RegisteredClaims
}

// UserID returns the subject of the token
func (c *AccessClaims) UserID() string {
	return c.Subject
}

// Service is the server-side token lifecycle
type Service struct {
	config    Config
	registry  *tokens.RefreshRegistry
	blacklist *tokens.Blacklist
	limiters  map[string]*security.RateLimiter

	logger          *slog.Logger
	auditor         *security.Auditor
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

// New creates a token service
func New(cfg Config, registry *tokens.RefreshRegistry, blacklist *tokens.Blacklist) (*Service, error) {
	if registry == nil || blacklist == nil {
		return nil, errors.New("refresh registry and blacklist are required")
	}
	if len(cfg.SigningKey) < MinSigningKeyLength {
		return nil, fmt.Errorf("signing key must be at least %d bytes, got %d", MinSigningKeyLength, len(cfg.SigningKey))
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.AccessTTL < 0 {
		return nil, fmt.Errorf("access TTL must be positive, got %v", cfg.AccessTTL)
	}
	if cfg.AccessTTL > blacklist.TTL() {
		return nil, fmt.Errorf("access TTL %v exceeds blacklist TTL %v", cfg.AccessTTL, blacklist.TTL())
	}
	if cfg.RefreshWindow == 0 {
		cfg.RefreshWindow = DefaultRefreshWindow
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = security.DefaultClockSkewGracePeriod
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{
		config:    cfg,
		registry:  registry,
		blacklist: blacklist,
		limiters:  make(map[string]*security.RateLimiter),
		logger:    slog.Default(),
	}, nil
}

// SetLogger sets a custom logger
func (s *Service) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetAuditor enables audit events for token lifecycle operations
func (s *Service) SetAuditor(auditor *security.Auditor) {
	s.auditor = auditor
}

// SetInstrumentation sets OpenTelemetry instrumentation for the service
func (s *Service) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("authority")
	}
}

// SetLimiter registers the limiter consulted by CheckAttempt for action
func (s *Service) SetLimiter(action string, limiter *security.RateLimiter) {
	s.limiters[action] = limiter
}

// IssueSession signs a new access token for userID and registers a new
// refresh token for the device signing in.
func (s *Service) IssueSession(ctx context.Context, userID string) (token *oauth2.Token, err error) {
	ctx, span := s.startSpan(ctx, "issue_session", userID)
	defer func() { s.endSpan(span, err) }()

	if userID == "" {
		return nil, errors.New("user ID is required")
	}

	refresh, err := generateRefreshToken()
	if err != nil {
		return nil, err
	}
	access, expiry, err := s.signAccess(userID, sessionID(refresh))
	if err != nil {
		return nil, err
	}
	if err := s.registry.SetRefreshToken(ctx, userID, refresh); err != nil {
		return nil, fmt.Errorf("failed to register refresh token: %w", err)
	}

	s.recordIssued(ctx, "login")
	s.auditor.LogTokenIssued(userID)
	s.logger.Info("Issued session", "user_id", userID)

	return &oauth2.Token{
		AccessToken:  access,
		TokenType:    "Bearer",
		RefreshToken: refresh,
		Expiry:       expiry,
	}, nil
}

// ValidateAccess checks an access token. A blacklisted token fails with
// ErrTokenRevoked, an expired one with ErrTokenExpired and anything else
// unverifiable with ErrTokenInvalid. If the blacklist cannot be read the
// token is rejected.
func (s *Service) ValidateAccess(ctx context.Context, accessToken string) (claims *AccessClaims, err error) {
	ctx, span := s.startSpan(ctx, "validate_access", "")
	defer func() { s.endSpan(span, err) }()

	if err := s.checkNotRevoked(ctx, accessToken); err != nil {
		return nil, err
	}

	claims, err = s.parse(accessToken, true)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Refresh exchanges an access token, expired or not, for a new one. The
// token must be authentic, not blacklisted and expired for less than the
// refresh window, and the refresh token of its device must still be
// registered. That refresh token is rotated and returned with the new access
// token, and the old access token is blacklisted. Any failure wraps
// ErrRefreshFailed.
func (s *Service) Refresh(ctx context.Context, accessToken string) (token *oauth2.Token, err error) {
	ctx, span := s.startSpan(ctx, "refresh", "")
	defer func() { s.endSpan(span, err) }()

	if err := s.checkNotRevoked(ctx, accessToken); err != nil {
		return nil, fmt.Errorf("%w: %w", authsession.ErrRefreshFailed, err)
	}

	claims, err := s.parse(accessToken, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", authsession.ErrRefreshFailed, err)
	}
	userID := claims.UserID()
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrUserID, userID))

	if s.config.RefreshWindow > 0 && security.IsExpiredAt(s.config.Now(), claims.ExpiresAt.Time, s.config.RefreshWindow) {
		return nil, fmt.Errorf("%w: access token expired beyond the refresh window", authsession.ErrRefreshFailed)
	}

	current, err := s.deviceRefreshToken(ctx, claims)
	if err != nil {
		if errors.Is(err, tokens.ErrNoRefreshToken) {
			s.auditor.LogAuthFailure(userID, "no_refresh_token")
		}
		return nil, fmt.Errorf("%w: %w", authsession.ErrRefreshFailed, err)
	}

	next, err := generateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", authsession.ErrRefreshFailed, err)
	}
	// Only one of several concurrent exchanges of the same token gets past here
	if err := s.registry.RotateRefreshToken(ctx, userID, current, next); err != nil {
		if errors.Is(err, tokens.ErrNoRefreshToken) {
			s.auditor.LogAuthFailure(userID, "refresh_token_reused")
		}
		return nil, fmt.Errorf("%w: %w", authsession.ErrRefreshFailed, err)
	}

	if err := s.blacklist.BlacklistTokenFor(ctx, accessToken, s.revocationTTL(claims)); err != nil {
		return nil, fmt.Errorf("%w: %w", authsession.ErrRefreshFailed, err)
	}

	access, expiry, err := s.signAccess(userID, sessionID(next))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", authsession.ErrRefreshFailed, err)
	}

	s.recordIssued(ctx, "refresh")
	s.auditor.LogTokenRefreshed(userID)
	s.logger.Debug("Refreshed access token", "user_id", userID)

	return &oauth2.Token{
		AccessToken:  access,
		TokenType:    "Bearer",
		RefreshToken: next,
		Expiry:       expiry,
	}, nil
}

// Revoke signs out one device: the access token is blacklisted and the
// device's refresh token removed. refreshToken is optional; the device is
// also identified from the access token. Other devices stay signed in.
func (s *Service) Revoke(ctx context.Context, accessToken, refreshToken string) (err error) {
	ctx, span := s.startSpan(ctx, "revoke", "")
	defer func() { s.endSpan(span, err) }()

	if accessToken == "" {
		return errors.New("access token is required")
	}

	// Identify the owner without requiring the token to be unexpired
	claims, err := s.parse(accessToken, false)
	if err != nil {
		return err
	}
	userID := claims.UserID()

	if err := s.blacklist.BlacklistTokenFor(ctx, accessToken, s.revocationTTL(claims)); err != nil {
		return err
	}

	device, err := s.deviceRefreshToken(ctx, claims)
	if err != nil && !errors.Is(err, tokens.ErrNoRefreshToken) {
		return err
	}
	for _, t := range []string{device, refreshToken} {
		if t == "" {
			continue
		}
		if err := s.registry.DeleteRefreshToken(ctx, userID, t); err != nil {
			return err
		}
	}

	s.auditor.LogTokenRevoked(userID)
	return nil
}

// RevokeAll signs out every device of userID, e.g. after a password reset
func (s *Service) RevokeAll(ctx context.Context, userID, reason string) (err error) {
	ctx, span := s.startSpan(ctx, "revoke_all", userID)
	defer func() { s.endSpan(span, err) }()

	if err := s.registry.DeleteAllRefreshTokens(ctx, userID); err != nil {
		return err
	}
	s.auditor.LogAllTokensRevoked(userID, reason)
	return nil
}

// CheckAttempt consumes one attempt of action for identity (an email or IP).
// It returns an *authsession.Error of kind ErrRateLimitExceeded when the
// budget is spent. A limiter store failure rejects the attempt.
func (s *Service) CheckAttempt(ctx context.Context, action, identity string) error {
	limiter, ok := s.limiters[action]
	if !ok {
		return fmt.Errorf("no rate limiter registered for action %q", action)
	}

	allowed, err := limiter.Allow(ctx, action+":"+identity)
	if err != nil {
		return fmt.Errorf("rate limit check failed: %w", err)
	}
	if !allowed {
		return authsession.NewError(authsession.ErrRateLimitExceeded, "")
	}
	return nil
}

// ResetAttempts clears the attempt counter of action for identity, e.g. after
// a successful sign-in
func (s *Service) ResetAttempts(ctx context.Context, action, identity string) error {
	limiter, ok := s.limiters[action]
	if !ok {
		return nil
	}
	return limiter.Reset(ctx, action+":"+identity)
}

func (s *Service) checkNotRevoked(ctx context.Context, accessToken string) error {
	revoked, err := s.blacklist.IsTokenBlacklisted(ctx, accessToken)
	if err != nil {
		return err
	}
	if revoked {
		s.auditor.LogRevokedTokenUsed("")
		return authsession.ErrTokenRevoked
	}
	return nil
}

// deviceRefreshToken returns the registered refresh token named by the sid
// claim, or ErrNoRefreshToken when it has been rotated or revoked.
func (s *Service) deviceRefreshToken(ctx context.Context, claims *AccessClaims) (string, error) {
	if claims.SessionID == "" {
		return "", tokens.ErrNoRefreshToken
	}
	list, err := s.registry.ListRefreshTokens(ctx, claims.UserID())
	if err != nil {
		return "", err
	}
	for _, t := range list {
		if subtle.ConstantTimeCompare([]byte(sessionID(t)), []byte(claims.SessionID)) == 1 {
			return t, nil
		}
	}
	return "", tokens.ErrNoRefreshToken
}

// revocationTTL is how long a blacklist entry for claims must live: until
// the token can no longer be refreshed.
func (s *Service) revocationTTL(claims *AccessClaims) time.Duration {
	if s.config.RefreshWindow <= 0 {
		return s.blacklist.TTL()
	}
	return claims.ExpiresAt.Time.Add(s.config.RefreshWindow + s.config.Leeway).Sub(s.config.Now())
}

func (s *Service) signAccess(userID, sid string) (string, time.Time, error) {
	now := s.config.Now()
	expiry := now.Add(s.config.AccessTTL)

	claims := AccessClaims{
		SessionID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.config.Issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.config.SigningKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiry, nil
}

// parse verifies the signature and issuer of accessToken. With checkExpiry
// false an expired token is accepted, which Refresh and Revoke rely on.
func (s *Service) parse(accessToken string, checkExpiry bool) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.config.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.config.Leeway),
		jwt.WithTimeFunc(s.config.Now),
	}
	if !checkExpiry {
		options = append(options, jwt.WithoutClaimsValidation())
	}

	claims := &AccessClaims{}
	_, err := jwt.NewParser(options...).ParseWithClaims(accessToken, claims, func(t *jwt.Token) (any, error) {
		return s.config.SigningKey, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, authsession.ErrTokenExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", authsession.ErrTokenInvalid, err)
	}

	// Claims validation is skipped for expired tokens; hold them to the same issuer and shape
	if !checkExpiry && (claims.Issuer != s.config.Issuer || claims.Subject == "" || claims.ExpiresAt == nil) {
		return nil, fmt.Errorf("%w: unexpected claims", authsession.ErrTokenInvalid)
	}
	return claims, nil
}

func (s *Service) recordIssued(ctx context.Context, reason string) {
	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordAccessTokenIssued(ctx, reason)
	}
}

func (s *Service) startSpan(ctx context.Context, operation, userID string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	attrs := []attribute.KeyValue{}
	if userID != "" {
		attrs = append(attrs, attribute.String(instrumentation.AttrUserID, userID))
	}
	return s.tracer.Start(ctx, "authority."+operation, trace.WithAttributes(attrs...))
}

func (s *Service) endSpan(span trace.Span, err error) {
	if s.tracer == nil {
		return
	}
	if err != nil {
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	span.End()
}

// sessionID names a refresh token without revealing it
func sessionID(refreshToken string) string {
	sum := sha256.Sum256([]byte(refreshToken))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func generateRefreshToken() (string, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
