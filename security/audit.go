package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/rosterhub/authsession/instrumentation"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
	now     func() time.Time

	instrumentation *instrumentation.Instrumentation
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
		now:     time.Now,
	}
}

// SetInstrumentation counts audit events in the audit.events.total metric
func (a *Auditor) SetInstrumentation(inst *instrumentation.Instrumentation) {
	a.instrumentation = inst
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	Action    string // rate limit action or auth flow, when relevant
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with the user ID hashed
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = a.now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"action", event.Action,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)

	if a.instrumentation != nil {
		a.instrumentation.Metrics().RecordAuditEvent(context.Background(), event.Type)
	}
}

// LogTokenIssued logs a new session (access + refresh token pair)
func (a *Auditor) LogTokenIssued(userID string) {
	a.LogEvent(Event{Type: EventTokenIssued, UserID: userID})
}

// LogTokenRefreshed logs an access token exchanged through a refresh
func (a *Auditor) LogTokenRefreshed(userID string) {
	a.LogEvent(Event{Type: EventTokenRefreshed, UserID: userID})
}

// LogTokenRevoked logs a single-device revocation
func (a *Auditor) LogTokenRevoked(userID string) {
	a.LogEvent(Event{Type: EventTokenRevoked, UserID: userID})
}

// LogAllTokensRevoked logs revocation of every device of a user
func (a *Auditor) LogAllTokensRevoked(userID, reason string) {
	a.LogEvent(Event{
		Type:    EventAllTokensRevoked,
		UserID:  userID,
		Details: map[string]any{"reason": reason},
	})
}

// LogAuthFailure logs an authentication failure
func (a *Auditor) LogAuthFailure(userID, reason string) {
	a.LogEvent(Event{
		Type:    EventAuthFailure,
		UserID:  userID,
		Details: map[string]any{"reason": reason},
	})
}

// LogRevokedTokenUsed logs a blacklisted access token presented again
func (a *Auditor) LogRevokedTokenUsed(userID string) {
	a.LogEvent(Event{Type: EventRevokedTokenUsed, UserID: userID})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(limiter, action string) {
	a.LogEvent(Event{
		Type:    EventRateLimitExceeded,
		Action:  action,
		Details: map[string]any{"limiter": limiter},
	})
}

// LogSessionExpired logs a client session torn down after a failed refresh
func (a *Auditor) LogSessionExpired(userID string) {
	a.LogEvent(Event{Type: EventSessionExpired, UserID: userID})
}

// LogLocalStateReset logs persisted client state discarded as corrupted
func (a *Auditor) LogLocalStateReset(reason string) {
	a.LogEvent(Event{
		Type:    EventLocalStateReset,
		Details: map[string]any{"reason": reason},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
