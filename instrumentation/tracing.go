package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span and metric attribute keys
//
// SECURITY WARNING: Never record actual token values (access tokens, refresh tokens,
// CSRF tokens) in traces or metrics. Only record metadata such as token presence,
// limiter names and validation results.
const (
	// Session attributes
	AttrUserID          = "session.user_id"          // User identifier (non-secret)
	AttrSessionFrom     = "session.state.from"       // Client state before a transition
	AttrSessionTo       = "session.state.to"         // Client state after a transition
	AttrIssueReason     = "session.token.reason"     //nolint:gosec // Why a token was issued (login, refresh)
	AttrRevocationScope = "session.revocation.scope" // single or all

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"
	AttrStorageKey       = "storage.key"

	// Security attributes
	AttrRateLimiterName  = "security.rate_limiter.name"
	AttrRateLimitAllowed = "security.rate_limiter.allowed"
	AttrAuditEventType   = "security.audit.event_type"

	// Auth API attributes
	AttrAPIEndpoint = "auth_api.endpoint"
	AttrAPIStatus   = "auth_api.status"
	AttrAPIResult   = "auth_api.result"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe).
// Keys are recorded only for namespaces that never embed secrets; callers
// pass an empty key otherwise.
func AddStorageAttributes(span trace.Span, operation, storageType, key string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
	if key != "" {
		SetSpanAttributes(span, attribute.String(AttrStorageKey, key))
	}
}
