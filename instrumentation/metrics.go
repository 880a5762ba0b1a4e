package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the session library
type Metrics struct {
	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageKeys              metric.Int64ObservableGauge

	// Token Metrics
	TokensBlacklisted    metric.Int64Counter
	RefreshTokensIssued  metric.Int64Counter
	RefreshTokensRevoked metric.Int64Counter
	AccessTokensIssued   metric.Int64Counter

	// Security Metrics
	RateLimitChecked  metric.Int64Counter
	RateLimitExceeded metric.Int64Counter
	AuditEventsTotal  metric.Int64Counter

	// Client Session Metrics
	SessionTransitions metric.Int64Counter
	AuthAPICallsTotal  metric.Int64Counter
	AuthAPIDuration    metric.Float64Histogram
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	storageMeter := inst.Meter("storage")
	tokensMeter := inst.Meter("tokens")
	securityMeter := inst.Meter("security")
	clientMeter := inst.Meter("client")

	var err error

	// Storage Metrics
	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"storage.operation.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StorageKeys, err = storageMeter.Int64ObservableGauge(
		"storage.keys",
		metric.WithDescription("Number of keys held by the store, expired-but-unread keys included"),
		metric.WithUnit("{key}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.keys gauge: %w", err)
	}

	// Token Metrics
	m.TokensBlacklisted, err = tokensMeter.Int64Counter(
		"session.token.blacklisted",
		metric.WithDescription("Number of access tokens added to the blacklist"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.blacklisted counter: %w", err)
	}

	m.RefreshTokensIssued, err = tokensMeter.Int64Counter(
		"session.refresh_token.issued",
		metric.WithDescription("Number of refresh tokens registered"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh_token.issued counter: %w", err)
	}

	m.RefreshTokensRevoked, err = tokensMeter.Int64Counter(
		"session.refresh_token.revoked",
		metric.WithDescription("Number of refresh token revocations"),
		metric.WithUnit("{revocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh_token.revoked counter: %w", err)
	}

	m.AccessTokensIssued, err = tokensMeter.Int64Counter(
		"session.access_token.issued",
		metric.WithDescription("Number of access tokens issued"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create access_token.issued counter: %w", err)
	}

	// Security Metrics
	m.RateLimitChecked, err = securityMeter.Int64Counter(
		"session.rate_limit.checked",
		metric.WithDescription("Number of rate limit checks"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.checked counter: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"session.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	m.AuditEventsTotal, err = securityMeter.Int64Counter(
		"session.audit.events.total",
		metric.WithDescription("Total number of audit events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.events.total counter: %w", err)
	}

	// Client Session Metrics
	m.SessionTransitions, err = clientMeter.Int64Counter(
		"session.client.transitions",
		metric.WithDescription("Number of client session state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client.transitions counter: %w", err)
	}

	m.AuthAPICallsTotal, err = clientMeter.Int64Counter(
		"session.client.api.calls.total",
		metric.WithDescription("Total number of auth API calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client.api.calls.total counter: %w", err)
	}

	m.AuthAPIDuration, err = clientMeter.Float64Histogram(
		"session.client.api.duration",
		metric.WithDescription("Auth API call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client.api.duration histogram: %w", err)
	}

	return m, nil
}

func storageTypeAttr(storageType string) attribute.KeyValue {
	return attribute.String(AttrStorageType, storageType)
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, storageType, operation, result string, durationMs float64) {
	attrs := []attribute.KeyValue{
		storageTypeAttr(storageType),
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageResult, result),
	}

	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		storageTypeAttr(storageType),
		attribute.String(AttrStorageOperation, operation),
	))
}

// RecordTokenBlacklisted records an access token revocation
func (m *Metrics) RecordTokenBlacklisted(ctx context.Context) {
	m.TokensBlacklisted.Add(ctx, 1)
}

// RecordRefreshTokenIssued records a refresh token registration
func (m *Metrics) RecordRefreshTokenIssued(ctx context.Context) {
	m.RefreshTokensIssued.Add(ctx, 1)
}

// RecordRefreshTokenRevoked records a refresh token revocation.
// scope is "single" for one device or "all" for every device of a user.
func (m *Metrics) RecordRefreshTokenRevoked(ctx context.Context, scope string) {
	m.RefreshTokensRevoked.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrRevocationScope, scope),
	))
}

// RecordAccessTokenIssued records an access token issuance.
// reason is "login" or "refresh".
func (m *Metrics) RecordAccessTokenIssued(ctx context.Context, reason string) {
	m.AccessTokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrIssueReason, reason),
	))
}

// RecordRateLimitCheck records a rate limit decision
func (m *Metrics) RecordRateLimitCheck(ctx context.Context, limiterName string, allowed bool) {
	m.RateLimitChecked.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrRateLimiterName, limiterName),
		attribute.Bool(AttrRateLimitAllowed, allowed),
	))
	if !allowed {
		m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
			attribute.String(AttrRateLimiterName, limiterName),
		))
	}
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAuditEventType, eventType),
	))
}

// RecordSessionTransition records a client session state change
func (m *Metrics) RecordSessionTransition(ctx context.Context, from, to string) {
	m.SessionTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrSessionFrom, from),
		attribute.String(AttrSessionTo, to),
	))
}

// RecordAuthAPICall records a call made by the client to the auth API
func (m *Metrics) RecordAuthAPICall(ctx context.Context, endpoint string, statusCode int, durationMs float64, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}

	m.AuthAPICallsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAPIEndpoint, endpoint),
		attribute.Int(AttrAPIStatus, statusCode),
		attribute.String(AttrAPIResult, result),
	))
	m.AuthAPIDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String(AttrAPIEndpoint, endpoint),
	))
}
