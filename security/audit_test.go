package security

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/rosterhub/authsession/instrumentation"
)

func TestNewAuditor(t *testing.T) {
	tests := []struct {
		name    string
		logger  *slog.Logger
		enabled bool
	}{
		{name: "enabled with logger", logger: slog.Default(), enabled: true},
		{name: "disabled with logger", logger: slog.Default(), enabled: false},
		{name: "enabled with nil logger", logger: nil, enabled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor := NewAuditor(tt.logger, tt.enabled)
			if auditor.enabled != tt.enabled {
				t.Errorf("enabled = %v, want %v", auditor.enabled, tt.enabled)
			}
			if auditor.logger == nil {
				t.Error("logger should not be nil")
			}
		})
	}
}

func TestAuditor_HashesUserID(t *testing.T) {
	var buf bytes.Buffer
	auditor := NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), true)

	auditor.LogTokenIssued("user-123@example.com")

	out := buf.String()
	if strings.Contains(out, "user-123@example.com") {
		t.Errorf("audit log contains raw user ID: %s", out)
	}
	if !strings.Contains(out, "user_id_hash="+hashForLogging("user-123@example.com")) {
		t.Errorf("audit log missing user ID hash: %s", out)
	}
	if !strings.Contains(out, "event_type="+EventTokenIssued) {
		t.Errorf("audit log missing event type: %s", out)
	}
}

func TestAuditor_Helpers(t *testing.T) {
	tests := []struct {
		name string
		log  func(a *Auditor)
		want string
	}{
		{"refreshed", func(a *Auditor) { a.LogTokenRefreshed("u1") }, EventTokenRefreshed},
		{"revoked", func(a *Auditor) { a.LogTokenRevoked("u1") }, EventTokenRevoked},
		{"all revoked", func(a *Auditor) { a.LogAllTokensRevoked("u1", "password_reset") }, EventAllTokensRevoked},
		{"auth failure", func(a *Auditor) { a.LogAuthFailure("u1", "bad_signature") }, EventAuthFailure},
		{"revoked token used", func(a *Auditor) { a.LogRevokedTokenUsed("u1") }, EventRevokedTokenUsed},
		{"rate limit", func(a *Auditor) { a.LogRateLimitExceeded("signin", "signin") }, EventRateLimitExceeded},
		{"session expired", func(a *Auditor) { a.LogSessionExpired("u1") }, EventSessionExpired},
		{"state reset", func(a *Auditor) { a.LogLocalStateReset("invalid_json") }, EventLocalStateReset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), true))
			if !strings.Contains(buf.String(), "event_type="+tt.want) {
				t.Errorf("log output = %q, want event_type=%s", buf.String(), tt.want)
			}
		})
	}
}

func TestAuditor_Disabled(t *testing.T) {
	var buf bytes.Buffer
	auditor := NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), false)

	auditor.LogTokenIssued("u1")
	if buf.Len() != 0 {
		t.Errorf("disabled auditor wrote %q", buf.String())
	}

	var nilAuditor *Auditor
	nilAuditor.LogTokenIssued("u1") // must not panic
}

func TestAuditor_CountsEvents(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	inst, err := instrumentation.New(instrumentation.Config{
		Enabled:       true,
		MeterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}

	auditor := NewAuditor(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), true)
	auditor.SetInstrumentation(inst)
	auditor.LogTokenIssued("u1")
	auditor.LogSessionExpired("u1")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok && m.Name == "session.audit.events.total" {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	if total != 2 {
		t.Errorf("audit.events.total = %d, want 2", total)
	}
}

func TestHashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(\"\") = %q, want <empty>", got)
	}
	a, b := hashForLogging("a"), hashForLogging("b")
	if len(a) != 16 || a == b {
		t.Errorf("hashForLogging() = %q, %q, want distinct 16-char hashes", a, b)
	}
}
