package security

import (
	"testing"
	"time"
)

func TestIsExpiredAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		grace     time.Duration
		want      bool
	}{
		{name: "zero never expires", expiresAt: time.Time{}, want: false},
		{name: "future", expiresAt: now.Add(time.Minute), want: false},
		{name: "past without grace", expiresAt: now.Add(-time.Second), want: true},
		{name: "past within grace", expiresAt: now.Add(-3 * time.Second), grace: DefaultClockSkewGracePeriod, want: false},
		{name: "past beyond grace", expiresAt: now.Add(-6 * time.Second), grace: DefaultClockSkewGracePeriod, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpiredAt(now, tt.expiresAt, tt.grace); got != tt.want {
				t.Errorf("IsExpiredAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsExpiringSoon(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{name: "zero", expiresAt: time.Time{}, want: false},
		{name: "inside threshold", expiresAt: now.Add(30 * time.Second), want: true},
		{name: "outside threshold", expiresAt: now.Add(5 * time.Minute), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpiringSoon(now, tt.expiresAt, time.Minute); got != tt.want {
				t.Errorf("IsExpiringSoon() = %v, want %v", got, tt.want)
			}
		})
	}
}
