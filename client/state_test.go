package client

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{Unauthenticated, Authenticating, true},
		{Unauthenticated, Authenticated, true},
		{Unauthenticated, Validating, false},
		{Authenticating, Authenticated, true},
		{Authenticating, Refreshing, false},
		{Authenticated, Validating, true},
		{Authenticated, Refreshing, false},
		{Authenticated, Authenticating, false},
		{Validating, Refreshing, true},
		{Validating, Authenticated, true},
		{Refreshing, Validating, false},
		{Refreshing, Authenticated, true},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCanTransition_TeardownFromAnywhere(t *testing.T) {
	for _, s := range []State{Authenticating, Authenticated, Validating, Refreshing} {
		if !CanTransition(s, Unauthenticated) {
			t.Errorf("CanTransition(%s, unauthenticated) = false, want true", s)
		}
	}
}

func TestState_String(t *testing.T) {
	if got := Refreshing.String(); got != "refreshing" {
		t.Errorf("Refreshing.String() = %q, want refreshing", got)
	}
	if got := State(42).String(); got != "state(42)" {
		t.Errorf("State(42).String() = %q, want state(42)", got)
	}
}
