package security

import (
	"context"
	"testing"
)

func TestGenerateRequestID(t *testing.T) {
	id := GenerateRequestID()
	if len(id) != 22 {
		t.Errorf("len(GenerateRequestID()) = %d, want 22", len(id))
	}
	if !IsValidRequestID(id) {
		t.Errorf("generated ID %q is not valid", id)
	}
	if GenerateRequestID() == id {
		t.Error("GenerateRequestID() repeated an ID")
	}
}

func TestRequestIDFor(t *testing.T) {
	tests := []struct {
		name     string
		ctxID    string
		wantSame bool
	}{
		{name: "valid id is propagated", ctxID: "req-123_abc", wantSame: true},
		{name: "header injection is replaced", ctxID: "bad\r\nX-Evil: 1", wantSame: false},
		{name: "missing id is generated", ctxID: "", wantSame: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.ctxID != "" {
				ctx = WithRequestID(ctx, tt.ctxID)
			}

			got := RequestIDFor(ctx)
			if (got == tt.ctxID) != tt.wantSame {
				t.Errorf("RequestIDFor() = %q, ctx ID %q, wantSame %v", got, tt.ctxID, tt.wantSame)
			}
			if !IsValidRequestID(got) {
				t.Errorf("RequestIDFor() = %q is not a valid request ID", got)
			}
		})
	}
}
