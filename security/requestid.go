package security

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"regexp"
)

// requestIDContextKey is the context key for storing request IDs
type requestIDContextKey struct{}

// RequestIDHeader is the HTTP header carrying the request ID to the Auth API
const RequestIDHeader = "X-Request-ID"

// requestIDPattern rejects IDs that could inject into a header.
// Allows: alphanumeric, hyphens, underscores (1-128 chars).
var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// GenerateRequestID generates a random 22-character base64url request ID.
// It panics if the system's random number generator fails.
func GenerateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand.Read failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDContextKey{}).(string); ok {
		return requestID
	}
	return ""
}

// RequestIDFor returns the valid request ID carried by ctx, or a fresh one
func RequestIDFor(ctx context.Context) string {
	if id := GetRequestID(ctx); IsValidRequestID(id) {
		return id
	}
	return GenerateRequestID()
}

// IsValidRequestID reports whether requestID is safe to send as a header value
func IsValidRequestID(requestID string) bool {
	return requestIDPattern.MatchString(requestID)
}
