// Package logging provides operation ID context propagation so related log
// lines from one batch or login flow can be correlated.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type contextKey string

const opIDKey contextKey = "opId"

// NewOpID creates an operation ID of the form "<op>-<8 hex chars>", so the
// operation kind stays readable in every correlated log line. An empty op
// yields the bare hex suffix.
func NewOpID(op string) string {
	b := make([]byte, 4)
	rand.Read(b)
	suffix := hex.EncodeToString(b)
	if op == "" {
		return suffix
	}
	return op + "-" + suffix
}

// WithOpID injects an operation ID into the context.
func WithOpID(ctx context.Context, opID string) context.Context {
	return context.WithValue(ctx, opIDKey, opID)
}

// GetOpID retrieves the operation ID from the context.
// Returns empty string if not found.
func GetOpID(ctx context.Context) string {
	if id, ok := ctx.Value(opIDKey).(string); ok {
		return id
	}
	return ""
}
