// Package auth holds the result and error types shared by the identity
// provider adapters.
package auth

import "errors"

// Sentinel errors for the device-authorization polling loop.
var (
	ErrAuthorizationPending = errors.New("authorization_pending")
	ErrSlowDown             = errors.New("slow_down")
	ErrExpiredToken         = errors.New("expired_token")
	ErrAccessDenied         = errors.New("access_denied")
	ErrAuthorizationTimeout = errors.New("authorization timed out")
)

// ErrSessionState marks a login attempt whose session state is invalid:
// mismatched PKCE state, absent or expired login session.
var ErrSessionState = errors.New("invalid login session state")

// TokenResult is the normalized shape every adapter returns on success.
// RefreshToken may equal the input token when the provider does not rotate.
type TokenResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int // seconds
}
