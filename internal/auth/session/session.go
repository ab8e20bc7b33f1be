// Package session guards the single in-flight login session. At most one
// device-authorization or PKCE login may be active at a time; starting a new
// one atomically replaces the previous, never interleaves with it.
package session

import (
	"sync"
	"time"

	"github.com/KilimcininKorOglu/kiro-account-manager/internal/auth"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/store"
)

// DeviceFlow is the in-flight state of an interactive device login.
type DeviceFlow struct {
	ClientID        string
	ClientSecret    string
	DeviceCode      string
	UserCode        string
	VerificationURI string
	Interval        int // seconds
	ExpiresAt       time.Time
	Region          string
}

// SocialFlow is the in-flight state of a PKCE social login.
type SocialFlow struct {
	Verifier  string
	Challenge string
	State     string
	Provider  store.Provider
	ExpiresAt time.Time
}

// socialFlowTTL bounds how long a PKCE callback stays redeemable.
const socialFlowTTL = 10 * time.Minute

// Slot is the single login session holder. The zero value is empty and usable.
type Slot struct {
	mu     sync.Mutex
	device *DeviceFlow
	social *SocialFlow
}

// BeginDevice installs a device flow, replacing any prior session of either kind.
func (s *Slot) BeginDevice(flow DeviceFlow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.device = &flow
	s.social = nil
}

// BeginSocial installs a social flow, replacing any prior session of either kind.
func (s *Slot) BeginSocial(flow SocialFlow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if flow.ExpiresAt.IsZero() {
		flow.ExpiresAt = time.Now().Add(socialFlowTTL)
	}
	s.social = &flow
	s.device = nil
}

// Device returns a copy of the active device flow, or ErrSessionState when
// none is active or it has expired. An expired flow is cleared.
func (s *Slot) Device() (*DeviceFlow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return nil, auth.ErrSessionState
	}
	if time.Now().After(s.device.ExpiresAt) {
		s.device = nil
		return nil, auth.ErrSessionState
	}
	flow := *s.device
	return &flow, nil
}

// SlowDown bumps the active device flow's poll interval by 5 seconds.
func (s *Slot) SlowDown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device != nil {
		s.device.Interval += 5
	}
}

// TakeSocial validates the callback state against the stored session and
// consumes the session. A mismatched state, a missing session, or an expired
// session all yield ErrSessionState, and the session is cleared either way so
// a code can never be replayed.
func (s *Slot) TakeSocial(state string) (*SocialFlow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flow := s.social
	s.social = nil
	if flow == nil {
		return nil, auth.ErrSessionState
	}
	if time.Now().After(flow.ExpiresAt) {
		return nil, auth.ErrSessionState
	}
	if flow.State != state {
		return nil, auth.ErrSessionState
	}
	return flow, nil
}

// Clear drops whatever session is active.
func (s *Slot) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.device = nil
	s.social = nil
}
