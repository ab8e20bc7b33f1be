package kiroapi

import (
	"errors"
	"net/http"
	"strings"
)

// FailureKind classifies a vendor-call failure for the orchestrator and batch
// layers. The upstream API leaks status codes through error strings, so the
// match is substring-based on purpose; keeping it here localizes the fragile
// contract to one tested function.
type FailureKind int

const (
	// FailureOther is any failure with no special handling.
	FailureOther FailureKind = iota
	// FailureAuthExpired (401) makes the orchestrator attempt one refresh.
	FailureAuthExpired
	// FailureSuspended (423 or a suspension tag) is terminal for the account.
	FailureSuspended
)

var suspensionMarkers = []string{
	"423",
	"accountsuspended",
	"account suspended",
	"suspendedexception",
}

// ClassifyError buckets an error from a vendor call. Typed StatusError codes
// win over substring matching.
func ClassifyError(err error) FailureKind {
	if err == nil {
		return FailureOther
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Code {
		case http.StatusUnauthorized:
			return FailureAuthExpired
		case http.StatusLocked:
			return FailureSuspended
		}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range suspensionMarkers {
		if strings.Contains(msg, marker) {
			return FailureSuspended
		}
	}
	if strings.Contains(msg, "401") {
		return FailureAuthExpired
	}
	return FailureOther
}
