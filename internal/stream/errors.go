// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"strconv"

	"github.com/pkg/errors"
)

// =============================================================================
// SEND ERRORS
// =============================================================================

// Kind categorizes why a send did not complete normally.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNotFound: the session does not exist. Nothing was written.
	KindNotFound
	// KindNetworkFailure: the backend was unreachable. The user message is persisted.
	KindNetworkFailure
	// KindBadResponse: non-success status or no body. The user message is persisted.
	KindBadResponse
	// KindBusy: another send for the same session is still in flight. Nothing was written.
	KindBusy
)

// SendError is returned by Service.Send for every failed outcome.
type SendError struct {
	Kind      Kind
	SessionID string
	// Status is the HTTP status for KindBadResponse.
	Status int
	Cause  error
}

func (e *SendError) Error() string {
	var msg string
	switch e.Kind {
	case KindNotFound:
		msg = "session not found"
	case KindNetworkFailure:
		msg = "backend unreachable"
	case KindBadResponse:
		msg = "backend returned HTTP " + strconv.Itoa(e.Status)
	case KindBusy:
		msg = "a reply is already streaming for this session"
	default:
		msg = "send failed"
	}
	if e.SessionID != "" {
		msg += " (session " + e.SessionID + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *SendError) Unwrap() error {
	return e.Cause
}

// Is matches any SendError of the same Kind, so the sentinels below work
// with errors.Is.
func (e *SendError) Is(target error) bool {
	t, ok := target.(*SendError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinel errors for errors.Is checks.
var (
	ErrNotFound       = &SendError{Kind: KindNotFound}
	ErrNetworkFailure = &SendError{Kind: KindNetworkFailure}
	ErrBadResponse    = &SendError{Kind: KindBadResponse}
	ErrBusy           = &SendError{Kind: KindBusy}
)

// Outcome renders the result of Send as a short token: "ok", "NotFound",
// "NetworkFailure", "BadResponse:<status>", "Busy", or "Error" for
// anything else.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var se *SendError
	if !errors.As(err, &se) {
		return "Error"
	}
	switch se.Kind {
	case KindNotFound:
		return "NotFound"
	case KindNetworkFailure:
		return "NetworkFailure"
	case KindBadResponse:
		return "BadResponse:" + strconv.Itoa(se.Status)
	case KindBusy:
		return "Busy"
	default:
		return "Error"
	}
}
