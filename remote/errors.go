// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrRejected matches errors for requests the server refused on their
// merits. Retrying the same request will not succeed.
var ErrRejected = errors.New("rejected by remote")

// APIError is a non-2xx response from the system of record
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Code       string // ErrorResponse.Error
	Message    string // ErrorResponse.Message or raw body
}

func (e *APIError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	return fmt.Sprintf("%s %s: server returned status %d: %s", e.Method, e.Path, e.StatusCode, msg)
}

// Permanent reports whether the status means the request itself is bad.
// Server errors, timeouts, throttling and authentication failures are
// transient: the same request may succeed later.
func (e *APIError) Permanent() bool {
	switch {
	case e.StatusCode >= 500:
		return false
	case e.StatusCode == http.StatusRequestTimeout,
		e.StatusCode == http.StatusTooManyRequests,
		e.StatusCode == http.StatusUnauthorized,
		e.StatusCode == http.StatusForbidden:
		return false
	default:
		return e.StatusCode >= 400
	}
}

// Is lets errors.Is(err, ErrRejected) match permanent API errors.
func (e *APIError) Is(target error) bool {
	return target == ErrRejected && e.Permanent()
}

// IsRejected reports whether err is a permanent rejection by the remote
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// IsAuthError reports whether err is an authentication or authorization
// failure (HTTP 401/403)
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
}
