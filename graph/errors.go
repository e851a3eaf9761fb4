/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// APIError is the base error type for non-2xx Graph API responses.
// Sub-types embed it, so errors.As(err, &apiErr) reaches the common fields.
type APIError struct {
	// StatusCode is the HTTP status code from the response.
	StatusCode int

	// Status is the HTTP status line (e.g., "400 Bad Request").
	Status string

	// Message is error.message from the response envelope.
	Message string

	// Type is error.type, e.g. "OAuthException".
	Type string

	// Code and Subcode are the numeric Graph error codes.
	Code    int
	Subcode int

	// TraceID is error.fbtrace_id, quoted in support requests.
	TraceID string

	// RetryAfter is parsed from the Retry-After header. Zero if absent.
	RetryAfter time.Duration

	// RawBody is the raw response body bytes.
	RawBody []byte
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := fmt.Sprintf("graph api error: %d", e.StatusCode)
	if e.Message != "" {
		msg += " - " + e.Message
	}
	if e.Code != 0 {
		msg += fmt.Sprintf(" (code %d", e.Code)
		if e.Subcode != 0 {
			msg += fmt.Sprintf("/%d", e.Subcode)
		}
		msg += ")"
	}
	if e.TraceID != "" {
		msg += " (fbtrace_id: " + e.TraceID + ")"
	}
	return msg
}

// AuthError is returned for HTTP 401 responses, typically an expired access token.
type AuthError struct {
	*APIError
}

// Unwrap returns the underlying APIError for errors.As traversal.
func (e *AuthError) Unwrap() error { return e.APIError }

// RateLimitError is returned for HTTP 429 responses.
type RateLimitError struct {
	*APIError
}

// Unwrap returns the underlying APIError for errors.As traversal.
func (e *RateLimitError) Unwrap() error { return e.APIError }

// ServerError is returned for HTTP 5xx responses.
type ServerError struct {
	*APIError
}

// Unwrap returns the underlying APIError for errors.As traversal.
func (e *ServerError) Unwrap() error { return e.APIError }

type errorEnvelope struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		Subcode   int    `json:"error_subcode"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

// NewAPIError builds a structured error from a failed response and its body.
func NewAPIError(resp *http.Response, body []byte) error {
	base := &APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		RawBody:    body,
	}

	var parsed errorEnvelope
	if len(body) > 0 {
		if err := json.Unmarshal(body, &parsed); err == nil {
			base.Message = parsed.Error.Message
			base.Type = parsed.Error.Type
			base.Code = parsed.Error.Code
			base.Subcode = parsed.Error.Subcode
			base.TraceID = parsed.Error.FBTraceID
		}
	}

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
			base.RetryAfter = time.Duration(seconds) * time.Second
		}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &AuthError{APIError: base}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{APIError: base}
	case resp.StatusCode >= 500:
		return &ServerError{APIError: base}
	default:
		return base
	}
}

// IsAuthError reports whether err is an authentication error (HTTP 401).
func IsAuthError(err error) bool {
	var e *AuthError
	return errors.As(err, &e)
}

// IsRateLimited reports whether err is a rate limit error (HTTP 429).
func IsRateLimited(err error) bool {
	var e *RateLimitError
	return errors.As(err, &e)
}

// IsServerError reports whether err is a server error (HTTP 5xx).
func IsServerError(err error) bool {
	var e *ServerError
	return errors.As(err, &e)
}

// errorClass names the kind of failure for log fields.
func errorClass(err error) string {
	switch {
	case IsAuthError(err):
		return "auth"
	case IsRateLimited(err):
		return "rate_limited"
	case IsServerError(err):
		return "server"
	default:
		return "request"
	}
}
