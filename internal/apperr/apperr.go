// Package apperr defines the error taxonomy surfaced to devices and API
// callers, with a stable code per kind.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the stable error code sent on the wire
type Kind string

const (
	KindUnauthorized     Kind = "unauthorized"
	KindInvalidSignature Kind = "invalid_signature"
	KindStaleTimestamp   Kind = "stale_timestamp"
	KindDuplicateEvent   Kind = "duplicate_event"
	KindValidation       Kind = "validation_error"
	KindConflict         Kind = "conflict"
	KindNotFound         Kind = "not_found"
	KindInternal         Kind = "internal"
)

// Error is a classified failure. Err keeps the underlying cause for logs
// and is never sent to the caller.
type Error struct {
	Kind    Kind
	Message string

	DriftSeconds int64  // stale_timestamp only
	EventID      string // duplicate_event only

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Status maps the kind to an HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindUnauthorized, KindInvalidSignature:
		return http.StatusUnauthorized
	case KindStaleTimestamp, KindValidation:
		return http.StatusBadRequest
	case KindDuplicateEvent, KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may resubmit the same request.
// Only store failures qualify: nothing was durably recorded.
func (e *Error) Retryable() bool {
	return e.Kind == KindInternal
}

func Unauthorized(msg string) *Error { return &Error{Kind: KindUnauthorized, Message: msg} }

func InvalidSignature() *Error {
	return &Error{Kind: KindInvalidSignature, Message: "Invalid signature"}
}

func StaleTimestamp(drift int64) *Error {
	return &Error{Kind: KindStaleTimestamp, Message: "Timestamp out of range", DriftSeconds: drift}
}

func DuplicateEvent(existingID string) *Error {
	return &Error{Kind: KindDuplicateEvent, Message: "Duplicate event", EventID: existingID}
}

func Validation(msg string) *Error { return &Error{Kind: KindValidation, Message: msg} }

func Conflict(msg string) *Error { return &Error{Kind: KindConflict, Message: msg} }

func NotFound(msg string) *Error { return &Error{Kind: KindNotFound, Message: msg} }

func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// From classifies any error; unclassified errors become internal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("Internal server error", err)
}

// Response is the JSON body of every failed request.
type Response struct {
	OK           bool   `json:"ok"`
	Error        string `json:"error"`
	Code         Kind   `json:"code"`
	DriftSeconds *int64 `json:"drift_seconds,omitempty"`
	EventID      string `json:"event_id,omitempty"`
	Retryable    bool   `json:"retryable,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
}

// ToResponse renders err as a status code and a response body.
func ToResponse(err error, requestID string) (int, Response) {
	e := From(err)
	resp := Response{
		Error:     e.Message,
		Code:      e.Kind,
		EventID:   e.EventID,
		Retryable: e.Retryable(),
		RequestID: requestID,
	}
	if e.Kind == KindStaleTimestamp {
		drift := e.DriftSeconds
		resp.DriftSeconds = &drift
	}
	return e.Status(), resp
}
