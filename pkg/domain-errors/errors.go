// Package domainerrors provides coded domain errors. Services return these
// so transports can map failures to responses without string matching, and
// so tests can assert on the failure kind instead of message text.
//
// Call sites import it under the dErrors alias.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain failure.
type Code string

const (
	// Generic codes.
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeUnauthorized Code = "unauthorized"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeInternal     Code = "internal"

	// Engine-specific codes, one per documented error kind.
	CodeInvalidNonce         Code = "invalid_nonce"
	CodeInvalidAmount        Code = "invalid_amount"
	CodeInvalidTransition    Code = "invalid_transition"
	CodeInvalidMilestonePlan Code = "invalid_milestone_plan"
	CodeRegistrationClosed   Code = "registration_closed"
	CodeAllocationClosed     Code = "allocation_closed"
	CodeStaleReview          Code = "stale_review"
	CodeInsufficientFunds    Code = "insufficient_funds"
	CodeTransferFailed       Code = "transfer_failed"
	CodeRecipientNotAccepted Code = "recipient_not_accepted"
	CodeMilestoneNotAccepted Code = "milestone_not_accepted"
	CodeAnchorRequired       Code = "anchor_required"
	CodeMissingMetadata      Code = "missing_metadata"
)

// Error is a coded domain error. It wraps an optional cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf builds a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. If err is nil,
// Wrap returns nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.cause
		if err == nil {
			return false
		}
	}
	return false
}

// CodeOf returns the outermost code on err, or CodeInternal when err carries
// none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code onto the closest HTTP status. Transport-only
// helper; services never see status codes.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeInvalidInput, CodeInvalidAmount, CodeMissingMetadata, CodeInvalidMilestonePlan:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeAnchorRequired:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeInvalidNonce, CodeInvalidTransition, CodeStaleReview,
		CodeRecipientNotAccepted, CodeMilestoneNotAccepted:
		return http.StatusConflict
	case CodeRegistrationClosed, CodeAllocationClosed:
		return http.StatusUnprocessableEntity
	case CodeInsufficientFunds, CodeTransferFailed:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}
