/*
Copyright 2026 The DocFusion Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package errors defines the structured error taxonomy shared by every
// component of the coordination core. Components never use exceptions
// or panics for control flow; they return an *AppError (or wrap one)
// so callers can branch on Type without string matching.
package errors

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorType classifies an AppError for HTTP mapping, retry policy, and
// webhook/status surfacing. Values below spec.md §7's kinds alongside
// the generic taxonomy every component shares.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeDatabase   ErrorType = "database"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeRateLimit  ErrorType = "rate_limit"

	// Domain kinds, spec.md §7.
	ErrorTypeInputRejected        ErrorType = "input_rejected"
	ErrorTypeExtractorUnavailable ErrorType = "extractor_unavailable"
	ErrorTypeExtractorTimeout    ErrorType = "extractor_timeout"
	ErrorTypeExtractorError      ErrorType = "extractor_error"
	ErrorTypeComparatorError     ErrorType = "comparator_error"
	ErrorTypeMergeUnresolved     ErrorType = "merge_unresolved"
	ErrorTypeJobTimeout          ErrorType = "job_timeout"
	ErrorTypeTransientStateStore ErrorType = "transient_state_store"
	ErrorTypeWebhookDeliveryFailed ErrorType = "webhook_delivery_failed"
)

// AppError is the structured error every component returns.
type AppError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Details    string
	Cause      error
}

func New(t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodeFor(t),
	}
}

func Wrap(cause error, t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodeFor(t),
		Cause:      cause,
	}
}

func Wrapf(cause error, t ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails annotates the error in place and returns the same pointer,
// so call sites can chain `errors.New(...).WithDetails(...)`.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

func statusCodeFor(t ErrorType) int {
	switch t {
	case ErrorTypeValidation, ErrorTypeInputRejected:
		return http.StatusBadRequest
	case ErrorTypeAuth:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeTimeout, ErrorTypeExtractorTimeout, ErrorTypeJobTimeout:
		return http.StatusRequestTimeout
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeDatabase, ErrorTypeNetwork, ErrorTypeInternal,
		ErrorTypeExtractorUnavailable, ErrorTypeExtractorError,
		ErrorTypeComparatorError, ErrorTypeMergeUnresolved,
		ErrorTypeTransientStateStore, ErrorTypeWebhookDeliveryFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Predefined constructors mirroring the most common call sites.

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

func NewDatabaseError(operation string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeDatabase, "database operation failed: %s", operation)
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource))
}

func NewAuthError(message string) *AppError {
	return New(ErrorTypeAuth, message)
}

func NewTimeoutError(operation string) *AppError {
	return New(ErrorTypeTimeout, fmt.Sprintf("operation timed out: %s", operation))
}

// NewInputRejectedError reports a rejected submission: bad source,
// oversized payload, unsupported MIME type.
func NewInputRejectedError(reason string) *AppError {
	return New(ErrorTypeInputRejected, reason)
}

// NewExtractorUnavailableError reports that every requested extractor
// failed its availability gate.
func NewExtractorUnavailableError(requested []string) *AppError {
	return New(ErrorTypeExtractorUnavailable,
		fmt.Sprintf("no requested extractor is available: %s", strings.Join(requested, ", ")))
}

// NewMergeUnresolvedError reports hard divergences still outstanding
// after a merge attempt. Not a failure: it routes to NEEDS_REVIEW.
func NewMergeUnresolvedError(unresolved int) *AppError {
	return New(ErrorTypeMergeUnresolved, fmt.Sprintf("%d divergence(s) require arbitration", unresolved))
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, t ErrorType) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Type == t
}

// GetType extracts the ErrorType of err, defaulting to ErrorTypeInternal
// for errors that aren't *AppError.
func GetType(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode extracts the HTTP status code for err.
func GetStatusCode(err error) int {
	if appErr, ok := err.(*AppError); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// ErrorMessages holds the user-facing text for error types whose
// internal Message may carry sensitive detail.
var ErrorMessages = struct {
	ResourceNotFound       string
	AuthenticationFailed   string
	OperationTimeout       string
	RateLimitExceeded      string
	ConcurrentModification string
}{
	ResourceNotFound:       "The requested resource was not found",
	AuthenticationFailed:   "Authentication failed",
	OperationTimeout:       "The operation timed out",
	RateLimitExceeded:      "Rate limit exceeded, please retry later",
	ConcurrentModification: "The resource was modified concurrently, please retry",
}

// SafeErrorMessage returns a message safe to surface to a caller:
// validation and input-rejected errors pass their message through verbatim (they already
// describe what the caller did wrong); every other AppError type maps
// to a generic, non-leaking message; anything else is fully opaque.
func SafeErrorMessage(err error) string {
	appErr, ok := err.(*AppError)
	if !ok {
		return "An unexpected error occurred"
	}
	switch appErr.Type {
	case ErrorTypeValidation, ErrorTypeInputRejected:
		return appErr.Message
	case ErrorTypeNotFound:
		return ErrorMessages.ResourceNotFound
	case ErrorTypeAuth:
		return ErrorMessages.AuthenticationFailed
	case ErrorTypeTimeout, ErrorTypeExtractorTimeout, ErrorTypeJobTimeout:
		return ErrorMessages.OperationTimeout
	case ErrorTypeRateLimit:
		return ErrorMessages.RateLimitExceeded
	case ErrorTypeConflict:
		return ErrorMessages.ConcurrentModification
	default:
		return "An internal error occurred"
	}
}

// LogFields renders err as structured logging fields.
func LogFields(err error) map[string]interface{} {
	fields := map[string]interface{}{
		"error": err.Error(),
	}
	appErr, ok := err.(*AppError)
	if !ok {
		return fields
	}
	fields["error_type"] = string(appErr.Type)
	fields["status_code"] = appErr.StatusCode
	if appErr.Details != "" {
		fields["error_details"] = appErr.Details
	}
	if appErr.Cause != nil {
		fields["underlying_error"] = appErr.Cause.Error()
	}
	return fields
}

// Chain combines non-nil errors into a single error whose message
// joins each constituent with " -> ". Nil inputs are filtered; a
// single surviving error is returned unwrapped; zero surviving errors
// returns nil.
func Chain(errs ...error) error {
	var msgs []string
	var kept []error
	for _, err := range errs {
		if err == nil {
			continue
		}
		kept = append(kept, err)
		msgs = append(msgs, err.Error())
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return fmt.Errorf("%s", strings.Join(msgs, " -> "))
	}
}
