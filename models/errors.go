package models

import (
	"errors"
	"fmt"
	"strings"
)

// SessionErrorCode enumerates session and environment failures.
type SessionErrorCode string

const (
	ErrCodeEnvironmentNotSupported SessionErrorCode = "ENVIRONMENT_NOT_SUPPORTED"
	ErrCodeSessionNotFound         SessionErrorCode = "SESSION_NOT_FOUND"
	ErrCodeSessionAlreadyExists    SessionErrorCode = "SESSION_ALREADY_EXISTS"
	ErrCodeSessionAlreadyCompleted SessionErrorCode = "SESSION_ALREADY_COMPLETED"
	ErrCodeSessionNotActive        SessionErrorCode = "SESSION_NOT_ACTIVE"
	ErrCodeAssessmentTypeNotFound  SessionErrorCode = "ASSESSMENT_TYPE_NOT_FOUND"
)

// SessionError carries the session (or assessment type) the failure refers to.
type SessionError struct {
	Code             SessionErrorCode
	SessionID        string
	AssessmentTypeID string
	Message          string
}

func (e *SessionError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.SessionID != "" {
		fmt.Fprintf(&b, " (session %s)", e.SessionID)
	}
	if e.AssessmentTypeID != "" {
		fmt.Fprintf(&b, " (assessment type %s)", e.AssessmentTypeID)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Is matches any *SessionError with the same code, so errors.Is(err, ErrSessionNotFound) works.
func (e *SessionError) Is(target error) bool {
	var t *SessionError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// Code sentinels for errors.Is.
var (
	ErrEnvironmentNotSupported = &SessionError{Code: ErrCodeEnvironmentNotSupported}
	ErrSessionNotFound         = &SessionError{Code: ErrCodeSessionNotFound}
	ErrSessionAlreadyExists    = &SessionError{Code: ErrCodeSessionAlreadyExists}
	ErrSessionAlreadyCompleted = &SessionError{Code: ErrCodeSessionAlreadyCompleted}
	ErrSessionNotActive        = &SessionError{Code: ErrCodeSessionNotActive}
	ErrAssessmentTypeNotFound  = &SessionError{Code: ErrCodeAssessmentTypeNotFound}
)

// NewSessionError builds a SessionError for one session.
func NewSessionError(code SessionErrorCode, sessionID, msg string) *SessionError {
	return &SessionError{Code: code, SessionID: sessionID, Message: msg}
}

// StorageErrorCode enumerates persistence failures.
type StorageErrorCode string

const (
	ErrCodeQuotaExceeded StorageErrorCode = "QUOTA_EXCEEDED"
	ErrCodeSaveFailed    StorageErrorCode = "SAVE_FAILED"
	ErrCodeNotAvailable  StorageErrorCode = "NOT_AVAILABLE"
)

// StorageError wraps a failure of the storage layer.
type StorageError struct {
	Code   StorageErrorCode
	Bucket string
	Err    error
}

func (e *StorageError) Error() string {
	msg := string(e.Code)
	if e.Bucket != "" {
		msg += " [" + e.Bucket + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is matches any *StorageError with the same code.
func (e *StorageError) Is(target error) bool {
	var t *StorageError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

var (
	ErrQuotaExceeded       = &StorageError{Code: ErrCodeQuotaExceeded}
	ErrSaveFailed          = &StorageError{Code: ErrCodeSaveFailed}
	ErrStorageNotAvailable = &StorageError{Code: ErrCodeNotAvailable}
)

// ValidationErrorCode enumerates answer validation failures.
type ValidationErrorCode string

const (
	ErrCodeRequiredMissing ValidationErrorCode = "REQUIRED_MISSING"
	ErrCodeOutOfRange      ValidationErrorCode = "OUT_OF_RANGE"
	ErrCodeInvalidOption   ValidationErrorCode = "INVALID_OPTION"
	ErrCodeWrongType       ValidationErrorCode = "WRONG_TYPE"
)

// ValidationError describes why an answer was rejected. It is returned inside a
// ValidationResult rather than as a Go error so callers can render it inline.
type ValidationError struct {
	Code       ValidationErrorCode `json:"code"`
	QuestionID string              `json:"question_id"`
	Message    string              `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s (question %s): %s", e.Code, e.QuestionID, e.Message)
}

// ValidationResult is the non-throwing outcome of answer validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// HasCode reports whether any error carries code.
func (r ValidationResult) HasCode(code ValidationErrorCode) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// Lookup and request errors that are not part of the session taxonomy.
var (
	ErrResultNotFound          = errors.New("result not found")
	ErrQuestionIndexOutOfRange = errors.New("question index out of range")
	ErrUnsupportedExportFormat = errors.New("unsupported export format")
)
