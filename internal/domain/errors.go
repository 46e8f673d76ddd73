package domain

import (
	"errors"
	"fmt"
	"time"
)

// Category sentinels.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrInvalidInput = fmt.Errorf("invalid input")
)

// Sentinel errors for the domain layer.
var (
	ErrConfirmationRequired = fmt.Errorf("confirmation required")
	ErrConsentRequired      = fmt.Errorf("user consent required")
	ErrRateLimit            = fmt.Errorf("rate limit exceeded")
	ErrStorage              = fmt.Errorf("storage operation failed")
	ErrConfigLoad           = fmt.Errorf("failed to load configuration")
	ErrEncryption           = fmt.Errorf("encryption operation failed")
	ErrDecryption           = fmt.Errorf("decryption failed")
	ErrAuditWrite           = fmt.Errorf("audit log write failed")
	ErrAuditTampered        = fmt.Errorf("audit log integrity check failed")
	ErrUnsupportedFormat    = fmt.Errorf("unsupported export format")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "GDPRHandler.DeleteUserData")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// RateLimitError reports an exhausted quota for one (user, operation) pair.
// It matches ErrRateLimit under errors.Is.
type RateLimitError struct {
	UserID     int64
	Operation  Operation
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: %d %s operations per %s for user %d, retry in %s",
		ErrRateLimit, e.Limit, e.Operation, e.Window, e.UserID, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimit }

// IsPreconditionError reports whether err is one of the precondition failures
// (confirmation, rate limit, consent) raised before any data is touched.
func IsPreconditionError(err error) bool {
	return errors.Is(err, ErrConfirmationRequired) ||
		errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrConsentRequired)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown              ErrorCode = "UNKNOWN"
	CodeNotFound             ErrorCode = "NOT_FOUND"
	CodeInvalidInput         ErrorCode = "INVALID_INPUT"
	CodeConfirmationRequired ErrorCode = "CONFIRMATION_REQUIRED"
	CodeConsentRequired      ErrorCode = "CONSENT_REQUIRED"
	CodeRateLimit            ErrorCode = "RATE_LIMIT"
	CodeStorage              ErrorCode = "STORAGE"
	CodeConfigLoad           ErrorCode = "CONFIG_LOAD"
	CodeEncryption           ErrorCode = "ENCRYPTION"
	CodeDecryption           ErrorCode = "DECRYPTION"
	CodeAuditWrite           ErrorCode = "AUDIT_WRITE"
	CodeAuditTampered        ErrorCode = "AUDIT_TAMPERED"
	CodeUnsupportedFormat    ErrorCode = "UNSUPPORTED_FORMAT"
)

// errorCodeOrder is the order in which wrapped sentinels are matched: the
// precondition failures first, then the more specific failures before the
// storage wrapper that often carries them.
var errorCodeOrder = []error{
	ErrConfirmationRequired,
	ErrRateLimit,
	ErrConsentRequired,
	ErrAuditTampered,
	ErrAuditWrite,
	ErrDecryption,
	ErrEncryption,
	ErrUnsupportedFormat,
	ErrConfigLoad,
	ErrNotFound,
	ErrInvalidInput,
	ErrStorage,
}

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:             CodeNotFound,
	ErrInvalidInput:         CodeInvalidInput,
	ErrConfirmationRequired: CodeConfirmationRequired,
	ErrConsentRequired:      CodeConsentRequired,
	ErrRateLimit:            CodeRateLimit,
	ErrStorage:              CodeStorage,
	ErrConfigLoad:           CodeConfigLoad,
	ErrEncryption:           CodeEncryption,
	ErrDecryption:           CodeDecryption,
	ErrAuditWrite:           CodeAuditWrite,
	ErrAuditTampered:        CodeAuditTampered,
	ErrUnsupportedFormat:    CodeUnsupportedFormat,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for _, sentinel := range errorCodeOrder {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e)
}
