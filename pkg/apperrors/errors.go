// Package apperrors provides application-level errors carrying a stable code
// that protocol encoders surface to callers.
package apperrors

import "fmt"

// AppError represents an application-level error with a code and optional cause
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Code extracts the error code from err, or ErrCodeInternal if err is not an
// AppError anywhere in its chain.
func Code(err error) string {
	for err != nil {
		if app, ok := err.(*AppError); ok {
			return app.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ErrCodeInternal
}

// Error codes
const (
	ErrCodeSessionNotFound = "SESSION_NOT_FOUND"
	ErrCodeSessionClosed   = "SESSION_CLOSED"
	ErrCodeAgentError      = "AGENT_ERROR"
	ErrCodeBackendSpawn    = "BACKEND_SPAWN_FAILED"
	ErrCodeEncoderFailed   = "ENCODER_FAILED"
	ErrCodeStoreFailed     = "STORE_FAILED"
	ErrCodeInvalidInput    = "INVALID_INPUT"
	ErrCodeInternal        = "INTERNAL_ERROR"
)
