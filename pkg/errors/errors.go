package errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidToken       = errors.New("invalid token")
	ErrVerificationFailed = errors.New("verification failed")
	ErrNoRoute            = errors.New("no routing rule")
	ErrNoConnection       = errors.New("no active page connection")
	ErrRawLeadNotFound    = errors.New("raw lead not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrMaterialization    = errors.New("materialization failed")
	ErrDispatch           = errors.New("dispatch failed")
	ErrLeadFetch          = errors.New("lead fetch failed")
	ErrQueueClosed        = errors.New("queue closed")
	ErrQueueFull          = errors.New("queue full")
	ErrAlreadyClaimed     = errors.New("raw lead already claimed")
	ErrLeadFailed         = errors.New("raw lead failed")
	ErrAwaitingConnection = errors.New("raw lead waiting for page connection")
)

// AppError represents an application error with context
type AppError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new application error
func NewAppError(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// UserMessage returns the text shown to tenants for a processing failure.
// AppError messages are written for humans, so they win over the raw chain.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return err.Error()
}
