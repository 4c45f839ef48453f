// Package errs defines the error taxonomy shared by the webmax client:
// transport failures, rejected credentials, malformed frames, failing
// handlers and errors reported by the Max service itself.
package errs

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	CodeUnknown    = "UNKNOWN"
	CodeConnection = "CONNECTION"
	CodeAuth       = "AUTH"
	CodeProtocol   = "PROTOCOL"
	CodeHandler    = "HANDLER"
	CodeConfig     = "CONFIG"
	CodeAPI        = "API"
)

var (
	// ErrClosed is returned by blocking session calls after Close.
	ErrClosed = errors.New("session closed")
	// ErrNotConnected is returned when an operation needs a live connection.
	ErrNotConnected = errors.New("session not connected")
	// ErrNotAuthenticated is returned when an operation needs a logged-in session.
	ErrNotAuthenticated = errors.New("session not authenticated")
	// ErrVerifyCodeWrong matches an APIError reporting a wrong SMS code.
	ErrVerifyCodeWrong = errors.New("verify.code.wrong")
	// ErrUserNotFound matches an APIError reporting an unknown contact.
	ErrUserNotFound = errors.New("contact.not.found")
)

// ApplicationError is implemented by every coded error in this package.
type ApplicationError interface {
	error
	Code() string
	Unwrap() error
}

// Error is the coded base shared by the concrete error types.
type Error struct {
	code    string
	message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}

	return e.message
}

func (e *Error) Code() string {
	return e.code
}

func (e *Error) Unwrap() error {
	return e.err
}

// Code returns the code of the outermost ApplicationError in err's chain,
// or CodeUnknown if there is none.
func Code(err error) string {
	var appErr ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Code()
	}

	return CodeUnknown
}

// ConnectionError reports a transport-level failure. It is retryable.
type ConnectionError struct {
	base Error
}

func (e *ConnectionError) Error() string {
	return e.base.Error()
}

func (e *ConnectionError) Code() string {
	return e.base.Code()
}

func (e *ConnectionError) Unwrap() error {
	return e.base.Unwrap()
}

func NewConnectionError(message string, cause error) error {
	return &ConnectionError{
		base: Error{
			code:    CodeConnection,
			message: message,
			err:     cause,
		},
	}
}

// AuthError reports rejected credentials. It is never retried automatically.
type AuthError struct {
	base Error
}

func (e *AuthError) Error() string {
	return e.base.Error()
}

func (e *AuthError) Code() string {
	return e.base.Code()
}

func (e *AuthError) Unwrap() error {
	return e.base.Unwrap()
}

func NewAuthError(message string, cause error) error {
	return &AuthError{
		base: Error{
			code:    CodeAuth,
			message: message,
			err:     cause,
		},
	}
}

// ProtocolError reports a malformed or unexpected frame.
type ProtocolError struct {
	base Error
}

func (e *ProtocolError) Error() string {
	return e.base.Error()
}

func (e *ProtocolError) Code() string {
	return e.base.Code()
}

func (e *ProtocolError) Unwrap() error {
	return e.base.Unwrap()
}

func NewProtocolError(message string, cause error) error {
	return &ProtocolError{
		base: Error{
			code:    CodeProtocol,
			message: message,
			err:     cause,
		},
	}
}

// HandlerError wraps an error or panic escaping a user handler.
type HandlerError struct {
	base    Error
	Handler string
}

func (e *HandlerError) Error() string {
	return e.base.Error()
}

func (e *HandlerError) Code() string {
	return e.base.Code()
}

func (e *HandlerError) Unwrap() error {
	return e.base.Unwrap()
}

func NewHandlerError(handler string, cause error) error {
	return &HandlerError{
		base: Error{
			code:    CodeHandler,
			message: fmt.Sprintf("handler %s failed", handler),
			err:     cause,
		},
		Handler: handler,
	}
}

type ConfigError struct {
	base Error
}

func (e *ConfigError) Error() string {
	return e.base.Error()
}

func (e *ConfigError) Code() string {
	return e.base.Code()
}

func (e *ConfigError) Unwrap() error {
	return e.base.Unwrap()
}

func NewConfigError(message string, cause error) error {
	return &ConfigError{
		base: Error{
			code:    CodeConfig,
			message: message,
			err:     cause,
		},
	}
}

// APIError is an error payload returned by the service, e.g.
// {"error":"verify.code.wrong","title":"Wrong code"}.
type APIError struct {
	Reason  string
	Title   string
	Message string
}

func (e *APIError) Error() string {
	switch {
	case e.Title != "":
		return fmt.Sprintf("%s (%s)", e.Title, e.Reason)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Reason, e.Message)
	default:
		return e.Reason
	}
}

func (e *APIError) Code() string {
	return CodeAPI
}

func (e *APIError) Unwrap() error {
	return nil
}

// Is lets errors.Is match an APIError against the reason sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrVerifyCodeWrong, ErrUserNotFound:
		return e.Reason == target.Error()
	}
	return false
}

// IsRetryable reports whether err is worth another connection attempt.
// Authentication failures and closed sessions are permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return false
	}
	if errors.Is(err, ErrClosed) {
		return false
	}
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}
