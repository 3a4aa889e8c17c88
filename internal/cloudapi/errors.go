package cloudapi

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"syscall"
)

// ErrorType represents the category of error that occurred
type ErrorType int

const (
	// ErrTypeNetwork indicates a network-level error (connection refused, reset, etc.)
	ErrTypeNetwork ErrorType = iota
	// ErrTypeAuth indicates the cloud rejected the credentials (HTTP 401)
	ErrTypeAuth
	// ErrTypeHTTP indicates an unexpected HTTP status other than 401
	ErrTypeHTTP
	// ErrTypeParse indicates a response the client could not understand
	ErrTypeParse
	// ErrTypeTimeout indicates a request timeout
	ErrTypeTimeout
	// ErrTypeDNS indicates a DNS resolution failure
	ErrTypeDNS
)

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeNetwork:
		return "Network Error"
	case ErrTypeAuth:
		return "Authentication Error"
	case ErrTypeHTTP:
		return "HTTP Error"
	case ErrTypeParse:
		return "Parse Error"
	case ErrTypeTimeout:
		return "Timeout"
	case ErrTypeDNS:
		return "DNS Error"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// APIError is returned by every Client call that fails.
type APIError struct {
	Type       ErrorType // Category of error
	Message    string    // Human-readable error message
	StatusCode int       // HTTP status code (if applicable)
	Endpoint   string    // Path of the API call, without query
	Err        error     // Underlying error (if any)
	Retryable  bool      // Whether another attempt may succeed
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error chain inspection
func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyNetworkError maps a transport error onto an APIError.
func classifyNetworkError(message string, err error) *APIError {
	if os.IsTimeout(err) {
		return &APIError{Type: ErrTypeTimeout, Message: message, Err: err, Retryable: true}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		// Temporary resolver failures are worth another attempt, NXDOMAIN is not.
		return &APIError{Type: ErrTypeDNS, Message: message, Err: err, Retryable: dnsErr.IsTemporary || dnsErr.IsTimeout}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && errors.Is(opErr.Err, syscall.ECONNREFUSED) {
		return &APIError{Type: ErrTypeNetwork, Message: message + ": connection refused", Err: err, Retryable: true}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil && urlErr.Err != err {
		return classifyNetworkError(message, urlErr.Err)
	}

	return &APIError{Type: ErrTypeNetwork, Message: message, Err: err, Retryable: true}
}

// NewNetworkError creates a network-level error with automatic classification
func NewNetworkError(message string, err error) *APIError {
	if err == nil {
		return &APIError{Type: ErrTypeNetwork, Message: message, Retryable: true}
	}
	return classifyNetworkError(message, err)
}

// NewAuthError creates an authentication error. It is never retried.
func NewAuthError(message string) *APIError {
	return &APIError{
		Type:       ErrTypeAuth,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
		Retryable:  false,
	}
}

// NewHTTPError creates an HTTP-level error. The cloud answers transient
// overload with a variety of codes, so every status other than 401 is retried.
func NewHTTPError(statusCode int, message string) *APIError {
	return &APIError{
		Type:       ErrTypeHTTP,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  statusCode != http.StatusUnauthorized,
	}
}

// NewParseError creates a parsing error
func NewParseError(message string, err error) *APIError {
	return &APIError{
		Type:      ErrTypeParse,
		Message:   message,
		Err:       err,
		Retryable: false,
	}
}

// IsNetworkError checks if an error is a network error (including timeout and DNS)
func IsNetworkError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Type == ErrTypeNetwork ||
			apiErr.Type == ErrTypeTimeout ||
			apiErr.Type == ErrTypeDNS
	}
	return false
}

// IsAuthError checks if an error is an authentication error
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Type == ErrTypeAuth
}

// IsParseError checks if an error is a parse error
func IsParseError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Type == ErrTypeParse
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	// Unknown errors are not retryable by default
	return false
}

// ShortMessage returns a concise, user-facing description of err.
func ShortMessage(err error) string {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err.Error()
	}

	switch apiErr.Type {
	case ErrTypeAuth:
		return "Login rejected - check username and password"
	case ErrTypeTimeout:
		return "Ryobi cloud not responding (timeout)"
	case ErrTypeDNS:
		return "Cannot resolve the Ryobi cloud hostname"
	case ErrTypeNetwork:
		return "Network error - check your internet connection"
	case ErrTypeHTTP:
		return fmt.Sprintf("Ryobi cloud error (HTTP %d)", apiErr.StatusCode)
	case ErrTypeParse:
		return "Unexpected response from the Ryobi cloud"
	default:
		return apiErr.Message
	}
}
