package molnus

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Common errors
var (
	// ErrInvalidConfig indicates invalid client configuration
	ErrInvalidConfig = errors.New("invalid molnus configuration")
	// ErrMissingToken indicates a login response without both tokens
	ErrMissingToken = errors.New("login succeeded but tokens missing in response")
)

// AuthError represents a failed login attempt
type AuthError struct {
	Email string
	Err   error
}

// Error implements the error interface
func (e *AuthError) Error() string {
	return fmt.Sprintf("molnus login failed for %s: %v", e.Email, e.Err)
}

// Unwrap returns the underlying cause
func (e *AuthError) Unwrap() error {
	return e.Err
}

// HTTPError represents a non-2xx response from Molnus or its CDN
type HTTPError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("molnus %s %s: status %d", e.Method, e.URL, e.StatusCode)
	if body := strings.TrimSpace(e.Body); body != "" {
		msg += ": " + body
	}
	return msg
}

// IsUnauthorized checks if the error indicates an expired or rejected token
func (e *HTTPError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsNotFound checks if the error indicates a not found response
func (e *HTTPError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// FormatError indicates the images endpoint returned an unexpected shape
type FormatError struct {
	Kind string
	Keys []string
	Err  error
}

// Error implements the error interface
func (e *FormatError) Error() string {
	msg := fmt.Sprintf("unexpected images response format: %s", e.Kind)
	if len(e.Keys) > 0 {
		msg += fmt.Sprintf(" keys=[%s]", strings.Join(e.Keys, ", "))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying decode error, if any
func (e *FormatError) Unwrap() error {
	return e.Err
}

// IsUnauthorized reports whether err carries a 401 from Molnus
func IsUnauthorized(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.IsUnauthorized()
}
