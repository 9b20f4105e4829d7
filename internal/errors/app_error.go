// Package errors defines the structured error values returned by the playground
// API and the classification of OAuth error responses returned by the provider.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// AppError represents a structured application error.
type AppError struct {
	// HTTPStatusCode is the HTTP status code to return.
	HTTPStatusCode int `json:"-"`
	// Code is an internal error code string.
	Code string `json:"code"`
	// Message is the user-facing error message.
	Message string `json:"message"`
	// Hint is a friendlier explanation shown in the wizard toast (optional).
	Hint string `json:"hint,omitempty"`
	// Details provides additional error context (optional).
	Details map[string]interface{} `json:"details,omitempty"`
	// Err is the underlying error (not marshaled to JSON).
	Err error `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// ToJSON returns the JSON byte representation of the error.
func (e *AppError) ToJSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// WithDetail attaches a key/value pair to Details and returns the error.
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError.
func New(statusCode int, code, message string, err error) *AppError {
	return &AppError{
		HTTPStatusCode: statusCode,
		Code:           code,
		Message:        message,
		Err:            err,
	}
}

// BadRequest is shorthand for a 400 AppError.
func BadRequest(code, message string, err error) *AppError {
	return New(http.StatusBadRequest, code, message, err)
}

// NotFound is shorthand for a 404 AppError.
func NotFound(code, message string) *AppError {
	return New(http.StatusNotFound, code, message, nil)
}

// FromError converts any error into an AppError. OAuth errors from the
// provider keep their error code and get a friendly hint; everything else
// becomes a 502 upstream failure unless it already is an AppError.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	var oauthErr *OAuthError
	if stderrors.As(err, &oauthErr) {
		status := oauthErr.StatusCode
		if status < 400 {
			status = http.StatusBadGateway
		}
		out := New(status, oauthErr.Code, oauthErr.Error(), err)
		out.Hint = FriendlyMessage(oauthErr.Code)
		if oauthErr.URI != "" {
			out.WithDetail("error_uri", oauthErr.URI)
		}
		return out
	}
	return New(http.StatusBadGateway, "upstream_error", "provider request failed", err)
}
