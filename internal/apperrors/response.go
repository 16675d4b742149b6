package apperrors

import (
	"encoding/json"
	"errors"
	"net/http"
)

// AppError pairs a machine-readable code with a human message and is the
// type services return; handlers translate it to the wire ErrorResponse.
type AppError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// New constructs an AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap constructs an AppError that preserves an underlying cause.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// WithDetails attaches structured context and returns the same error.
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// As extracts an *AppError from err, if present.
func As(err error) (*AppError, bool) {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// ErrorResponse is the standardized error shape returned to API clients:
// {error, message, details?}.
type ErrorResponse struct {
	ErrorCode ErrorCode              `json:"error"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON writes the error response with the status code derived from
// the error's code.
func WriteJSON(w http.ResponseWriter, code ErrorCode, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code.HTTPStatus())
	_ = json.NewEncoder(w).Encode(ErrorResponse{ErrorCode: code, Message: message, Details: details})
}

// WriteError writes err as a JSON error response, falling back to a generic
// internal error if err is not an *AppError.
func WriteError(w http.ResponseWriter, err error) {
	if ae, ok := As(err); ok {
		WriteJSON(w, ae.Code, ae.Message, ae.Details)
		return
	}
	WriteJSON(w, ErrCodeDBError, "internal error", nil)
}
