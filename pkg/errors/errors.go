// Package errors provides the typed error taxonomy shared by the guard, the
// executor and the statistics services.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Input-validation codes. Surfaced to the caller as-is and never retried.
const (
	CodeEmptySQL          = "EMPTY_SQL"
	CodeMultiStatement    = "MULTI_STATEMENT_BLOCKED"
	CodeReadOnlyRequired  = "READ_ONLY_REQUIRED"
	CodeMutatingSQL       = "MUTATING_SQL_BLOCKED"
	CodeInvalidLiteral    = "INVALID_LITERAL"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeInvalidJSON       = "INVALID_JSON"
	CodeInvalidFilters    = "INVALID_FILTERS"
	CodeColumnNotFound    = "COLUMN_NOT_FOUND"
	CodeSchemaUnavailable = "SCHEMA_UNAVAILABLE"
)

// Execution codes.
const (
	CodeParquetNotFound   = "PARQUET_NOT_FOUND"
	CodeQueryTimeout      = "QUERY_TIMEOUT"
	CodeQueryFailed       = "QUERY_EXECUTION_FAILED"
	CodeInvalidOutput     = "INVALID_DUCKDB_OUTPUT"
	CodeEngineUnavailable = "ENGINE_UNAVAILABLE"
	CodeInternal          = "INTERNAL_ERROR"
)

// Error is a coded error with an optional cause and details.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail adds a single detail to the error.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Sentinels for errors.Is comparisons.
var (
	ErrEmptySQL         = &Error{Code: CodeEmptySQL, Message: "SQL must not be empty."}
	ErrMultiStatement   = &Error{Code: CodeMultiStatement, Message: "Only a single read-only SQL statement is allowed."}
	ErrReadOnlyRequired = &Error{Code: CodeReadOnlyRequired, Message: "Only SELECT/WITH/DESCRIBE/EXPLAIN statements are allowed."}
	ErrMutatingSQL      = &Error{Code: CodeMutatingSQL, Message: "Mutating SQL keywords are not allowed."}
	ErrInvalidLiteral   = &Error{Code: CodeInvalidLiteral, Message: "Non-finite numeric values are not supported."}
	ErrQueryTimeout     = &Error{Code: CodeQueryTimeout, Message: "query exceeded timeout"}
	ErrParquetNotFound  = &Error{Code: CodeParquetNotFound, Message: "parquet file not found"}
	ErrColumnNotFound   = &Error{Code: CodeColumnNotFound, Message: "column not found"}
)

// New creates a new Error with the given code and message.
func New(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with a formatted message.
func Newf(code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps err with a code and message. Wrap(nil, ...) returns nil.
func Wrap(err error, code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// GetCode extracts the error code from an error.
func GetCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// GetMessage extracts the error message from an error.
func GetMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// IsTimeout reports whether err is a query timeout. Timeouts are the only
// execution failures a caller may retry (with different SQL or limit).
func IsTimeout(err error) bool {
	return GetCode(err) == CodeQueryTimeout
}

// IsValidation reports whether err was raised while validating input.
func IsValidation(err error) bool {
	switch GetCode(err) {
	case CodeEmptySQL, CodeMultiStatement, CodeReadOnlyRequired, CodeMutatingSQL,
		CodeInvalidLiteral, CodeInvalidRequest, CodeInvalidJSON, CodeInvalidFilters:
		return true
	}
	return false
}

// IsExecution reports whether err is a typed execution failure.
func IsExecution(err error) bool {
	switch GetCode(err) {
	case CodeParquetNotFound, CodeQueryTimeout, CodeQueryFailed, CodeInvalidOutput:
		return true
	}
	return false
}

// HTTPStatus maps an error to the status code of the response envelope.
func HTTPStatus(err error) int {
	switch code := GetCode(err); {
	case code == CodeQueryTimeout:
		return http.StatusRequestTimeout
	case code == CodeColumnNotFound:
		return http.StatusNotFound
	case IsValidation(err), IsExecution(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
