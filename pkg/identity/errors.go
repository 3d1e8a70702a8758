package identity

import (
	"errors"
	"net/http"
)

// Error codes
const (
	CodeInitDataMissing    = "INIT_DATA_MISSING"
	CodeUserDataMissing    = "USER_DATA_MISSING"
	CodeAuthError          = "AUTH_ERROR"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeAdminRequired      = "ADMIN_REQUIRED"
	CodeAccessDenied       = "ACCESS_DENIED"
	CodeNotFound           = "NOT_FOUND"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
)

// Error is an authentication or authorization failure with its API code
type Error struct {
	Code    string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode implements utils.CodedError
func (e *Error) ErrorCode() string {
	return e.Code
}

// HTTPStatus implements utils.CodedError
func (e *Error) HTTPStatus() int {
	return e.Status
}

func newError(code string, status int, message string, err error) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

func errInitDataMissing(err error) *Error {
	return newError(CodeInitDataMissing, http.StatusBadRequest, "initData is required", err)
}

func errUserDataMissing(err error) *Error {
	return newError(CodeUserDataMissing, http.StatusBadRequest, "No user data found in initData", err)
}

func errAuth(err error) *Error {
	return newError(CodeAuthError, http.StatusUnauthorized, "Authentication failed", err)
}

func errTokenRequired() *Error {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "Access token required", nil)
}

func errTokenExpired(err error) *Error {
	return newError(CodeTokenExpired, http.StatusUnauthorized, "Token expired", err)
}

func errInvalidToken(err error) *Error {
	return newError(CodeInvalidToken, http.StatusForbidden, "Invalid or malformed token", err)
}

func errUserUnavailable(message string) *Error {
	return newError(CodeInvalidToken, http.StatusUnauthorized, message, nil)
}

func errAdminRequired() *Error {
	return newError(CodeAdminRequired, http.StatusForbidden, "Administrator privileges required", nil)
}

func errAccessDenied() *Error {
	return newError(CodeAccessDenied, http.StatusForbidden, "Access denied: insufficient permissions", nil)
}

func errNotFound(message string) *Error {
	return newError(CodeNotFound, http.StatusNotFound, message, nil)
}

func errStorage(err error) *Error {
	return newError(CodeStorageUnavailable, http.StatusServiceUnavailable, "Storage is temporarily unavailable", err)
}

// HasCode reports whether err is an *Error with the given code
func HasCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
