package utils

import (
	"errors"
	"net/http"
	"strconv"

	"teamboard-backend/pkg/database"
	"teamboard-backend/pkg/logger"

	"github.com/go-chi/render"
)

// APIResponse is the envelope of every JSON response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`

	status int
}

// Render implements render.Renderer
func (resp *APIResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, resp.status)
	return nil
}

// APIError describes a failure
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Meta carries pagination for list responses
type Meta struct {
	Total  int `json:"total"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// CodedError is implemented by errors that know their API code and status
type CodedError interface {
	error
	ErrorCode() string
	HTTPStatus() int
}

// WriteJSONResponse writes data in a success envelope
func WriteJSONResponse(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	render.Render(w, r, &APIResponse{
		Success: statusCode >= 200 && statusCode < 300,
		Data:    data,
		status:  statusCode,
	})
}

// WriteSuccessResponse writes 200 with data
func WriteSuccessResponse(w http.ResponseWriter, r *http.Request, data interface{}) {
	WriteJSONResponse(w, r, http.StatusOK, data)
}

// WriteCreatedResponse writes 201 with data
func WriteCreatedResponse(w http.ResponseWriter, r *http.Request, data interface{}) {
	WriteJSONResponse(w, r, http.StatusCreated, data)
}

// WriteListResponse writes a list with pagination meta
func WriteListResponse(w http.ResponseWriter, r *http.Request, data interface{}, total, limit, offset int) {
	render.Render(w, r, &APIResponse{
		Success: true,
		Data:    data,
		Meta:    &Meta{Total: total, Limit: limit, Offset: offset},
		status:  http.StatusOK,
	})
}

// WriteErrorResponseWithCode writes an error envelope
func WriteErrorResponseWithCode(w http.ResponseWriter, r *http.Request, statusCode int, code, message, details string) {
	render.Render(w, r, &APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		status: statusCode,
	})
}

// WriteBadRequestResponse writes 400 BAD_REQUEST
func WriteBadRequestResponse(w http.ResponseWriter, r *http.Request, message string) {
	WriteErrorResponseWithCode(w, r, http.StatusBadRequest, "BAD_REQUEST", message, "")
}

// WriteUnauthorizedResponse writes 401 UNAUTHORIZED
func WriteUnauthorizedResponse(w http.ResponseWriter, r *http.Request, message string) {
	WriteErrorResponseWithCode(w, r, http.StatusUnauthorized, "UNAUTHORIZED", message, "")
}

// WriteForbiddenResponse writes 403 FORBIDDEN
func WriteForbiddenResponse(w http.ResponseWriter, r *http.Request, message string) {
	WriteErrorResponseWithCode(w, r, http.StatusForbidden, "FORBIDDEN", message, "")
}

// WriteNotFoundResponse writes 404 NOT_FOUND
func WriteNotFoundResponse(w http.ResponseWriter, r *http.Request, message string) {
	WriteErrorResponseWithCode(w, r, http.StatusNotFound, "NOT_FOUND", message, "")
}

// WriteInternalServerErrorResponse writes 500 INTERNAL_SERVER_ERROR
func WriteInternalServerErrorResponse(w http.ResponseWriter, r *http.Request, message string) {
	WriteErrorResponseWithCode(w, r, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", message, "")
}

// WriteValidationErrorResponse writes 400 VALIDATION_ERROR
func WriteValidationErrorResponse(w http.ResponseWriter, r *http.Request, message string, details string) {
	WriteErrorResponseWithCode(w, r, http.StatusBadRequest, "VALIDATION_ERROR", message, details)
}

// WriteError maps err onto an error envelope. Coded errors keep their code
// and status; store errors get fixed codes; anything else is a 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var coded CodedError
	switch {
	case errors.As(err, &coded):
		WriteErrorResponseWithCode(w, r, coded.HTTPStatus(), coded.ErrorCode(), coded.Error(), "")
	case errors.Is(err, database.ErrStorageUnavailable):
		logger.Default().WithContext(r.Context()).Error("storage unavailable", "error", err)
		WriteErrorResponseWithCode(w, r, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Storage is temporarily unavailable", "")
	case errors.Is(err, database.ErrDuplicate):
		WriteErrorResponseWithCode(w, r, http.StatusConflict, "CONFLICT", "Record already exists", "")
	case errors.Is(err, database.ErrInvalidQuery), errors.Is(err, database.ErrInvalidTable):
		WriteErrorResponseWithCode(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), "")
	default:
		logger.Default().WithContext(r.Context()).Error("unhandled error", "error", err)
		WriteInternalServerErrorResponse(w, r, "Internal server error")
	}
}

// ParseJSONBody decodes the request body
func ParseJSONBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return render.DecodeJSON(r.Body, v)
}

// GetQueryParam returns a query parameter or defaultValue
func GetQueryParam(r *http.Request, key, defaultValue string) string {
	if value := r.URL.Query().Get(key); value != "" {
		return value
	}
	return defaultValue
}

// GetQueryInt parses an integer query parameter; invalid values give defaultValue
func GetQueryInt(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
