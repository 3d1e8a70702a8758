package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"teamboard-backend/pkg/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCodedError struct{}

func (testCodedError) Error() string     { return "Only admins" }
func (testCodedError) ErrorCode() string { return "ADMIN_REQUIRED" }
func (testCodedError) HTTPStatus() int   { return http.StatusForbidden }

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestWriteSuccessResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	WriteCreatedResponse(rec, req, map[string]int{"id": 1})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	resp := decodeEnvelope(t, rec)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"coded", fmt.Errorf("wrapped: %w", testCodedError{}), http.StatusForbidden, "ADMIN_REQUIRED"},
		{"storage", fmt.Errorf("%w: disk", database.ErrStorageUnavailable), http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"},
		{"duplicate", database.ErrDuplicate, http.StatusConflict, "CONFLICT"},
		{"query", database.ErrInvalidQuery, http.StatusBadRequest, "BAD_REQUEST"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			assert.Equal(t, tt.status, rec.Code)
			resp := decodeEnvelope(t, rec)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestGetQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=20&offset=x", nil)
	assert.Equal(t, 20, GetQueryInt(req, "limit", 50))
	assert.Equal(t, 0, GetQueryInt(req, "offset", 0))
	assert.Equal(t, 7, GetQueryInt(req, "missing", 7))
}
