package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"teamboard-backend/pkg/database"
	"teamboard-backend/pkg/events"
	"teamboard-backend/pkg/logger"
	"teamboard-backend/pkg/models"
	"teamboard-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
)

// Error codes returned by the route layer
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeTitleRequired       = "TITLE_REQUIRED"
	CodeStatusRequired      = "STATUS_REQUIRED"
	CodeContentRequired     = "CONTENT_REQUIRED"
	CodeInvalidAssignedUser = "INVALID_ASSIGNED_USER"
	CodeInviteCodeRequired  = "INVITE_CODE_REQUIRED"
	CodeInvalidInviteCode   = "INVALID_INVITE_CODE"
	CodeAlreadyInTeam       = "ALREADY_IN_TEAM"
	CodeNotTeamOwner        = "NOT_TEAM_OWNER"
	CodeCannotRemoveSelf    = "CANNOT_REMOVE_SELF"
	CodeMemberNotFound      = "MEMBER_NOT_FOUND"
	CodeTeamNotFound        = "TEAM_NOT_FOUND"
	CodeTaskNotFound        = "TASK_NOT_FOUND"
	CodeUserNotFound        = "USER_NOT_FOUND"
	CodeAccessDenied        = "ACCESS_DENIED"
	CodeEmailExists         = "EMAIL_EXISTS"
	CodeCannotDeactivate    = "CANNOT_DEACTIVATE_SELF"
	CodeEmployeeNotFound    = "EMPLOYEE_NOT_FOUND"
	CodeNoteNotFound        = "NOTE_NOT_FOUND"
	CodeTextRequired        = "TEXT_REQUIRED"
)

// apiError is a request failure with a fixed code and status
type apiError struct {
	code    string
	status  int
	message string
}

func (e *apiError) Error() string     { return e.message }
func (e *apiError) ErrorCode() string { return e.code }
func (e *apiError) HTTPStatus() int   { return e.status }

func badRequest(code, message string) error {
	return &apiError{code: code, status: http.StatusBadRequest, message: message}
}

func notFound(code, message string) error {
	return &apiError{code: code, status: http.StatusNotFound, message: message}
}

func forbidden(code, message string) error {
	return &apiError{code: code, status: http.StatusForbidden, message: message}
}

func conflict(code, message string) error {
	return &apiError{code: code, status: http.StatusConflict, message: message}
}

// pathID parses a positive integer URL parameter
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest(CodeValidation, "invalid "+name)
	}
	return id, nil
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v interface{}) error {
	if err := utils.ParseJSONBody(r, v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest(CodeValidation, "Invalid JSON body")
	}
	return nil
}

// intValue reads an integer from a decoded JSON value. Numeric strings are accepted.
func intValue(v interface{}) (int64, bool) {
	return models.ToInt64(v)
}

// parseIntList turns "1,2,3" into a membership list
func parseIntList(raw string) ([]interface{}, error) {
	var values []interface{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, badRequest(CodeValidation, "invalid number "+strconv.Quote(part))
		}
		values = append(values, n)
	}
	return values, nil
}

// pageParams reads limit and offset, clamping limit to maxLimit
func pageParams(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := utils.GetQueryInt(r, "limit", defaultLimit)
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}
	offset := utils.GetQueryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func findByID(ctx context.Context, store database.Store, table string, id int64) (models.Record, error) {
	rows, err := store.Select(ctx, table, database.Conditions{"id": id}, nil)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func publish(ctx context.Context, publisher events.Publisher, log *logger.Logger, subject string, actorID int64, payload map[string]interface{}) {
	if err := publisher.Publish(ctx, events.NewEvent(subject, actorID, payload)); err != nil {
		log.WithContext(ctx).Warn("failed to publish event", "subject", subject, "error", err)
	}
}
