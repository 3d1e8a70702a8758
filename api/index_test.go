package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"teamboard-backend/pkg/config"
	"teamboard-backend/pkg/database"
	"teamboard-backend/pkg/events"
	"teamboard-backend/pkg/logger"
	"teamboard-backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router    http.Handler
	store     *database.LocalDatabase
	publisher *events.MemoryPublisher
}

type envelope struct {
	Success bool                   `json:"success"`
	Data    json.RawMessage        `json:"data"`
	Error   *struct{ Code string } `json:"error"`
	Meta    *struct{ Total int }   `json:"meta"`
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := database.NewLocalDatabase(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.InitializeDatabase(context.Background()))

	cfg := &config.Config{
		Environment:    "test",
		Port:           "0",
		JWTSecret:      "test-secret",
		SessionTTL:     time.Hour,
		AllowedOrigins: []string{"*"},
		UseLocalDB:     true,
	}
	publisher := &events.MemoryPublisher{}
	deps := NewDeps(cfg, store, publisher)
	deps.Logger = logger.Nop()

	return &testServer{router: NewRouter(deps), store: store, publisher: publisher}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func errorCode(env envelope) string {
	if env.Error == nil {
		return ""
	}
	return env.Error.Code
}

type session struct {
	token  string
	userID int64
	teamID int64
}

func (s *testServer) signIn(t *testing.T, telegramID int) session {
	t.Helper()
	status, env := s.do(t, http.MethodPost, "/api/auth/telegram", "", map[string]string{
		"initData": fmt.Sprint(telegramID),
	})
	require.Equal(t, http.StatusOK, status)

	var data struct {
		Token string `json:"token"`
		User  struct {
			ID     int64 `json:"id"`
			TeamID int64 `json:"team_id"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(t, data.Token)
	return session{token: data.Token, userID: data.User.ID, teamID: data.User.TeamID}
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	status, env := s.do(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)
	status, env := s.do(t, http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(env))
}

func TestTelegramSignIn(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodPost, "/api/auth/telegram", "", map[string]string{"initData": "555"})
	require.Equal(t, http.StatusOK, status)
	var data struct {
		Token                  string `json:"token"`
		IsNewUser              bool   `json:"isNewUser"`
		NeedsProfileCompletion bool   `json:"needsProfileCompletion"`
		User                   struct {
			TeamID *int64 `json:"team_id"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.True(t, data.IsNewUser)
	assert.True(t, data.NeedsProfileCompletion)
	require.NotNil(t, data.User.TeamID)
	assert.Contains(t, s.publisher.Subjects(), events.SubjectUserCreated)

	status, _ = s.do(t, http.MethodGet, "/api/auth/validate", data.Token, nil)
	assert.Equal(t, http.StatusOK, status)

	status, env = s.do(t, http.MethodPost, "/api/auth/telegram", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INIT_DATA_MISSING", errorCode(env))

	status, env = s.do(t, http.MethodGet, "/api/auth/validate", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "INVALID_TOKEN", errorCode(env))
}

func TestCompleteProfile(t *testing.T) {
	s := newTestServer(t)
	a := s.signIn(t, 555)

	status, env := s.do(t, http.MethodPost, "/api/auth/complete-profile", a.token, map[string]string{
		"email": "a@example.com", "phone": "+100", "position": "Lead", "company": "Acme",
	})
	require.Equal(t, http.StatusOK, status)
	var data struct {
		Token                  string `json:"token"`
		NeedsProfileCompletion bool   `json:"needsProfileCompletion"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.False(t, data.NeedsProfileCompletion)
	assert.NotEmpty(t, data.Token)
}

func TestTeamMembership(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	a := s.signIn(t, 555)
	b := s.signIn(t, 556)

	status, env := s.do(t, http.MethodGet, "/api/teams/my-team", a.token, nil)
	require.Equal(t, http.StatusOK, status)
	var myTeam struct {
		Team struct {
			InviteCode   string `json:"invite_code"`
			MembersCount int    `json:"members_count"`
			IsOwner      bool   `json:"is_owner"`
		} `json:"team"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &myTeam))
	assert.Equal(t, 1, myTeam.Team.MembersCount)
	assert.True(t, myTeam.Team.IsOwner)
	require.Len(t, myTeam.Team.InviteCode, 6)

	status, env = s.do(t, http.MethodPost, "/api/teams/join", b.token, map[string]string{"invite_code": myTeam.Team.InviteCode})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "ALREADY_IN_TEAM", errorCode(env))

	_, err := s.store.Update(ctx, models.TableUsers, database.Conditions{"id": b.userID}, models.Record{"team_id": nil})
	require.NoError(t, err)

	status, env = s.do(t, http.MethodPost, "/api/teams/join", b.token, map[string]string{"invite_code": "zzzzzz"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_INVITE_CODE", errorCode(env))

	status, env = s.do(t, http.MethodPost, "/api/teams/join", b.token, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVITE_CODE_REQUIRED", errorCode(env))

	status, _ = s.do(t, http.MethodPost, "/api/teams/join", b.token, map[string]string{
		"invite_code": strings.ToLower(myTeam.Team.InviteCode),
	})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, s.publisher.Subjects(), events.SubjectTeamMemberJoined)

	status, env = s.do(t, http.MethodGet, fmt.Sprintf("/api/teams/%d/members", a.teamID), b.token, nil)
	require.Equal(t, http.StatusOK, status)
	var members []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &members))
	assert.Len(t, members, 2)

	status, env = s.do(t, http.MethodPost, "/api/teams/regenerate-invite", b.token, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "NOT_TEAM_OWNER", errorCode(env))

	status, env = s.do(t, http.MethodPost, "/api/teams/regenerate-invite", a.token, nil)
	require.Equal(t, http.StatusOK, status)
	var regenerated struct {
		InviteCode string `json:"invite_code"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &regenerated))
	assert.Regexp(t, `^[0-9A-Z]{6}$`, regenerated.InviteCode)

	status, env = s.do(t, http.MethodDelete, fmt.Sprintf("/api/teams/remove-member/%d", a.userID), a.token, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "CANNOT_REMOVE_SELF", errorCode(env))

	status, _ = s.do(t, http.MethodDelete, fmt.Sprintf("/api/teams/remove-member/%d", b.userID), a.token, nil)
	require.Equal(t, http.StatusOK, status)

	status, env = s.do(t, http.MethodDelete, fmt.Sprintf("/api/teams/remove-member/%d", b.userID), a.token, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "MEMBER_NOT_FOUND", errorCode(env))

	status, env = s.do(t, http.MethodGet, "/api/teams/my-team", b.token, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "TEAM_NOT_FOUND", errorCode(env))
}

func TestUpdateTeamRequiresOwner(t *testing.T) {
	s := newTestServer(t)
	a := s.signIn(t, 555)
	b := s.signIn(t, 556)
	path := fmt.Sprintf("/api/teams/%d", a.teamID)

	status, env := s.do(t, http.MethodPut, path, b.token, map[string]string{"name": "Hijacked"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "ACCESS_DENIED", errorCode(env))

	status, env = s.do(t, http.MethodPut, path, a.token, map[string]string{"name": "Renamed"})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"Renamed"`)
}

func TestTaskLifecycle(t *testing.T) {
	s := newTestServer(t)
	a := s.signIn(t, 555)
	b := s.signIn(t, 556)

	status, env := s.do(t, http.MethodPost, "/api/tasks", a.token, map[string]string{"title": "  "})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "TITLE_REQUIRED", errorCode(env))

	status, env = s.do(t, http.MethodPost, "/api/tasks", a.token, map[string]interface{}{
		"title": "Ship it", "assigned_to": b.userID,
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_ASSIGNED_USER", errorCode(env))

	status, env = s.do(t, http.MethodPost, "/api/tasks", a.token, map[string]interface{}{"title": "Ship it"})
	require.Equal(t, http.StatusCreated, status)
	var task struct {
		ID         int64 `json:"id"`
		StatusID   int64 `json:"status_id"`
		PriorityID int64 `json:"priority_id"`
		TeamID     int64 `json:"team_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &task))
	assert.Equal(t, int64(models.DefaultTaskStatusID), task.StatusID)
	assert.Equal(t, int64(models.DefaultTaskPriorityID), task.PriorityID)
	assert.Equal(t, a.teamID, task.TeamID)
	taskPath := fmt.Sprintf("/api/tasks/%d", task.ID)

	status, env = s.do(t, http.MethodGet, "/api/tasks?status_id=1,4", a.token, nil)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, env.Meta)
	assert.Equal(t, 1, env.Meta.Total)

	status, env = s.do(t, http.MethodGet, "/api/tasks?status_id=2,3", a.token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, env.Meta.Total)

	status, env = s.do(t, http.MethodGet, taskPath, a.token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"status_name":"Pending"`)

	status, env = s.do(t, http.MethodGet, taskPath, b.token, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "ACCESS_DENIED", errorCode(env))

	status, env = s.do(t, http.MethodPut, taskPath, b.token, map[string]string{"title": "Mine now"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "ACCESS_DENIED", errorCode(env))

	status, env = s.do(t, http.MethodPatch, taskPath+"/status", a.token, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "STATUS_REQUIRED", errorCode(env))

	status, env = s.do(t, http.MethodPatch, taskPath+"/status", a.token, map[string]interface{}{"status_id": 4})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"status_id":4`)

	status, _ = s.do(t, http.MethodPost, taskPath+"/comments", a.token, map[string]string{"content": "done"})
	require.Equal(t, http.StatusCreated, status)
	status, env = s.do(t, http.MethodGet, taskPath+"/comments", a.token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"content":"done"`)

	status, _ = s.do(t, http.MethodDelete, taskPath, a.token, nil)
	require.Equal(t, http.StatusOK, status)

	status, env = s.do(t, http.MethodGet, taskPath, a.token, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "TASK_NOT_FOUND", errorCode(env))

	assert.Equal(t, []string{
		events.SubjectUserCreated, events.SubjectTeamCreated,
		events.SubjectUserCreated, events.SubjectTeamCreated,
		events.SubjectTaskCreated, events.SubjectTaskUpdated, events.SubjectTaskDeleted,
	}, s.publisher.Subjects())
}

func TestTaskMetaIsPublic(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodGet, "/api/tasks/meta/statuses", "", nil)
	require.Equal(t, http.StatusOK, status)
	var statuses []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &statuses))
	assert.Len(t, statuses, len(models.TaskStatusSeed))

	status, _ = s.do(t, http.MethodGet, "/api/tasks/meta/priorities", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestUserAdministration(t *testing.T) {
	s := newTestServer(t)
	a := s.signIn(t, 555)
	b := s.signIn(t, 556)
	adminPath := fmt.Sprintf("/api/users/%d/admin", b.userID)

	status, env := s.do(t, http.MethodPut, adminPath, a.token, map[string]bool{"is_admin": true})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "ADMIN_REQUIRED", errorCode(env))

	_, err := s.store.Update(context.Background(), models.TableUsers,
		database.Conditions{"id": a.userID}, models.Record{"is_admin": true})
	require.NoError(t, err)

	status, _ = s.do(t, http.MethodPut, adminPath, a.token, map[string]bool{"is_admin": true})
	require.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodPut, fmt.Sprintf("/api/users/%d/active", b.userID), a.token, map[string]bool{"is_active": false})
	require.Equal(t, http.StatusOK, status)

	status, env = s.do(t, http.MethodGet, "/api/auth/validate", b.token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "INVALID_TOKEN", errorCode(env))
}

func TestUpdateOwnProfileOnly(t *testing.T) {
	s := newTestServer(t)
	a := s.signIn(t, 555)
	b := s.signIn(t, 556)

	status, env := s.do(t, http.MethodPut, fmt.Sprintf("/api/users/%d", a.userID), b.token, map[string]string{"bio": "x"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "ACCESS_DENIED", errorCode(env))

	status, env = s.do(t, http.MethodPut, fmt.Sprintf("/api/users/%d", a.userID), a.token, map[string]string{"bio": "hello"})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"bio":"hello"`)

	status, env = s.do(t, http.MethodGet, fmt.Sprintf("/api/users/%d", a.userID), b.token, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "ACCESS_DENIED", errorCode(env))
}

func TestStorageFailureReturns503(t *testing.T) {
	s := newTestServer(t)
	a := s.signIn(t, 555)

	corruptTable(t, s.store, models.TableTasks)

	status, env := s.do(t, http.MethodGet, "/api/tasks", a.token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "STORAGE_UNAVAILABLE", errorCode(env))
}
