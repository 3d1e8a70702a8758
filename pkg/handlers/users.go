package handlers

import (
	"net/http"
	"sort"
	"strings"

	"teamboard-backend/pkg/database"
	"teamboard-backend/pkg/identity"
	"teamboard-backend/pkg/logger"
	"teamboard-backend/pkg/middleware"
	"teamboard-backend/pkg/models"
	"teamboard-backend/pkg/utils"
)

const (
	defaultUserLimit = 50
	maxUserLimit     = 200
)

// editableUserFields can be changed through PUT /api/users/{id} and /profile/me
var editableUserFields = append([]string{"first_name", "last_name"}, models.ProfileFields...)

// UsersHandler serves user directory and administration endpoints
type UsersHandler struct {
	store database.Store
	log   *logger.Logger
}

func NewUsersHandler(store database.Store) *UsersHandler {
	return &UsersHandler{store: store, log: logger.Default().Named("users")}
}

// GET /api/users?department=&include_inactive=&limit=&offset=
func (h *UsersHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, r, "Authentication required")
		return
	}
	limit, offset := pageParams(r, defaultUserLimit, maxUserLimit)

	teamID, ok := ident.TeamID()
	if !ok {
		utils.WriteListResponse(w, r, []map[string]interface{}{}, 0, limit, offset)
		return
	}

	conditions := database.Conditions{"team_id": teamID}
	if r.URL.Query().Get("include_inactive") != "true" {
		conditions["is_active"] = true
	}
	if department := strings.TrimSpace(r.URL.Query().Get("department")); department != "" {
		conditions["department"] = department
	}

	all, err := h.store.Select(r.Context(), models.TableUsers, conditions, nil)
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	rows, err := h.store.Select(r.Context(), models.TableUsers, conditions,
		&database.SelectOptions{OrderBy: "first_name ASC", Limit: limit, Offset: offset})
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}

	users := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		users = append(users, models.AsUser(row).Public())
	}
	utils.WriteListResponse(w, r, users, len(all), limit, offset)
}

// GET /api/users/{id}
func (h *UsersHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, r, "Authentication required")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}

	user, err := h.loadUser(r, id)
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	ownTeam, _ := ident.TeamID()
	theirTeam, _ := user.TeamID()
	if id != ident.UserID() && !ident.User.IsAdmin() && (ownTeam == 0 || ownTeam != theirTeam) {
		utils.WriteError(w, r, forbidden(CodeAccessDenied, "Access denied"))
		return
	}
	utils.WriteSuccessResponse(w, r, user.Public())
}

// PUT /api/users/{id}
func (h *UsersHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	h.updateProfile(w, r, id)
}

// GET /api/users/profile/me
func (h *UsersHandler) MyProfile(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, r, "Authentication required")
		return
	}
	user, err := h.loadUser(r, ident.UserID())
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}

	profile := user.Public()
	profile["team"] = nil
	if teamID, ok := user.TeamID(); ok {
		record, err := findByID(r.Context(), h.store, models.TableTeams, teamID)
		if err != nil {
			utils.WriteError(w, r, err)
			return
		}
		if record != nil {
			team := models.AsTeam(record)
			profile["team"] = map[string]interface{}{
				"id":          team.ID(),
				"name":        team.Name(),
				"invite_code": team.InviteCode(),
				"is_owner":    team.OwnerID() == user.ID(),
			}
		}
	}

	stats, err := h.taskStats(r, user.ID())
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	profile["stats"] = stats
	utils.WriteSuccessResponse(w, r, profile)
}

// PUT /api/users/profile/me
func (h *UsersHandler) UpdateMyProfile(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, r, "Authentication required")
		return
	}
	h.updateProfile(w, r, ident.UserID())
}

// DELETE /api/users/{id} deactivates the account; records are kept
func (h *UsersHandler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, r, "Authentication required")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	if id == ident.UserID() {
		utils.WriteError(w, r, badRequest(CodeCannotDeactivate, "Cannot deactivate yourself"))
		return
	}

	h.log.WithContext(r.Context()).Audit("user deactivated", "admin_id", ident.UserID(), "user_id", id)
	h.update(w, r, id, models.Record{"is_active": false})
}

// GET /api/users/meta/departments
func (h *UsersHandler) ListDepartments(w http.ResponseWriter, r *http.Request) {
	h.distinctValues(w, r, "department")
}

// GET /api/users/meta/positions
func (h *UsersHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	h.distinctValues(w, r, "position")
}

// GET /api/users/meta/stats
func (h *UsersHandler) TeamStats(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, r, "Authentication required")
		return
	}
	members, err := h.teamMembers(r, ident)
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}

	stats := map[string]int{
		"total_users":      len(members),
		"active_users":     0,
		"inactive_users":   0,
		"admin_users":      0,
		"departments":      0,
		"users_with_tasks": 0,
	}
	if len(members) == 0 {
		utils.WriteSuccessResponse(w, r, stats)
		return
	}

	ids := make([]interface{}, 0, len(members))
	for _, member := range members {
		if member.IsActive() {
			stats["active_users"]++
		} else {
			stats["inactive_users"]++
		}
		if member.IsAdmin() {
			stats["admin_users"]++
		}
		ids = append(ids, member.ID())
	}
	stats["departments"] = len(distinct(members, "department"))

	tasks, err := h.store.Select(r.Context(), models.TableTasks, database.Conditions{"assigned_to": ids}, nil)
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	assignees := map[int64]bool{}
	for _, row := range tasks {
		if id, ok := models.AsTask(row).AssignedTo(); ok {
			assignees[id] = true
		}
	}
	stats["users_with_tasks"] = len(assignees)
	utils.WriteSuccessResponse(w, r, stats)
}

func (h *UsersHandler) distinctValues(w http.ResponseWriter, r *http.Request, field string) {
	ident, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, r, "Authentication required")
		return
	}
	members, err := h.teamMembers(r, ident)
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	utils.WriteSuccessResponse(w, r, distinct(members, field))
}

// teamMembers returns every member of the caller's team, inactive ones included
func (h *UsersHandler) teamMembers(r *http.Request, ident *identity.Identity) ([]models.User, error) {
	teamID, ok := ident.TeamID()
	if !ok {
		return nil, nil
	}
	rows, err := h.store.Select(r.Context(), models.TableUsers, database.Conditions{"team_id": teamID}, nil)
	if err != nil {
		return nil, err
	}
	members := make([]models.User, len(rows))
	for i, row := range rows {
		members[i] = models.AsUser(row)
	}
	return members, nil
}

// distinct returns the sorted non-empty values of a string field
func distinct(users []models.User, field string) []string {
	seen := map[string]bool{}
	values := []string{}
	for _, u := range users {
		v := strings.TrimSpace(u.String(field))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		values = append(values, v)
	}
	sort.Strings(values)
	return values
}

func (h *UsersHandler) taskStats(r *http.Request, userID int64) (map[string]int, error) {
	assigned, err := h.store.Select(r.Context(), models.TableTasks, database.Conditions{"assigned_to": userID}, nil)
	if err != nil {
		return nil, err
	}
	created, err := h.store.Select(r.Context(), models.TableTasks, database.Conditions{"created_by": userID}, nil)
	if err != nil {
		return nil, err
	}

	completed := 0
	for _, row := range assigned {
		if models.AsTask(row).Done() {
			completed++
		}
	}
	return map[string]int{
		"assigned_tasks":  len(assigned),
		"created_tasks":   len(created),
		"completed_tasks": completed,
		"active_tasks":    len(assigned) - completed,
	}, nil
}

func (h *UsersHandler) updateProfile(w http.ResponseWriter, r *http.Request, id int64) {
	body := map[string]interface{}{}
	if err := decodeBody(r, &body); err != nil {
		utils.WriteError(w, r, err)
		return
	}
	updates, err := profileUpdates(body)
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	if len(updates) == 0 {
		utils.WriteValidationErrorResponse(w, r, "Nothing to update", "")
		return
	}
	if err := h.checkEmailFree(r, id, updates["email"]); err != nil {
		utils.WriteError(w, r, err)
		return
	}

	h.update(w, r, id, updates)
}

// profileUpdates keeps the editable string fields of body; blanks become null
func profileUpdates(body map[string]interface{}) (models.Record, error) {
	updates := models.Record{}
	for _, field := range editableUserFields {
		v, ok := body[field]
		if !ok {
			continue
		}
		s, isString := v.(string)
		if v != nil && !isString {
			return nil, badRequest(CodeValidation, field+" must be a string")
		}
		updates[field] = nullIfBlank(s)
	}
	return updates, nil
}

func (h *UsersHandler) checkEmailFree(r *http.Request, id int64, email interface{}) error {
	if email == nil {
		return nil
	}
	rows, err := h.store.Select(r.Context(), models.TableUsers, database.Conditions{"email": email}, nil)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row.ID() != id {
			return conflict(CodeEmailExists, "Email already exists")
		}
	}
	return nil
}

// PUT /api/users/{id}/admin
func (h *UsersHandler) SetAdmin(w http.ResponseWriter, r *http.Request) {
	h.setFlag(w, r, "is_admin")
}

// PUT /api/users/{id}/active
func (h *UsersHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	h.setFlag(w, r, "is_active")
}

func (h *UsersHandler) setFlag(w http.ResponseWriter, r *http.Request, field string) {
	ident, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, r, "Authentication required")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}

	body := map[string]interface{}{}
	if err := decodeBody(r, &body); err != nil {
		utils.WriteError(w, r, err)
		return
	}
	value, ok := body[field].(bool)
	if !ok {
		value, ok = body["value"].(bool)
	}
	if !ok {
		utils.WriteError(w, r, badRequest(CodeValidation, field+" must be a boolean"))
		return
	}
	if id == ident.UserID() && !value {
		utils.WriteError(w, r, badRequest(CodeValidation, "Cannot revoke your own "+strings.TrimPrefix(field, "is_")+" flag"))
		return
	}

	h.log.WithContext(r.Context()).Audit("user flag changed",
		"admin_id", ident.UserID(), "user_id", id, "field", field, "value", value)
	h.update(w, r, id, models.Record{field: value})
}

func (h *UsersHandler) update(w http.ResponseWriter, r *http.Request, id int64, updates models.Record) {
	matched, err := h.store.Update(r.Context(), models.TableUsers, database.Conditions{"id": id}, updates)
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	if matched == 0 {
		utils.WriteError(w, r, notFound(CodeUserNotFound, "User not found"))
		return
	}
	user, err := h.loadUser(r, id)
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	utils.WriteSuccessResponse(w, r, user.Public())
}

func (h *UsersHandler) loadUser(r *http.Request, id int64) (models.User, error) {
	record, err := findByID(r.Context(), h.store, models.TableUsers, id)
	if err != nil {
		return models.User{}, err
	}
	if record == nil {
		return models.User{}, notFound(CodeUserNotFound, "User not found")
	}
	return models.AsUser(record), nil
}
