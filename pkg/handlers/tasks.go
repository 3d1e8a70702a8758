package handlers

import (
	"context"
	"net/http"
	"strings"

	"teamboard-backend/pkg/database"
	"teamboard-backend/pkg/events"
	"teamboard-backend/pkg/identity"
	"teamboard-backend/pkg/logger"
	"teamboard-backend/pkg/middleware"
	"teamboard-backend/pkg/models"
	"teamboard-backend/pkg/utils"
)

const (
	defaultTaskLimit = 50
	maxTaskLimit     = 200
)

// taskOrderFields may be used in ?order=
var taskOrderFields = map[string]bool{
	"id": true, "title": true, "created_at": true, "updated_at": true,
	"due_date": true, "status_id": true, "priority_id": true,
}

// TasksHandler serves task endpoints
type TasksHandler struct {
	store     database.Store
	publisher events.Publisher
	log       *logger.Logger
}

func NewTasksHandler(store database.Store, publisher events.Publisher) *TasksHandler {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &TasksHandler{store: store, publisher: publisher, log: logger.Default().Named("tasks")}
}

// GET /api/tasks?status_id=1,2&priority_id=3&assigned_to=&created_by=&order=&limit=&offset=
func (h *TasksHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, r, "Authentication required")
		return
	}
	limit, offset := pageParams(r, defaultTaskLimit, maxTaskLimit)

	teamID, ok := ident.TeamID()
	if !ok {
		utils.WriteListResponse(w, r, []models.Record{}, 0, limit, offset)
		return
	}

	conditions := database.Conditions{"team_id": teamID}
	for _, field := range []string{"status_id", "priority_id"} {
		if raw := r.URL.Query().Get(field); raw != "" {
			values, err := parseIntList(raw)
			if err != nil {
				utils.WriteError(w, r, err)
				return
			}
			conditions[field] = values
		}
	}
	for _, field := range []string{"assigned_to", "created_by"} {
		if raw := r.URL.Query().Get(field); raw != "" {
			id, ok := intValue(raw)
			if !ok {
				utils.WriteError(w, r, badRequest(CodeValidation, "invalid "+field))
				return
			}
			conditions[field] = id
		}
	}

	order := utils.GetQueryParam(r, "order", "created_at DESC")
	if parts := strings.Fields(order); len(parts) == 0 || !taskOrderFields[parts[0]] {
		utils.WriteError(w, r, badRequest(CodeValidation, "unsupported order field"))
		return
	}

	all, err := h.store.Select(r.Context(), models.TableTasks, conditions, nil)
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	page, err := h.store.Select(r.Context(), models.TableTasks, conditions,
		&database.SelectOptions{OrderBy: order, Limit: limit, Offset: offset})
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}

	enriched, err := h.enrich(r.Context(), page)
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	utils.WriteListResponse(w, r, enriched, len(all), limit, offset)
}

// GET /api/tasks/meta/statuses
func (h *TasksHandler) ListStatuses(w http.ResponseWriter, r *http.Request) {
	h.listMeta(w, r, models.TableTaskStatuses)
}

// GET /api/tasks/meta/priorities
func (h *TasksHandler) ListPriorities(w http.ResponseWriter, r *http.Request) {
	h.listMeta(w, r, models.TableTaskPriorities)
}

func (h *TasksHandler) listMeta(w http.ResponseWriter, r *http.Request, table string) {
	rows, err := h.store.Select(r.Context(), table, nil, &database.SelectOptions{OrderBy: "id ASC"})
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	utils.WriteSuccessResponse(w, r, rows)
}

// GET /api/tasks/{id}
func (h *TasksHandler) GetTask(w http.ResponseWriter, r *http.Request) {
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

	task, err := h.visibleTask(r.Context(), ident, id)
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	enriched, err := h.enrich(r.Context(), []models.Record{task.Record})
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	utils.WriteSuccessResponse(w, r, enriched[0])
}

// POST /api/tasks
func (h *TasksHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, r, "Authentication required")
		return
	}
	teamID, ok := ident.TeamID()
	if !ok {
		utils.WriteError(w, r, badRequest(CodeTeamNotFound, "User team not found"))
		return
	}

	body := map[string]interface{}{}
	if err := decodeBody(r, &body); err != nil {
		utils.WriteError(w, r, err)
		return
	}

	title, _ := body["title"].(string)
	if strings.TrimSpace(title) == "" {
		utils.WriteError(w, r, badRequest(CodeTitleRequired, "Task title is required"))
		return
	}

	fields := models.Record{
		"title":       strings.TrimSpace(title),
		"description": "",
		"assigned_to": nil,
		"created_by":  ident.UserID(),
		"team_id":     teamID,
		"status_id":   int64(models.DefaultTaskStatusID),
		"priority_id": int64(models.DefaultTaskPriorityID),
		"due_date":    nil,
		"is_personal": false,
	}
	updates, err := h.taskFields(r.Context(), teamID, body)
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	for k, v := range updates {
		fields[k] = v
	}

	task, err := h.store.Insert(r.Context(), models.TableTasks, fields)
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}

	publish(r.Context(), h.publisher, h.log, events.SubjectTaskCreated, ident.UserID(), map[string]interface{}{
		"task_id":     task.ID(),
		"team_id":     teamID,
		"assigned_to": task["assigned_to"],
	})
	utils.WriteCreatedResponse(w, r, task)
}

// PUT /api/tasks/{id}
func (h *TasksHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, r, "Authentication required")
		return
	}
	task, err := h.requestTask(r, ident)
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}

	body := map[string]interface{}{}
	if err := decodeBody(r, &body); err != nil {
		utils.WriteError(w, r, err)
		return
	}
	if title, ok := body["title"]; ok {
		if s, _ := title.(string); strings.TrimSpace(s) == "" {
			utils.WriteError(w, r, badRequest(CodeTitleRequired, "Task title is required"))
			return
		}
	}
	updates, err := h.taskFields(r.Context(), task.TeamID(), body)
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	if len(updates) == 0 {
		utils.WriteValidationErrorResponse(w, r, "Nothing to update", "")
		return
	}

	h.applyUpdate(w, r, ident, task, updates)
}

// UpdateStatusRequest is the body of PATCH /api/tasks/{id}/status
type UpdateStatusRequest struct {
	StatusID interface{} `json:"status_id"`
}

// PATCH /api/tasks/{id}/status
func (h *TasksHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, r, "Authentication required")
		return
	}
	task, err := h.requestTask(r, ident)
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}

	var req UpdateStatusRequest
	if err := decodeBody(r, &req); err != nil {
		utils.WriteError(w, r, err)
		return
	}
	if req.StatusID == nil {
		utils.WriteError(w, r, badRequest(CodeStatusRequired, "Status ID is required"))
		return
	}
	updates, err := h.taskFields(r.Context(), task.TeamID(), map[string]interface{}{"status_id": req.StatusID})
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}

	h.applyUpdate(w, r, ident, task, updates)
}

// DELETE /api/tasks/{id}
func (h *TasksHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, r, "Authentication required")
		return
	}
	task, err := h.requestTask(r, ident)
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	if task.CreatedBy() != ident.UserID() && !ident.User.IsAdmin() {
		utils.WriteError(w, r, forbidden(CodeAccessDenied, "Only task creator can delete task"))
		return
	}

	if _, err := h.store.Delete(r.Context(), models.TableTasks, database.Conditions{"id": task.ID()}); err != nil {
		utils.WriteError(w, r, err)
		return
	}
	if _, err := h.store.Delete(r.Context(), models.TableTaskComments, database.Conditions{"task_id": task.ID()}); err != nil {
		h.log.WithContext(r.Context()).Warn("failed to delete task comments", "task_id", task.ID(), "error", err)
	}

	publish(r.Context(), h.publisher, h.log, events.SubjectTaskDeleted, ident.UserID(), map[string]interface{}{
		"task_id": task.ID(),
		"team_id": task.TeamID(),
	})
	utils.WriteSuccessResponse(w, r, map[string]interface{}{"deleted": true, "id": task.ID()})
}

// GET /api/tasks/{id}/comments
func (h *TasksHandler) ListComments(w http.ResponseWriter, r *http.Request) {
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
	if _, err := h.visibleTask(r.Context(), ident, id); err != nil {
		utils.WriteError(w, r, err)
		return
	}

	comments, err := h.store.Select(r.Context(), models.TableTaskComments,
		database.Conditions{"task_id": id}, &database.SelectOptions{OrderBy: "id ASC"})
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	utils.WriteSuccessResponse(w, r, comments)
}

// CommentRequest is the body of POST /api/tasks/{id}/comments
type CommentRequest struct {
	Content string `json:"content"`
}

// POST /api/tasks/{id}/comments
func (h *TasksHandler) AddComment(w http.ResponseWriter, r *http.Request) {
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

	var req CommentRequest
	if err := decodeBody(r, &req); err != nil {
		utils.WriteError(w, r, err)
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		utils.WriteError(w, r, badRequest(CodeContentRequired, "Comment content is required"))
		return
	}
	if _, err := h.visibleTask(r.Context(), ident, id); err != nil {
		utils.WriteError(w, r, err)
		return
	}

	comment, err := h.store.Insert(r.Context(), models.TableTaskComments, models.Record{
		"task_id": id,
		"user_id": ident.UserID(),
		"content": content,
	})
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	utils.WriteCreatedResponse(w, r, comment)
}

func (h *TasksHandler) applyUpdate(w http.ResponseWriter, r *http.Request, ident *identity.Identity, task models.Task, updates models.Record) {
	if _, err := h.store.Update(r.Context(), models.TableTasks, database.Conditions{"id": task.ID()}, updates); err != nil {
		utils.WriteError(w, r, err)
		return
	}
	updated, err := findByID(r.Context(), h.store, models.TableTasks, task.ID())
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	if updated == nil {
		utils.WriteError(w, r, notFound(CodeTaskNotFound, "Task not found"))
		return
	}

	changed := make([]string, 0, len(updates))
	for field := range updates {
		changed = append(changed, field)
	}
	publish(r.Context(), h.publisher, h.log, events.SubjectTaskUpdated, ident.UserID(), map[string]interface{}{
		"task_id": task.ID(),
		"team_id": task.TeamID(),
		"fields":  changed,
	})
	utils.WriteSuccessResponse(w, r, updated)
}

// requestTask returns the task of a route behind RequireOwnerOrAdmin
func (h *TasksHandler) requestTask(r *http.Request, ident *identity.Identity) (models.Task, error) {
	if ident.Resource != nil {
		return models.AsTask(ident.Resource), nil
	}
	id, err := pathID(r, "id")
	if err != nil {
		return models.Task{}, err
	}
	record, err := findByID(r.Context(), h.store, models.TableTasks, id)
	if err != nil {
		return models.Task{}, err
	}
	if record == nil {
		return models.Task{}, notFound(CodeTaskNotFound, "Task not found")
	}
	return models.AsTask(record), nil
}

// visibleTask loads a task the caller may read: same team, involved, or admin
func (h *TasksHandler) visibleTask(ctx context.Context, ident *identity.Identity, id int64) (models.Task, error) {
	record, err := findByID(ctx, h.store, models.TableTasks, id)
	if err != nil {
		return models.Task{}, err
	}
	if record == nil {
		return models.Task{}, notFound(CodeTaskNotFound, "Task not found")
	}
	task := models.AsTask(record)

	teamID, _ := ident.TeamID()
	if ident.User.IsAdmin() || task.InvolvesUser(ident.UserID()) || (teamID != 0 && task.TeamID() == teamID) {
		return task, nil
	}
	return models.Task{}, forbidden(CodeAccessDenied, "Access denied")
}

// taskFields validates the editable fields present in body
func (h *TasksHandler) taskFields(ctx context.Context, teamID int64, body map[string]interface{}) (models.Record, error) {
	fields := models.Record{}

	if v, ok := body["title"].(string); ok && strings.TrimSpace(v) != "" {
		fields["title"] = strings.TrimSpace(v)
	}
	if v, ok := body["description"]; ok {
		s, _ := v.(string)
		fields["description"] = s
	}
	if v, ok := body["due_date"]; ok {
		s, _ := v.(string)
		fields["due_date"] = nullIfBlank(s)
	}
	if v, ok := body["is_personal"]; ok {
		b, _ := v.(bool)
		fields["is_personal"] = b
	}

	if v, ok := body["assigned_to"]; ok {
		assignee, err := h.assignee(ctx, teamID, v)
		if err != nil {
			return nil, err
		}
		fields["assigned_to"] = assignee
	}

	refs := []struct{ field, table string }{
		{"status_id", models.TableTaskStatuses},
		{"priority_id", models.TableTaskPriorities},
	}
	for _, ref := range refs {
		v, ok := body[ref.field]
		if !ok || v == nil {
			continue
		}
		id, valid := intValue(v)
		if !valid {
			return nil, badRequest(CodeValidation, "invalid "+ref.field)
		}
		record, err := findByID(ctx, h.store, ref.table, id)
		if err != nil {
			return nil, err
		}
		if record == nil {
			return nil, badRequest(CodeValidation, "unknown "+ref.field)
		}
		fields[ref.field] = id
	}
	return fields, nil
}

// assignee checks that v names a member of teamID; null or 0 unassigns
func (h *TasksHandler) assignee(ctx context.Context, teamID int64, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	id, ok := intValue(v)
	if !ok {
		return nil, badRequest(CodeInvalidAssignedUser, "Assigned user not found in team")
	}
	if id == 0 {
		return nil, nil
	}
	rows, err := h.store.Select(ctx, models.TableUsers, database.Conditions{"id": id, "team_id": teamID}, nil)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, badRequest(CodeInvalidAssignedUser, "Assigned user not found in team")
	}
	return id, nil
}

// enrich adds status and priority names and colors
func (h *TasksHandler) enrich(ctx context.Context, tasks []models.Record) ([]models.Record, error) {
	statuses, err := h.store.Read(ctx, models.TableTaskStatuses)
	if err != nil {
		return nil, err
	}
	priorities, err := h.store.Read(ctx, models.TableTaskPriorities)
	if err != nil {
		return nil, err
	}
	statusByID := indexByID(statuses)
	priorityByID := indexByID(priorities)

	out := make([]models.Record, 0, len(tasks))
	for _, task := range tasks {
		item := task.Clone()
		statusID, _ := task.Int("status_id")
		if status, ok := statusByID[statusID]; ok {
			item["status_name"] = status["name"]
			item["status_color"] = status["color"]
		}
		priorityID, _ := task.Int("priority_id")
		if priority, ok := priorityByID[priorityID]; ok {
			item["priority_name"] = priority["name"]
			item["priority_color"] = priority["color"]
			item["priority_level"] = priority["level"]
		}
		out = append(out, item)
	}
	return out, nil
}

func indexByID(records []models.Record) map[int64]models.Record {
	index := make(map[int64]models.Record, len(records))
	for _, record := range records {
		if id, ok := record.Int("id"); ok {
			index[id] = record
		}
	}
	return index
}

func nullIfBlank(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
