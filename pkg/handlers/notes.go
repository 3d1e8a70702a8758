package handlers

import (
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

// NotesHandler serves notes kept about team members
type NotesHandler struct {
	store     database.Store
	publisher events.Publisher
	log       *logger.Logger
}

func NewNotesHandler(store database.Store, publisher events.Publisher) *NotesHandler {
	return &NotesHandler{store: store, publisher: publisher, log: logger.Default().Named("notes")}
}

// NoteRequest is the body of POST /api/users/{id}/notes
type NoteRequest struct {
	Text string `json:"text"`
}

// GET /api/users/{id}/notes
func (h *NotesHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	_, employeeID, ok := h.employee(w, r)
	if !ok {
		return
	}

	rows, err := h.store.Select(r.Context(), models.TableEmployeeNotes,
		database.Conditions{"employee_id": employeeID}, &database.SelectOptions{OrderBy: "id ASC"})
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}

	authorIDs := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		authorIDs = append(authorIDs, models.AsNote(row).CreatedBy())
	}
	authors := map[int64]models.User{}
	if len(authorIDs) > 0 {
		users, err := h.store.Select(r.Context(), models.TableUsers, database.Conditions{"id": authorIDs}, nil)
		if err != nil {
			utils.WriteError(w, r, err)
			return
		}
		for _, u := range users {
			authors[u.ID()] = models.AsUser(u)
		}
	}

	notes := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		note := map[string]interface{}(row.Clone())
		author, found := authors[models.AsNote(row).CreatedBy()]
		note["author_first_name"] = "Unknown"
		note["author_last_name"] = ""
		note["author_username"] = ""
		if found {
			if name := author.String("first_name"); name != "" {
				note["author_first_name"] = name
			}
			note["author_last_name"] = author.String("last_name")
			note["author_username"] = author.String("username")
		}
		notes = append(notes, note)
	}
	utils.WriteSuccessResponse(w, r, notes)
}

// POST /api/users/{id}/notes
func (h *NotesHandler) AddNote(w http.ResponseWriter, r *http.Request) {
	var req NoteRequest
	if err := decodeBody(r, &req); err != nil {
		utils.WriteError(w, r, err)
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		utils.WriteError(w, r, badRequest(CodeTextRequired, "Note text is required"))
		return
	}

	ident, employeeID, ok := h.employee(w, r)
	if !ok {
		return
	}

	note, err := h.store.Insert(r.Context(), models.TableEmployeeNotes, models.Record{
		"employee_id": employeeID,
		"text":        text,
		"created_by":  ident.UserID(),
	})
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}

	publish(r.Context(), h.publisher, h.log, events.SubjectNoteAdded, ident.UserID(), map[string]interface{}{
		"note_id":     note.ID(),
		"employee_id": employeeID,
	})
	utils.WriteCreatedResponse(w, r, note)
}

// DELETE /api/users/{id}/notes/{noteId}
func (h *NotesHandler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, r, "Authentication required")
		return
	}
	employeeID, err := pathID(r, "id")
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	noteID, err := pathID(r, "noteId")
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}

	record, err := findByID(r.Context(), h.store, models.TableEmployeeNotes, noteID)
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	if record == nil || models.AsNote(record).EmployeeID() != employeeID {
		utils.WriteError(w, r, notFound(CodeNoteNotFound, "Note not found"))
		return
	}
	if models.AsNote(record).CreatedBy() != ident.UserID() && !ident.User.IsAdmin() {
		utils.WriteError(w, r, forbidden(CodeAccessDenied, "Only the author or an administrator can delete a note"))
		return
	}

	if _, err := h.store.Delete(r.Context(), models.TableEmployeeNotes, database.Conditions{"id": noteID}); err != nil {
		utils.WriteError(w, r, err)
		return
	}
	utils.WriteSuccessResponse(w, r, map[string]interface{}{"message": "Note deleted"})
}

// employee resolves {id} to a member of the caller's team. Administrators
// reach any user. Anything else reads as not found.
func (h *NotesHandler) employee(w http.ResponseWriter, r *http.Request) (*identity.Identity, int64, bool) {
	ident, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, r, "Authentication required")
		return nil, 0, false
	}
	id, err := pathID(r, "id")
	if err != nil {
		utils.WriteError(w, r, err)
		return nil, 0, false
	}

	record, err := findByID(r.Context(), h.store, models.TableUsers, id)
	if err != nil {
		utils.WriteError(w, r, err)
		return nil, 0, false
	}
	if record == nil {
		utils.WriteError(w, r, notFound(CodeEmployeeNotFound, "Employee not found"))
		return nil, 0, false
	}
	if !ident.User.IsAdmin() {
		ownTeam, _ := ident.TeamID()
		theirTeam, _ := models.AsUser(record).TeamID()
		if ownTeam == 0 || ownTeam != theirTeam {
			utils.WriteError(w, r, notFound(CodeEmployeeNotFound, "Employee not found"))
			return nil, 0, false
		}
	}
	return ident, id, true
}
