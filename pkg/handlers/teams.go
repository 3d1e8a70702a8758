package handlers

import (
	"context"
	"fmt"
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

// TeamsHandler serves team membership endpoints
type TeamsHandler struct {
	store     database.Store
	auth      *identity.Service
	publisher events.Publisher
	log       *logger.Logger
}

func NewTeamsHandler(store database.Store, auth *identity.Service, publisher events.Publisher) *TeamsHandler {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &TeamsHandler{store: store, auth: auth, publisher: publisher, log: logger.Default().Named("teams")}
}

// memberView is what team listings expose about a member
func memberView(u models.User) map[string]interface{} {
	return map[string]interface{}{
		"id":         u.ID(),
		"first_name": u.Record["first_name"],
		"last_name":  u.Record["last_name"],
		"username":   u.Record["username"],
		"email":      u.Record["email"],
		"position":   u.Record["position"],
		"department": u.Record["department"],
		"avatar_url": u.Record["avatar_url"],
		"is_admin":   u.IsAdmin(),
		"created_at": u.Record["created_at"],
	}
}

func (h *TeamsHandler) activeMembers(ctx context.Context, teamID int64) ([]map[string]interface{}, error) {
	rows, err := h.store.Select(ctx, models.TableUsers,
		database.Conditions{"team_id": teamID, "is_active": true},
		&database.SelectOptions{OrderBy: "id ASC"})
	if err != nil {
		return nil, err
	}
	members := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		members = append(members, memberView(models.AsUser(row)))
	}
	return members, nil
}

// ownTeam loads the caller's team and, when ownerOnly, checks ownership
func (h *TeamsHandler) ownTeam(ctx context.Context, ident *identity.Identity, ownerOnly bool, action string) (models.Team, error) {
	teamID, ok := ident.TeamID()
	if !ok {
		return models.Team{}, badRequest(CodeTeamNotFound, "User team not found")
	}
	record, err := findByID(ctx, h.store, models.TableTeams, teamID)
	if err != nil {
		return models.Team{}, err
	}
	if record == nil {
		return models.Team{}, notFound(CodeTeamNotFound, "Team not found")
	}
	team := models.AsTeam(record)
	if ownerOnly && team.OwnerID() != ident.UserID() {
		return models.Team{}, forbidden(CodeNotTeamOwner, "Only team owner can "+action)
	}
	return team, nil
}

// GET /api/teams/my-team
func (h *TeamsHandler) MyTeam(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, r, "Authentication required")
		return
	}

	team, err := h.ownTeam(r.Context(), ident, false, "")
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	members, err := h.activeMembers(r.Context(), team.ID())
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	ownerRecord, err := findByID(r.Context(), h.store, models.TableUsers, team.OwnerID())
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}

	teamData := team.Record.Clone()
	teamData["members_count"] = len(members)
	teamData["is_owner"] = team.OwnerID() == ident.UserID()
	if ownerRecord != nil {
		owner := models.AsUser(ownerRecord)
		teamData["owner_first_name"] = owner.String("first_name")
		teamData["owner_last_name"] = owner.String("last_name")
		teamData["owner_username"] = owner.String("username")
	} else {
		teamData["owner_first_name"] = "Unknown"
	}

	utils.WriteSuccessResponse(w, r, map[string]interface{}{
		"team":    teamData,
		"members": members,
	})
}

// CreateTeamRequest is the body of POST /api/teams/create
type CreateTeamRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// POST /api/teams/create
func (h *TeamsHandler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, r, "Authentication required")
		return
	}
	if _, ok := ident.TeamID(); ok {
		utils.WriteError(w, r, badRequest(CodeAlreadyInTeam, "User already has a team"))
		return
	}

	var req CreateTeamRequest
	if err := decodeBody(r, &req); err != nil {
		utils.WriteError(w, r, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = fmt.Sprintf("Team %d", ident.UserID())
	}

	team, err := h.auth.CreateTeam(r.Context(), ident.UserID(), name, strings.TrimSpace(req.Description))
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	if _, err := h.store.Update(r.Context(), models.TableUsers,
		database.Conditions{"id": ident.UserID()}, models.Record{"team_id": team.ID()}); err != nil {
		utils.WriteError(w, r, err)
		return
	}

	utils.WriteCreatedResponse(w, r, team.Record)
}

// JoinTeamRequest is the body of POST /api/teams/join
type JoinTeamRequest struct {
	InviteCode string `json:"invite_code"`
}

// POST /api/teams/join
func (h *TeamsHandler) JoinTeam(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, r, "Authentication required")
		return
	}

	var req JoinTeamRequest
	if err := decodeBody(r, &req); err != nil {
		utils.WriteError(w, r, err)
		return
	}
	code := strings.ToUpper(strings.TrimSpace(req.InviteCode))
	if code == "" {
		utils.WriteError(w, r, badRequest(CodeInviteCodeRequired, "Invite code is required"))
		return
	}
	if _, ok := ident.TeamID(); ok {
		utils.WriteError(w, r, badRequest(CodeAlreadyInTeam, "User already in a team"))
		return
	}

	rows, err := h.store.Select(r.Context(), models.TableTeams, database.Conditions{"invite_code": code}, nil)
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	if len(rows) == 0 {
		utils.WriteError(w, r, badRequest(CodeInvalidInviteCode, "Invalid invite code"))
		return
	}
	team := models.AsTeam(rows[0])

	if _, err := h.store.Update(r.Context(), models.TableUsers,
		database.Conditions{"id": ident.UserID()}, models.Record{"team_id": team.ID()}); err != nil {
		utils.WriteError(w, r, err)
		return
	}

	publish(r.Context(), h.publisher, h.log, events.SubjectTeamMemberJoined, ident.UserID(), map[string]interface{}{
		"team_id": team.ID(),
		"user_id": ident.UserID(),
	})
	utils.WriteSuccessResponse(w, r, map[string]interface{}{
		"team_id":   team.ID(),
		"team_name": team.Name(),
	})
}

// POST /api/teams/regenerate-invite
func (h *TeamsHandler) RegenerateInvite(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, r, "Authentication required")
		return
	}

	team, err := h.ownTeam(r.Context(), ident, true, "regenerate invite code")
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	code, err := h.auth.RegenerateInviteCode(r.Context(), team.ID())
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}

	h.log.WithContext(r.Context()).Audit("invite code regenerated", "team_id", team.ID(), "user_id", ident.UserID())
	utils.WriteSuccessResponse(w, r, map[string]string{"invite_code": code})
}

// DELETE /api/teams/remove-member/{memberId}
func (h *TeamsHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, r, "Authentication required")
		return
	}
	memberID, err := pathID(r, "memberId")
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}

	team, err := h.ownTeam(r.Context(), ident, true, "remove members")
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	if memberID == ident.UserID() {
		utils.WriteError(w, r, badRequest(CodeCannotRemoveSelf, "Cannot remove yourself from team"))
		return
	}

	removed, err := h.store.Update(r.Context(), models.TableUsers,
		database.Conditions{"id": memberID, "team_id": team.ID()}, models.Record{"team_id": nil})
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	if removed == 0 {
		utils.WriteError(w, r, notFound(CodeMemberNotFound, "Member not found in team"))
		return
	}

	publish(r.Context(), h.publisher, h.log, events.SubjectTeamMemberRemoved, ident.UserID(), map[string]interface{}{
		"team_id": team.ID(),
		"user_id": memberID,
	})
	utils.WriteSuccessResponse(w, r, map[string]interface{}{"removed": true, "member_id": memberID})
}

// GET /api/teams/{id}/members
func (h *TeamsHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, r, "Authentication required")
		return
	}
	teamID, err := pathID(r, "id")
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	if own, _ := ident.TeamID(); own != teamID && !ident.User.IsAdmin() {
		utils.WriteError(w, r, forbidden(CodeAccessDenied, "Access denied"))
		return
	}

	members, err := h.activeMembers(r.Context(), teamID)
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	utils.WriteSuccessResponse(w, r, members)
}

// PUT /api/teams/{id}
func (h *TeamsHandler) UpdateTeam(w http.ResponseWriter, r *http.Request) {
	teamID, err := pathID(r, "id")
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}

	var req CreateTeamRequest
	if err := decodeBody(r, &req); err != nil {
		utils.WriteError(w, r, err)
		return
	}
	updates := models.Record{}
	if name := strings.TrimSpace(req.Name); name != "" {
		updates["name"] = name
	}
	if req.Description != "" {
		updates["description"] = strings.TrimSpace(req.Description)
	}
	if len(updates) == 0 {
		utils.WriteValidationErrorResponse(w, r, "Nothing to update", "name or description is required")
		return
	}

	if _, err := h.store.Update(r.Context(), models.TableTeams, database.Conditions{"id": teamID}, updates); err != nil {
		utils.WriteError(w, r, err)
		return
	}
	team, err := findByID(r.Context(), h.store, models.TableTeams, teamID)
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	if team == nil {
		utils.WriteError(w, r, notFound(CodeTeamNotFound, "Team not found"))
		return
	}
	utils.WriteSuccessResponse(w, r, team)
}
