package models

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Table names
const (
	TableUsers          = "users"
	TableTeams          = "teams"
	TableTasks          = "tasks"
	TableTaskStatuses   = "task_statuses"
	TableTaskPriorities = "task_priorities"
	TableEmployeeNotes  = "employee_notes"
	TableTaskComments   = "task_comments"
)

// RequiredProfileFields must all be set before a profile counts as complete
var RequiredProfileFields = []string{"email", "phone", "position", "company"}

// ProfileFields can be edited by the user through complete-profile / profile update
var ProfileFields = []string{"email", "phone", "position", "department", "company", "bio", "birthday"}

// User is a typed view over a users record
type User struct {
	Record
}

// AsUser wraps a record
func AsUser(r Record) User { return User{Record: r} }

func (u User) TelegramID() int64 {
	id, _ := u.Int("telegram_id")
	return id
}

// TeamID returns the team id; ok is false when the user has no team
func (u User) TeamID() (int64, bool) {
	id, ok := u.Int("team_id")
	return id, ok && id > 0
}

func (u User) IsActive() bool { return u.Bool("is_active") }
func (u User) IsAdmin() bool  { return u.Bool("is_admin") }

// ProfileComplete reports whether email, phone, position and company are set
func (u User) ProfileComplete() bool {
	for _, field := range RequiredProfileFields {
		if !u.NonEmpty(field) {
			return false
		}
	}
	return true
}

// DisplayName joins first and last name
func (u User) DisplayName() string {
	return strings.TrimSpace(u.String("first_name") + " " + u.String("last_name"))
}

// Public returns the fields exposed to clients
func (u User) Public() map[string]interface{} {
	teamID := interface{}(nil)
	if id, ok := u.TeamID(); ok {
		teamID = id
	}
	return map[string]interface{}{
		"id":          u.ID(),
		"telegram_id": u.TelegramID(),
		"username":    u.Record["username"],
		"name":        u.DisplayName(),
		"first_name":  u.Record["first_name"],
		"last_name":   u.Record["last_name"],
		"email":       u.Record["email"],
		"phone":       u.Record["phone"],
		"position":    u.Record["position"],
		"department":  u.Record["department"],
		"company":     u.Record["company"],
		"bio":         u.Record["bio"],
		"birthday":    u.Record["birthday"],
		"avatar_url":  u.Record["avatar_url"],
		"team_id":     teamID,
		"is_admin":    u.IsAdmin(),
		"is_active":   u.IsActive(),
		"is_complete": u.ProfileComplete(),
	}
}

// SessionClaims is the payload of a session token
type SessionClaims struct {
	UserID     int64 `json:"userId"`
	TelegramID int64 `json:"telegramId"`
	TeamID     int64 `json:"teamId,omitempty"`
	jwt.RegisteredClaims
}
