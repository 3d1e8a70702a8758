package handlers

import (
	"net/http"
	"strings"
	"time"

	"teamboard-backend/pkg/config"
	"teamboard-backend/pkg/identity"
	"teamboard-backend/pkg/logger"
	"teamboard-backend/pkg/middleware"
	"teamboard-backend/pkg/utils"
)

// AuthHandler serves Telegram sign-in and session endpoints
type AuthHandler struct {
	config *config.Config
	auth   *identity.Service
	log    *logger.Logger
}

func NewAuthHandler(cfg *config.Config, auth *identity.Service) *AuthHandler {
	return &AuthHandler{config: cfg, auth: auth, log: logger.Default().Named("auth")}
}

// TelegramAuthRequest carries the raw initData string
type TelegramAuthRequest struct {
	InitData string `json:"initData"`
	// InitDataSnake is accepted from older clients
	InitDataSnake string `json:"init_data,omitempty"`
}

// AuthResponse is returned by sign-in and profile completion
type AuthResponse struct {
	User                   map[string]interface{} `json:"user"`
	Token                  string                 `json:"token"`
	ExpiresAt              time.Time              `json:"expiresAt"`
	IsNewUser              bool                   `json:"isNewUser"`
	NeedsProfileCompletion bool                   `json:"needsProfileCompletion"`
}

func newAuthResponse(result *identity.AuthResult) AuthResponse {
	return AuthResponse{
		User:                   result.User.Public(),
		Token:                  result.Token,
		ExpiresAt:              result.ExpiresAt,
		IsNewUser:              result.IsNewUser,
		NeedsProfileCompletion: result.NeedsProfileCompletion,
	}
}

// POST /api/auth/telegram
func (h *AuthHandler) TelegramAuth(w http.ResponseWriter, r *http.Request) {
	var req TelegramAuthRequest
	if err := decodeBody(r, &req); err != nil {
		utils.WriteError(w, r, err)
		return
	}

	credential := strings.TrimSpace(req.InitData)
	if credential == "" {
		credential = strings.TrimSpace(req.InitDataSnake)
	}
	if credential == "" {
		credential = strings.TrimSpace(r.Header.Get("X-Telegram-Init-Data"))
	}

	result, err := h.auth.Authenticate(r.Context(), credential)
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}

	h.log.WithContext(r.Context()).Info("telegram sign-in",
		"user_id", result.User.ID(), "new_user", result.IsNewUser)
	utils.WriteSuccessResponse(w, r, newAuthResponse(result))
}

// GET /api/auth/validate
func (h *AuthHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, r, "Authentication required")
		return
	}

	utils.WriteSuccessResponse(w, r, map[string]interface{}{
		"valid":                  true,
		"user":                   ident.User.Public(),
		"needsProfileCompletion": !ident.User.ProfileComplete(),
	})
}

// POST /api/auth/complete-profile
func (h *AuthHandler) CompleteProfile(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.RequireIdentity(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, r, "Authentication required")
		return
	}

	patch := map[string]interface{}{}
	if err := decodeBody(r, &patch); err != nil {
		utils.WriteError(w, r, err)
		return
	}

	result, err := h.auth.CompleteProfile(r.Context(), ident.UserID(), patch)
	if err != nil {
		utils.WriteError(w, r, err)
		return
	}
	utils.WriteSuccessResponse(w, r, newAuthResponse(result))
}
