// Package identity turns Telegram credentials into users and session tokens
// and enforces the authorization tiers.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"teamboard-backend/pkg/database"
	"teamboard-backend/pkg/events"
	"teamboard-backend/pkg/logger"
	"teamboard-backend/pkg/models"
	"teamboard-backend/pkg/telegram"
	"teamboard-backend/pkg/utils"
)

// Tier is an authorization level
type Tier string

const (
	TierAuthenticated Tier = "authenticated"
	TierAdmin         Tier = "admin"
	TierOwnerOrAdmin  Tier = "owner-or-admin"
)

// ResourceKind names what an owner-or-admin check is about
type ResourceKind string

const (
	ResourceTask ResourceKind = "task"
	ResourceUser ResourceKind = "user"
	ResourceTeam ResourceKind = "team"
)

// ResourceRef points at the record an owner-or-admin check protects
type ResourceRef struct {
	Kind ResourceKind
	ID   int64
}

// Identity is the result of a successful authorization
type Identity struct {
	User   models.User
	Claims *models.SessionClaims
	// Resource is the record loaded for task and team checks, if any
	Resource models.Record
}

// UserID returns the authenticated user's id
func (i *Identity) UserID() int64 {
	return i.User.ID()
}

// TeamID returns the user's current team from storage, not from the token
func (i *Identity) TeamID() (int64, bool) {
	return i.User.TeamID()
}

// AuthResult is returned by Authenticate and CompleteProfile
type AuthResult struct {
	User                   models.User
	Token                  string
	ExpiresAt              time.Time
	IsNewUser              bool
	NeedsProfileCompletion bool
}

// Config tunes credential handling
type Config struct {
	BotToken       string
	InitDataMaxAge time.Duration
	Production     bool
	// AllowRawIdentity accepts a bare numeric Telegram id as credential
	AllowRawIdentity bool
}

// Service implements authentication and authorization
type Service struct {
	store     database.Store
	jwt       *utils.JWTService
	publisher events.Publisher
	config    Config
	log       *logger.Logger

	// provisioning of users and teams runs one at a time
	provisionMu sync.Mutex
}

// NewService wires a Service. A nil publisher disables events.
func NewService(store database.Store, jwtService *utils.JWTService, publisher events.Publisher, config Config) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		store:     store,
		jwt:       jwtService,
		publisher: publisher,
		config:    config,
		log:       logger.Default().Named("identity"),
	}
}

// externalIdentity is the parsed credential
type externalIdentity struct {
	telegramID int64
	profile    *telegram.User
}

// Authenticate exchanges a credential for a user and a session token,
// creating the user and a personal team on first sight.
func (s *Service) Authenticate(ctx context.Context, credential string) (*AuthResult, error) {
	ident, err := s.parseCredential(credential)
	if err != nil {
		return nil, err
	}
	log := s.log.WithContext(ctx)

	s.provisionMu.Lock()
	user, isNew, err := s.resolveUser(ctx, ident)
	if err == nil && user.IsActive() {
		if _, ok := user.TeamID(); !ok {
			user, err = s.provisionPersonalTeam(ctx, user)
		}
	}
	s.provisionMu.Unlock()
	if err != nil {
		log.Error("authentication failed", "telegram_id", ident.telegramID, "error", err)
		return nil, authFailure(err)
	}

	if !user.IsActive() {
		log.Audit("deactivated user tried to authenticate", "user_id", user.ID())
		return nil, errUserUnavailable("User account is deactivated")
	}

	result, err := s.issue(user)
	if err != nil {
		return nil, err
	}
	result.IsNewUser = isNew

	log.Audit("user authenticated", "user_id", user.ID(), "telegram_id", ident.telegramID, "new_user", isNew)
	return result, nil
}

// Authorize verifies token and enforces tier. ref is required for
// TierOwnerOrAdmin and ignored otherwise.
func (s *Service) Authorize(ctx context.Context, token string, tier Tier, ref *ResourceRef) (*Identity, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errTokenRequired()
	}

	claims, err := s.jwt.ValidateToken(token)
	if err != nil {
		if errors.Is(err, utils.ErrTokenExpired) {
			return nil, errTokenExpired(err)
		}
		s.log.WithContext(ctx).Debug("token rejected", "error", err)
		return nil, errInvalidToken(err)
	}

	user, found, err := s.findUser(ctx, database.Conditions{"id": claims.UserID})
	if err != nil {
		return nil, storeError(err)
	}
	if !found {
		return nil, errUserUnavailable("User not found")
	}
	if !user.IsActive() {
		return nil, errUserUnavailable("User account is deactivated")
	}

	ident := &Identity{User: user, Claims: claims}

	switch tier {
	case TierAuthenticated, "":
		return ident, nil
	case TierAdmin:
		if !user.IsAdmin() {
			s.log.WithContext(ctx).Audit("admin access denied", "user_id", user.ID())
			return nil, errAdminRequired()
		}
		return ident, nil
	case TierOwnerOrAdmin:
		if err := s.checkOwnership(ctx, ident, ref); err != nil {
			return nil, err
		}
		return ident, nil
	}
	return nil, fmt.Errorf("unknown authorization tier %q", tier)
}

// CompleteProfile stores the non-empty profile fields of patch and returns
// the refreshed user with a new token.
func (s *Service) CompleteProfile(ctx context.Context, userID int64, patch map[string]interface{}) (*AuthResult, error) {
	updates := models.Record{}
	for _, field := range models.ProfileFields {
		value, ok := patch[field]
		if !ok || value == nil {
			continue
		}
		if str, isString := value.(string); isString {
			str = strings.TrimSpace(str)
			if str == "" {
				continue
			}
			value = str
		}
		updates[field] = value
	}

	if len(updates) > 0 {
		if _, err := s.store.Update(ctx, models.TableUsers, database.Conditions{"id": userID}, updates); err != nil {
			return nil, storeError(err)
		}
	}

	user, found, err := s.findUser(ctx, database.Conditions{"id": userID})
	if err != nil {
		return nil, storeError(err)
	}
	if !found {
		return nil, errNotFound("User not found")
	}
	return s.issue(user)
}

// IssueToken mints a token for the current state of user
func (s *Service) IssueToken(user models.User) (*AuthResult, error) {
	return s.issue(user)
}

func (s *Service) issue(user models.User) (*AuthResult, error) {
	teamID, _ := user.TeamID()
	token, expiresAt, err := s.jwt.GenerateSessionToken(user.ID(), user.TelegramID(), teamID)
	if err != nil {
		return nil, errAuth(err)
	}
	return &AuthResult{
		User:                   user,
		Token:                  token,
		ExpiresAt:              expiresAt,
		NeedsProfileCompletion: !user.ProfileComplete(),
	}, nil
}

func (s *Service) parseCredential(credential string) (*externalIdentity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, errInitDataMissing(telegram.ErrInitDataMissing)
	}

	if s.config.AllowRawIdentity && isDigits(credential) {
		id, err := strconv.ParseInt(credential, 10, 64)
		if err != nil || id <= 0 {
			return nil, errUserDataMissing(fmt.Errorf("invalid telegram id %q", credential))
		}
		s.log.Warn("accepting raw telegram id as credential", "telegram_id", id)
		return &externalIdentity{telegramID: id}, nil
	}

	data, err := telegram.Process(credential, telegram.Options{
		BotToken:   s.config.BotToken,
		MaxAge:     s.config.InitDataMaxAge,
		Production: s.config.Production,
		Logger:     s.log,
	})
	switch {
	case err == nil:
		return &externalIdentity{telegramID: data.User.ID, profile: data.User}, nil
	case errors.Is(err, telegram.ErrUserDataMissing):
		return nil, errUserDataMissing(err)
	case errors.Is(err, telegram.ErrInitDataMissing):
		return nil, errInitDataMissing(err)
	default:
		return nil, errAuth(err)
	}
}

// resolveUser finds the user for ident or creates it. The caller holds provisionMu.
func (s *Service) resolveUser(ctx context.Context, ident *externalIdentity) (models.User, bool, error) {
	conditions := database.Conditions{"telegram_id": ident.telegramID}
	user, found, err := s.findUser(ctx, conditions)
	if err != nil {
		return models.User{}, false, err
	}

	if !found {
		record, err := s.store.Insert(ctx, models.TableUsers, newUserProfile(ident))
		if errors.Is(err, database.ErrDuplicate) {
			// created by another process since the lookup
			user, found, err = s.findUser(ctx, conditions)
			if err == nil && !found {
				err = fmt.Errorf("user %d vanished after duplicate insert", ident.telegramID)
			}
			return user, false, err
		}
		if err != nil {
			return models.User{}, false, err
		}
		s.publish(ctx, events.SubjectUserCreated, record.ID(), map[string]interface{}{
			"user_id":     record.ID(),
			"telegram_id": ident.telegramID,
		})
		return models.AsUser(record), true, nil
	}

	// deactivated users are rejected by the caller, leave them untouched
	if !user.IsActive() {
		return user, false, nil
	}

	updates := changedProfileFields(user, ident.profile)
	if len(updates) == 0 {
		return user, false, nil
	}
	if _, err := s.store.Update(ctx, models.TableUsers, database.Conditions{"id": user.ID()}, updates); err != nil {
		return models.User{}, false, err
	}
	user, found, err = s.findUser(ctx, database.Conditions{"id": user.ID()})
	if err == nil && !found {
		err = fmt.Errorf("user %d vanished after update", ident.telegramID)
	}
	return user, false, err
}

// provisionPersonalTeam creates "<name> Team" owned by user and back-fills team_id
func (s *Service) provisionPersonalTeam(ctx context.Context, user models.User) (models.User, error) {
	name := firstNonEmpty(user.String("first_name"), user.String("username"), "User") + " Team"
	team, err := s.CreateTeam(ctx, user.ID(), name, "")
	if err != nil {
		return models.User{}, err
	}

	if _, err := s.store.Update(ctx, models.TableUsers, database.Conditions{"id": user.ID()}, models.Record{"team_id": team.ID()}); err != nil {
		return models.User{}, err
	}
	updated, found, err := s.findUser(ctx, database.Conditions{"id": user.ID()})
	if err != nil {
		return models.User{}, err
	}
	if !found {
		return models.User{}, fmt.Errorf("user %d vanished after team provisioning", user.ID())
	}
	return updated, nil
}

func (s *Service) checkOwnership(ctx context.Context, ident *Identity, ref *ResourceRef) error {
	if ident.User.IsAdmin() {
		return nil
	}
	if ref == nil {
		return errAccessDenied()
	}

	userID := ident.User.ID()
	switch ref.Kind {
	case ResourceUser:
		if ref.ID == userID {
			return nil
		}
	case ResourceTask:
		record, err := s.findOne(ctx, models.TableTasks, ref.ID)
		if err != nil {
			return err
		}
		if record == nil {
			return errNotFound("Task not found")
		}
		ident.Resource = record
		if models.AsTask(record).InvolvesUser(userID) {
			return nil
		}
	case ResourceTeam:
		record, err := s.findOne(ctx, models.TableTeams, ref.ID)
		if err != nil {
			return err
		}
		if record == nil {
			return errNotFound("Team not found")
		}
		ident.Resource = record
		if models.AsTeam(record).OwnerID() == userID {
			return nil
		}
	}

	s.log.WithContext(ctx).Audit("resource access denied", "user_id", userID, "resource", string(ref.Kind), "resource_id", ref.ID)
	return errAccessDenied()
}

func (s *Service) findOne(ctx context.Context, table string, id int64) (models.Record, error) {
	rows, err := s.store.Select(ctx, table, database.Conditions{"id": id}, nil)
	if err != nil {
		return nil, storeError(err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *Service) findUser(ctx context.Context, conditions database.Conditions) (models.User, bool, error) {
	rows, err := s.store.Select(ctx, models.TableUsers, conditions, nil)
	if err != nil {
		return models.User{}, false, err
	}
	if len(rows) == 0 {
		return models.User{}, false, nil
	}
	return models.AsUser(rows[0]), true, nil
}

func (s *Service) publish(ctx context.Context, subject string, actorID int64, payload map[string]interface{}) {
	if err := s.publisher.Publish(ctx, events.NewEvent(subject, actorID, payload)); err != nil {
		s.log.WithContext(ctx).Warn("failed to publish event", "subject", subject, "error", err)
	}
}

// newUserProfile leaves every profile field the credential cannot supply null
func newUserProfile(ident *externalIdentity) models.Record {
	record := models.Record{
		"telegram_id": ident.telegramID,
		"username":    nil,
		"first_name":  nil,
		"last_name":   nil,
		"avatar_url":  nil,
		"team_id":     nil,
		"is_active":   true,
		"is_admin":    false,
	}
	for _, field := range models.ProfileFields {
		record[field] = nil
	}

	if p := ident.profile; p != nil {
		record["username"] = nullIfEmpty(p.Username)
		record["first_name"] = nullIfEmpty(p.FirstName)
		record["last_name"] = nullIfEmpty(p.LastName)
		record["avatar_url"] = nullIfEmpty(p.PhotoURL)
		record["language_code"] = nullIfEmpty(p.LanguageCode)
		record["is_premium"] = p.IsPremium
		record["allows_write_to_pm"] = p.AllowsWriteToPM
	}
	return record
}

// changedProfileFields compares the Telegram-owned fields only
func changedProfileFields(user models.User, profile *telegram.User) models.Record {
	updates := models.Record{}
	if profile == nil {
		return updates
	}
	fields := map[string]string{
		"username":   profile.Username,
		"first_name": profile.FirstName,
		"last_name":  profile.LastName,
		"avatar_url": profile.PhotoURL,
	}
	for field, value := range fields {
		if user.String(field) != value {
			updates[field] = nullIfEmpty(value)
		}
	}
	return updates
}

func storeError(err error) error {
	if err == nil {
		return nil
	}
	var identityErr *Error
	if errors.As(err, &identityErr) {
		return err
	}
	if errors.Is(err, database.ErrStorageUnavailable) {
		return errStorage(err)
	}
	return err
}

// authFailure keeps coded and storage errors and reports the rest as AUTH_ERROR
func authFailure(err error) error {
	mapped := storeError(err)
	var identityErr *Error
	if errors.As(mapped, &identityErr) {
		return mapped
	}
	return errAuth(err)
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
