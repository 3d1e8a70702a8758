package identity

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"teamboard-backend/pkg/database"
	"teamboard-backend/pkg/events"
	"teamboard-backend/pkg/models"
	"teamboard-backend/pkg/telegram"
	"teamboard-backend/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBotToken = "42:BOT"

type fixture struct {
	service   *Service
	store     *database.LocalDatabase
	publisher *events.MemoryPublisher
	jwt       *utils.JWTService
}

func newFixture(t *testing.T, config Config) *fixture {
	t.Helper()
	store, err := database.NewLocalDatabase(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.InitializeDatabase(context.Background()))

	publisher := &events.MemoryPublisher{}
	jwtService := utils.NewJWTService("test-secret", time.Hour)
	return &fixture{
		service:   NewService(store, jwtService, publisher, config),
		store:     store,
		publisher: publisher,
		jwt:       jwtService,
	}
}

func initData(t *testing.T, user string) string {
	t.Helper()
	values := url.Values{}
	values.Set("user", user)
	values.Set("auth_date", strconv.FormatInt(time.Now().Unix(), 10))
	return telegram.Sign(values, testBotToken)
}

func (f *fixture) count(t *testing.T, table string, conditions database.Conditions) int {
	t.Helper()
	rows, err := f.store.Select(context.Background(), table, conditions, nil)
	require.NoError(t, err)
	return len(rows)
}

func TestAuthenticateNewUser(t *testing.T) {
	f := newFixture(t, Config{BotToken: testBotToken, Production: true})
	ctx := context.Background()

	result, err := f.service.Authenticate(ctx, initData(t, `{"id":777,"first_name":"Ann","username":"ann","photo_url":"https://img/ann.png"}`))
	require.NoError(t, err)

	assert.True(t, result.IsNewUser)
	assert.True(t, result.NeedsProfileCompletion)
	assert.Equal(t, int64(777), result.User.TelegramID())
	assert.Equal(t, "https://img/ann.png", result.User.String("avatar_url"))
	assert.True(t, result.User.IsActive())
	assert.False(t, result.User.IsAdmin())
	assert.Nil(t, result.User.Record["email"])

	assert.Equal(t, 1, f.count(t, models.TableUsers, nil))
	teams, err := f.store.Read(ctx, models.TableTeams)
	require.NoError(t, err)
	require.Len(t, teams, 1)
	team := models.AsTeam(teams[0])
	assert.Equal(t, "Ann Team", team.Name())
	assert.Equal(t, result.User.ID(), team.OwnerID())
	assert.Regexp(t, `^[0-9A-Z]{6}$`, team.InviteCode())

	teamID, ok := result.User.TeamID()
	require.True(t, ok)
	assert.Equal(t, team.ID(), teamID)

	claims, err := f.jwt.ValidateToken(result.Token)
	require.NoError(t, err)
	assert.Equal(t, result.User.ID(), claims.UserID)
	assert.Equal(t, int64(777), claims.TelegramID)
	assert.Equal(t, teamID, claims.TeamID)

	assert.Equal(t, []string{events.SubjectUserCreated, events.SubjectTeamCreated}, f.publisher.Subjects())
}

func TestAuthenticateRepeatUpdatesChangedFields(t *testing.T) {
	f := newFixture(t, Config{BotToken: testBotToken, Production: true})
	ctx := context.Background()

	first, err := f.service.Authenticate(ctx, initData(t, `{"id":777,"first_name":"Ann","username":"ann"}`))
	require.NoError(t, err)

	second, err := f.service.Authenticate(ctx, initData(t, `{"id":777,"first_name":"Anna","username":"ann"}`))
	require.NoError(t, err)

	assert.False(t, second.IsNewUser)
	assert.Equal(t, first.User.ID(), second.User.ID())
	assert.Equal(t, "Anna", second.User.String("first_name"))
	assert.Equal(t, "ann", second.User.String("username"))

	firstTeam, _ := first.User.TeamID()
	secondTeam, _ := second.User.TeamID()
	assert.Equal(t, firstTeam, secondTeam)

	assert.Equal(t, 1, f.count(t, models.TableUsers, nil))
	assert.Equal(t, 1, f.count(t, models.TableTeams, nil))
}

func TestAuthenticateRawIDProvisionsMissingTeam(t *testing.T) {
	f := newFixture(t, Config{AllowRawIdentity: true})
	ctx := context.Background()

	existing, err := f.store.Insert(ctx, models.TableUsers, models.Record{
		"telegram_id": 555,
		"team_id":     nil,
		"is_active":   true,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), existing.ID())

	result, err := f.service.Authenticate(ctx, "555")
	require.NoError(t, err)

	assert.False(t, result.IsNewUser)
	assert.True(t, result.NeedsProfileCompletion)
	teamID, ok := result.User.TeamID()
	require.True(t, ok)

	teams, err := f.store.Select(ctx, models.TableTeams, database.Conditions{"id": teamID}, nil)
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.Equal(t, int64(1), models.AsTeam(teams[0]).OwnerID())
	assert.Equal(t, "User Team", models.AsTeam(teams[0]).Name())
}

func TestAuthenticateRejectsRawIDWhenDisabled(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.service.Authenticate(context.Background(), "555")
	assert.True(t, HasCode(err, CodeUserDataMissing), "%v", err)
}

func TestAuthenticateCredentialErrors(t *testing.T) {
	f := newFixture(t, Config{BotToken: testBotToken, Production: true})
	ctx := context.Background()

	_, err := f.service.Authenticate(ctx, "")
	assert.True(t, HasCode(err, CodeInitDataMissing))

	forged := url.Values{}
	forged.Set("user", `{"id":1}`)
	forged.Set("auth_date", "1700000000")
	forged.Set("hash", "00")
	_, err = f.service.Authenticate(ctx, forged.Encode())
	assert.True(t, HasCode(err, CodeAuthError), "%v", err)

	noUser := telegram.Sign(url.Values{"auth_date": {"1700000000"}}, testBotToken)
	_, err = f.service.Authenticate(ctx, noUser)
	assert.True(t, HasCode(err, CodeUserDataMissing), "%v", err)

	assert.Zero(t, f.count(t, models.TableUsers, nil))
}

func TestAuthenticateDeactivatedUser(t *testing.T) {
	f := newFixture(t, Config{AllowRawIdentity: true})
	ctx := context.Background()

	_, err := f.store.Insert(ctx, models.TableUsers, models.Record{"telegram_id": 9, "team_id": 1, "is_active": false})
	require.NoError(t, err)

	_, err = f.service.Authenticate(ctx, "9")
	var idErr *Error
	require.ErrorAs(t, err, &idErr)
	assert.Equal(t, http.StatusUnauthorized, idErr.Status)
}

func TestAuthenticateDeactivatedUserLeavesRecordsUntouched(t *testing.T) {
	f := newFixture(t, Config{BotToken: testBotToken, Production: true})
	ctx := context.Background()

	_, err := f.store.Insert(ctx, models.TableUsers, models.Record{
		"telegram_id": 321,
		"first_name":  "Old",
		"team_id":     nil,
		"is_active":   false,
	})
	require.NoError(t, err)

	_, err = f.service.Authenticate(ctx, initData(t, `{"id":321,"first_name":"New"}`))
	require.Error(t, err)
	assert.True(t, HasCode(err, CodeInvalidToken), "%v", err)

	rows, err := f.store.Select(ctx, models.TableUsers, database.Conditions{"telegram_id": 321}, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	user := models.AsUser(rows[0])
	assert.Equal(t, "Old", user.String("first_name"))
	_, hasTeam := user.TeamID()
	assert.False(t, hasTeam)
	assert.Zero(t, f.count(t, models.TableTeams, nil))
	assert.Empty(t, f.publisher.Events())
}

func TestConcurrentAuthenticationCreatesOneUser(t *testing.T) {
	f := newFixture(t, Config{AllowRawIdentity: true})
	ctx := context.Background()

	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			_, err := f.service.Authenticate(ctx, "321")
			errs <- err
		}()
	}
	for i := 0; i < 10; i++ {
		assert.NoError(t, <-errs)
	}

	assert.Equal(t, 1, f.count(t, models.TableUsers, nil))
	assert.Equal(t, 1, f.count(t, models.TableTeams, nil))
}

func authenticate(t *testing.T, f *fixture, telegramID int) *AuthResult {
	t.Helper()
	result, err := f.service.Authenticate(context.Background(), strconv.Itoa(telegramID))
	require.NoError(t, err)
	return result
}

func TestAuthorizeTiers(t *testing.T) {
	f := newFixture(t, Config{AllowRawIdentity: true})
	ctx := context.Background()

	member := authenticate(t, f, 100)
	admin := authenticate(t, f, 200)
	_, err := f.store.Update(ctx, models.TableUsers, database.Conditions{"id": admin.User.ID()}, models.Record{"is_admin": true})
	require.NoError(t, err)

	ident, err := f.service.Authorize(ctx, member.Token, TierAuthenticated, nil)
	require.NoError(t, err)
	assert.Equal(t, member.User.ID(), ident.UserID())

	_, err = f.service.Authorize(ctx, member.Token, TierAdmin, nil)
	assert.True(t, HasCode(err, CodeAdminRequired))

	_, err = f.service.Authorize(ctx, admin.Token, TierAdmin, nil)
	assert.NoError(t, err)
}

func TestAuthorizeOwnerOrAdmin(t *testing.T) {
	f := newFixture(t, Config{AllowRawIdentity: true})
	ctx := context.Background()

	creator := authenticate(t, f, 100)
	assignee := authenticate(t, f, 200)
	stranger := authenticate(t, f, 300)

	task, err := f.store.Insert(ctx, models.TableTasks, models.Record{
		"title":       "ship it",
		"created_by":  creator.User.ID(),
		"assigned_to": assignee.User.ID(),
	})
	require.NoError(t, err)
	ref := &ResourceRef{Kind: ResourceTask, ID: task.ID()}

	ident, err := f.service.Authorize(ctx, creator.Token, TierOwnerOrAdmin, ref)
	require.NoError(t, err)
	assert.Equal(t, task.ID(), ident.Resource.ID())

	_, err = f.service.Authorize(ctx, assignee.Token, TierOwnerOrAdmin, ref)
	assert.NoError(t, err)

	_, err = f.service.Authorize(ctx, stranger.Token, TierOwnerOrAdmin, ref)
	assert.True(t, HasCode(err, CodeAccessDenied))

	_, err = f.service.Authorize(ctx, creator.Token, TierOwnerOrAdmin, &ResourceRef{Kind: ResourceTask, ID: 999})
	assert.True(t, HasCode(err, CodeNotFound))

	_, err = f.service.Authorize(ctx, stranger.Token, TierOwnerOrAdmin, &ResourceRef{Kind: ResourceUser, ID: stranger.User.ID()})
	assert.NoError(t, err)
	_, err = f.service.Authorize(ctx, stranger.Token, TierOwnerOrAdmin, &ResourceRef{Kind: ResourceUser, ID: creator.User.ID()})
	assert.True(t, HasCode(err, CodeAccessDenied))

	teamID, _ := creator.User.TeamID()
	_, err = f.service.Authorize(ctx, creator.Token, TierOwnerOrAdmin, &ResourceRef{Kind: ResourceTeam, ID: teamID})
	assert.NoError(t, err)
	_, err = f.service.Authorize(ctx, stranger.Token, TierOwnerOrAdmin, &ResourceRef{Kind: ResourceTeam, ID: teamID})
	assert.True(t, HasCode(err, CodeAccessDenied))
}

func TestAuthorizeTokenFailures(t *testing.T) {
	f := newFixture(t, Config{AllowRawIdentity: true})
	ctx := context.Background()

	_, err := f.service.Authorize(ctx, "", TierAuthenticated, nil)
	assert.True(t, HasCode(err, CodeInvalidToken))

	_, err = f.service.Authorize(ctx, "garbage", TierAuthenticated, nil)
	var idErr *Error
	require.ErrorAs(t, err, &idErr)
	assert.Equal(t, CodeInvalidToken, idErr.Code)
	assert.Equal(t, http.StatusForbidden, idErr.Status)

	expired, _, err := utils.NewJWTService("test-secret", -time.Minute).GenerateSessionToken(1, 1, 0)
	require.NoError(t, err)
	_, err = f.service.Authorize(ctx, expired, TierAuthenticated, nil)
	assert.True(t, HasCode(err, CodeTokenExpired))

	// valid signature for a user that does not exist
	ghost, _, err := f.jwt.GenerateSessionToken(404, 404, 0)
	require.NoError(t, err)
	_, err = f.service.Authorize(ctx, ghost, TierAuthenticated, nil)
	require.ErrorAs(t, err, &idErr)
	assert.Equal(t, http.StatusUnauthorized, idErr.Status)

	// deactivated after the token was issued
	user := authenticate(t, f, 500)
	_, err = f.store.Update(ctx, models.TableUsers, database.Conditions{"id": user.User.ID()}, models.Record{"is_active": false})
	require.NoError(t, err)
	_, err = f.service.Authorize(ctx, user.Token, TierAuthenticated, nil)
	assert.True(t, HasCode(err, CodeInvalidToken))
}

func TestCompleteProfile(t *testing.T) {
	f := newFixture(t, Config{AllowRawIdentity: true})
	ctx := context.Background()
	user := authenticate(t, f, 100)

	result, err := f.service.CompleteProfile(ctx, user.User.ID(), map[string]interface{}{
		"email":    "ann@example.com",
		"phone":    "+100",
		"position": "CTO",
		"company":  "  ",
		"is_admin": true,
	})
	require.NoError(t, err)
	assert.True(t, result.NeedsProfileCompletion)
	assert.Equal(t, "CTO", result.User.String("position"))
	assert.False(t, result.User.IsAdmin())

	result, err = f.service.CompleteProfile(ctx, user.User.ID(), map[string]interface{}{"company": "Acme"})
	require.NoError(t, err)
	assert.False(t, result.NeedsProfileCompletion)
	assert.Equal(t, "ann@example.com", result.User.String("email"))
}

func TestStorageFailureSurfaces(t *testing.T) {
	f := newFixture(t, Config{AllowRawIdentity: true})
	user := authenticate(t, f, 100)

	require.NoError(t, writeGarbage(f.store.DataDir(), models.TableUsers))

	_, err := f.service.Authorize(context.Background(), user.Token, TierAuthenticated, nil)
	assert.True(t, HasCode(err, CodeStorageUnavailable), "%v", err)

	_, err = f.service.Authenticate(context.Background(), "100")
	assert.True(t, HasCode(err, CodeStorageUnavailable), "%v", err)
}

func writeGarbage(dir, table string) error {
	return os.WriteFile(filepath.Join(dir, table+".json"), []byte("[{"), 0644)
}
