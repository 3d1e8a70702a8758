// Package telegram decodes and verifies Telegram WebApp init data.
package telegram

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"teamboard-backend/pkg/logger"

	initdata "github.com/telegram-mini-apps/init-data-golang"
)

var (
	// ErrInitDataMissing means the credential was empty or not a query string
	ErrInitDataMissing = errors.New("init data missing or malformed")
	// ErrUserDataMissing means the credential carries no usable user
	ErrUserDataMissing = errors.New("user data missing in init data")
	// ErrInvalidSignature means the hash does not match the bot token
	ErrInvalidSignature = errors.New("init data signature is invalid")
	// ErrExpired means auth_date is older than the allowed age
	ErrExpired = errors.New("init data expired")
)

// User is the Telegram account embedded in init data
type User struct {
	ID              int64  `json:"id"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Username        string `json:"username"`
	LanguageCode    string `json:"language_code"`
	IsPremium       bool   `json:"is_premium"`
	PhotoURL        string `json:"photo_url"`
	AllowsWriteToPM bool   `json:"allows_write_to_pm"`
}

// InitData is the decoded credential
type InitData struct {
	User     *User
	AuthDate time.Time
	Hash     string
	QueryID  string
	// Signed is true when the hash was verified against the bot token
	Signed bool
}

// Parse decodes the signed form: user, auth_date and hash must all be present
func Parse(raw string) (*InitData, error) {
	raw, err := trimInitData(raw)
	if err != nil {
		return nil, err
	}
	parsed, err := initdata.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitDataMissing, err)
	}

	if parsed.Hash == "" {
		return nil, fmt.Errorf("%w: hash is missing", ErrInitDataMissing)
	}
	if parsed.AuthDateRaw <= 0 {
		return nil, fmt.Errorf("%w: auth_date is missing", ErrInitDataMissing)
	}
	if parsed.User.ID <= 0 {
		return nil, fmt.Errorf("%w: no user with a positive id", ErrUserDataMissing)
	}

	u := parsed.User
	return &InitData{
		User: &User{
			ID:              u.ID,
			FirstName:       u.FirstName,
			LastName:        u.LastName,
			Username:        u.Username,
			LanguageCode:    u.LanguageCode,
			IsPremium:       u.IsPremium,
			PhotoURL:        u.PhotoURL,
			AllowsWriteToPM: u.AllowsWriteToPm,
		},
		AuthDate: parsed.AuthDate().UTC(),
		Hash:     parsed.Hash,
		QueryID:  parsed.QueryID,
	}, nil
}

// FallbackParse only needs the user field. Nothing is verified.
func FallbackParse(raw string) (*InitData, error) {
	values, err := parseQuery(raw)
	if err != nil {
		return nil, err
	}
	user, err := decodeUser(values.Get("user"))
	if err != nil {
		return nil, err
	}

	data := &InitData{
		User:    user,
		Hash:    values.Get("hash"),
		QueryID: values.Get("query_id"),
	}
	if authDate, err := parseAuthDate(values.Get("auth_date")); err == nil {
		data.AuthDate = authDate
	}
	return data, nil
}

// Validate checks the hash against botToken. A positive maxAge also bounds
// auth_date. Library errors map onto this package's sentinels.
func Validate(raw, botToken string, maxAge time.Duration) error {
	raw, err := trimInitData(raw)
	if err != nil {
		return err
	}

	err = initdata.Validate(raw, botToken, maxAge)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, initdata.ErrExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, initdata.ErrAuthDateMissing), errors.Is(err, initdata.ErrUnexpectedFormat):
		return fmt.Errorf("%w: %v", ErrInitDataMissing, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
}

// Sign adds auth_date when absent and a valid hash, and returns the encoded
// init data. Used by tests and local tooling.
func Sign(values url.Values, botToken string) string {
	authDate := time.Now()
	if seconds, err := strconv.ParseInt(values.Get("auth_date"), 10, 64); err == nil {
		authDate = time.Unix(seconds, 0)
	}

	payload := make(map[string]string, len(values))
	for k := range values {
		if k != "hash" && k != "auth_date" {
			payload[k] = values.Get(k)
		}
	}

	signed := url.Values{}
	for k, v := range payload {
		signed.Set(k, v)
	}
	signed.Set("auth_date", strconv.FormatInt(authDate.Unix(), 10))
	signed.Set("hash", initdata.Sign(payload, botToken, authDate))
	return signed.Encode()
}

// Options configure Process
type Options struct {
	BotToken   string
	MaxAge     time.Duration
	Production bool
	Logger     *logger.Logger
}

// Process runs the signed parse and falls back to the unsigned one.
// A bad signature only fails the call in production.
func Process(raw string, opts Options) (*InitData, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Default().Named("telegram")
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInitDataMissing
	}

	signed := false
	if opts.BotToken != "" {
		if err := Validate(raw, opts.BotToken, opts.MaxAge); err != nil {
			if opts.Production {
				log.Warn("init data rejected", "error", err)
				return nil, err
			}
			log.Warn("init data validation failed, continuing outside production", "error", err)
		} else {
			signed = true
		}
	} else {
		log.Warn("bot token not configured, skipping init data validation")
	}

	data, err := Parse(raw)
	if err == nil {
		data.Signed = signed
		return data, nil
	}
	log.Debug("signed parse failed, trying fallback", "error", err)

	data, err = FallbackParse(raw)
	if err != nil {
		return nil, err
	}
	data.Signed = signed
	return data, nil
}

func trimInitData(raw string) (string, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "?")
	if raw == "" {
		return "", ErrInitDataMissing
	}
	return raw, nil
}

// parseQuery is the lenient decoder behind FallbackParse
func parseQuery(raw string) (url.Values, error) {
	raw, err := trimInitData(raw)
	if err != nil {
		return nil, err
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitDataMissing, err)
	}
	if len(values) == 0 {
		return nil, ErrInitDataMissing
	}
	return values, nil
}

func parseAuthDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: auth_date is missing", ErrInitDataMissing)
	}
	seconds, err := strconv.ParseInt(value, 10, 64)
	if err != nil || seconds <= 0 {
		return time.Time{}, fmt.Errorf("%w: auth_date %q", ErrInitDataMissing, value)
	}
	return time.Unix(seconds, 0).UTC(), nil
}

func decodeUser(value string) (*User, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: no user field", ErrUserDataMissing)
	}
	var user User
	if err := json.Unmarshal([]byte(value), &user); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserDataMissing, err)
	}
	if user.ID <= 0 {
		return nil, fmt.Errorf("%w: user id must be positive", ErrUserDataMissing)
	}
	return &user, nil
}
