package utils

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"teamboard-backend/pkg/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultSessionTTL is used when no TTL is configured
const DefaultSessionTTL = 30 * 24 * time.Hour

var (
	// ErrTokenExpired means the token verified but exp is in the past
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid covers every other verification failure
	ErrTokenInvalid = errors.New("invalid or malformed token")
)

// JWTService issues and verifies session tokens
type JWTService struct {
	secretKey []byte
	ttl       time.Duration
}

// NewJWTService creates a service; ttl 0 selects DefaultSessionTTL
func NewJWTService(secretKey string, ttl time.Duration) *JWTService {
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}
	return &JWTService{
		secretKey: []byte(secretKey),
		ttl:       ttl,
	}
}

// TTL returns the lifetime of issued tokens
func (j *JWTService) TTL() time.Duration {
	return j.ttl
}

// GenerateSessionToken signs {userId, telegramId, teamId}. teamID 0 means no team.
func (j *JWTService) GenerateSessionToken(userID, telegramID, teamID int64) (string, time.Time, error) {
	now := time.Now()
	expiry := now.Add(j.ttl)

	claims := &models.SessionClaims{
		UserID:     userID,
		TelegramID: telegramID,
		TeamID:     teamID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(j.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate session token: %w", err)
	}
	return tokenString, expiry, nil
}

// ValidateToken verifies signature and expiry. The error is ErrTokenExpired
// or ErrTokenInvalid.
func (j *JWTService) ValidateToken(tokenString string) (*models.SessionClaims, error) {
	if tokenString == "" {
		return nil, ErrTokenInvalid
	}

	token, err := jwt.ParseWithClaims(tokenString, &models.SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*models.SessionClaims)
	if !ok || claims.UserID <= 0 {
		return nil, fmt.Errorf("%w: missing user id", ErrTokenInvalid)
	}
	return claims, nil
}
