package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"teamboard-backend/pkg/identity"
	"teamboard-backend/pkg/logger"
	"teamboard-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
)

// ContextKey is the type of keys this package stores in request contexts
type ContextKey string

const (
	IdentityContextKey ContextKey = "identity"
	holderContextKey   ContextKey = "identity_holder"
)

// identityHolder lets middleware that wraps the auth middleware see who
// the request was authorized as
type identityHolder struct {
	userID int64
}

func withIdentityHolder(ctx context.Context, holder *identityHolder) context.Context {
	return context.WithValue(ctx, holderContextKey, holder)
}

// Authorizer checks a session token against a tier
type Authorizer interface {
	Authorize(ctx context.Context, token string, tier identity.Tier, ref *identity.ResourceRef) (*identity.Identity, error)
}

// BearerToken extracts the token from "Authorization: Bearer <token>"
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// AuthMiddleware requires a valid session for an active user
func AuthMiddleware(auth Authorizer) func(http.Handler) http.Handler {
	return tierMiddleware(auth, identity.TierAuthenticated, nil)
}

// RequireAdmin requires an active admin user
func RequireAdmin(auth Authorizer) func(http.Handler) http.Handler {
	return tierMiddleware(auth, identity.TierAdmin, nil)
}

// RequireOwnerOrAdmin requires an admin or the owner of the resource whose
// id is in the URL parameter param.
func RequireOwnerOrAdmin(auth Authorizer, kind identity.ResourceKind, param string) func(http.Handler) http.Handler {
	return tierMiddleware(auth, identity.TierOwnerOrAdmin, func(r *http.Request) (*identity.ResourceRef, error) {
		id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
		if err != nil || id <= 0 {
			return nil, errors.New("invalid " + string(kind) + " id")
		}
		return &identity.ResourceRef{Kind: kind, ID: id}, nil
	})
}

func tierMiddleware(auth Authorizer, tier identity.Tier, resource func(*http.Request) (*identity.ResourceRef, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var ref *identity.ResourceRef
			if resource != nil {
				var err error
				if ref, err = resource(r); err != nil {
					utils.WriteValidationErrorResponse(w, r, err.Error(), "")
					return
				}
			}

			ident, err := auth.Authorize(r.Context(), BearerToken(r), tier, ref)
			if err != nil {
				logger.Default().Named("auth").WithContext(r.Context()).Debug("request not authorized",
					"path", r.URL.Path, "tier", string(tier), "error", err)
				utils.WriteError(w, r, err)
				return
			}

			if holder, ok := r.Context().Value(holderContextKey).(*identityHolder); ok {
				holder.userID = ident.UserID()
			}
			ctx := context.WithValue(r.Context(), IdentityContextKey, ident)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetIdentityFromContext returns the identity stored by the auth middleware
func GetIdentityFromContext(ctx context.Context) (*identity.Identity, bool) {
	ident, ok := ctx.Value(IdentityContextKey).(*identity.Identity)
	return ident, ok && ident != nil
}

// RequireIdentity is GetIdentityFromContext for handlers behind AuthMiddleware
func RequireIdentity(ctx context.Context) (*identity.Identity, error) {
	ident, ok := GetIdentityFromContext(ctx)
	if !ok {
		return nil, errors.New("user not authenticated")
	}
	return ident, nil
}
