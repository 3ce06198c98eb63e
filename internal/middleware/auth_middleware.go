package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/taskapp/taskapp/internal/models"
	"github.com/taskapp/taskapp/internal/repository"
	"github.com/taskapp/taskapp/internal/response"
	"github.com/taskapp/taskapp/internal/service"
)

// TokenCookie carries the admin refresh token and is also accepted as a
// credential on protected routes.
const TokenCookie = "token"

const (
	msgTokenMissing = "Authorization token not available"
	msgTokenExpired = "Token expired, please login again"
	msgTokenInvalid = "Invalid token"
	msgUserBlocked  = "Account not activated or blocked"
	msgAdminBlocked = "Admin account not activated or blocked"
)

// IdentityHandler serves a request on behalf of an authenticated identity.
type IdentityHandler func(w http.ResponseWriter, r *http.Request, id models.Identity)

type AuthMiddleware struct {
	jwtService *service.JWTService
	users      repository.UserStore
	admins     repository.AdminStore
	logger     *logrus.Logger
}

func NewAuthMiddleware(jwtService *service.JWTService, users repository.UserStore, admins repository.AdminStore, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService: jwtService,
		users:      users,
		admins:     admins,
		logger:     logger,
	}
}

// RequireUser admits requests carrying a valid token of an active user.
func (m *AuthMiddleware) RequireUser(next IdentityHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _, ok := m.authenticate(w, r)
		if !ok {
			return
		}

		user, err := m.users.GetByID(r.Context(), claims.Subject)
		if err != nil {
			m.logger.WithError(err).Error("Failed to load user for token")
			response.Error(w, http.StatusInternalServerError, "Authorization failed")
			return
		}
		if user == nil || !user.IsActive() {
			response.Error(w, http.StatusForbidden, msgUserBlocked)
			return
		}

		next(w, r, models.UserIdentity(user))
	})
}

// RequireAdmin admits requests carrying a valid token of an active admin. A
// refresh token presented through the cookie must still be the one on record.
func (m *AuthMiddleware) RequireAdmin(next IdentityHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, token, ok := m.authenticate(w, r)
		if !ok {
			return
		}

		admin, err := m.admins.GetByID(r.Context(), claims.Subject)
		if err != nil {
			m.logger.WithError(err).Error("Failed to load admin for token")
			response.Error(w, http.StatusInternalServerError, "Authorization failed")
			return
		}
		if admin != nil && claims.Type == service.TokenTypeRefresh && admin.RefreshToken != token {
			response.Error(w, http.StatusUnauthorized, msgTokenExpired)
			return
		}
		if admin == nil || !admin.IsActive() {
			response.Error(w, http.StatusForbidden, msgAdminBlocked)
			return
		}

		next(w, r, models.AdminIdentity(admin))
	})
}

// authenticate verifies the request token and writes the 401 response itself
// when it fails.
func (m *AuthMiddleware) authenticate(w http.ResponseWriter, r *http.Request) (*service.Claims, string, bool) {
	token, fromCookie := TokenFromRequest(r)
	if token == "" {
		response.Error(w, http.StatusUnauthorized, msgTokenMissing)
		return nil, "", false
	}

	allowed := []string{service.TokenTypeAccess}
	if fromCookie {
		allowed = append(allowed, service.TokenTypeRefresh)
	}

	claims, err := m.jwtService.VerifyToken(token, allowed...)
	if err != nil {
		m.logger.WithError(err).Debug("Token verification failed")
		if errors.Is(err, service.ErrTokenExpired) {
			response.Error(w, http.StatusUnauthorized, msgTokenExpired)
		} else {
			response.Error(w, http.StatusUnauthorized, msgTokenInvalid)
		}
		return nil, "", false
	}

	return claims, token, true
}

// TokenFromRequest returns the bearer token, falling back to the token
// cookie. The flag reports whether the cookie supplied it.
func TokenFromRequest(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if token := strings.TrimSpace(parts[1]); token != "" {
				return token, false
			}
		}
	}

	if cookie, err := r.Cookie(TokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}

	return "", false
}
