package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/taskapp/taskapp/internal/config"
	"github.com/taskapp/taskapp/internal/models"
	"github.com/taskapp/taskapp/internal/repository/memory"
	"github.com/taskapp/taskapp/internal/service"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type authFixture struct {
	mw     *AuthMiddleware
	jwt    *service.JWTService
	users  *memory.UserRepository
	admins *memory.AdminRepository
}

func newAuthFixture(t *testing.T, access time.Duration) *authFixture {
	t.Helper()

	jwtService, err := service.NewJWTService(&config.JWTConfig{
		SecretKey:     testSecret,
		AccessExpiry:  access,
		RefreshExpiry: 30 * 24 * time.Hour,
	}, newTestLogger())
	if err != nil {
		t.Fatalf("NewJWTService: %v", err)
	}

	users := memory.NewUserRepository(nil)
	admins := memory.NewAdminRepository(nil)

	return &authFixture{
		mw:     NewAuthMiddleware(jwtService, users, admins, newTestLogger()),
		jwt:    jwtService,
		users:  users,
		admins: admins,
	}
}

func (f *authFixture) createUser(t *testing.T, status models.Status) *models.User {
	t.Helper()

	u := &models.User{Email: "ann@example.com", Name: "Ann", Mobile: "5550100", ReferralCode: "ABCDEFGH"}
	if err := f.users.Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := f.users.SetStatus(u.ID, status); err != nil {
		t.Fatalf("set status: %v", err)
	}
	return u
}

func (f *authFixture) createAdmin(t *testing.T, status models.Status) *models.Admin {
	t.Helper()

	a := &models.Admin{Email: "root@example.com", Name: "Root", PasswordHash: "x", Status: status}
	if err := f.admins.Create(context.Background(), a); err != nil {
		t.Fatalf("create admin: %v", err)
	}
	return a
}

func echoIdentity(t *testing.T, want models.IdentityKind) IdentityHandler {
	return func(w http.ResponseWriter, r *http.Request, id models.Identity) {
		if id.Kind != want {
			t.Errorf("expected identity kind %v, got %v", want, id.Kind)
		}
		w.Write([]byte(id.ID()))
	}
}

func decodeMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Success {
		t.Fatal("expected success=false")
	}
	return body.Message
}

func TestRequireUserWithoutToken(t *testing.T) {
	f := newAuthFixture(t, time.Hour)

	rec := httptest.NewRecorder()
	f.mw.RequireUser(echoIdentity(t, models.IdentityUser)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if msg := decodeMessage(t, rec); msg != msgTokenMissing {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestRequireUserActive(t *testing.T) {
	f := newAuthFixture(t, time.Hour)
	user := f.createUser(t, models.StatusActive)

	token, err := f.jwt.IssueAccessToken(user.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.mw.RequireUser(echoIdentity(t, models.IdentityUser)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != user.ID {
		t.Fatalf("expected user id in body, got %q", rec.Body.String())
	}
}

func TestRequireUserInactiveOrBlocked(t *testing.T) {
	for _, status := range []models.Status{models.StatusInactive, models.StatusBlocked} {
		f := newAuthFixture(t, time.Hour)
		user := f.createUser(t, status)
		token, _ := f.jwt.IssueAccessToken(user.ID)

		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		f.mw.RequireUser(echoIdentity(t, models.IdentityUser)).ServeHTTP(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Fatalf("status %v: expected 403, got %d", status, rec.Code)
		}
		if msg := decodeMessage(t, rec); msg != msgUserBlocked {
			t.Fatalf("unexpected message %q", msg)
		}
	}
}

func TestRequireUserUnknownSubject(t *testing.T) {
	f := newAuthFixture(t, time.Hour)
	token, _ := f.jwt.IssueAccessToken("missing")

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.mw.RequireUser(echoIdentity(t, models.IdentityUser)).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestRequireUserTamperedToken(t *testing.T) {
	f := newAuthFixture(t, time.Hour)
	user := f.createUser(t, models.StatusActive)
	token, _ := f.jwt.IssueAccessToken(user.ID)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token+"x")
	rec := httptest.NewRecorder()
	f.mw.RequireUser(echoIdentity(t, models.IdentityUser)).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if msg := decodeMessage(t, rec); msg != msgTokenInvalid {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestRequireUserExpiredToken(t *testing.T) {
	f := newAuthFixture(t, time.Hour)
	user := f.createUser(t, models.StatusActive)

	past := time.Now().Add(-2 * time.Hour)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &service.Claims{
		Type: service.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(past),
			ExpiresAt: jwt.NewNumericDate(past.Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.mw.RequireUser(echoIdentity(t, models.IdentityUser)).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if msg := decodeMessage(t, rec); msg != msgTokenExpired {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestRequireUserRejectsRefreshTokenInHeader(t *testing.T) {
	f := newAuthFixture(t, time.Hour)
	user := f.createUser(t, models.StatusActive)
	refresh, _, _ := f.jwt.IssueRefreshToken(user.ID)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+refresh)
	rec := httptest.NewRecorder()
	f.mw.RequireUser(echoIdentity(t, models.IdentityUser)).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireAdminRefreshCookie(t *testing.T) {
	f := newAuthFixture(t, time.Hour)
	admin := f.createAdmin(t, models.StatusActive)

	refresh, _, err := f.jwt.IssueRefreshToken(admin.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	handler := f.mw.RequireAdmin(echoIdentity(t, models.IdentityAdmin))
	withCookie := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/admin/me", nil)
		req.AddCookie(&http.Cookie{Name: TokenCookie, Value: refresh})
		return req
	}

	// Not persisted yet, so the cookie is stale.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withCookie())
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for stale refresh cookie, got %d", rec.Code)
	}

	if err := f.admins.SetRefreshToken(context.Background(), admin.ID, refresh); err != nil {
		t.Fatalf("set refresh: %v", err)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, withCookie())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRequireAdminInactive(t *testing.T) {
	f := newAuthFixture(t, time.Hour)
	admin := f.createAdmin(t, models.StatusInactive)
	token, _ := f.jwt.IssueAccessToken(admin.ID)

	req := httptest.NewRequest(http.MethodGet, "/admin/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.mw.RequireAdmin(echoIdentity(t, models.IdentityAdmin)).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if msg := decodeMessage(t, rec); msg != msgAdminBlocked {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestRequireAdminRejectsUserToken(t *testing.T) {
	f := newAuthFixture(t, time.Hour)
	user := f.createUser(t, models.StatusActive)
	token, _ := f.jwt.IssueAccessToken(user.ID)

	req := httptest.NewRequest(http.MethodGet, "/admin/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.mw.RequireAdmin(echoIdentity(t, models.IdentityAdmin)).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer abc")
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: "cookie"})
	if tok, fromCookie := TokenFromRequest(req); tok != "abc" || fromCookie {
		t.Fatalf("expected header token, got %q cookie=%v", tok, fromCookie)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: "cookie"})
	if tok, fromCookie := TokenFromRequest(req); tok != "cookie" || !fromCookie {
		t.Fatalf("expected cookie token, got %q cookie=%v", tok, fromCookie)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	if tok, _ := TokenFromRequest(req); tok != "" {
		t.Fatalf("expected no token, got %q", tok)
	}
}
