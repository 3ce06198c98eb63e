package service

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/taskapp/taskapp/internal/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestJWT(t *testing.T, access time.Duration) *JWTService {
	t.Helper()

	svc, err := NewJWTService(&config.JWTConfig{
		SecretKey:     testSecret,
		AccessExpiry:  access,
		RefreshExpiry: 30 * 24 * time.Hour,
	}, newTestLogger())
	if err != nil {
		t.Fatalf("NewJWTService: %v", err)
	}
	return svc
}

func TestNewJWTServiceRejectsShortSecret(t *testing.T) {
	if _, err := NewJWTService(&config.JWTConfig{SecretKey: "short"}, newTestLogger()); err == nil {
		t.Fatal("expected short secret to be rejected")
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	svc := newTestJWT(t, time.Hour)

	token, err := svc.IssueAccessToken("user-1")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	claims, err := svc.VerifyToken(token, TokenTypeAccess)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.Subject != "user-1" || claims.IssuedAt == nil || claims.ExpiresAt == nil {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestAccessTokenWithoutExpiry(t *testing.T) {
	svc := newTestJWT(t, 0)

	token, err := svc.IssueAccessToken("user-1")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(10 * 365 * 24 * time.Hour) }
	claims, err := svc.VerifyToken(token, TokenTypeAccess)
	if err != nil {
		t.Fatalf("expected token without exp to stay valid: %v", err)
	}
	if claims.ExpiresAt != nil {
		t.Fatal("expected no exp claim")
	}
}

func TestVerifyTokenExpired(t *testing.T) {
	svc := newTestJWT(t, time.Minute)

	token, err := svc.IssueAccessToken("user-1")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := svc.VerifyToken(token, TokenTypeAccess); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyTokenTampered(t *testing.T) {
	svc := newTestJWT(t, time.Hour)

	token, err := svc.IssueAccessToken("user-1")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	parts := strings.Split(token, ".")
	parts[2] = strings.Repeat("A", len(parts[2]))
	if _, err := svc.VerifyToken(strings.Join(parts, "."), TokenTypeAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}

	if _, err := svc.VerifyToken("not-a-token", TokenTypeAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for garbage, got %v", err)
	}
}

func TestVerifyTokenRejectsWrongType(t *testing.T) {
	svc := newTestJWT(t, time.Hour)

	pair, err := svc.IssuePair("admin-1")
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	if _, err := svc.VerifyToken(pair.RefreshToken, TokenTypeAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh token must not pass as access token, got %v", err)
	}
	if _, err := svc.VerifyToken(pair.RefreshToken, TokenTypeRefresh); err != nil {
		t.Fatalf("VerifyToken refresh: %v", err)
	}
	if time.Until(pair.RefreshExpiresAt) < 29*24*time.Hour {
		t.Fatalf("expected 30 day refresh expiry, got %v", pair.RefreshExpiresAt)
	}
}
