package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/taskapp/taskapp/internal/config"
	"github.com/taskapp/taskapp/internal/models"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("invalid token")
)

type JWTService struct {
	secretKey     []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	logger        *logrus.Logger
	now           func() time.Time
}

func NewJWTService(cfg *config.JWTConfig, logger *logrus.Logger) (*JWTService, error) {
	secretKey := []byte(cfg.SecretKey)
	if len(secretKey) < 32 {
		return nil, fmt.Errorf("secret key must be at least 32 bytes")
	}

	return &JWTService{
		secretKey:     secretKey,
		accessExpiry:  cfg.AccessExpiry,
		refreshExpiry: cfg.RefreshExpiry,
		logger:        logger,
		now:           time.Now,
	}, nil
}

type Claims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// IssueAccessToken signs an access token for subject. A zero access expiry
// produces a token without exp.
func (s *JWTService) IssueAccessToken(subject string) (string, error) {
	now := s.now()

	claims := &Claims{
		Type: TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
			ID:       uuid.New().String(),
		},
	}
	if s.accessExpiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.accessExpiry))
	}

	return s.sign(claims)
}

// IssueRefreshToken signs a refresh token for subject and returns its expiry.
func (s *JWTService) IssueRefreshToken(subject string) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.refreshExpiry)

	token, err := s.sign(&Claims{
		Type: TokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.New().String(),
		},
	})
	if err != nil {
		return "", time.Time{}, err
	}

	return token, expiresAt, nil
}

// IssuePair signs an access and a refresh token for subject.
func (s *JWTService) IssuePair(subject string) (*models.TokenPair, error) {
	access, err := s.IssueAccessToken(subject)
	if err != nil {
		return nil, err
	}

	refresh, refreshExpiresAt, err := s.IssueRefreshToken(subject)
	if err != nil {
		return nil, err
	}

	return &models.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

func (s *JWTService) sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretKey)
	if err != nil {
		s.logger.WithError(err).WithField("type", claims.Type).Error("Failed to sign token")
		return "", fmt.Errorf("failed to sign %s token: %w", claims.Type, err)
	}
	return signed, nil
}

// VerifyToken checks the signature and expiry of tokenString and that it is
// of one of the allowed types. Failures wrap ErrTokenExpired or
// ErrTokenInvalid.
func (s *JWTService) VerifyToken(tokenString string, allowed ...string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}

	for _, t := range allowed {
		if claims.Type == t {
			return claims, nil
		}
	}

	return nil, fmt.Errorf("%w: unexpected %q token", ErrTokenInvalid, claims.Type)
}
