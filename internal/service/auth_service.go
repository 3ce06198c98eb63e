package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/taskapp/taskapp/internal/apperror"
	"github.com/taskapp/taskapp/internal/mailer"
	"github.com/taskapp/taskapp/internal/metrics"
	"github.com/taskapp/taskapp/internal/models"
	"github.com/taskapp/taskapp/internal/repository"
)

const passwordResetWindow = 30 * time.Minute

const (
	msgFillEmail          = "Please fill your email"
	msgInvalidEmail       = "Please provide a valid email address"
	msgEmailExists        = "Email already exists"
	msgFillOTP            = "Please fill OTP"
	msgInvalidOTP         = "Invalid OTP"
	msgEmailDoesNotExist  = "Email does not exist"
	msgEmailNotFound      = "Email not found"
	msgAccountBlocked     = "Account not activated or blocked"
	msgAdminExists        = "Admin Already Exists"
	msgInvalidCredentials = "Invalid Credentials"
	msgInvalidResetToken  = "Password reset token is invalid or has expired"
	msgInvalidSession     = "Session expired, please login again"
	msgAdminBlocked       = "Admin account not activated or blocked"
)

// RegistrationInput is the profile submitted with a registration OTP request.
// Name and Mobile are only required when the email has no user yet.
type RegistrationInput struct {
	Email       string
	RefererCode string
	Name        string `validate:"required,max=100"`
	Mobile      string `validate:"required,number,min=6,max=15"`
	Logo        string `validate:"omitempty,max=2048"`
}

type AdminRegisterInput struct {
	Email    string
	Password string
	Name     string `validate:"required,max=100"`
	Logo     string `validate:"omitempty,max=2048"`
}

// AdminSession is the result of a successful admin registration or login.
type AdminSession struct {
	Admin  *models.Admin
	Tokens *models.TokenPair
}

type AuthConfig struct {
	EchoLoginCode     bool
	AdminAutoActivate bool
}

type AuthService struct {
	users     repository.UserStore
	admins    repository.AdminStore
	otps      *OTPService
	tokens    *JWTService
	hasher    *PasswordHasher
	referrals *ReferralCodes
	mail      mailer.Mailer
	validate  *validator.Validate
	cfg       AuthConfig
	metrics   *metrics.Metrics
	logger    *logrus.Logger
	now       func() time.Time
}

func NewAuthService(
	users repository.UserStore,
	admins repository.AdminStore,
	otps *OTPService,
	tokens *JWTService,
	hasher *PasswordHasher,
	referrals *ReferralCodes,
	mail mailer.Mailer,
	cfg AuthConfig,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		admins:    admins,
		otps:      otps,
		tokens:    tokens,
		hasher:    hasher,
		referrals: referrals,
		mail:      mail,
		validate:  validator.New(),
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// NormalizeEmail lower-cases and trims an address the way it is stored.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *AuthService) checkEmail(email string) error {
	if email == "" {
		return apperror.Validation(msgFillEmail)
	}
	if err := s.validate.Var(email, "email"); err != nil {
		return apperror.Validation(msgInvalidEmail)
	}
	return nil
}

// RequestRegistrationOTP issues a code for a new or not yet active user and
// creates the user on first contact. The returned flag reports whether the
// mail went out; delivery failures are logged, never returned.
func (s *AuthService) RequestRegistrationOTP(ctx context.Context, in RegistrationInput) (bool, error) {
	email := NormalizeEmail(in.Email)
	if err := s.checkEmail(email); err != nil {
		return false, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return false, apperror.Internal(err)
	}
	if user != nil && user.IsActive() {
		return false, apperror.New(apperror.KindDuplicateAccount, msgEmailExists)
	}

	pending, err := s.otps.Pending(ctx, email)
	if err != nil {
		return false, err
	}
	if pending {
		return false, apperror.New(apperror.KindOTPAlreadyRequested, msgOTPAlreadyRequested)
	}

	in.Name = strings.TrimSpace(in.Name)
	in.Mobile = strings.TrimSpace(in.Mobile)
	if user == nil {
		if err := s.validateStruct(in); err != nil {
			return false, err
		}
	}

	otp, err := s.otps.Issue(ctx, email, PurposeRegistration)
	if err != nil {
		return false, err
	}

	sent := s.deliverOTP(ctx, email, otp.Code)

	if user == nil {
		if err := s.createPendingUser(ctx, email, in); err != nil {
			return sent, err
		}
	}

	return sent, nil
}

func (s *AuthService) createPendingUser(ctx context.Context, email string, in RegistrationInput) error {
	user := &models.User{
		Name:   in.Name,
		Email:  email,
		Mobile: in.Mobile,
		Logo:   strings.TrimSpace(in.Logo),
		Status: models.StatusInactive,
	}

	if code := strings.TrimSpace(in.RefererCode); code != "" {
		referrer, err := s.users.GetByReferralCode(ctx, code)
		if err != nil {
			return apperror.Internal(err)
		}
		if referrer != nil {
			user.ReferrerID = referrer.ID
			user.RefererCode = code
		}
	}

	code, err := s.referrals.Next(ctx)
	if err != nil {
		return apperror.Internal(fmt.Errorf("failed to assign referral code: %w", err))
	}
	user.ReferralCode = code

	err = s.users.Create(ctx, user)
	if errors.Is(err, repository.ErrUserExists) {
		// A concurrent request created the same pending user.
		s.logger.WithField("email", email).Debug("Pending user already created")
		return nil
	}
	if err != nil {
		return apperror.Internal(err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"referrer": user.ReferrerID,
	}).Info("Pending user created")
	return nil
}

func (s *AuthService) deliverOTP(ctx context.Context, email, code string) bool {
	if err := s.mail.SendOTP(ctx, email, code); err != nil {
		s.logger.WithError(err).WithField("email", email).Warn("Failed to send OTP email")
		return false
	}
	return true
}

// VerifyOTP redeems a code, activates the owning user and returns an access
// token for it. When email is given it must match the code's owner.
func (s *AuthService) VerifyOTP(ctx context.Context, code, email string) (string, *models.User, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", nil, apperror.Validation(msgFillOTP)
	}

	otp, err := s.otps.Lookup(ctx, code)
	if err != nil {
		return "", nil, err
	}
	if otp == nil || (email != "" && NormalizeEmail(email) != otp.Email) {
		s.metrics.OTPVerifications.WithLabelValues("invalid").Inc()
		return "", nil, apperror.New(apperror.KindInvalidOrExpiredOTP, msgInvalidOTP)
	}

	user, err := s.users.GetByEmail(ctx, otp.Email)
	if err != nil {
		return "", nil, apperror.Internal(err)
	}
	if user == nil {
		s.metrics.OTPVerifications.WithLabelValues("account_not_found").Inc()
		return "", nil, apperror.New(apperror.KindAccountNotFound, msgEmailDoesNotExist)
	}
	if user.Status == models.StatusBlocked {
		s.metrics.OTPVerifications.WithLabelValues("blocked").Inc()
		return "", nil, apperror.New(apperror.KindForbidden, msgAccountBlocked)
	}

	consumed, err := s.otps.Consume(ctx, code)
	if err != nil {
		return "", nil, err
	}
	if consumed == nil {
		s.metrics.OTPVerifications.WithLabelValues("invalid").Inc()
		return "", nil, apperror.New(apperror.KindInvalidOrExpiredOTP, msgInvalidOTP)
	}

	if err := s.users.Activate(ctx, user.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil, apperror.New(apperror.KindAccountNotFound, msgEmailDoesNotExist)
		}
		return "", nil, apperror.Internal(err)
	}
	user.Status = models.StatusActive
	user.LoginCount++

	token, err := s.tokens.IssueAccessToken(user.ID)
	if err != nil {
		return "", nil, apperror.Internal(err)
	}

	s.metrics.OTPVerifications.WithLabelValues("success").Inc()
	s.logger.WithField("user_id", user.ID).Info("User verified OTP")
	return token, user, nil
}

// RequestLoginOTP issues a code for an active user. The code is returned only
// when echoing is enabled; otherwise the result is empty.
func (s *AuthService) RequestLoginOTP(ctx context.Context, rawEmail string) (string, error) {
	email := NormalizeEmail(rawEmail)
	if err := s.checkEmail(email); err != nil {
		return "", err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return "", apperror.Internal(err)
	}
	if user == nil || !user.IsActive() {
		return "", apperror.New(apperror.KindAccountNotFound, msgEmailNotFound)
	}

	otp, err := s.otps.Issue(ctx, email, PurposeLogin)
	if err != nil {
		return "", err
	}

	s.deliverOTP(ctx, email, otp.Code)

	if s.cfg.EchoLoginCode {
		return otp.Code, nil
	}
	return "", nil
}

func (s *AuthService) AdminRegister(ctx context.Context, in AdminRegisterInput) (*AdminSession, error) {
	email := NormalizeEmail(in.Email)
	if err := s.checkEmail(email); err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validateStruct(in); err != nil {
		return nil, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	existing, err := s.admins.GetByEmail(ctx, email)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	if existing != nil {
		return nil, apperror.New(apperror.KindAdminAlreadyExists, msgAdminExists)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("failed to hash password: %w", err))
	}

	admin := &models.Admin{
		Name:         in.Name,
		Email:        email,
		PasswordHash: hash,
		Logo:         strings.TrimSpace(in.Logo),
		Status:       models.StatusInactive,
	}
	if s.cfg.AdminAutoActivate {
		admin.Status = models.StatusActive
	}

	if err := s.admins.Create(ctx, admin); err != nil {
		if errors.Is(err, repository.ErrAdminExists) {
			return nil, apperror.New(apperror.KindAdminAlreadyExists, msgAdminExists)
		}
		return nil, apperror.Internal(err)
	}

	tokens, err := s.tokens.IssuePair(admin.ID)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	if err := s.admins.SetRefreshToken(ctx, admin.ID, tokens.RefreshToken); err != nil {
		return nil, apperror.Internal(err)
	}
	admin.RefreshToken = tokens.RefreshToken

	s.logger.WithField("admin_id", admin.ID).Info("Admin registered")
	return &AdminSession{Admin: admin, Tokens: tokens}, nil
}

func (s *AuthService) AdminLogin(ctx context.Context, rawEmail, password string) (*AdminSession, error) {
	email := NormalizeEmail(rawEmail)
	if email == "" || password == "" {
		s.metrics.AdminLogins.WithLabelValues("invalid").Inc()
		return nil, apperror.New(apperror.KindInvalidCredentials, msgInvalidCredentials)
	}

	admin, err := s.admins.GetByEmail(ctx, email)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	if admin == nil || !s.hasher.Matches(admin.PasswordHash, password) {
		s.metrics.AdminLogins.WithLabelValues("invalid").Inc()
		return nil, apperror.New(apperror.KindInvalidCredentials, msgInvalidCredentials)
	}

	tokens, err := s.tokens.IssuePair(admin.ID)
	if err != nil {
		return nil, apperror.Internal(err)
	}

	updated, err := s.admins.RecordLogin(ctx, admin.ID, tokens.RefreshToken)
	if err != nil {
		return nil, apperror.Internal(err)
	}

	s.metrics.AdminLogins.WithLabelValues("success").Inc()
	s.logger.WithField("admin_id", admin.ID).Info("Admin logged in")
	return &AdminSession{Admin: updated, Tokens: tokens}, nil
}

// AdminRefresh exchanges the persisted refresh token for a new access token.
func (s *AuthService) AdminRefresh(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", apperror.New(apperror.KindUnauthorized, "Refresh token not available")
	}

	claims, err := s.tokens.VerifyToken(refreshToken, TokenTypeRefresh)
	if err != nil {
		return "", apperror.Wrap(apperror.KindUnauthorized, msgInvalidSession, err)
	}

	admin, err := s.admins.GetByID(ctx, claims.Subject)
	if err != nil {
		return "", apperror.Internal(err)
	}
	if admin == nil || admin.RefreshToken == "" || admin.RefreshToken != refreshToken {
		return "", apperror.New(apperror.KindUnauthorized, msgInvalidSession)
	}
	if !admin.IsActive() {
		return "", apperror.New(apperror.KindForbidden, msgAdminBlocked)
	}

	token, err := s.tokens.IssueAccessToken(admin.ID)
	if err != nil {
		return "", apperror.Internal(err)
	}
	return token, nil
}

func (s *AuthService) AdminLogout(ctx context.Context, admin *models.Admin) error {
	if err := s.admins.SetRefreshToken(ctx, admin.ID, ""); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return apperror.Internal(err)
	}
	s.logger.WithField("admin_id", admin.ID).Info("Admin logged out")
	return nil
}

// AdminForgotPassword mails a reset token to an existing admin. Unknown
// addresses succeed silently.
func (s *AuthService) AdminForgotPassword(ctx context.Context, rawEmail string) error {
	email := NormalizeEmail(rawEmail)
	if err := s.checkEmail(email); err != nil {
		return err
	}

	admin, err := s.admins.GetByEmail(ctx, email)
	if err != nil {
		return apperror.Internal(err)
	}
	if admin == nil {
		s.logger.WithField("email", email).Debug("Password reset requested for unknown admin")
		return nil
	}

	token, hash, err := newResetToken()
	if err != nil {
		return apperror.Internal(err)
	}

	if err := s.admins.SetPasswordReset(ctx, admin.ID, hash, s.now().Add(passwordResetWindow)); err != nil {
		return apperror.Internal(err)
	}

	if err := s.mail.SendPasswordReset(ctx, email, token); err != nil {
		s.logger.WithError(err).WithField("admin_id", admin.ID).Warn("Failed to send password reset email")
	}
	return nil
}

func (s *AuthService) AdminResetPassword(ctx context.Context, token, password string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperror.New(apperror.KindInvalidOrExpiredToken, msgInvalidResetToken)
	}
	if err := ValidatePassword(password); err != nil {
		return err
	}

	admin, err := s.admins.GetByResetToken(ctx, HashResetToken(token), s.now())
	if err != nil {
		return apperror.Internal(err)
	}
	if admin == nil {
		return apperror.New(apperror.KindInvalidOrExpiredToken, msgInvalidResetToken)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return apperror.Internal(fmt.Errorf("failed to hash password: %w", err))
	}

	if err := s.admins.UpdatePassword(ctx, admin.ID, hash); err != nil {
		return apperror.Internal(err)
	}

	s.logger.WithField("admin_id", admin.ID).Info("Admin password reset")
	return nil
}

// newResetToken returns a random hex token and the hash that is stored.
func newResetToken() (string, string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	token := hex.EncodeToString(buf)
	return token, HashResetToken(token), nil
}

func HashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// validateStruct runs the struct tags and turns the first failure into a
// client message.
func (s *AuthService) validateStruct(v interface{}) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperror.Internal(err)
	}

	fe := fieldErrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return apperror.Validation("Please fill your " + field)
	case "number", "numeric", "min", "max":
		return apperror.Validation("Please provide a valid " + field)
	default:
		return apperror.Validation("Invalid " + field)
	}
}
