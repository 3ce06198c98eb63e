package repository

import (
	"context"
	"errors"
	"time"

	"github.com/taskapp/taskapp/internal/models"
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrAdminExists  = errors.New("admin already exists")
	ErrNotFound     = errors.New("record not found")
	ErrOTPExists    = errors.New("otp already requested for this email")
	ErrOTPCodeTaken = errors.New("otp code is held by another pending request")
	ErrOTPNotFound  = errors.New("otp not found or expired")
)

// UserStore persists users. Lookups return (nil, nil) when nothing matches.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByReferralCode(ctx context.Context, code string) (*models.User, error)
	// Create assigns the id and timestamps and fails with ErrUserExists when
	// the email is taken.
	Create(ctx context.Context, user *models.User) error
	// Activate sets the user Active and increments its login count.
	Activate(ctx context.Context, id string) error
}

// AdminStore persists admins. Lookups return (nil, nil) when nothing matches.
type AdminStore interface {
	GetByID(ctx context.Context, id string) (*models.Admin, error)
	GetByEmail(ctx context.Context, email string) (*models.Admin, error)
	// GetByResetToken finds the admin holding the reset token hash with a
	// reset window still open at now.
	GetByResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.Admin, error)
	// Create assigns the id and timestamps and fails with ErrAdminExists when
	// the email is taken.
	Create(ctx context.Context, admin *models.Admin) error
	// RecordLogin stores the refresh token, increments the login count and
	// returns the updated admin.
	RecordLogin(ctx context.Context, id, refreshToken string) (*models.Admin, error)
	SetRefreshToken(ctx context.Context, id, refreshToken string) error
	SetPasswordReset(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	// UpdatePassword replaces the hash and clears the reset token and the
	// refresh token.
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// OTPStore holds pending codes. Implementations guarantee at most one live
// record per email and per code, never return expired records, and hand a
// consumed record to exactly one caller.
type OTPStore interface {
	// Create fails with ErrOTPExists when the email already has a live code
	// and with ErrOTPCodeTaken when the code is live for another email.
	Create(ctx context.Context, otp models.OTP) error
	GetByEmail(ctx context.Context, email string) (*models.OTP, error)
	GetByCode(ctx context.Context, code string) (*models.OTP, error)
	// Consume atomically removes the live record holding code and returns it,
	// or fails with ErrOTPNotFound.
	Consume(ctx context.Context, code string) (*models.OTP, error)
}
