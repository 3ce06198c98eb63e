package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/taskapp/taskapp/internal/apperror"
	"github.com/taskapp/taskapp/internal/metrics"
	"github.com/taskapp/taskapp/internal/models"
	"github.com/taskapp/taskapp/internal/repository"
)

const (
	PurposeRegistration = "registration"
	PurposeLogin        = "login"

	otpMin = 100000
	otpMax = 999999

	// maxCodeAttempts bounds redraws after a code collision.
	maxCodeAttempts = 5
)

const msgOTPAlreadyRequested = "Email address already requested OTP"

type OTPService struct {
	store    repository.OTPStore
	expiry   time.Duration
	logger   *logrus.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	generate func() (string, error)
}

func NewOTPService(store repository.OTPStore, expiry time.Duration, m *metrics.Metrics, logger *logrus.Logger) *OTPService {
	return &OTPService{
		store:    store,
		expiry:   expiry,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		generate: GenerateOTPCode,
	}
}

// GenerateOTPCode draws a six digit code uniformly from [100000, 999999].
func GenerateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpMax-otpMin+1))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n.Int64()+otpMin), nil
}

// Pending reports whether email already holds a live code.
func (s *OTPService) Pending(ctx context.Context, email string) (bool, error) {
	otp, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return false, apperror.Internal(err)
	}
	return otp != nil, nil
}

// Issue creates and stores a fresh code for email. A live code for the same
// email fails with OtpAlreadyRequested; a collision with another email's code
// draws again.
func (s *OTPService) Issue(ctx context.Context, email, purpose string) (*models.OTP, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.generate()
		if err != nil {
			return nil, apperror.Internal(fmt.Errorf("failed to generate OTP: %w", err))
		}

		now := s.now()
		otp := models.OTP{
			Email:     email,
			Code:      code,
			CreatedAt: now,
			ExpiresAt: now.Add(s.expiry),
		}

		err = s.store.Create(ctx, otp)
		switch {
		case err == nil:
			s.metrics.OTPIssued.WithLabelValues(purpose).Inc()
			return &otp, nil
		case errors.Is(err, repository.ErrOTPExists):
			return nil, apperror.New(apperror.KindOTPAlreadyRequested, msgOTPAlreadyRequested)
		case errors.Is(err, repository.ErrOTPCodeTaken):
			s.logger.WithField("attempt", attempt+1).Debug("OTP code collision, drawing again")
			continue
		default:
			return nil, apperror.Internal(fmt.Errorf("failed to store OTP: %w", err))
		}
	}

	return nil, apperror.Internal(fmt.Errorf("no free OTP code after %d attempts", maxCodeAttempts))
}

// Lookup returns the live record for code, or nil.
func (s *OTPService) Lookup(ctx context.Context, code string) (*models.OTP, error) {
	otp, err := s.store.GetByCode(ctx, code)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return otp, nil
}

// Consume removes the live record for code. It returns (nil, nil) when
// another caller consumed it first or it expired.
func (s *OTPService) Consume(ctx context.Context, code string) (*models.OTP, error) {
	otp, err := s.store.Consume(ctx, code)
	if errors.Is(err, repository.ErrOTPNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return otp, nil
}
