package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/taskapp/taskapp/internal/repository"
)

const (
	referralAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	referralLength   = 8
)

// ReferralCodes hands out the code a new user shares with others. A fixed
// code, when configured, is given to every user.
type ReferralCodes struct {
	users repository.UserStore
	fixed string
}

func NewReferralCodes(users repository.UserStore, fixed string) *ReferralCodes {
	return &ReferralCodes{users: users, fixed: fixed}
}

func (r *ReferralCodes) Next(ctx context.Context) (string, error) {
	if r.fixed != "" {
		return r.fixed, nil
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := randomCode(referralLength)
		if err != nil {
			return "", err
		}

		holder, err := r.users.GetByReferralCode(ctx, code)
		if err != nil {
			return "", err
		}
		if holder == nil {
			return code, nil
		}
	}

	return "", fmt.Errorf("no free referral code after %d attempts", maxCodeAttempts)
}

func randomCode(length int) (string, error) {
	max := big.NewInt(int64(len(referralAlphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = referralAlphabet[n.Int64()]
	}
	return string(buf), nil
}
