package service

import (
	"strings"
	"unicode"

	"github.com/taskapp/taskapp/internal/apperror"
	"golang.org/x/crypto/bcrypt"
)

const (
	passwordMinLength = 8
	passwordMaxLength = 128
	passwordSpecials  = `!@#$%^&*()_-+={}[]\|:;'<>,.?/`
)

// PasswordHasher wraps bcrypt with a fixed cost.
type PasswordHasher struct {
	cost int
}

func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	return &PasswordHasher{cost: cost}
}

func (h *PasswordHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (h *PasswordHasher) Matches(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePassword enforces the admin password policy: 8 to 128 characters
// drawn from letters, digits and passwordSpecials, with at least one of each
// class and both cases.
func ValidatePassword(password string) error {
	if password == "" {
		return apperror.Validation("Please fill your password")
	}
	if len(password) < passwordMinLength {
		return apperror.Validation("Password must be at least 8 characters long")
	}
	if len(password) > passwordMaxLength {
		return apperror.Validation("Password must be less than 128 characters long")
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case r > unicode.MaxASCII:
			return apperror.Validation(passwordPolicyMessage)
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		default:
			return apperror.Validation(passwordPolicyMessage)
		}
	}

	if !upper || !lower || !digit || !special {
		return apperror.Validation(passwordPolicyMessage)
	}
	return nil
}

const passwordPolicyMessage = "Password must contain at least one uppercase letter, one lowercase letter, one special character and one number"
