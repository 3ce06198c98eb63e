// Package memory provides process-local stores for development and tests.
// Data does not survive a restart.
//
// Besides the repository interfaces, the user and admin stores expose
// SetStatus and Count. No HTTP route reaches them: account status is changed
// out of band, and with this backend the only out-of-band caller is code
// holding the store, such as tests seeding active or blocked accounts.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/taskapp/taskapp/internal/models"
	"github.com/taskapp/taskapp/internal/repository"
)

// Clock returns the current time. Tests substitute it to move time forward.
type Clock func() time.Time

type UserRepository struct {
	mu    sync.RWMutex
	users map[string]models.User
	now   Clock
}

func NewUserRepository(now Clock) *UserRepository {
	if now == nil {
		now = time.Now
	}
	return &UserRepository{users: make(map[string]models.User), now: now}
}

func (r *UserRepository) GetByID(_ context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.Email == email {
			found := u
			return &found, nil
		}
	}
	return nil, nil
}

func (r *UserRepository) GetByReferralCode(_ context.Context, code string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.ReferralCode == code {
			found := u
			return &found, nil
		}
	}
	return nil, nil
}

func (r *UserRepository) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Email == user.Email {
			return repository.ErrUserExists
		}
	}

	now := r.now()
	user.ID = uuid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.users[user.ID] = *user
	return nil
}

func (r *UserRepository) Activate(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Status = models.StatusActive
	u.LoginCount++
	u.UpdatedAt = r.now()
	r.users[id] = u
	return nil
}

// SetStatus changes a user's status out of band, the way an operator blocks
// an account. It is not part of repository.UserStore.
func (r *UserRepository) SetStatus(id string, status models.Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %d", status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Status = status
	u.UpdatedAt = r.now()
	r.users[id] = u
	return nil
}

// Count reports how many users are stored.
func (r *UserRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

type AdminRepository struct {
	mu     sync.RWMutex
	admins map[string]models.Admin
	now    Clock
}

func NewAdminRepository(now Clock) *AdminRepository {
	if now == nil {
		now = time.Now
	}
	return &AdminRepository{admins: make(map[string]models.Admin), now: now}
}

func (r *AdminRepository) GetByID(_ context.Context, id string) (*models.Admin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.admins[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *AdminRepository) GetByEmail(_ context.Context, email string) (*models.Admin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, a := range r.admins {
		if a.Email == email {
			found := a
			return &found, nil
		}
	}
	return nil, nil
}

func (r *AdminRepository) GetByResetToken(_ context.Context, tokenHash string, now time.Time) (*models.Admin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, a := range r.admins {
		if a.PasswordResetToken != "" && a.PasswordResetToken == tokenHash && now.Before(a.PasswordResetExpiry) {
			found := a
			return &found, nil
		}
	}
	return nil, nil
}

func (r *AdminRepository) Create(_ context.Context, admin *models.Admin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.admins {
		if a.Email == admin.Email {
			return repository.ErrAdminExists
		}
	}

	now := r.now()
	admin.ID = uuid.New().String()
	admin.CreatedAt = now
	admin.UpdatedAt = now
	r.admins[admin.ID] = *admin
	return nil
}

func (r *AdminRepository) RecordLogin(_ context.Context, id, refreshToken string) (*models.Admin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.admins[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	a.RefreshToken = refreshToken
	a.LoginCount++
	a.UpdatedAt = r.now()
	r.admins[id] = a
	return &a, nil
}

func (r *AdminRepository) SetRefreshToken(_ context.Context, id, refreshToken string) error {
	return r.update(id, func(a *models.Admin) {
		a.RefreshToken = refreshToken
	})
}

func (r *AdminRepository) SetPasswordReset(_ context.Context, id, tokenHash string, expiresAt time.Time) error {
	return r.update(id, func(a *models.Admin) {
		a.PasswordResetToken = tokenHash
		a.PasswordResetExpiry = expiresAt
	})
}

func (r *AdminRepository) UpdatePassword(_ context.Context, id, passwordHash string) error {
	return r.update(id, func(a *models.Admin) {
		a.PasswordHash = passwordHash
		a.PasswordResetToken = ""
		a.PasswordResetExpiry = time.Time{}
		a.RefreshToken = ""
	})
}

// SetStatus changes an admin's status out of band. It is not part of
// repository.AdminStore.
func (r *AdminRepository) SetStatus(id string, status models.Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %d", status)
	}
	return r.update(id, func(a *models.Admin) {
		a.Status = status
	})
}

func (r *AdminRepository) update(id string, fn func(*models.Admin)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.admins[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(&a)
	a.UpdatedAt = r.now()
	r.admins[id] = a
	return nil
}

type OTPRepository struct {
	mu      sync.Mutex
	byEmail map[string]models.OTP
	now     Clock
}

func NewOTPRepository(now Clock) *OTPRepository {
	if now == nil {
		now = time.Now
	}
	return &OTPRepository{byEmail: make(map[string]models.OTP), now: now}
}

func (r *OTPRepository) Create(_ context.Context, otp models.OTP) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweep()
	if _, ok := r.byEmail[otp.Email]; ok {
		return repository.ErrOTPExists
	}
	for _, o := range r.byEmail {
		if o.Code == otp.Code {
			return repository.ErrOTPCodeTaken
		}
	}
	r.byEmail[otp.Email] = otp
	return nil
}

func (r *OTPRepository) GetByEmail(_ context.Context, email string) (*models.OTP, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweep()
	o, ok := r.byEmail[email]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (r *OTPRepository) GetByCode(_ context.Context, code string) (*models.OTP, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweep()
	for _, o := range r.byEmail {
		if o.Code == code {
			found := o
			return &found, nil
		}
	}
	return nil, nil
}

func (r *OTPRepository) Consume(_ context.Context, code string) (*models.OTP, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweep()
	for email, o := range r.byEmail {
		if o.Code == code {
			delete(r.byEmail, email)
			return &o, nil
		}
	}
	return nil, repository.ErrOTPNotFound
}

func (r *OTPRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweep()
	return len(r.byEmail)
}

// sweep drops expired records. Callers hold r.mu.
func (r *OTPRepository) sweep() {
	now := r.now()
	for email, o := range r.byEmail {
		if o.Expired(now) {
			delete(r.byEmail, email)
		}
	}
}
