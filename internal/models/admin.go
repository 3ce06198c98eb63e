package models

import "time"

// Admin is an operator account authenticated by password. The password hash,
// the persisted refresh token and the reset token hash never leave the
// server: they are excluded from JSON.
type Admin struct {
	ID                  string    `json:"id" dynamodbav:"id"`
	Name                string    `json:"name" dynamodbav:"name"`
	Email               string    `json:"email" dynamodbav:"email"`
	PasswordHash        string    `json:"-" dynamodbav:"password"`
	Logo                string    `json:"logo,omitempty" dynamodbav:"logo,omitempty"`
	Status              Status    `json:"status" dynamodbav:"status"`
	LoginCount          int       `json:"loginCount" dynamodbav:"login_count"`
	RefreshToken        string    `json:"-" dynamodbav:"refresh_token,omitempty"`
	PasswordResetToken  string    `json:"-" dynamodbav:"password_reset_token,omitempty"`
	PasswordResetExpiry time.Time `json:"-" dynamodbav:"password_reset_expires"`
	CreatedAt           time.Time `json:"-" dynamodbav:"created_at"`
	UpdatedAt           time.Time `json:"-" dynamodbav:"updated_at"`
}

func (a *Admin) GetPK() string {
	return "ADMIN#" + a.ID
}

func (a *Admin) GetSK() string {
	return "METADATA"
}

func (a *Admin) IsActive() bool {
	return a.Status == StatusActive
}
