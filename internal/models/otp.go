package models

import "time"

// OTP is a pending email verification code. A record is live until ExpiresAt
// and is removed as soon as it is matched.
type OTP struct {
	Email     string    `json:"email" dynamodbav:"Email"`
	Code      string    `json:"code" dynamodbav:"Code"`
	CreatedAt time.Time `json:"created_at" dynamodbav:"CreatedAt"`
	ExpiresAt time.Time `json:"expires_at" dynamodbav:"ExpiresAt"`
}

func (o *OTP) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}
