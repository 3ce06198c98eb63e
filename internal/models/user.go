package models

import (
	"time"
)

type User struct {
	ID           string    `json:"id" dynamodbav:"id"`
	Name         string    `json:"name" dynamodbav:"name"`
	Email        string    `json:"email" dynamodbav:"email"`
	Mobile       string    `json:"mobile" dynamodbav:"mobile"`
	ReferrerID   string    `json:"referer_id,omitempty" dynamodbav:"referer_id,omitempty"`
	RefererCode  string    `json:"referer_code,omitempty" dynamodbav:"referer_code,omitempty"`
	ReferralCode string    `json:"refercode" dynamodbav:"refercode"`
	Balance      float64   `json:"balance" dynamodbav:"balance"`
	Logo         string    `json:"logo,omitempty" dynamodbav:"logo,omitempty"`
	Status       Status    `json:"status" dynamodbav:"status"`
	LoginCount   int       `json:"loginCount" dynamodbav:"login_count"`
	CreatedAt    time.Time `json:"-" dynamodbav:"created_at"`
	UpdatedAt    time.Time `json:"-" dynamodbav:"updated_at"`
}

func (u *User) GetPK() string {
	return "USER#" + u.ID
}

func (u *User) GetSK() string {
	return "METADATA"
}

func (u *User) IsActive() bool {
	return u.Status == StatusActive
}
