package models

import (
	"time"

	"github.com/google/uuid"
)

type Account struct {
	ID           uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Username     string
	Email        string
	FullName     string
	PasswordHash string
	RefreshToken string // empty if account has no active session
}

// Public part of the account: without password hash and refresh token
type PublicAccount struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FullName  string    `json:"fullName"`
	CreatedAt time.Time `json:"createdAt"`
}

func (a Account) Public() PublicAccount {
	return PublicAccount{
		ID:        a.ID,
		Username:  a.Username,
		Email:     a.Email,
		FullName:  a.FullName,
		CreatedAt: a.CreatedAt,
	}
}

// Partial account update. Nil fields are left untouched
// RefreshToken pointing to empty string clears the stored token
type AccountPatch struct {
	PasswordHash *string
	RefreshToken *string
}
