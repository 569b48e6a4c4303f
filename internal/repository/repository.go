package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/nkiryanov/authcore/internal/models"
)

type CreateAccountParams struct {
	Username     string
	Email        string
	FullName     string
	PasswordHash string
}

// Account repository interface
// Username and email passed to repository are expected to be normalized already
type AccountRepo interface {
	// Create account
	// If account with the same username or email exists has to return apperrors.ErrAccountExists
	CreateAccount(ctx context.Context, arg CreateAccountParams) (models.Account, error)

	// Get account by it's id or by username or email
	// Empty username or email never match
	// If account not found must return apperrors.ErrAccountNotFound
	GetAccountByID(ctx context.Context, id uuid.UUID) (models.Account, error)
	GetAccountByUsernameOrEmail(ctx context.Context, username string, email string) (models.Account, error)

	// Apply patch to account and return updated account
	// If account not found must return apperrors.ErrAccountNotFound
	UpdateAccount(ctx context.Context, id uuid.UUID, patch models.AccountPatch) (models.Account, error)

	// Replace stored refresh token with next one only if stored equals presented (compare-and-swap)
	// Must return apperrors.ErrStaleToken if stored token differs or empty
	// Must return apperrors.ErrAccountNotFound if account not exists
	RotateRefreshToken(ctx context.Context, id uuid.UUID, presented string, next string) error
}
