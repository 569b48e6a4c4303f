package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/repository"
)

type AccountRepo struct {
	DB DBTX
}

var _ repository.AccountRepo = (*AccountRepo)(nil)

const createAccount = `-- name: CreateAccount
INSERT INTO accounts (id, username, email, full_name, password_hash)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at, updated_at, username, email, full_name, password_hash, COALESCE(refresh_token, '')
`

func (r *AccountRepo) CreateAccount(ctx context.Context, arg repository.CreateAccountParams) (models.Account, error) {
	rows, _ := r.DB.Query(ctx, createAccount, uuid.New(), arg.Username, arg.Email, arg.FullName, arg.PasswordHash)
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return account, apperrors.ErrAccountExists
		}

		return account, fmt.Errorf("db error: %w", err)
	}

	return account, nil
}

const getAccountByID = `-- name: GetAccountByID
SELECT id, created_at, updated_at, username, email, full_name, password_hash, COALESCE(refresh_token, '')
FROM accounts
WHERE id = $1
`

func (r *AccountRepo) GetAccountByID(ctx context.Context, id uuid.UUID) (models.Account, error) {
	rows, _ := r.DB.Query(ctx, getAccountByID, id)
	return collectAccount(rows)
}

const getAccountByUsernameOrEmail = `-- name: GetAccountByUsernameOrEmail
SELECT id, created_at, updated_at, username, email, full_name, password_hash, COALESCE(refresh_token, '')
FROM accounts
WHERE ($1::text <> '' AND username = $1::text) OR ($2::text <> '' AND email = $2::text)
ORDER BY created_at
LIMIT 1
`

func (r *AccountRepo) GetAccountByUsernameOrEmail(ctx context.Context, username string, email string) (models.Account, error) {
	if username == "" && email == "" {
		return models.Account{}, apperrors.ErrAccountNotFound
	}

	rows, _ := r.DB.Query(ctx, getAccountByUsernameOrEmail, username, email)
	return collectAccount(rows)
}

const updateAccount = `-- name: UpdateAccount
UPDATE accounts
SET password_hash = COALESCE($2, password_hash),
    refresh_token = CASE WHEN $3::text IS NULL THEN refresh_token ELSE NULLIF($3::text, '') END,
    updated_at = now()
WHERE id = $1
RETURNING id, created_at, updated_at, username, email, full_name, password_hash, COALESCE(refresh_token, '')
`

func (r *AccountRepo) UpdateAccount(ctx context.Context, id uuid.UUID, patch models.AccountPatch) (models.Account, error) {
	rows, _ := r.DB.Query(ctx, updateAccount, id, patch.PasswordHash, patch.RefreshToken)
	return collectAccount(rows)
}

const rotateRefreshToken = `-- name: RotateRefreshToken
UPDATE accounts
SET refresh_token = $3, updated_at = now()
WHERE id = $1 AND refresh_token = $2
RETURNING id
`

const accountExists = `-- name: AccountExists
SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)
`

// Rotate refresh token
// The row is locked by UPDATE, so of two concurrent rotations only one matches the presented token
func (r *AccountRepo) RotateRefreshToken(ctx context.Context, id uuid.UUID, presented string, next string) error {
	if presented == "" {
		return apperrors.ErrStaleToken
	}

	rows, _ := r.DB.Query(ctx, rotateRefreshToken, id, presented, next)
	_, err := pgx.CollectOneRow(rows, pgx.RowTo[uuid.UUID])

	switch {
	case err == nil:
		return nil
	case !errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("db error: %w", err)
	}

	var exists bool
	err = r.DB.QueryRow(ctx, accountExists, id).Scan(&exists)
	switch {
	case err != nil:
		return fmt.Errorf("db error: %w", err)
	case !exists:
		return apperrors.ErrAccountNotFound
	default:
		return apperrors.ErrStaleToken
	}
}

func collectAccount(rows pgx.Rows) (models.Account, error) {
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, pgx.ErrNoRows):
		return account, apperrors.ErrAccountNotFound
	default:
		return account, fmt.Errorf("db error: %w", err)
	}
}

func rowToAccount(row pgx.CollectableRow) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt, &a.Username, &a.Email, &a.FullName, &a.PasswordHash, &a.RefreshToken)
	return a, err
}
