package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/repository"
	"github.com/nkiryanov/authcore/internal/service/hasher"
)

type Service struct {
	hasher      hasher.PasswordHasher
	accountRepo repository.AccountRepo
}

func NewService(h hasher.PasswordHasher, accountRepo repository.AccountRepo) *Service {
	if h == nil {
		h = hasher.Default
	}

	return &Service{
		hasher:      h,
		accountRepo: accountRepo,
	}
}

type CreateParams struct {
	Username string
	Email    string
	Password string
	FullName string
}

// Usernames and emails are stored trimmed and lower cased, so 'Ada' and 'ada' is the same account
func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func (s *Service) Create(ctx context.Context, arg CreateParams) (models.Account, error) {
	username := normalize(arg.Username)
	email := normalize(arg.Email)

	switch {
	case username == "":
		return models.Account{}, fmt.Errorf("%w: username is required", apperrors.ErrValidation)
	case email == "":
		return models.Account{}, fmt.Errorf("%w: email is required", apperrors.ErrValidation)
	case arg.Password == "":
		return models.Account{}, fmt.Errorf("%w: password is required", apperrors.ErrValidation)
	}

	hash, err := s.hasher.Hash(arg.Password)
	if err != nil {
		return models.Account{}, fmt.Errorf("%w: can't hash password. Err: %w", apperrors.ErrInternal, err)
	}

	account, err := s.accountRepo.CreateAccount(ctx, repository.CreateAccountParams{
		Username:     username,
		Email:        email,
		FullName:     strings.TrimSpace(arg.FullName),
		PasswordHash: hash,
	})
	if err != nil {
		return models.Account{}, fmt.Errorf("can't create account. Err: %w", err)
	}

	return account, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (models.Account, error) {
	return s.accountRepo.GetAccountByID(ctx, id)
}

// Find account by username or email and check the password
// Username is tried first, email is used if username not matched
func (s *Service) Authenticate(ctx context.Context, username string, email string, password string) (models.Account, error) {
	username = normalize(username)
	email = normalize(email)

	if username == "" && email == "" {
		return models.Account{}, apperrors.ErrMissingIdentifier
	}

	account, err := s.accountRepo.GetAccountByUsernameOrEmail(ctx, username, email)
	if err != nil {
		return models.Account{}, err
	}

	if err := s.checkPassword(account, password); err != nil {
		return models.Account{}, err
	}

	return account, nil
}

func (s *Service) ChangePassword(ctx context.Context, id uuid.UUID, oldPassword string, newPassword string) (models.Account, error) {
	if newPassword == "" {
		return models.Account{}, fmt.Errorf("%w: new password is required", apperrors.ErrValidation)
	}

	account, err := s.accountRepo.GetAccountByID(ctx, id)
	if err != nil {
		return models.Account{}, err
	}

	if err := s.checkPassword(account, oldPassword); err != nil {
		return models.Account{}, err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return models.Account{}, fmt.Errorf("%w: can't hash password. Err: %w", apperrors.ErrInternal, err)
	}

	return s.accountRepo.UpdateAccount(ctx, id, models.AccountPatch{PasswordHash: &hash})
}

// Overwrite stored refresh token. Previous session (if any) becomes stale
func (s *Service) StoreRefreshToken(ctx context.Context, id uuid.UUID, token string) error {
	if token == "" {
		return errors.New("refresh token to store must not be empty")
	}

	_, err := s.accountRepo.UpdateAccount(ctx, id, models.AccountPatch{RefreshToken: &token})
	return err
}

func (s *Service) RotateRefreshToken(ctx context.Context, id uuid.UUID, presented string, next string) error {
	return s.accountRepo.RotateRefreshToken(ctx, id, presented, next)
}

// Clearing token of account without session is not an error
func (s *Service) ClearRefreshToken(ctx context.Context, id uuid.UUID) error {
	empty := ""
	_, err := s.accountRepo.UpdateAccount(ctx, id, models.AccountPatch{RefreshToken: &empty})
	return err
}

func (s *Service) checkPassword(account models.Account, password string) error {
	ok, err := s.hasher.Compare(account.PasswordHash, password)
	if err != nil {
		return fmt.Errorf("%w: can't compare password hash. Err: %w", apperrors.ErrInternal, err)
	}
	if !ok {
		return apperrors.ErrInvalidCredentials
	}
	return nil
}
