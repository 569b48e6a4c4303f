package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/logger"
	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/service/account"
	"github.com/nkiryanov/authcore/internal/service/auth/tokenmanager"
)

type Config struct {
	// Cookie names to pass tokens. Defaults are used if empty
	AccessCookieName  string
	RefreshCookieName string

	// Allow cookies over plain http. Local development only
	InsecureCookies bool

	// Clear stored refresh token when password changed, so other devices have to login again
	RevokeOnPasswordChange bool
}

type Credentials struct {
	Username string
	Email    string
	Password string
}

type AuthService struct {
	cfg      Config
	tokens   *tokenmanager.TokenManager
	accounts *account.Service
	log      logger.Logger
}

func NewAuthService(cfg Config, tokens *tokenmanager.TokenManager, accounts *account.Service, l logger.Logger) (*AuthService, error) {
	if tokens == nil || accounts == nil {
		return nil, errors.New("token manager and account service must not be nil")
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}
	if cfg.AccessCookieName == "" {
		cfg.AccessCookieName = DefaultAccessCookie
	}
	if cfg.RefreshCookieName == "" {
		cfg.RefreshCookieName = DefaultRefreshCookie
	}

	return &AuthService{
		cfg:      cfg,
		tokens:   tokens,
		accounts: accounts,
		log:      l.WithGroup("auth"),
	}, nil
}

// Check credentials and start new session
// Session started before (if any) is dropped: only one refresh token per account is valid
func (s *AuthService) Login(ctx context.Context, creds Credentials) (models.Account, models.TokenPair, error) {
	acc, err := s.accounts.Authenticate(ctx, creds.Username, creds.Email, creds.Password)
	if err != nil {
		return models.Account{}, models.TokenPair{}, err
	}

	pair, err := s.tokens.IssuePair(acc)
	if err != nil {
		return models.Account{}, models.TokenPair{}, s.internal("issue tokens", err)
	}

	if err := s.accounts.StoreRefreshToken(ctx, acc.ID, pair.Refresh.Value); err != nil {
		return models.Account{}, models.TokenPair{}, s.internal("store refresh token", err)
	}

	acc.RefreshToken = pair.Refresh.Value
	return acc, pair, nil
}

// Exchange refresh token to the new pair
// Presented token is accepted once: it must be the stored one, and it is replaced atomically
func (s *AuthService) Refresh(ctx context.Context, refresh string) (models.TokenPair, error) {
	if refresh == "" {
		return models.TokenPair{}, apperrors.ErrMissingToken
	}

	claims, err := s.tokens.ParseRefresh(refresh)
	if err != nil {
		return models.TokenPair{}, apperrors.ErrInvalidToken
	}

	acc, err := s.accounts.GetByID(ctx, claims.UserID)
	switch {
	case errors.Is(err, apperrors.ErrAccountNotFound):
		return models.TokenPair{}, apperrors.ErrInvalidToken
	case err != nil:
		return models.TokenPair{}, s.internal("load account", err)
	}

	if subtle.ConstantTimeCompare([]byte(acc.RefreshToken), []byte(refresh)) != 1 {
		s.log.Warn("superseded refresh token presented", "account_id", acc.ID)
		return models.TokenPair{}, apperrors.ErrStaleToken
	}

	pair, err := s.tokens.IssuePair(acc)
	if err != nil {
		return models.TokenPair{}, s.internal("issue tokens", err)
	}

	err = s.accounts.RotateRefreshToken(ctx, acc.ID, refresh, pair.Refresh.Value)
	switch {
	case errors.Is(err, apperrors.ErrStaleToken):
		s.log.Warn("refresh token rotated concurrently", "account_id", acc.ID)
		return models.TokenPair{}, apperrors.ErrStaleToken
	case errors.Is(err, apperrors.ErrAccountNotFound):
		return models.TokenPair{}, apperrors.ErrInvalidToken
	case err != nil:
		return models.TokenPair{}, s.internal("rotate refresh token", err)
	}

	return pair, nil
}

// Drop account session. Repeated logout is ok
func (s *AuthService) Logout(ctx context.Context, accountID uuid.UUID) error {
	err := s.accounts.ClearRefreshToken(ctx, accountID)
	if err != nil && !errors.Is(err, apperrors.ErrAccountNotFound) {
		return s.internal("clear refresh token", err)
	}
	return nil
}

func (s *AuthService) ChangePassword(ctx context.Context, accountID uuid.UUID, oldPassword string, newPassword string) error {
	_, err := s.accounts.ChangePassword(ctx, accountID, oldPassword, newPassword)
	if err != nil {
		return err
	}

	if s.cfg.RevokeOnPasswordChange {
		if err := s.accounts.ClearRefreshToken(ctx, accountID); err != nil {
			return s.internal("revoke refresh token", err)
		}
	}

	return nil
}

// Resolve account by access token
// Every token or account problem is reported as apperrors.ErrUnauthorized
func (s *AuthService) Authenticate(ctx context.Context, access string) (models.Account, error) {
	if access == "" {
		return models.Account{}, apperrors.ErrUnauthorized
	}

	claims, err := s.tokens.ParseAccess(access)
	if err != nil {
		return models.Account{}, apperrors.ErrUnauthorized
	}

	acc, err := s.accounts.GetByID(ctx, claims.UserID)
	switch {
	case errors.Is(err, apperrors.ErrAccountNotFound):
		return models.Account{}, apperrors.ErrUnauthorized
	case err != nil:
		return models.Account{}, s.internal("load account", err)
	}

	return acc, nil
}

func (s *AuthService) internal(action string, err error) error {
	s.log.Error("auth operation failed", "action", action, "error", err)
	return fmt.Errorf("%w: %s. Err: %w", apperrors.ErrInternal, action, err)
}
