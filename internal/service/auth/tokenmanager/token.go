package tokenmanager

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultSigningMethod   = "HS256"
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
)

type AccessTokenClaims struct {
	jwt.RegisteredClaims
	UserID   uuid.UUID `json:"uid"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
}

type RefreshTokenClaims struct {
	jwt.RegisteredClaims
	UserID uuid.UUID `json:"uid"`
}

// Token manager with sensible default
type Config struct {
	// Secret keys to sign access and refresh tokens
	// Required to be set and must differ: leaked access secret must not allow to forge refresh tokens
	AccessSecret  string
	RefreshSecret string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Access and refresh token lifetimes
	// If not set than default is used. Refresh has to live longer than access
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Optional 'iss' claim. If set it is required on parsing
	Issuer string

	// Time source. time.Now if not set
	Clock func() time.Time
}

type TokenManager struct {
	accessKey  []byte
	refreshKey []byte

	// JWT MAC (Message Authentication Code) algorithm
	alg jwt.SigningMethod

	accessTTL  time.Duration
	refreshTTL time.Duration

	issuer string
	now    func() time.Time
}

func New(cfg Config) (*TokenManager, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("access and refresh secrets must not be empty")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg, ok := jwt.GetSigningMethod(cfg.Alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("signing method %q is not supported, use one of HS256, HS384, HS512", cfg.Alg)
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	if cfg.AccessTTL < 0 || cfg.RefreshTTL < 0 {
		return nil, errors.New("token lifetimes must be positive")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, fmt.Errorf("refresh token lifetime (%s) must be longer than access one (%s)", cfg.RefreshTTL, cfg.AccessTTL)
	}

	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &TokenManager{
		accessKey:  []byte(cfg.AccessSecret),
		refreshKey: []byte(cfg.RefreshSecret),
		alg:        alg,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		issuer:     cfg.Issuer,
		now:        cfg.Clock,
	}, nil
}

func (m *TokenManager) registered(now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    m.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

// Issue signed access token with account identity claims
func (m *TokenManager) IssueAccess(account models.Account) (models.IssuedToken, error) {
	now := m.now().Truncate(time.Second)
	expiresAt := now.Add(m.accessTTL)

	token := jwt.NewWithClaims(m.alg, AccessTokenClaims{
		RegisteredClaims: m.registered(now, m.accessTTL),
		UserID:           account.ID,
		Username:         account.Username,
		Email:            account.Email,
	})

	signed, err := token.SignedString(m.accessKey)
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	return models.IssuedToken{Value: signed, ExpiresAt: expiresAt}, nil
}

// Issue signed refresh token. It carries account id only
func (m *TokenManager) IssueRefresh(accountID uuid.UUID) (models.IssuedToken, error) {
	now := m.now().Truncate(time.Second)
	expiresAt := now.Add(m.refreshTTL)

	token := jwt.NewWithClaims(m.alg, RefreshTokenClaims{
		RegisteredClaims: m.registered(now, m.refreshTTL),
		UserID:           accountID,
	})

	signed, err := token.SignedString(m.refreshKey)
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing refresh token. Err: %w", err)
	}

	return models.IssuedToken{Value: signed, ExpiresAt: expiresAt}, nil
}

func (m *TokenManager) IssuePair(account models.Account) (models.TokenPair, error) {
	access, err := m.IssueAccess(account)
	if err != nil {
		return models.TokenPair{}, err
	}

	refresh, err := m.IssueRefresh(account.ID)
	if err != nil {
		return models.TokenPair{}, err
	}

	return models.TokenPair{Access: access, Refresh: refresh}, nil
}

// Parse and validate access token
// Any failure is reported as apperrors.ErrInvalidToken
func (m *TokenManager) ParseAccess(access string) (AccessTokenClaims, error) {
	var claims AccessTokenClaims
	if err := m.parse(access, m.accessKey, &claims); err != nil {
		return AccessTokenClaims{}, err
	}
	if claims.UserID == uuid.Nil {
		return AccessTokenClaims{}, apperrors.ErrInvalidToken
	}
	return claims, nil
}

// Parse and validate refresh token
// Any failure is reported as apperrors.ErrInvalidToken
func (m *TokenManager) ParseRefresh(refresh string) (RefreshTokenClaims, error) {
	var claims RefreshTokenClaims
	if err := m.parse(refresh, m.refreshKey, &claims); err != nil {
		return RefreshTokenClaims{}, err
	}
	if claims.UserID == uuid.Nil {
		return RefreshTokenClaims{}, apperrors.ErrInvalidToken
	}
	return claims, nil
}

// Check signature, algorithm, expiry and issuer
// The reason is dropped intentionally: callers must not be able to tell expired token from forged one
func (m *TokenManager) parse(value string, key []byte, claims jwt.Claims) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	_, err := jwt.ParseWithClaims(
		value,
		claims,
		func(t *jwt.Token) (any, error) {
			return key, nil
		},
		opts...,
	)
	if err != nil {
		return apperrors.ErrInvalidToken
	}

	return nil
}
