package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/repository"
)

const (
	defaultKeyPrefix = "authcore"

	// How many times optimistic transaction is retried when watched keys changed
	maxTxRetries = 5
)

// Hash fields of account record
const (
	fieldID           = "id"
	fieldCreatedAt    = "created_at"
	fieldUpdatedAt    = "updated_at"
	fieldUsername     = "username"
	fieldEmail        = "email"
	fieldFullName     = "full_name"
	fieldPasswordHash = "password_hash"
	fieldRefreshToken = "refresh_token"
)

type Options struct {
	Addr     string
	Password string
	DB       int
}

// Connect to redis and make sure it is reachable
func Connect(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis is not reachable. Err: %w", err)
	}

	return client, nil
}

// Account repository backed by redis
//
// Account is stored as a hash under '<prefix>:account:<id>'.
// Username and email are unique secondary indexes '<prefix>:username:<name>' and '<prefix>:email:<email>'
// pointing to account id. Every multi-key write runs under WATCH so concurrent writers never interleave.
type AccountRepo struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ repository.AccountRepo = (*AccountRepo)(nil)

func New(client redis.UniversalClient, prefix string) *AccountRepo {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	return &AccountRepo{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *AccountRepo) accountKey(id uuid.UUID) string {
	return r.prefix + ":account:" + id.String()
}

func (r *AccountRepo) usernameKey(username string) string {
	return r.prefix + ":username:" + username
}

func (r *AccountRepo) emailKey(email string) string {
	return r.prefix + ":email:" + email
}

func (r *AccountRepo) CreateAccount(ctx context.Context, arg repository.CreateAccountParams) (models.Account, error) {
	now := r.now()
	account := models.Account{
		ID:           uuid.New(),
		CreatedAt:    now,
		UpdatedAt:    now,
		Username:     arg.Username,
		Email:        arg.Email,
		FullName:     arg.FullName,
		PasswordHash: arg.PasswordHash,
	}
	usernameKey := r.usernameKey(arg.Username)
	emailKey := r.emailKey(arg.Email)

	create := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, usernameKey, emailKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return apperrors.ErrAccountExists
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.accountKey(account.ID), accountToHash(account))
			pipe.Set(ctx, usernameKey, account.ID.String(), 0)
			pipe.Set(ctx, emailKey, account.ID.String(), 0)
			return nil
		})
		return err
	}

	err := r.watch(ctx, create, usernameKey, emailKey)
	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, apperrors.ErrAccountExists):
		return models.Account{}, err
	case errors.Is(err, redis.TxFailedErr):
		// Somebody was creating account with the same username or email all the time
		return models.Account{}, apperrors.ErrAccountExists
	default:
		return models.Account{}, fmt.Errorf("redis error: %w", err)
	}
}

func (r *AccountRepo) GetAccountByID(ctx context.Context, id uuid.UUID) (models.Account, error) {
	return r.getAccount(ctx, r.client, id)
}

func (r *AccountRepo) GetAccountByUsernameOrEmail(ctx context.Context, username string, email string) (models.Account, error) {
	var keys []string
	if username != "" {
		keys = append(keys, r.usernameKey(username))
	}
	if email != "" {
		keys = append(keys, r.emailKey(email))
	}

	for _, key := range keys {
		rawID, err := r.client.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			return models.Account{}, fmt.Errorf("redis error: %w", err)
		}

		id, err := uuid.Parse(rawID)
		if err != nil {
			return models.Account{}, fmt.Errorf("corrupted index %s: %w", key, err)
		}
		return r.getAccount(ctx, r.client, id)
	}

	return models.Account{}, apperrors.ErrAccountNotFound
}

func (r *AccountRepo) UpdateAccount(ctx context.Context, id uuid.UUID, patch models.AccountPatch) (models.Account, error) {
	key := r.accountKey(id)

	update := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return apperrors.ErrAccountNotFound
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			fields := map[string]any{fieldUpdatedAt: formatTime(r.now())}
			if patch.PasswordHash != nil {
				fields[fieldPasswordHash] = *patch.PasswordHash
			}
			switch {
			case patch.RefreshToken == nil:
			case *patch.RefreshToken == "":
				pipe.HDel(ctx, key, fieldRefreshToken)
			default:
				fields[fieldRefreshToken] = *patch.RefreshToken
			}
			pipe.HSet(ctx, key, fields)
			return nil
		})
		return err
	}

	err := r.watch(ctx, update, key)
	switch {
	case err == nil:
		return r.getAccount(ctx, r.client, id)
	case errors.Is(err, apperrors.ErrAccountNotFound):
		return models.Account{}, err
	default:
		return models.Account{}, fmt.Errorf("redis error: %w", err)
	}
}

func (r *AccountRepo) RotateRefreshToken(ctx context.Context, id uuid.UUID, presented string, next string) error {
	key := r.accountKey(id)

	rotate := func(tx *redis.Tx) error {
		values, err := tx.HMGet(ctx, key, fieldID, fieldRefreshToken).Result()
		if err != nil {
			return err
		}
		if values[0] == nil {
			return apperrors.ErrAccountNotFound
		}
		stored, _ := values[1].(string)
		if presented == "" || stored != presented {
			return apperrors.ErrStaleToken
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldRefreshToken, next, fieldUpdatedAt, formatTime(r.now()))
			return nil
		})
		return err
	}

	err := r.watch(ctx, rotate, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperrors.ErrAccountNotFound), errors.Is(err, apperrors.ErrStaleToken):
		return err
	case errors.Is(err, redis.TxFailedErr):
		return apperrors.ErrStaleToken
	default:
		return fmt.Errorf("redis error: %w", err)
	}
}

// Run optimistic transaction and retry it while watched keys are changed concurrently
// On retry the stored state is read again, so the losing writer sees what the winner wrote
func (r *AccountRepo) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	var err error
	for range maxTxRetries {
		err = r.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

func (r *AccountRepo) getAccount(ctx context.Context, c redis.Cmdable, id uuid.UUID) (models.Account, error) {
	values, err := c.HGetAll(ctx, r.accountKey(id)).Result()
	if err != nil {
		return models.Account{}, fmt.Errorf("redis error: %w", err)
	}
	if len(values) == 0 {
		return models.Account{}, apperrors.ErrAccountNotFound
	}

	return hashToAccount(values)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func accountToHash(a models.Account) map[string]any {
	h := map[string]any{
		fieldID:           a.ID.String(),
		fieldCreatedAt:    formatTime(a.CreatedAt),
		fieldUpdatedAt:    formatTime(a.UpdatedAt),
		fieldUsername:     a.Username,
		fieldEmail:        a.Email,
		fieldFullName:     a.FullName,
		fieldPasswordHash: a.PasswordHash,
	}
	if a.RefreshToken != "" {
		h[fieldRefreshToken] = a.RefreshToken
	}
	return h
}

func hashToAccount(h map[string]string) (models.Account, error) {
	var a models.Account
	var err error

	if a.ID, err = uuid.Parse(h[fieldID]); err != nil {
		return a, fmt.Errorf("corrupted account id: %w", err)
	}
	if a.CreatedAt, err = time.Parse(time.RFC3339Nano, h[fieldCreatedAt]); err != nil {
		return a, fmt.Errorf("corrupted account created_at: %w", err)
	}
	if a.UpdatedAt, err = time.Parse(time.RFC3339Nano, h[fieldUpdatedAt]); err != nil {
		return a, fmt.Errorf("corrupted account updated_at: %w", err)
	}

	a.Username = h[fieldUsername]
	a.Email = h[fieldEmail]
	a.FullName = h[fieldFullName]
	a.PasswordHash = h[fieldPasswordHash]
	a.RefreshToken = h[fieldRefreshToken]

	return a, nil
}
