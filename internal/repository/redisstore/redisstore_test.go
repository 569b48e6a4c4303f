package redisstore

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/repository"
	"github.com/nkiryanov/authcore/internal/testutil"
)

func ptr(s string) *string { return &s }

func Test_AccountRepo(t *testing.T) {
	params := repository.CreateAccountParams{
		Username:     "ada",
		Email:        "ada@x.io",
		FullName:     "Ada Lovelace",
		PasswordHash: "hashed_password",
	}

	newRepo := func(t *testing.T) *AccountRepo {
		_, client := testutil.StartRedis(t)
		return New(client, "test")
	}

	t.Run("create account ok", func(t *testing.T) {
		r := newRepo(t)

		account, err := r.CreateAccount(t.Context(), params)

		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, account.ID, "id should be generated")
		assert.Equal(t, "ada", account.Username)
		assert.Equal(t, "ada@x.io", account.Email)
		assert.Equal(t, "Ada Lovelace", account.FullName)
		assert.Equal(t, "hashed_password", account.PasswordHash)
		assert.Empty(t, account.RefreshToken)
		assert.WithinDuration(t, time.Now(), account.CreatedAt, time.Second)
	})

	t.Run("keys are prefixed", func(t *testing.T) {
		mr, client := testutil.StartRedis(t)
		r := New(client, "")

		account, err := r.CreateAccount(t.Context(), params)
		require.NoError(t, err)

		assert.True(t, mr.Exists("authcore:account:"+account.ID.String()), "default prefix should be used")
		got, err := mr.Get("authcore:username:ada")
		require.NoError(t, err)
		assert.Equal(t, account.ID.String(), got)
		got, err = mr.Get("authcore:email:ada@x.io")
		require.NoError(t, err)
		assert.Equal(t, account.ID.String(), got)
	})

	t.Run("create duplicate fails", func(t *testing.T) {
		tests := []struct {
			name   string
			params repository.CreateAccountParams
		}{
			{"same username", repository.CreateAccountParams{Username: "ada", Email: "other@x.io", PasswordHash: "h"}},
			{"same email", repository.CreateAccountParams{Username: "other", Email: "ada@x.io", PasswordHash: "h"}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				r := newRepo(t)
				_, err := r.CreateAccount(t.Context(), params)
				require.NoError(t, err)

				_, err = r.CreateAccount(t.Context(), tt.params)

				require.ErrorIs(t, err, apperrors.ErrAccountExists)
			})
		}
	})

	t.Run("get account", func(t *testing.T) {
		r := newRepo(t)
		created, err := r.CreateAccount(t.Context(), params)
		require.NoError(t, err)

		byID, err := r.GetAccountByID(t.Context(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, byID.ID)
		assert.Equal(t, created.Username, byID.Username)
		assert.Equal(t, created.PasswordHash, byID.PasswordHash)
		assert.WithinDuration(t, created.CreatedAt, byID.CreatedAt, 0)

		byUsername, err := r.GetAccountByUsernameOrEmail(t.Context(), "ada", "")
		require.NoError(t, err)
		assert.Equal(t, created.ID, byUsername.ID)

		byEmail, err := r.GetAccountByUsernameOrEmail(t.Context(), "", "ada@x.io")
		require.NoError(t, err)
		assert.Equal(t, created.ID, byEmail.ID)

		fallback, err := r.GetAccountByUsernameOrEmail(t.Context(), "unknown", "ada@x.io")
		require.NoError(t, err, "should fall back to email if username not matched")
		assert.Equal(t, created.ID, fallback.ID)

		_, err = r.GetAccountByID(t.Context(), uuid.New())
		assert.ErrorIs(t, err, apperrors.ErrAccountNotFound)

		_, err = r.GetAccountByUsernameOrEmail(t.Context(), "", "")
		assert.ErrorIs(t, err, apperrors.ErrAccountNotFound)
	})

	t.Run("update account", func(t *testing.T) {
		r := newRepo(t)
		created, err := r.CreateAccount(t.Context(), params)
		require.NoError(t, err)

		got, err := r.UpdateAccount(t.Context(), created.ID, models.AccountPatch{RefreshToken: ptr("refresh-1")})
		require.NoError(t, err)
		assert.Equal(t, "refresh-1", got.RefreshToken)
		assert.Equal(t, "hashed_password", got.PasswordHash)

		got, err = r.UpdateAccount(t.Context(), created.ID, models.AccountPatch{PasswordHash: ptr("new_hash")})
		require.NoError(t, err)
		assert.Equal(t, "new_hash", got.PasswordHash)
		assert.Equal(t, "refresh-1", got.RefreshToken)

		got, err = r.UpdateAccount(t.Context(), created.ID, models.AccountPatch{RefreshToken: ptr("")})
		require.NoError(t, err)
		assert.Empty(t, got.RefreshToken)

		_, err = r.UpdateAccount(t.Context(), uuid.New(), models.AccountPatch{RefreshToken: ptr("x")})
		assert.ErrorIs(t, err, apperrors.ErrAccountNotFound)
	})

	t.Run("rotate refresh token", func(t *testing.T) {
		r := newRepo(t)
		created, err := r.CreateAccount(t.Context(), params)
		require.NoError(t, err)

		err = r.RotateRefreshToken(t.Context(), created.ID, "", "refresh-1")
		assert.ErrorIs(t, err, apperrors.ErrStaleToken, "account without session can't rotate")

		_, err = r.UpdateAccount(t.Context(), created.ID, models.AccountPatch{RefreshToken: ptr("refresh-1")})
		require.NoError(t, err)

		err = r.RotateRefreshToken(t.Context(), created.ID, "refresh-1", "refresh-2")
		require.NoError(t, err)

		got, err := r.GetAccountByID(t.Context(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, "refresh-2", got.RefreshToken)

		err = r.RotateRefreshToken(t.Context(), created.ID, "refresh-1", "refresh-3")
		assert.ErrorIs(t, err, apperrors.ErrStaleToken)

		err = r.RotateRefreshToken(t.Context(), uuid.New(), "refresh-2", "refresh-3")
		assert.ErrorIs(t, err, apperrors.ErrAccountNotFound)
	})

	t.Run("concurrent rotations only one wins", func(t *testing.T) {
		r := newRepo(t)
		created, err := r.CreateAccount(t.Context(), params)
		require.NoError(t, err)
		_, err = r.UpdateAccount(t.Context(), created.ID, models.AccountPatch{RefreshToken: ptr("shared")})
		require.NoError(t, err)

		const workers = 8
		errs := make([]error, workers)
		var wg sync.WaitGroup
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = r.RotateRefreshToken(t.Context(), created.ID, "shared", uuid.NewString())
			}()
		}
		wg.Wait()

		won := 0
		for _, err := range errs {
			if err == nil {
				won++
				continue
			}
			require.ErrorIs(t, err, apperrors.ErrStaleToken)
		}
		require.Equal(t, 1, won, "exactly one rotation should win")
	})
}
