package userctx

import (
	"context"

	"github.com/nkiryanov/authcore/internal/models"
)

type ctxKey string

const accountKey ctxKey = "account"

// Attach authenticated account to the context
// Only public part is kept: password hash and refresh token never travel with request
func New(ctx context.Context, a models.Account) context.Context {
	return context.WithValue(ctx, accountKey, a.Public())
}

func FromContext(ctx context.Context) (models.PublicAccount, bool) {
	a, ok := ctx.Value(accountKey).(models.PublicAccount)
	return a, ok
}
