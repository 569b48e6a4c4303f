package middleware

import (
	"context"
	"net/http"

	"github.com/nkiryanov/authcore/internal/handlers/render"
	"github.com/nkiryanov/authcore/internal/handlers/userctx"
	"github.com/nkiryanov/authcore/internal/models"
)

type authService interface {
	// Take access token from request. Empty if nothing presented
	ReadAccessToken(r *http.Request) string

	// Resolve account by access token
	// Has to return apperrors.ErrUnauthorized for any token or account problem
	Authenticate(ctx context.Context, access string) (models.Account, error)
}

// Let only requests with valid access token through
// Authenticated account is available with userctx.FromContext
func Auth(as authService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account, err := as.Authenticate(r.Context(), as.ReadAccessToken(r))
			if err != nil {
				render.Error(w, err)
				return
			}

			ctx := userctx.New(r.Context(), account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
