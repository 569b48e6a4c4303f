package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/nkiryanov/authcore/internal/handlers/middleware"
	"github.com/nkiryanov/authcore/internal/handlers/render"
	"github.com/nkiryanov/authcore/internal/logger"
	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/service/account"
	"github.com/nkiryanov/authcore/internal/service/auth"
)

// Request body limit for the whole API
const maxBodySize = 16 << 10

func NewRouter(authService authService, accountService accountService, l logger.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimiddleware.RequestID,
		chimiddleware.RealIP,
		middleware.Logger(l),
		chimiddleware.Recoverer,
		chimiddleware.RequestSize(maxBodySize),
	)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		render.ServiceError(w, "not_found", "Not found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		render.ServiceError(w, "method_not_allowed", "Method not allowed", http.StatusMethodNotAllowed)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		render.JSON(w, map[string]string{"status": "ok"})
	})

	users := NewUsers(authService, accountService, l)
	r.Mount("/api/v1/users", users.Handler())

	return r
}

type authService interface {
	// Check credentials and issue token pair
	// Has to return apperrors.ErrMissingIdentifier, apperrors.ErrAccountNotFound or apperrors.ErrInvalidCredentials
	Login(ctx context.Context, creds auth.Credentials) (models.Account, models.TokenPair, error)

	// Exchange refresh token to the new pair
	// Has to return apperrors.ErrMissingToken, apperrors.ErrInvalidToken or apperrors.ErrStaleToken
	Refresh(ctx context.Context, refresh string) (models.TokenPair, error)

	Logout(ctx context.Context, accountID uuid.UUID) error
	ChangePassword(ctx context.Context, accountID uuid.UUID, oldPassword string, newPassword string) error

	// Used by auth middleware
	ReadAccessToken(r *http.Request) string
	Authenticate(ctx context.Context, access string) (models.Account, error)

	SetTokens(w http.ResponseWriter, pair models.TokenPair)
	ClearTokens(w http.ResponseWriter)
	ReadRefreshToken(r *http.Request) string
}

type accountService interface {
	// Has to return apperrors.ErrAccountExists if username or email is taken
	Create(ctx context.Context, arg account.CreateParams) (models.Account, error)
}
