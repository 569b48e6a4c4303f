package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nkiryanov/authcore/internal/handlers/middleware"
	"github.com/nkiryanov/authcore/internal/handlers/render"
	"github.com/nkiryanov/authcore/internal/handlers/userctx"
	"github.com/nkiryanov/authcore/internal/logger"
	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/service/account"
	"github.com/nkiryanov/authcore/internal/service/auth"
)

type UsersHandler struct {
	authService    authService
	accountService accountService
	log            logger.Logger
}

func NewUsers(authService authService, accountService accountService, l logger.Logger) *UsersHandler {
	return &UsersHandler{
		authService:    authService,
		accountService: accountService,
		log:            l.WithGroup("users"),
	}
}

func (h *UsersHandler) Handler() http.Handler {
	r := chi.NewRouter()

	r.Post("/register", h.register)
	r.Post("/login", h.login)
	r.Post("/refresh-token", h.refresh)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(h.authService))

		r.Post("/logout", h.logout)
		r.Post("/change-password", h.changePassword)
		r.Get("/current-user", h.currentUser)
	})

	return r
}

type accountResponse struct {
	Account models.PublicAccount `json:"account"`
}

type tokensResponse struct {
	Account      *models.PublicAccount `json:"account,omitempty"`
	AccessToken  string                `json:"accessToken"`
	RefreshToken string                `json:"refreshToken"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Render service error. Internal failures are logged, clients get generic message only
func (h *UsersHandler) fail(w http.ResponseWriter, r *http.Request, action string, err error) {
	if render.Status(err) >= http.StatusInternalServerError {
		h.log.Error("request failed", "action", action, "path", r.URL.Path, "error", err)
	}
	render.Error(w, err)
}

func (h *UsersHandler) register(w http.ResponseWriter, r *http.Request) {
	type RegisterRequest struct {
		Username string `json:"username" validate:"required,min=2,max=50,username"`
		Email    string `json:"email" validate:"required,email,max=254"`
		Password string `json:"password" validate:"required,min=6,max=128"`
		FullName string `json:"fullName" validate:"max=100"`
	}

	data, err := render.BindAndValidate[RegisterRequest](w, r)
	if err != nil {
		return
	}

	created, err := h.accountService.Create(r.Context(), account.CreateParams{
		Username: data.Username,
		Email:    data.Email,
		Password: data.Password,
		FullName: data.FullName,
	})
	if err != nil {
		h.fail(w, r, "register", err)
		return
	}

	render.JSONWithStatus(w, accountResponse{Account: created.Public()}, http.StatusCreated)
}

func (h *UsersHandler) login(w http.ResponseWriter, r *http.Request) {
	type LoginRequest struct {
		Username string `json:"username" validate:"max=50"`
		Email    string `json:"email" validate:"max=254"`
		Password string `json:"password" validate:"required"`
	}

	data, err := render.BindAndValidate[LoginRequest](w, r)
	if err != nil {
		return
	}

	acc, pair, err := h.authService.Login(r.Context(), auth.Credentials{
		Username: data.Username,
		Email:    data.Email,
		Password: data.Password,
	})
	if err != nil {
		h.fail(w, r, "login", err)
		return
	}

	public := acc.Public()
	h.authService.SetTokens(w, pair)
	render.JSON(w, tokensResponse{
		Account:      &public,
		AccessToken:  pair.Access.Value,
		RefreshToken: pair.Refresh.Value,
	})
}

// Refresh token is taken from cookie, then from body
func (h *UsersHandler) refresh(w http.ResponseWriter, r *http.Request) {
	type RefreshRequest struct {
		RefreshToken string `json:"refreshToken"`
	}

	refresh := h.authService.ReadRefreshToken(r)
	if refresh == "" {
		var data RefreshRequest
		err := json.NewDecoder(r.Body).Decode(&data)
		if err != nil && !errors.Is(err, io.EOF) {
			render.DecodeError(w, err)
			return
		}
		refresh = data.RefreshToken
	}

	pair, err := h.authService.Refresh(r.Context(), refresh)
	if err != nil {
		h.fail(w, r, "refresh", err)
		return
	}

	h.authService.SetTokens(w, pair)
	render.JSON(w, tokensResponse{
		AccessToken:  pair.Access.Value,
		RefreshToken: pair.Refresh.Value,
	})
}

func (h *UsersHandler) logout(w http.ResponseWriter, r *http.Request) {
	current, _ := userctx.FromContext(r.Context())

	if err := h.authService.Logout(r.Context(), current.ID); err != nil {
		h.fail(w, r, "logout", err)
		return
	}

	h.authService.ClearTokens(w)
	render.JSON(w, messageResponse{Message: "Logged out"})
}

func (h *UsersHandler) changePassword(w http.ResponseWriter, r *http.Request) {
	type ChangePasswordRequest struct {
		OldPassword string `json:"oldPassword" validate:"required"`
		NewPassword string `json:"newPassword" validate:"required,min=6,max=128"`
	}

	data, err := render.BindAndValidate[ChangePasswordRequest](w, r)
	if err != nil {
		return
	}

	current, _ := userctx.FromContext(r.Context())
	err = h.authService.ChangePassword(r.Context(), current.ID, data.OldPassword, data.NewPassword)
	if err != nil {
		h.fail(w, r, "change password", err)
		return
	}

	render.JSON(w, messageResponse{Message: "Password changed"})
}

func (h *UsersHandler) currentUser(w http.ResponseWriter, r *http.Request) {
	current, _ := userctx.FromContext(r.Context())
	render.JSON(w, accountResponse{Account: current})
}
