package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nkiryanov/authcore/internal/db"
	"github.com/nkiryanov/authcore/internal/handlers"
	"github.com/nkiryanov/authcore/internal/logger"
	"github.com/nkiryanov/authcore/internal/repository"
	"github.com/nkiryanov/authcore/internal/repository/postgres"
	"github.com/nkiryanov/authcore/internal/repository/redisstore"
	"github.com/nkiryanov/authcore/internal/service/account"
	"github.com/nkiryanov/authcore/internal/service/auth"
	"github.com/nkiryanov/authcore/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/authcore/internal/service/hasher"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler
	Logger     logger.Logger

	// Release store connections
	closers []func()
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config. Err: %w", err)
	}

	l, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	app := &ServerApp{ListenAddr: c.ListenAddr, Logger: l}

	accountRepo, err := app.connectStore(ctx, c)
	if err != nil {
		return nil, err
	}

	passwordHasher, err := hasher.New(c.PasswordHasher, c.PasswordHashCost)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating password hasher. Err: %w", err)
	}

	// Both are validated already
	accessTTL, _ := parseDuration(c.AccessTokenExpiry)
	refreshTTL, _ := parseDuration(c.RefreshTokenExpiry)

	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		AccessSecret:  c.AccessTokenSecret,
		RefreshSecret: c.RefreshTokenSecret,
		AccessTTL:     accessTTL,
		RefreshTTL:    refreshTTL,
		Issuer:        c.TokenIssuer,
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	accountService := account.NewService(passwordHasher, accountRepo)
	authService, err := auth.NewAuthService(auth.Config{
		InsecureCookies:        !c.CookieSecure,
		RevokeOnPasswordChange: c.RevokeOnPasswordChange,
	}, tokenManager, accountService, l)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	app.Handler = handlers.NewRouter(authService, accountService, l)

	return app, nil
}

func (s *ServerApp) connectStore(ctx context.Context, c *Config) (repository.AccountRepo, error) {
	switch c.Store {
	case StoreRedis:
		client, err := redisstore.Connect(ctx, redisstore.Options{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("error while connecting to redis. Err: %w", err)
		}
		s.closers = append(s.closers, func() { _ = client.Close() })
		return redisstore.New(client, ""), nil

	default:
		pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		return &postgres.AccountRepo{DB: pool}, nil
	}
}

func (s *ServerApp) Close() {
	for _, c := range s.closers {
		c()
	}
	s.closers = nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.Close()

	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.Logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.Logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.Logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
