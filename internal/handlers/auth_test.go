package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/authcore/internal/logger"
	"github.com/nkiryanov/authcore/internal/repository/redisstore"
	"github.com/nkiryanov/authcore/internal/service/account"
	"github.com/nkiryanov/authcore/internal/service/auth"
	"github.com/nkiryanov/authcore/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/authcore/internal/service/hasher"
	"github.com/nkiryanov/authcore/internal/testutil"
)

type apiClient struct {
	t      *testing.T
	url    string
	client *http.Client
}

// Post json and decode json response
func (c *apiClient) do(method string, path string, body string, headers ...string) (*http.Response, map[string]any) {
	c.t.Helper()

	req, err := http.NewRequestWithContext(c.t.Context(), method, c.url+path, strings.NewReader(body))
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := c.client.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close() // nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)

	var decoded map[string]any
	require.NoErrorf(c.t, json.Unmarshal(data, &decoded), "response should be json. Body: %s", string(data))
	return resp, decoded
}

func (c *apiClient) post(path string, body string, headers ...string) (*http.Response, map[string]any) {
	return c.do(http.MethodPost, path, body, headers...)
}

// Run http server with production services on top of in-memory redis
// Client has no cookie jar: tests pass tokens explicitly unless jar is enabled
func startServer(t *testing.T, withJar bool) *apiClient {
	t.Helper()

	_, redisClient := testutil.StartRedis(t)
	accounts := account.NewService(hasher.BcryptHasher{Cost: bcrypt.MinCost}, redisstore.New(redisClient, "test"))

	tokens, err := tokenmanager.New(tokenmanager.Config{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
	})
	require.NoError(t, err, "token manager should be created without errors")

	// httptest serves plain http, so cookies have to be allowed without tls
	authService, err := auth.NewAuthService(auth.Config{InsecureCookies: true}, tokens, accounts, nil)
	require.NoError(t, err, "auth service starting error")

	srv := httptest.NewServer(NewRouter(authService, accounts, logger.NewNoOpLogger()))
	t.Cleanup(srv.Close)

	client := &http.Client{}
	if withJar {
		jar, err := cookiejar.New(nil)
		require.NoError(t, err)
		client.Jar = jar
	}

	return &apiClient{t: t, url: srv.URL + "/api/v1/users", client: client}
}

const adaJSON = `{"username": "ada", "email": "ada@x.io", "password": "secret1"}`

func Test_UsersHandler(t *testing.T) {
	t.Parallel()

	t.Run("register ok", func(t *testing.T) {
		c := startServer(t, false)

		resp, body := c.post("/register", `{"username": "Ada", "email": "ada@x.io", "password": "secret1", "fullName": "Ada Lovelace"}`)

		require.Equalf(t, http.StatusCreated, resp.StatusCode, "Body: %v", body)
		acc, ok := body["account"].(map[string]any)
		require.True(t, ok, "account expected in response")
		assert.Equal(t, "ada", acc["username"])
		assert.Equal(t, "ada@x.io", acc["email"])
		assert.Equal(t, "Ada Lovelace", acc["fullName"])
		assert.NotEmpty(t, acc["id"])
		assert.NotContains(t, acc, "passwordHash")
		assert.NotContains(t, acc, "refreshToken")
		assert.Empty(t, resp.Cookies(), "registration does not login")
	})

	t.Run("register fails", func(t *testing.T) {
		c := startServer(t, false)
		resp, _ := c.post("/register", adaJSON)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		tests := []struct {
			name string
			body string
			code int
			kind string
		}{
			{"duplicate username", `{"username": "ada", "email": "other@x.io", "password": "secret1"}`, http.StatusConflict, "account_exists"},
			{"duplicate email", `{"username": "bob", "email": "ADA@x.io", "password": "secret1"}`, http.StatusConflict, "account_exists"},
			{"bad email", `{"username": "bob", "email": "not-email", "password": "secret1"}`, http.StatusBadRequest, "validation_error"},
			{"short password", `{"username": "bob", "email": "bob@x.io", "password": "123"}`, http.StatusBadRequest, "validation_error"},
			{"bad username", `{"username": "bob smith", "email": "bob@x.io", "password": "secret1"}`, http.StatusBadRequest, "validation_error"},
			{"not json", `username=bob`, http.StatusBadRequest, "validation_error"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				resp, body := c.post("/register", tt.body)

				require.Equalf(t, tt.code, resp.StatusCode, "Body: %v", body)
				assert.Equal(t, tt.kind, body["code"])
			})
		}
	})

	t.Run("body too large", func(t *testing.T) {
		c := startServer(t, false)
		big := `{"username": "ada", "email": "ada@x.io", "password": "` + strings.Repeat("a", 17<<10) + `"}`

		resp, body := c.post("/register", big)

		require.Equalf(t, http.StatusRequestEntityTooLarge, resp.StatusCode, "Body: %v", body)
	})

	t.Run("login", func(t *testing.T) {
		c := startServer(t, false)
		resp, _ := c.post("/register", adaJSON)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		t.Run("ok", func(t *testing.T) {
			resp, body := c.post("/login", `{"username": "ada", "password": "secret1"}`)

			require.Equalf(t, http.StatusOK, resp.StatusCode, "Body: %v", body)
			assert.NotEmpty(t, body["accessToken"])
			assert.NotEmpty(t, body["refreshToken"])
			acc, ok := body["account"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, "ada", acc["username"])

			cookies := map[string]*http.Cookie{}
			for _, c := range resp.Cookies() {
				cookies[c.Name] = c
			}
			require.Len(t, cookies, 2)
			access := cookies["accessToken"]
			require.NotNil(t, access)
			assert.Equal(t, body["accessToken"], access.Value)
			assert.True(t, access.HttpOnly, "access cookie should be HttpOnly")
			assert.Equal(t, http.SameSiteStrictMode, access.SameSite)
			assert.InDelta(t, (15 * time.Minute).Seconds(), access.MaxAge, 1)

			refresh := cookies["refreshToken"]
			require.NotNil(t, refresh)
			assert.Equal(t, body["refreshToken"], refresh.Value)
			assert.True(t, refresh.HttpOnly, "refresh cookie should be HttpOnly")
			assert.Equal(t, "/", refresh.Path)
			assert.InDelta(t, (24 * time.Hour).Seconds(), refresh.MaxAge, 1)
		})

		t.Run("by email", func(t *testing.T) {
			resp, body := c.post("/login", `{"email": "ada@x.io", "password": "secret1"}`)

			require.Equalf(t, http.StatusOK, resp.StatusCode, "Body: %v", body)
		})

		t.Run("fails", func(t *testing.T) {
			tests := []struct {
				name string
				body string
				code int
				kind string
			}{
				{"wrong password", `{"username": "ada", "password": "wrongpass"}`, http.StatusUnauthorized, "invalid_credentials"},
				{"unknown account", `{"username": "bob", "password": "secret1"}`, http.StatusNotFound, "account_not_found"},
				{"no identifier", `{"password": "secret1"}`, http.StatusBadRequest, "missing_identifier"},
				{"no password", `{"username": "ada"}`, http.StatusBadRequest, "validation_error"},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					resp, body := c.post("/login", tt.body)

					require.Equalf(t, tt.code, resp.StatusCode, "Body: %v", body)
					assert.Equal(t, tt.kind, body["code"])
					assert.Empty(t, resp.Cookies(), "no tokens expected")
				})
			}
		})
	})

	t.Run("session with bearer and body tokens", func(t *testing.T) {
		c := startServer(t, false)
		resp, _ := c.post("/register", adaJSON)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		_, login := c.post("/login", `{"username": "ada", "password": "secret1"}`)
		access := login["accessToken"].(string)
		oldRefresh := login["refreshToken"].(string)

		resp, body := c.do(http.MethodGet, "/current-user", "", "Authorization", "Bearer "+access)
		require.Equalf(t, http.StatusOK, resp.StatusCode, "Body: %v", body)
		acc := body["account"].(map[string]any)
		assert.Equal(t, "ada", acc["username"])

		resp, body = c.post("/refresh-token", `{"refreshToken": "`+oldRefresh+`"}`)
		require.Equalf(t, http.StatusOK, resp.StatusCode, "Body: %v", body)
		newRefresh := body["refreshToken"].(string)
		assert.NotEqual(t, oldRefresh, newRefresh)

		resp, body = c.post("/refresh-token", `{"refreshToken": "`+oldRefresh+`"}`)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "stale_token", body["code"], "previous refresh token must not work")

		resp, _ = c.post("/logout", "", "Authorization", "Bearer "+access)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, body = c.post("/refresh-token", `{"refreshToken": "`+newRefresh+`"}`)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "stale_token", body["code"], "refresh token issued before logout must not work")
	})

	t.Run("session with cookies", func(t *testing.T) {
		c := startServer(t, true)
		resp, _ := c.post("/register", adaJSON)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		resp, _ = c.post("/login", `{"username": "ada", "password": "secret1"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, body := c.do(http.MethodGet, "/current-user", "")
		require.Equalf(t, http.StatusOK, resp.StatusCode, "access cookie should be used. Body: %v", body)

		resp, body = c.post("/refresh-token", "")
		require.Equalf(t, http.StatusOK, resp.StatusCode, "refresh cookie should be used. Body: %v", body)

		resp, _ = c.post("/logout", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		for _, cookie := range resp.Cookies() {
			assert.Empty(t, cookie.Value, "cookies should be cleared")
		}

		resp, body = c.do(http.MethodGet, "/current-user", "")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "unauthorized", body["code"])

		resp, body = c.post("/refresh-token", "")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "missing_token", body["code"])
	})

	t.Run("refresh fails", func(t *testing.T) {
		c := startServer(t, false)

		tests := []struct {
			name string
			body string
			kind string
		}{
			{"empty body", "", "missing_token"},
			{"empty token", `{"refreshToken": ""}`, "missing_token"},
			{"garbage", `{"refreshToken": "garbage"}`, "invalid_token"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				resp, body := c.post("/refresh-token", tt.body)

				require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
				assert.Equal(t, tt.kind, body["code"])
			})
		}
	})

	t.Run("protected routes require auth", func(t *testing.T) {
		c := startServer(t, false)

		for _, route := range []struct{ method, path string }{
			{http.MethodPost, "/logout"},
			{http.MethodPost, "/change-password"},
			{http.MethodGet, "/current-user"},
		} {
			resp, body := c.do(route.method, route.path, `{}`, "Authorization", "Bearer garbage")

			require.Equalf(t, http.StatusUnauthorized, resp.StatusCode, "%s %s", route.method, route.path)
			assert.Equal(t, "unauthorized", body["code"])
		}
	})

	t.Run("change password", func(t *testing.T) {
		c := startServer(t, false)
		resp, _ := c.post("/register", adaJSON)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		_, login := c.post("/login", `{"username": "ada", "password": "secret1"}`)
		bearer := "Bearer " + login["accessToken"].(string)

		resp, body := c.post("/change-password", `{"oldPassword": "wrongpass", "newPassword": "secret2"}`, "Authorization", bearer)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "invalid_credentials", body["code"])

		resp, body = c.post("/change-password", `{"oldPassword": "secret1", "newPassword": "secret2"}`, "Authorization", bearer)
		require.Equalf(t, http.StatusOK, resp.StatusCode, "Body: %v", body)

		resp, _ = c.post("/login", `{"username": "ada", "password": "secret1"}`)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "old password should not work")
		resp, _ = c.post("/login", `{"username": "ada", "password": "secret2"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode, "new password should work")
	})
}

func Test_Router(t *testing.T) {
	c := startServer(t, false)
	root := strings.TrimSuffix(c.url, "/api/v1/users")

	resp, err := http.Get(root + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := c.do(http.MethodGet, "/unknown", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["code"])

	resp, body = c.do(http.MethodGet, "/login", "")
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "method_not_allowed", body["code"])
}
