package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	authsvc "cryptofolio-backend/internal/application/auth"
	"cryptofolio-backend/internal/domain"
	"cryptofolio-backend/internal/middleware"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUserFinder for tests: returns configured user or error.
type fakeUserFinder struct {
	user *domain.User
	err  error
}

func (f *fakeUserFinder) FindByEmailAndPassword(email, password string) (*domain.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.user != nil && f.user.Email == email && password == "password123" {
		return f.user, nil
	}
	if f.user != nil && f.user.Email == email {
		return nil, authsvc.ErrIncorrectPassword
	}
	return nil, authsvc.ErrInvalidEmail
}

type fakeRegistrar struct {
	err error
}

func (f *fakeRegistrar) Register(ctx context.Context, in authsvc.RegisterInput) (*domain.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.User{UserID: uuid.New(), UserName: in.UserName, Email: in.Email, Fullname: in.Fullname}, nil
}

func setupAuthHandlers(t *testing.T, finder authsvc.UserFinder) (*Handlers, *fiber.App, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	h := &Handlers{
		UserFinder: finder,
		Registrar:  &fakeRegistrar{},
		Rdb:        rdb,
	}
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
	app.Use(middleware.Session(rdb))
	app.Post("/register", h.Register)
	app.Post("/login", h.Login)
	app.Get("/me", h.Me)
	app.Delete("/logout", h.Logout)
	return h, app, rdb
}

func jsonRequest(method, path string, v interface{}) *http.Request {
	var body io.Reader
	if v != nil {
		b, _ := json.Marshal(v)
		body = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func sessionCookie(t *testing.T, resp *http.Response) string {
	t.Helper()
	for _, c := range resp.Header.Values("Set-Cookie") {
		if strings.HasPrefix(c, middleware.SessionCookieName+"=") {
			return strings.SplitN(c, ";", 2)[0]
		}
	}
	t.Fatal("no session cookie")
	return ""
}

func TestLogin_EmptyBody(t *testing.T) {
	_, app, _ := setupAuthHandlers(t, &fakeUserFinder{user: &domain.User{}})
	resp, err := app.Test(jsonRequest("POST", "/login", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestLogin_MissingCredentials(t *testing.T) {
	_, app, _ := setupAuthHandlers(t, &fakeUserFinder{})
	resp, err := app.Test(jsonRequest("POST", "/login", map[string]string{"email": "a@b.com"}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestLogin_InvalidEmail(t *testing.T) {
	_, app, _ := setupAuthHandlers(t, &fakeUserFinder{})
	resp, err := app.Test(jsonRequest("POST", "/login", map[string]string{"email": "nonexistent@example.com", "password": "any"}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestLogin_IncorrectPassword(t *testing.T) {
	_, app, _ := setupAuthHandlers(t, &fakeUserFinder{user: &domain.User{UserID: uuid.New(), Email: "test@example.com"}})
	resp, err := app.Test(jsonRequest("POST", "/login", map[string]string{"email": "test@example.com", "password": "wrong"}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestLogin_NilUserFinder(t *testing.T) {
	_, app, _ := setupAuthHandlers(t, nil)
	resp, err := app.Test(jsonRequest("POST", "/login", map[string]string{"email": "a@b.com", "password": "pass"}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestLogin_SuccessThenMeThenLogout(t *testing.T) {
	uid := uuid.New()
	_, app, rdb := setupAuthHandlers(t, &fakeUserFinder{user: &domain.User{UserID: uid, Email: "test@example.com", Fullname: "Test User", UserName: "tester"}})
	ctx := context.Background()

	resp, err := app.Test(jsonRequest("POST", "/login", map[string]string{"email": "test@example.com", "password": "password123"}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	b, _ := io.ReadAll(resp.Body)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, "Login successful", out["message"])
	user := out["data"].(map[string]interface{})["user"].(map[string]interface{})
	assert.Equal(t, "test@example.com", user["email"])
	assert.Equal(t, "tester", user["user_name"])

	cookie := sessionCookie(t, resp)
	members, err := rdb.SMembers(ctx, "user_sessions:"+uid.String()).Result()
	require.NoError(t, err)
	assert.Len(t, members, 1)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Cookie", cookie)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req = httptest.NewRequest("DELETE", "/logout", nil)
	req.Header.Set("Cookie", cookie)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	keys, err := rdb.Keys(ctx, middleware.SessionRedisPrefix+"*").Result()
	require.NoError(t, err)
	assert.Empty(t, keys)

	req = httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Cookie", cookie)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRegister_CreatesSession(t *testing.T) {
	_, app, _ := setupAuthHandlers(t, &fakeUserFinder{})
	resp, err := app.Test(jsonRequest("POST", "/register", map[string]string{
		"user_name": "satoshi",
		"email":     "satoshi@example.com",
		"password":  "hodl-2009!",
		"fullname":  "Satoshi Nakamoto",
	}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	cookie := sessionCookie(t, resp)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Cookie", cookie)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRegister_Errors(t *testing.T) {
	h, app, _ := setupAuthHandlers(t, &fakeUserFinder{})

	resp, err := app.Test(jsonRequest("POST", "/register", map[string]string{"email": "a@b.com"}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	h.Registrar = &fakeRegistrar{err: domain.Conflict("Email already registered", nil)}
	resp, err = app.Test(jsonRequest("POST", "/register", map[string]string{
		"user_name": "satoshi",
		"email":     "satoshi@example.com",
		"password":  "hodl-2009!",
		"fullname":  "Satoshi Nakamoto",
	}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestMe_NoSession(t *testing.T) {
	_, app, _ := setupAuthHandlers(t, &fakeUserFinder{})
	resp, err := app.Test(httptest.NewRequest("GET", "/me", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestLogout_NoSession(t *testing.T) {
	_, app, _ := setupAuthHandlers(t, &fakeUserFinder{})
	resp, err := app.Test(httptest.NewRequest("DELETE", "/logout", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Values("Set-Cookie"))
}
