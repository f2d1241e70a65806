package auth

import (
	"context"
	"errors"

	authsvc "cryptofolio-backend/internal/application/auth"
	"cryptofolio-backend/internal/domain"
	"cryptofolio-backend/internal/middleware"
	"cryptofolio-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const userSessionsPrefix = "user_sessions:"

// Registrar creates accounts.
type Registrar interface {
	Register(ctx context.Context, in authsvc.RegisterInput) (*domain.User, error)
}

// Handlers holds dependencies for auth endpoints.
type Handlers struct {
	UserFinder authsvc.UserFinder
	Registrar  Registrar
	Rdb        *redis.Client
	Config     middleware.SessionConfig
}

// LoginRequest body.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register POST /api/v1/auth/register: create the account and log it in.
func (h *Handlers) Register(c *fiber.Ctx) error {
	if h.Registrar == nil {
		return response.Error(c, "Internal Server Error", fiber.StatusInternalServerError, nil)
	}
	var req authsvc.RegisterInput
	if err := c.BodyParser(&req); err != nil {
		return response.Error(c, "Missing required fields", fiber.StatusBadRequest, nil)
	}
	if req.UserName == "" || req.Email == "" || req.Password == "" || req.Fullname == "" {
		return response.Error(c, "Missing required fields", fiber.StatusBadRequest, nil)
	}
	u, err := h.Registrar.Register(c.Context(), req)
	if err != nil {
		return err
	}
	if err := h.startSession(c, u); err != nil {
		return err
	}
	log.Info().Str("user_id", u.UserID.String()).Msg("user registered")
	return response.SuccessCreated(c, "User created successfully", fiber.Map{"user": sessionUser(u)}, nil)
}

// Login POST /api/v1/auth/login: authenticate, rotate the session and set the cookie.
func (h *Handlers) Login(c *fiber.Ctx) error {
	if h.UserFinder == nil {
		return response.Error(c, "Internal Server Error", fiber.StatusInternalServerError, nil)
	}
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return response.Error(c, "Email and password are required", fiber.StatusBadRequest, nil)
	}
	if req.Email == "" || req.Password == "" {
		return response.Error(c, "Email and password are required", fiber.StatusBadRequest, nil)
	}

	user, err := h.UserFinder.FindByEmailAndPassword(req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, authsvc.ErrEmailPasswordRequired):
			return response.Error(c, err.Error(), fiber.StatusBadRequest, nil)
		case errors.Is(err, authsvc.ErrInvalidEmail), errors.Is(err, authsvc.ErrIncorrectPassword):
			return response.Error(c, err.Error(), fiber.StatusUnauthorized, nil)
		default:
			return err
		}
	}
	if err := h.startSession(c, user); err != nil {
		return err
	}
	return response.Success(c, "Login successful", fiber.Map{"user": sessionUser(user)}, nil)
}

func (h *Handlers) startSession(c *fiber.Ctx, u *domain.User) error {
	active := middleware.ActivePortfolio(c)
	if old := middleware.GetSessionID(c); old != "" {
		_ = h.Rdb.Del(c.Context(), middleware.SessionRedisPrefix+old).Err()
	}
	sessionID := middleware.RegenerateSessionID(c)
	middleware.SetSessionUser(c, sessionUser(u))
	if active != nil {
		middleware.SetActivePortfolio(c, h.Config, *active)
	}
	if err := h.Rdb.SAdd(c.Context(), userSessionsPrefix+u.UserID.String(), sessionID).Err(); err != nil {
		return err
	}
	cookie := middleware.SessionCookieConfig(h.Config)
	cookie.Value = "s:" + sessionID
	c.Cookie(&cookie)
	return nil
}

func sessionUser(u *domain.User) middleware.SessionUser {
	return middleware.SessionUser{
		UserID:   u.UserID.String(),
		Fullname: u.Fullname,
		UserName: u.UserName,
		Email:    u.Email,
	}
}

// Me GET /api/v1/auth/me: return the current session user.
func (h *Handlers) Me(c *fiber.Ctx) error {
	sessionUser := middleware.GetUser(c)
	user, err := authsvc.VerifyUser(sessionUser)
	if err != nil {
		log.Debug().Str("path", "/auth/me").
			Bool("session_present", middleware.GetSessionID(c) != "").
			Msg("auth/me: not authenticated")
		return response.Error(c, "Not authenticated", fiber.StatusUnauthorized, nil)
	}
	return response.Success(c, "Authenticated", fiber.Map{"user": user}, nil)
}

// Logout DELETE /api/v1/auth/logout: drop the session from Redis and clear the cookie.
func (h *Handlers) Logout(c *fiber.Ctx) error {
	sessionID := middleware.GetSessionID(c)
	ctx := c.Context()

	if uid := middleware.UserID(c); uid != nil && sessionID != "" {
		_ = h.Rdb.SRem(ctx, userSessionsPrefix+uid.String(), sessionID).Err()
	}
	if sessionID != "" {
		_ = h.Rdb.Del(ctx, middleware.SessionRedisPrefix+sessionID).Err()
	}
	middleware.DestroySession(c)

	cookie := middleware.SessionCookieConfig(h.Config)
	cookie.MaxAge = -1
	c.Cookie(&cookie)

	return response.Success(c, "Logged out successfully", nil, nil)
}
