package middleware

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionConfig for the Redis-backed session cookie.
type SessionConfig struct {
	Secret            string
	AllowCrossSiteDev bool
	IsProduction      bool
}

const (
	SessionCookieName  = "folio.sid"
	SessionRedisPrefix = "session:"
	sessionMaxAge      = 7 * 24 * time.Hour

	sessionDataLocal   = "session_data"
	sessionIDLocal     = "session_id"
	activePortfolioKey = "active_portfolio_id"
)

// SessionUser is the shape stored in session under "user".
type SessionUser struct {
	UserID   string `json:"user_id"`
	Fullname string `json:"fullname"`
	UserName string `json:"user_name"`
	Email    string `json:"email"`
}

// Session returns a Fiber middleware that loads and saves session data in Redis.
// Anonymous visitors get a session as soon as something is stored in it, such as
// the active portfolio.
func Session(rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sessionID := c.Cookies(SessionCookieName)
		if strings.HasPrefix(sessionID, "s:") {
			parts := strings.SplitN(sessionID[2:], ".", 2)
			sessionID = parts[0]
		}

		var data map[string]interface{}
		if sessionID != "" {
			b, err := rdb.Get(c.Context(), SessionRedisPrefix+sessionID).Bytes()
			if err == nil {
				_ = json.Unmarshal(b, &data)
			}
		}
		if data == nil {
			data = make(map[string]interface{})
		}

		loaded := len(data) > 0
		c.Locals(sessionDataLocal, data)
		if u, ok := data["user"]; ok {
			c.Locals(userLocal, u)
		} else {
			c.Locals(userLocal, nil)
		}
		c.Locals(sessionIDLocal, sessionID)

		err := c.Next()
		if err != nil {
			return err
		}

		if sid := GetSessionID(c); sid != "" {
			updated, _ := c.Locals(sessionDataLocal).(map[string]interface{})
			switch {
			case len(updated) > 0:
				b, _ := json.Marshal(updated)
				rdb.Set(context.Background(), SessionRedisPrefix+sid, b, sessionMaxAge)
			case sid == sessionID && loaded:
				rdb.Del(context.Background(), SessionRedisPrefix+sid)
			}
		}
		return nil
	}
}

// GetSessionID returns the current session ID from context (for login/logout).
func GetSessionID(c *fiber.Ctx) string {
	sid, _ := c.Locals(sessionIDLocal).(string)
	return sid
}

func sessionData(c *fiber.Ctx) map[string]interface{} {
	data, _ := c.Locals(sessionDataLocal).(map[string]interface{})
	if data == nil {
		data = make(map[string]interface{})
		c.Locals(sessionDataLocal, data)
	}
	return data
}

// SetSessionUser sets the user in the session and marks session for save.
// Call after login/register; use RegenerateSessionID first to get a new id.
func SetSessionUser(c *fiber.Ctx, user SessionUser) {
	data := sessionData(c)
	data["user"] = map[string]interface{}{
		"user_id":   user.UserID,
		"fullname":  user.Fullname,
		"user_name": user.UserName,
		"email":     user.Email,
	}
	c.Locals(userLocal, data["user"])
}

// SetActivePortfolio remembers the portfolio the client is looking at. An anonymous
// visitor without a session gets one, and the cookie is issued here.
func SetActivePortfolio(c *fiber.Ctx, cfg SessionConfig, id uuid.UUID) {
	if GetSessionID(c) == "" {
		sid := RegenerateSessionID(c)
		cookie := SessionCookieConfig(cfg)
		cookie.Value = "s:" + sid
		c.Cookie(&cookie)
	}
	sessionData(c)[activePortfolioKey] = id.String()
}

// ActivePortfolio returns the active portfolio id stored in the session.
func ActivePortfolio(c *fiber.Ctx) *uuid.UUID {
	s, _ := sessionData(c)[activePortfolioKey].(string)
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}

// ClearActivePortfolio forgets the active portfolio if it is id.
func ClearActivePortfolio(c *fiber.Ctx, id uuid.UUID) {
	if cur := ActivePortfolio(c); cur != nil && *cur == id {
		delete(sessionData(c), activePortfolioKey)
	}
}

// RegenerateSessionID creates a new session ID and sets it in Locals (cookie set by handler).
func RegenerateSessionID(c *fiber.Ctx) string {
	newID := uuid.New().String()
	c.Locals(sessionIDLocal, newID)
	return newID
}

// DestroySession clears user and session data from Locals; caller must clear cookie and Redis.
func DestroySession(c *fiber.Ctx) {
	c.Locals(sessionDataLocal, make(map[string]interface{}))
	c.Locals(userLocal, nil)
	c.Locals(sessionIDLocal, "")
}

// SessionCookieConfig returns the cookie options for SetCookie/ClearCookie.
func SessionCookieConfig(cfg SessionConfig) fiber.Cookie {
	sameSite := "Lax"
	if cfg.AllowCrossSiteDev {
		sameSite = "None"
	}
	secure := cfg.IsProduction || cfg.AllowCrossSiteDev
	return fiber.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HTTPOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	}
}
