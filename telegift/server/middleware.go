package server

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/giftworks/telegift/telegift/database/models"
)

// initDataMaxAge bounds how old a signed init data payload may be before the
// client must reopen the app.
const initDataMaxAge = 24 * time.Hour

const (
	userLocalKey       = "user"
	startParamLocalKey = "start_param"
)

// AuthRequired verifies the Telegram init data on every request and upserts
// the caller's profile, so handlers always see a current user row in
// c.Locals. The raw payload travels in "Authorization: tma <initData>".
func AuthRequired(s *Server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		if after, ok := strings.CutPrefix(raw, "tma "); ok {
			raw = after
		}
		if raw == "" {
			return SendUnauthorized(c, "Missing init data")
		}

		identity, err := VerifyInitData(raw, s.botToken, initDataMaxAge)
		if err != nil {
			slog.Debug("init data rejected",
				slog.String("type", "api"),
				slog.String("error", err.Error()))
			return SendUnauthorized(c, "Invalid init data")
		}

		locale := "en"
		if identity.User.LanguageCode == "ru" {
			locale = "ru"
		}
		user, err := s.users.Upsert(c.Context(), &models.User{
			ID:        identity.User.ID,
			FirstName: identity.User.FirstName,
			LastName:  identity.User.LastName,
			Username:  identity.User.Username,
			Locale:    locale,
		})
		if err != nil {
			slog.Error("upserting authenticated user failed",
				slog.String("type", "api"),
				slog.Int64("user_id", identity.User.ID),
				slog.String("error", err.Error()))
			return SendInternalServerError(c, "Failed to load profile")
		}

		c.Locals(userLocalKey, user)
		c.Locals(startParamLocalKey, identity.StartParam)
		return c.Next()
	}
}

// currentUser returns the authenticated user stored by AuthRequired.
func currentUser(c *fiber.Ctx) *models.User {
	user, _ := c.Locals(userLocalKey).(*models.User)
	return user
}

// startParam returns the verified deep-link argument, empty when the app was
// opened without one.
func startParam(c *fiber.Ctx) string {
	param, _ := c.Locals(startParamLocalKey).(string)
	return param
}

// RequestLogging logs one line per request with latency and status.
func RequestLogging() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		slog.Info("request",
			slog.String("type", "api"),
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", c.Response().StatusCode()),
			slog.Duration("took", time.Since(start)))
		return err
	}
}
