package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ads-marketplace/dealflow/internal/apperr"
	"github.com/ads-marketplace/dealflow/internal/auth"
	"github.com/ads-marketplace/dealflow/internal/config"
	"github.com/ads-marketplace/dealflow/internal/models"
)

const CtxActor = "actor"

// AuthMiddleware verifies the bearer token and stores the caller as a models.Actor.
func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return apperr.Unauthorized("missing authorization header")
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return apperr.Unauthorized("invalid authorization format")
		}

		claims, err := auth.ParseJWT(cfg.JWTSecret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return apperr.Unauthorized("invalid or expired token")
		}

		c.Locals(CtxActor, models.Actor{
			UserID:     claims.UserID,
			TelegramID: claims.TelegramUserID,
			IsArbiter:  cfg.IsAdmin(claims.TelegramUserID),
		})
		return c.Next()
	}
}

// ActorFrom returns the authenticated caller. Outside AuthMiddleware it is the
// zero Actor, which the services treat as the system and reject for user operations.
func ActorFrom(c *fiber.Ctx) models.Actor {
	a, _ := c.Locals(CtxActor).(models.Actor)
	return a
}

// RequireArbiter allows only telegram ids listed in ADMIN_TELEGRAM_IDS.
func RequireArbiter() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !ActorFrom(c).IsArbiter {
			return apperr.Forbidden("arbiter access required")
		}
		return c.Next()
	}
}
