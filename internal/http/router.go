package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ads-marketplace/dealflow/internal/config"
	"github.com/ads-marketplace/dealflow/internal/http/handlers"
	"github.com/ads-marketplace/dealflow/internal/metrics"
	"github.com/ads-marketplace/dealflow/internal/middleware"
)

// NewApp builds the fiber app with the JSON error handler every route relies on.
func NewApp(log *zap.Logger) *fiber.App {
	return fiber.New(fiber.Config{
		AppName:      "dealflow-api",
		ErrorHandler: middleware.ErrorHandler(log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	})
}

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	health fiber.Handler,
	dealHandler *handlers.DealHandler,
	adminHandler *handlers.AdminHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSAllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))
	app.Use(metrics.Middleware())

	app.Get("/health", health)
	app.Get("/metrics", metrics.Handler())

	api := app.Group("/api/v1", middleware.AuthMiddleware(cfg, log))
	if rdb != nil {
		api.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMin, time.Minute, log))
	}

	// Deals
	api.Post("/deals", dealHandler.CreateDeal)
	api.Get("/deals", dealHandler.ListDeals)
	api.Get("/deals/:id", dealHandler.GetDeal)
	api.Post("/deals/:id/transition", dealHandler.Transition)
	api.Post("/deals/:id/accept", dealHandler.AcceptDeal)
	api.Post("/deals/:id/reject", dealHandler.RejectDeal)
	api.Post("/deals/:id/cancel", dealHandler.CancelDeal)
	api.Post("/deals/:id/creative", dealHandler.SubmitCreative)
	api.Post("/deals/:id/creative/approve", dealHandler.ApproveCreative)
	api.Post("/deals/:id/creative/request-changes", dealHandler.RequestCreativeChanges)
	api.Post("/deals/:id/schedule", dealHandler.ScheduleDeal)
	api.Post("/deals/:id/dispute", dealHandler.OpenDispute)
	api.Get("/deals/:id/payment", dealHandler.GetPaymentInfo)
	api.Post("/deals/:id/payment/check", dealHandler.CheckPayment)
	api.Get("/deals/:id/events", dealHandler.GetDealEvents)

	// Arbiters
	admin := api.Group("/admin", middleware.RequireArbiter())
	admin.Post("/deals/:id/resolve", adminHandler.ResolveDispute)
	admin.Post("/escrow/:ref/recover", adminHandler.RecoverEscrow)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}

