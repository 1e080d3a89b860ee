package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ads-marketplace/dealflow/internal/app"
	"github.com/ads-marketplace/dealflow/internal/config"
	apphttp "github.com/ads-marketplace/dealflow/internal/http"
	"github.com/ads-marketplace/dealflow/internal/http/handlers"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core, err := app.NewCore(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to start", zap.Error(err))
	}
	defer core.Close()

	// Handlers
	dealHandler := handlers.NewDealHandler(core.Deals, log)
	adminHandler := handlers.NewAdminHandler(core.Disputes, core.Escrow, log)
	wsHub := handlers.NewWSHub(cfg, core.Subscriber, log)
	if err := wsHub.Start(ctx); err != nil {
		log.Fatal("failed to subscribe ws hub", zap.Error(err))
	}

	server := apphttp.NewApp(log)
	apphttp.SetupRouter(server, cfg, log, core.Redis, healthHandler(core), dealHandler, adminHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = server.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := server.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

func healthHandler(core *app.Core) fiber.Handler {
	return func(c *fiber.Ctx) error {
		status, ok := core.Health(c.Context())
		if !ok {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "checks": status})
		}
		return c.JSON(fiber.Map{"status": "ok", "checks": status})
	}
}
