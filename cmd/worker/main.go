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
	"github.com/ads-marketplace/dealflow/internal/metrics"
	"github.com/ads-marketplace/dealflow/internal/worker"
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

	w := worker.New(core.Deals, core.Channels, core.Publisher, cfg, log)

	// /metrics and /health for the scheduler
	server := fiber.New(fiber.Config{DisableStartupMessage: true})
	server.Get("/metrics", metrics.Handler())
	server.Get("/health", func(c *fiber.Ctx) error {
		status, ok := core.Health(c.Context())
		if !ok {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "checks": status})
		}
		return c.JSON(fiber.Map{"status": "ok", "checks": status})
	})
	go func() {
		addr := fmt.Sprintf(":%s", cfg.WorkerPort)
		if err := server.Listen(addr); err != nil {
			log.Error("worker http server stopped", zap.Error(err))
		}
	}()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down worker")
		cancel()
	}()

	log.Info("worker started")
	if err := w.Run(ctx); err != nil {
		log.Error("worker stopped", zap.Error(err))
	}
	_ = server.Shutdown()
}
