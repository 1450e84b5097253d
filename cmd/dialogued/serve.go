package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/gendialogue/dialogue-backend/internal/api"
	"github.com/gendialogue/dialogue-backend/internal/database"
	"github.com/gendialogue/dialogue-backend/internal/services"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context(), skipMigrations)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "Do not apply pending migrations on start")

	return cmd
}

func (a *app) serve(ctx context.Context, skipMigrations bool) error {
	log := a.logger.WithField("component", "server")

	db, err := database.NewConnection(a.cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if !skipMigrations {
		if err := database.RunMigrations(a.cfg.Database); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := services.NewServices(ctx, a.cfg, db.DB, registry, a.logger)
	if err != nil {
		return err
	}

	server := fiber.New(fiber.Config{
		AppName:               "Dialogue Backend",
		ErrorHandler:          errorHandler,
		DisableStartupMessage: true,
	})

	server.Use(recover.New())
	server.Use(logger.New())
	server.Use(cors.New(cors.Config{
		AllowOrigins:     a.cfg.Server.CORSOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: true,
	}))

	api.SetupRoutes(server, svc, registry, a.logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("dialogue backend starting")
		errCh <- server.Listen(addr)
	}()

	select {
	case err := <-errCh:
		_ = svc.Shutdown(context.Background())
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Sessions end first so their dialogues are marked completed while the
	// database is still open.
	var errs []error
	if err := svc.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown server: %w", err))
	}
	return errors.Join(errs...)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
		"code":  code,
	})
}
