package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/acme-telco/voucher-pool-service/internal/config"
	"github.com/acme-telco/voucher-pool-service/internal/handler"
	"github.com/acme-telco/voucher-pool-service/internal/repository"
	"github.com/acme-telco/voucher-pool-service/internal/service"
	"github.com/acme-telco/voucher-pool-service/internal/validator"
	"github.com/acme-telco/voucher-pool-service/pkg/database"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	initLogger(cfg)

	ctx := context.Background()

	pool, err := database.NewPool(ctx, cfg.DB.DSN(), cfg.DB.MaxRetries)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	app := fiber.New(fiber.Config{
		AppName:      "Voucher Pool Service",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    4 * 1024 * 1024, // imports are CSV bodies, larger than a typical JSON payload
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New())

	validate := validator.New()

	voucherRepo := repository.NewVoucherRepository()
	auditRepo := repository.NewAuditRepository()
	poolService := service.NewPoolService(pool, voucherRepo, auditRepo)

	issueHandler := handler.NewIssueHandler(poolService)
	importHandler := handler.NewImportHandler(poolService)
	exportHandler := handler.NewExportHandler(poolService, validate)
	auditHandler := handler.NewAuditHandler(poolService)
	healthHandler := handler.NewHealthHandler(pool)

	app.Get("/health", healthHandler.Check)

	app.Put("/:pool/issue/:operator/:request_id", issueHandler.Issue)
	app.Put("/:pool/import/:request_id", importHandler.Import)
	app.Put("/:pool/export/:request_id", exportHandler.Export)
	app.Get("/:pool/audit_query", auditHandler.Query)
	app.Get("/:pool/voucher_counts", auditHandler.Counts)

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("starting server")
		if err := app.Listen(":" + strconv.Itoa(cfg.Server.Port)); err != nil {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	log.Info().Int("timeout_seconds", cfg.Server.ShutdownTimeout).Msg("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second,
	)
	defer shutdownCancel()

	log.Info().Msg("waiting for in-flight requests to complete...")
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	log.Info().Msg("closing database connections...")
	pool.Close()
	log.Info().Msg("database connections closed")
	log.Info().Msg("server stopped")
}

// initLogger configures zerolog based on the application configuration.
func initLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Log.Pretty {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}
