package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/eventosgt/fel-engine/internal/application/billing"
	"github.com/eventosgt/fel-engine/internal/application/certification"
	infrafel "github.com/eventosgt/fel-engine/internal/infrastructure/fel"
	"github.com/eventosgt/fel-engine/internal/infrastructure/postgres"
	httpRouter "github.com/eventosgt/fel-engine/internal/interfaces/http"
	"github.com/eventosgt/fel-engine/pkg/clock"
	"github.com/eventosgt/fel-engine/pkg/config"
	"github.com/eventosgt/fel-engine/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: "info",
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Msg("iniciando motor FEL")

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	invoiceRepo := postgres.NewInvoiceRepository(pool)
	documentRepo := postgres.NewFelDocumentRepository(pool)
	felErrorRepo := postgres.NewFelErrorRepository(pool)
	tokenRepo := postgres.NewFelTokenRepository(pool)
	auditRepo := postgres.NewFelAuditRepository(pool)
	txRunner := postgres.NewTxRunner(pool)

	clk := clock.System{}

	clientCfg := infrafel.ClientConfig{
		BaseURL:       cfg.FEL.CertifierURL,
		CertifierName: "infile",
		User:          cfg.FEL.CertifierUser,
		APIKey:        cfg.FEL.CertifierKey,
		IssuerNIT:     cfg.FEL.IssuerNIT,
		Timeout:       cfg.FEL.RequestTimeout,
	}
	authClient := infrafel.NewAuthClient(clientCfg)
	tokenStore := infrafel.NewTokenStore(clientCfg.CertifierName, authClient, tokenRepo, clk, log)
	certifier := infrafel.NewClient(clientCfg, tokenStore)

	assembler := infrafel.NewDTEAssembler(infrafel.AssemblerConfig{
		IssuerNIT:     cfg.FEL.IssuerNIT,
		IssuerName:    cfg.FEL.IssuerName,
		IssuerAddress: cfg.FEL.IssuerAddress,
		Establishment: cfg.FEL.Establishment,
	})

	auditRecorder := certification.NewAuditRecorder(auditRepo, clk, log)
	machine := certification.NewStateMachine(
		invoiceRepo, documentRepo, felErrorRepo, txRunner,
		certifier, assembler, auditRecorder, nil, clk, log,
		certification.Config{
			MaxRetries:     cfg.FEL.MaxRetries,
			RetryBaseDelay: cfg.FEL.RetryBaseDelay,
			RetryMaxDelay:  cfg.FEL.RetryMaxDelay,
		},
	)

	sweeper := certification.NewSweeper(
		machine, invoiceRepo, documentRepo, tokenRepo, auditRepo,
		clk, log,
		certification.SweeperConfig{
			Interval:       cfg.FEL.SweepInterval,
			StaleSentAfter: cfg.FEL.StaleSentAfter,
		},
	)
	go sweeper.Start(ctx)

	createInvoiceUC := billing.NewCreateInvoiceUseCase(invoiceRepo, txRunner, clk, log, 0)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "FEL Engine API",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": cfg.App.Name})
	})

	httpRouter.Router(app, httpRouter.RouterDeps{
		CreateInvoice: createInvoiceUC,
		Machine:       machine,
		Documents:     documentRepo,
		FelErrors:     felErrorRepo,
		Audits:        auditRepo,
		Clock:         clk,
		JWTSecret:     cfg.JWT.Secret,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}
	sweeper.Stop()

	log.Info().Msg("motor FEL detenido")
}
