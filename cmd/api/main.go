package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/api/router"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/appointments"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/availability"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/catalog"
	appconfig "github.com/Tuyen-ares/spa-anhTho-sub002/internal/config"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/events"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/http/handlers"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/identity"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/loyalty"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/notify"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/observability/metrics"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/payments"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/scheduling"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/treatments"
	"github.com/Tuyen-ares/spa-anhTho-sub002/pkg/logging"
)

func main() {
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting spa booking API server", "env", cfg.Env, "port", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer func() { _ = redisClient.Close() }()
	}

	registry := prometheus.NewRegistry()
	bookingMetrics := metrics.NewBookingMetrics(registry)

	// Repositories.
	catalogRepo := catalog.NewRepository(pool)
	identityRepo := identity.NewRepository(pool)
	loyaltyRepo := loyalty.NewRepository(pool)
	availabilityRepo := availability.NewRepository(pool)
	appointmentsRepo := appointments.NewRepository(pool)
	treatmentsRepo := treatments.NewRepository(pool)
	paymentsRepo := payments.NewRepository(pool)
	outboxStore := events.NewOutboxStore(pool)
	processedStore := events.NewProcessedStore(pool)

	// Core services.
	selector := scheduling.NewSelector(catalogRepo, availabilityRepo, identityRepo, appointmentsRepo, logger)
	slotHold := scheduling.NewSlotHold(redisClient, cfg.SlotHoldTTL, logger)
	engine := treatments.NewEngine(pool, treatmentsRepo, outboxStore, cfg.ProgramExpiryBufferDays, logger).
		WithNotifier(notify.NewOutboxNotifier(outboxStore))
	appointmentsSvc := appointments.NewService(
		pool, appointmentsRepo, selector, slotHold,
		identityRepo, loyaltyRepo, catalogRepo, engine,
		outboxStore, bookingMetrics, logger,
	)

	gateway := payments.NewGateway(cfg.GatewayBaseURL, cfg.GatewayTerminalID, cfg.GatewaySecret, cfg.GatewayReturnURL, cfg.GatewayTimeout)
	paymentsSvc := payments.NewService(pool, paymentsRepo, gateway, appointmentsRepo, appointmentsRepo, outboxStore, logger)
	reconciler := payments.NewReconciler(pool, paymentsRepo, gateway, appointmentsRepo, processedStore, outboxStore, bookingMetrics, logger)

	// Post-commit delivery of outbox events as emails.
	emailSender := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger)
	var sender notify.EmailSender
	if emailSender != nil {
		sender = emailSender
	}
	deliveryHandler := notify.NewEmailDeliveryHandler(sender, identityRepo, cfg.AdminAlertEmail, logger)
	deliverer := events.NewDeliverer(outboxStore, deliveryHandler, logger).
		WithBatchSize(int32(cfg.OutboxBatchSize)).
		WithInterval(cfg.OutboxInterval)
	go deliverer.Start(ctx)

	r := router.New(&router.Config{
		Logger:            logger,
		Health:            handlers.NewHealthHandler(pool),
		Bookings:          handlers.NewBookingHandler(appointmentsSvc, paymentsSvc, logger),
		Availability:      handlers.NewAvailabilityHandler(availabilityRepo, logger),
		PaymentCallbacks:  payments.NewCallbackHandler(reconciler, logger),
		AdminAppointments: handlers.NewAdminAppointmentsHandler(appointmentsSvc, paymentsSvc, logger),
		AdminTreatments:   handlers.NewAdminTreatmentsHandler(engine, logger),
		AdminAuthSecret:   cfg.AdminJWTSecret,
		MetricsHandler:    promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		PublicRateLimit:   5,
		PublicBurst:       20,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
