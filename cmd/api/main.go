package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/medicarex-booking/internal/access"
	"github.com/wolfman30/medicarex-booking/internal/api/router"
	"github.com/wolfman30/medicarex-booking/internal/app/bootstrap"
	"github.com/wolfman30/medicarex-booking/internal/appointments"
	"github.com/wolfman30/medicarex-booking/internal/booking"
	appconfig "github.com/wolfman30/medicarex-booking/internal/config"
	"github.com/wolfman30/medicarex-booking/internal/events"
	"github.com/wolfman30/medicarex-booking/internal/http/handlers"
	"github.com/wolfman30/medicarex-booking/internal/notify"
	"github.com/wolfman30/medicarex-booking/internal/observability/metrics"
	"github.com/wolfman30/medicarex-booking/internal/payments"
	"github.com/wolfman30/medicarex-booking/internal/reconcile"
	"github.com/wolfman30/medicarex-booking/pkg/logging"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting medicarex booking API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open runtime", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("runtime close failed", "error", err)
		}
	}()

	a, err := buildApp(ctx, cfg, rt, prometheus.DefaultRegisterer, promhttp.Handler(), logger)
	if err != nil {
		logger.Error("failed to build services", "error", err)
		os.Exit(1)
	}

	workers, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	go a.deliverer.Start(workers)
	go a.sweeper.Run(workers)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      a.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

type app struct {
	handler   http.Handler
	deliverer *events.Deliverer
	sweeper   *booking.Sweeper
}

type stores struct {
	appointments appointments.Store
	payments     events.PaymentEventLog
	outbox       events.Outbox
	anomalies    reconcile.AnomalyStore
}

func buildStores(rt *bootstrap.Runtime) stores {
	if rt.Pool == nil {
		return stores{
			appointments: appointments.NewMemoryStore(),
			payments:     events.NewMemoryPaymentLog(),
			outbox:       events.NewMemoryOutbox(),
			anomalies:    reconcile.NewMemoryAnomalyStore(),
		}
	}
	return stores{
		appointments: appointments.NewPostgresStore(rt.Pool),
		payments:     events.NewPostgresPaymentLog(rt.Pool),
		outbox:       events.NewOutboxStore(rt.Pool),
		anomalies:    reconcile.NewPostgresAnomalyStore(rt.Pool),
	}
}

func buildApp(ctx context.Context, cfg *appconfig.Config, rt *bootstrap.Runtime, reg prometheus.Registerer, metricsHandler http.Handler, logger *logging.Logger) (*app, error) {
	loc, err := time.LoadLocation(cfg.SlotTimezone)
	if err != nil {
		return nil, fmt.Errorf("slot timezone: %w", err)
	}
	m := metrics.NewBookingMetrics(reg)
	st := buildStores(rt)

	ledger := appointments.NewLedger(st.appointments, logger, appointments.WithMetrics(m))
	dir, err := bootstrap.BuildDirectory(cfg, rt.Redis, logger)
	if err != nil {
		return nil, err
	}
	dispatcher := events.NewDispatcher(st.outbox, logger)

	coord := booking.NewCoordinator(ledger, dir, dispatcher, logger,
		booking.WithHoldDuration(cfg.HoldDuration),
		booking.WithLocation(loc),
		booking.WithDefaultCurrency(cfg.DefaultCurrency),
		booking.WithMetrics(m),
	)
	rec := reconcile.New(ledger, st.payments, st.anomalies, logger,
		reconcile.WithNotifier(dispatcher),
		reconcile.WithMetrics(m),
	)

	registry, err := bootstrap.BuildGateways(cfg, m, logger)
	if err != nil {
		return nil, err
	}
	orders := payments.NewOrderService(ledger, registry, rec, logger)

	awsCfg, err := bootstrap.LoadAWS(ctx, cfg)
	if err != nil {
		return nil, err
	}
	email, err := bootstrap.BuildEmailSender(cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}
	notifier := notify.NewService(email, dir, bootstrap.BuildReceiptStore(cfg, awsCfg, logger), logger)

	deliverer := events.NewDeliverer(st.outbox, events.NewRouter().
		Route(events.TypeAppointmentNotification, notifier).
		Route(events.TypeRefundRequested, payments.NewRefundHandler(registry, logger)), logger).
		WithInterval(cfg.OutboxPollInterval).
		WithBatchSize(int32(cfg.OutboxBatchSize))

	sweeper := booking.NewSweeper(ledger, dispatcher, logger).
		WithExpiryInterval(cfg.ExpirySweepInterval).
		WithCompletionInterval(cfg.CompletionSweepInterval).
		WithBatchSize(cfg.SweepBatchSize)

	tokens := access.NewTokenService(cfg.JWTSecret, cfg.JWTTTL)
	var creds *access.AdminCredentials
	if cfg.AdminEmail != "" && cfg.AdminPasswordHash != "" {
		creds = access.NewAdminCredentials(cfg.AdminEmail, cfg.AdminPasswordHash, tokens)
	} else {
		logger.Warn("admin credentials not configured; admin login disabled")
	}

	handler := router.New(&router.Config{
		Logger:                 logger,
		Resolver:               tokens,
		Booking:                handlers.NewBookingHandler(coord, logger),
		Payments:               handlers.NewPaymentHandler(orders, registry, rec, m, logger),
		Admin:                  handlers.NewAdminHandler(creds, rec.Anomalies(), rt.DB, logger),
		Health:                 handlers.NewHealthHandler(rt.HealthChecks()),
		MetricsHandler:         metricsHandler,
		CORSAllowedOrigins:     cfg.CORSAllowedOrigins,
		ReserveRatePerSecond:   cfg.ReserveRatePerSecond,
		ReserveBurst:           cfg.ReserveBurst,
		LoginAttemptsPerMinute: cfg.LoginAttemptsPerMinute,
	})

	return &app{handler: handler, deliverer: deliverer, sweeper: sweeper}, nil
}
