package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/salonops/booker/internal/booking"
	"github.com/salonops/booker/internal/handlers"
	"github.com/salonops/booker/internal/notify"
	"github.com/salonops/booker/internal/outbox"
	"github.com/salonops/booker/internal/scheduler"
	"github.com/salonops/booker/internal/storage"
	"github.com/salonops/booker/libs/config"
	"github.com/salonops/booker/libs/db"
	"github.com/salonops/booker/libs/httpx"
	"github.com/salonops/booker/libs/kafkax"
	otelx "github.com/salonops/booker/libs/otel"
	"github.com/salonops/booker/libs/runtime"
)

func main() {
	service := config.String("SERVICE_NAME", "booker")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	outboxRepo := outbox.NewRepository(pool)
	ledgerRepo := storage.NewLedgerRepository(pool)
	apptRepo := storage.NewAppointmentRepository(pool, ledgerRepo, outboxRepo)
	catalogRepo := storage.NewCatalogRepository(pool)
	taskRepo := storage.NewTaskRepository(pool)
	notificationRepo := storage.NewNotificationRepository(pool)
	idempotencyRepo := storage.NewIdempotencyRepository(pool)

	var smsSender notify.SMSSender = notify.NewNoopSMSSender()
	if url := config.String("SMS_WEBHOOK_URL", ""); url != "" {
		smsSender = notify.NewWebhookSMSSender(url, config.String("SMS_WEBHOOK_TOKEN", ""))
	}
	dispatcher := notify.NewService(
		notify.NewSMTPSender(
			config.String("SMTP_HOST", "localhost"),
			config.String("SMTP_PORT", "1025"),
			config.String("SMTP_FROM", ""),
		),
		smsSender,
		notificationRepo,
		logger,
	)

	schedCfg := scheduler.DefaultConfig()
	schedCfg.SweepInterval = config.Duration("SWEEP_INTERVAL", schedCfg.SweepInterval)
	schedCfg.WorkerInterval = config.Duration("WORKER_INTERVAL", schedCfg.WorkerInterval)
	schedCfg.WarningWindow = config.Duration("EXPIRY_WARNING_WINDOW", schedCfg.WarningWindow)
	orch := scheduler.NewOrchestrator(
		taskRepo,
		storage.NewSweepStore(apptRepo, ledgerRepo),
		catalogRepo,
		dispatcher,
		outboxRepo,
		schedCfg,
		logger,
	)
	orch.Start(ctx)
	defer orch.Stop()

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	engine := booking.NewEngine(apptRepo, catalogRepo, orch, logger)
	apptHandler := handlers.NewAppointmentHandler(engine, idempotencyRepo, logger)
	ledgerHandler := handlers.NewLedgerHandler(ledgerRepo, catalogRepo, logger)

	readyChecks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if brokers := config.String("KAFKA_BROKERS", ""); brokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.HandleFunc("/api/v1/appointments", routeByMethod(apptHandler.List, apptHandler.Create))
	mux.HandleFunc("/api/v1/appointments/get", apptHandler.Get)
	mux.HandleFunc("/api/v1/appointments/update", apptHandler.Update)
	mux.HandleFunc("/api/v1/appointments/cancel", apptHandler.Cancel)
	mux.HandleFunc("/api/v1/appointments/transition", apptHandler.Transition)
	mux.HandleFunc("/api/v1/appointments/calendar", apptHandler.Calendar)
	mux.HandleFunc("/api/v1/ledgers", routeByMethod(ledgerHandler.List, ledgerHandler.Purchase))
	mux.HandleFunc("/api/v1/ledgers/get", ledgerHandler.Get)

	middlewares := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1 << 20),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 30*time.Second)),
	}
	if origins := config.String("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		middlewares = append(middlewares, httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: strings.Split(origins, ","),
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Content-Type", "X-Company-Id", "Idempotency-Key"},
			MaxAge:         time.Hour,
		}))
	}
	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		limiter := httpx.NewRedisRateLimiter(rdb,
			config.Int("RATE_LIMIT_PER_MINUTE", 300), time.Minute, service)
		middlewares = append(middlewares, limiter.Middleware(logger, true))
	} else {
		limiter := httpx.NewRateLimiter(config.Int("RATE_LIMIT_PER_MINUTE", 300), time.Minute)
		middlewares = append(middlewares, limiter.Middleware())
	}
	httpHandler := httpx.Chain(mux, middlewares...)
	httpHandler = otelhttp.NewHandler(httpHandler, service)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// routeByMethod splits a collection path between its GET and POST
// handlers.
func routeByMethod(get, post http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			get(w, r)
		case http.MethodPost:
			post(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}
