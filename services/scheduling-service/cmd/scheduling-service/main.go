package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Sudo-psc/saraiva-vision-scheduling/libs/config"
	"github.com/Sudo-psc/saraiva-vision-scheduling/libs/db"
	"github.com/Sudo-psc/saraiva-vision-scheduling/libs/httpx"
	"github.com/Sudo-psc/saraiva-vision-scheduling/libs/kafkax"
	otelx "github.com/Sudo-psc/saraiva-vision-scheduling/libs/otel"
	"github.com/Sudo-psc/saraiva-vision-scheduling/libs/runtime"
	"github.com/Sudo-psc/saraiva-vision-scheduling/services/scheduling-service/internal/cache"
	"github.com/Sudo-psc/saraiva-vision-scheduling/services/scheduling-service/internal/handlers"
	"github.com/Sudo-psc/saraiva-vision-scheduling/services/scheduling-service/internal/outbox"
	"github.com/Sudo-psc/saraiva-vision-scheduling/services/scheduling-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
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

	loc, err := time.LoadLocation(config.String("CLINIC_TIMEZONE", "America/Sao_Paulo"))
	if err != nil {
		logger.Error("invalid clinic timezone", "err", err)
		panic(err)
	}
	defaultDuration := time.Duration(config.Int("DEFAULT_SLOT_MINUTES", 30)) * time.Minute

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, db.DefaultOptions())
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	var rdb *redis.Client
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		defer func() { _ = rdb.Close() }()
	}
	availCache := cache.New(rdb,
		time.Duration(config.Int("AVAILABILITY_CACHE_TTL_SECONDS", 60))*time.Second, logger)

	scheduleRepo := storage.NewScheduleRepository(pool)
	appointmentRepo := storage.NewAppointmentRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	brokers := config.String("KAFKA_BROKERS", "")
	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go publisher.Run(ctx)

	jwtSecret, err := config.RequiredString("ADMIN_JWT_SECRET")
	if err != nil {
		panic(err)
	}
	passwordHash, err := config.RequiredString("ADMIN_PASSWORD_HASH")
	if err != nil {
		panic(err)
	}

	availabilityHandler := handlers.NewAvailabilityHandler(scheduleRepo, appointmentRepo, availCache, logger, loc, defaultDuration)
	bookingHandler := handlers.NewBookingHandler(appointmentRepo, scheduleRepo, outboxRepo, availCache, logger, loc, defaultDuration)
	adminHandler := handlers.NewAdminHandler(scheduleRepo, availCache, logger)
	authHandler := handlers.NewAuthHandler(jwtSecret, passwordHash,
		time.Duration(config.Int("ADMIN_TOKEN_TTL_HOURS", 12))*time.Hour, logger)

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if brokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	if rdb != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: cache.ReadyCheck(rdb)})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)

	mux.HandleFunc("/api/availability", availabilityHandler.Get)
	mux.HandleFunc("/api/appointments", bookingHandler.Book)
	mux.HandleFunc("/api/auth/login", authHandler.Login)

	requireStaff := handlers.RequireStaff(jwtSecret)
	mux.Handle("/api/admin/business-hours", requireStaff(http.HandlerFunc(adminHandler.BusinessHours)))
	mux.Handle("/api/admin/overrides", requireStaff(http.HandlerFunc(adminHandler.Overrides)))
	mux.Handle("/api/admin/services", requireStaff(http.HandlerFunc(adminHandler.Services)))
	mux.Handle("/api/admin/appointments", requireStaff(http.HandlerFunc(bookingHandler.List)))
	mux.Handle("/api/admin/appointments/cancel", requireStaff(http.HandlerFunc(bookingHandler.Cancel)))

	var rateLimit httpx.Middleware
	limit := config.Int("RATE_LIMIT_PER_MINUTE", 60)
	if rdb != nil {
		rateLimit = httpx.NewRedisRateLimiter(rdb, limit, time.Minute, service).Middleware(logger, true)
	} else {
		rateLimit = httpx.NewRateLimiter(limit, time.Minute).Middleware()
	}

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("ALLOWED_ORIGINS", "https://saraivavision.com.br"),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		}),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(15*time.Second),
		rateLimit,
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")

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
