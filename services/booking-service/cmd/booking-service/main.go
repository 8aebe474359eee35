package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/agentbook/libs/config"
	"github.com/md-rashed-zaman/agentbook/libs/db"
	"github.com/md-rashed-zaman/agentbook/libs/httpx"
	"github.com/md-rashed-zaman/agentbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/agentbook/libs/otel"
	"github.com/md-rashed-zaman/agentbook/libs/runtime"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/ledger"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/locks"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/tz"
)

func main() {
	config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	lookupTimeout, err := config.Duration("TZ_LOOKUP_TIMEOUT", tz.DefaultLookupTimeout)
	if err != nil {
		panic(err)
	}
	cacheTTL, err := config.Duration("TZ_CACHE_TTL", 24*time.Hour)
	if err != nil {
		panic(err)
	}
	lockTTL, err := config.Duration("SLOT_LOCK_TTL", 10*time.Second)
	if err != nil {
		panic(err)
	}
	limitPerMinute, err := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if err != nil {
		panic(err)
	}

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

	var (
		bookings      ledger.BookingStore
		settingsStore handlers.SettingsStore
		events        outbox.Source
		dbReady       func(context.Context) error
	)
	if dbURL := config.String("DATABASE_URL", ""); dbURL != "" {
		pool, err := db.Open(ctx, dbURL, db.Options{})
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()
		if config.Bool("DB_MIGRATE", true) {
			if err := storage.Migrate(ctx, pool); err != nil {
				logger.Error("db migration failed", "err", err)
				panic(err)
			}
		}
		outboxRepo := outbox.NewRepository(pool)
		bookings = storage.NewBookingRepository(pool, outboxRepo)
		settingsStore = storage.NewSettingsRepository(pool)
		events = outboxRepo
		dbReady = db.ReadyCheck(pool)
	} else {
		logger.Warn("DATABASE_URL not set; bookings and settings are kept in memory")
		mem := storage.NewMemoryBookings(outbox.NewMemory())
		bookings = mem
		settingsStore = storage.NewMemorySettings()
		events = mem.Outbox()
	}

	var (
		locker      locks.Locker  = locks.NewLocal()
		zoneCache   tz.Cache      = tz.NewMemoryCache(cacheTTL)
		rateLimiter httpx.Limiter = httpx.NewRateLimiter(limitPerMinute, time.Minute)
		redisReady  func(context.Context) error
	)
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		redisDB, err := config.Int("REDIS_DB", 0)
		if err != nil {
			panic(err)
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       redisDB,
		})
		defer func() { _ = rdb.Close() }()

		locker = locks.NewRedis(rdb, lockTTL, logger)
		zoneCache = tz.NewRedisCache(rdb, cacheTTL)
		rateLimiter = httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl:booking"), logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
		redisReady = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		logger.Info("redis enabled", "redis_addr", addr, "per_minute", limitPerMinute)
	}

	var zoneLookup tz.Lookup
	if tmpl := config.String("TZ_LOOKUP_URL", ""); tmpl != "" {
		zoneLookup = tz.NewHTTPLookup(tmpl)
	}
	detector := tz.NewDetector(zoneLookup, zoneCache, logger, tz.DetectorConfig{Timeout: lookupTimeout})

	brokers := config.String("KAFKA_BROKERS", "")
	publisher := outbox.NewPublisher(events, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go publisher.Run(ctx)

	bookingLedger := ledger.New(bookings, settingsStore, locker, logger)
	publicHandler := handlers.NewPublicHandler(bookingLedger, detector, logger)
	settingsHandler := handlers.NewSettingsHandler(settingsStore, logger, config.String("DEFAULT_TIMEZONE", "UTC"))
	bookingsHandler := handlers.NewBookingsHandler(bookingLedger, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: dbReady},
		runtime.ReadyCheck{Name: "redis", Check: redisReady},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("/api/v1/public/slots", publicHandler.Slots)
	mux.HandleFunc("/api/v1/public/book", publicHandler.Book)
	mux.HandleFunc("/api/v1/public/timezone", publicHandler.Timezone)
	mux.HandleFunc("/api/v1/settings", settingsHandler.Settings)
	mux.HandleFunc("/api/v1/settings/unavailable-dates", settingsHandler.UnavailableDates)
	mux.HandleFunc("/api/v1/bookings", bookingsHandler.List)
	mux.HandleFunc("/api/v1/bookings/cancel", bookingsHandler.Cancel)
	mux.HandleFunc("/api/v1/bookings/reschedule", bookingsHandler.Reschedule)
	mux.HandleFunc("/api/v1/bookings/complete", bookingsHandler.Complete)

	requestTimeout, err := config.Duration("REQUEST_TIMEOUT", 10*time.Second)
	if err != nil {
		panic(err)
	}
	httpHandler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: httpx.ParseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods: httpx.ParseList(config.String("CORS_ALLOWED_METHODS", "")),
			AllowedHeaders: httpx.ParseList(config.String("CORS_ALLOWED_HEADERS", "")),
			ExposedHeaders: []string{httpx.RequestIDHeader},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(requestTimeout),
		rateLimiter.Middleware(),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	runtime.Serve(ctx, &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}, logger, 10*time.Second)
}
