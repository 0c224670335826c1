package main

import (
	"context"
	"net/http"
	"time"

	"github.com/johnhamlin/event-driven-demo/libs/config"
	"github.com/johnhamlin/event-driven-demo/libs/db"
	"github.com/johnhamlin/event-driven-demo/libs/httpx"
	"github.com/johnhamlin/event-driven-demo/libs/otelx"
	"github.com/johnhamlin/event-driven-demo/libs/redisx"
	"github.com/johnhamlin/event-driven-demo/libs/runtime"
	"github.com/johnhamlin/event-driven-demo/services/workorder-service/internal/handlers"
	"github.com/johnhamlin/event-driven-demo/services/workorder-service/internal/outbox"
	"github.com/johnhamlin/event-driven-demo/services/workorder-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "workorder-service")
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

	middlewares := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1 << 20),
	}

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}

	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		rdb, err := redisx.Open(ctx, redisAddr)
		if err != nil {
			logger.Error("redis connection failed", "err", err)
			panic(err)
		}
		defer func() { _ = rdb.Close() }()
		limiter := httpx.NewRedisRateLimiter(rdb,
			config.Int("RATE_LIMIT", 120),
			config.Duration("RATE_LIMIT_WINDOW", time.Minute),
			"rl:workorder",
		)
		middlewares = append(middlewares, limiter.Middleware(logger, true))
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: redisx.ReadyCheck(rdb)})
	}

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	handlers.New(storage.NewRepository(pool), outbox.NewRepository(), logger).Register(mux)

	handler := httpx.Chain(mux, middlewares...)
	handler = otelhttp.NewHandler(handler, "workorder")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
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
