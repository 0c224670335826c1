package main

import (
	"context"
	"net/http"
	"time"

	"github.com/johnhamlin/event-driven-demo/libs/config"
	"github.com/johnhamlin/event-driven-demo/libs/db"
	"github.com/johnhamlin/event-driven-demo/libs/httpx"
	"github.com/johnhamlin/event-driven-demo/libs/kafkax"
	"github.com/johnhamlin/event-driven-demo/libs/otelx"
	"github.com/johnhamlin/event-driven-demo/libs/redisx"
	"github.com/johnhamlin/event-driven-demo/libs/runtime"
	"github.com/johnhamlin/event-driven-demo/services/projection-service/internal/consumer"
	"github.com/johnhamlin/event-driven-demo/services/projection-service/internal/dedupe"
	"github.com/johnhamlin/event-driven-demo/services/projection-service/internal/handlers"
	"github.com/johnhamlin/event-driven-demo/services/projection-service/internal/projection"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "projection-service")
	port, err := config.Port("PORT", "8082")
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

	redisAddr, err := config.RequiredString("REDIS_ADDR")
	if err != nil {
		panic(err)
	}
	rdb, err := redisx.Open(ctx, redisAddr)
	if err != nil {
		logger.Error("redis connection failed", "err", err)
		panic(err)
	}
	defer func() { _ = rdb.Close() }()

	brokersRaw := config.String("KAFKA_BROKERS", "")
	topic := config.String("KAFKA_TOPIC", "workorder.changes.v1")
	dlqTopic := config.String("KAFKA_DLQ_TOPIC", "workorder.changes.dlq.v1")

	store := projection.NewStore(pool)
	materializer := projection.NewMaterializer(
		dedupe.NewRedisLedger(rdb),
		store,
		logger,
		config.Duration("DEDUPE_TTL", 7*24*time.Hour),
	)

	dlq := consumer.NewKafkaDeadLetter(kafkax.SplitBrokers(brokersRaw), dlqTopic)
	defer func() { _ = dlq.Close() }()

	eventConsumer := consumer.New(logger, dlq, consumer.Config{
		Brokers:       brokersRaw,
		GroupID:       config.String("KAFKA_GROUP_ID", "projection-service"),
		Topic:         topic,
		MaxDeliveries: config.Int("CONSUMER_MAX_DELIVERIES", 3),
		RetryBackoff:  config.Duration("CONSUMER_RETRY_BACKOFF", 2*time.Second),
	}, materializer.Apply)
	go eventConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "redis", Check: redisx.ReadyCheck(rdb)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokersRaw)},
	)
	handlers.New(store, logger).Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "projection")
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
