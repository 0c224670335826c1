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
	"github.com/johnhamlin/event-driven-demo/libs/runtime"
	"github.com/johnhamlin/event-driven-demo/services/relay-service/internal/ledger"
	"github.com/johnhamlin/event-driven-demo/services/relay-service/internal/relay"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "relay-service")
	port, err := config.Port("PORT", "8081")
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

	brokersRaw := config.String("KAFKA_BROKERS", "")
	brokers := kafkax.SplitBrokers(brokersRaw)
	if len(brokers) == 0 {
		logger.Error("KAFKA_BROKERS is required")
		panic("KAFKA_BROKERS is required")
	}
	topic := config.String("KAFKA_TOPIC", "workorder.changes.v1")

	bus := relay.NewKafkaBus(brokers, topic)
	defer func() { _ = bus.Close() }()

	publisher := relay.NewPublisher(ledger.NewRepository(pool), bus, logger, relay.Config{
		PollEvery: config.Duration("RELAY_POLL_EVERY", 60*time.Second),
		BatchSize: config.Int("RELAY_BATCH_SIZE", 10),
	})
	go publisher.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokersRaw)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "relay")
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
