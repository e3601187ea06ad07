package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"

	"github.com/Yoseph-M/Soultalk-sub000/pkg/database"
	"github.com/Yoseph-M/Soultalk-sub000/pkg/health"
	"github.com/Yoseph-M/Soultalk-sub000/pkg/httpclient"
	pkgkafka "github.com/Yoseph-M/Soultalk-sub000/pkg/kafka"
	"github.com/Yoseph-M/Soultalk-sub000/pkg/tracing"
	"github.com/Yoseph-M/Soultalk-sub000/services/sessiond/internal/config"
	"github.com/Yoseph-M/Soultalk-sub000/services/sessiond/internal/credstore"
	"github.com/Yoseph-M/Soultalk-sub000/services/sessiond/internal/event"
	"github.com/Yoseph-M/Soultalk-sub000/services/sessiond/internal/handler"
	"github.com/Yoseph-M/Soultalk-sub000/services/sessiond/internal/proxy"
	"github.com/Yoseph-M/Soultalk-sub000/services/sessiond/internal/session"
)

const serviceName = "sessiond"

// publisher is what the app needs from an event publisher.
type publisher interface {
	session.Publisher
	io.Closer
}

// App wires together all dependencies and runs sessiond.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	store          credstore.Store
	storeCloser    io.Closer
	publisher      publisher
	manager        *session.Manager
	consumer       *pkgkafka.Consumer
	dlq            *pkgkafka.DLQProducer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error

	// stop cancels background work: session restore, the verification
	// consumer and the rate limiter's eviction loop.
	stop context.CancelFunc
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTelEndpoint,
		SampleRate:     cfg.OTelSampleRate,
		Enabled:        cfg.OTelEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	// Open the credential store.
	store, storeCloser, err := credstore.Open(ctx, credstore.Config{
		Driver:    cfg.CredstoreDriver,
		Path:      cfg.CredstorePath,
		DSN:       cfg.CredstoreDSN,
		Namespace: cfg.CredstoreNamespace,
		Redis: database.RedisConfig{
			URL:      cfg.RedisURL,
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		},
		Registerer: prometheus.DefaultRegisterer,
	}, logger)
	if err != nil {
		_ = tracerShutdown(context.Background())
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	logger.Info("credential store opened", slog.String("driver", cfg.CredstoreDriver))

	// Backend HTTP client behind a circuit breaker.
	clientCfg := httpclient.DefaultConfig()
	clientCfg.Timeout = cfg.HTTPClientTimeout
	clientCfg.MaxRetries = cfg.HTTPClientRetries
	cbCfg := httpclient.DefaultCircuitBreakerConfig("soultalk-api")
	cbCfg.FailureRatio = cfg.CBFailureRatio
	cbCfg.Timeout = cfg.CBTimeout
	client := httpclient.NewCircuitBreakerClient(httpclient.New(clientCfg), cbCfg, logger)

	// Session event publisher.
	var (
		pub      publisher = event.Nop{}
		producer *pkgkafka.Producer
	)
	if cfg.KafkaEnabled {
		producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		pub = event.NewProducer(producer, logger)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	// Build the dependency graph.
	manager := session.New(session.Config{
		BaseURL:             cfg.APIBaseURL,
		SingleFlightRefresh: cfg.SingleFlightRefresh,
	}, client, store, pub, logger)

	// Backend verification changes refresh the signed-in profile.
	var (
		consumer *pkgkafka.Consumer
		dlq      *pkgkafka.DLQProducer
	)
	if cfg.KafkaEnabled && cfg.VerificationTopic != "" {
		consumer, dlq = newVerificationConsumer(cfg, manager, logger)
		logger.Info("kafka consumer initialized",
			slog.String("topic", cfg.VerificationTopic),
			slog.String("group", cfg.KafkaConsumerGroup),
		)
	}

	target, err := url.Parse(cfg.APIBaseURL)
	if err != nil {
		_ = storeCloser.Close()
		_ = tracerShutdown(context.Background())
		return nil, fmt.Errorf("parse API base URL: %w", err)
	}
	apiProxy := proxy.NewSessionProxy(target, manager, logger)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("credstore", storeCheck(store))
	if producer != nil {
		healthHandler.RegisterNonCritical("kafka", producer.Ping)
	}
	healthHandler.RegisterNonCritical("api_circuit", func(context.Context) error {
		if client.State() == gobreaker.StateOpen {
			return errors.New("circuit breaker open")
		}
		return nil
	})

	lifetime, stop := context.WithCancel(context.Background())

	// Restore the persisted session; GET /session reports is_loading until
	// this completes.
	go manager.Initialize(lifetime)

	if consumer != nil {
		go func() {
			if err := consumer.Start(lifetime); err != nil {
				logger.Error("verification consumer stopped", slog.String("error", err.Error()))
			}
		}()
	}

	// HTTP router.
	router := handler.NewRouter(lifetime, cfg, manager, apiProxy, healthHandler, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.HTTPClientTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		store:          store,
		storeCloser:    storeCloser,
		publisher:      pub,
		manager:        manager,
		consumer:       consumer,
		dlq:            dlq,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
		stop:           stop,
	}, nil
}

// newVerificationConsumer builds the verification-change consumer with
// deduplication and, when enabled, a dead-letter producer.
func newVerificationConsumer(cfg *config.Config, manager *session.Manager, logger *slog.Logger) (*pkgkafka.Consumer, *pkgkafka.DLQProducer) {
	h := pkgkafka.IdempotentHandler(
		pkgkafka.NewMemoryIdempotencyStore(cfg.KafkaDedupWindow),
		event.NewVerificationHandler(manager, logger),
		logger,
	)
	consumer := pkgkafka.NewConsumer(
		pkgkafka.DefaultConsumerConfig(cfg.KafkaBrokers, cfg.KafkaConsumerGroup, cfg.VerificationTopic),
		h, logger,
	)
	if !cfg.KafkaDLQEnabled {
		return consumer, nil
	}
	dlq := pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
	return consumer.WithDeadLetter(dlq), dlq
}

// storeCheck pings stores backed by a remote service and otherwise tries
// a read.
func storeCheck(store credstore.Store) health.Checker {
	if p, ok := store.(credstore.Pinger); ok {
		return p.Ping
	}
	return func(ctx context.Context) error {
		_, _, err := store.Get(ctx, credstore.KeyUser)
		return err
	}
}

// Handler returns the HTTP handler serving sessiond's routes.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in order:
// 1. HTTP server (drain in-flight requests)
// 2. Verification consumer and its DLQ
// 3. Event publisher
// 4. Credential store
// 5. Tracer
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests.
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	a.stop()

	// 2. Stop consuming.
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.logger.Error("kafka consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.dlq != nil {
		if err := a.dlq.Close(); err != nil {
			a.logger.Error("kafka dlq close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 3. Flush session events.
	if err := a.publisher.Close(); err != nil {
		a.logger.Error("event publisher close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 4. Release the credential store.
	if err := a.storeCloser.Close(); err != nil {
		a.logger.Error("credential store close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 5. Flush pending spans.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
