package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	platformhealth "github.com/shestoi/GoFoodTech/platform/health/http"
	platformkafka "github.com/shestoi/GoFoodTech/platform/kafka"
	platformlogging "github.com/shestoi/GoFoodTech/platform/logging"
	"github.com/shestoi/GoFoodTech/platform/observability"
	platformshutdown "github.com/shestoi/GoFoodTech/platform/shutdown"
	httpapi "github.com/shestoi/GoFoodTech/services/payment/internal/api/http"
	"github.com/shestoi/GoFoodTech/services/payment/internal/config"
	eventkafka "github.com/shestoi/GoFoodTech/services/payment/internal/event/kafka"
	mongorepo "github.com/shestoi/GoFoodTech/services/payment/internal/repository/mongo"
	"github.com/shestoi/GoFoodTech/services/payment/internal/service"
)

// App содержит все зависимости для запуска и корректного shutdown Payment Service
type App struct {
	logger      *zap.Logger
	httpServer  *http.Server
	shutdownMgr *platformshutdown.Manager
	workers     []worker
	wg          sync.WaitGroup
}

// worker фоновая задача, которая работает до отмены ctx и закрывает done по завершении
type worker struct {
	name string
	run  func(ctx context.Context)
	ctx  context.Context
	done chan struct{}
}

// Build создаёт и настраивает все зависимости Payment Service
func Build(cfg config.Config) (*App, error) {
	const op = "app.Build"

	logger, err := platformlogging.New(platformlogging.FromEnv("payment", string(cfg.AppEnv)))
	if err != nil {
		return nil, err
	}
	cfg.Log(logger)

	logger = logger.With(zap.String("op", op))
	logger.Info("Building Payment service", zap.String("http_addr", cfg.HTTPAddr))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	otelShutdown, err := observability.Init(ctx, cfg.OTel)
	if err != nil {
		return nil, fmt.Errorf("failed to init observability: %w", err)
	}

	logger.Info("Connecting to MongoDB")
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		_ = otelShutdown(ctx)
		return nil, err
	}
	if err := mongoClient.Ping(ctx, nil); err != nil {
		_ = mongoClient.Disconnect(ctx)
		_ = otelShutdown(ctx)
		return nil, err
	}
	logger.Info("MongoDB connection established")

	repo := mongorepo.NewRepository(mongoClient, cfg.MongoDBName)
	if err := repo.EnsureIndexes(ctx); err != nil {
		_ = mongoClient.Disconnect(ctx)
		_ = otelShutdown(ctx)
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}

	// Клиент брокера не подключается при старте: сервис принимает платежи и без Kafka, события уходят в outbox
	kafkaClient := platformkafka.NewClient(cfg.Kafka, logger)

	publisher := eventkafka.NewPaymentEventPublisher(logger, kafkaClient, eventkafka.PublisherConfig{
		ServiceName: "payment",
		Topic:       cfg.Kafka.Topic,
		Budget:      cfg.PublishBudget,
		MaxAttempts: cfg.PublishMaxAttempts,
		BackoffBase: cfg.PublishBackoff,
		BackoffMax:  cfg.PublishBackoffMax,
	}, nil)

	paymentService := service.NewPaymentService(logger, repo, repo, publisher)
	replayer := eventkafka.NewOutboxReplayer(logger, repo, publisher, paymentService, cfg.OutboxBatchSize, cfg.OutboxInterval, cfg.OutboxStaleAfter)

	handler := httpapi.NewHandler(paymentService, logger)
	router := httpapi.NewRouter(handler, logger,
		platformhealth.Check{
			Name:     "mongodb",
			Required: true,
			Probe: func(ctx context.Context) error {
				return mongoClient.Ping(ctx, nil)
			},
		},
		platformhealth.Check{
			Name: "kafka",
			Probe: func(context.Context) error {
				if !kafkaClient.Connected() {
					return errors.New(kafkaClient.State().String())
				}
				return nil
			},
		},
	)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	replayCtx, stopReplay := context.WithCancel(context.Background())
	workers := []worker{
		{name: "kafka_watch", run: kafkaClient.Watch, ctx: watchCtx, done: make(chan struct{})},
		{name: "outbox_replayer", run: func(ctx context.Context) { _ = replayer.Start(ctx) }, ctx: replayCtx, done: make(chan struct{})},
	}

	shutdownMgr := platformshutdown.New(cfg.ShutdownTimeout, logger)

	// Регистрируем shutdown функции в обратном порядке выполнения
	shutdownMgr.Add("otel", otelShutdown)
	shutdownMgr.Add("mongodb", platformshutdown.DisconnectMongo(mongoClient))
	shutdownMgr.Add("kafka_client", platformshutdown.CloseWithError(kafkaClient))
	shutdownMgr.Add("outbox_replayer", platformshutdown.StopWorker(stopReplay, workers[1].done))
	shutdownMgr.Add("kafka_watch", platformshutdown.StopWorker(stopWatch, workers[0].done))
	shutdownMgr.Add("http_server", platformshutdown.ShutdownHTTPServer(httpServer))

	return &App{
		logger:      logger,
		httpServer:  httpServer,
		shutdownMgr: shutdownMgr,
		workers:     workers,
	}, nil
}

// Run запускает сервис и блокируется до получения сигнала shutdown
func (a *App) Run() error {
	defer platformlogging.Sync(a.logger)

	a.logger.Info("Starting Payment service", zap.String("addr", a.httpServer.Addr))

	for _, w := range a.workers {
		a.wg.Add(1)
		go func(w worker) {
			defer a.wg.Done()
			defer close(w.done)
			a.logger.Info("Starting background worker", zap.String("name", w.name))
			w.run(w.ctx)
		}(w)
	}

	// Падение HTTP сервера запускает shutdown так же, как сигнал
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server error", zap.Error(err))
			cancel()
		}
	}()

	err := a.shutdownMgr.Wait(ctx)

	a.wg.Wait()
	a.logger.Info("Payment service stopped")
	return err
}
