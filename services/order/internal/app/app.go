package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	platformhealth "github.com/shestoi/GoFoodTech/platform/health/http"
	platformkafka "github.com/shestoi/GoFoodTech/platform/kafka"
	platformlogging "github.com/shestoi/GoFoodTech/platform/logging"
	"github.com/shestoi/GoFoodTech/platform/observability"
	platformshutdown "github.com/shestoi/GoFoodTech/platform/shutdown"
	httpapi "github.com/shestoi/GoFoodTech/services/order/internal/api/http"
	"github.com/shestoi/GoFoodTech/services/order/internal/config"
	eventkafka "github.com/shestoi/GoFoodTech/services/order/internal/event/kafka"
	mongorepo "github.com/shestoi/GoFoodTech/services/order/internal/repository/mongo"
	redisrepo "github.com/shestoi/GoFoodTech/services/order/internal/repository/redis"
	"github.com/shestoi/GoFoodTech/services/order/internal/service"
)

// App содержит все зависимости для запуска и корректного shutdown Order Service
type App struct {
	logger      *zap.Logger
	httpServer  *http.Server
	shutdownMgr *platformshutdown.Manager
	workers     []worker
	wg          sync.WaitGroup
}

type worker struct {
	name string
	run  func(ctx context.Context)
	ctx  context.Context
	done chan struct{}
}

// Build создаёт и настраивает все зависимости Order Service
func Build(cfg config.Config) (*App, error) {
	const op = "app.Build"

	logger, err := platformlogging.New(platformlogging.FromEnv("order", string(cfg.AppEnv)))
	if err != nil {
		return nil, err
	}
	cfg.Log(logger)

	logger = logger.With(zap.String("op", op))
	logger.Info("Building Order service", zap.String("http_addr", cfg.HTTPAddr))

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

	// Подключаемся к Redis: отметки о применённых платежах
	logger.Info("Connecting to Redis", zap.String("addr", cfg.RedisAddr))
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		_ = mongoClient.Disconnect(ctx)
		_ = otelShutdown(ctx)
		return nil, err
	}
	logger.Info("Redis connection established")

	processedStore := redisrepo.NewProcessedStore(redisClient, logger, cfg.Consumer.GroupID)

	orderService := service.NewOrderService(logger, repo)

	// Брокер может подняться позже сервиса: dispatcher ждёт его сам
	kafkaClient := platformkafka.NewClient(cfg.Kafka, logger)
	dispatcher := eventkafka.NewPaymentSucceededConsumer(cfg.Consumer, logger, kafkaClient, processedStore, orderService)

	handler := httpapi.NewHandler(orderService, logger)
	router := httpapi.NewRouter(handler, logger,
		platformhealth.Check{
			Name:     "mongodb",
			Required: true,
			Probe: func(ctx context.Context) error {
				return mongoClient.Ping(ctx, nil)
			},
		},
		platformhealth.Check{
			Name:  "redis",
			Probe: processedStore.Ping,
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
	consumeCtx, stopConsume := context.WithCancel(context.Background())
	workers := []worker{
		{name: "kafka_watch", run: kafkaClient.Watch, ctx: watchCtx, done: make(chan struct{})},
		{
			name: "payment_consumer",
			run: func(ctx context.Context) {
				if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("payment consumer stopped with error", zap.Error(err))
				}
			},
			ctx:  consumeCtx,
			done: make(chan struct{}),
		},
	}

	shutdownMgr := platformshutdown.New(cfg.ShutdownTimeout, logger)

	// Регистрируем shutdown функции в обратном порядке выполнения:
	// сначала HTTP, затем consumer дообрабатывает сообщение в работе, потом закрываются клиенты
	shutdownMgr.Add("otel", otelShutdown)
	shutdownMgr.Add("mongodb", platformshutdown.DisconnectMongo(mongoClient))
	shutdownMgr.Add("redis", platformshutdown.CloseWithError(redisClient))
	shutdownMgr.Add("kafka_client", platformshutdown.CloseWithError(kafkaClient))
	shutdownMgr.Add("payment_consumer", platformshutdown.StopWorker(stopConsume, workers[1].done))
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

	a.logger.Info("Starting Order service", zap.String("addr", a.httpServer.Addr))

	for _, w := range a.workers {
		a.wg.Add(1)
		go func(w worker) {
			defer a.wg.Done()
			defer close(w.done)
			a.logger.Info("Starting background worker", zap.String("name", w.name))
			w.run(w.ctx)
		}(w)
	}

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
	a.logger.Info("Order service stopped")
	return err
}
