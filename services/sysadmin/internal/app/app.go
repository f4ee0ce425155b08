package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	platformhealth "github.com/shestoi/GoFoodTech/platform/health/http"
	platformkafka "github.com/shestoi/GoFoodTech/platform/kafka"
	platformlogging "github.com/shestoi/GoFoodTech/platform/logging"
	"github.com/shestoi/GoFoodTech/platform/observability"
	platformshutdown "github.com/shestoi/GoFoodTech/platform/shutdown"
	httpapi "github.com/shestoi/GoFoodTech/services/sysadmin/internal/api/http"
	"github.com/shestoi/GoFoodTech/services/sysadmin/internal/config"
	eventkafka "github.com/shestoi/GoFoodTech/services/sysadmin/internal/event/kafka"
	"github.com/shestoi/GoFoodTech/services/sysadmin/internal/repository/postgres"
	"github.com/shestoi/GoFoodTech/services/sysadmin/internal/service"
)

// App содержит все зависимости Sysadmin Service
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

// Build создаёт и настраивает все зависимости Sysadmin Service
func Build(cfg config.Config) (*App, error) {
	logger, err := platformlogging.New(platformlogging.FromEnv("sysadmin", string(cfg.AppEnv)))
	if err != nil {
		return nil, err
	}
	cfg.Log(logger)
	logger.Info("Building Sysadmin service", zap.String("http_addr", cfg.HTTPAddr))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	otelShutdown, err := observability.Init(ctx, cfg.OTel)
	if err != nil {
		return nil, fmt.Errorf("failed to init observability: %w", err)
	}

	// Подключаемся к PostgreSQL
	logger.Info("Connecting to PostgreSQL")
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		_ = otelShutdown(ctx)
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		_ = otelShutdown(ctx)
		return nil, err
	}
	logger.Info("PostgreSQL connection established")

	logger.Info("Applying database migrations")
	if err := postgres.Migrate(ctx, cfg.PostgresDSN); err != nil {
		pool.Close()
		_ = otelShutdown(ctx)
		return nil, err
	}
	logger.Info("Database migrations applied successfully")

	repo := postgres.NewRepository(pool)
	reportingService := service.NewReportingService(logger, repo)

	// Отметки в памяти только экономят запросы к БД: дубликаты отсекает ON CONFLICT
	processedStore := platformkafka.NewMemoryProcessedStore()

	kafkaClient := platformkafka.NewClient(cfg.Kafka, logger)
	dispatcher := eventkafka.NewPaymentReportConsumer(cfg.Consumer, logger, kafkaClient, processedStore, reportingService)

	handler := httpapi.NewHandler(reportingService, logger)
	router := httpapi.NewRouter(handler, logger,
		platformhealth.Check{
			Name:     "postgres",
			Required: true,
			Probe:    repo.Ping,
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
			name: "payment_report_consumer",
			run: func(ctx context.Context) {
				if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("payment report consumer stopped with error", zap.Error(err))
				}
			},
			ctx:  consumeCtx,
			done: make(chan struct{}),
		},
	}

	shutdownMgr := platformshutdown.New(cfg.ShutdownTimeout, logger)

	// Регистрируем shutdown функции в обратном порядке выполнения
	shutdownMgr.Add("otel", otelShutdown)
	shutdownMgr.Add("postgres", platformshutdown.ClosePool(pool))
	shutdownMgr.Add("processed_store", platformshutdown.ClosePool(processedStore))
	shutdownMgr.Add("kafka_client", platformshutdown.CloseWithError(kafkaClient))
	shutdownMgr.Add("payment_report_consumer", platformshutdown.StopWorker(stopConsume, workers[1].done))
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

	a.logger.Info("Starting Sysadmin service", zap.String("addr", a.httpServer.Addr))

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
	a.logger.Info("Sysadmin service stopped")
	return err
}
