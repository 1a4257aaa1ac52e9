package application

import (
	"context"
	"fmt"

	"eventrelay/internal/application/common"
	"eventrelay/internal/application/publisher"
	"eventrelay/internal/application/repo"
	"eventrelay/internal/application/schema"
	"eventrelay/internal/application/service"
	use_cases "eventrelay/internal/application/use-cases"
	"eventrelay/internal/controllers/cron"
	"eventrelay/internal/controllers/handler"
	"eventrelay/internal/controllers/listener"
	"eventrelay/internal/transport/producer"
	"eventrelay/pkg/broker"
	"eventrelay/pkg/config"
	"eventrelay/pkg/db"
	"eventrelay/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type App struct {
	ctx            context.Context
	conf           *config.Config
	logger         *zap.SugaredLogger
	postgres       *db.Postgres
	httpServer     *fiber.App
	kafka          *broker.KafkaBroker
	cronController *cron.Controller
	registry       *schema.Registry
}

func NewApp(
	ctx context.Context,
	conf *config.Config,
	logger *zap.SugaredLogger,
	postgres *db.Postgres,
	httpServer *fiber.App,
	kafkaBroker *broker.KafkaBroker,
	m *metrics.Metrics) *App {
	logger.Infof("starting event relay version: %s", common.Version)

	if kafkaBroker.ConsumerGroup != nil {
		go func() {
			<-ctx.Done()
			logger.Info("closing DLQ replay consumer group")
			kafkaBroker.ConsumerGroup.Close()
			logger.Info("closing DLQ replay consumer group: done")
		}()
	}

	store := repo.NewRepo(postgres, logger)
	tx := repo.NewTransactions(store, logger)

	// one send attempt per call: the dispatcher retries at the record level
	// and the direct producer runs its own attempt loop
	kafkaPublisher := producer.NewPublisher(kafkaBroker, logger, 1, m)
	// dead-letter sends have no outer retry ladder behind them, so this
	// publisher keeps the in-call retry budget
	dlqPublisher := producer.NewPublisher(kafkaBroker, logger, conf.Producer.MaxAttempts, m)

	registry := schema.NewRegistry()

	dispatcher := service.NewDispatcher(store, tx, kafkaPublisher, logger, &conf.Dispatcher, m)

	var backup publisher.BackupStrategy
	if conf.Producer.BackupDir != "" {
		fileBackup, err := publisher.NewFileBackup(conf.Producer.BackupDir, logger)
		if err != nil {
			logger.Fatalf("backup dir setup failed: %v", err)
		}
		backup = fileBackup
	}

	// the worker owns the backup rung for queue-drained sends that fail
	dlq := publisher.NewDeadLetterDispatcher(dlqPublisher, conf.Broker.Kafka.DeadLetterTopic, conf.Producer.DeadLetterAsync, backup, logger, m)
	if conf.Producer.DeadLetterAsync {
		go dlq.Run(ctx)
	}

	eventProducer := publisher.NewEventProducer(kafkaPublisher, dlq, backup, logger, &conf.Producer, m)

	srv := service.NewService(store, tx, kafkaPublisher, registry, dispatcher, logger, conf)
	uc := use_cases.NewUseCase(srv, eventProducer, logger, conf)
	h := handler.NewHandler(uc, logger)
	r := handler.NewRouter(h, httpServer, conf, logger)

	cronController := cron.NewController(ctx, logger)
	if conf.Cleanup.Enabled {
		if err := cronController.RegisterCleanupJob(uc, conf.Cleanup); err != nil {
			logger.Fatalf("cron job registration failed: %v", err)
		}
	}
	if err := cronController.RegisterStatsLogJob(uc, conf.Dispatcher.StatsLogPeriod); err != nil {
		logger.Fatalf("cron job registration failed: %v", err)
	}
	cronController.Start()

	go uc.RunDispatcher(ctx)

	r.RegisterRouter()

	app := &App{
		ctx:            ctx,
		conf:           conf,
		logger:         logger,
		postgres:       postgres,
		httpServer:     httpServer,
		kafka:          kafkaBroker,
		cronController: cronController,
		registry:       registry,
	}

	if conf.Broker.Kafka.ReplayEnabled {
		go app.runReplayConsumer(ctx, logger, uc, kafkaBroker, m)
	}

	return app
}

// SchemaRegistry exposes the registry so embedding programs can register
// payload schemas and migrations before Run.
func (a *App) SchemaRegistry() *schema.Registry {
	return a.registry
}

func (a *App) Run() error {
	return a.httpServer.Listen(fmt.Sprintf(":%s", a.conf.Server.Port))
}

func (a *App) Shutdown() error {
	if a.cronController != nil {
		a.cronController.Stop()
	}
	return a.httpServer.Shutdown()
}

func (a *App) runReplayConsumer(ctx context.Context, logger *zap.SugaredLogger, usecase use_cases.UseCaser, kafkaBroker *broker.KafkaBroker, m *metrics.Metrics) {
	logger.Infof("starting DLQ replay consumer for topic: %s", kafkaBroker.DeadLetterTopic)

	replayConsumer := listener.NewDeadLetterReplayConsumer(usecase, logger, m)

	for {
		err := kafkaBroker.ConsumerGroup.Consume(ctx, []string{kafkaBroker.DeadLetterTopic}, replayConsumer)
		if err != nil {
			logger.Errorf("DLQ replay consumer error: %v", err)
		}
		if ctx.Err() != nil {
			logger.Info("DLQ replay consumer stopped")
			return
		}
	}
}
