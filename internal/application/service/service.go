package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"eventrelay/internal/apperr"
	"eventrelay/internal/application/entity"
	"eventrelay/internal/application/repo"
	"eventrelay/internal/application/schema"
	"eventrelay/internal/transport/producer"
	"eventrelay/pkg/config"

	"go.uber.org/zap"
)

type Service interface {
	Enqueue(ctx context.Context, in EnqueueInput) (*entity.OutboxRecord, error)
	ReplayFailed(ctx context.Context, eventID string) error
	Stats(ctx context.Context) (*DispatcherStats, error)
	ResetStats()
	RunDispatcher(ctx context.Context)
	RunCleanupSweep(ctx context.Context)

	HealthCheck(ctx context.Context) (dbHealthy bool, kafkaHealthy bool, err error)
}

// EnqueueInput carries everything the caller must decide explicitly: the
// aggregate key is supplied, never reflected out of the payload, and the
// schema pin is optional.
type EnqueueInput struct {
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       json.RawMessage
	OccurredAt    time.Time

	// SchemaName/SchemaVersion, when set, pin the payload to a registered
	// schema; the payload is upgraded to the latest version before persist.
	SchemaName    string
	SchemaVersion int

	// DomainWrite, when set, is committed in the same transaction as the
	// outbox record.
	DomainWrite func(ctx context.Context) error
}

type ServiceImpl struct {
	repo       repo.Repo
	tx         repo.Transactions
	publisher  producer.Publisher
	registry   *schema.Registry
	dispatcher *Dispatcher
	logger     *zap.SugaredLogger
	conf       *config.Config
}

func NewService(repo repo.Repo, tx repo.Transactions, publisher producer.Publisher, registry *schema.Registry, dispatcher *Dispatcher, logger *zap.SugaredLogger, conf *config.Config) *ServiceImpl {
	return &ServiceImpl{
		repo:       repo,
		tx:         tx,
		publisher:  publisher,
		registry:   registry,
		dispatcher: dispatcher,
		logger:     logger,
		conf:       conf,
	}
}

func (s *ServiceImpl) HealthCheck(ctx context.Context) (dbHealthy bool, kafkaHealthy bool, err error) {
	dbErr := s.repo.HealthCheck(ctx)
	dbHealthy = dbErr == nil

	kafkaErr := s.publisher.HealthCheck(ctx)
	kafkaHealthy = kafkaErr == nil

	if !dbHealthy && !kafkaHealthy {
		return dbHealthy, kafkaHealthy, fmt.Errorf("database: %v, kafka: %v", dbErr, kafkaErr)
	}

	return dbHealthy, kafkaHealthy, nil
}

// Enqueue validates, optionally upgrades the payload to the latest
// registered schema version, and writes the record atomically with the
// caller's domain write. From here on the dispatcher owns the record.
func (s *ServiceImpl) Enqueue(ctx context.Context, in EnqueueInput) (*entity.OutboxRecord, error) {
	s.logger.Debugf("[event: %s] Enqueue started", in.EventID)

	payload := in.Payload
	if in.SchemaName != "" {
		upgraded, err := s.upgradePayload(in)
		if err != nil {
			return nil, err
		}
		payload = upgraded
	}

	rec, err := entity.NewOutboxRecord(in.EventID, in.AggregateType, in.AggregateID, in.EventType, payload, in.OccurredAt)
	if err != nil {
		return nil, err
	}

	if err := s.tx.EnqueueWithin(ctx, rec, in.DomainWrite); err != nil {
		return nil, err
	}

	s.logger.Infof("[event: %s] enqueued (%s/%s)", rec.EventID, rec.AggregateType, rec.EventType)
	return rec, nil
}

func (s *ServiceImpl) upgradePayload(in EnqueueInput) (json.RawMessage, error) {
	from, err := s.registry.Lookup(in.SchemaName, in.SchemaVersion)
	if err != nil {
		return nil, &apperr.ValidationError{Field: "schemaVersion", Reason: err.Error()}
	}
	latest, err := s.registry.LatestVersion(in.SchemaName)
	if err != nil {
		return nil, &apperr.ValidationError{Field: "schemaName", Reason: err.Error()}
	}

	path, err := s.registry.FindMigrationPath(from, latest)
	if err != nil {
		return nil, fmt.Errorf("schema %s v%d -> v%d: %w", in.SchemaName, from.Version, latest.Version, err)
	}
	if len(path) == 0 {
		return in.Payload, nil
	}

	var decoded schema.Payload
	if err := json.Unmarshal(in.Payload, &decoded); err != nil {
		return nil, &apperr.SerializationError{EventID: in.EventID, Err: err}
	}
	migrated, err := schema.ApplyPath(path, decoded)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(migrated)
	if err != nil {
		return nil, &apperr.SerializationError{EventID: in.EventID, Err: err}
	}

	s.logger.Infof("[event: %s] payload upgraded %s:v%d -> v%d (%d hops)",
		in.EventID, in.SchemaName, from.Version, latest.Version, len(path))
	return out, nil
}

// ReplayFailed resets one FAILED record back to PENDING. Operator action.
func (s *ServiceImpl) ReplayFailed(ctx context.Context, eventID string) error {
	if err := s.repo.ReplayFailed(ctx, eventID); err != nil {
		return err
	}
	s.logger.Infow("record replayed", "event", eventID)
	return nil
}

func (s *ServiceImpl) Stats(ctx context.Context) (*DispatcherStats, error) {
	return s.dispatcher.Stats(ctx)
}

func (s *ServiceImpl) ResetStats() {
	s.dispatcher.ResetStats()
}

func (s *ServiceImpl) RunDispatcher(ctx context.Context) {
	s.dispatcher.Run(ctx, s.conf.Broker.Kafka.Topic)
}

// RunCleanupSweep is the cron entrypoint for retention cleanup.
func (s *ServiceImpl) RunCleanupSweep(ctx context.Context) {
	if !s.conf.Cleanup.Enabled {
		return
	}
	retention := time.Duration(s.conf.Cleanup.RetentionDays) * 24 * time.Hour
	if _, err := s.dispatcher.RunCleanup(ctx, retention, s.conf.Cleanup.BatchLimit); err != nil {
		s.logger.Errorw("retention cleanup failed", "err", err)
	}
}
