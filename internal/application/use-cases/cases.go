package use_cases

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"eventrelay/internal/apperr"
	"eventrelay/internal/application/entity"
	"eventrelay/internal/application/publisher"
	"eventrelay/internal/application/service"
	"eventrelay/pkg/config"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

type UseCaser interface {
	Enqueue(ctx context.Context, req entity.EnqueueRequest) (*entity.OutboxRecord, error)
	Publish(ctx context.Context, req entity.PublishRequest) error
	ReplayFailed(ctx context.Context, eventID string) error
	ReplayDeadLetter(ctx context.Context, msg []byte) error
	Stats(ctx context.Context) (*service.DispatcherStats, error)
	ResetStats()
	RunDispatcher(ctx context.Context)
	RunCleanup(ctx context.Context)

	HealthCheck(ctx context.Context) (dbHealthy bool, kafkaHealthy bool, err error)
}

type UseCase struct {
	service  service.Service
	producer *publisher.EventProducer
	logger   *zap.SugaredLogger
	conf     *config.Config
}

func NewUseCase(service service.Service, producer *publisher.EventProducer, logger *zap.SugaredLogger, conf *config.Config) *UseCase {
	return &UseCase{
		service:  service,
		producer: producer,
		logger:   logger,
		conf:     conf,
	}
}

func (u *UseCase) HealthCheck(ctx context.Context) (dbHealthy bool, kafkaHealthy bool, err error) {
	return u.service.HealthCheck(ctx)
}

func (u *UseCase) Enqueue(ctx context.Context, req entity.EnqueueRequest) (*entity.OutboxRecord, error) {
	eventID := req.EventID
	if eventID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return nil, err
		}
		eventID = id.String()
	}

	occurredAt := time.Now().UTC()
	if req.OccurredAt != "" {
		// format already validated at the handler
		if t, err := time.Parse(time.RFC3339, req.OccurredAt); err == nil {
			occurredAt = t
		}
	}

	return u.service.Enqueue(ctx, service.EnqueueInput{
		EventID:       eventID,
		AggregateType: req.AggregateType,
		AggregateID:   req.AggregateID,
		EventType:     req.EventType,
		Payload:       req.Payload,
		OccurredAt:    occurredAt,
		SchemaName:    req.SchemaName,
		SchemaVersion: req.SchemaVersion,
	})
}

func (u *UseCase) Publish(ctx context.Context, req entity.PublishRequest) error {
	eventID := req.EventID
	if eventID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		eventID = id.String()
	}

	if req.Mode == "async" {
		return u.producer.SendAsync(ctx, req.Topic, eventID, req.Payload)
	}
	return u.producer.Send(ctx, req.Topic, eventID, req.Payload)
}

func (u *UseCase) ReplayFailed(ctx context.Context, eventID string) error {
	return u.service.ReplayFailed(ctx, eventID)
}

// ReplayDeadLetter re-enqueues one dead-lettered event as a fresh PENDING
// outbox record. Fed by the DLQ listener.
func (u *UseCase) ReplayDeadLetter(ctx context.Context, msg []byte) error {
	var p publisher.DeadLetterPayload
	if err := json.Unmarshal(msg, &p); err != nil {
		u.logger.Errorw("malformed dead-letter payload, skipping", "err", err)
		return nil // poison message; re-delivery would loop forever
	}

	_, err := u.service.Enqueue(ctx, service.EnqueueInput{
		EventID:       p.EventID + ":replay",
		AggregateType: "deadletter",
		AggregateID:   p.EventID,
		EventType:     "deadletter_replay",
		Payload:       p.OriginalValue,
		OccurredAt:    time.UnixMilli(p.FailedAtEpochMs).UTC(),
	})
	if errors.Is(err, apperr.ErrRecordAlreadyExists) {
		// redelivered DLQ message; the replay record is already in place
		u.logger.Infow("dead-letter replay already enqueued", "event", p.EventID)
		return nil
	}
	if err != nil {
		u.logger.Errorw("dead-letter replay enqueue failed", "event", p.EventID, "err", err)
		return err
	}

	u.logger.Infow("dead-letter event re-enqueued", "event", p.EventID, "originalTopic", p.OriginalTopic)
	return nil
}

func (u *UseCase) Stats(ctx context.Context) (*service.DispatcherStats, error) {
	return u.service.Stats(ctx)
}

func (u *UseCase) ResetStats() {
	u.service.ResetStats()
}

func (u *UseCase) RunDispatcher(ctx context.Context) {
	u.logger.Debug("dispatcher starting")
	u.service.RunDispatcher(ctx)
}

func (u *UseCase) RunCleanup(ctx context.Context) {
	u.service.RunCleanupSweep(ctx)
}
