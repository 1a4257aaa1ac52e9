package publisher

import (
	"context"
	"encoding/json"
	"time"

	"eventrelay/internal/apperr"
	"eventrelay/internal/application/common"
	"eventrelay/internal/transport/producer"
	"eventrelay/pkg/config"
	"eventrelay/pkg/metrics"

	"go.uber.org/zap"
)

// EventProducer is the direct, non-outbox publish path: publish-now
// semantics with a resilience ladder of retry -> dead-letter -> local
// backup. Callers that need durability across a process crash should use
// the outbox instead.
type EventProducer struct {
	publisher producer.Publisher
	dlq       *DeadLetterDispatcher
	backup    BackupStrategy // optional
	logger    *zap.SugaredLogger
	cfg       *config.Producer
	m         *metrics.Metrics
	now       func() time.Time
}

func NewEventProducer(publisher producer.Publisher, dlq *DeadLetterDispatcher, backup BackupStrategy, logger *zap.SugaredLogger, cfg *config.Producer, m *metrics.Metrics) *EventProducer {
	return &EventProducer{
		publisher: publisher,
		dlq:       dlq,
		backup:    backup,
		logger:    logger,
		cfg:       cfg,
		m:         m,
		now:       time.Now,
	}
}

// Send publishes synchronously: serialize, retry with backoff, and on final
// failure fall through the dead-letter ladder. With failOnError=false the
// failure is logged and swallowed; that choice is the caller's config, not
// an implicit default.
func (p *EventProducer) Send(ctx context.Context, topic, eventID string, event any) error {
	value, err := p.serialize(eventID, event)
	if err != nil {
		// malformed payload: retrying or dead-lettering cannot help
		p.count("sync", "serialization_error")
		return err
	}

	err = p.sendWithRetry(ctx, topic, eventID, value)
	if err == nil {
		p.count("sync", "success")
		return nil
	}

	p.count("sync", "failed")
	p.fallThrough(ctx, topic, eventID, value, err)

	if p.cfg.FailOnError {
		return err
	}
	p.logger.Warnw("send failed, continuing (failOnError=false)", "event", eventID, "err", err)
	return nil
}

// SendAsync returns immediately. The completion continuation runs on its
// own goroutine bounded by AsyncTimeout; the caller's correlation ID is
// captured here and re-attached there, because context values do not cross
// goroutine boundaries on their own.
func (p *EventProducer) SendAsync(ctx context.Context, topic, eventID string, event any) error {
	value, err := p.serialize(eventID, event)
	if err != nil {
		p.count("async", "serialization_error")
		return err
	}

	correlationID := common.CorrelationID(ctx)

	if p.m != nil {
		p.m.Publisher.AsyncInFlight.Inc()
	}

	go func() {
		defer func() {
			if p.m != nil {
				p.m.Publisher.AsyncInFlight.Dec()
			}
		}()

		// fresh context: the caller's may be cancelled the moment it returns
		sendCtx, cancel := context.WithTimeout(context.Background(), p.cfg.AsyncTimeout)
		defer cancel()
		sendCtx = common.WithCorrelationID(sendCtx, correlationID)

		log := p.logger
		if correlationID != "" {
			log = p.logger.With("correlationId", correlationID)
		}

		err := p.sendWithRetry(sendCtx, topic, eventID, value)
		if err == nil {
			p.count("async", "success")
			log.Debugf("[event %s] async send completed", eventID)
			return
		}

		if sendCtx.Err() != nil && p.m != nil {
			p.m.Publisher.AsyncTimeoutsTotal.Inc()
		}
		p.count("async", "failed")
		log.Errorw("async send failed", "event", eventID, "topic", topic, "err", err)

		p.fallThrough(sendCtx, topic, eventID, value, err)
	}()

	return nil
}

func (p *EventProducer) serialize(eventID string, event any) ([]byte, error) {
	value, err := json.Marshal(event)
	if err != nil {
		serr := &apperr.SerializationError{EventID: eventID, Err: err}
		p.logger.Errorw("event serialization failed", "event", eventID, "err", err)
		return nil, serr
	}
	return value, nil
}

func (p *EventProducer) sendWithRetry(ctx context.Context, topic, eventID string, value []byte) error {
	var lastErr error

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
		err := p.publisher.Send(sendCtx, topic, eventID, value)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == p.cfg.MaxAttempts {
			break
		}
		if err := common.SleepCtx(ctx, common.NextBackoffWithJitter(attempt-1)); err != nil {
			return err
		}
	}

	return lastErr
}

// fallThrough is the resilience ladder after the primary send is spent:
// dead-letter, then backup, then the loud terminal loss.
func (p *EventProducer) fallThrough(ctx context.Context, topic, eventID string, value []byte, cause error) {
	payload := newDeadLetterPayload(eventID, topic, value, cause, p.now())

	if p.dlq != nil {
		err := p.dlq.Dispatch(ctx, payload)
		if err == nil {
			return
		}
		p.logger.Errorw("dead-letter dispatch failed", "event", eventID, "err", err)
	}

	backupOrLose(ctx, p.backup, payload, p.logger, p.m)
}

// backupOrLose is the ladder tail once the dead-letter rung is spent:
// local backup, then the one terminal, unrecoverable outcome in the whole
// design. Shared by the inline path and the async dead-letter worker.
func backupOrLose(ctx context.Context, backup BackupStrategy, p DeadLetterPayload, logger *zap.SugaredLogger, m *metrics.Metrics) {
	if backup != nil {
		err := backup.Store(ctx, p)
		if err == nil {
			if m != nil {
				m.Publisher.BackupTotal.WithLabelValues("stored").Inc()
			}
			return
		}
		if m != nil {
			m.Publisher.BackupTotal.WithLabelValues("failed").Inc()
		}
		logger.Errorw("backup store failed", "event", p.EventID, "err", err)
	}

	if m != nil {
		m.Publisher.EventsLostTotal.Inc()
	}
	logger.Errorw("event permanently lost: primary, dead-letter and backup all failed",
		"event", p.EventID,
		"topic", p.OriginalTopic,
		"cause", p.ExceptionMessage,
		"err", apperr.ErrEventLost,
	)
}

func (p *EventProducer) count(mode, result string) {
	if p.m != nil {
		p.m.Publisher.SendTotal.WithLabelValues(mode, result).Inc()
	}
}
