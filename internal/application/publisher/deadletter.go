package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"eventrelay/internal/transport/producer"
	"eventrelay/pkg/metrics"

	"go.uber.org/zap"
)

// DeadLetterPayload wraps an undeliverable event with enough failure
// metadata to triage and replay it later.
type DeadLetterPayload struct {
	EventID          string          `json:"eventId"`
	OriginalTopic    string          `json:"originalTopic"`
	OriginalValue    json.RawMessage `json:"originalValue"`
	ExceptionClass   string          `json:"exceptionClass"`
	ExceptionMessage string          `json:"exceptionMessage"`
	FailedAtEpochMs  int64           `json:"failedAtEpochMs"`
}

func newDeadLetterPayload(eventID, originalTopic string, value []byte, cause error, now time.Time) DeadLetterPayload {
	return DeadLetterPayload{
		EventID:          eventID,
		OriginalTopic:    originalTopic,
		OriginalValue:    value,
		ExceptionClass:   fmt.Sprintf("%T", cause),
		ExceptionMessage: cause.Error(),
		FailedAtEpochMs:  now.UnixMilli(),
	}
}

// DeadLetterDispatcher sends failed events to the dead-letter topic, either
// inline or on its own worker goroutine. The worker is deliberately
// separate from the primary send path: a backed-up DLQ must not apply
// backpressure to live traffic.
type DeadLetterDispatcher struct {
	publisher producer.Publisher
	topic     string
	backup    BackupStrategy // optional; the async worker's next rung
	logger    *zap.SugaredLogger
	m         *metrics.Metrics

	queue chan DeadLetterPayload // nil in inline mode
}

func NewDeadLetterDispatcher(publisher producer.Publisher, topic string, async bool, backup BackupStrategy, logger *zap.SugaredLogger, m *metrics.Metrics) *DeadLetterDispatcher {
	d := &DeadLetterDispatcher{
		publisher: publisher,
		topic:     topic,
		backup:    backup,
		logger:    logger,
		m:         m,
	}
	if async {
		d.queue = make(chan DeadLetterPayload, 256)
	}
	return d
}

// Run drains the async queue; no-op in inline mode. Call in its own
// goroutine when async mode is configured.
func (d *DeadLetterDispatcher) Run(ctx context.Context) {
	if d.queue == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-d.queue:
			if err := d.send(ctx, p); err != nil {
				// async mode has no caller to fall back for; the rest of
				// the ladder runs here
				d.logger.Errorw("async dead-letter send failed",
					"event", p.EventID, "topic", d.topic, "err", err)
				backupOrLose(ctx, d.backup, p, d.logger, d.m)
			}
		}
	}
}

// Dispatch forwards the payload to the dead-letter topic. In async mode it
// only enqueues; the worker in Run owns delivery and, on failure, the
// backup and terminal-loss rungs. Inline mode returns the send error so
// the caller can fall through to backup itself.
func (d *DeadLetterDispatcher) Dispatch(ctx context.Context, p DeadLetterPayload) error {
	if d.topic == "" {
		return fmt.Errorf("dead-letter topic not configured")
	}

	if d.queue != nil {
		select {
		case d.queue <- p:
			return nil
		default:
			return fmt.Errorf("dead-letter queue full")
		}
	}

	return d.send(ctx, p)
}

func (d *DeadLetterDispatcher) send(ctx context.Context, p DeadLetterPayload) error {
	value, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal dead-letter payload: %w", err)
	}

	if err := d.publisher.Send(ctx, d.topic, p.EventID, value); err != nil {
		if d.m != nil {
			d.m.Publisher.DeadLetterTotal.WithLabelValues("failed").Inc()
		}
		return err
	}

	if d.m != nil {
		d.m.Publisher.DeadLetterTotal.WithLabelValues("sent").Inc()
	}
	d.logger.Infow("event dead-lettered", "event", p.EventID, "originalTopic", p.OriginalTopic)
	return nil
}
