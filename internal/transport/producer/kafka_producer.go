package producer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"eventrelay/internal/apperr"
	"eventrelay/internal/application/common"
	"eventrelay/pkg/broker"
	"eventrelay/pkg/metrics"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// Publisher is the broker send port. One call is one bounded-wait publish
// attempt pipeline; the caller decides what a failure means.
type Publisher interface {
	Send(ctx context.Context, topic, key string, value []byte) error
	HealthCheck(ctx context.Context) error
}

type KafkaPublisher struct {
	broker      *broker.KafkaBroker
	logger      *zap.SugaredLogger
	maxAttempts int
	m           *metrics.Metrics
}

// NewPublisher builds a sarama-backed Publisher. maxAttempts is the
// in-call retry budget: the outbox dispatcher wires 1 (its retries are
// record-level), the direct producer may wire more.
func NewPublisher(broker *broker.KafkaBroker, logger *zap.SugaredLogger, maxAttempts int, m *metrics.Metrics) *KafkaPublisher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &KafkaPublisher{
		broker:      broker,
		logger:      logger,
		maxAttempts: maxAttempts,
		m:           m,
	}
}

func (p *KafkaPublisher) HealthCheck(ctx context.Context) error {
	if p.broker == nil {
		return errors.New("kafka broker is not initialized")
	}
	return p.broker.HealthCheck(ctx)
}

func (p *KafkaPublisher) Send(ctx context.Context, topic, key string, value []byte) error {
	var lastErr error

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg := &sarama.ProducerMessage{
			Topic:     topic,
			Key:       sarama.StringEncoder(key),
			Value:     sarama.ByteEncoder(value),
			Timestamp: time.Now(),
		}

		t0 := time.Now()
		part, off, err := p.broker.SyncProducer.SendMessage(msg)
		rt := time.Since(t0)

		if p.m != nil {
			res := "ok"
			if err != nil {
				res = "error"
			}
			p.m.Kafka.ProducerAttemptLatencySeconds.WithLabelValues(topic, res).Observe(rt.Seconds())
		}

		if err == nil {
			if p.m != nil {
				p.m.Kafka.ProducerOperationsTotal.WithLabelValues(topic, "success").Inc()
				p.m.Kafka.ProducerSuccessAttempts.WithLabelValues(topic).Observe(float64(attempt))
			}
			p.logger.Debugf("[key %s] sent topic=%s partition=%d offset=%d attempt=%d rt=%s",
				key, topic, part, off, attempt, rt)
			return nil
		}

		lastErr = err

		if kerr, ok := err.(sarama.KError); ok && isPermanent(kerr) {
			if p.m != nil {
				p.m.Kafka.ProducerOperationsTotal.WithLabelValues(topic, "permanent").Inc()
			}
			p.logger.Errorf("[key %s] permanent kafka error attempt=%d rt=%s kafka_error=%s code=%d",
				key, attempt, rt, kerr.Error(), int16(kerr))
			return fmt.Errorf("permanent kafka error: %w", kerr)
		}

		reason := ClassifyRetry(err)
		if p.m != nil {
			p.m.Kafka.ProducerRetriesTotal.WithLabelValues(topic, reason).Inc()
		}
		p.logger.Warnf("[key %s] retryable error attempt=%d rt=%s reason=%s err=%v",
			key, attempt, rt, reason, err)

		if attempt == p.maxAttempts {
			break
		}

		if err := common.SleepCtx(ctx, common.NextBackoffWithJitter(attempt-1)); err != nil {
			if p.m != nil {
				p.m.Kafka.ProducerOperationsTotal.WithLabelValues(topic, "canceled").Inc()
			}
			return err
		}
	}

	p.logger.Errorf("[key %s] produce failed after %d attempts: %v", key, p.maxAttempts, lastErr)
	return &apperr.PublishError{Topic: topic, Err: fmt.Errorf("after %d attempts: %w", p.maxAttempts, lastErr)}
}

func isPermanent(k sarama.KError) bool {
	switch k {
	case sarama.ErrTopicAuthorizationFailed,
		sarama.ErrClusterAuthorizationFailed,
		sarama.ErrInvalidRequest,
		sarama.ErrInvalidMessage,
		sarama.ErrMessageSizeTooLarge,
		sarama.ErrSASLAuthenticationFailed:
		return true
	default:
		return false
	}
}

// ClassifyRetry buckets transient errors for metrics labels.
func ClassifyRetry(err error) string {
	if k, ok := err.(sarama.KError); ok {
		switch k {
		case sarama.ErrLeaderNotAvailable:
			return "leader_not_available"
		case sarama.ErrRequestTimedOut:
			return "broker_timeout"
		case sarama.ErrNotEnoughReplicas, sarama.ErrNotEnoughReplicasAfterAppend:
			return "not_enough_replicas"
		default:
			return k.Error()
		}
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return "net_timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "client_deadline"
	}
	return "other"
}
