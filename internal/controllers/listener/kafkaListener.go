package listener

import (
	"context"
	"time"

	use_cases "eventrelay/internal/application/use-cases"
	"eventrelay/pkg/metrics"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// DeadLetterReplayConsumer feeds dead-letter topic messages back into the
// outbox as fresh PENDING records. Running it is an operator decision
// (BROKER_REPLAY_ENABLED); the dispatcher does not depend on it.
type DeadLetterReplayConsumer struct {
	usecase use_cases.UseCaser
	logger  *zap.SugaredLogger
	m       *metrics.Metrics
}

func NewDeadLetterReplayConsumer(usecase use_cases.UseCaser, logger *zap.SugaredLogger, m *metrics.Metrics) *DeadLetterReplayConsumer {
	return &DeadLetterReplayConsumer{
		logger:  logger,
		usecase: usecase,
		m:       m,
	}
}

func (k *DeadLetterReplayConsumer) Setup(session sarama.ConsumerGroupSession) error {
	k.logger.Info("dead-letter replay consumer joined group")
	if k.m != nil {
		k.m.Kafka.ConsumerRebalancesTotal.WithLabelValues("setup").Inc()
	}
	return nil
}

func (k *DeadLetterReplayConsumer) Cleanup(session sarama.ConsumerGroupSession) error {
	k.logger.Info("dead-letter replay consumer left group")
	if k.m != nil {
		k.m.Kafka.ConsumerRebalancesTotal.WithLabelValues("cleanup").Inc()
	}
	return nil
}

func (k *DeadLetterReplayConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	topic := claim.Topic()

	for msg := range claim.Messages() {
		start := time.Now()
		k.logger.Infof("dead-letter message topic:%q partition:%d offset:%d", msg.Topic, msg.Partition, msg.Offset)

		if err := k.usecase.ReplayDeadLetter(context.Background(), msg.Value); err != nil {
			// leave the offset unmarked so the message is redelivered
			k.logger.Errorw("dead-letter replay failed, will retry on redelivery",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
			continue
		}

		if k.m != nil {
			k.m.Kafka.ConsumerMessagesTotal.WithLabelValues(topic).Inc()
			k.m.Kafka.ConsumerProcessDuration.WithLabelValues(topic).Observe(time.Since(start).Seconds())
		}

		session.MarkMessage(msg, "")
	}

	return nil
}
