package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"eventrelay/pkg/config"

	"go.uber.org/zap"

	"github.com/IBM/sarama"
)

const (
	_replayConsumerGroup = "eventrelay-dlq-replay"
)

type KafkaBroker struct {
	Topic           string
	DeadLetterTopic string
	SyncProducer    sarama.SyncProducer
	ConsumerGroup   sarama.ConsumerGroup
	Brokers         []string
	conf            config.Kafka
	logger          *zap.SugaredLogger
}

func NewKafkaBroker(conf config.Kafka, logger *zap.SugaredLogger) (*KafkaBroker, error) {
	logger.Debugf("creating sync producer for brokers: %s", conf.Brokers)
	syncProducer, err := newSyncProducer(conf)
	if err != nil {
		logger.Errorf("sync producer setup failed: %v", err)
		return nil, fmt.Errorf("%w", err)
	}
	logger.Info("sync producer created")

	var consumerGroup sarama.ConsumerGroup
	if conf.ReplayEnabled {
		logger.Debugf("creating DLQ replay consumer group for brokers: %s", conf.Brokers)
		consumerGroup, err = newConsumerGroup(conf)
		if err != nil {
			logger.Errorf("consumer group setup failed: %v", err)
			return nil, fmt.Errorf("%w", err)
		}
		logger.Info("DLQ replay consumer group created")
	}

	brokers := strings.Split(conf.Brokers, ",")
	broker := &KafkaBroker{
		Topic:           conf.Topic,
		DeadLetterTopic: conf.DeadLetterTopic,
		SyncProducer:    syncProducer,
		ConsumerGroup:   consumerGroup,
		Brokers:         brokers,
		conf:            conf,
		logger:          logger,
	}
	logger.Infof("KafkaBroker created. Topic: %s, dead-letter topic: %s", broker.Topic, broker.DeadLetterTopic)
	return broker, nil
}

// HealthCheck verifies broker reachability with a short-lived minimal
// client. It deliberately avoids Partitions()/Describe calls, which break
// on clusters where the producer principal only holds Write ACLs.
func (kb *KafkaBroker) HealthCheck(ctx context.Context) error {
	if kb.SyncProducer == nil {
		return fmt.Errorf("kafka producer is not initialized")
	}

	cfg := sarama.NewConfig()
	cfg.Net.DialTimeout = 2 * time.Second
	cfg.Net.ReadTimeout = 2 * time.Second
	cfg.Net.WriteTimeout = 2 * time.Second
	cfg.Metadata.Timeout = 2 * time.Second
	cfg.Metadata.Retry.Max = 1
	applySASLConfig(cfg, kb.conf)

	client, err := sarama.NewClient(kb.Brokers, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to kafka brokers: %w", err)
	}
	defer client.Close()

	if len(client.Brokers()) == 0 {
		return fmt.Errorf("no kafka brokers available")
	}

	return nil
}

func applySASLConfig(cfg *sarama.Config, conf config.Kafka) {
	if conf.User != "" && conf.Password != "" {
		cfg.Net.SASL.User = conf.User
		cfg.Net.SASL.Password = conf.Password
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
	}
}

func EnableSaramaZapLogs(base *zap.SugaredLogger) {
	logger := base.Named("sarama")
	sarama.Logger = &zapSarama{logger}
	logger.Info("sarama logger initialized")
}

type zapSarama struct{ l *zap.SugaredLogger }

func (z *zapSarama) Print(v ...interface{})                 { z.l.Debug(v...) }
func (z *zapSarama) Printf(format string, v ...interface{}) { z.l.Debugf(format, v...) }
func (z *zapSarama) Println(v ...interface{})               { z.l.Debug(v...) }

func newConsumerGroup(conf config.Kafka) (sarama.ConsumerGroup, error) {
	kafkaConfig := sarama.NewConfig()
	applySASLConfig(kafkaConfig, conf)

	brokers := strings.Split(conf.Brokers, ",")

	consumer, err := sarama.NewConsumerGroup(brokers, _replayConsumerGroup, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	return consumer, nil
}

func newSyncProducer(conf config.Kafka) (sarama.SyncProducer, error) {
	kafkaConfig := sarama.NewConfig()

	kafkaConfig.Net.DialTimeout = 10 * time.Second
	kafkaConfig.Net.ReadTimeout = 15 * time.Second
	kafkaConfig.Net.WriteTimeout = 15 * time.Second
	kafkaConfig.Net.KeepAlive = 30 * time.Second

	kafkaConfig.Metadata.Timeout = 10 * time.Second
	kafkaConfig.Metadata.Retry.Max = 1
	kafkaConfig.Metadata.Retry.Backoff = 1 * time.Second
	kafkaConfig.Metadata.RefreshFrequency = 1 * time.Minute

	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Return.Successes = true
	kafkaConfig.Producer.Return.Errors = true
	// retries belong to the outbox/producer pipelines, not to sarama
	kafkaConfig.Producer.Retry.Max = 0
	kafkaConfig.Producer.Timeout = 10 * time.Second
	kafkaConfig.Producer.Partitioner = sarama.NewHashPartitioner

	applySASLConfig(kafkaConfig, conf)

	brokers := strings.Split(conf.Brokers, ",")

	producer, err := sarama.NewSyncProducer(brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka sync producer: %w", err)
	}

	return producer, nil
}
