package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Kafka     KafkaMetrics
	API       APIMetrics
	Relay     RelayMetrics
	Publisher PublisherMetrics
}

type KafkaMetrics struct {
	// Producer
	ProducerAttemptLatencySeconds *prometheus.HistogramVec
	ProducerOperationsTotal       *prometheus.CounterVec
	ProducerRetriesTotal          *prometheus.CounterVec
	ProducerSuccessAttempts       *prometheus.HistogramVec

	// DLQ replay consumer
	ConsumerMessagesTotal   *prometheus.CounterVec
	ConsumerProcessDuration *prometheus.HistogramVec
	ConsumerRebalancesTotal *prometheus.CounterVec
}

type APIMetrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

type RelayMetrics struct {
	DispatchTotal       *prometheus.CounterVec // published|retried|failed|claim_error
	DispatchDuration    *prometheus.HistogramVec
	ClaimedBatchSize    prometheus.Histogram
	PendingRecords      prometheus.Gauge
	BreakerState        prometheus.Gauge // 0 closed, 1 open, 2 half-open
	BreakerOpensTotal   prometheus.Counter
	CleanupDeletedTotal prometheus.Counter
}

type PublisherMetrics struct {
	SendTotal          *prometheus.CounterVec // success|serialization_error|failed|canceled
	DeadLetterTotal    *prometheus.CounterVec // sent|failed
	BackupTotal        *prometheus.CounterVec // stored|failed
	EventsLostTotal    prometheus.Counter
	AsyncInFlight      prometheus.Gauge
	AsyncTimeoutsTotal prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Kafka: KafkaMetrics{
			ProducerAttemptLatencySeconds: f.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "eventrelay",
				Subsystem: "kafka",
				Name:      "producer_attempt_latency_seconds",
				Help:      "Latency per single produce attempt.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"topic", "result"}), // ok|error

			ProducerOperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: "eventrelay",
				Subsystem: "kafka",
				Name:      "producer_operations_total",
				Help:      "Total produce operations (one call) by result.",
			}, []string{"topic", "result"}), // success|failed|permanent|canceled

			ProducerRetriesTotal: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: "eventrelay",
				Subsystem: "kafka",
				Name:      "producer_retries_total",
				Help:      "Retryable produce attempt failures by classified reason.",
			}, []string{"topic", "reason"}),

			ProducerSuccessAttempts: f.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "eventrelay",
				Subsystem: "kafka",
				Name:      "producer_success_attempts",
				Help:      "Attempt number on which produce operation succeeded.",
				Buckets:   []float64{1, 2, 3, 4, 5},
			}, []string{"topic"}),

			ConsumerMessagesTotal: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: "eventrelay",
				Subsystem: "kafka",
				Name:      "consumer_messages_total",
				Help:      "Total consumed dead-letter messages by topic.",
			}, []string{"topic"}),

			ConsumerProcessDuration: f.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "eventrelay",
				Subsystem: "kafka",
				Name:      "consumer_process_duration_seconds",
				Help:      "Dead-letter message processing duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"topic"}),

			ConsumerRebalancesTotal: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: "eventrelay",
				Subsystem: "kafka",
				Name:      "consumer_rebalances_total",
				Help:      "Consumer rebalance lifecycle events.",
			}, []string{"event"}),
		},

		API: APIMetrics{
			HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: "eventrelay",
				Subsystem: "api",
				Name:      "http_requests_total",
				Help:      "Total HTTP requests by method, path and status.",
			}, []string{"method", "path", "status"}),

			HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "eventrelay",
				Subsystem: "api",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency.",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			}, []string{"method", "path", "status"}),
		},

		Relay: RelayMetrics{
			DispatchTotal: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: "eventrelay",
				Subsystem: "relay",
				Name:      "dispatch_total",
				Help:      "Outbox record dispatch outcomes.",
			}, []string{"result"}), // published|retried|failed|claim_error

			DispatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "eventrelay",
				Subsystem: "relay",
				Name:      "dispatch_duration_seconds",
				Help:      "Per-record processing duration.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"result"}),

			ClaimedBatchSize: f.NewHistogram(prometheus.HistogramOpts{
				Namespace: "eventrelay",
				Subsystem: "relay",
				Name:      "claimed_batch_size",
				Help:      "Records claimed per poll cycle.",
				Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 200, 400},
			}),

			PendingRecords: f.NewGauge(prometheus.GaugeOpts{
				Namespace: "eventrelay",
				Subsystem: "relay",
				Name:      "pending_records",
				Help:      "PENDING records observed at the last poll cycle.",
			}),

			BreakerState: f.NewGauge(prometheus.GaugeOpts{
				Namespace: "eventrelay",
				Subsystem: "relay",
				Name:      "breaker_state",
				Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
			}),

			BreakerOpensTotal: f.NewCounter(prometheus.CounterOpts{
				Namespace: "eventrelay",
				Subsystem: "relay",
				Name:      "breaker_opens_total",
				Help:      "Times the circuit breaker transitioned to open.",
			}),

			CleanupDeletedTotal: f.NewCounter(prometheus.CounterOpts{
				Namespace: "eventrelay",
				Subsystem: "relay",
				Name:      "cleanup_deleted_total",
				Help:      "Published records removed by retention cleanup.",
			}),
		},

		Publisher: PublisherMetrics{
			SendTotal: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: "eventrelay",
				Subsystem: "publisher",
				Name:      "send_total",
				Help:      "Direct publish outcomes.",
			}, []string{"mode", "result"}), // sync|async x success|serialization_error|failed|canceled

			DeadLetterTotal: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: "eventrelay",
				Subsystem: "publisher",
				Name:      "dead_letter_total",
				Help:      "Dead-letter dispatch outcomes.",
			}, []string{"result"}), // sent|failed

			BackupTotal: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: "eventrelay",
				Subsystem: "publisher",
				Name:      "backup_total",
				Help:      "Backup strategy outcomes.",
			}, []string{"result"}), // stored|failed

			EventsLostTotal: f.NewCounter(prometheus.CounterOpts{
				Namespace: "eventrelay",
				Subsystem: "publisher",
				Name:      "events_lost_total",
				Help:      "Events lost after every fallback failed. Should stay at zero.",
			}),

			AsyncInFlight: f.NewGauge(prometheus.GaugeOpts{
				Namespace: "eventrelay",
				Subsystem: "publisher",
				Name:      "async_inflight",
				Help:      "Async sends currently awaiting completion.",
			}),

			AsyncTimeoutsTotal: f.NewCounter(prometheus.CounterOpts{
				Namespace: "eventrelay",
				Subsystem: "publisher",
				Name:      "async_timeouts_total",
				Help:      "Async completions that exceeded the completion timeout.",
			}),
		},
	}
}
