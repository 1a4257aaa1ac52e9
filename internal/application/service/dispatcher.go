package service

import (
	"context"
	"sync"
	"time"

	"eventrelay/internal/application/common"
	"eventrelay/internal/application/entity"
	"eventrelay/internal/application/repo"
	"eventrelay/internal/transport/producer"
	"eventrelay/pkg/config"
	"eventrelay/pkg/metrics"

	"go.uber.org/zap"
)

// Dispatcher is the polling engine: claim PENDING records, publish them,
// apply retry/backoff, and protect itself with a circuit breaker when the
// broker is down. Correctness across instances comes entirely from the
// store's claim guarantee; the dispatcher keeps no cross-instance state.
type Dispatcher struct {
	repo      repo.Repo
	tx        repo.Transactions
	publisher producer.Publisher
	logger    *zap.SugaredLogger
	cfg       *config.Dispatcher
	m         *metrics.Metrics

	breaker *CircuitBreaker
	session sessionStats
	now     func() time.Time
}

func NewDispatcher(repo repo.Repo, tx repo.Transactions, publisher producer.Publisher, logger *zap.SugaredLogger, cfg *config.Dispatcher, m *metrics.Metrics) *Dispatcher {
	d := &Dispatcher{
		repo:      repo,
		tx:        tx,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		m:         m,
		breaker:   NewCircuitBreaker(cfg.Breaker.Enabled, cfg.Breaker.FailureThreshold, cfg.Breaker.OpenDuration),
		now:       time.Now,
	}
	if m != nil {
		d.breaker.OnOpen(func() {
			m.Relay.BreakerOpensTotal.Inc()
		})
	}
	return d
}

// Run blocks until ctx is cancelled. Workers drain in-flight records before
// Run returns, so shutdown never abandons a claimed batch mid-send.
func (d *Dispatcher) Run(ctx context.Context, topic string) {
	d.logger.Infow("dispatcher started",
		"workers", d.cfg.Workers, "batch", d.cfg.BatchSize, "lease", d.cfg.Lease.String())

	jobs := make(chan entity.OutboxRecord, d.cfg.BatchSize*2)

	// workers run on a detached context so records already claimed still
	// finish their bounded send after shutdown begins
	procCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.worker(procCtx, id, topic, jobs)
		}(i)
	}

	ticker := time.NewTicker(d.cfg.PollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Infow("dispatcher stopping")
			close(jobs)
			wg.Wait()
			return
		case <-ticker.C:
			d.pollOnce(ctx, jobs)
		}
	}
}

// pollOnce is one cycle: breaker gate, effective batch size, claim, fan out.
func (d *Dispatcher) pollOnce(ctx context.Context, jobs chan<- entity.OutboxRecord) {
	d.observeBreakerState()

	if !d.breaker.AllowRequest() {
		d.logger.Debugw("poll skipped, breaker open")
		return
	}

	limit := d.effectiveBatchSize(ctx)

	records, err := d.tx.ClaimPendingBatch(ctx, d.cfg.Lease, limit)
	if err != nil {
		// infra failure of the cycle itself: abort this cycle only
		d.logger.Errorw("claim pending batch failed", "err", err)
		d.breaker.RecordFailure()
		if d.m != nil {
			d.m.Relay.DispatchTotal.WithLabelValues("claim_error").Inc()
		}
		return
	}

	if d.m != nil {
		d.m.Relay.ClaimedBatchSize.Observe(float64(len(records)))
	}
	d.logger.Debugf("claimed %d records (limit %d)", len(records), limit)

	if len(records) == 0 {
		// an empty backlog says nothing about the broker; the half-open
		// probe slot must not be spent on it
		d.breaker.ProbeInconclusive()
		return
	}

	for _, rec := range records {
		select {
		case jobs <- rec:
		case <-ctx.Done():
			return
		}
	}
}

// effectiveBatchSize widens the batch under backlog pressure and shrinks it
// when the queue is nearly drained. Thresholds come from config.
func (d *Dispatcher) effectiveBatchSize(ctx context.Context) int {
	if !d.cfg.DynamicBatch {
		return d.cfg.BatchSize
	}

	pending, err := d.repo.CountByStatus(ctx, entity.OutboxPending)
	if err != nil {
		d.logger.Warnw("pending count failed, using base batch size", "err", err)
		return d.cfg.BatchSize
	}
	if d.m != nil {
		d.m.Relay.PendingRecords.Set(float64(pending))
	}

	switch {
	case pending > d.cfg.HighWatermark:
		size := d.cfg.BatchSize * 2
		if size > d.cfg.MaxBatchSize {
			size = d.cfg.MaxBatchSize
		}
		return size
	case pending < d.cfg.LowWatermark:
		size := d.cfg.BatchSize / 2
		if size < 1 {
			size = 1
		}
		return size
	default:
		return d.cfg.BatchSize
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int, topic string, jobs <-chan entity.OutboxRecord) {
	d.logger.Infow("worker started", "id", id)
	for rec := range jobs {
		d.ProcessOne(ctx, id, topic, rec)
	}
	d.logger.Infow("worker stopping", "id", id)
}

// ProcessOne handles a single claimed record. A failure here never touches
// sibling records; it is caught, persisted on the record and counted.
func (d *Dispatcher) ProcessOne(ctx context.Context, wid int, topic string, rec entity.OutboxRecord) {
	d.logger.Debugf("[event %s] dispatch started, workerID: %d", rec.EventID, wid)

	if !rec.CanPublish() {
		d.logger.Warnf("[event %s] claimed in status %s, skipping", rec.EventID, rec.Status)
		return
	}

	start := d.now()
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	err := d.publisher.Send(sendCtx, topic, rec.AggregateID, rec.Payload)
	cancel()

	if err != nil {
		d.handleSendFailure(ctx, &rec, err)
		return
	}

	rec.MarkPublished(d.now())
	if err := d.repo.Save(ctx, &rec); err != nil {
		// message reached the broker but the save-back failed; the record
		// stays claimed until its lease expires, then gets re-published.
		// At-least-once means this is a duplicate, not a loss.
		d.logger.Errorf("[event %s] save after publish failed: %v", rec.EventID, err)
		d.breaker.RecordFailure()
		return
	}

	d.breaker.RecordSuccess()
	d.session.recordPublished(d.now())
	d.observe("published", start)
	d.logger.Infof("[event %s] published", rec.EventID)
}

func (d *Dispatcher) handleSendFailure(ctx context.Context, rec *entity.OutboxRecord, sendErr error) {
	start := d.now()
	d.logger.Errorf("[event %s] send failed (retry %d): %v", rec.EventID, rec.RetryCount, sendErr)

	if rec.RetryCount+1 >= d.cfg.MaxRetries {
		rec.MarkFailed(sendErr.Error())
		if err := d.repo.Save(ctx, rec); err != nil {
			d.logger.Errorf("[event %s] save FAILED state failed: %v", rec.EventID, err)
		}
		d.session.recordFailed()
		d.observe("failed", start)
		d.logger.Errorw("record exhausted retries, marked FAILED",
			"event", rec.EventID, "retries", rec.RetryCount+1)
	} else {
		backoff := common.BackoffExponential(d.cfg.BaseRetryDelay, rec.RetryCount, d.cfg.MaxRetryDelay)
		rec.ScheduleNextRetry(backoff, d.now(), sendErr.Error())
		if err := d.repo.Save(ctx, rec); err != nil {
			d.logger.Errorf("[event %s] save retry state failed: %v", rec.EventID, err)
		}
		d.observe("retried", start)
	}

	d.breaker.RecordFailure()
}

func (d *Dispatcher) observe(result string, start time.Time) {
	if d.m == nil {
		return
	}
	d.m.Relay.DispatchTotal.WithLabelValues(result).Inc()
	d.m.Relay.DispatchDuration.WithLabelValues(result).Observe(d.now().Sub(start).Seconds())
}

func (d *Dispatcher) observeBreakerState() {
	if d.m == nil {
		return
	}
	switch d.breaker.State() {
	case BreakerOpen:
		d.m.Relay.BreakerState.Set(1)
	case BreakerHalfOpen:
		d.m.Relay.BreakerState.Set(2)
	default:
		d.m.Relay.BreakerState.Set(0)
	}
}
