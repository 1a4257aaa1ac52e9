package service

import (
	"context"
	"sync/atomic"
	"time"

	"eventrelay/internal/application/entity"
)

// sessionStats are per-dispatcher counters since start or last reset.
type sessionStats struct {
	published     atomic.Int64
	failed        atomic.Int64
	lastSuccessAt atomic.Int64 // unix nanos, 0 = never
}

func (s *sessionStats) recordPublished(now time.Time) {
	s.published.Add(1)
	s.lastSuccessAt.Store(now.UnixNano())
}

func (s *sessionStats) recordFailed() {
	s.failed.Add(1)
}

func (s *sessionStats) reset() {
	s.published.Store(0)
	s.failed.Store(0)
	s.lastSuccessAt.Store(0)
}

// DispatcherStats is the observability snapshot exposed over the API.
type DispatcherStats struct {
	PendingTotal   int64 `json:"pendingTotal"`
	PublishedTotal int64 `json:"publishedTotal"`
	FailedTotal    int64 `json:"failedTotal"`

	SessionPublished int64 `json:"sessionPublished"`
	SessionFailed    int64 `json:"sessionFailed"`

	BreakerState         string `json:"breakerState"`
	ConsecutiveFailures  int    `json:"consecutiveFailures"`
	SinceLastSuccessSecs int64  `json:"sinceLastSuccessSecs"` // -1 = no success yet
}

// Stats merges durable counts with session-scoped counters.
func (d *Dispatcher) Stats(ctx context.Context) (*DispatcherStats, error) {
	pending, err := d.repo.CountByStatus(ctx, entity.OutboxPending)
	if err != nil {
		return nil, err
	}
	published, err := d.repo.CountByStatus(ctx, entity.OutboxPublished)
	if err != nil {
		return nil, err
	}
	failed, err := d.repo.CountByStatus(ctx, entity.OutboxFailed)
	if err != nil {
		return nil, err
	}

	sinceLast := int64(-1)
	if ns := d.session.lastSuccessAt.Load(); ns > 0 {
		sinceLast = int64(d.now().Sub(time.Unix(0, ns)).Seconds())
	}

	return &DispatcherStats{
		PendingTotal:         pending,
		PublishedTotal:       published,
		FailedTotal:          failed,
		SessionPublished:     d.session.published.Load(),
		SessionFailed:        d.session.failed.Load(),
		BreakerState:         d.breaker.State().String(),
		ConsecutiveFailures:  d.breaker.ConsecutiveFailures(),
		SinceLastSuccessSecs: sinceLast,
	}, nil
}

// ResetStats clears session counters and force-closes the breaker. This is
// an operator tool, not part of automatic recovery.
func (d *Dispatcher) ResetStats() {
	d.session.reset()
	d.breaker.ForceClose()
	d.logger.Infow("dispatcher stats reset, breaker forced closed")
}
