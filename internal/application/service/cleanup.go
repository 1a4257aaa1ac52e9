package service

import (
	"context"
	"time"

	"eventrelay/internal/application/entity"
)

// RunCleanup removes PUBLISHED records older than the retention window, in
// bounded batches so a deep backlog never turns into one giant delete. It
// stops as soon as a batch comes back short.
func (d *Dispatcher) RunCleanup(ctx context.Context, retention time.Duration, batchLimit int) (int64, error) {
	before := d.now().Add(-retention)
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := d.repo.DeleteOlderThan(ctx, entity.OutboxPublished, before, batchLimit)
		if err != nil {
			return total, err
		}
		total += deleted
		if d.m != nil {
			d.m.Relay.CleanupDeletedTotal.Add(float64(deleted))
		}

		if deleted < int64(batchLimit) {
			break
		}
	}

	if total > 0 {
		d.logger.Infof("cleanup removed %d published records older than %s", total, before.Format(time.RFC3339))
	}
	return total, nil
}
