package repo

import (
	"context"
	"time"

	"eventrelay/internal/application/entity"

	"go.uber.org/zap"
)

// Transactions groups the operations that must run inside one database
// transaction: the atomic business-write + outbox-insert, and the claim
// (the SKIP LOCKED row locks live only as long as the claiming tx).
type Transactions interface {
	EnqueueWithin(ctx context.Context, rec *entity.OutboxRecord, domainWrite func(ctx context.Context) error) error
	ClaimPendingBatch(ctx context.Context, lease time.Duration, limit int) ([]entity.OutboxRecord, error)
}

type TransactionsImpl struct {
	repo   *RepoImpl
	logger *zap.SugaredLogger
}

func NewTransactions(repo *RepoImpl, logger *zap.SugaredLogger) *TransactionsImpl {
	return &TransactionsImpl{repo: repo, logger: logger}
}

// EnqueueWithin commits the caller's domain write and the outbox record in
// the same transaction. This is the whole point of the pattern: either both
// land or neither does, so an event can never exist without its state
// change (or vice versa). domainWrite may be nil for callers whose state
// already lives elsewhere.
func (t *TransactionsImpl) EnqueueWithin(ctx context.Context, rec *entity.OutboxRecord, domainWrite func(ctx context.Context) error) error {
	return t.repo.db.WithinTransaction(ctx, func(txCtx context.Context) error {
		if domainWrite != nil {
			if err := domainWrite(txCtx); err != nil {
				t.logger.Errorf("[event: %s] domain write failed: %v", rec.EventID, err)
				return err
			}
		}

		if err := t.repo.Insert(txCtx, rec); err != nil {
			t.logger.Errorf("[event: %s] insert outbox failed: %v", rec.EventID, err)
			return err
		}
		return nil
	})
}

func (t *TransactionsImpl) ClaimPendingBatch(ctx context.Context, lease time.Duration, limit int) ([]entity.OutboxRecord, error) {
	var records []entity.OutboxRecord
	err := t.repo.db.WithinTransaction(ctx, func(txCtx context.Context) error {
		var err error
		records, err = t.repo.ClaimPendingBatch(txCtx, lease, limit)
		return err
	})
	if err != nil {
		t.logger.Errorw("claim pending batch failed", "err", err)
		return nil, err
	}
	return records, nil
}
