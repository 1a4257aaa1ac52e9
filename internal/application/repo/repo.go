package repo

import (
	"context"
	"fmt"
	"time"

	"eventrelay/internal/application/entity"
	"eventrelay/pkg/db"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Repo is the durable-store contract the dispatcher runs against. The one
// property everything hangs on: ClaimPendingBatch never hands the same
// record to two concurrent callers.
type Repo interface {
	Insert(ctx context.Context, r *entity.OutboxRecord) error
	Save(ctx context.Context, r *entity.OutboxRecord) error
	ClaimPendingBatch(ctx context.Context, lease time.Duration, limit int) ([]entity.OutboxRecord, error)
	CountByStatus(ctx context.Context, status entity.OutboxStatus) (int64, error)
	DeleteOlderThan(ctx context.Context, status entity.OutboxStatus, before time.Time, batchLimit int) (int64, error)
	Get(ctx context.Context, eventID string) (*entity.OutboxRecord, error)
	ReplayFailed(ctx context.Context, eventID string) error

	HealthCheck(ctx context.Context) error
}

type RepoImpl struct {
	db     db.DB
	logger *zap.SugaredLogger
}

func NewRepo(db db.DB, logger *zap.SugaredLogger) *RepoImpl {
	return &RepoImpl{db: db, logger: logger}
}

func (r *RepoImpl) HealthCheck(ctx context.Context) error {
	var result int
	err := r.db.QueryRow(ctx, "SELECT 1").Scan(&result)
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func scanRecord(row pgx.Row, rec *entity.OutboxRecord) error {
	var status string
	if err := row.Scan(
		&rec.EventID, &rec.AggregateType, &rec.AggregateID, &rec.EventType,
		&rec.Payload, &rec.OccurredAt, &status, &rec.RetryCount,
		&rec.PublishedAt, &rec.ErrorMessage, &rec.NextRetryAt,
		&rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return err
	}
	rec.Status = entity.OutboxStatus(status)
	return nil
}
