package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eventrelay/internal/apperr"
	"eventrelay/internal/application/common"
	"eventrelay/internal/application/entity"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Insert writes a fresh PENDING record; a second insert with the same
// event_id is reported as a conflict instead of silently overwriting.
func (r *RepoImpl) Insert(ctx context.Context, rec *entity.OutboxRecord) error {
	r.logger.Debugf("[event: %s] Insert outbox record started", rec.EventID)

	var insertedID string
	err := r.db.QueryRow(ctx, insertRecordQuery,
		rec.EventID, rec.AggregateType, rec.AggregateID, rec.EventType,
		[]byte(rec.Payload), rec.OccurredAt, string(rec.Status), rec.NextRetryAt,
	).Scan(&insertedID)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		// ON CONFLICT DO NOTHING returned no row
		r.logger.Warnf("[event: %s] insert: already exists (conflict)", rec.EventID)
		return apperr.ErrRecordAlreadyExists
	case isDuplicateKeyError(err):
		r.logger.Warnf("[event: %s] insert: already exists (duplicate key)", rec.EventID)
		return apperr.ErrRecordAlreadyExists
	default:
		return fmt.Errorf("insert outbox record: %w", err)
	}
}

// Save upserts the full record state keyed by event_id. This is the
// save-back at the end of one processing attempt; the claim lock is
// released when the surrounding tx (or implicit tx) commits.
func (r *RepoImpl) Save(ctx context.Context, rec *entity.OutboxRecord) error {
	_, err := r.db.Exec(ctx, upsertRecordQuery,
		rec.EventID, rec.AggregateType, rec.AggregateID, rec.EventType,
		[]byte(rec.Payload), rec.OccurredAt, string(rec.Status), rec.RetryCount,
		rec.PublishedAt, rec.ErrorMessage, rec.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("save outbox record: %w", err)
	}
	return nil
}

func (r *RepoImpl) ClaimPendingBatch(ctx context.Context, lease time.Duration, limit int) ([]entity.OutboxRecord, error) {
	r.logger.Debugf("[lease: %s, limit: %d] ClaimPendingBatch started", lease, limit)

	rows, err := r.db.Query(ctx, claimPendingQuery, common.PgInterval(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending batch: %w", err)
	}
	defer rows.Close()

	var res []entity.OutboxRecord
	for rows.Next() {
		var rec entity.OutboxRecord
		if err := scanRecord(rows, &rec); err != nil {
			return nil, fmt.Errorf("scan claimed record: %w", err)
		}
		res = append(res, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim rows err: %w", err)
	}

	return res, nil
}

func (r *RepoImpl) CountByStatus(ctx context.Context, status entity.OutboxStatus) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, countByStatusQuery, string(status)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count by status %s: %w", status, err)
	}
	return n, nil
}

func (r *RepoImpl) DeleteOlderThan(ctx context.Context, status entity.OutboxStatus, before time.Time, batchLimit int) (int64, error) {
	tag, err := r.db.Exec(ctx, deleteOlderThanQuery, string(status), before, batchLimit)
	if err != nil {
		return 0, fmt.Errorf("delete older than: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *RepoImpl) Get(ctx context.Context, eventID string) (*entity.OutboxRecord, error) {
	var rec entity.OutboxRecord
	err := scanRecord(r.db.QueryRow(ctx, getRecordQuery, eventID), &rec)
	switch {
	case err == nil:
		return &rec, nil
	case errors.Is(err, pgx.ErrNoRows):
		return nil, apperr.ErrRecordNotFound
	default:
		return nil, fmt.Errorf("get outbox record: %w", err)
	}
}

// ReplayFailed is the operator path: FAILED back to PENDING with a fresh
// retry budget, immediately eligible for the next claim.
func (r *RepoImpl) ReplayFailed(ctx context.Context, eventID string) error {
	tag, err := r.db.Exec(ctx, replayFailedQuery, eventID)
	if err != nil {
		return fmt.Errorf("replay outbox record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// either missing or not FAILED; distinguish for the caller
		if _, err := r.Get(ctx, eventID); err != nil {
			return err
		}
		return apperr.ErrRecordNotReplayable
	}
	return nil
}

// isDuplicateKeyError reports SQLSTATE 23505.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
