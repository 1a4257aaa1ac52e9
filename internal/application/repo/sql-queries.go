package repo

// OUTBOX

const upsertRecordQuery = `
INSERT INTO outbox_record (
  event_id, aggregate_type, aggregate_id, event_type, payload, occurred_at,
  status, retry_count, published_at, error_message, next_retry_at, created_at, updated_at
) VALUES ($1, $2, $3, $4, ($5)::jsonb, $6, $7, $8, $9, $10, $11, now(), now())
ON CONFLICT (event_id) DO UPDATE SET
  status        = EXCLUDED.status,
  retry_count   = EXCLUDED.retry_count,
  published_at  = EXCLUDED.published_at,
  error_message = EXCLUDED.error_message,
  next_retry_at = EXCLUDED.next_retry_at,
  updated_at    = now()
`

const insertRecordQuery = `
INSERT INTO outbox_record (
  event_id, aggregate_type, aggregate_id, event_type, payload, occurred_at,
  status, retry_count, next_retry_at, created_at, updated_at
) VALUES ($1, $2, $3, $4, ($5)::jsonb, $6, $7, 0, $8, now(), now())
ON CONFLICT (event_id) DO NOTHING
RETURNING event_id
`

// claimPendingQuery picks the oldest eligible PENDING rows, skipping rows
// already locked by a concurrent dispatcher, and bumps next_retry_at by the
// lease so they stay invisible to other claimers after this tx commits.
const claimPendingQuery = `
WITH picked AS (
	SELECT event_id
	FROM outbox_record
	WHERE status = 'PENDING'
		AND next_retry_at <= now()
	ORDER BY occurred_at
	FOR UPDATE SKIP LOCKED
	LIMIT $2
)
UPDATE outbox_record AS o
SET next_retry_at = now() + $1::interval, updated_at = now()
FROM picked
WHERE o.event_id = picked.event_id
RETURNING o.event_id, o.aggregate_type, o.aggregate_id, o.event_type, o.payload,
  o.occurred_at, o.status, o.retry_count, o.published_at, o.error_message,
  o.next_retry_at, o.created_at, o.updated_at
`

const countByStatusQuery = `SELECT count(*) FROM outbox_record WHERE status = $1`

// deleteOlderThanQuery deletes in bounded batches so bulk retention sweeps
// never hold long locks.
const deleteOlderThanQuery = `
DELETE FROM outbox_record
WHERE event_id IN (
	SELECT event_id FROM outbox_record
	WHERE status = $1 AND occurred_at < $2
	LIMIT $3
)
`

const getRecordQuery = `
SELECT event_id, aggregate_type, aggregate_id, event_type, payload, occurred_at,
  status, retry_count, published_at, error_message, next_retry_at, created_at, updated_at
FROM outbox_record
WHERE event_id = $1
`

const replayFailedQuery = `
UPDATE outbox_record
SET status = 'PENDING', retry_count = 0, error_message = NULL,
  next_retry_at = now(), updated_at = now()
WHERE event_id = $1 AND status = 'FAILED'
`
