package entity

import (
	"encoding/json"
	"time"

	"eventrelay/internal/apperr"
	"eventrelay/internal/application/common"

	"eventrelay/pkg/validator"
)

type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "PENDING"
	OutboxPublished OutboxStatus = "PUBLISHED"
	OutboxFailed    OutboxStatus = "FAILED"
)

// maxErrorMessageLen bounds error_message so a chatty broker error cannot
// blow up the row.
const maxErrorMessageLen = 512

// OutboxRecord is the durable unit of intent: "this event must eventually
// reach the broker". It is written in the same transaction as the business
// state change and only ever mutated by the dispatcher (or an operator
// replay).
type OutboxRecord struct {
	EventID       string          `db:"event_id" json:"eventId" validate:"required"`
	AggregateType string          `db:"aggregate_type" json:"aggregateType" validate:"required"`
	AggregateID   string          `db:"aggregate_id" json:"aggregateId" validate:"required"`
	EventType     string          `db:"event_type" json:"eventType" validate:"required"`
	Payload       json.RawMessage `db:"payload" json:"payload" validate:"required"`
	OccurredAt    time.Time       `db:"occurred_at" json:"occurredAt"`
	Status        OutboxStatus    `db:"status" json:"status"`
	RetryCount    int             `db:"retry_count" json:"retryCount"`
	PublishedAt   *time.Time      `db:"published_at" json:"publishedAt,omitempty"`
	ErrorMessage  *string         `db:"error_message" json:"errorMessage,omitempty"`
	NextRetryAt   *time.Time      `db:"next_retry_at" json:"nextRetryAt,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updatedAt"`
}

// NewOutboxRecord validates and builds a PENDING record. It fails fast: a
// record that does not pass here is never persisted.
func NewOutboxRecord(eventID, aggregateType, aggregateID, eventType string, payload []byte, occurredAt time.Time) (*OutboxRecord, error) {
	r := &OutboxRecord{
		EventID:       eventID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		OccurredAt:    occurredAt,
		Status:        OutboxPending,
	}

	if err := validator.Validate.Struct(r); err != nil {
		return nil, &apperr.ValidationError{Field: validator.FirstFailedField(err), Reason: "must not be blank"}
	}
	if occurredAt.IsZero() {
		return nil, &apperr.ValidationError{Field: "occurredAt", Reason: "must not be zero"}
	}

	// immediately eligible for the first claim
	next := occurredAt
	r.NextRetryAt = &next

	return r, nil
}

// CanPublish reports whether the record is still in flight.
func (r *OutboxRecord) CanPublish() bool {
	return r.Status == OutboxPending
}

// MarkPublished is the terminal success transition.
func (r *OutboxRecord) MarkPublished(now time.Time) {
	r.Status = OutboxPublished
	published := now
	r.PublishedAt = &published
	r.ErrorMessage = nil
	r.NextRetryAt = nil
}

// ScheduleNextRetry keeps the record PENDING, bumps the retry counter and
// pushes eligibility past the backoff window. Returns the new count.
func (r *OutboxRecord) ScheduleNextRetry(backoff time.Duration, now time.Time, reason string) int {
	r.RetryCount++
	next := now.Add(backoff)
	r.NextRetryAt = &next
	msg := common.Truncate(reason, maxErrorMessageLen)
	r.ErrorMessage = &msg
	return r.RetryCount
}

// MarkFailed is the terminal failure transition, taken instead of another
// retry once the budget is exhausted.
func (r *OutboxRecord) MarkFailed(reason string) {
	r.Status = OutboxFailed
	msg := common.Truncate(reason, maxErrorMessageLen)
	r.ErrorMessage = &msg
	r.NextRetryAt = nil
}

func (r *OutboxRecord) ExceededMaxRetries(max int) bool {
	return r.RetryCount >= max
}

// ResetForReplay is the operator escape hatch: FAILED back to PENDING with a
// fresh retry budget. It is not part of the automatic pipeline.
func (r *OutboxRecord) ResetForReplay(now time.Time) error {
	if r.Status != OutboxFailed {
		return apperr.ErrRecordNotReplayable
	}
	r.Status = OutboxPending
	r.RetryCount = 0
	r.ErrorMessage = nil
	next := now
	r.NextRetryAt = &next
	return nil
}
