package entity

import (
	"encoding/json"
)

// EnqueueRequest is the HTTP body for writing an event through the outbox.
// EventID is optional; one is minted when absent. The aggregate key is
// explicit on purpose: the service never digs it out of the payload.
type EnqueueRequest struct {
	EventID       string          `json:"eventId" validate:"omitempty,max=100"`
	AggregateType string          `json:"aggregateType" validate:"required,min=1,max=100"`
	AggregateID   string          `json:"aggregateId" validate:"required,min=1,max=100"`
	EventType     string          `json:"eventType" validate:"required,min=1,max=100"`
	Payload       json.RawMessage `json:"payload" validate:"required"`
	OccurredAt    string          `json:"occurredAt" validate:"omitempty,rfc3339_optional"`
	SchemaName    string          `json:"schemaName" validate:"omitempty,max=100"`
	SchemaVersion int             `json:"schemaVersion" validate:"omitempty,min=1"`
}

// PublishRequest is the HTTP body for the direct, non-outbox publish path.
type PublishRequest struct {
	EventID string          `json:"eventId" validate:"omitempty,max=100"`
	Topic   string          `json:"topic" validate:"required,min=1,max=200"`
	Payload json.RawMessage `json:"payload" validate:"required"`
	Mode    string          `json:"mode" validate:"omitempty,oneof=sync async"`
}
