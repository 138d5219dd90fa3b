// Package events publishes ledger changes for downstream listeners.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Event types emitted after a ledger mutation commits.
const (
	StockEntryRecorded     = "stock_entry.recorded"
	StockEntryDeleted      = "stock_entry.deleted"
	ServiceExecuted        = "service.executed"
	ServiceDeleted         = "service.deleted"
	FinancialRecordCreated = "financial_record.created"
	FinancialRecordDeleted = "financial_record.deleted"
)

// Event describes one committed ledger change.
type Event struct {
	Type        string         `json:"type"`
	ReferenceID string         `json:"reference_id"`
	ActorID     string         `json:"actor_id,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
	Data        map[string]any `json:"data,omitempty"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// New builds an Event stamped with the current time.
func New(eventType, referenceID, actorID string, data map[string]any) Event {
	return Event{Type: eventType, ReferenceID: referenceID, ActorID: actorID, OccurredAt: time.Now().UTC(), Data: data}
}

// Encode renders the event as its wire payload.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }
