// Package events carries settlement transition notifications to other systems.
package events

import (
	"context"
	"time"
)

// TransitionEvent is emitted after an order transition has been committed.
type TransitionEvent struct {
	ID                   string    `json:"id"`
	OrderID              int64     `json:"order_id"`
	OrderNo              string    `json:"order_no"`
	Operation            string    `json:"operation"`
	From                 string    `json:"from"`
	To                   string    `json:"to"`
	Version              int       `json:"version"`
	SettlementNo         string    `json:"settlement_no,omitempty"`
	PreviousSettlementNo string    `json:"previous_settlement_no,omitempty"`
	ActualReimbursement  string    `json:"actual_reimbursement,omitempty"`
	Actor                string    `json:"actor,omitempty"`
	RequestID            string    `json:"request_id,omitempty"`
	OccurredAt           time.Time `json:"occurred_at"`
}

// RoutingKey is "settlement.<operation>".
func (e TransitionEvent) RoutingKey() string {
	return "settlement." + e.Operation
}

type Publisher interface {
	Publish(ctx context.Context, e TransitionEvent) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, TransitionEvent) error { return nil }
