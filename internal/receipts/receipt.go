// Package receipts publishes pending-send status changes to interested
// consumers.
package receipts

import (
	"context"
	"time"

	"github.com/google/uuid"

	"dmsrelay/internal/pending"
)

// RoutingPrefix prefixes every receipt routing key.
const RoutingPrefix = "dms.receipt."

// Receipt is one pending-send status change.
type Receipt struct {
	ID          string         `json:"id"`
	MessageID   string         `json:"message_id"`
	CustomerKey string         `json:"customer_key,omitempty"`
	From        pending.Status `json:"from,omitempty"`
	Status      pending.Status `json:"status"`
	Reason      string         `json:"reason,omitempty"`
	At          time.Time      `json:"at"`
}

// RoutingKey returns the topic routing key for the receipt.
func (r Receipt) RoutingKey() string {
	return RoutingPrefix + string(r.Status)
}

// FromTransition builds a receipt for a tracker transition.
func FromTransition(tr pending.Transition) Receipt {
	return Receipt{
		ID:          uuid.NewString(),
		MessageID:   tr.Entry.MessageID,
		CustomerKey: tr.Entry.CustomerKey,
		From:        tr.From,
		Status:      tr.To,
		Reason:      tr.Reason,
		At:          tr.At,
	}
}

// Publisher delivers receipts.
type Publisher interface {
	Publish(ctx context.Context, r Receipt) error
	Close() error
}

// NopPublisher discards receipts.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Receipt) error { return nil }

func (NopPublisher) Close() error { return nil }
