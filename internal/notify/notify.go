// Package notify delivers operator alerts over the event bus.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"reconplatform/internal/common/events"
	"reconplatform/internal/settlement"
)

// EventNotifier raises operator alerts as events on the bus.
type EventNotifier struct {
	publisher events.EventPublisher
	logger    *slog.Logger
}

var _ settlement.Notifier = (*EventNotifier)(nil)

// NewEventNotifier creates a notifier publishing through the given publisher.
func NewEventNotifier(publisher events.EventPublisher, logger *slog.Logger) *EventNotifier {
	return &EventNotifier{publisher: publisher, logger: logger}
}

// PaymentReversalAlert raises an alert that a settled payment was reversed
// and needs operator review.
func (n *EventNotifier) PaymentReversalAlert(ctx context.Context, txn *settlement.Transaction, rowID string) error {
	data := events.PaymentReversalAlertData{
		TransactionID: txn.ID,
		ReferenceID:   txn.ReferenceID,
		RowID:         rowID,
		Amount:        txn.Amount.AmountMinor,
		Currency:      string(txn.Currency),
	}
	event, err := events.NewEvent(events.EventPaymentReversalAlert, txn.MerchantAccount, "transaction", txn.ID, data)
	if err != nil {
		return fmt.Errorf("building reversal alert event: %w", err)
	}
	if err := n.publisher.Publish(ctx, event); err != nil {
		return fmt.Errorf("publishing reversal alert: %w", err)
	}

	n.logger.Warn("payment reversal alert raised",
		"transaction_id", txn.ID,
		"reference_id", txn.ReferenceID,
		"row_id", rowID,
	)
	return nil
}
