package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event represents a domain event envelope
type Event struct {
	ID              string          `json:"event_id"`
	Type            string          `json:"type"`
	Version         int             `json:"version"`
	OccurredAt      time.Time       `json:"occurred_at"`
	CorrelationID   string          `json:"correlation_id"`
	CausationID     string          `json:"causation_id,omitempty"`
	MerchantAccount string          `json:"merchant_account"`
	AggregateType   string          `json:"aggregate_type"`
	AggregateID     string          `json:"aggregate_id"`
	Data            json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType string, merchantAccount, aggregateType, aggregateID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:              ulid.Make().String(),
		Type:            eventType,
		Version:         1,
		OccurredAt:      time.Now().UTC(),
		MerchantAccount: merchantAccount,
		AggregateType:   aggregateType,
		AggregateID:     aggregateID,
		Data:            dataBytes,
	}, nil
}

// WithCorrelation adds correlation and causation IDs
func (e *Event) WithCorrelation(correlationID, causationID string) *Event {
	e.CorrelationID = correlationID
	e.CausationID = causationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// EventPublisher publishes events to a message broker
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
	PublishBatch(ctx context.Context, events []*Event) error
}

// EventHandler handles incoming events
type EventHandler interface {
	Handle(ctx context.Context, event *Event) error
	EventTypes() []string
}

// Common event types
const (
	// Report events
	EventReportReceived  = "report.received"
	EventReportProcessed = "report.processed"
	EventReportFailed    = "report.failed"

	// Reconciliation events
	EventTransactionReconciled = "reconciliation.transaction.reconciled"
	EventGroupFailed           = "reconciliation.group.failed"
	EventPaymentReversalAlert  = "reconciliation.payment_reversal.alert"

	// Ledger events
	EventLedgerAccountCreated = "ledger.account.created"
	EventLedgerBatchPosted    = "ledger.batch.posted"

	// Payout events
	EventPayoutRecorded = "payout.recorded"
)

// Event data structures

// ReportProcessedData is the data for report.processed events
type ReportProcessedData struct {
	ReportID        string `json:"report_id"`
	MerchantAccount string `json:"merchant_account"`
	Groups          int    `json:"groups"`
	Reconciled      int    `json:"reconciled"`
	Failed          int    `json:"failed"`
}

// TransactionReconciledData is the data for transaction.reconciled events
type TransactionReconciledData struct {
	TransactionID string `json:"transaction_id"`
	ReferenceID   string `json:"reference_id"`
	Type          string `json:"type"`
	Amount        int64  `json:"amount"`
	Fee           int64  `json:"fee"`
	Net           int64  `json:"net"`
	Currency      string `json:"currency"`
}

// PaymentReversalAlertData is the data for payment_reversal.alert events
type PaymentReversalAlertData struct {
	TransactionID string `json:"transaction_id"`
	ReferenceID   string `json:"reference_id"`
	RowID         string `json:"row_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
}

// LedgerBatchPostedData is the data for ledger.batch.posted events
type LedgerBatchPostedData struct {
	BatchID      string `json:"batch_id"`
	EntryCount   int    `json:"entry_count"`
	TotalDebits  int64  `json:"total_debits"`
	TotalCredits int64  `json:"total_credits"`
	Currency     string `json:"currency"`
}
