package settlement

import (
	"context"
	"time"

	"reconplatform/internal/common/money"
	"reconplatform/internal/payments"
)

// Transaction is the persisted ledger transaction produced by reconciling
// one transaction group. Uniqueness of (merchant_account, reference_id) is
// enforced by the store: re-processing the same reference updates in place,
// never duplicates.
type Transaction struct {
	ID                string         `json:"id"`
	MerchantAccount   string         `json:"merchant_account"`
	ReferenceID       string         `json:"reference_id"`
	Type              TxnType        `json:"type"`
	Currency          money.Currency `json:"currency"`
	Amount            money.Money    `json:"amount"`
	Fee               money.Money    `json:"fee"`
	FeeDetails        []FeeDetail    `json:"fee_details,omitempty"`
	Net               money.Money    `json:"net"`
	Description       string         `json:"description"`
	AvailableOn       *time.Time     `json:"available_on,omitempty"`
	ChargeID          *string        `json:"charge_id,omitempty"`
	RefundID          *string        `json:"refund_id,omitempty"`
	DisputeID         *string        `json:"dispute_id,omitempty"`
	PayoutID          *string        `json:"payout_id,omitempty"`
	MerchantReference string         `json:"merchant_reference,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// TransactionStore persists reconciled transactions and the operator alert
// markers used to dedupe payment reversal notifications.
type TransactionStore interface {
	// FindExact returns the transaction on (merchantAccount, referenceID)
	// whose amount and fee equal the given values, or nil when absent.
	FindExact(ctx context.Context, merchantAccount, referenceID string, amount, fee money.Money) (*Transaction, error)
	// GetByReference returns the transaction for a reference regardless of
	// its amounts, or nil when absent.
	GetByReference(ctx context.Context, merchantAccount, referenceID string) (*Transaction, error)
	Create(ctx context.Context, txn *Transaction) error
	Update(ctx context.Context, txn *Transaction) error

	HasReversalAlert(ctx context.Context, transactionID string) (bool, error)
	MarkReversalAlert(ctx context.Context, transactionID string) error
}

// PaymentRecords resolves and mutates the domain records (charges, refunds,
// disputes, payment flows) owned by the payments subsystem. Lookups report
// absence with payments.ErrNotFound.
type PaymentRecords interface {
	FindCharge(ctx context.Context, merchantAccount, gatewayID string) (*payments.Charge, error)
	// ResolveCharge locates a charge by gateway id, falling back to
	// reconciling a pending payment flow by merchant reference into a new
	// charge. Integration failures on the fallback path are treated as
	// "no charge found".
	ResolveCharge(ctx context.Context, merchantAccount, gatewayID, merchantReference string) (*payments.Charge, error)
	FindRefund(ctx context.Context, merchantAccount, gatewayID string) (*payments.Refund, error)
	FindDispute(ctx context.Context, merchantAccount, gatewayID string) (*payments.Dispute, error)
	EarliestDisputeForCharge(ctx context.Context, chargeID string) (*payments.Dispute, error)
	ReconcileDispute(ctx context.Context, params payments.ReconcileDisputeParams) (*payments.Dispute, error)
	MarkChargeFailed(ctx context.Context, chargeID string) (bool, error)
	VoidRefund(ctx context.Context, refundID string) (bool, error)
	ClearRefundedAmount(ctx context.Context, chargeID string) error
	LinkChargeTransaction(ctx context.Context, chargeID, transactionID string) error
	LinkRefundTransaction(ctx context.Context, refundID, transactionID string) error
	LinkDisputeTransaction(ctx context.Context, disputeID, transactionID string) error
}

// LedgerHandle is an opaque reference to one merchant account's double-entry
// ledger, good for balance reads during a run.
type LedgerHandle interface {
	Balance(ctx context.Context, accountCode string) (int64, error)
}

// LedgerSync is the narrow contract against the double-entry ledger: resolve
// a merchant ledger, post a reconciled transaction into it. Posting failures
// come back as *LedgerSyncError.
type LedgerSync interface {
	GetLedger(ctx context.Context, merchantAccount string, currency money.Currency) (LedgerHandle, error)
	SyncTransaction(ctx context.Context, ledger LedgerHandle, txn *Transaction) error
}

// PayoutCreator is the external payout-creation collaborator; payout groups
// are delegated to it wholesale with no transaction or ledger work here.
type PayoutCreator interface {
	CreatePayout(ctx context.Context, merchantAccount, referenceID string, amount money.Money, arrivesOn *time.Time) error
}

// Notifier delivers fire-and-forget operator alerts.
type Notifier interface {
	PaymentReversalAlert(ctx context.Context, txn *Transaction, rowID string) error
}
