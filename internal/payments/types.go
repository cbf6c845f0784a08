// Package payments owns the domain records the reconciliation engine links
// ledger transactions to: charges, refunds, disputes, payment flows, and
// payouts. The engine only reads and links these records; lifecycle beyond
// reconciliation-triggered status transitions belongs elsewhere.
package payments

import (
	"errors"
	"time"

	"reconplatform/internal/common/money"
)

// ErrNotFound reports a domain record lookup miss.
var ErrNotFound = errors.New("payment record not found")

// SourceType identifies the payment instrument behind a charge.
type SourceType string

const (
	SourceCard        SourceType = "card"
	SourceBankAccount SourceType = "bank_account"
)

// ChargeStatus represents the lifecycle state of a charge.
type ChargeStatus string

const (
	ChargePending   ChargeStatus = "pending"
	ChargeSucceeded ChargeStatus = "succeeded"
	ChargeFailed    ChargeStatus = "failed"
)

// Charge is a captured payment as the platform sees it.
type Charge struct {
	ID                string       `json:"id"`
	MerchantAccount   string       `json:"merchant_account"`
	GatewayID         string       `json:"gateway_id"`
	MerchantReference string       `json:"merchant_reference,omitempty"`
	SourceType        SourceType   `json:"source_type"`
	Status            ChargeStatus `json:"status"`
	Amount            money.Money  `json:"amount"`
	RefundedMinor     int64        `json:"refunded_minor"`
	TransactionID     *string      `json:"transaction_id,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// RefundStatus represents the lifecycle state of a refund.
type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundSucceeded RefundStatus = "succeeded"
	RefundVoided    RefundStatus = "voided"
)

// Refund is a full or partial return of a charge.
type Refund struct {
	ID              string       `json:"id"`
	ChargeID        string       `json:"charge_id"`
	MerchantAccount string       `json:"merchant_account"`
	GatewayID       string       `json:"gateway_id"`
	Status          RefundStatus `json:"status"`
	Amount          money.Money  `json:"amount"`
	TransactionID   *string      `json:"transaction_id,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// DisputeStatus represents the lifecycle state of a dispute.
type DisputeStatus string

const (
	DisputeOpen     DisputeStatus = "open"
	DisputeWon      DisputeStatus = "won"
	DisputeLost     DisputeStatus = "lost"
	DisputeReversed DisputeStatus = "reversed"
)

// Dispute is a chargeback raised against a charge.
type Dispute struct {
	ID              string        `json:"id"`
	MerchantAccount string        `json:"merchant_account"`
	ChargeID        *string       `json:"charge_id,omitempty"`
	GatewayID       string        `json:"gateway_id"`
	Status          DisputeStatus `json:"status"`
	Amount          money.Money   `json:"amount"`
	Reason          string        `json:"reason,omitempty"`
	TransactionID   *string       `json:"transaction_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// FlowStatus represents the lifecycle state of a payment flow.
type FlowStatus string

const (
	FlowPending    FlowStatus = "pending"
	FlowReconciled FlowStatus = "reconciled"
)

// PaymentFlow is an in-progress payment that has not yet materialized into a
// charge. Settlement rows that arrive before the charge does are reconciled
// against the pending flow.
type PaymentFlow struct {
	ID                string      `json:"id"`
	MerchantAccount   string      `json:"merchant_account"`
	MerchantReference string      `json:"merchant_reference"`
	Status            FlowStatus  `json:"status"`
	SourceType        SourceType  `json:"source_type"`
	Amount            money.Money `json:"amount"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// Payout is a processor-initiated transfer of settled funds to the merchant
// bank account.
type Payout struct {
	ID              string      `json:"id"`
	MerchantAccount string      `json:"merchant_account"`
	ReferenceID     string      `json:"reference_id"`
	Amount          money.Money `json:"amount"`
	Status          string      `json:"status"`
	ArrivesOn       *time.Time  `json:"arrives_on,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// ReconcileDisputeParams carries the row metadata a chargeback group
// resolves a dispute from.
type ReconcileDisputeParams struct {
	MerchantAccount string
	GatewayID       string
	ChargeID        *string
	Status          DisputeStatus
	Amount          money.Money
	Reason          string
}
