// Package settlement implements the payment-processor accounting report
// reconciliation engine: it groups settlement report rows by transfer id,
// classifies their monetary sub-amounts, and idempotently upserts ledger
// transactions backed by the double-entry ledger.
package settlement

import (
	"fmt"
	"strings"
	"time"

	"reconplatform/internal/common/money"
)

// Report column keys. The report extraction layer normalizes every row into
// a string-keyed map using these names.
const (
	ColTransferID        = "transfer_id"
	ColAccountHolder     = "account_holder"
	ColBalanceAccount    = "balance_account"
	ColAmount            = "amount"
	ColCurrency          = "currency"
	ColDescription       = "description"
	ColCategory          = "category"
	ColType              = "type"
	ColStatus            = "status"
	ColValueDate         = "value_date"
	ColBookingDate       = "booking_date"
	ColPspReference      = "psp_reference"
	ColMerchantReference = "merchant_reference"
	ColSchemeFee         = "scheme_fee"
	ColInterchange       = "interchange"
	ColMarkup            = "markup"
	ColCommission        = "commission"
)

// AccountRole tags which side of the processor ledger a row belongs to.
// The liable holder absorbs platform fees and costs; everything else is a
// merchant-side balance movement. The role is resolved once at ingestion so
// categorizers never compare raw account-holder strings.
type AccountRole string

const (
	RoleLiable   AccountRole = "liable"
	RoleMerchant AccountRole = "merchant"
)

// TxnType identifies the reconciliation strategy for a transaction group.
type TxnType string

const (
	TxnPayment            TxnType = "payment"
	TxnPaymentReversal    TxnType = "payment_reversal"
	TxnRefund             TxnType = "refund"
	TxnRefundReversal     TxnType = "refund_reversal"
	TxnChargeback         TxnType = "chargeback"
	TxnChargebackReversal TxnType = "chargeback_reversal"
	TxnTopUp              TxnType = "top_up"
	TxnTransfer           TxnType = "transfer"
	TxnPayout             TxnType = "payout"
)

// Row is one immutable settlement report line, already normalized into a
// string-keyed mapping plus the resolved account role and parsed amount.
type Row struct {
	Fields map[string]string

	Role     AccountRole
	Amount   money.Money
	Currency money.Currency
}

// NewRow builds a Row from raw report fields, resolving the account role
// against the configured liable holder and parsing the signed amount in the
// row's currency.
func NewRow(fields map[string]string, liableHolder string) (Row, error) {
	currency := money.Currency(strings.ToUpper(strings.TrimSpace(fields[ColCurrency])))
	if currency == "" {
		return Row{}, fmt.Errorf("row %s: missing currency", fields[ColTransferID])
	}

	amount, err := money.ParseMajor(fields[ColAmount], currency)
	if err != nil {
		return Row{}, fmt.Errorf("row %s: %w", fields[ColTransferID], err)
	}

	role := RoleMerchant
	if fields[ColAccountHolder] == liableHolder {
		role = RoleLiable
	}

	return Row{
		Fields:   fields,
		Role:     role,
		Amount:   amount,
		Currency: currency,
	}, nil
}

// TransferID returns the processor-assigned group identifier.
func (r Row) TransferID() string {
	return r.Fields[ColTransferID]
}

// Description returns the free-text row description.
func (r Row) Description() string {
	return r.Fields[ColDescription]
}

// Category returns the row category metadata.
func (r Row) Category() string {
	return r.Fields[ColCategory]
}

// Type returns the row type metadata.
func (r Row) Type() string {
	return r.Fields[ColType]
}

// Status returns the row status metadata.
func (r Row) Status() string {
	return r.Fields[ColStatus]
}

// PspReference returns the gateway-assigned id of the underlying payment.
func (r Row) PspReference() string {
	return r.Fields[ColPspReference]
}

// MerchantReference returns the merchant-assigned reference, if present.
func (r Row) MerchantReference() string {
	return r.Fields[ColMerchantReference]
}

// RowID renders the human-readable row identifier used in reconciliation
// errors and transaction descriptions: transfer id + category + type + status.
func (r Row) RowID() string {
	return fmt.Sprintf("%s %s/%s %s", r.TransferID(), r.Category(), r.Type(), r.Status())
}

// ValueDate parses the row's value date, falling back to the booking date.
func (r Row) ValueDate() (time.Time, bool) {
	for _, key := range []string{ColValueDate, ColBookingDate} {
		raw := strings.TrimSpace(r.Fields[key])
		if raw == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// subAmount parses an optional sub-amount column (scheme fee, interchange,
// markup, commission) in the row's currency. Blank columns are zero.
func (r Row) subAmount(key string) (money.Money, error) {
	raw := strings.TrimSpace(r.Fields[key])
	if raw == "" {
		return money.Zero(r.Currency), nil
	}
	m, err := money.ParseMajor(raw, r.Currency)
	if err != nil {
		return money.Money{}, fmt.Errorf("row %s: column %s: %w", r.TransferID(), key, err)
	}
	return m, nil
}
