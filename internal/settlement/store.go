package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"reconplatform/internal/common/database"
	"reconplatform/internal/common/money"
)

// PgStore persists reconciled transactions and reversal alert markers. It
// runs against any Querier so a whole report run can share one transaction.
type PgStore struct {
	q database.Querier
}

// NewPgStore creates a transaction store over the given querier.
func NewPgStore(q database.Querier) *PgStore {
	return &PgStore{q: q}
}

var _ TransactionStore = (*PgStore)(nil)

const txnColumns = `
	id, merchant_account, reference_id, txn_type, currency,
	amount_minor, fee_minor, net_minor, fee_details,
	description, available_on,
	charge_id, refund_id, dispute_id, payout_id, merchant_reference,
	created_at, updated_at`

// FindExact returns the transaction matching reference and amounts, or nil.
func (s *PgStore) FindExact(ctx context.Context, merchantAccount, referenceID string, amount, fee money.Money) (*Transaction, error) {
	query := `SELECT` + txnColumns + `
		FROM settlement_transactions
		WHERE merchant_account = $1 AND reference_id = $2
		  AND amount_minor = $3 AND fee_minor = $4`

	txn, err := s.scanTxn(s.q.QueryRow(ctx, query, merchantAccount, referenceID, amount.AmountMinor, fee.AmountMinor))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding exact transaction: %w", err)
	}
	return txn, nil
}

// GetByReference returns the transaction for a reference, or nil.
func (s *PgStore) GetByReference(ctx context.Context, merchantAccount, referenceID string) (*Transaction, error) {
	query := `SELECT` + txnColumns + `
		FROM settlement_transactions
		WHERE merchant_account = $1 AND reference_id = $2`

	txn, err := s.scanTxn(s.q.QueryRow(ctx, query, merchantAccount, referenceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting transaction by reference: %w", err)
	}
	return txn, nil
}

// Create inserts a new transaction.
func (s *PgStore) Create(ctx context.Context, txn *Transaction) error {
	query := `
		INSERT INTO settlement_transactions (
			id, merchant_account, reference_id, txn_type, currency,
			amount_minor, fee_minor, net_minor, fee_details,
			description, available_on,
			charge_id, refund_id, dispute_id, payout_id, merchant_reference,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	feeDetails, err := marshalFeeDetails(txn.FeeDetails)
	if err != nil {
		return err
	}

	_, err = s.q.Exec(ctx, query,
		txn.ID, txn.MerchantAccount, txn.ReferenceID, txn.Type, txn.Currency,
		txn.Amount.AmountMinor, txn.Fee.AmountMinor, txn.Net.AmountMinor, feeDetails,
		txn.Description, txn.AvailableOn,
		txn.ChargeID, txn.RefundID, txn.DisputeID, txn.PayoutID,
		nullableString(txn.MerchantReference),
		txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("transaction %s/%s: %w", txn.MerchantAccount, txn.ReferenceID, database.ErrAlreadyExists)
		}
		return fmt.Errorf("creating transaction: %w", err)
	}
	return nil
}

// Update rewrites a transaction's amounts and links in place.
func (s *PgStore) Update(ctx context.Context, txn *Transaction) error {
	query := `
		UPDATE settlement_transactions SET
			txn_type = $3, currency = $4,
			amount_minor = $5, fee_minor = $6, net_minor = $7, fee_details = $8,
			description = $9, available_on = $10,
			charge_id = $11, refund_id = $12, dispute_id = $13, payout_id = $14,
			merchant_reference = $15, updated_at = $16
		WHERE merchant_account = $1 AND reference_id = $2`

	feeDetails, err := marshalFeeDetails(txn.FeeDetails)
	if err != nil {
		return err
	}

	tag, err := s.q.Exec(ctx, query,
		txn.MerchantAccount, txn.ReferenceID,
		txn.Type, txn.Currency,
		txn.Amount.AmountMinor, txn.Fee.AmountMinor, txn.Net.AmountMinor, feeDetails,
		txn.Description, txn.AvailableOn,
		txn.ChargeID, txn.RefundID, txn.DisputeID, txn.PayoutID,
		nullableString(txn.MerchantReference),
		txn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s/%s: %w", txn.MerchantAccount, txn.ReferenceID, database.ErrNotFound)
	}
	return nil
}

// ListByMerchant returns recent transactions for a merchant account, newest
// first.
func (s *PgStore) ListByMerchant(ctx context.Context, merchantAccount string, limit int) ([]*Transaction, error) {
	query := `SELECT` + txnColumns + `
		FROM settlement_transactions
		WHERE merchant_account = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.q.Query(ctx, query, merchantAccount, limit)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var txns []*Transaction
	for rows.Next() {
		txn, err := s.scanTxn(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// HasReversalAlert reports whether a reversal alert was already delivered
// for a transaction.
func (s *PgStore) HasReversalAlert(ctx context.Context, transactionID string) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM reversal_alerts WHERE transaction_id = $1)`,
		transactionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking reversal alert: %w", err)
	}
	return exists, nil
}

// MarkReversalAlert records that a reversal alert went out. Idempotent.
func (s *PgStore) MarkReversalAlert(ctx context.Context, transactionID string) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO reversal_alerts (transaction_id, alerted_at) VALUES ($1, $2)
		 ON CONFLICT (transaction_id) DO NOTHING`,
		transactionID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("marking reversal alert: %w", err)
	}
	return nil
}

func (s *PgStore) scanTxn(row pgx.Row) (*Transaction, error) {
	var (
		txn                             Transaction
		amountMinor, feeMinor, netMinor int64
		feeDetails                      []byte
		merchantReference               *string
	)

	err := row.Scan(
		&txn.ID, &txn.MerchantAccount, &txn.ReferenceID, &txn.Type, &txn.Currency,
		&amountMinor, &feeMinor, &netMinor, &feeDetails,
		&txn.Description, &txn.AvailableOn,
		&txn.ChargeID, &txn.RefundID, &txn.DisputeID, &txn.PayoutID, &merchantReference,
		&txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	txn.Amount = money.New(amountMinor, txn.Currency)
	txn.Fee = money.New(feeMinor, txn.Currency)
	txn.Net = money.New(netMinor, txn.Currency)
	if merchantReference != nil {
		txn.MerchantReference = *merchantReference
	}
	if len(feeDetails) > 0 {
		if err := json.Unmarshal(feeDetails, &txn.FeeDetails); err != nil {
			return nil, fmt.Errorf("decoding fee details: %w", err)
		}
	}
	return &txn, nil
}

func marshalFeeDetails(details []FeeDetail) ([]byte, error) {
	if len(details) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("encoding fee details: %w", err)
	}
	return data, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
