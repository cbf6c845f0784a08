package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"reconplatform/internal/common/database"
	"reconplatform/internal/common/money"
)

// PgStore persists payment domain records. It runs against any Querier so
// reconciliation mutations share the report run's transaction.
type PgStore struct {
	q database.Querier
}

// NewPgStore creates a payments store over the given querier.
func NewPgStore(q database.Querier) *PgStore {
	return &PgStore{q: q}
}

var _ Store = (*PgStore)(nil)

const chargeColumns = `
	id, merchant_account, gateway_id, merchant_reference, source_type,
	charge_status, amount_minor, currency, refunded_minor, transaction_id,
	created_at, updated_at`

// GetCharge retrieves a charge by id.
func (s *PgStore) GetCharge(ctx context.Context, id string) (*Charge, error) {
	query := `SELECT` + chargeColumns + ` FROM charges WHERE id = $1`
	return s.scanCharge(s.q.QueryRow(ctx, query, id))
}

// GetChargeByGatewayID retrieves a charge by its gateway-assigned id.
func (s *PgStore) GetChargeByGatewayID(ctx context.Context, merchantAccount, gatewayID string) (*Charge, error) {
	query := `SELECT` + chargeColumns + `
		FROM charges WHERE merchant_account = $1 AND gateway_id = $2`
	return s.scanCharge(s.q.QueryRow(ctx, query, merchantAccount, gatewayID))
}

// CreateCharge inserts a new charge.
func (s *PgStore) CreateCharge(ctx context.Context, charge *Charge) error {
	query := `
		INSERT INTO charges (
			id, merchant_account, gateway_id, merchant_reference, source_type,
			charge_status, amount_minor, currency, refunded_minor, transaction_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.q.Exec(ctx, query,
		charge.ID, charge.MerchantAccount, charge.GatewayID,
		nullableString(charge.MerchantReference), charge.SourceType,
		charge.Status, charge.Amount.AmountMinor, charge.Amount.Currency,
		charge.RefundedMinor, charge.TransactionID,
		charge.CreatedAt, charge.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("charge %s: %w", charge.GatewayID, database.ErrAlreadyExists)
		}
		return fmt.Errorf("creating charge: %w", err)
	}
	return nil
}

// UpdateCharge rewrites a charge's mutable fields.
func (s *PgStore) UpdateCharge(ctx context.Context, charge *Charge) error {
	query := `
		UPDATE charges SET
			gateway_id = $2, merchant_reference = $3, source_type = $4,
			charge_status = $5, amount_minor = $6, currency = $7,
			refunded_minor = $8, transaction_id = $9, updated_at = $10
		WHERE id = $1`

	tag, err := s.q.Exec(ctx, query,
		charge.ID, charge.GatewayID, nullableString(charge.MerchantReference),
		charge.SourceType, charge.Status, charge.Amount.AmountMinor,
		charge.Amount.Currency, charge.RefundedMinor, charge.TransactionID,
		charge.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating charge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("charge %s: %w", charge.ID, ErrNotFound)
	}
	return nil
}

// SetChargeTransaction links a reconciled transaction onto a charge.
func (s *PgStore) SetChargeTransaction(ctx context.Context, chargeID, transactionID string) error {
	_, err := s.q.Exec(ctx,
		`UPDATE charges SET transaction_id = $2, updated_at = $3 WHERE id = $1`,
		chargeID, transactionID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("linking charge transaction: %w", err)
	}
	return nil
}

// ClearChargeRefunded resets a charge's refunded-amount bookkeeping.
func (s *PgStore) ClearChargeRefunded(ctx context.Context, chargeID string) error {
	_, err := s.q.Exec(ctx,
		`UPDATE charges SET refunded_minor = 0, updated_at = $2 WHERE id = $1`,
		chargeID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("clearing refunded amount: %w", err)
	}
	return nil
}

// GetPendingFlowByReference retrieves the pending payment flow for a
// merchant reference.
func (s *PgStore) GetPendingFlowByReference(ctx context.Context, merchantAccount, merchantReference string) (*PaymentFlow, error) {
	query := `
		SELECT id, merchant_account, merchant_reference, flow_status,
		       source_type, amount_minor, currency, created_at, updated_at
		FROM payment_flows
		WHERE merchant_account = $1 AND merchant_reference = $2 AND flow_status = $3
		ORDER BY created_at ASC
		LIMIT 1`

	var (
		flow        PaymentFlow
		amountMinor int64
		currency    money.Currency
	)
	err := s.q.QueryRow(ctx, query, merchantAccount, merchantReference, FlowPending).Scan(
		&flow.ID, &flow.MerchantAccount, &flow.MerchantReference, &flow.Status,
		&flow.SourceType, &amountMinor, &currency, &flow.CreatedAt, &flow.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting pending flow: %w", err)
	}
	flow.Amount = money.New(amountMinor, currency)
	return &flow, nil
}

// MarkFlowReconciled transitions a payment flow to reconciled.
func (s *PgStore) MarkFlowReconciled(ctx context.Context, flowID string) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE payment_flows SET flow_status = $2, updated_at = $3 WHERE id = $1`,
		flowID, FlowReconciled, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("marking flow reconciled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment flow %s: %w", flowID, ErrNotFound)
	}
	return nil
}

const refundColumns = `
	id, charge_id, merchant_account, gateway_id, refund_status,
	amount_minor, currency, transaction_id, created_at, updated_at`

// GetRefund retrieves a refund by id.
func (s *PgStore) GetRefund(ctx context.Context, id string) (*Refund, error) {
	query := `SELECT` + refundColumns + ` FROM refunds WHERE id = $1`
	return s.scanRefund(s.q.QueryRow(ctx, query, id))
}

// GetRefundByGatewayID retrieves a refund by its gateway-assigned id.
func (s *PgStore) GetRefundByGatewayID(ctx context.Context, merchantAccount, gatewayID string) (*Refund, error) {
	query := `SELECT` + refundColumns + `
		FROM refunds WHERE merchant_account = $1 AND gateway_id = $2`
	return s.scanRefund(s.q.QueryRow(ctx, query, merchantAccount, gatewayID))
}

// UpdateRefund rewrites a refund's mutable fields.
func (s *PgStore) UpdateRefund(ctx context.Context, refund *Refund) error {
	query := `
		UPDATE refunds SET
			refund_status = $2, amount_minor = $3, currency = $4,
			transaction_id = $5, updated_at = $6
		WHERE id = $1`

	tag, err := s.q.Exec(ctx, query,
		refund.ID, refund.Status, refund.Amount.AmountMinor,
		refund.Amount.Currency, refund.TransactionID, refund.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating refund: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("refund %s: %w", refund.ID, ErrNotFound)
	}
	return nil
}

// SetRefundTransaction links a reconciled transaction onto a refund.
func (s *PgStore) SetRefundTransaction(ctx context.Context, refundID, transactionID string) error {
	_, err := s.q.Exec(ctx,
		`UPDATE refunds SET transaction_id = $2, updated_at = $3 WHERE id = $1`,
		refundID, transactionID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("linking refund transaction: %w", err)
	}
	return nil
}

const disputeColumns = `
	id, merchant_account, charge_id, gateway_id, dispute_status,
	amount_minor, currency, reason, transaction_id, created_at, updated_at`

// GetDisputeByGatewayID retrieves a dispute by its gateway-assigned id.
func (s *PgStore) GetDisputeByGatewayID(ctx context.Context, merchantAccount, gatewayID string) (*Dispute, error) {
	query := `SELECT` + disputeColumns + `
		FROM disputes WHERE merchant_account = $1 AND gateway_id = $2`
	return s.scanDispute(s.q.QueryRow(ctx, query, merchantAccount, gatewayID))
}

// GetEarliestDisputeForCharge returns the oldest dispute linked to a charge.
func (s *PgStore) GetEarliestDisputeForCharge(ctx context.Context, chargeID string) (*Dispute, error) {
	query := `SELECT` + disputeColumns + `
		FROM disputes WHERE charge_id = $1
		ORDER BY created_at ASC
		LIMIT 1`
	return s.scanDispute(s.q.QueryRow(ctx, query, chargeID))
}

// GetUnmatchedDispute returns a dispute that has no gateway id yet, scoped
// to the charge when one is known.
func (s *PgStore) GetUnmatchedDispute(ctx context.Context, merchantAccount string, chargeID *string) (*Dispute, error) {
	query := `SELECT` + disputeColumns + `
		FROM disputes
		WHERE merchant_account = $1 AND gateway_id = ''
		  AND ($2::text IS NULL OR charge_id = $2)
		ORDER BY created_at ASC
		LIMIT 1`
	return s.scanDispute(s.q.QueryRow(ctx, query, merchantAccount, chargeID))
}

// CreateDispute inserts a new dispute.
func (s *PgStore) CreateDispute(ctx context.Context, dispute *Dispute) error {
	query := `
		INSERT INTO disputes (
			id, merchant_account, charge_id, gateway_id, dispute_status,
			amount_minor, currency, reason, transaction_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.q.Exec(ctx, query,
		dispute.ID, dispute.MerchantAccount, dispute.ChargeID, dispute.GatewayID,
		dispute.Status, dispute.Amount.AmountMinor, dispute.Amount.Currency,
		nullableString(dispute.Reason), dispute.TransactionID,
		dispute.CreatedAt, dispute.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating dispute: %w", err)
	}
	return nil
}

// UpdateDispute rewrites a dispute's mutable fields.
func (s *PgStore) UpdateDispute(ctx context.Context, dispute *Dispute) error {
	query := `
		UPDATE disputes SET
			charge_id = $2, gateway_id = $3, dispute_status = $4,
			amount_minor = $5, currency = $6, reason = $7,
			transaction_id = $8, updated_at = $9
		WHERE id = $1`

	tag, err := s.q.Exec(ctx, query,
		dispute.ID, dispute.ChargeID, dispute.GatewayID, dispute.Status,
		dispute.Amount.AmountMinor, dispute.Amount.Currency,
		nullableString(dispute.Reason), dispute.TransactionID, dispute.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating dispute: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dispute %s: %w", dispute.ID, ErrNotFound)
	}
	return nil
}

// SetDisputeTransaction links a reconciled transaction onto a dispute.
func (s *PgStore) SetDisputeTransaction(ctx context.Context, disputeID, transactionID string) error {
	_, err := s.q.Exec(ctx,
		`UPDATE disputes SET transaction_id = $2, updated_at = $3 WHERE id = $1`,
		disputeID, transactionID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("linking dispute transaction: %w", err)
	}
	return nil
}

// GetPayoutByReference retrieves a payout by its settlement reference.
func (s *PgStore) GetPayoutByReference(ctx context.Context, merchantAccount, referenceID string) (*Payout, error) {
	query := `
		SELECT id, merchant_account, reference_id, amount_minor, currency,
		       payout_status, arrives_on, created_at
		FROM payouts WHERE merchant_account = $1 AND reference_id = $2`

	var (
		payout      Payout
		amountMinor int64
		currency    money.Currency
	)
	err := s.q.QueryRow(ctx, query, merchantAccount, referenceID).Scan(
		&payout.ID, &payout.MerchantAccount, &payout.ReferenceID,
		&amountMinor, &currency, &payout.Status, &payout.ArrivesOn,
		&payout.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting payout: %w", err)
	}
	payout.Amount = money.New(amountMinor, currency)
	return &payout, nil
}

// CreatePayout inserts a new payout record.
func (s *PgStore) CreatePayout(ctx context.Context, payout *Payout) error {
	query := `
		INSERT INTO payouts (
			id, merchant_account, reference_id, amount_minor, currency,
			payout_status, arrives_on, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.q.Exec(ctx, query,
		payout.ID, payout.MerchantAccount, payout.ReferenceID,
		payout.Amount.AmountMinor, payout.Amount.Currency,
		payout.Status, payout.ArrivesOn, payout.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("payout %s: %w", payout.ReferenceID, database.ErrAlreadyExists)
		}
		return fmt.Errorf("creating payout: %w", err)
	}
	return nil
}

func (s *PgStore) scanCharge(row pgx.Row) (*Charge, error) {
	var (
		charge            Charge
		merchantReference *string
		amountMinor       int64
		currency          money.Currency
	)
	err := row.Scan(
		&charge.ID, &charge.MerchantAccount, &charge.GatewayID,
		&merchantReference, &charge.SourceType, &charge.Status,
		&amountMinor, &currency, &charge.RefundedMinor, &charge.TransactionID,
		&charge.CreatedAt, &charge.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning charge: %w", err)
	}
	charge.Amount = money.New(amountMinor, currency)
	if merchantReference != nil {
		charge.MerchantReference = *merchantReference
	}
	return &charge, nil
}

func (s *PgStore) scanRefund(row pgx.Row) (*Refund, error) {
	var (
		refund      Refund
		amountMinor int64
		currency    money.Currency
	)
	err := row.Scan(
		&refund.ID, &refund.ChargeID, &refund.MerchantAccount, &refund.GatewayID,
		&refund.Status, &amountMinor, &currency, &refund.TransactionID,
		&refund.CreatedAt, &refund.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning refund: %w", err)
	}
	refund.Amount = money.New(amountMinor, currency)
	return &refund, nil
}

func (s *PgStore) scanDispute(row pgx.Row) (*Dispute, error) {
	var (
		dispute     Dispute
		reason      *string
		amountMinor int64
		currency    money.Currency
	)
	err := row.Scan(
		&dispute.ID, &dispute.MerchantAccount, &dispute.ChargeID,
		&dispute.GatewayID, &dispute.Status, &amountMinor, &currency,
		&reason, &dispute.TransactionID, &dispute.CreatedAt, &dispute.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning dispute: %w", err)
	}
	dispute.Amount = money.New(amountMinor, currency)
	if reason != nil {
		dispute.Reason = *reason
	}
	return &dispute, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
