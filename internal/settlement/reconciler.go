package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"reconplatform/internal/payments"
)

// Reconciler handles one transaction group end to end: aggregate the
// categorized amounts, check idempotency, resolve the domain record, upsert
// the ledger transaction, post it into the double-entry ledger, and run
// per-type side effects.
type Reconciler struct {
	txns     TransactionStore
	records  PaymentRecords
	ledger   LedgerSync
	payouts  PayoutCreator
	notifier Notifier
	logger   *slog.Logger
}

// NewReconciler creates a reconciler over its collaborators.
func NewReconciler(txns TransactionStore, records PaymentRecords, ledger LedgerSync, payouts PayoutCreator, notifier Notifier, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		txns:     txns,
		records:  records,
		ledger:   ledger,
		payouts:  payouts,
		notifier: notifier,
		logger:   logger,
	}
}

// HandleGroup reconciles all rows sharing one transfer identifier. Errors
// returned are *ReconciliationError unless something fatal happened below
// the store layer.
func (r *Reconciler) HandleGroup(ctx context.Context, merchantAccount string, t TxnType, rows []Row) error {
	if len(rows) == 0 {
		return reconErrf("", "empty transaction group")
	}

	first := rows[0]
	referenceID := first.TransferID()
	rowID := first.RowID()

	if t == TxnPayout {
		return r.handlePayout(ctx, merchantAccount, referenceID, rows)
	}

	totals, err := AggregateGroup(t, rows)
	if err != nil {
		return err
	}

	if t == TxnPayment {
		if skip, err := r.paymentSkip(totals, rowID); err != nil {
			return err
		} else if skip {
			r.logger.Info("payment group skipped, awaiting next report",
				"merchant_account", merchantAccount,
				"reference_id", referenceID,
			)
			return nil
		}
	}

	// A transaction with identical total and fee means this reference was
	// already reconciled from an earlier report.
	existing, err := r.txns.FindExact(ctx, merchantAccount, referenceID, totals.Total, totals.Fee)
	if err != nil {
		return wrapRecon(rowID, "idempotency lookup", err)
	}
	if existing != nil {
		r.logger.Debug("group already reconciled",
			"merchant_account", merchantAccount,
			"reference_id", referenceID,
		)
		return nil
	}

	links, err := r.resolveRecord(ctx, merchantAccount, t, first, totals)
	if err != nil {
		return err
	}

	txn, err := r.upsertTransaction(ctx, merchantAccount, referenceID, t, first, totals, links)
	if err != nil {
		return err
	}

	if err := r.linkRecord(ctx, txn); err != nil {
		return wrapRecon(rowID, "linking transaction to domain record", err)
	}

	handle, err := r.ledger.GetLedger(ctx, merchantAccount, totals.Currency)
	if err != nil {
		return wrapRecon(rowID, "resolving merchant ledger", err)
	}
	if err := r.ledger.SyncTransaction(ctx, handle, txn); err != nil {
		return wrapRecon(rowID, "posting transaction to ledger", err)
	}

	if err := r.sideEffects(ctx, t, txn, links, rowID); err != nil {
		return err
	}

	r.logger.Info("group reconciled",
		"merchant_account", merchantAccount,
		"reference_id", referenceID,
		"type", t,
		"amount", txn.Amount.AmountMinor,
		"fee", txn.Fee.AmountMinor,
	)

	return nil
}

// paymentSkip applies the payment-only skip heuristics: a group whose total
// equals its fee with no "Seller split" row is a partially-reported
// transaction picked up by the next report; with a split row present the
// same shape is an error. A zero total with a larger fee is likewise a
// fee-only partial report.
func (r *Reconciler) paymentSkip(totals GroupTotals, rowID string) (bool, error) {
	if totals.Total.Equal(totals.Fee) {
		if totals.HasSellerSplit {
			return false, reconErrf(rowID, "seller split group with total equal to fee")
		}
		return true, nil
	}
	if totals.Total.IsZero() && totals.Fee.GreaterThan(totals.Total) {
		return true, nil
	}
	return false, nil
}

// recordLinks carries the resolved domain-record ids for a group.
type recordLinks struct {
	chargeID  *string
	refundID  *string
	disputeID *string
	refund    *payments.Refund
}

// resolveRecord locates or creates the domain record a group attaches to.
func (r *Reconciler) resolveRecord(ctx context.Context, merchantAccount string, t TxnType, first Row, totals GroupTotals) (recordLinks, error) {
	rowID := first.RowID()
	var links recordLinks

	switch t {
	case TxnPayment:
		charge, err := r.records.ResolveCharge(ctx, merchantAccount, first.PspReference(), first.MerchantReference())
		if err != nil {
			if errors.Is(err, payments.ErrNotFound) {
				return links, reconErrf(rowID, "no charge found for gateway id %q", first.PspReference())
			}
			return links, wrapRecon(rowID, "resolving charge", err)
		}
		links.chargeID = &charge.ID

	case TxnRefund, TxnRefundReversal:
		refund, err := r.records.FindRefund(ctx, merchantAccount, first.PspReference())
		if err != nil {
			if errors.Is(err, payments.ErrNotFound) {
				return links, reconErrf(rowID, "no refund found for gateway id %q", first.PspReference())
			}
			return links, wrapRecon(rowID, "resolving refund", err)
		}
		links.refundID = &refund.ID
		links.refund = refund

	case TxnChargeback:
		return r.resolveChargeback(ctx, merchantAccount, first, totals)

	case TxnChargebackReversal:
		dispute, err := r.records.FindDispute(ctx, merchantAccount, first.PspReference())
		if errors.Is(err, payments.ErrNotFound) {
			// Fall back to the earliest dispute on the original charge.
			charge, cerr := r.records.FindCharge(ctx, merchantAccount, first.PspReference())
			if cerr == nil {
				dispute, err = r.records.EarliestDisputeForCharge(ctx, charge.ID)
			}
		}
		if err != nil {
			if errors.Is(err, payments.ErrNotFound) {
				return links, reconErrf(rowID, "no dispute found for gateway id %q", first.PspReference())
			}
			return links, wrapRecon(rowID, "resolving dispute", err)
		}
		links.disputeID = &dispute.ID

	case TxnTopUp, TxnTransfer, TxnPaymentReversal:
		// Unattached adjustments; no domain record.
	}

	return links, nil
}

// resolveChargeback handles the chargeback-specific resolution: a
// direct-debit chargeback marks the charge failed and creates no dispute;
// otherwise a dispute is reconciled or created from the row metadata.
func (r *Reconciler) resolveChargeback(ctx context.Context, merchantAccount string, first Row, totals GroupTotals) (recordLinks, error) {
	rowID := first.RowID()
	var links recordLinks

	charge, err := r.records.FindCharge(ctx, merchantAccount, first.PspReference())
	if err != nil && !errors.Is(err, payments.ErrNotFound) {
		return links, wrapRecon(rowID, "resolving charge for chargeback", err)
	}

	if charge != nil && charge.SourceType == payments.SourceBankAccount {
		changed, err := r.records.MarkChargeFailed(ctx, charge.ID)
		if err != nil {
			return links, wrapRecon(rowID, "marking charge failed", err)
		}
		if changed {
			r.logger.Info("direct debit chargeback, charge failed",
				"charge_id", charge.ID,
				"reference_id", first.TransferID(),
			)
		}
		links.chargeID = &charge.ID
		return links, nil
	}

	params := payments.ReconcileDisputeParams{
		MerchantAccount: merchantAccount,
		GatewayID:       first.PspReference(),
		Status:          disputeStatusFromRow(first),
		Amount:          totals.Total,
		Reason:          first.Description(),
	}
	if charge != nil {
		params.ChargeID = &charge.ID
		links.chargeID = &charge.ID
	}

	dispute, err := r.records.ReconcileDispute(ctx, params)
	if err != nil {
		return links, wrapRecon(rowID, "reconciling dispute", err)
	}
	links.disputeID = &dispute.ID

	return links, nil
}

func disputeStatusFromRow(row Row) payments.DisputeStatus {
	switch row.Status() {
	case "won", "chargebackReversed":
		return payments.DisputeWon
	case "lost", "booked":
		return payments.DisputeLost
	default:
		return payments.DisputeOpen
	}
}

// upsertTransaction creates or updates the ledger transaction for a
// reference. The reference-only lookup here is deliberately looser than the
// exact amount+fee idempotency check: a transaction whose amounts changed
// between reports is updated in place rather than duplicated.
func (r *Reconciler) upsertTransaction(ctx context.Context, merchantAccount, referenceID string, t TxnType, first Row, totals GroupTotals, links recordLinks) (*Transaction, error) {
	rowID := first.RowID()

	description := rowID
	if !totals.Rounding.IsZero() {
		description = fmt.Sprintf("%s (%s Rounding Adjustment)", description, totals.Rounding.MajorString())
	}

	var availableOn *time.Time
	if d, ok := first.ValueDate(); ok {
		availableOn = &d
	}

	now := time.Now().UTC()

	txn, err := r.txns.GetByReference(ctx, merchantAccount, referenceID)
	if err != nil {
		return nil, wrapRecon(rowID, "transaction lookup", err)
	}

	isNew := txn == nil
	if isNew {
		txn = &Transaction{
			ID:              ulid.Make().String(),
			MerchantAccount: merchantAccount,
			ReferenceID:     referenceID,
			Type:            t,
			Currency:        totals.Currency,
			CreatedAt:       now,
		}
	}

	txn.Amount = totals.Total
	txn.Fee = totals.Fee
	txn.FeeDetails = totals.FeeDetails
	txn.Net = totals.Total.MustSub(totals.Fee)
	txn.Description = description
	txn.AvailableOn = availableOn
	txn.MerchantReference = first.MerchantReference()
	txn.UpdatedAt = now
	if links.chargeID != nil {
		txn.ChargeID = links.chargeID
	}
	if links.refundID != nil {
		txn.RefundID = links.refundID
	}
	if links.disputeID != nil {
		txn.DisputeID = links.disputeID
	}

	if isNew {
		if err := r.txns.Create(ctx, txn); err != nil {
			return nil, wrapRecon(rowID, "creating transaction", err)
		}
	} else {
		if err := r.txns.Update(ctx, txn); err != nil {
			return nil, wrapRecon(rowID, "updating transaction", err)
		}
	}

	return txn, nil
}

// linkRecord writes the transaction id back onto the resolved domain record.
func (r *Reconciler) linkRecord(ctx context.Context, txn *Transaction) error {
	if txn.ChargeID != nil {
		if err := r.records.LinkChargeTransaction(ctx, *txn.ChargeID, txn.ID); err != nil {
			return err
		}
	}
	if txn.RefundID != nil {
		if err := r.records.LinkRefundTransaction(ctx, *txn.RefundID, txn.ID); err != nil {
			return err
		}
	}
	if txn.DisputeID != nil {
		if err := r.records.LinkDisputeTransaction(ctx, *txn.DisputeID, txn.ID); err != nil {
			return err
		}
	}
	return nil
}

// sideEffects runs the per-type post-sync work: refund reversals void the
// linked refund and clear the charge's refunded bookkeeping; payment
// reversals alert the operators exactly once per transaction.
func (r *Reconciler) sideEffects(ctx context.Context, t TxnType, txn *Transaction, links recordLinks, rowID string) error {
	switch t {
	case TxnRefundReversal:
		if links.refund == nil {
			return nil
		}
		voided, err := r.records.VoidRefund(ctx, links.refund.ID)
		if err != nil {
			return wrapRecon(rowID, "voiding refund", err)
		}
		if voided {
			if err := r.records.ClearRefundedAmount(ctx, links.refund.ChargeID); err != nil {
				return wrapRecon(rowID, "clearing refunded amount", err)
			}
			r.logger.Info("refund voided by reversal",
				"refund_id", links.refund.ID,
				"charge_id", links.refund.ChargeID,
			)
		}

	case TxnPaymentReversal:
		sent, err := r.txns.HasReversalAlert(ctx, txn.ID)
		if err != nil {
			return wrapRecon(rowID, "checking reversal alert", err)
		}
		if sent {
			return nil
		}
		if r.notifier != nil {
			if err := r.notifier.PaymentReversalAlert(ctx, txn, rowID); err != nil {
				// Alert delivery is fire-and-forget; reconciliation stands.
				r.logger.Error("payment reversal alert failed",
					"transaction_id", txn.ID,
					"error", err,
				)
				return nil
			}
		}
		if err := r.txns.MarkReversalAlert(ctx, txn.ID); err != nil {
			return wrapRecon(rowID, "marking reversal alert", err)
		}
	}

	return nil
}

// handlePayout delegates a payout group to the payout collaborator; no
// transaction or ledger work happens here.
func (r *Reconciler) handlePayout(ctx context.Context, merchantAccount, referenceID string, rows []Row) error {
	first := rows[0]

	total := rows[0].Amount
	for _, row := range rows[1:] {
		sum, err := total.Add(row.Amount)
		if err != nil {
			return wrapRecon(first.RowID(), "summing payout rows", err)
		}
		total = sum
	}

	var arrivesOn *time.Time
	if d, ok := first.ValueDate(); ok {
		arrivesOn = &d
	}

	if err := r.payouts.CreatePayout(ctx, merchantAccount, referenceID, total, arrivesOn); err != nil {
		return wrapRecon(first.RowID(), "creating payout", err)
	}

	r.logger.Info("payout delegated",
		"merchant_account", merchantAccount,
		"reference_id", referenceID,
		"amount", total.AmountMinor,
	)

	return nil
}
