package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// RowSource is a lazy, forward-only, single-pass sequence of report rows.
type RowSource interface {
	// Next returns the next row, or ok=false once the stream is exhausted.
	Next(ctx context.Context) (row Row, ok bool, err error)
}

// SliceSource adapts an in-memory row slice to a RowSource.
type SliceSource struct {
	rows []Row
	pos  int
}

// NewSliceSource creates a RowSource over a slice.
func NewSliceSource(rows []Row) *SliceSource {
	return &SliceSource{rows: rows}
}

// Next implements RowSource.
func (s *SliceSource) Next(ctx context.Context) (Row, bool, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, false, err
	}
	if s.pos >= len(s.rows) {
		return Row{}, false, nil
	}
	row := s.rows[s.pos]
	s.pos++
	return row, true, nil
}

// GroupFailure is one per-group reconciliation failure surfaced to the
// operator roster.
type GroupFailure struct {
	ReferenceID string `json:"reference_id"`
	RowID       string `json:"row_id"`
	Message     string `json:"message"`
}

// RunReport summarizes one dispatch run over a report stream.
type RunReport struct {
	MerchantAccount string         `json:"merchant_account"`
	Groups          int            `json:"groups"`
	Reconciled      int            `json:"reconciled"`
	Failures        []GroupFailure `json:"failures,omitempty"`
}

// Dispatcher reads a report row stream for one merchant account, groups
// rows by transfer identifier, and routes each completed group to the
// reconciler. Group failures are isolated: one bad group never aborts the
// run, only data-integrity failures do.
type Dispatcher struct {
	merchantAccount string
	recon           *Reconciler
	logger          *slog.Logger
}

// NewDispatcher creates a dispatcher for one merchant account.
func NewDispatcher(merchantAccount string, recon *Reconciler, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		merchantAccount: merchantAccount,
		recon:           recon,
		logger:          logger,
	}
}

// Process consumes the row stream to completion and reconciles every
// transaction group. Rows belonging to one identifier may arrive
// interleaved; the grouping buffer reassembles them and flushes once the
// stream ends. A row without a transfer identifier is a data-integrity
// failure and aborts the whole run.
func (d *Dispatcher) Process(ctx context.Context, src RowSource) (*RunReport, error) {
	groups := make(map[string][]Row)
	var order []string

	for {
		row, ok, err := src.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading report stream: %w", err)
		}
		if !ok {
			break
		}

		id := row.TransferID()
		if id == "" {
			return nil, fmt.Errorf("report row without transfer id (%s %s/%s)", row.Category(), row.Type(), row.Status())
		}

		if _, seen := groups[id]; !seen {
			order = append(order, id)
		}
		groups[id] = append(groups[id], row)
	}

	report := &RunReport{MerchantAccount: d.merchantAccount, Groups: len(order)}

	for _, id := range order {
		rows := groups[id]

		t, err := classifyGroup(rows)
		if err == nil {
			err = d.recon.HandleGroup(ctx, d.merchantAccount, t, rows)
		}
		if err != nil {
			if !IsReconciliationError(err) {
				return nil, err
			}
			failure := GroupFailure{ReferenceID: id, Message: err.Error()}
			var re *ReconciliationError
			if errors.As(err, &re) {
				failure.RowID = re.RowID
				failure.Message = re.Message
			}
			report.Failures = append(report.Failures, failure)
			d.logger.Error("group reconciliation failed",
				"merchant_account", d.merchantAccount,
				"reference_id", id,
				"row_id", failure.RowID,
				"message", failure.Message,
			)
			continue
		}

		report.Reconciled++
	}

	d.logger.Info("report dispatch finished",
		"merchant_account", d.merchantAccount,
		"groups", report.Groups,
		"reconciled", report.Reconciled,
		"failed", len(report.Failures),
	)

	return report, nil
}

// Row category/type values used for routing.
const (
	CategoryPlatformPayment = "platformPayment"
	CategoryInternal        = "internal"
	CategoryTopUp           = "topUp"
	CategoryBank            = "bank"

	TypeCapture            = "capture"
	TypeCaptureReversal    = "captureReversal"
	TypeRefund             = "refund"
	TypeRefundReversal     = "refundReversal"
	TypeChargeback         = "chargeback"
	TypeSecondChargeback   = "secondChargeback"
	TypeChargebackReversal = "chargebackReversal"
	TypeFee                = "fee"
	TypeBankTransfer       = "bankTransfer"
)

// routePrecedence fixes which transaction type wins when a group's rows map
// to more than one candidate: reversal rows outrank the base type they
// reverse, since reversal groups usually carry fee rows typed like the
// original movement.
var routePrecedence = []TxnType{
	TxnChargebackReversal,
	TxnChargeback,
	TxnRefundReversal,
	TxnRefund,
	TxnPaymentReversal,
	TxnPayment,
	TxnPayout,
	TxnTopUp,
	TxnTransfer,
}

// classifyGroup picks the reconciliation strategy for a group from its
// rows' category/type/status metadata.
func classifyGroup(rows []Row) (TxnType, error) {
	candidates := make(map[TxnType]bool)
	for _, row := range rows {
		if t, ok := routeRow(row); ok {
			candidates[t] = true
		}
	}

	for _, t := range routePrecedence {
		if candidates[t] {
			return t, nil
		}
	}

	first := rows[0]
	return "", reconErrf(first.RowID(), "no reconciler route for group")
}

// routeRow maps one row to a candidate transaction type. Fee rows carry no
// routing signal of their own.
func routeRow(row Row) (TxnType, bool) {
	switch row.Category() {
	case CategoryPlatformPayment:
		switch row.Type() {
		case TypeCapture:
			return TxnPayment, true
		case TypeCaptureReversal:
			return TxnPaymentReversal, true
		case TypeRefund:
			return TxnRefund, true
		case TypeRefundReversal:
			return TxnRefundReversal, true
		case TypeChargeback, TypeSecondChargeback:
			return TxnChargeback, true
		case TypeChargebackReversal:
			return TxnChargebackReversal, true
		}
	case CategoryTopUp:
		return TxnTopUp, true
	case CategoryInternal:
		return TxnTransfer, true
	case CategoryBank:
		if row.Type() == TypeBankTransfer {
			return TxnPayout, true
		}
	}
	return "", false
}
