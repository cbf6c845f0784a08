package settlement_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconplatform/internal/settlement"
)

func newDispatcher(f *reconFixture) *settlement.Dispatcher {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return settlement.NewDispatcher(merchantAccount, f.recon, logger)
}

func TestProcessGroupsInterleavedRows(t *testing.T) {
	f := newReconFixture()
	f.addCharge("psp_1", "card")
	d := newDispatcher(f)

	rows := []settlement.Row{
		makeRow(t, map[string]string{
			settlement.ColTransferID:    "TRF_A",
			settlement.ColAccountHolder: "Merchant1",
			settlement.ColAmount:        "354.56",
			settlement.ColCategory:      settlement.CategoryPlatformPayment,
			settlement.ColType:          settlement.TypeCapture,
			settlement.ColPspReference:  "psp_1",
		}),
		makeRow(t, map[string]string{
			settlement.ColTransferID:    "TRF_B",
			settlement.ColAccountHolder: "Merchant1",
			settlement.ColAmount:        "-40.00",
			settlement.ColCategory:      settlement.CategoryInternal,
		}),
		makeRow(t, map[string]string{
			settlement.ColTransferID:    "TRF_A",
			settlement.ColAccountHolder: "Merchant1",
			settlement.ColAmount:        "-101.50",
			settlement.ColCategory:      settlement.CategoryPlatformPayment,
			settlement.ColType:          settlement.TypeFee,
			settlement.ColPspReference:  "psp_1",
		}),
	}

	report, err := d.Process(context.Background(), settlement.NewSliceSource(rows))
	require.NoError(t, err)

	assert.Equal(t, 2, report.Groups)
	assert.Equal(t, 2, report.Reconciled)
	assert.Empty(t, report.Failures)

	payment, err := f.txns.GetByReference(context.Background(), merchantAccount, "TRF_A")
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, settlement.TxnPayment, payment.Type)
	assert.Equal(t, eur(t, "354.56"), payment.Amount)
	assert.Equal(t, eur(t, "101.50"), payment.Fee)

	transfer, err := f.txns.GetByReference(context.Background(), merchantAccount, "TRF_B")
	require.NoError(t, err)
	require.NotNil(t, transfer)
	assert.Equal(t, settlement.TxnTransfer, transfer.Type)
	assert.Equal(t, eur(t, "-40.00"), transfer.Amount)
}

func TestProcessIsolatesGroupFailures(t *testing.T) {
	f := newReconFixture()
	d := newDispatcher(f)

	// TRF_BAD resolves no charge; TRF_OK is an internal transfer.
	rows := []settlement.Row{
		makeRow(t, map[string]string{
			settlement.ColTransferID:    "TRF_BAD",
			settlement.ColAccountHolder: "Merchant1",
			settlement.ColAmount:        "354.56",
			settlement.ColCategory:      settlement.CategoryPlatformPayment,
			settlement.ColType:          settlement.TypeCapture,
			settlement.ColPspReference:  "psp_missing",
		}),
		makeRow(t, map[string]string{
			settlement.ColTransferID:    "TRF_OK",
			settlement.ColAccountHolder: "Merchant1",
			settlement.ColAmount:        "10.00",
			settlement.ColCategory:      settlement.CategoryInternal,
		}),
	}

	report, err := d.Process(context.Background(), settlement.NewSliceSource(rows))
	require.NoError(t, err)

	assert.Equal(t, 2, report.Groups)
	assert.Equal(t, 1, report.Reconciled)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "TRF_BAD", report.Failures[0].ReferenceID)
	assert.Contains(t, report.Failures[0].Message, "no charge found")
}

func TestProcessMissingTransferIDAborts(t *testing.T) {
	f := newReconFixture()
	d := newDispatcher(f)

	row, err := settlement.NewRow(map[string]string{
		settlement.ColTransferID:    "",
		settlement.ColAccountHolder: "Merchant1",
		settlement.ColAmount:        "10.00",
		settlement.ColCurrency:      "EUR",
		settlement.ColCategory:      settlement.CategoryInternal,
	}, liableHolder)
	require.NoError(t, err)

	report, err := d.Process(context.Background(), settlement.NewSliceSource([]settlement.Row{row}))
	assert.Error(t, err)
	assert.Nil(t, report)
}

func TestProcessRoutingPrecedence(t *testing.T) {
	f := newReconFixture()
	d := newDispatcher(f)

	// Chargeback groups carry capture-typed fee rows; the reversal type
	// must win the route.
	rows := []settlement.Row{
		makeRow(t, map[string]string{
			settlement.ColTransferID:    "TRF_CB",
			settlement.ColAccountHolder: "Merchant1",
			settlement.ColAmount:        "-100.00",
			settlement.ColCategory:      settlement.CategoryPlatformPayment,
			settlement.ColType:          settlement.TypeChargeback,
			settlement.ColStatus:        "lost",
			settlement.ColPspReference:  "psp_cb",
		}),
		makeRow(t, map[string]string{
			settlement.ColTransferID:    "TRF_CB",
			settlement.ColAccountHolder: "Merchant1",
			settlement.ColAmount:        "-7.50",
			settlement.ColDescription:   "Chargeback Fee",
			settlement.ColCategory:      settlement.CategoryPlatformPayment,
			settlement.ColType:          settlement.TypeCapture,
			settlement.ColPspReference:  "psp_cb",
		}),
	}

	report, err := d.Process(context.Background(), settlement.NewSliceSource(rows))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reconciled)

	txn, err := f.txns.GetByReference(context.Background(), merchantAccount, "TRF_CB")
	require.NoError(t, err)
	require.NotNil(t, txn)
	assert.Equal(t, settlement.TxnChargeback, txn.Type)
	assert.Equal(t, eur(t, "-100.00"), txn.Amount)
	assert.Equal(t, eur(t, "7.50"), txn.Fee)
}

func TestProcessUnroutableGroup(t *testing.T) {
	f := newReconFixture()
	d := newDispatcher(f)

	rows := []settlement.Row{
		makeRow(t, map[string]string{
			settlement.ColTransferID:    "TRF_X",
			settlement.ColAccountHolder: "Merchant1",
			settlement.ColAmount:        "1.00",
			settlement.ColCategory:      settlement.CategoryPlatformPayment,
			settlement.ColType:          settlement.TypeFee,
		}),
	}

	report, err := d.Process(context.Background(), settlement.NewSliceSource(rows))
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Message, "no reconciler route")
}
