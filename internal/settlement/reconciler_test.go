package settlement_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconplatform/internal/payments"
	"reconplatform/internal/settlement"
)

const merchantAccount = "acct_1"

type reconFixture struct {
	txns     *fakeTxnStore
	records  *fakeRecords
	ledger   *fakeLedger
	payouts  *fakePayouts
	notifier *fakeNotifier
	recon    *settlement.Reconciler
}

func newReconFixture() *reconFixture {
	f := &reconFixture{
		txns:     newFakeTxnStore(),
		records:  newFakeRecords(),
		ledger:   &fakeLedger{},
		payouts:  &fakePayouts{},
		notifier: &fakeNotifier{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.recon = settlement.NewReconciler(f.txns, f.records, f.ledger, f.payouts, f.notifier, logger)
	return f
}

func (f *reconFixture) addCharge(gatewayID string, source payments.SourceType) *payments.Charge {
	charge := &payments.Charge{
		ID:              "ch_" + gatewayID,
		MerchantAccount: merchantAccount,
		GatewayID:       gatewayID,
		SourceType:      source,
		Status:          payments.ChargeSucceeded,
	}
	f.records.charges[gatewayID] = charge
	return charge
}

func (f *reconFixture) addRefund(gatewayID, chargeID string) *payments.Refund {
	refund := &payments.Refund{
		ID:              "re_" + gatewayID,
		ChargeID:        chargeID,
		MerchantAccount: merchantAccount,
		GatewayID:       gatewayID,
		Status:          payments.RefundSucceeded,
	}
	f.records.refunds[gatewayID] = refund
	return refund
}

func paymentRows(t *testing.T) []settlement.Row {
	return []settlement.Row{
		makeRow(t, map[string]string{
			settlement.ColAccountHolder: "Merchant1",
			settlement.ColAmount:        "354.56",
			settlement.ColPspReference:  "psp_1",
		}),
		makeRow(t, map[string]string{
			settlement.ColAccountHolder: "Merchant1",
			settlement.ColAmount:        "-101.50",
			settlement.ColSchemeFee:     "-10.00",
			settlement.ColMarkup:        "-76.50",
			settlement.ColInterchange:   "-15.00",
			settlement.ColPspReference:  "psp_1",
		}),
	}
}

func TestHandleGroupPayment(t *testing.T) {
	f := newReconFixture()
	charge := f.addCharge("psp_1", payments.SourceCard)

	err := f.recon.HandleGroup(context.Background(), merchantAccount, settlement.TxnPayment, paymentRows(t))
	require.NoError(t, err)

	assert.Equal(t, 1, f.txns.creates)
	txn, err := f.txns.GetByReference(context.Background(), merchantAccount, "TRF001")
	require.NoError(t, err)
	require.NotNil(t, txn)
	assert.Equal(t, settlement.TxnPayment, txn.Type)
	assert.Equal(t, eur(t, "354.56"), txn.Amount)
	assert.Equal(t, eur(t, "101.50"), txn.Fee)
	assert.Equal(t, eur(t, "253.06"), txn.Net)
	require.NotNil(t, txn.ChargeID)
	assert.Equal(t, charge.ID, *txn.ChargeID)
	assert.Equal(t, txn.ID, f.records.links["charge:"+charge.ID])

	require.Len(t, f.ledger.synced, 1)
	assert.Equal(t, txn.ID, f.ledger.synced[0].ID)
}

func TestHandleGroupReplayIsNoOp(t *testing.T) {
	f := newReconFixture()
	f.addCharge("psp_1", payments.SourceCard)

	require.NoError(t, f.recon.HandleGroup(context.Background(), merchantAccount, settlement.TxnPayment, paymentRows(t)))
	require.NoError(t, f.recon.HandleGroup(context.Background(), merchantAccount, settlement.TxnPayment, paymentRows(t)))

	assert.Equal(t, 1, f.txns.creates)
	assert.Equal(t, 0, f.txns.updates)
	assert.Len(t, f.ledger.synced, 1)
}

func TestHandleGroupUpdatesInPlace(t *testing.T) {
	f := newReconFixture()
	f.addCharge("psp_1", payments.SourceCard)

	require.NoError(t, f.recon.HandleGroup(context.Background(), merchantAccount, settlement.TxnPayment, paymentRows(t)))

	txn, err := f.txns.GetByReference(context.Background(), merchantAccount, "TRF001")
	require.NoError(t, err)
	firstID := txn.ID

	// The next report restates the same reference with a different fee.
	changed := []settlement.Row{
		makeRow(t, map[string]string{
			settlement.ColAccountHolder: "Merchant1",
			settlement.ColAmount:        "354.56",
			settlement.ColPspReference:  "psp_1",
		}),
		makeRow(t, map[string]string{
			settlement.ColAccountHolder: "Merchant1",
			settlement.ColAmount:        "-99.00",
			settlement.ColPspReference:  "psp_1",
		}),
	}
	require.NoError(t, f.recon.HandleGroup(context.Background(), merchantAccount, settlement.TxnPayment, changed))

	assert.Equal(t, 1, f.txns.creates)
	assert.Equal(t, 1, f.txns.updates)

	txn, err = f.txns.GetByReference(context.Background(), merchantAccount, "TRF001")
	require.NoError(t, err)
	assert.Equal(t, firstID, txn.ID)
	assert.Equal(t, eur(t, "99.00"), txn.Fee)
}

func TestHandleGroupPaymentSkips(t *testing.T) {
	t.Run("total equal to fee awaits next report", func(t *testing.T) {
		f := newReconFixture()
		rows := []settlement.Row{
			makeRow(t, map[string]string{
				settlement.ColAccountHolder: liableHolder,
				settlement.ColAmount:        "5.00",
			}),
		}
		require.NoError(t, f.recon.HandleGroup(context.Background(), merchantAccount, settlement.TxnPayment, rows))
		assert.Equal(t, 0, f.txns.creates)
		assert.Empty(t, f.ledger.synced)
	})

	t.Run("seller split with total equal to fee raises", func(t *testing.T) {
		f := newReconFixture()
		rows := []settlement.Row{
			makeRow(t, map[string]string{
				settlement.ColAccountHolder: liableHolder,
				settlement.ColAmount:        "5.00",
			}),
			makeRow(t, map[string]string{
				settlement.ColAccountHolder: "Merchant1",
				settlement.ColAmount:        "0.00",
				settlement.ColDescription:   "Seller split",
			}),
		}
		err := f.recon.HandleGroup(context.Background(), merchantAccount, settlement.TxnPayment, rows)
		assert.True(t, settlement.IsReconciliationError(err))
	})

	t.Run("fee only group awaits next report", func(t *testing.T) {
		f := newReconFixture()
		rows := []settlement.Row{
			makeRow(t, map[string]string{
				settlement.ColAccountHolder: "Merchant1",
				settlement.ColAmount:        "-101.50",
				settlement.ColPspReference:  "psp_1",
			}),
		}
		require.NoError(t, f.recon.HandleGroup(context.Background(), merchantAccount, settlement.TxnPayment, rows))
		assert.Equal(t, 0, f.txns.creates)
	})
}

func TestHandleGroupMissingCharge(t *testing.T) {
	f := newReconFixture()

	err := f.recon.HandleGroup(context.Background(), merchantAccount, settlement.TxnPayment, paymentRows(t))
	assert.True(t, settlement.IsReconciliationError(err))
	assert.Equal(t, 0, f.txns.creates)
}

func TestHandleGroupRoundingSuffix(t *testing.T) {
	f := newReconFixture()
	f.addRefund("psp_r", "ch_1")

	rows := []settlement.Row{
		makeRow(t, map[string]string{
			settlement.ColAccountHolder: "Merchant1",
			settlement.ColAmount:        "-25.00",
			settlement.ColPspReference:  "psp_r",
		}),
		makeRow(t, map[string]string{
			settlement.ColAccountHolder: liableHolder,
			settlement.ColAmount:        "0.01",
			settlement.ColDescription:   "Remainder Fee for TRF001",
			settlement.ColPspReference:  "psp_r",
		}),
	}
	require.NoError(t, f.recon.HandleGroup(context.Background(), merchantAccount, settlement.TxnRefund, rows))

	txn, err := f.txns.GetByReference(context.Background(), merchantAccount, "TRF001")
	require.NoError(t, err)
	require.NotNil(t, txn)
	assert.Contains(t, txn.Description, "(0.01 Rounding Adjustment)")
	assert.Equal(t, eur(t, "-24.99"), txn.Amount)
}

func TestHandleGroupChargeback(t *testing.T) {
	chargebackRows := func(t *testing.T) []settlement.Row {
		return []settlement.Row{
			makeRow(t, map[string]string{
				settlement.ColAccountHolder: "Merchant1",
				settlement.ColAmount:        "-100.00",
				settlement.ColPspReference:  "psp_cb",
				settlement.ColStatus:        "lost",
			}),
		}
	}

	t.Run("direct debit marks charge failed without dispute", func(t *testing.T) {
		f := newReconFixture()
		charge := f.addCharge("psp_cb", payments.SourceBankAccount)

		require.NoError(t, f.recon.HandleGroup(context.Background(), merchantAccount, settlement.TxnChargeback, chargebackRows(t)))

		assert.Equal(t, []string{charge.ID}, f.records.failedCharges)
		assert.Nil(t, f.records.createdDispute)

		txn, err := f.txns.GetByReference(context.Background(), merchantAccount, "TRF001")
		require.NoError(t, err)
		require.NotNil(t, txn)
		assert.Nil(t, txn.DisputeID)
	})

	t.Run("replayed direct debit chargeback fails the charge once", func(t *testing.T) {
		f := newReconFixture()
		charge := f.addCharge("psp_cb", payments.SourceBankAccount)

		require.NoError(t, f.recon.HandleGroup(context.Background(), merchantAccount, settlement.TxnChargeback, chargebackRows(t)))
		require.NoError(t, f.recon.HandleGroup(context.Background(), merchantAccount, settlement.TxnChargeback, chargebackRows(t)))

		assert.Equal(t, []string{charge.ID}, f.records.failedCharges)
		assert.Equal(t, 1, f.txns.creates)
		assert.Equal(t, 0, f.txns.updates)
		assert.Len(t, f.ledger.synced, 1)
	})

	t.Run("card chargeback reconciles a dispute", func(t *testing.T) {
		f := newReconFixture()
		charge := f.addCharge("psp_cb", payments.SourceCard)

		require.NoError(t, f.recon.HandleGroup(context.Background(), merchantAccount, settlement.TxnChargeback, chargebackRows(t)))

		require.NotNil(t, f.records.createdDispute)
		assert.Equal(t, payments.DisputeLost, f.records.createdDispute.Status)
		require.NotNil(t, f.records.createdDispute.ChargeID)
		assert.Equal(t, charge.ID, *f.records.createdDispute.ChargeID)

		txn, err := f.txns.GetByReference(context.Background(), merchantAccount, "TRF001")
		require.NoError(t, err)
		require.NotNil(t, txn.DisputeID)
		assert.Equal(t, txn.ID, f.records.links["dispute:"+*txn.DisputeID])
	})
}

func TestHandleGroupRefundReversal(t *testing.T) {
	reversalRows := func(t *testing.T) []settlement.Row {
		return []settlement.Row{
			makeRow(t, map[string]string{
				settlement.ColAccountHolder: "Merchant1",
				settlement.ColAmount:        "25.00",
				settlement.ColPspReference:  "psp_r",
			}),
		}
	}

	t.Run("voids the refund and clears charge bookkeeping", func(t *testing.T) {
		f := newReconFixture()
		refund := f.addRefund("psp_r", "ch_1")

		require.NoError(t, f.recon.HandleGroup(context.Background(), merchantAccount, settlement.TxnRefundReversal, reversalRows(t)))

		assert.Equal(t, []string{refund.ID}, f.records.voidedRefunds)
		assert.Equal(t, []string{"ch_1"}, f.records.clearedCharges)
	})

	t.Run("already voided refund is not cleared again", func(t *testing.T) {
		f := newReconFixture()
		refund := f.addRefund("psp_r", "ch_1")
		refund.Status = payments.RefundVoided

		require.NoError(t, f.recon.HandleGroup(context.Background(), merchantAccount, settlement.TxnRefundReversal, reversalRows(t)))

		assert.Empty(t, f.records.voidedRefunds)
		assert.Empty(t, f.records.clearedCharges)
	})
}

func TestHandleGroupPaymentReversalAlert(t *testing.T) {
	reversalRows := func(t *testing.T, amount string) []settlement.Row {
		return []settlement.Row{
			makeRow(t, map[string]string{
				settlement.ColAccountHolder: "Merchant1",
				settlement.ColAmount:        amount,
			}),
		}
	}

	t.Run("alerts exactly once per transaction", func(t *testing.T) {
		f := newReconFixture()

		require.NoError(t, f.recon.HandleGroup(context.Background(), merchantAccount, settlement.TxnPaymentReversal, reversalRows(t, "-354.56")))
		require.Len(t, f.notifier.alerts, 1)

		// A restated group with different amounts updates the transaction
		// but must not alert again.
		require.NoError(t, f.recon.HandleGroup(context.Background(), merchantAccount, settlement.TxnPaymentReversal, reversalRows(t, "-300.00")))
		assert.Len(t, f.notifier.alerts, 1)
		assert.Equal(t, 1, f.txns.updates)
	})

	t.Run("delivery failure does not fail the group", func(t *testing.T) {
		f := newReconFixture()
		f.notifier.fail = true

		require.NoError(t, f.recon.HandleGroup(context.Background(), merchantAccount, settlement.TxnPaymentReversal, reversalRows(t, "-354.56")))

		assert.Equal(t, 1, f.txns.creates)
		// The alert marker stays unset so the next run retries delivery.
		assert.Empty(t, f.txns.alerts)
	})
}

func TestHandleGroupPayout(t *testing.T) {
	f := newReconFixture()

	rows := []settlement.Row{
		makeRow(t, map[string]string{
			settlement.ColAccountHolder: "Merchant1",
			settlement.ColAmount:        "-200.00",
			settlement.ColValueDate:     "2026-03-01",
		}),
		makeRow(t, map[string]string{
			settlement.ColAccountHolder: "Merchant1",
			settlement.ColAmount:        "-50.00",
		}),
	}
	require.NoError(t, f.recon.HandleGroup(context.Background(), merchantAccount, settlement.TxnPayout, rows))

	require.Len(t, f.payouts.created, 1)
	created := f.payouts.created[0]
	assert.Equal(t, merchantAccount, created.merchantAccount)
	assert.Equal(t, "TRF001", created.referenceID)
	assert.Equal(t, eur(t, "-250.00"), created.amount)
	require.NotNil(t, created.arrivesOn)

	assert.Equal(t, 0, f.txns.creates)
	assert.Empty(t, f.ledger.synced)
}
