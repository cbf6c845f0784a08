package payments_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconplatform/internal/common/money"
	"reconplatform/internal/payments"
)

// fakeStore is an in-memory payments.Store.
type fakeStore struct {
	charges  map[string]*payments.Charge
	flows    map[string]*payments.PaymentFlow
	refunds  map[string]*payments.Refund
	disputes map[string]*payments.Dispute
	payouts  map[string]*payments.Payout

	clearedCharges  []string
	reconciledFlows []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		charges:  make(map[string]*payments.Charge),
		flows:    make(map[string]*payments.PaymentFlow),
		refunds:  make(map[string]*payments.Refund),
		disputes: make(map[string]*payments.Dispute),
		payouts:  make(map[string]*payments.Payout),
	}
}

func (s *fakeStore) GetCharge(ctx context.Context, id string) (*payments.Charge, error) {
	if c, ok := s.charges[id]; ok {
		return c, nil
	}
	return nil, payments.ErrNotFound
}

func (s *fakeStore) GetChargeByGatewayID(ctx context.Context, merchantAccount, gatewayID string) (*payments.Charge, error) {
	for _, c := range s.charges {
		if c.MerchantAccount == merchantAccount && c.GatewayID == gatewayID && gatewayID != "" {
			return c, nil
		}
	}
	return nil, payments.ErrNotFound
}

func (s *fakeStore) CreateCharge(ctx context.Context, charge *payments.Charge) error {
	s.charges[charge.ID] = charge
	return nil
}

func (s *fakeStore) UpdateCharge(ctx context.Context, charge *payments.Charge) error {
	s.charges[charge.ID] = charge
	return nil
}

func (s *fakeStore) SetChargeTransaction(ctx context.Context, chargeID, transactionID string) error {
	return nil
}

func (s *fakeStore) ClearChargeRefunded(ctx context.Context, chargeID string) error {
	s.clearedCharges = append(s.clearedCharges, chargeID)
	return nil
}

func (s *fakeStore) GetPendingFlowByReference(ctx context.Context, merchantAccount, merchantReference string) (*payments.PaymentFlow, error) {
	for _, f := range s.flows {
		if f.MerchantAccount == merchantAccount && f.MerchantReference == merchantReference && f.Status == payments.FlowPending {
			return f, nil
		}
	}
	return nil, payments.ErrNotFound
}

func (s *fakeStore) MarkFlowReconciled(ctx context.Context, flowID string) error {
	if f, ok := s.flows[flowID]; ok {
		f.Status = payments.FlowReconciled
		s.reconciledFlows = append(s.reconciledFlows, flowID)
		return nil
	}
	return payments.ErrNotFound
}

func (s *fakeStore) GetRefund(ctx context.Context, id string) (*payments.Refund, error) {
	if r, ok := s.refunds[id]; ok {
		return r, nil
	}
	return nil, payments.ErrNotFound
}

func (s *fakeStore) GetRefundByGatewayID(ctx context.Context, merchantAccount, gatewayID string) (*payments.Refund, error) {
	for _, r := range s.refunds {
		if r.MerchantAccount == merchantAccount && r.GatewayID == gatewayID {
			return r, nil
		}
	}
	return nil, payments.ErrNotFound
}

func (s *fakeStore) UpdateRefund(ctx context.Context, refund *payments.Refund) error {
	s.refunds[refund.ID] = refund
	return nil
}

func (s *fakeStore) SetRefundTransaction(ctx context.Context, refundID, transactionID string) error {
	return nil
}

func (s *fakeStore) GetDisputeByGatewayID(ctx context.Context, merchantAccount, gatewayID string) (*payments.Dispute, error) {
	for _, d := range s.disputes {
		if d.MerchantAccount == merchantAccount && d.GatewayID == gatewayID && gatewayID != "" {
			return d, nil
		}
	}
	return nil, payments.ErrNotFound
}

func (s *fakeStore) GetEarliestDisputeForCharge(ctx context.Context, chargeID string) (*payments.Dispute, error) {
	for _, d := range s.disputes {
		if d.ChargeID != nil && *d.ChargeID == chargeID {
			return d, nil
		}
	}
	return nil, payments.ErrNotFound
}

func (s *fakeStore) GetUnmatchedDispute(ctx context.Context, merchantAccount string, chargeID *string) (*payments.Dispute, error) {
	for _, d := range s.disputes {
		if d.MerchantAccount != merchantAccount || d.GatewayID != "" {
			continue
		}
		if chargeID != nil && (d.ChargeID == nil || *d.ChargeID != *chargeID) {
			continue
		}
		return d, nil
	}
	return nil, payments.ErrNotFound
}

func (s *fakeStore) CreateDispute(ctx context.Context, dispute *payments.Dispute) error {
	s.disputes[dispute.ID] = dispute
	return nil
}

func (s *fakeStore) UpdateDispute(ctx context.Context, dispute *payments.Dispute) error {
	s.disputes[dispute.ID] = dispute
	return nil
}

func (s *fakeStore) SetDisputeTransaction(ctx context.Context, disputeID, transactionID string) error {
	return nil
}

func (s *fakeStore) GetPayoutByReference(ctx context.Context, merchantAccount, referenceID string) (*payments.Payout, error) {
	if p, ok := s.payouts[merchantAccount+"/"+referenceID]; ok {
		return p, nil
	}
	return nil, payments.ErrNotFound
}

func (s *fakeStore) CreatePayout(ctx context.Context, payout *payments.Payout) error {
	s.payouts[payout.MerchantAccount+"/"+payout.ReferenceID] = payout
	return nil
}

func newService(store payments.Store) *payments.Service {
	return payments.NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestResolveCharge(t *testing.T) {
	t.Run("existing charge by gateway id", func(t *testing.T) {
		store := newFakeStore()
		store.charges["ch_1"] = &payments.Charge{
			ID:              "ch_1",
			MerchantAccount: "acct_1",
			GatewayID:       "psp_1",
		}

		charge, err := newService(store).ResolveCharge(context.Background(), "acct_1", "psp_1", "")
		require.NoError(t, err)
		assert.Equal(t, "ch_1", charge.ID)
	})

	t.Run("pending flow reconciled into charge", func(t *testing.T) {
		store := newFakeStore()
		store.flows["fl_1"] = &payments.PaymentFlow{
			ID:                "fl_1",
			MerchantAccount:   "acct_1",
			MerchantReference: "order-42",
			Status:            payments.FlowPending,
			SourceType:        payments.SourceCard,
			Amount:            money.New(35456, money.EUR),
		}

		charge, err := newService(store).ResolveCharge(context.Background(), "acct_1", "psp_1", "order-42")
		require.NoError(t, err)
		assert.Equal(t, "psp_1", charge.GatewayID)
		assert.Equal(t, payments.ChargeSucceeded, charge.Status)
		assert.Equal(t, money.New(35456, money.EUR), charge.Amount)
		assert.Equal(t, []string{"fl_1"}, store.reconciledFlows)
	})

	t.Run("no charge and no reference", func(t *testing.T) {
		store := newFakeStore()
		_, err := newService(store).ResolveCharge(context.Background(), "acct_1", "psp_1", "")
		assert.ErrorIs(t, err, payments.ErrNotFound)
	})

	t.Run("no charge and no matching flow", func(t *testing.T) {
		store := newFakeStore()
		_, err := newService(store).ResolveCharge(context.Background(), "acct_1", "psp_1", "order-42")
		assert.ErrorIs(t, err, payments.ErrNotFound)
	})
}

func TestReconcileDispute(t *testing.T) {
	chargeID := "ch_1"

	t.Run("existing dispute by gateway id wins", func(t *testing.T) {
		store := newFakeStore()
		store.disputes["dsp_1"] = &payments.Dispute{
			ID:              "dsp_1",
			MerchantAccount: "acct_1",
			GatewayID:       "psp_cb",
		}

		dispute, err := newService(store).ReconcileDispute(context.Background(), payments.ReconcileDisputeParams{
			MerchantAccount: "acct_1",
			GatewayID:       "psp_cb",
		})
		require.NoError(t, err)
		assert.Equal(t, "dsp_1", dispute.ID)
	})

	t.Run("unmatched dispute adopted", func(t *testing.T) {
		store := newFakeStore()
		store.disputes["dsp_1"] = &payments.Dispute{
			ID:              "dsp_1",
			MerchantAccount: "acct_1",
			ChargeID:        &chargeID,
			GatewayID:       "",
			Status:          payments.DisputeOpen,
		}

		dispute, err := newService(store).ReconcileDispute(context.Background(), payments.ReconcileDisputeParams{
			MerchantAccount: "acct_1",
			GatewayID:       "psp_cb",
			ChargeID:        &chargeID,
			Status:          payments.DisputeLost,
			Amount:          money.New(-10000, money.EUR),
			Reason:          "fraud",
		})
		require.NoError(t, err)
		assert.Equal(t, "dsp_1", dispute.ID)
		assert.Equal(t, "psp_cb", dispute.GatewayID)
		assert.Equal(t, payments.DisputeLost, dispute.Status)
		assert.Equal(t, "fraud", dispute.Reason)
	})

	t.Run("new dispute created", func(t *testing.T) {
		store := newFakeStore()

		dispute, err := newService(store).ReconcileDispute(context.Background(), payments.ReconcileDisputeParams{
			MerchantAccount: "acct_1",
			GatewayID:       "psp_cb",
			Status:          payments.DisputeOpen,
			Amount:          money.New(-10000, money.EUR),
		})
		require.NoError(t, err)
		assert.NotEmpty(t, dispute.ID)
		assert.Equal(t, "psp_cb", dispute.GatewayID)
		assert.Len(t, store.disputes, 1)
	})
}

func TestMarkChargeFailed(t *testing.T) {
	store := newFakeStore()
	store.charges["ch_1"] = &payments.Charge{ID: "ch_1", Status: payments.ChargeSucceeded}
	svc := newService(store)

	changed, err := svc.MarkChargeFailed(context.Background(), "ch_1")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = svc.MarkChargeFailed(context.Background(), "ch_1")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestVoidRefund(t *testing.T) {
	store := newFakeStore()
	store.refunds["re_1"] = &payments.Refund{ID: "re_1", Status: payments.RefundSucceeded}
	svc := newService(store)

	voided, err := svc.VoidRefund(context.Background(), "re_1")
	require.NoError(t, err)
	assert.True(t, voided)

	voided, err = svc.VoidRefund(context.Background(), "re_1")
	require.NoError(t, err)
	assert.False(t, voided)
}

func TestCreatePayoutIdempotent(t *testing.T) {
	store := newFakeStore()
	svc := newService(store)

	amount := money.New(-25000, money.EUR)
	require.NoError(t, svc.CreatePayout(context.Background(), "acct_1", "TRF_P", amount, nil))
	require.NoError(t, svc.CreatePayout(context.Background(), "acct_1", "TRF_P", amount, nil))

	assert.Len(t, store.payouts, 1)
	payout := store.payouts["acct_1/TRF_P"]
	require.NotNil(t, payout)
	assert.Equal(t, amount, payout.Amount)
	assert.Equal(t, "paid", payout.Status)
}
