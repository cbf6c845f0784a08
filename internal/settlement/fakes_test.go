package settlement_test

import (
	"context"
	"errors"
	"time"

	"reconplatform/internal/common/money"
	"reconplatform/internal/payments"
	"reconplatform/internal/settlement"
)

// fakeTxnStore is an in-memory TransactionStore keyed by merchant+reference.
type fakeTxnStore struct {
	txns    map[string]*settlement.Transaction
	alerts  map[string]bool
	creates int
	updates int
}

func newFakeTxnStore() *fakeTxnStore {
	return &fakeTxnStore{
		txns:   make(map[string]*settlement.Transaction),
		alerts: make(map[string]bool),
	}
}

func (s *fakeTxnStore) key(merchantAccount, referenceID string) string {
	return merchantAccount + "/" + referenceID
}

func (s *fakeTxnStore) FindExact(ctx context.Context, merchantAccount, referenceID string, amount, fee money.Money) (*settlement.Transaction, error) {
	txn := s.txns[s.key(merchantAccount, referenceID)]
	if txn == nil || !txn.Amount.Equal(amount) || !txn.Fee.Equal(fee) {
		return nil, nil
	}
	return txn, nil
}

func (s *fakeTxnStore) GetByReference(ctx context.Context, merchantAccount, referenceID string) (*settlement.Transaction, error) {
	return s.txns[s.key(merchantAccount, referenceID)], nil
}

func (s *fakeTxnStore) Create(ctx context.Context, txn *settlement.Transaction) error {
	s.txns[s.key(txn.MerchantAccount, txn.ReferenceID)] = txn
	s.creates++
	return nil
}

func (s *fakeTxnStore) Update(ctx context.Context, txn *settlement.Transaction) error {
	s.txns[s.key(txn.MerchantAccount, txn.ReferenceID)] = txn
	s.updates++
	return nil
}

func (s *fakeTxnStore) HasReversalAlert(ctx context.Context, transactionID string) (bool, error) {
	return s.alerts[transactionID], nil
}

func (s *fakeTxnStore) MarkReversalAlert(ctx context.Context, transactionID string) error {
	s.alerts[transactionID] = true
	return nil
}

// fakeRecords is an in-memory PaymentRecords backed by fixture maps keyed by
// gateway id.
type fakeRecords struct {
	charges  map[string]*payments.Charge
	refunds  map[string]*payments.Refund
	disputes map[string]*payments.Dispute

	failedCharges  []string
	voidedRefunds  []string
	clearedCharges []string
	createdDispute *payments.Dispute
	links          map[string]string
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{
		charges:  make(map[string]*payments.Charge),
		refunds:  make(map[string]*payments.Refund),
		disputes: make(map[string]*payments.Dispute),
		links:    make(map[string]string),
	}
}

func (r *fakeRecords) FindCharge(ctx context.Context, merchantAccount, gatewayID string) (*payments.Charge, error) {
	if c, ok := r.charges[gatewayID]; ok {
		return c, nil
	}
	return nil, payments.ErrNotFound
}

func (r *fakeRecords) ResolveCharge(ctx context.Context, merchantAccount, gatewayID, merchantReference string) (*payments.Charge, error) {
	return r.FindCharge(ctx, merchantAccount, gatewayID)
}

func (r *fakeRecords) FindRefund(ctx context.Context, merchantAccount, gatewayID string) (*payments.Refund, error) {
	if ref, ok := r.refunds[gatewayID]; ok {
		return ref, nil
	}
	return nil, payments.ErrNotFound
}

func (r *fakeRecords) FindDispute(ctx context.Context, merchantAccount, gatewayID string) (*payments.Dispute, error) {
	if d, ok := r.disputes[gatewayID]; ok {
		return d, nil
	}
	return nil, payments.ErrNotFound
}

func (r *fakeRecords) EarliestDisputeForCharge(ctx context.Context, chargeID string) (*payments.Dispute, error) {
	for _, d := range r.disputes {
		if d.ChargeID != nil && *d.ChargeID == chargeID {
			return d, nil
		}
	}
	return nil, payments.ErrNotFound
}

func (r *fakeRecords) ReconcileDispute(ctx context.Context, params payments.ReconcileDisputeParams) (*payments.Dispute, error) {
	if d, ok := r.disputes[params.GatewayID]; ok {
		return d, nil
	}
	d := &payments.Dispute{
		ID:              "dsp_" + params.GatewayID,
		MerchantAccount: params.MerchantAccount,
		ChargeID:        params.ChargeID,
		GatewayID:       params.GatewayID,
		Status:          params.Status,
		Amount:          params.Amount,
		Reason:          params.Reason,
	}
	r.disputes[params.GatewayID] = d
	r.createdDispute = d
	return d, nil
}

func (r *fakeRecords) MarkChargeFailed(ctx context.Context, chargeID string) (bool, error) {
	for _, c := range r.charges {
		if c.ID != chargeID {
			continue
		}
		if c.Status == payments.ChargeFailed {
			return false, nil
		}
		c.Status = payments.ChargeFailed
		r.failedCharges = append(r.failedCharges, chargeID)
		return true, nil
	}
	return false, payments.ErrNotFound
}

func (r *fakeRecords) VoidRefund(ctx context.Context, refundID string) (bool, error) {
	for _, ref := range r.refunds {
		if ref.ID != refundID {
			continue
		}
		if ref.Status == payments.RefundVoided {
			return false, nil
		}
		ref.Status = payments.RefundVoided
		r.voidedRefunds = append(r.voidedRefunds, refundID)
		return true, nil
	}
	return false, payments.ErrNotFound
}

func (r *fakeRecords) ClearRefundedAmount(ctx context.Context, chargeID string) error {
	r.clearedCharges = append(r.clearedCharges, chargeID)
	return nil
}

func (r *fakeRecords) LinkChargeTransaction(ctx context.Context, chargeID, transactionID string) error {
	r.links["charge:"+chargeID] = transactionID
	return nil
}

func (r *fakeRecords) LinkRefundTransaction(ctx context.Context, refundID, transactionID string) error {
	r.links["refund:"+refundID] = transactionID
	return nil
}

func (r *fakeRecords) LinkDisputeTransaction(ctx context.Context, disputeID, transactionID string) error {
	r.links["dispute:"+disputeID] = transactionID
	return nil
}

// fakeLedger records synced transactions.
type fakeLedger struct {
	synced  []*settlement.Transaction
	syncErr error
}

type fakeLedgerHandle struct{}

func (h fakeLedgerHandle) Balance(ctx context.Context, accountCode string) (int64, error) {
	return 0, nil
}

func (l *fakeLedger) GetLedger(ctx context.Context, merchantAccount string, currency money.Currency) (settlement.LedgerHandle, error) {
	return fakeLedgerHandle{}, nil
}

func (l *fakeLedger) SyncTransaction(ctx context.Context, handle settlement.LedgerHandle, txn *settlement.Transaction) error {
	if l.syncErr != nil {
		return l.syncErr
	}
	l.synced = append(l.synced, txn)
	return nil
}

// fakePayouts records delegated payout creations.
type fakePayouts struct {
	created []fakePayout
}

type fakePayout struct {
	merchantAccount string
	referenceID     string
	amount          money.Money
	arrivesOn       *time.Time
}

func (p *fakePayouts) CreatePayout(ctx context.Context, merchantAccount, referenceID string, amount money.Money, arrivesOn *time.Time) error {
	p.created = append(p.created, fakePayout{
		merchantAccount: merchantAccount,
		referenceID:     referenceID,
		amount:          amount,
		arrivesOn:       arrivesOn,
	})
	return nil
}

// fakeNotifier records reversal alerts and can simulate delivery failure.
type fakeNotifier struct {
	alerts []string
	fail   bool
}

func (n *fakeNotifier) PaymentReversalAlert(ctx context.Context, txn *settlement.Transaction, rowID string) error {
	if n.fail {
		return errors.New("alert channel down")
	}
	n.alerts = append(n.alerts, txn.ID)
	return nil
}
