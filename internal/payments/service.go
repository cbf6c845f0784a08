package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"reconplatform/internal/common/money"
)

// Store persists payment domain records.
type Store interface {
	GetCharge(ctx context.Context, id string) (*Charge, error)
	GetChargeByGatewayID(ctx context.Context, merchantAccount, gatewayID string) (*Charge, error)
	CreateCharge(ctx context.Context, charge *Charge) error
	UpdateCharge(ctx context.Context, charge *Charge) error
	SetChargeTransaction(ctx context.Context, chargeID, transactionID string) error
	ClearChargeRefunded(ctx context.Context, chargeID string) error

	GetPendingFlowByReference(ctx context.Context, merchantAccount, merchantReference string) (*PaymentFlow, error)
	MarkFlowReconciled(ctx context.Context, flowID string) error

	GetRefund(ctx context.Context, id string) (*Refund, error)
	GetRefundByGatewayID(ctx context.Context, merchantAccount, gatewayID string) (*Refund, error)
	UpdateRefund(ctx context.Context, refund *Refund) error
	SetRefundTransaction(ctx context.Context, refundID, transactionID string) error

	GetDisputeByGatewayID(ctx context.Context, merchantAccount, gatewayID string) (*Dispute, error)
	GetEarliestDisputeForCharge(ctx context.Context, chargeID string) (*Dispute, error)
	GetUnmatchedDispute(ctx context.Context, merchantAccount string, chargeID *string) (*Dispute, error)
	CreateDispute(ctx context.Context, dispute *Dispute) error
	UpdateDispute(ctx context.Context, dispute *Dispute) error
	SetDisputeTransaction(ctx context.Context, disputeID, transactionID string) error

	GetPayoutByReference(ctx context.Context, merchantAccount, referenceID string) (*Payout, error)
	CreatePayout(ctx context.Context, payout *Payout) error
}

// Service provides domain-record resolution and the status transitions the
// reconciliation engine triggers.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a new payments service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// FindCharge locates a charge by its gateway-assigned id.
func (s *Service) FindCharge(ctx context.Context, merchantAccount, gatewayID string) (*Charge, error) {
	return s.store.GetChargeByGatewayID(ctx, merchantAccount, gatewayID)
}

// ResolveCharge locates an existing charge by gateway id. On a miss it falls
// back to a pending payment flow with the same merchant reference and
// reconciles it into a new charge. Failures on the fallback path are treated
// as "no charge found" rather than aborting the group.
func (s *Service) ResolveCharge(ctx context.Context, merchantAccount, gatewayID, merchantReference string) (*Charge, error) {
	charge, err := s.store.GetChargeByGatewayID(ctx, merchantAccount, gatewayID)
	if err == nil {
		return charge, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if merchantReference == "" {
		return nil, ErrNotFound
	}

	flow, err := s.store.GetPendingFlowByReference(ctx, merchantAccount, merchantReference)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("payment flow lookup failed, treating as no charge",
				"merchant_account", merchantAccount,
				"merchant_reference", merchantReference,
				"error", err,
			)
		}
		return nil, ErrNotFound
	}

	charge, err = s.reconcileFlow(ctx, flow, gatewayID)
	if err != nil {
		s.logger.Warn("payment flow reconciliation failed, treating as no charge",
			"flow_id", flow.ID,
			"error", err,
		)
		return nil, ErrNotFound
	}

	return charge, nil
}

// reconcileFlow converts a pending payment flow into a charge.
func (s *Service) reconcileFlow(ctx context.Context, flow *PaymentFlow, gatewayID string) (*Charge, error) {
	now := time.Now().UTC()
	charge := &Charge{
		ID:                ulid.Make().String(),
		MerchantAccount:   flow.MerchantAccount,
		GatewayID:         gatewayID,
		MerchantReference: flow.MerchantReference,
		SourceType:        flow.SourceType,
		Status:            ChargeSucceeded,
		Amount:            flow.Amount,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.store.CreateCharge(ctx, charge); err != nil {
		return nil, fmt.Errorf("creating charge from flow %s: %w", flow.ID, err)
	}
	if err := s.store.MarkFlowReconciled(ctx, flow.ID); err != nil {
		return nil, fmt.Errorf("marking flow %s reconciled: %w", flow.ID, err)
	}

	s.logger.Info("payment flow reconciled into charge",
		"flow_id", flow.ID,
		"charge_id", charge.ID,
		"gateway_id", gatewayID,
	)

	return charge, nil
}

// FindRefund locates a refund by its gateway-assigned id.
func (s *Service) FindRefund(ctx context.Context, merchantAccount, gatewayID string) (*Refund, error) {
	return s.store.GetRefundByGatewayID(ctx, merchantAccount, gatewayID)
}

// FindDispute locates a dispute by its gateway-assigned id.
func (s *Service) FindDispute(ctx context.Context, merchantAccount, gatewayID string) (*Dispute, error) {
	return s.store.GetDisputeByGatewayID(ctx, merchantAccount, gatewayID)
}

// EarliestDisputeForCharge returns the oldest dispute linked to a charge.
func (s *Service) EarliestDisputeForCharge(ctx context.Context, chargeID string) (*Dispute, error) {
	return s.store.GetEarliestDisputeForCharge(ctx, chargeID)
}

// ReconcileDispute resolves a dispute from chargeback row metadata,
// preferring an existing unmatched dispute over creating a new one.
func (s *Service) ReconcileDispute(ctx context.Context, params ReconcileDisputeParams) (*Dispute, error) {
	dispute, err := s.store.GetDisputeByGatewayID(ctx, params.MerchantAccount, params.GatewayID)
	if err == nil {
		return dispute, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	dispute, err = s.store.GetUnmatchedDispute(ctx, params.MerchantAccount, params.ChargeID)
	if err == nil {
		dispute.GatewayID = params.GatewayID
		dispute.Status = params.Status
		dispute.Amount = params.Amount
		dispute.Reason = params.Reason
		if dispute.ChargeID == nil {
			dispute.ChargeID = params.ChargeID
		}
		if err := s.store.UpdateDispute(ctx, dispute); err != nil {
			return nil, err
		}
		s.logger.Info("matched existing dispute",
			"dispute_id", dispute.ID,
			"gateway_id", params.GatewayID,
		)
		return dispute, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	dispute = &Dispute{
		ID:              ulid.Make().String(),
		MerchantAccount: params.MerchantAccount,
		ChargeID:        params.ChargeID,
		GatewayID:       params.GatewayID,
		Status:          params.Status,
		Amount:          params.Amount,
		Reason:          params.Reason,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateDispute(ctx, dispute); err != nil {
		return nil, err
	}

	s.logger.Info("dispute created from chargeback",
		"dispute_id", dispute.ID,
		"gateway_id", params.GatewayID,
		"amount", params.Amount.AmountMinor,
	)

	return dispute, nil
}

// MarkChargeFailed transitions a charge to failed. Returns false when the
// charge is already failed, so replays stay idempotent.
func (s *Service) MarkChargeFailed(ctx context.Context, chargeID string) (bool, error) {
	charge, err := s.store.GetCharge(ctx, chargeID)
	if err != nil {
		return false, err
	}
	if charge.Status == ChargeFailed {
		return false, nil
	}

	charge.Status = ChargeFailed
	charge.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateCharge(ctx, charge); err != nil {
		return false, err
	}

	s.logger.Info("charge marked failed", "charge_id", chargeID)
	return true, nil
}

// VoidRefund transitions a refund to voided. Returns false when the refund
// is already voided.
func (s *Service) VoidRefund(ctx context.Context, refundID string) (bool, error) {
	refund, err := s.store.GetRefund(ctx, refundID)
	if err != nil {
		return false, err
	}
	if refund.Status == RefundVoided {
		return false, nil
	}

	refund.Status = RefundVoided
	refund.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateRefund(ctx, refund); err != nil {
		return false, err
	}

	s.logger.Info("refund voided", "refund_id", refundID)
	return true, nil
}

// ClearRefundedAmount resets a charge's refunded-amount bookkeeping after a
// refund reversal.
func (s *Service) ClearRefundedAmount(ctx context.Context, chargeID string) error {
	return s.store.ClearChargeRefunded(ctx, chargeID)
}

// LinkChargeTransaction links a reconciled transaction onto a charge.
func (s *Service) LinkChargeTransaction(ctx context.Context, chargeID, transactionID string) error {
	return s.store.SetChargeTransaction(ctx, chargeID, transactionID)
}

// LinkRefundTransaction links a reconciled transaction onto a refund.
func (s *Service) LinkRefundTransaction(ctx context.Context, refundID, transactionID string) error {
	return s.store.SetRefundTransaction(ctx, refundID, transactionID)
}

// LinkDisputeTransaction links a reconciled transaction onto a dispute.
func (s *Service) LinkDisputeTransaction(ctx context.Context, disputeID, transactionID string) error {
	return s.store.SetDisputeTransaction(ctx, disputeID, transactionID)
}

// CreatePayout records a processor payout. Creation is idempotent on
// (merchant account, reference id).
func (s *Service) CreatePayout(ctx context.Context, merchantAccount, referenceID string, amount money.Money, arrivesOn *time.Time) error {
	_, err := s.store.GetPayoutByReference(ctx, merchantAccount, referenceID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	payout := &Payout{
		ID:              ulid.Make().String(),
		MerchantAccount: merchantAccount,
		ReferenceID:     referenceID,
		Amount:          amount,
		Status:          "paid",
		ArrivesOn:       arrivesOn,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.CreatePayout(ctx, payout); err != nil {
		return fmt.Errorf("creating payout %s: %w", referenceID, err)
	}

	s.logger.Info("payout recorded",
		"merchant_account", merchantAccount,
		"reference_id", referenceID,
		"amount", amount.AmountMinor,
	)

	return nil
}
