// Package ledger keeps per-merchant double-entry books for reconciled
// settlement activity. Settled funds move through a clearing account into
// the merchant payable balance; processor fees accrue as fee revenue.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"reconplatform/internal/common/database"
	"reconplatform/internal/common/money"
	"reconplatform/internal/ledger/domain"
	"reconplatform/internal/ledger/store"
	"reconplatform/internal/settlement"
)

// Service provides merchant ledger operations and implements the
// reconciliation engine's ledger sync contract.
type Service struct {
	store  *store.Store
	logger *slog.Logger
}

// NewService creates a new ledger service over the given querier.
func NewService(q database.Querier, logger *slog.Logger) *Service {
	return &Service{
		store:  store.New(q),
		logger: logger,
	}
}

var _ settlement.LedgerSync = (*Service)(nil)

// Ledger is one merchant account's book for one currency, with its chart
// accounts resolved.
type Ledger struct {
	merchantAccount string
	currency        money.Currency
	accounts        map[string]*domain.Account
	store           *store.Store
}

// Balance returns the current balance of a chart account.
func (l *Ledger) Balance(ctx context.Context, accountCode string) (int64, error) {
	account, ok := l.accounts[accountCode]
	if !ok {
		return 0, fmt.Errorf("unknown ledger account code %s", accountCode)
	}
	return l.store.GetAccountBalance(ctx, account.ID)
}

// GetLedger resolves a merchant's ledger for a currency, provisioning the
// chart accounts on first use.
func (s *Service) GetLedger(ctx context.Context, merchantAccount string, currency money.Currency) (settlement.LedgerHandle, error) {
	accounts := make(map[string]*domain.Account)

	for _, chart := range domain.MerchantChart() {
		account, err := s.store.GetAccountByCode(ctx, merchantAccount, currency, chart.Code)
		if errors.Is(err, database.ErrNotFound) {
			account, err = s.provisionAccount(ctx, merchantAccount, currency, chart.Code, chart.Name, chart.AccountType)
		}
		if err != nil {
			return nil, fmt.Errorf("resolving ledger account %s: %w", chart.Code, err)
		}
		accounts[chart.Code] = account
	}

	return &Ledger{
		merchantAccount: merchantAccount,
		currency:        currency,
		accounts:        accounts,
		store:           s.store,
	}, nil
}

func (s *Service) provisionAccount(ctx context.Context, merchantAccount string, currency money.Currency, code, name string, accountType domain.AccountType) (*domain.Account, error) {
	account, err := domain.NewAccount(ulid.Make().String(), merchantAccount, code, name, accountType, currency)
	if err != nil {
		return nil, err
	}
	account.IsSystem = true

	if err := s.store.CreateAccount(ctx, account); err != nil {
		// Concurrent provisioning: someone else won the insert.
		if errors.Is(err, database.ErrAlreadyExists) {
			return s.store.GetAccountByCode(ctx, merchantAccount, currency, code)
		}
		return nil, err
	}

	s.logger.Info("ledger account provisioned",
		"merchant_account", merchantAccount,
		"code", code,
		"currency", currency,
	)

	return account, nil
}

// SyncTransaction posts a reconciled transaction into the merchant ledger
// as a balanced batch: the gross amount between settlement clearing and the
// merchant payable balance, the fee between the payable balance and fee
// revenue. Negative amounts flip the debit and credit sides. Failures come
// back as *settlement.LedgerSyncError.
func (s *Service) SyncTransaction(ctx context.Context, handle settlement.LedgerHandle, txn *settlement.Transaction) error {
	l, ok := handle.(*Ledger)
	if !ok {
		return &settlement.LedgerSyncError{Err: fmt.Errorf("unexpected ledger handle type %T", handle)}
	}

	if txn.Amount.IsZero() && txn.Fee.IsZero() {
		return nil
	}

	clearing := l.accounts[domain.CodeSettlementClearing]
	payable := l.accounts[domain.CodeMerchantPayable]
	feeRevenue := l.accounts[domain.CodeFeeRevenue]

	batchID := ulid.Make().String()
	builder := domain.NewBatchBuilder(batchID, l.merchantAccount, sourceTypeFor(txn.Type), l.currency).
		WithReference(txn.ReferenceID).
		WithSourceID(txn.ID).
		WithDescription(txn.Description)

	if !txn.Amount.IsZero() {
		gross := txn.Amount.Abs()
		if txn.Amount.IsPositive() {
			builder.Debit(ulid.Make().String(), clearing.ID, gross, txn.Description)
			builder.Credit(ulid.Make().String(), payable.ID, gross, txn.Description)
		} else {
			builder.Debit(ulid.Make().String(), payable.ID, gross, txn.Description)
			builder.Credit(ulid.Make().String(), clearing.ID, gross, txn.Description)
		}
	}

	if !txn.Fee.IsZero() {
		fee := txn.Fee.Abs()
		feeDesc := fmt.Sprintf("Processing fee for %s", txn.ReferenceID)
		if txn.Fee.IsPositive() {
			builder.Debit(ulid.Make().String(), payable.ID, fee, feeDesc)
			builder.Credit(ulid.Make().String(), feeRevenue.ID, fee, feeDesc)
		} else {
			builder.Debit(ulid.Make().String(), feeRevenue.ID, fee, feeDesc)
			builder.Credit(ulid.Make().String(), payable.ID, fee, feeDesc)
		}
	}

	batch, err := builder.Build()
	if err != nil {
		return &settlement.LedgerSyncError{Err: fmt.Errorf("building batch for %s: %w", txn.ReferenceID, err)}
	}

	if err := s.store.CreateBatch(ctx, batch); err != nil {
		return &settlement.LedgerSyncError{Err: err}
	}
	if err := s.store.PostBatch(ctx, l.merchantAccount, batchID); err != nil {
		return &settlement.LedgerSyncError{Err: err}
	}

	s.logger.Info("transaction synced to ledger",
		"merchant_account", l.merchantAccount,
		"reference_id", txn.ReferenceID,
		"batch_id", batchID,
		"amount", txn.Amount.AmountMinor,
		"fee", txn.Fee.AmountMinor,
	)

	return nil
}

// GetBatch retrieves a posted batch with its entries.
func (s *Service) GetBatch(ctx context.Context, merchantAccount, id string) (*domain.Batch, error) {
	return s.store.GetBatchWithEntries(ctx, merchantAccount, id)
}

// ListAccounts lists a merchant ledger's accounts.
func (s *Service) ListAccounts(ctx context.Context, merchantAccount string) ([]*domain.Account, error) {
	return s.store.ListAccounts(ctx, merchantAccount)
}

// GetAccountEntries retrieves entries for an account, newest first.
func (s *Service) GetAccountEntries(ctx context.Context, accountID string, limit, offset int) ([]*domain.Entry, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	return s.store.GetAccountEntries(ctx, accountID, limit, offset)
}

func sourceTypeFor(t settlement.TxnType) domain.SourceType {
	switch t {
	case settlement.TxnPayment:
		return domain.SourceTypePayment
	case settlement.TxnPaymentReversal:
		return domain.SourceTypePaymentReversal
	case settlement.TxnRefund:
		return domain.SourceTypeRefund
	case settlement.TxnRefundReversal:
		return domain.SourceTypeRefundReversal
	case settlement.TxnChargeback:
		return domain.SourceTypeChargeback
	case settlement.TxnChargebackReversal:
		return domain.SourceTypeChargebackReversal
	case settlement.TxnTopUp:
		return domain.SourceTypeTopUp
	case settlement.TxnTransfer:
		return domain.SourceTypeTransfer
	default:
		return domain.SourceTypeAdjustment
	}
}
