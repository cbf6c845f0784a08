package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"reconplatform/internal/common/database"
	"reconplatform/internal/common/money"
	"reconplatform/internal/ledger/domain"
)

// Store provides ledger data access. It runs against any Querier so batch
// posting joins whatever transaction the caller already holds.
type Store struct {
	q database.Querier
}

// New creates a new ledger store
func New(q database.Querier) *Store {
	return &Store{q: q}
}

// CreateAccount creates a new ledger account
func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO ledger_accounts (
			id, merchant_account, code, name, description, account_type,
			normal_balance, currency, is_system, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	_, err := s.q.Exec(ctx, query,
		account.ID,
		account.MerchantAccount,
		account.Code,
		account.Name,
		account.Description,
		account.AccountType,
		account.NormalBalance,
		account.Currency,
		account.IsSystem,
		account.Status,
		account.CreatedAt,
		account.UpdatedAt,
	)

	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("account with code %s already exists: %w", account.Code, database.ErrAlreadyExists)
		}
		return fmt.Errorf("creating account: %w", err)
	}

	return nil
}

// GetAccountByCode retrieves an account by code within a merchant's ledger
func (s *Store) GetAccountByCode(ctx context.Context, merchantAccount string, currency money.Currency, code string) (*domain.Account, error) {
	query := `
		SELECT id, merchant_account, code, name, description, account_type,
			   normal_balance, currency, is_system, status, created_at, updated_at
		FROM ledger_accounts
		WHERE merchant_account = $1 AND currency = $2 AND code = $3
	`

	row := s.q.QueryRow(ctx, query, merchantAccount, currency, code)
	return scanAccount(row)
}

// ListAccounts lists a merchant ledger's accounts ordered by code
func (s *Store) ListAccounts(ctx context.Context, merchantAccount string) ([]*domain.Account, error) {
	query := `
		SELECT id, merchant_account, code, name, description, account_type,
			   normal_balance, currency, is_system, status, created_at, updated_at
		FROM ledger_accounts
		WHERE merchant_account = $1
		ORDER BY currency, code
	`

	rows, err := s.q.Query(ctx, query, merchantAccount)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		account, err := scanAccountRows(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	return accounts, rows.Err()
}

// CreateBatch inserts a validated batch with its entries
func (s *Store) CreateBatch(ctx context.Context, batch *domain.Batch) error {
	if err := batch.Validate(); err != nil {
		return err
	}

	batchQuery := `
		INSERT INTO ledger_batches (
			id, merchant_account, reference, description, source_type, source_id,
			total_debits, total_credits, entry_count, currency, status,
			posted_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	_, err := s.q.Exec(ctx, batchQuery,
		batch.ID,
		batch.MerchantAccount,
		batch.Reference,
		batch.Description,
		batch.SourceType,
		batch.SourceID,
		batch.TotalDebits.AmountMinor,
		batch.TotalCredits.AmountMinor,
		batch.EntryCount,
		batch.TotalDebits.Currency,
		batch.Status,
		batch.PostedAt,
		batch.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting batch: %w", err)
	}

	entryQuery := `
		INSERT INTO ledger_entries (
			id, batch_id, account_id, entry_type, amount, currency,
			balance_after, description, sequence, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	for _, entry := range batch.Entries {
		_, err := s.q.Exec(ctx, entryQuery,
			entry.ID,
			entry.BatchID,
			entry.AccountID,
			entry.EntryType,
			entry.Amount.AmountMinor,
			entry.Amount.Currency,
			entry.BalanceAfter,
			entry.Description,
			entry.Sequence,
			entry.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting entry: %w", err)
		}
	}

	return nil
}

// PostBatch posts a pending batch, stamping running balances onto its
// entries. The caller is expected to hold a transaction.
func (s *Store) PostBatch(ctx context.Context, merchantAccount, batchID string) error {
	batch, err := s.getBatchForUpdate(ctx, merchantAccount, batchID)
	if err != nil {
		return err
	}

	if batch.Status != domain.BatchStatusPending {
		return errors.New("batch is not pending")
	}

	entries, err := s.GetEntries(ctx, batchID)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		currentBalance, err := s.GetAccountBalance(ctx, entry.AccountID)
		if err != nil {
			return err
		}

		var normalBalance domain.NormalBalance
		err = s.q.QueryRow(ctx, `
			SELECT normal_balance FROM ledger_accounts WHERE id = $1
		`, entry.AccountID).Scan(&normalBalance)
		if err != nil {
			return fmt.Errorf("getting account: %w", err)
		}

		var newBalance int64
		if normalBalance == domain.NormalBalanceDebit {
			if entry.EntryType == domain.EntryTypeDebit {
				newBalance = currentBalance + entry.Amount.AmountMinor
			} else {
				newBalance = currentBalance - entry.Amount.AmountMinor
			}
		} else {
			if entry.EntryType == domain.EntryTypeCredit {
				newBalance = currentBalance + entry.Amount.AmountMinor
			} else {
				newBalance = currentBalance - entry.Amount.AmountMinor
			}
		}

		_, err = s.q.Exec(ctx, `
			UPDATE ledger_entries SET balance_after = $1 WHERE id = $2
		`, newBalance, entry.ID)
		if err != nil {
			return fmt.Errorf("updating entry balance: %w", err)
		}
	}

	now := time.Now().UTC()
	_, err = s.q.Exec(ctx, `
		UPDATE ledger_batches
		SET status = $1, posted_at = $2
		WHERE id = $3
	`, domain.BatchStatusPosted, now, batchID)
	if err != nil {
		return fmt.Errorf("posting batch: %w", err)
	}

	return nil
}

// GetBatch retrieves a batch by ID
func (s *Store) GetBatch(ctx context.Context, merchantAccount, id string) (*domain.Batch, error) {
	query := `
		SELECT id, merchant_account, reference, description, source_type, source_id,
			   total_debits, total_credits, entry_count, currency, status,
			   posted_at, reversed_at, reversal_reason, created_at
		FROM ledger_batches
		WHERE merchant_account = $1 AND id = $2
	`

	row := s.q.QueryRow(ctx, query, merchantAccount, id)
	return scanBatch(row)
}

// GetBatchWithEntries retrieves a batch with its entries
func (s *Store) GetBatchWithEntries(ctx context.Context, merchantAccount, id string) (*domain.Batch, error) {
	batch, err := s.GetBatch(ctx, merchantAccount, id)
	if err != nil {
		return nil, err
	}

	entries, err := s.GetEntries(ctx, id)
	if err != nil {
		return nil, err
	}

	batch.Entries = entries
	return batch, nil
}

// GetEntries retrieves entries for a batch
func (s *Store) GetEntries(ctx context.Context, batchID string) ([]*domain.Entry, error) {
	query := `
		SELECT id, batch_id, account_id, entry_type, amount, currency,
			   balance_after, description, sequence, created_at
		FROM ledger_entries
		WHERE batch_id = $1
		ORDER BY sequence
	`

	rows, err := s.q.Query(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("getting entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// GetAccountEntries retrieves entries for an account, newest first
func (s *Store) GetAccountEntries(ctx context.Context, accountID string, limit, offset int) ([]*domain.Entry, int64, error) {
	countQuery := `SELECT COUNT(*) FROM ledger_entries WHERE account_id = $1`

	var total int64
	err := s.q.QueryRow(ctx, countQuery, accountID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting entries: %w", err)
	}

	query := `
		SELECT id, batch_id, account_id, entry_type, amount, currency,
			   balance_after, description, sequence, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.q.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	return entries, total, err
}

// GetAccountBalance retrieves the current balance for an account
func (s *Store) GetAccountBalance(ctx context.Context, accountID string) (int64, error) {
	query := `
		SELECT COALESCE(
			(SELECT balance_after FROM ledger_entries
			 WHERE account_id = $1 AND balance_after IS NOT NULL
			 ORDER BY created_at DESC, sequence DESC LIMIT 1),
			0
		)
	`

	var balance int64
	err := s.q.QueryRow(ctx, query, accountID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("getting balance: %w", err)
	}

	return balance, nil
}

func (s *Store) getBatchForUpdate(ctx context.Context, merchantAccount, id string) (*domain.Batch, error) {
	query := `
		SELECT id, merchant_account, reference, description, source_type, source_id,
			   total_debits, total_credits, entry_count, currency, status,
			   posted_at, reversed_at, reversal_reason, created_at
		FROM ledger_batches
		WHERE merchant_account = $1 AND id = $2
		FOR UPDATE
	`

	row := s.q.QueryRow(ctx, query, merchantAccount, id)
	return scanBatch(row)
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.ID, &a.MerchantAccount, &a.Code, &a.Name, &a.Description,
		&a.AccountType, &a.NormalBalance, &a.Currency, &a.IsSystem,
		&a.Status, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning account: %w", err)
	}
	return &a, nil
}

func scanAccountRows(rows pgx.Rows) (*domain.Account, error) {
	var a domain.Account
	err := rows.Scan(
		&a.ID, &a.MerchantAccount, &a.Code, &a.Name, &a.Description,
		&a.AccountType, &a.NormalBalance, &a.Currency, &a.IsSystem,
		&a.Status, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning account: %w", err)
	}
	return &a, nil
}

func scanBatch(row pgx.Row) (*domain.Batch, error) {
	var b domain.Batch
	var totalDebits, totalCredits int64
	var currency string
	err := row.Scan(
		&b.ID, &b.MerchantAccount, &b.Reference, &b.Description, &b.SourceType, &b.SourceID,
		&totalDebits, &totalCredits, &b.EntryCount, &currency, &b.Status,
		&b.PostedAt, &b.ReversedAt, &b.ReversalReason, &b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning batch: %w", err)
	}
	b.TotalDebits = money.New(totalDebits, money.Currency(currency))
	b.TotalCredits = money.New(totalCredits, money.Currency(currency))
	return &b, nil
}

func scanEntries(rows pgx.Rows) ([]*domain.Entry, error) {
	var entries []*domain.Entry
	for rows.Next() {
		var e domain.Entry
		var amount int64
		var currency string
		err := rows.Scan(
			&e.ID, &e.BatchID, &e.AccountID, &e.EntryType, &amount, &currency,
			&e.BalanceAfter, &e.Description, &e.Sequence, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		e.Amount = money.New(amount, money.Currency(currency))
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
