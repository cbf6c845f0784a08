package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"reconplatform/internal/common/database"
	"reconplatform/internal/settlement"
)

// Status represents the processing status of a report.
type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
)

// ErrAlreadyIngested reports that a file with the same content hash was
// already ingested.
var ErrAlreadyIngested = errors.New("report already ingested")

// Report is one ingested settlement report file.
type Report struct {
	ID               string                    `json:"id"`
	MerchantAccount  string                    `json:"merchant_account"`
	FileName         string                    `json:"file_name"`
	FileHash         string                    `json:"file_hash"`
	Status           Status                    `json:"status"`
	GroupsTotal      int                       `json:"groups_total"`
	GroupsReconciled int                       `json:"groups_reconciled"`
	Failures         []settlement.GroupFailure `json:"failures,omitempty"`
	ErrorMessage     string                    `json:"error_message,omitempty"`
	ReceivedAt       time.Time                 `json:"received_at"`
	ProcessedAt      *time.Time                `json:"processed_at,omitempty"`
}

// Store handles report persistence.
type Store struct {
	q database.Querier
}

// NewStore creates a new report store.
func NewStore(q database.Querier) *Store {
	return &Store{q: q}
}

// Create inserts a new report record. The content hash makes re-delivery of
// the same file a no-op.
func (s *Store) Create(ctx context.Context, report *Report) error {
	query := `
		INSERT INTO settlement_reports (
			id, merchant_account, file_name, file_hash, status,
			groups_total, groups_reconciled, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (file_hash) DO NOTHING`

	tag, err := s.q.Exec(ctx, query,
		report.ID, report.MerchantAccount, report.FileName, report.FileHash,
		report.Status, report.GroupsTotal, report.GroupsReconciled,
		report.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("file %s: %w", report.FileHash, ErrAlreadyIngested)
	}
	return nil
}

// Get retrieves a report by id.
func (s *Store) Get(ctx context.Context, id string) (*Report, error) {
	query := `
		SELECT id, merchant_account, file_name, file_hash, status,
		       groups_total, groups_reconciled, failures, error_message,
		       received_at, processed_at
		FROM settlement_reports WHERE id = $1`

	return scanReport(s.q.QueryRow(ctx, query, id))
}

// ListByMerchant returns a merchant's reports, newest first.
func (s *Store) ListByMerchant(ctx context.Context, merchantAccount string, limit int) ([]*Report, error) {
	query := `
		SELECT id, merchant_account, file_name, file_hash, status,
		       groups_total, groups_reconciled, failures, error_message,
		       received_at, processed_at
		FROM settlement_reports
		WHERE merchant_account = $1
		ORDER BY received_at DESC
		LIMIT $2`

	rows, err := s.q.Query(ctx, query, merchantAccount, limit)
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}
	defer rows.Close()

	var reports []*Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

// MarkProcessed records a finished run's outcome on the report.
func (s *Store) MarkProcessed(ctx context.Context, id string, run *settlement.RunReport) error {
	var failures []byte
	if len(run.Failures) > 0 {
		data, err := json.Marshal(run.Failures)
		if err != nil {
			return fmt.Errorf("encoding failure roster: %w", err)
		}
		failures = data
	}

	query := `
		UPDATE settlement_reports
		SET status = $2, groups_total = $3, groups_reconciled = $4,
		    failures = $5, processed_at = $6
		WHERE id = $1`

	_, err := s.q.Exec(ctx, query, id, StatusProcessed,
		run.Groups, run.Reconciled, failures, time.Now())
	if err != nil {
		return fmt.Errorf("marking report processed: %w", err)
	}
	return nil
}

// MarkFailed records a fatal run failure on the report.
func (s *Store) MarkFailed(ctx context.Context, id, errorMessage string) error {
	query := `UPDATE settlement_reports SET status = $2, error_message = $3 WHERE id = $1`
	_, err := s.q.Exec(ctx, query, id, StatusFailed, errorMessage)
	if err != nil {
		return fmt.Errorf("marking report failed: %w", err)
	}
	return nil
}

func scanReport(row pgx.Row) (*Report, error) {
	var (
		r            Report
		failures     []byte
		errorMessage *string
	)
	err := row.Scan(
		&r.ID, &r.MerchantAccount, &r.FileName, &r.FileHash, &r.Status,
		&r.GroupsTotal, &r.GroupsReconciled, &failures, &errorMessage,
		&r.ReceivedAt, &r.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning report: %w", err)
	}
	if errorMessage != nil {
		r.ErrorMessage = *errorMessage
	}
	if len(failures) > 0 {
		if err := json.Unmarshal(failures, &r.Failures); err != nil {
			return nil, fmt.Errorf("decoding failure roster: %w", err)
		}
	}
	return &r, nil
}
