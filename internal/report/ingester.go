package report

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"reconplatform/internal/common/database"
	"reconplatform/internal/common/events"
	"reconplatform/internal/ledger"
	"reconplatform/internal/payments"
	"reconplatform/internal/settlement"
)

// Ingester accepts report files, records them, and runs reconciliation over
// their rows in a single database transaction.
type Ingester struct {
	db           *database.DB
	reports      *Store
	publisher    events.EventPublisher
	notifier     settlement.Notifier
	liableHolder string
	logger       *slog.Logger
}

// NewIngester creates a new report ingester. The publisher and notifier may
// be nil when eventing is disabled.
func NewIngester(db *database.DB, publisher events.EventPublisher, notifier settlement.Notifier, liableHolder string, logger *slog.Logger) *Ingester {
	return &Ingester{
		db:           db,
		reports:      NewStore(db),
		publisher:    publisher,
		notifier:     notifier,
		liableHolder: liableHolder,
		logger:       logger,
	}
}

// Reports exposes the underlying report store for read endpoints.
func (in *Ingester) Reports() *Store {
	return in.reports
}

// Ingest reads a report file, records it, and reconciles its rows. The
// report record itself lives outside the run transaction so a failed run
// still leaves an auditable failed report behind. Re-delivery of a file with
// the same content returns ErrAlreadyIngested.
func (in *Ingester) Ingest(ctx context.Context, merchantAccount, fileName string, file io.Reader) (*Report, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("reading report file: %w", err)
	}

	sum := sha256.Sum256(data)
	report := &Report{
		ID:              ulid.Make().String(),
		MerchantAccount: merchantAccount,
		FileName:        fileName,
		FileHash:        hex.EncodeToString(sum[:]),
		Status:          StatusPending,
		ReceivedAt:      time.Now(),
	}
	if err := in.reports.Create(ctx, report); err != nil {
		return nil, err
	}

	in.logger.Info("ingesting settlement report",
		"report_id", report.ID,
		"merchant_account", merchantAccount,
		"file_name", fileName,
	)

	run, runErr := in.reconcile(ctx, merchantAccount, data)
	if runErr != nil {
		if err := in.reports.MarkFailed(ctx, report.ID, runErr.Error()); err != nil {
			in.logger.Error("failed to mark report failed", "report_id", report.ID, "error", err)
		}
		in.publish(ctx, events.EventReportFailed, report, nil)
		return nil, fmt.Errorf("reconciling report %s: %w", report.ID, runErr)
	}

	if err := in.reports.MarkProcessed(ctx, report.ID, run); err != nil {
		return nil, fmt.Errorf("marking report processed: %w", err)
	}
	report.Status = StatusProcessed
	report.GroupsTotal = run.Groups
	report.GroupsReconciled = run.Reconciled
	report.Failures = run.Failures

	in.logger.Info("settlement report processed",
		"report_id", report.ID,
		"groups", run.Groups,
		"reconciled", run.Reconciled,
		"failed", len(run.Failures),
	)
	in.publish(ctx, events.EventReportProcessed, report, run)

	return report, nil
}

// reconcile runs the dispatcher over the file's rows inside one serializable
// transaction so a fatal error rolls back every group. Serialization
// conflicts with a concurrent run are retried from scratch.
func (in *Ingester) reconcile(ctx context.Context, merchantAccount string, data []byte) (*settlement.RunReport, error) {
	var run *settlement.RunReport
	err := database.Retry(ctx, 3, func() error {
		return in.runTx(ctx, merchantAccount, data, &run)
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (in *Ingester) runTx(ctx context.Context, merchantAccount string, data []byte, run **settlement.RunReport) error {
	return in.db.WithTxOptions(ctx, database.SerializableTxOptions(), func(tx pgx.Tx) error {
		txns := settlement.NewPgStore(tx)
		records := payments.NewService(payments.NewPgStore(tx), in.logger)
		books := ledger.NewService(tx, in.logger)

		recon := settlement.NewReconciler(txns, records, books, records, in.notifier, in.logger)
		dispatcher := settlement.NewDispatcher(merchantAccount, recon, in.logger)

		result, err := dispatcher.Process(ctx, NewCSVSource(bytes.NewReader(data), in.liableHolder))
		if err != nil {
			return err
		}
		*run = result
		return nil
	})
}

// publish emits a report lifecycle event. Delivery is best effort.
func (in *Ingester) publish(ctx context.Context, eventType string, report *Report, run *settlement.RunReport) {
	if in.publisher == nil {
		return
	}
	data := events.ReportProcessedData{
		ReportID:        report.ID,
		MerchantAccount: report.MerchantAccount,
	}
	if run != nil {
		data.Groups = run.Groups
		data.Reconciled = run.Reconciled
		data.Failed = len(run.Failures)
	}
	event, err := events.NewEvent(eventType, report.MerchantAccount, "report", report.ID, data)
	if err != nil {
		in.logger.Error("failed to build report event", "report_id", report.ID, "error", err)
		return
	}
	if err := in.publisher.Publish(ctx, event); err != nil {
		in.logger.Error("failed to publish report event", "report_id", report.ID, "error", err)
	}
}
