package settlement

import (
	"errors"
	"fmt"
)

// ReconciliationError is a recoverable per-group failure: a row violated a
// categorization invariant or a downstream collaborator rejected the group.
// It carries the human-readable row identifier for operator triage. The
// dispatcher catches it, records it in the run report, and continues with
// the next group.
type ReconciliationError struct {
	RowID   string
	Message string
	Err     error
}

func (e *ReconciliationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("reconciliation failed [%s]: %s: %v", e.RowID, e.Message, e.Err)
	}
	return fmt.Sprintf("reconciliation failed [%s]: %s", e.RowID, e.Message)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

// reconErrf builds a ReconciliationError with a formatted message.
func reconErrf(rowID, format string, args ...interface{}) *ReconciliationError {
	return &ReconciliationError{RowID: rowID, Message: fmt.Sprintf(format, args...)}
}

// wrapRecon wraps a collaborator error into a ReconciliationError.
func wrapRecon(rowID, message string, err error) *ReconciliationError {
	return &ReconciliationError{RowID: rowID, Message: message, Err: err}
}

// LedgerSyncError is returned by the ledger sync adapter when posting a
// transaction into the double-entry ledger fails. Reconcilers re-wrap it
// into a ReconciliationError before propagating.
type LedgerSyncError struct {
	Err error
}

func (e *LedgerSyncError) Error() string {
	return fmt.Sprintf("ledger sync: %v", e.Err)
}

func (e *LedgerSyncError) Unwrap() error {
	return e.Err
}

// IsReconciliationError reports whether err is a per-group recoverable
// reconciliation failure.
func IsReconciliationError(err error) bool {
	var re *ReconciliationError
	return errors.As(err, &re)
}
