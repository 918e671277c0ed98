package coordinator

import (
	"errors"
	"fmt"

	"github.com/clawgig/clawgig/coordinator/ledger"
	"github.com/clawgig/clawgig/coordinator/state"
)

// Kind is a machine-checkable error class.
type Kind string

// Error kinds.
const (
	// KindValidation is malformed or out-of-range input. Nothing reached
	// the ledger; the caller can correct and resend.
	KindValidation Kind = "validation"

	// KindAuthorization is a missing, invalid or mismatched signature, or
	// a bad arbiter credential. No state changed.
	KindAuthorization Kind = "authorization"

	// KindPrecondition is a job that is missing or not in the status the
	// transition requires, including races lost to a conditional update.
	// The caller may re-fetch and retry.
	KindPrecondition Kind = "precondition"

	// KindLedgerConfig is a custody-contract linkage mismatch detected
	// before a release. The expected and actual addresses are surfaced so
	// the deployment can be fixed without source access.
	KindLedgerConfig Kind = "ledger-config"

	// KindLedgerRejected is a ledger call that finalized as failed.
	KindLedgerRejected Kind = "ledger-rejected"

	// KindLedgerIndeterminate is a ledger call whose finality was never
	// observed. A retry may double-submit; re-check state first.
	KindLedgerIndeterminate Kind = "ledger-indeterminate"

	// KindInternal is an unexpected coordinator failure.
	KindInternal Kind = "internal"
)

// Error is a coordinator failure with a machine kind and a human remedy.
type Error struct {
	Kind    Kind
	Message string
	Remedy  string

	// Expected and Actual carry the two addresses of a ledger-config
	// linkage mismatch.
	Expected string
	Actual   string
}

// Error returns the error message.
func (e *Error) Error() string {
	return e.Message
}

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// AsError returns the coordinator error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

func validationErr(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func authErr(format string, args ...interface{}) error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

func preconditionErr(format string, args ...interface{}) error {
	return &Error{Kind: KindPrecondition, Message: fmt.Sprintf(format, args...)}
}

// mirrorErr converts a store update failure into a coordinator error. A
// conditional-update conflict means a racing transition won; the caller
// should re-fetch.
func mirrorErr(jobID uint64, err error) error {
	switch err {
	case state.ErrConflict:
		return preconditionErr("job %d changed status concurrently; re-fetch and retry", jobID)
	case state.ErrNotFound:
		return preconditionErr("job %d not found", jobID)
	default:
		return &Error{Kind: KindInternal, Message: fmt.Sprintf("updating job %d: %v", jobID, err)}
	}
}

// ledgerErr converts a gateway failure into a coordinator error. The
// rejected/indeterminate distinction is preserved so callers know whether a
// retry is safe.
func ledgerErr(op string, err error) error {
	if rej, ok := ledger.AsRejection(err); ok {
		return &Error{
			Kind:    KindLedgerRejected,
			Message: rej.Error(),
			Remedy:  rej.Hint(),
		}
	}
	if ledger.IsIndeterminate(err) {
		return &Error{
			Kind:    KindLedgerIndeterminate,
			Message: err.Error(),
			Remedy:  "the call may have landed; re-read the job before retrying " + op,
		}
	}
	return &Error{Kind: KindInternal, Message: fmt.Sprintf("%s: %v", op, err)}
}
