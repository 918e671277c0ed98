// Package ledger consumes the external ledger node through a narrow typed
// interface. The ledger owns job records, fund custody and transfer
// execution; this package only drives transitions and reads.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/clawgig/clawgig/coordinator/state"
)

// Score is an agent's on-ledger reputation.
type Score struct {
	Completed    uint32
	SuccessTotal uint32
	Tier         uint8
}

// TierName returns the display name for a reputation tier.
func (s Score) TierName() string {
	switch s.Tier {
	case 1:
		return "bronze"
	case 2:
		return "silver"
	case 3:
		return "gold"
	default:
		return "none"
	}
}

// Gateway is the typed surface of the external ledger.
//
// Every mutating call is submit-then-wait-for-finality and has three
// outcomes: finalized success (nil error), finalized failure
// (*RejectionError), and indeterminate (*IndeterminateError). An
// indeterminate outcome must never be treated as success; the call may or
// may not have landed.
type Gateway interface {
	// PostJob creates a job on the ledger and returns the assigned id.
	PostJob(ctx context.Context, descriptionHash string, bounty *big.Int, deadline time.Time, token state.Token) (jobID uint64, txID string, err error)

	// DepositBounty transfers the bounty into the custody contract for the
	// job and returns the escrow address the deposit went to.
	DepositBounty(ctx context.Context, jobID uint64, amount *big.Int, token state.Token) (txID string, escrowAddress string, err error)

	// SetClaimed binds a completer to the job on the ledger.
	SetClaimed(ctx context.Context, jobID uint64, completer string) (txID string, err error)

	// SetSubmitted marks the job's work as submitted on the ledger.
	SetSubmitted(ctx context.Context, jobID uint64) (txID string, err error)

	// CompleteAndRelease releases the escrowed bounty to the completer.
	CompleteAndRelease(ctx context.Context, jobID uint64, completer string) (txID string, err error)

	// CompleteAndReleaseSplit releases the escrowed bounty to multiple
	// recipients with exact amounts.
	CompleteAndReleaseSplit(ctx context.Context, jobID uint64, recipients []string, amounts []*big.Int) (txID string, err error)

	// MarkFailed records the job as completed unsuccessfully.
	MarkFailed(ctx context.Context, jobID uint64) (txID string, err error)

	// CancelAsOwner cancels the job.
	CancelAsOwner(ctx context.Context, jobID uint64) (txID string, err error)

	// RefundToIssuer returns the escrowed bounty to the issuer.
	RefundToIssuer(ctx context.Context, jobID uint64) (txID string, err error)

	// RejectAndReopen clears the completer and submission so the job can
	// be claimed again.
	RejectAndReopen(ctx context.Context, jobID uint64) (txID string, err error)

	// ReleaseAfterTimeout releases the bounty to the completer once the
	// ledger-enforced review period has elapsed.
	ReleaseAfterTimeout(ctx context.Context, jobID uint64) (txID string, err error)

	// EscrowAddress returns the custody contract address for a token.
	EscrowAddress(ctx context.Context, token state.Token) (string, error)

	// Deposit returns the amount held for the job at the given escrow.
	Deposit(ctx context.Context, jobID uint64, escrowAddress string) (*big.Int, error)

	// LinkedOwner returns the owner identity the escrow is linked to. A
	// release is refused unless this matches the caller's own identity.
	LinkedOwner(ctx context.Context, escrowAddress string) (string, error)

	// SubmittedAt returns the ledger-recorded submission time, or the zero
	// time when the job has no submission.
	SubmittedAt(ctx context.Context, jobID uint64) (time.Time, error)

	// ChainTime returns the ledger's current time.
	ChainTime(ctx context.Context) (time.Time, error)

	// Score returns the on-ledger reputation for an address.
	Score(ctx context.Context, address string) (Score, error)

	// RecordCompletion increments an agent's reputation. Callers treat
	// failures as best-effort.
	RecordCompletion(ctx context.Context, address string, success bool) error
}

// RejectReason classifies a finalized ledger failure.
type RejectReason string

// Reject reasons.
const (
	ReasonNoDeposit        RejectReason = "no-deposit"
	ReasonUnauthorized     RejectReason = "unauthorized-caller"
	ReasonTransferRejected RejectReason = "transfer-rejected"
	ReasonOtherRevert      RejectReason = "other-revert"
)

// RejectionError is a ledger call that finalized as failed.
type RejectionError struct {
	Op     string
	Reason RejectReason
	Detail string
}

// Error returns the error message.
func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("ledger: %s rejected: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("ledger: %s rejected: %s: %s", e.Op, e.Reason, e.Detail)
}

// Hint returns a remediation hint for the rejection.
func (e *RejectionError) Hint() string {
	switch e.Reason {
	case ReasonNoDeposit:
		return "no bounty is escrowed for this job on the ledger; escrow the bounty first"
	case ReasonUnauthorized:
		return "the escrow is linked to a different owner; do not mix contracts from different deploys"
	case ReasonTransferRejected:
		return "the recipient rejected the transfer; use an account that can receive the settlement asset"
	default:
		return "the ledger rejected the state change; re-read the job state before retrying"
	}
}

// IndeterminateError is a ledger call whose finality was never observed.
// The caller cannot assume the call did not land; a blind retry may
// double-submit.
type IndeterminateError struct {
	Op  string
	Err error
}

// Error returns the error message.
func (e *IndeterminateError) Error() string {
	return fmt.Sprintf("ledger: %s outcome unknown: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *IndeterminateError) Unwrap() error {
	return e.Err
}

// AsRejection returns the rejection error in err's chain, if any.
func AsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// IsIndeterminate reports whether err's chain contains an indeterminate
// ledger outcome.
func IsIndeterminate(err error) bool {
	var ind *IndeterminateError
	return errors.As(err, &ind)
}
