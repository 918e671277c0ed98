package coordinator

import (
	"context"
	"math/big"
	"time"

	"github.com/clawgig/clawgig/coordinator/auth"
	"github.com/clawgig/clawgig/coordinator/notify"
	"github.com/clawgig/clawgig/coordinator/state"
)

// SplitShare is one recipient of a split payout. Exactly one of Percent
// and Amount is set, and every share of a split must use the same one.
type SplitShare struct {
	Address string
	Percent int
	Amount  *big.Int
}

// VerifyDecision is the issuer's verdict on submitted work.
type VerifyDecision struct {
	JobID     uint64
	Approved  bool
	Reopen    bool
	Split     []SplitShare
	Signature string
}

// Verify applies the issuer's verdict to a submitted job.
//
// Approval releases the escrowed bounty and completes the job. Rejection
// with reopen clears the completer and submission so the job can be
// claimed again. Rejection without reopen parks the job in a dispute
// window; no funds move until the window resolves.
func (c *Coordinator) Verify(ctx context.Context, decision VerifyDecision) (*state.Job, error) {
	job, err := c.loadJob(decision.JobID, state.StatusSubmitted)
	if err != nil {
		return nil, err
	}

	issuer, err := parseAddress(job.Issuer, "issuer")
	if err != nil {
		return nil, err
	}
	msg := auth.VerifyMessage(job.ID, decision.Approved, decision.Reopen)
	if err := c.authorize(c.auth.Verify, msg, decision.Signature, issuer); err != nil {
		return nil, err
	}

	if decision.Approved {
		return c.approve(ctx, job, decision.Split)
	}
	if decision.Reopen {
		return c.rejectAndReopen(ctx, job)
	}
	return c.rejectIntoWindow(job)
}

func (c *Coordinator) approve(ctx context.Context, job *state.Job, split []SplitShare) (*state.Job, error) {
	escrowAddress, err := c.escrowFor(ctx, job.Token)
	if err != nil {
		return nil, err
	}
	if err := c.checkEscrowLink(ctx, escrowAddress); err != nil {
		return nil, err
	}
	deposit, err := c.liveDeposit(ctx, job.ID, escrowAddress)
	if err != nil {
		return nil, err
	}
	if deposit.Sign() <= 0 {
		return nil, preconditionErr("no bounty escrowed for job %d; escrow the bounty first", job.ID)
	}

	var txID string
	if len(split) == 0 {
		txID, err = c.ledger.CompleteAndRelease(ctx, job.ID, job.Completer)
		if err != nil {
			return nil, ledgerErr("complete-and-release", err)
		}
	} else {
		recipients, amounts, err := computeSplit(deposit, split)
		if err != nil {
			return nil, err
		}
		txID, err = c.ledger.CompleteAndReleaseSplit(ctx, job.ID, recipients, amounts)
		if err != nil {
			return nil, ledgerErr("complete-and-release-split", err)
		}
	}

	updated, err := c.store.UpdateJob(job.ID, state.StatusSubmitted, c.now(), func(j *state.Job) {
		j.Status = state.StatusCompleted
		j.TxHash = txID
	})
	if err != nil {
		return nil, mirrorErr(job.ID, err)
	}

	c.recordCompletion(ctx, job.Completer)

	c.log.Info("coordinator: job completed", "job-id", job.ID, "completer", shortAddr(job.Completer))
	c.count("verify-approve")

	event := notify.NewEvent(notify.TypeJobCompleted, job.ID)
	event.Completer = updated.Completer
	c.emit(event)

	return updated, nil
}

func (c *Coordinator) rejectAndReopen(ctx context.Context, job *state.Job) (*state.Job, error) {
	txID, err := c.ledger.RejectAndReopen(ctx, job.ID)
	if err != nil {
		return nil, ledgerErr("reject-and-reopen", err)
	}

	updated, err := c.store.UpdateJob(job.ID, state.StatusSubmitted, c.now(), func(j *state.Job) {
		j.Status = state.StatusOpen
		j.Completer = ""
		j.ArtifactRef = ""
		j.SubmittedAt = time.Time{}
		j.TxHash = txID
	})
	if err != nil {
		return nil, mirrorErr(job.ID, err)
	}

	c.log.Info("coordinator: job reopened", "job-id", job.ID)
	c.count("verify-reopen")

	event := notify.NewEvent(notify.TypeJobReopened, job.ID)
	event.Reason = "reject_reopen"
	c.emit(event)

	return updated, nil
}

// rejectIntoWindow is mirror-only: the ledger job stays submitted until
// the dispute window resolves one way or the other.
func (c *Coordinator) rejectIntoWindow(job *state.Job) (*state.Job, error) {
	now := c.now()
	updated, err := c.store.UpdateJob(job.ID, state.StatusSubmitted, now, func(j *state.Job) {
		j.Status = state.StatusRejectedPendingDispute
		j.RejectedAt = now
		j.DisputeDeadline = now.Add(c.disputeWindow)
	})
	if err != nil {
		return nil, mirrorErr(job.ID, err)
	}

	c.log.Info("coordinator: work rejected pending dispute",
		"job-id", job.ID,
		"dispute-deadline", updated.DisputeDeadline,
	)
	c.count("verify-reject")

	return updated, nil
}

// computeSplit resolves split shares against the escrowed deposit.
//
// Percent shares must sum to exactly 100; amounts are deposit*percent/100
// with integer division, and the rounding remainder goes to the first
// recipient so the amounts always sum to the deposit. Exact-amount shares
// must sum to the deposit as given. Mixing the two forms is rejected.
func computeSplit(deposit *big.Int, shares []SplitShare) ([]string, []*big.Int, error) {
	recipients := make([]string, len(shares))
	amounts := make([]*big.Int, len(shares))

	percents := false
	exact := false
	percentSum := 0
	exactSum := new(big.Int)

	for i, share := range shares {
		addr, err := parseAddress(share.Address, "split recipient")
		if err != nil {
			return nil, nil, err
		}
		recipients[i] = addr.Hex()

		switch {
		case share.Percent != 0 && share.Amount != nil:
			return nil, nil, validationErr("split share %d sets both percent and amount", i)
		case share.Percent != 0:
			if share.Percent < 0 || share.Percent > 100 {
				return nil, nil, validationErr("split share %d percent out of range", i)
			}
			percents = true
			percentSum += share.Percent
		case share.Amount != nil:
			if share.Amount.Sign() <= 0 {
				return nil, nil, validationErr("split share %d amount must be positive", i)
			}
			exact = true
			exactSum.Add(exactSum, share.Amount)
			amounts[i] = new(big.Int).Set(share.Amount)
		default:
			return nil, nil, validationErr("split share %d sets neither percent nor amount", i)
		}
	}

	if percents && exact {
		return nil, nil, validationErr("split cannot mix percent and exact-amount shares")
	}

	if percents {
		if percentSum != 100 {
			return nil, nil, validationErr("split percents sum to %d, not 100", percentSum)
		}
		hundred := big.NewInt(100)
		assigned := new(big.Int)
		for i, share := range shares {
			amount := new(big.Int).Mul(deposit, big.NewInt(int64(share.Percent)))
			amount.Div(amount, hundred)
			amounts[i] = amount
			assigned.Add(assigned, amount)
		}
		// Integer division remainder goes to the first recipient.
		if remainder := new(big.Int).Sub(deposit, assigned); remainder.Sign() > 0 {
			amounts[0].Add(amounts[0], remainder)
		}
		return recipients, amounts, nil
	}

	if exactSum.Cmp(deposit) != 0 {
		return nil, nil, validationErr("split amounts sum to %s, escrow holds %s", exactSum.String(), deposit.String())
	}
	return recipients, amounts, nil
}
