package coordinator

import (
	"context"
	"strings"

	"github.com/clawgig/clawgig/coordinator/notify"
	"github.com/clawgig/clawgig/coordinator/state"
)

// DisputeTerms are the inputs to Dispute.
type DisputeTerms struct {
	JobID     uint64
	Completer string
}

// Dispute contests a rejection inside the dispute window. Only the bound
// completer may dispute, and only before the window closes. The
// transition is mirror-only; funds stay escrowed until an arbiter rules.
func (c *Coordinator) Dispute(ctx context.Context, terms DisputeTerms) (*state.Job, error) {
	job, err := c.loadJob(terms.JobID, state.StatusRejectedPendingDispute)
	if err != nil {
		return nil, err
	}

	completer, err := parseAddress(terms.Completer, "completer")
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(completer.Hex(), job.Completer) {
		return nil, authErr("only the completer %s may dispute job %d", job.Completer, job.ID)
	}

	now := c.now()
	if !now.Before(job.DisputeDeadline) {
		return nil, preconditionErr("dispute window for job %d closed at %s", job.ID, job.DisputeDeadline.Format("2006-01-02T15:04:05Z07:00"))
	}

	updated, err := c.store.UpdateJob(job.ID, state.StatusRejectedPendingDispute, now, func(j *state.Job) {
		j.Status = state.StatusDisputed
		j.DisputedAt = now
	})
	if err != nil {
		return nil, mirrorErr(job.ID, err)
	}

	c.log.Info("coordinator: job disputed", "job-id", job.ID, "completer", shortAddr(job.Completer))
	c.count("dispute")

	event := notify.NewEvent(notify.TypeJobDisputed, job.ID)
	event.Completer = updated.Completer
	c.emit(event)

	return updated, nil
}

// Resolution is an arbiter's ruling on a disputed job.
type Resolution struct {
	JobID              uint64
	ArbiterKey         string
	ReleaseToCompleter bool
}

// ResolveDispute settles a disputed job. A ruling for the completer
// releases the escrowed bounty; a ruling for the issuer marks the job
// failed and refunds the deposit.
func (c *Coordinator) ResolveDispute(ctx context.Context, res Resolution) (*state.Job, error) {
	job, err := c.loadJob(res.JobID, state.StatusDisputed)
	if err != nil {
		return nil, err
	}
	if err := c.checkArbiter(res.ArbiterKey); err != nil {
		return nil, err
	}

	if res.ReleaseToCompleter {
		return c.resolveRelease(ctx, job)
	}
	return c.resolveRefund(ctx, job)
}

func (c *Coordinator) resolveRelease(ctx context.Context, job *state.Job) (*state.Job, error) {
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
		return nil, preconditionErr("no bounty escrowed for job %d", job.ID)
	}

	txID, err := c.ledger.CompleteAndRelease(ctx, job.ID, job.Completer)
	if err != nil {
		return nil, ledgerErr("complete-and-release", err)
	}

	updated, err := c.store.UpdateJob(job.ID, state.StatusDisputed, c.now(), func(j *state.Job) {
		j.Status = state.StatusCompleted
		j.TxHash = txID
	})
	if err != nil {
		return nil, mirrorErr(job.ID, err)
	}

	c.recordCompletion(ctx, job.Completer)

	c.log.Info("coordinator: dispute resolved for completer", "job-id", job.ID)
	c.count("resolve-release")

	event := notify.NewEvent(notify.TypeJobCompleted, job.ID)
	event.Completer = updated.Completer
	event.Reason = "resolve_release"
	c.emit(event)

	return updated, nil
}

func (c *Coordinator) resolveRefund(ctx context.Context, job *state.Job) (*state.Job, error) {
	txID, err := c.ledger.MarkFailed(ctx, job.ID)
	if err != nil {
		return nil, ledgerErr("mark-failed", err)
	}
	if err := c.refundIfDeposited(ctx, job); err != nil {
		return nil, err
	}

	updated, err := c.store.UpdateJob(job.ID, state.StatusDisputed, c.now(), func(j *state.Job) {
		j.Status = state.StatusCancelled
		j.TxHash = txID
	})
	if err != nil {
		return nil, mirrorErr(job.ID, err)
	}

	c.log.Info("coordinator: dispute resolved for issuer", "job-id", job.ID)
	c.count("resolve-refund")

	event := notify.NewEvent(notify.TypeJobCancelled, job.ID)
	event.Reason = "resolve_refund"
	c.emit(event)

	return updated, nil
}

// FinalizeReject closes out a rejection whose dispute window elapsed with
// no dispute: the job is marked failed on the ledger and the deposit
// refunded to the issuer. Anyone may call it; the status precondition
// makes a second call a no-op failure rather than a double refund.
func (c *Coordinator) FinalizeReject(ctx context.Context, jobID uint64) (*state.Job, error) {
	job, err := c.loadJob(jobID, state.StatusRejectedPendingDispute)
	if err != nil {
		return nil, err
	}
	if c.now().Before(job.DisputeDeadline) {
		return nil, preconditionErr("dispute window for job %d is still open until %s", job.ID, job.DisputeDeadline.Format("2006-01-02T15:04:05Z07:00"))
	}

	txID, err := c.ledger.MarkFailed(ctx, job.ID)
	if err != nil {
		return nil, ledgerErr("mark-failed", err)
	}
	if err := c.refundIfDeposited(ctx, job); err != nil {
		return nil, err
	}

	updated, err := c.store.UpdateJob(job.ID, state.StatusRejectedPendingDispute, c.now(), func(j *state.Job) {
		j.Status = state.StatusCancelled
		j.TxHash = txID
	})
	if err != nil {
		return nil, mirrorErr(job.ID, err)
	}

	c.log.Info("coordinator: rejection finalized", "job-id", job.ID)
	c.count("finalize-reject")

	event := notify.NewEvent(notify.TypeJobCancelled, job.ID)
	event.Reason = "finalize_refund"
	c.emit(event)

	return updated, nil
}

// ClaimTimeoutRelease releases the bounty to the completer when the
// issuer has ignored a submission past the review period. The ledger's
// recorded submission time is authoritative: no recorded time means no
// release, regardless of what the mirror says.
func (c *Coordinator) ClaimTimeoutRelease(ctx context.Context, jobID uint64) (*state.Job, error) {
	job, err := c.loadJob(jobID, state.StatusSubmitted)
	if err != nil {
		return nil, err
	}

	submittedAt, err := c.ledger.SubmittedAt(ctx, job.ID)
	if err != nil {
		return nil, ledgerErr("submitted-at", err)
	}
	if submittedAt.IsZero() {
		return nil, preconditionErr("the ledger has no recorded submission time for job %d", job.ID)
	}

	now, err := c.ledger.ChainTime(ctx)
	if err != nil || now.IsZero() {
		now = c.now()
	}
	releaseAt := submittedAt.Add(c.reviewPeriod)
	if now.Before(releaseAt) {
		return nil, preconditionErr("review period for job %d runs until %s", job.ID, releaseAt.Format("2006-01-02T15:04:05Z07:00"))
	}

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
		return nil, preconditionErr("no bounty escrowed for job %d", job.ID)
	}

	txID, err := c.ledger.ReleaseAfterTimeout(ctx, job.ID)
	if err != nil {
		return nil, ledgerErr("release-after-timeout", err)
	}

	updated, err := c.store.UpdateJob(job.ID, state.StatusSubmitted, c.now(), func(j *state.Job) {
		j.Status = state.StatusCompleted
		j.TxHash = txID
	})
	if err != nil {
		return nil, mirrorErr(job.ID, err)
	}

	c.recordCompletion(ctx, job.Completer)

	c.log.Info("coordinator: bounty released after review timeout", "job-id", job.ID)
	c.count("claim-timeout-release")

	event := notify.NewEvent(notify.TypeJobCompleted, job.ID)
	event.Completer = updated.Completer
	event.Reason = "claim_timeout"
	c.emit(event)

	return updated, nil
}
