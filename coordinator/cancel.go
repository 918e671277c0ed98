package coordinator

import (
	"context"

	"github.com/clawgig/clawgig/coordinator/auth"
	"github.com/clawgig/clawgig/coordinator/notify"
	"github.com/clawgig/clawgig/coordinator/state"
)

// CancelTerms are the inputs to Cancel.
type CancelTerms struct {
	JobID     uint64
	Signature string
}

// Cancel withdraws an open job and refunds any escrowed bounty to the
// issuer. Once a completer has claimed, cancel no longer applies.
//
// The mirror stays open until both the cancel and the refund have
// finalized, so a refund failure leaves a retryable job rather than a
// cancelled job with stranded funds.
func (c *Coordinator) Cancel(ctx context.Context, terms CancelTerms) (*state.Job, error) {
	job, err := c.loadJob(terms.JobID, state.StatusOpen)
	if err != nil {
		return nil, err
	}

	issuer, err := parseAddress(job.Issuer, "issuer")
	if err != nil {
		return nil, err
	}
	if err := c.authorize(c.auth.Cancel, auth.CancelMessage(job.ID), terms.Signature, issuer); err != nil {
		return nil, err
	}

	return c.cancelOpen(ctx, job, "cancel")
}

// ExpireTerms are the inputs to Expire.
type ExpireTerms struct {
	JobID     uint64
	Signature string
}

// Expire closes an open job whose deadline has passed and refunds any
// escrowed bounty to the issuer.
func (c *Coordinator) Expire(ctx context.Context, terms ExpireTerms) (*state.Job, error) {
	job, err := c.loadJob(terms.JobID, state.StatusOpen)
	if err != nil {
		return nil, err
	}
	if !job.ExpiredAt(c.now()) {
		return nil, preconditionErr("job %d has not passed its deadline", job.ID)
	}

	issuer, err := parseAddress(job.Issuer, "issuer")
	if err != nil {
		return nil, err
	}
	if err := c.authorize(c.auth.Expire, auth.ExpireMessage(job.ID), terms.Signature, issuer); err != nil {
		return nil, err
	}

	return c.cancelOpen(ctx, job, "expire")
}

func (c *Coordinator) cancelOpen(ctx context.Context, job *state.Job, reason string) (*state.Job, error) {
	txID, err := c.ledger.CancelAsOwner(ctx, job.ID)
	if err != nil {
		return nil, ledgerErr("cancel-as-owner", err)
	}
	if err := c.refundIfDeposited(ctx, job); err != nil {
		return nil, err
	}

	updated, err := c.store.UpdateJob(job.ID, state.StatusOpen, c.now(), func(j *state.Job) {
		j.Status = state.StatusCancelled
		j.TxHash = txID
	})
	if err != nil {
		return nil, mirrorErr(job.ID, err)
	}

	c.log.Info("coordinator: job cancelled", "job-id", job.ID, "reason", reason)
	c.count(reason)

	event := notify.NewEvent(notify.TypeJobCancelled, job.ID)
	event.Reason = reason
	c.emit(event)

	return updated, nil
}
