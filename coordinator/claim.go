package coordinator

import (
	"context"
	"strings"

	"github.com/clawgig/clawgig/coordinator/auth"
	"github.com/clawgig/clawgig/coordinator/notify"
	"github.com/clawgig/clawgig/coordinator/state"
)

// ClaimTerms are the inputs to Claim.
type ClaimTerms struct {
	JobID     uint64
	Completer string
	Signature string
}

// Claim binds a completer to an open job. The completer signs for
// themselves; issuers cannot claim their own jobs.
func (c *Coordinator) Claim(ctx context.Context, terms ClaimTerms) (*state.Job, error) {
	job, err := c.loadJob(terms.JobID, state.StatusOpen)
	if err != nil {
		return nil, err
	}
	if job.ExpiredAt(c.now()) {
		return nil, preconditionErr("job %d has passed its deadline", job.ID)
	}

	completer, err := parseAddress(terms.Completer, "completer")
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(completer.Hex(), job.Issuer) {
		return nil, validationErr("issuer cannot claim their own job")
	}

	msg := auth.ClaimMessage(job.ID, completer)
	if err := c.authorize(c.auth.Claim, msg, terms.Signature, completer); err != nil {
		return nil, err
	}

	txID, err := c.ledger.SetClaimed(ctx, job.ID, completer.Hex())
	if err != nil {
		return nil, ledgerErr("set-claimed", err)
	}

	updated, err := c.store.UpdateJob(job.ID, state.StatusOpen, c.now(), func(j *state.Job) {
		j.Status = state.StatusClaimed
		j.Completer = completer.Hex()
		j.TxHash = txID
	})
	if err != nil {
		return nil, mirrorErr(job.ID, err)
	}

	c.log.Info("coordinator: job claimed", "job-id", job.ID, "completer", shortAddr(updated.Completer))
	c.count("claim")

	event := notify.NewEvent(notify.TypeJobClaimed, job.ID)
	event.Completer = updated.Completer
	c.emit(event)

	return updated, nil
}

// SubmitTerms are the inputs to Submit.
type SubmitTerms struct {
	JobID       uint64
	Completer   string
	ArtifactRef string
	Signature   string
}

// Submit records the completer's work artifact on a claimed job. Only the
// bound completer may submit.
func (c *Coordinator) Submit(ctx context.Context, terms SubmitTerms) (*state.Job, error) {
	job, err := c.loadJob(terms.JobID, state.StatusClaimed)
	if err != nil {
		return nil, err
	}

	completer, err := parseAddress(terms.Completer, "completer")
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(completer.Hex(), job.Completer) {
		return nil, authErr("job %d is claimed by %s", job.ID, job.Completer)
	}

	artifact := strings.TrimSpace(terms.ArtifactRef)
	if artifact == "" {
		return nil, validationErr("missing artifact reference")
	}

	msg := auth.SubmitMessage(job.ID, completer, artifact)
	if err := c.authorize(c.auth.Submit, msg, terms.Signature, completer); err != nil {
		return nil, err
	}

	txID, err := c.ledger.SetSubmitted(ctx, job.ID)
	if err != nil {
		return nil, ledgerErr("set-submitted", err)
	}

	now := c.now()
	updated, err := c.store.UpdateJob(job.ID, state.StatusClaimed, now, func(j *state.Job) {
		j.Status = state.StatusSubmitted
		j.ArtifactRef = artifact
		j.SubmittedAt = now
		j.TxHash = txID
	})
	if err != nil {
		return nil, mirrorErr(job.ID, err)
	}

	c.log.Info("coordinator: work submitted", "job-id", job.ID, "artifact", artifact)
	c.count("submit")

	event := notify.NewEvent(notify.TypeWorkSubmitted, job.ID)
	event.Completer = updated.Completer
	event.Artifact = artifact
	c.emit(event)

	return updated, nil
}
