package coordinator

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/clawgig/clawgig/coordinator/auth"
	"github.com/clawgig/clawgig/coordinator/notify"
	"github.com/clawgig/clawgig/coordinator/state"
	"github.com/ethereum/go-ethereum/crypto"
)

// PostTerms are the inputs to Post.
type PostTerms struct {
	Issuer      string
	Description string
	Bounty      *big.Int
	Token       state.Token
	Deadline    time.Time
	Signature   string
}

// Post creates a job on the ledger and mirrors it as open.
//
// The ledger assigns the job id; the mirror record is only written after
// the ledger has finalized the creation.
func (c *Coordinator) Post(ctx context.Context, terms PostTerms) (*state.Job, error) {
	issuer, err := parseAddress(terms.Issuer, "issuer")
	if err != nil {
		return nil, err
	}

	desc := strings.TrimSpace(terms.Description)
	if desc == "" {
		return nil, validationErr("missing job description")
	}
	if len(desc) > DefaultMaxDescription {
		return nil, validationErr("description exceeds %d characters", DefaultMaxDescription)
	}
	if terms.Bounty == nil || terms.Bounty.Sign() <= 0 {
		return nil, validationErr("bounty must be a positive amount in wei")
	}
	if terms.Bounty.Cmp(c.maxBounty) > 0 {
		return nil, validationErr("bounty exceeds the maximum of %s wei", c.maxBounty.String())
	}

	token := terms.Token
	if token == "" {
		token = state.TokenMON
	}
	switch token {
	case state.TokenMON:
	case state.TokenUSDC:
		if !c.mainnet {
			return nil, validationErr("token %s settles on mainnet only", token)
		}
	default:
		return nil, validationErr("unsupported token %q", string(token))
	}

	now := c.now()
	if terms.Deadline.IsZero() {
		return nil, validationErr("missing deadline")
	}
	if !terms.Deadline.After(now) {
		return nil, validationErr("deadline must be in the future")
	}
	if terms.Deadline.After(now.Add(c.maxDeadline)) {
		return nil, validationErr("deadline may be at most %s out", c.maxDeadline)
	}

	if err := c.authorize(c.auth.Post, auth.PostMessage(issuer), terms.Signature, issuer); err != nil {
		return nil, err
	}

	descHash := crypto.Keccak256Hash([]byte(desc)).Hex()

	jobID, txID, err := c.ledger.PostJob(ctx, descHash, terms.Bounty, terms.Deadline, token)
	if err != nil {
		return nil, ledgerErr("post-job", err)
	}

	job := &state.Job{
		ID:              jobID,
		Issuer:          issuer.Hex(),
		Description:     desc,
		DescriptionHash: descHash,
		Bounty:          terms.Bounty.String(),
		Token:           token,
		Deadline:        terms.Deadline,
		Status:          state.StatusOpen,
		TxHash:          txID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := c.store.InsertJob(job); err != nil {
		// The ledger job exists either way; the caller can re-sync.
		c.log.Error("coordinator: mirror insert failed after ledger post", "job-id", jobID, "error", err)
		return nil, preconditionErr("job %d already mirrored", jobID)
	}

	c.log.Info("coordinator: job posted",
		"job-id", jobID,
		"issuer", shortAddr(job.Issuer),
		"bounty", job.Bounty,
		"token", string(token),
	)
	c.count("post")
	c.emit(notify.NewEvent(notify.TypeJobPosted, jobID))

	return job, nil
}

// EscrowTerms are the inputs to Escrow.
type EscrowTerms struct {
	JobID     uint64
	Amount    *big.Int
	Signature string
}

// Escrow deposits the job's bounty into the custody contract. The mirror
// status does not change; open-with-deposit and open-without-deposit are
// distinguished by reading the escrow, never by a cached flag.
func (c *Coordinator) Escrow(ctx context.Context, terms EscrowTerms) (*state.Job, error) {
	job, err := c.loadJob(terms.JobID, state.StatusOpen)
	if err != nil {
		return nil, err
	}

	issuer, err := parseAddress(job.Issuer, "issuer")
	if err != nil {
		return nil, err
	}
	if err := c.authorize(c.auth.Escrow, auth.EscrowMessage(job.ID), terms.Signature, issuer); err != nil {
		return nil, err
	}

	amount := job.BountyAmount()
	if amount == nil {
		return nil, validationErr("job %d has a malformed bounty", job.ID)
	}
	if terms.Amount != nil && terms.Amount.Cmp(amount) != 0 {
		return nil, validationErr("deposit amount must equal the bounty of %s wei", amount.String())
	}

	txID, escrowAddress, err := c.ledger.DepositBounty(ctx, job.ID, amount, job.Token)
	if err != nil {
		return nil, ledgerErr("deposit-bounty", err)
	}

	updated, err := c.store.UpdateJob(job.ID, state.StatusOpen, c.now(), func(j *state.Job) {
		j.TxHash = txID
	})
	if err != nil {
		return nil, mirrorErr(job.ID, err)
	}

	c.log.Info("coordinator: bounty escrowed",
		"job-id", job.ID,
		"amount", amount.String(),
		"escrow", shortAddr(escrowAddress),
	)
	c.count("escrow")

	return updated, nil
}
