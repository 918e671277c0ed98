// Package coordinator drives the job lifecycle state machine and keeps the
// off-chain mirror consistent with the authoritative ledger.
//
// Every transition runs the same sequence: load the mirror record, check
// the precondition, check authorization, mutate the ledger, and only then
// advance the mirror. For fund-moving transitions the mirror never shows
// the new status before the ledger has finalized it.
package coordinator

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/clawgig/clawgig/coordinator/auth"
	"github.com/clawgig/clawgig/coordinator/ledger"
	"github.com/clawgig/clawgig/coordinator/notify"
	"github.com/clawgig/clawgig/coordinator/state"
	"github.com/ethereum/go-ethereum/common"
	"github.com/hamba/pkg/log"
	"github.com/hamba/pkg/stats"
	"github.com/pkg/errors"
)

// Coordinator is the job lifecycle coordinator.
type Coordinator struct {
	ledger ledger.Gateway
	store  *state.Store
	sink   notify.Sink

	auth          AuthPolicy
	ownerAddress  string
	arbiterKey    string
	mainnet       bool
	disputeWindow time.Duration
	reviewPeriod  time.Duration
	maxBounty     *big.Int
	maxDeadline   time.Duration

	nowFn func() time.Time

	log     log.Logger
	statter stats.Statter
}

// New returns a coordinator.
func New(cfg *Config) (*Coordinator, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("coordinator: ledger cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("coordinator: store cannot be nil")
	}

	sink := cfg.Sink
	if sink == nil {
		sink = notify.Null
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Null
	}
	statter := cfg.Statter
	if statter == nil {
		statter = stats.Null
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	maxBounty := cfg.MaxBounty
	if maxBounty == nil {
		maxBounty = DefaultMaxBounty
	}
	disputeWindow := cfg.DisputeWindow
	if disputeWindow == 0 {
		disputeWindow = DefaultDisputeWindow
	}
	reviewPeriod := cfg.ReviewPeriod
	if reviewPeriod == 0 {
		reviewPeriod = DefaultReviewPeriod
	}
	maxDeadline := cfg.MaxDeadline
	if maxDeadline == 0 {
		maxDeadline = DefaultMaxDeadline
	}

	return &Coordinator{
		ledger:        cfg.Ledger,
		store:         cfg.Store,
		sink:          sink,
		auth:          cfg.Auth,
		ownerAddress:  cfg.OwnerAddress,
		arbiterKey:    cfg.ArbiterKey,
		mainnet:       cfg.Mainnet,
		disputeWindow: disputeWindow,
		reviewPeriod:  reviewPeriod,
		maxBounty:     maxBounty,
		maxDeadline:   maxDeadline,
		nowFn:         nowFn,
		log:           logger,
		statter:       statter,
	}, nil
}

func (c *Coordinator) now() time.Time {
	return c.nowFn()
}

// loadJob returns the job if it is in the wanted status.
func (c *Coordinator) loadJob(id uint64, want state.Status) (*state.Job, error) {
	job, err := c.store.Job(id)
	if err != nil {
		return nil, errors.Wrap(err, "coordinator: loading job")
	}
	if job == nil {
		return nil, preconditionErr("job %d not found", id)
	}
	if job.Status != want {
		return nil, preconditionErr("job %d is %s, not %s", id, job.Status, want)
	}
	return job, nil
}

// authorize checks a signature when the policy requires one for this
// transition kind. The message text must match the wire contract exactly;
// the signer comparison is checksum-agnostic.
func (c *Coordinator) authorize(required bool, message, signature string, expected common.Address) error {
	if !required {
		return nil
	}
	if signature == "" {
		return authErr("signature required: sign %q from %s and resend", message, expected.Hex())
	}

	switch err := auth.Verify(message, signature, expected); err {
	case nil:
		return nil
	case auth.ErrSignerMismatch:
		return authErr("signer does not match %s", expected.Hex())
	default:
		return authErr("invalid signature: %v", err)
	}
}

// checkArbiter checks the out-of-band arbiter credential.
func (c *Coordinator) checkArbiter(key string) error {
	if c.arbiterKey == "" || key != c.arbiterKey {
		return authErr("arbiter credential required or invalid")
	}
	return nil
}

func parseAddress(value, field string) (common.Address, error) {
	if value == "" {
		return common.Address{}, validationErr("missing %s address", field)
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, validationErr("invalid %s address", field)
	}
	return common.HexToAddress(value), nil
}

// escrowFor resolves the custody contract for a token. An unconfigured
// escrow is a deployment problem, not a caller problem.
func (c *Coordinator) escrowFor(ctx context.Context, token state.Token) (string, error) {
	addr, err := c.ledger.EscrowAddress(ctx, token)
	if err != nil {
		if ledger.IsIndeterminate(err) {
			return "", ledgerErr("escrow-address", err)
		}
		return "", &Error{
			Kind:    KindLedgerConfig,
			Message: "escrow not configured for " + string(token) + ": " + err.Error(),
		}
	}
	if addr == "" {
		return "", &Error{
			Kind:    KindLedgerConfig,
			Message: "escrow not configured for " + string(token),
		}
	}
	return addr, nil
}

// checkEscrowLink refuses a release when the escrow is linked to a
// different owner than this coordinator expects. Two custody contracts
// from different deploys with only one linked is exactly the failure this
// catches; attempting the release anyway would surface an opaque revert.
func (c *Coordinator) checkEscrowLink(ctx context.Context, escrowAddress string) error {
	linked, err := c.ledger.LinkedOwner(ctx, escrowAddress)
	if err != nil {
		return ledgerErr("linked-owner", err)
	}
	if linked != "" && c.ownerAddress != "" && !strings.EqualFold(linked, c.ownerAddress) {
		return &Error{
			Kind:     KindLedgerConfig,
			Message:  "escrow " + escrowAddress + " is linked to " + linked + ", not " + c.ownerAddress + "; release would be refused",
			Remedy:   "relink the escrow to this coordinator's owner identity, or point the coordinator at the escrow's deploy",
			Expected: c.ownerAddress,
			Actual:   linked,
		}
	}
	return nil
}

// liveDeposit re-reads the escrowed amount immediately before a dependent
// write. Other actors call the ledger directly, so deposit state must
// never be cached across the check/act gap.
func (c *Coordinator) liveDeposit(ctx context.Context, jobID uint64, escrowAddress string) (*big.Int, error) {
	deposit, err := c.ledger.Deposit(ctx, jobID, escrowAddress)
	if err != nil {
		return nil, ledgerErr("deposit", err)
	}
	return deposit, nil
}

// refundIfDeposited refunds the issuer when the escrow still holds funds
// for the job. Safe to re-run: a prior refund leaves nothing to return.
func (c *Coordinator) refundIfDeposited(ctx context.Context, job *state.Job) error {
	escrowAddress, err := c.escrowFor(ctx, job.Token)
	if err != nil {
		return err
	}
	deposit, err := c.liveDeposit(ctx, job.ID, escrowAddress)
	if err != nil {
		return err
	}
	if deposit.Sign() <= 0 {
		return nil
	}
	if _, err := c.ledger.RefundToIssuer(ctx, job.ID); err != nil {
		return ledgerErr("refund-to-issuer", err)
	}
	return nil
}

// recordCompletion bumps the completer's reputation. Best effort: the
// transition already succeeded, a reputation failure is only logged.
func (c *Coordinator) recordCompletion(ctx context.Context, completer string) {
	if err := c.ledger.RecordCompletion(ctx, completer, true); err != nil {
		c.log.Error("coordinator: reputation increment failed", "completer", shortAddr(completer), "error", err)
	}
}

// emit publishes an event. Publication failures never fail the transition.
func (c *Coordinator) emit(event notify.Event) {
	if err := c.sink.Publish(event); err != nil {
		c.log.Error("coordinator: event publish failed", "type", string(event.Type), "job-id", event.JobID, "error", err)
	}
}

func (c *Coordinator) count(transition string) {
	c.statter.Inc("coordinator.transition", 1, 1.0, "transition", transition)
}

// shortAddr abbreviates an address for log context.
func shortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
