package ledger

import (
	"context"
	"math/big"
	"net"
	"time"

	"github.com/clawgig/clawgig/coordinator/state"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-msgpack/codec"
	"github.com/pkg/errors"
)

const (
	// DefaultDialTimeout is the default timeout for dialing the ledger node.
	DefaultDialTimeout = 5 * time.Second

	// DefaultCallTimeout is the default timeout for a single call, dial to
	// finality.
	DefaultCallTimeout = 30 * time.Second
)

// ClientConfig configures a ledger client.
type ClientConfig struct {
	// Addr is the address of the ledger node.
	Addr string

	// DialTimeout is the timeout for dialing the ledger node.
	DialTimeout time.Duration

	// CallTimeout bounds a single call, dial to finality.
	CallTimeout time.Duration

	// Logger is the logger to log to.
	Logger hclog.Logger
}

// Client is a Gateway over the ledger node's msgpack protocol. Each call is
// a single request/response exchange on its own connection; the ledger node
// replies only once the submitted operation has finalized.
type Client struct {
	addr        string
	dialTimeout time.Duration
	callTimeout time.Duration

	log hclog.Logger
}

// NewClient returns a ledger client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("ledger: addr cannot be empty")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = DefaultDialTimeout
	}
	callTimeout := cfg.CallTimeout
	if callTimeout == 0 {
		callTimeout = DefaultCallTimeout
	}

	return &Client{
		addr:        cfg.Addr,
		dialTimeout: dialTimeout,
		callTimeout: callTimeout,
		log:         logger,
	}, nil
}

// call performs one request/response exchange. Any transport failure is
// indeterminate: the request may have reached the node and finalized even
// though the reply was never observed.
func (c *Client) call(ctx context.Context, op string, t MessageType, req interface{}, resp *Response) error {
	c.log.Debug("ledger: calling node", "op", op)

	d := &net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return &IndeterminateError{Op: op, Err: err}
	}
	defer conn.Close()

	deadline := time.Now().Add(c.callTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return &IndeterminateError{Op: op, Err: err}
	}

	buf, err := Encode(t, req)
	if err != nil {
		return errors.Wrapf(err, "ledger: encoding %s request", op)
	}
	if _, err := conn.Write(buf); err != nil {
		return &IndeterminateError{Op: op, Err: err}
	}

	if err := codec.NewDecoder(conn, msgpackHandle).Decode(resp); err != nil {
		return &IndeterminateError{Op: op, Err: err}
	}
	return nil
}

// mutate performs a state-changing exchange and classifies a finalized
// failure as a rejection.
func (c *Client) mutate(ctx context.Context, op string, t MessageType, req interface{}) (*Response, error) {
	var resp Response
	if err := c.call(ctx, op, t, req, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, &RejectionError{Op: op, Reason: parseReason(resp.Reason), Detail: resp.Detail}
	}
	return &resp, nil
}

// query performs a read-only exchange. Reads never move funds, a failed
// read is a plain error.
func (c *Client) query(ctx context.Context, op string, t MessageType, req interface{}) (*Response, error) {
	var resp Response
	if err := c.call(ctx, op, t, req, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, errors.Errorf("ledger: %s failed: %s", op, resp.Detail)
	}
	return &resp, nil
}

func parseReason(s string) RejectReason {
	switch RejectReason(s) {
	case ReasonNoDeposit, ReasonUnauthorized, ReasonTransferRejected:
		return RejectReason(s)
	default:
		return ReasonOtherRevert
	}
}

// PostJob creates a job on the ledger and returns the assigned id.
func (c *Client) PostJob(ctx context.Context, descriptionHash string, bounty *big.Int, deadline time.Time, token state.Token) (uint64, string, error) {
	resp, err := c.mutate(ctx, "post-job", PostJobType, &PostJobRequest{
		DescriptionHash: descriptionHash,
		Bounty:          bounty.String(),
		Deadline:        deadline.Unix(),
		Token:           string(token),
	})
	if err != nil {
		return 0, "", err
	}
	return resp.JobID, resp.TxID, nil
}

// DepositBounty transfers the bounty into custody for the job.
func (c *Client) DepositBounty(ctx context.Context, jobID uint64, amount *big.Int, token state.Token) (string, string, error) {
	resp, err := c.mutate(ctx, "deposit-bounty", DepositBountyType, &DepositBountyRequest{
		JobID:  jobID,
		Amount: amount.String(),
		Token:  string(token),
	})
	if err != nil {
		return "", "", err
	}
	return resp.TxID, resp.Value, nil
}

// SetClaimed binds a completer to the job on the ledger.
func (c *Client) SetClaimed(ctx context.Context, jobID uint64, completer string) (string, error) {
	return c.txID(c.mutate(ctx, "set-claimed", SetClaimedType, &CompleterRequest{JobID: jobID, Completer: completer}))
}

// SetSubmitted marks the job's work as submitted on the ledger.
func (c *Client) SetSubmitted(ctx context.Context, jobID uint64) (string, error) {
	return c.txID(c.mutate(ctx, "set-submitted", SetSubmittedType, &JobRequest{JobID: jobID}))
}

// CompleteAndRelease releases the escrowed bounty to the completer.
func (c *Client) CompleteAndRelease(ctx context.Context, jobID uint64, completer string) (string, error) {
	return c.txID(c.mutate(ctx, "complete-and-release", CompleteAndReleaseType, &CompleterRequest{JobID: jobID, Completer: completer}))
}

// CompleteAndReleaseSplit releases the escrowed bounty to multiple recipients.
func (c *Client) CompleteAndReleaseSplit(ctx context.Context, jobID uint64, recipients []string, amounts []*big.Int) (string, error) {
	strs := make([]string, len(amounts))
	for i, a := range amounts {
		strs[i] = a.String()
	}
	return c.txID(c.mutate(ctx, "complete-and-release-split", CompleteAndReleaseSplitType, &SplitRequest{
		JobID:      jobID,
		Recipients: recipients,
		Amounts:    strs,
	}))
}

// MarkFailed records the job as completed unsuccessfully.
func (c *Client) MarkFailed(ctx context.Context, jobID uint64) (string, error) {
	return c.txID(c.mutate(ctx, "mark-failed", MarkFailedType, &JobRequest{JobID: jobID}))
}

// CancelAsOwner cancels the job.
func (c *Client) CancelAsOwner(ctx context.Context, jobID uint64) (string, error) {
	return c.txID(c.mutate(ctx, "cancel-as-owner", CancelAsOwnerType, &JobRequest{JobID: jobID}))
}

// RefundToIssuer returns the escrowed bounty to the issuer.
func (c *Client) RefundToIssuer(ctx context.Context, jobID uint64) (string, error) {
	return c.txID(c.mutate(ctx, "refund-to-issuer", RefundToIssuerType, &JobRequest{JobID: jobID}))
}

// RejectAndReopen clears the completer and submission on the ledger.
func (c *Client) RejectAndReopen(ctx context.Context, jobID uint64) (string, error) {
	return c.txID(c.mutate(ctx, "reject-and-reopen", RejectAndReopenType, &JobRequest{JobID: jobID}))
}

// ReleaseAfterTimeout releases the bounty after the review period.
func (c *Client) ReleaseAfterTimeout(ctx context.Context, jobID uint64) (string, error) {
	return c.txID(c.mutate(ctx, "release-after-timeout", ReleaseAfterTimeoutType, &JobRequest{JobID: jobID}))
}

func (c *Client) txID(resp *Response, err error) (string, error) {
	if err != nil {
		return "", err
	}
	return resp.TxID, nil
}

// EscrowAddress returns the custody contract address for a token.
func (c *Client) EscrowAddress(ctx context.Context, token state.Token) (string, error) {
	resp, err := c.query(ctx, "escrow-address", EscrowAddressType, &TokenRequest{Token: string(token)})
	if err != nil {
		return "", err
	}
	return resp.Value, nil
}

// Deposit returns the amount held for the job at the given escrow.
func (c *Client) Deposit(ctx context.Context, jobID uint64, escrowAddress string) (*big.Int, error) {
	resp, err := c.query(ctx, "deposit", DepositType, &EscrowRequest{JobID: jobID, EscrowAddress: escrowAddress})
	if err != nil {
		return nil, err
	}
	amount, ok := new(big.Int).SetString(resp.Value, 10)
	if !ok {
		return nil, errors.Errorf("ledger: invalid deposit amount %q", resp.Value)
	}
	return amount, nil
}

// LinkedOwner returns the owner identity the escrow is linked to.
func (c *Client) LinkedOwner(ctx context.Context, escrowAddress string) (string, error) {
	resp, err := c.query(ctx, "linked-owner", LinkedOwnerType, &AddressRequest{Address: escrowAddress})
	if err != nil {
		return "", err
	}
	return resp.Value, nil
}

// SubmittedAt returns the ledger-recorded submission time, or the zero time.
func (c *Client) SubmittedAt(ctx context.Context, jobID uint64) (time.Time, error) {
	resp, err := c.query(ctx, "submitted-at", SubmittedAtType, &JobRequest{JobID: jobID})
	if err != nil {
		return time.Time{}, err
	}
	if resp.Seconds == 0 {
		return time.Time{}, nil
	}
	return time.Unix(resp.Seconds, 0), nil
}

// ChainTime returns the ledger's current time.
func (c *Client) ChainTime(ctx context.Context) (time.Time, error) {
	resp, err := c.query(ctx, "chain-time", ChainTimeType, &JobRequest{})
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(resp.Seconds, 0), nil
}

// Score returns the on-ledger reputation for an address.
func (c *Client) Score(ctx context.Context, address string) (Score, error) {
	resp, err := c.query(ctx, "score", ScoreType, &AddressRequest{Address: address})
	if err != nil {
		return Score{}, err
	}
	return Score{Completed: resp.Completed, SuccessTotal: resp.SuccessTotal, Tier: resp.Tier}, nil
}

// RecordCompletion increments an agent's reputation.
func (c *Client) RecordCompletion(ctx context.Context, address string, success bool) error {
	_, err := c.mutate(ctx, "record-completion", RecordCompletionType, &CompletionRequest{Address: address, Success: success})
	return err
}

var _ Gateway = (*Client)(nil)
