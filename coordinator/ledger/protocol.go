package ledger

import (
	"bytes"

	"github.com/hashicorp/go-msgpack/codec"
)

// MessageType is a ledger protocol message type.
type MessageType int8

// Ledger protocol message types.
const (
	PostJobType MessageType = iota
	DepositBountyType
	SetClaimedType
	SetSubmittedType
	CompleteAndReleaseType
	CompleteAndReleaseSplitType
	MarkFailedType
	CancelAsOwnerType
	RefundToIssuerType
	RejectAndReopenType
	ReleaseAfterTimeoutType
	EscrowAddressType
	DepositType
	LinkedOwnerType
	SubmittedAtType
	ChainTimeType
	ScoreType
	RecordCompletionType
)

// PostJobRequest creates a job on the ledger.
type PostJobRequest struct {
	DescriptionHash string
	Bounty          string
	Deadline        int64
	Token           string
}

// DepositBountyRequest moves a bounty into custody.
type DepositBountyRequest struct {
	JobID  uint64
	Amount string
	Token  string
}

// JobRequest addresses a single job.
type JobRequest struct {
	JobID uint64
}

// CompleterRequest addresses a job and a completer.
type CompleterRequest struct {
	JobID     uint64
	Completer string
}

// SplitRequest releases a bounty to multiple recipients.
type SplitRequest struct {
	JobID      uint64
	Recipients []string
	Amounts    []string
}

// TokenRequest addresses a settlement asset.
type TokenRequest struct {
	Token string
}

// EscrowRequest addresses a job at an escrow.
type EscrowRequest struct {
	JobID         uint64
	EscrowAddress string
}

// AddressRequest addresses an escrow or agent.
type AddressRequest struct {
	Address string
}

// CompletionRequest records a reputation event.
type CompletionRequest struct {
	Address string
	Success bool
}

// Response is the ledger node's reply to any request. When OK is false the
// call finalized as failed and Reason carries the classified revert.
type Response struct {
	OK     bool
	Reason string
	Detail string

	TxID    string
	JobID   uint64
	Value   string
	Seconds int64

	Completed    uint32
	SuccessTotal uint32
	Tier         uint8
}

// msgpackHandle is a shared handle for encoding/decoding of protocol objects.
var msgpackHandle = &codec.MsgpackHandle{}

// Decode decodes a protocol object without a type header.
func Decode(buf []byte, out interface{}) error {
	return codec.NewDecoder(bytes.NewReader(buf), msgpackHandle).Decode(out)
}

// Encode encodes a protocol object with a type header.
func Encode(t MessageType, msg interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(uint8(t))
	err := codec.NewEncoder(&buf, msgpackHandle).Encode(msg)
	return buf.Bytes(), err
}
