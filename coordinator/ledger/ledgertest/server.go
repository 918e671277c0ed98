// Package ledgertest provides an in-memory ledger node speaking the real
// wire protocol, for tests and local development.
package ledgertest

import (
	"fmt"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/clawgig/clawgig/coordinator/ledger"
	"github.com/clawgig/clawgig/coordinator/state"
	"github.com/hashicorp/go-msgpack/codec"
)

// Job is the simulated on-ledger state of a job.
type Job struct {
	Issuer      string
	Completer   string
	Submitted   bool
	SubmittedAt int64
	Failed      bool
	Cancelled   bool
	Released    bool
}

// Server is a simulated ledger node. All operations finalize immediately.
type Server struct {
	ln net.Listener

	mu          sync.Mutex
	nextID      uint64
	txCounter   uint64
	jobs        map[uint64]*Job
	deposits    map[uint64]*big.Int
	escrows     map[state.Token]string
	linkedOwner string
	scores      map[string]ledger.Score
	chainTime   time.Time
	rejectNext  map[ledger.MessageType]ledger.RejectReason

	closeOnce sync.Once
}

var msgpackHandle = &codec.MsgpackHandle{}

// NewServer starts a simulated ledger node on the given address.
func NewServer(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		ln:       ln,
		jobs:     map[uint64]*Job{},
		deposits: map[uint64]*big.Int{},
		escrows: map[state.Token]string{
			state.TokenMON:  "0x1111111111111111111111111111111111111111",
			state.TokenUSDC: "0x2222222222222222222222222222222222222222",
		},
		linkedOwner: "0x00000000000000000000000000000000000000AA",
		scores:      map[string]ledger.Score{},
		rejectNext:  map[ledger.MessageType]ledger.RejectReason{},
	}

	go s.listen()

	return s, nil
}

// Addr returns the address the node is listening on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Close stops the node.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.ln.Close()
	})
	return err
}

// LinkedOwner returns the owner identity escrows are linked to.
func (s *Server) LinkedOwner() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.linkedOwner
}

// SetLinkedOwner changes the owner identity escrows report, simulating a
// deployment where the escrow is linked to a different owner.
func (s *Server) SetLinkedOwner(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.linkedOwner = addr
}

// SetChainTime pins the ledger clock.
func (s *Server) SetChainTime(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chainTime = t
}

// SetSubmittedAt overrides the recorded submission time of a job.
func (s *Server) SetSubmittedAt(jobID uint64, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[jobID]; ok {
		job.Submitted = true
		job.SubmittedAt = t.Unix()
	}
}

// SetScore seeds a reputation score.
func (s *Server) SetScore(addr string, score ledger.Score) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scores[addr] = score
}

// RejectNext makes the next call of the given type finalize as failed with
// the given reason.
func (s *Server) RejectNext(t ledger.MessageType, reason ledger.RejectReason) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rejectNext[t] = reason
}

// Job returns the simulated on-ledger job state.
func (s *Server) Job(id uint64) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil
	}
	j := *job
	return &j
}

// Deposit returns the simulated escrowed amount for a job.
func (s *Server) Deposit(id uint64) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deposits[id]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(d)
}

func (s *Server) listen() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}

		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	var typ [1]byte
	if _, err := io.ReadFull(conn, typ[:]); err != nil {
		return
	}
	t := ledger.MessageType(typ[0])

	resp := s.handle(t, codec.NewDecoder(conn, msgpackHandle))

	_ = codec.NewEncoder(conn, msgpackHandle).Encode(resp)
}

func (s *Server) handle(t ledger.MessageType, dec *codec.Decoder) *ledger.Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reason, ok := s.rejectNext[t]; ok {
		delete(s.rejectNext, t)
		return reject(reason, "injected failure")
	}

	switch t {
	case ledger.PostJobType:
		var req ledger.PostJobRequest
		if err := dec.Decode(&req); err != nil {
			return reject(ledger.ReasonOtherRevert, err.Error())
		}
		s.nextID++
		s.jobs[s.nextID] = &Job{}
		return &ledger.Response{OK: true, JobID: s.nextID, TxID: s.txID()}

	case ledger.DepositBountyType:
		var req ledger.DepositBountyRequest
		if err := dec.Decode(&req); err != nil {
			return reject(ledger.ReasonOtherRevert, err.Error())
		}
		amount, ok := new(big.Int).SetString(req.Amount, 10)
		if !ok || amount.Sign() <= 0 {
			return reject(ledger.ReasonOtherRevert, "invalid amount")
		}
		d := s.deposits[req.JobID]
		if d == nil {
			d = new(big.Int)
		}
		s.deposits[req.JobID] = new(big.Int).Add(d, amount)
		return &ledger.Response{OK: true, TxID: s.txID(), Value: s.escrows[state.Token(req.Token)]}

	case ledger.SetClaimedType:
		var req ledger.CompleterRequest
		if err := dec.Decode(&req); err != nil {
			return reject(ledger.ReasonOtherRevert, err.Error())
		}
		job, ok := s.jobs[req.JobID]
		if !ok {
			return reject(ledger.ReasonOtherRevert, "unknown job")
		}
		job.Completer = req.Completer
		return &ledger.Response{OK: true, TxID: s.txID()}

	case ledger.SetSubmittedType:
		var req ledger.JobRequest
		if err := dec.Decode(&req); err != nil {
			return reject(ledger.ReasonOtherRevert, err.Error())
		}
		job, ok := s.jobs[req.JobID]
		if !ok {
			return reject(ledger.ReasonOtherRevert, "unknown job")
		}
		job.Submitted = true
		job.SubmittedAt = s.now().Unix()
		return &ledger.Response{OK: true, TxID: s.txID()}

	case ledger.CompleteAndReleaseType:
		var req ledger.CompleterRequest
		if err := dec.Decode(&req); err != nil {
			return reject(ledger.ReasonOtherRevert, err.Error())
		}
		return s.release(req.JobID, nil)

	case ledger.CompleteAndReleaseSplitType:
		var req ledger.SplitRequest
		if err := dec.Decode(&req); err != nil {
			return reject(ledger.ReasonOtherRevert, err.Error())
		}
		sum := new(big.Int)
		for _, a := range req.Amounts {
			n, ok := new(big.Int).SetString(a, 10)
			if !ok {
				return reject(ledger.ReasonOtherRevert, "invalid amount")
			}
			sum.Add(sum, n)
		}
		return s.release(req.JobID, sum)

	case ledger.MarkFailedType:
		var req ledger.JobRequest
		if err := dec.Decode(&req); err != nil {
			return reject(ledger.ReasonOtherRevert, err.Error())
		}
		if job, ok := s.jobs[req.JobID]; ok {
			job.Failed = true
		}
		return &ledger.Response{OK: true, TxID: s.txID()}

	case ledger.CancelAsOwnerType:
		var req ledger.JobRequest
		if err := dec.Decode(&req); err != nil {
			return reject(ledger.ReasonOtherRevert, err.Error())
		}
		if job, ok := s.jobs[req.JobID]; ok {
			job.Cancelled = true
		}
		return &ledger.Response{OK: true, TxID: s.txID()}

	case ledger.RefundToIssuerType:
		var req ledger.JobRequest
		if err := dec.Decode(&req); err != nil {
			return reject(ledger.ReasonOtherRevert, err.Error())
		}
		d := s.deposits[req.JobID]
		if d == nil || d.Sign() == 0 {
			return reject(ledger.ReasonNoDeposit, "nothing escrowed")
		}
		s.deposits[req.JobID] = new(big.Int)
		return &ledger.Response{OK: true, TxID: s.txID()}

	case ledger.RejectAndReopenType:
		var req ledger.JobRequest
		if err := dec.Decode(&req); err != nil {
			return reject(ledger.ReasonOtherRevert, err.Error())
		}
		job, ok := s.jobs[req.JobID]
		if !ok {
			return reject(ledger.ReasonOtherRevert, "unknown job")
		}
		job.Completer = ""
		job.Submitted = false
		job.SubmittedAt = 0
		return &ledger.Response{OK: true, TxID: s.txID()}

	case ledger.ReleaseAfterTimeoutType:
		var req ledger.JobRequest
		if err := dec.Decode(&req); err != nil {
			return reject(ledger.ReasonOtherRevert, err.Error())
		}
		job, ok := s.jobs[req.JobID]
		if !ok || !job.Submitted {
			return reject(ledger.ReasonOtherRevert, "job not submitted")
		}
		return s.release(req.JobID, nil)

	case ledger.EscrowAddressType:
		var req ledger.TokenRequest
		if err := dec.Decode(&req); err != nil {
			return reject(ledger.ReasonOtherRevert, err.Error())
		}
		addr, ok := s.escrows[state.Token(req.Token)]
		if !ok {
			return &ledger.Response{OK: false, Detail: "escrow not configured"}
		}
		return &ledger.Response{OK: true, Value: addr}

	case ledger.DepositType:
		var req ledger.EscrowRequest
		if err := dec.Decode(&req); err != nil {
			return reject(ledger.ReasonOtherRevert, err.Error())
		}
		d := s.deposits[req.JobID]
		if d == nil {
			d = new(big.Int)
		}
		return &ledger.Response{OK: true, Value: d.String()}

	case ledger.LinkedOwnerType:
		var req ledger.AddressRequest
		if err := dec.Decode(&req); err != nil {
			return reject(ledger.ReasonOtherRevert, err.Error())
		}
		return &ledger.Response{OK: true, Value: s.linkedOwner}

	case ledger.SubmittedAtType:
		var req ledger.JobRequest
		if err := dec.Decode(&req); err != nil {
			return reject(ledger.ReasonOtherRevert, err.Error())
		}
		job, ok := s.jobs[req.JobID]
		if !ok || !job.Submitted {
			return &ledger.Response{OK: true, Seconds: 0}
		}
		return &ledger.Response{OK: true, Seconds: job.SubmittedAt}

	case ledger.ChainTimeType:
		var req ledger.JobRequest
		if err := dec.Decode(&req); err != nil {
			return reject(ledger.ReasonOtherRevert, err.Error())
		}
		return &ledger.Response{OK: true, Seconds: s.now().Unix()}

	case ledger.ScoreType:
		var req ledger.AddressRequest
		if err := dec.Decode(&req); err != nil {
			return reject(ledger.ReasonOtherRevert, err.Error())
		}
		score := s.scores[req.Address]
		return &ledger.Response{OK: true, Completed: score.Completed, SuccessTotal: score.SuccessTotal, Tier: score.Tier}

	case ledger.RecordCompletionType:
		var req ledger.CompletionRequest
		if err := dec.Decode(&req); err != nil {
			return reject(ledger.ReasonOtherRevert, err.Error())
		}
		score := s.scores[req.Address]
		score.Completed++
		if req.Success {
			score.SuccessTotal++
		}
		s.scores[req.Address] = score
		return &ledger.Response{OK: true, TxID: s.txID()}

	default:
		return reject(ledger.ReasonOtherRevert, "unknown message type")
	}
}

// release pays out a job's deposit. When sum is non-nil it must match the
// deposit exactly, mirroring the split-release contract.
func (s *Server) release(jobID uint64, sum *big.Int) *ledger.Response {
	d := s.deposits[jobID]
	if d == nil || d.Sign() == 0 {
		return reject(ledger.ReasonNoDeposit, "nothing escrowed")
	}
	if sum != nil && sum.Cmp(d) != 0 {
		return reject(ledger.ReasonOtherRevert, "split amounts do not sum to deposit")
	}
	s.deposits[jobID] = new(big.Int)
	if job, ok := s.jobs[jobID]; ok {
		job.Released = true
	}
	return &ledger.Response{OK: true, TxID: s.txID()}
}

func (s *Server) now() time.Time {
	if !s.chainTime.IsZero() {
		return s.chainTime
	}
	return time.Now()
}

func (s *Server) txID() string {
	s.txCounter++
	return fmt.Sprintf("0x%064x", s.txCounter)
}

func reject(reason ledger.RejectReason, detail string) *ledger.Response {
	return &ledger.Response{OK: false, Reason: string(reason), Detail: detail}
}
