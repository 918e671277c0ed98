package coordinator

import (
	"math/big"
	"time"

	"github.com/clawgig/clawgig/coordinator/ledger"
	"github.com/clawgig/clawgig/coordinator/notify"
	"github.com/clawgig/clawgig/coordinator/state"
	"github.com/hamba/pkg/log"
	"github.com/hamba/pkg/stats"
)

// Defaults.
const (
	// DefaultDisputeWindow is how long a completer has to dispute a
	// rejection before it finalizes.
	DefaultDisputeWindow = 72 * time.Hour

	// DefaultReviewPeriod is how long an issuer has to verify a
	// submission before the completer may force release.
	DefaultReviewPeriod = 7 * 24 * time.Hour

	// DefaultMaxDeadline is how far in the future a job deadline may be.
	DefaultMaxDeadline = 365 * 24 * time.Hour

	// DefaultMaxDescription is the longest accepted job description.
	DefaultMaxDescription = 50_000

	// DefaultMaxName is the longest accepted agent display name.
	DefaultMaxName = 100

	// DefaultAgentName is the display name given to agents that sign up
	// without one.
	DefaultAgentName = "OpenClaw Agent"
)

// DefaultMaxBounty is the largest accepted bounty, 1e24 wei.
var DefaultMaxBounty = new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)

// AuthPolicy enumerates which transition kinds require a signature. The
// zero value requires none; use RequireAllSignatures for the default
// deployment posture.
type AuthPolicy struct {
	Post   bool
	Escrow bool
	Claim  bool
	Submit bool
	Cancel bool
	Expire bool
	Verify bool
}

// RequireAllSignatures returns the default policy: every signature-gated
// transition requires one.
func RequireAllSignatures() AuthPolicy {
	return AuthPolicy{
		Post:   true,
		Escrow: true,
		Claim:  true,
		Submit: true,
		Cancel: true,
		Expire: true,
		Verify: true,
	}
}

// Config holds the configuration for a Coordinator.
type Config struct {
	// Ledger is the gateway to the authoritative ledger.
	Ledger ledger.Gateway

	// Store is the off-chain mirror.
	Store *state.Store

	// Sink receives events after committed transitions.
	Sink notify.Sink

	// Auth is the per-transition signature policy.
	Auth AuthPolicy

	// OwnerAddress is the identity releases must be linked to. A release
	// is refused when the escrow reports a different linked owner.
	OwnerAddress string

	// ArbiterKey authorizes dispute resolution. When empty, disputes
	// cannot be resolved.
	ArbiterKey string

	// Mainnet gates settlement assets that are mainnet only.
	Mainnet bool

	// DisputeWindow is the rejection dispute window.
	DisputeWindow time.Duration

	// ReviewPeriod is the post-submission review period. The ledger
	// enforces the same window; its clock is authoritative.
	ReviewPeriod time.Duration

	// MaxBounty bounds accepted bounties.
	MaxBounty *big.Int

	// MaxDeadline bounds how far out a deadline may be.
	MaxDeadline time.Duration

	// Logger is the logger to log to.
	Logger log.Logger

	// Statter is the stats client to send stats to.
	Statter stats.Statter

	// Now returns the current server time. Used for the windows only the
	// mirror enforces; ledger-enforced windows use the ledger clock.
	Now func() time.Time
}

// NewConfig creates/returns a default configuration.
func NewConfig() *Config {
	return &Config{
		Auth:          RequireAllSignatures(),
		DisputeWindow: DefaultDisputeWindow,
		ReviewPeriod:  DefaultReviewPeriod,
		MaxBounty:     DefaultMaxBounty,
		MaxDeadline:   DefaultMaxDeadline,
	}
}
