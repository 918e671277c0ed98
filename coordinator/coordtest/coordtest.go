// Package coordtest provides a coordinator wired to a simulated ledger
// node, for tests.
package coordtest

import (
	"crypto/ecdsa"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/clawgig/clawgig/coordinator"
	"github.com/clawgig/clawgig/coordinator/ledger"
	"github.com/clawgig/clawgig/coordinator/ledger/ledgertest"
	"github.com/clawgig/clawgig/coordinator/notify"
	"github.com/clawgig/clawgig/coordinator/state"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/travisjeffery/go-dynaport"
)

// Harness bundles a coordinator with its backing pieces.
type Harness struct {
	Coordinator *coordinator.Coordinator
	Store       *state.Store
	Ledger      *ledgertest.Server
	Sink        *notify.MemorySink

	mu  sync.Mutex
	now time.Time
}

// New creates a coordinator against a fresh simulated ledger node.
// Signature checks are off unless cfgFn turns them on.
func New(t *testing.T, cfgFn func(cfg *coordinator.Config)) *Harness {
	t.Helper()

	ports := dynaport.Get(1)
	srv, err := ledgertest.NewServer(fmt.Sprintf("127.0.0.1:%d", ports[0]))
	if err != nil {
		t.Fatalf("err != nil: %s", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	store, err := state.New()
	if err != nil {
		t.Fatalf("err != nil: %s", err)
	}

	client, err := ledger.NewClient(ledger.ClientConfig{Addr: srv.Addr()})
	if err != nil {
		t.Fatalf("err != nil: %s", err)
	}

	h := &Harness{
		Store:  store,
		Ledger: srv,
		Sink:   notify.NewMemorySink(),
		now:    time.Now(),
	}

	cfg := coordinator.NewConfig()
	cfg.Ledger = client
	cfg.Store = store
	cfg.Sink = h.Sink
	cfg.Auth = coordinator.AuthPolicy{}
	cfg.Now = h.Now

	if cfgFn != nil {
		cfgFn(cfg)
	}

	coord, err := coordinator.New(cfg)
	if err != nil {
		t.Fatalf("err != nil: %s", err)
	}
	h.Coordinator = coord

	return h
}

// Now returns the harness clock.
func (h *Harness) Now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.now
}

// Advance moves the harness clock forward.
func (h *Harness) Advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.now = h.now.Add(d)
}

// NewKey generates a signing key and its address.
func NewKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("err != nil: %s", err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

// Sign signs a personal message the way a wallet does, V offset by 27.
func Sign(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()

	digest := crypto.Keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)))
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		t.Fatalf("err != nil: %s", err)
	}
	sig[crypto.RecoveryIDOffset] += 27

	return hexutil.Encode(sig)
}
