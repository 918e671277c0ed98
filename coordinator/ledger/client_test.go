package ledger_test

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/clawgig/clawgig/coordinator/ledger"
	"github.com/clawgig/clawgig/coordinator/ledger/ledgertest"
	"github.com/clawgig/clawgig/coordinator/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travisjeffery/go-dynaport"
)

func newClient(t *testing.T) (*ledger.Client, *ledgertest.Server) {
	t.Helper()

	ports := dynaport.Get(1)
	srv, err := ledgertest.NewServer(fmt.Sprintf("127.0.0.1:%d", ports[0]))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	client, err := ledger.NewClient(ledger.ClientConfig{Addr: srv.Addr()})
	require.NoError(t, err)

	return client, srv
}

func TestNewClient_RequiresAddr(t *testing.T) {
	_, err := ledger.NewClient(ledger.ClientConfig{})

	assert.Error(t, err)
}

func TestClient_PostJob(t *testing.T) {
	client, srv := newClient(t)

	jobID, txID, err := client.PostJob(context.Background(), "0xabc", big.NewInt(1000), time.Now().Add(time.Hour), state.TokenMON)

	require.NoError(t, err)
	assert.Equal(t, uint64(1), jobID)
	assert.NotEmpty(t, txID)
	assert.NotNil(t, srv.Job(jobID))
}

func TestClient_DepositAndRelease(t *testing.T) {
	client, srv := newClient(t)
	ctx := context.Background()

	jobID, _, err := client.PostJob(ctx, "0xabc", big.NewInt(1000), time.Time{}, state.TokenMON)
	require.NoError(t, err)

	txID, escrowAddress, err := client.DepositBounty(ctx, jobID, big.NewInt(1000), state.TokenMON)
	require.NoError(t, err)
	assert.NotEmpty(t, txID)
	assert.NotEmpty(t, escrowAddress)
	assert.Equal(t, big.NewInt(1000), srv.Deposit(jobID))

	deposit, err := client.Deposit(ctx, jobID, escrowAddress)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000), deposit)

	_, err = client.CompleteAndRelease(ctx, jobID, "0x1CBd3b2770909D4e10f157cABC84C7264073C9Ec")
	require.NoError(t, err)
	assert.Equal(t, new(big.Int), srv.Deposit(jobID))
	assert.True(t, srv.Job(jobID).Released)
}

func TestClient_ReleaseWithoutDepositRejects(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()

	jobID, _, err := client.PostJob(ctx, "0xabc", big.NewInt(1000), time.Time{}, state.TokenMON)
	require.NoError(t, err)

	_, err = client.CompleteAndRelease(ctx, jobID, "0x1CBd3b2770909D4e10f157cABC84C7264073C9Ec")

	rej, ok := ledger.AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ledger.ReasonNoDeposit, rej.Reason)
	assert.NotEmpty(t, rej.Hint())
}

func TestClient_SplitReleaseMustSumToDeposit(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()

	jobID, _, err := client.PostJob(ctx, "0xabc", big.NewInt(1000), time.Time{}, state.TokenMON)
	require.NoError(t, err)
	_, _, err = client.DepositBounty(ctx, jobID, big.NewInt(1000), state.TokenMON)
	require.NoError(t, err)

	_, err = client.CompleteAndReleaseSplit(ctx, jobID,
		[]string{"0x1CBd3b2770909D4e10f157cABC84C7264073C9Ec"},
		[]*big.Int{big.NewInt(999)},
	)

	_, ok := ledger.AsRejection(err)
	assert.True(t, ok)

	_, err = client.CompleteAndReleaseSplit(ctx, jobID,
		[]string{"0x1CBd3b2770909D4e10f157cABC84C7264073C9Ec"},
		[]*big.Int{big.NewInt(1000)},
	)
	assert.NoError(t, err)
}

func TestClient_InjectedRejection(t *testing.T) {
	client, srv := newClient(t)
	srv.RejectNext(ledger.SetClaimedType, ledger.ReasonUnauthorized)

	_, err := client.SetClaimed(context.Background(), 1, "0x1CBd3b2770909D4e10f157cABC84C7264073C9Ec")

	rej, ok := ledger.AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ledger.ReasonUnauthorized, rej.Reason)
}

func TestClient_TransportFailureIsIndeterminate(t *testing.T) {
	client, srv := newClient(t)
	require.NoError(t, srv.Close())

	_, err := client.RefundToIssuer(context.Background(), 1)

	require.Error(t, err)
	assert.True(t, ledger.IsIndeterminate(err))
	_, ok := ledger.AsRejection(err)
	assert.False(t, ok)
}

func TestClient_Queries(t *testing.T) {
	client, srv := newClient(t)
	ctx := context.Background()

	escrowAddress, err := client.EscrowAddress(ctx, state.TokenMON)
	require.NoError(t, err)
	assert.NotEmpty(t, escrowAddress)

	linked, err := client.LinkedOwner(ctx, escrowAddress)
	require.NoError(t, err)
	assert.Equal(t, srv.LinkedOwner(), linked)

	pinned := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv.SetChainTime(pinned)
	chainTime, err := client.ChainTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, pinned.Unix(), chainTime.Unix())
}

func TestClient_SubmittedAt(t *testing.T) {
	client, srv := newClient(t)
	ctx := context.Background()

	jobID, _, err := client.PostJob(ctx, "0xabc", big.NewInt(1000), time.Time{}, state.TokenMON)
	require.NoError(t, err)

	// No submission yet.
	at, err := client.SubmittedAt(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, at.IsZero())

	when := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv.SetSubmittedAt(jobID, when)

	at, err = client.SubmittedAt(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, when.Unix(), at.Unix())
}

func TestClient_Score(t *testing.T) {
	client, srv := newClient(t)
	ctx := context.Background()
	addr := "0x1CBd3b2770909D4e10f157cABC84C7264073C9Ec"

	score, err := client.Score(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, "none", score.TierName())

	srv.SetScore(addr, ledger.Score{Completed: 12, SuccessTotal: 11, Tier: 2})

	score, err = client.Score(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, uint32(12), score.Completed)
	assert.Equal(t, "silver", score.TierName())

	require.NoError(t, client.RecordCompletion(ctx, addr, true))
	score, err = client.Score(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, uint32(13), score.Completed)
	assert.Equal(t, uint32(12), score.SuccessTotal)
}
