package auth_test

import (
	"fmt"
	"testing"

	"github.com/clawgig/clawgig/coordinator/auth"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, message string) (string, common.Address) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	digest := crypto.Keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)))
	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27

	return hexutil.Encode(sig), crypto.PubkeyToAddress(key.PublicKey)
}

func TestMessages(t *testing.T) {
	issuer := common.HexToAddress("0x8ba1f109551bd432803012645ac136ddd64dba72")

	tests := []struct {
		name string
		msg  string
		want string
	}{
		{
			name: "post",
			msg:  auth.PostMessage(issuer),
			want: "ClawGig post job as 0x8ba1f109551bD432803012645Ac136ddd64DBA72",
		},
		{
			name: "escrow",
			msg:  auth.EscrowMessage(7),
			want: "ClawGig escrow job 7",
		},
		{
			name: "cancel",
			msg:  auth.CancelMessage(7),
			want: "ClawGig cancel job 7",
		},
		{
			name: "expire",
			msg:  auth.ExpireMessage(7),
			want: "ClawGig expire job 7",
		},
		{
			name: "claim",
			msg:  auth.ClaimMessage(7, issuer),
			want: "ClawGig claim job 7 as 0x8ba1f109551bD432803012645Ac136ddd64DBA72",
		},
		{
			name: "submit",
			msg:  auth.SubmitMessage(7, issuer, "QmArtifact"),
			want: "ClawGig submit job 7 as 0x8ba1f109551bD432803012645Ac136ddd64DBA72 ipfs QmArtifact",
		},
		{
			name: "verify approved",
			msg:  auth.VerifyMessage(7, true, false),
			want: "ClawGig verify job 7 approved true reopen false",
		},
		{
			name: "verify rejected reopen",
			msg:  auth.VerifyMessage(7, false, true),
			want: "ClawGig verify job 7 approved false reopen true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.msg)
		})
	}
}

func TestRecover(t *testing.T) {
	msg := auth.EscrowMessage(42)
	sig, addr := sign(t, msg)

	got, err := auth.Recover(msg, sig)

	require.NoError(t, err)
	assert.Equal(t, addr, got)
}

func TestRecover_WalletVOffset(t *testing.T) {
	msg := auth.CancelMessage(1)
	sig, addr := sign(t, msg)

	// Strip the wallet offset; raw recovery ids must verify too.
	raw, err := hexutil.Decode(sig)
	require.NoError(t, err)
	raw[crypto.RecoveryIDOffset] -= 27

	got, err := auth.Recover(msg, hexutil.Encode(raw))

	require.NoError(t, err)
	assert.Equal(t, addr, got)
}

func TestRecover_Errors(t *testing.T) {
	sig, _ := sign(t, "some message")

	tests := []struct {
		name    string
		msg     string
		sig     string
		wantErr error
	}{
		{
			name:    "missing message",
			msg:     "",
			sig:     sig,
			wantErr: auth.ErrMissingInput,
		},
		{
			name:    "missing signature",
			msg:     "some message",
			sig:     "",
			wantErr: auth.ErrMissingInput,
		},
		{
			name:    "not hex",
			msg:     "some message",
			sig:     "not-a-signature",
			wantErr: auth.ErrMalformedSignature,
		},
		{
			name:    "wrong length",
			msg:     "some message",
			sig:     "0xdeadbeef",
			wantErr: auth.ErrMalformedSignature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.Recover(tt.msg, tt.sig)

			assert.Equal(t, tt.wantErr, err)
		})
	}
}

func TestVerify(t *testing.T) {
	msg := auth.VerifyMessage(9, true, false)
	sig, addr := sign(t, msg)

	err := auth.Verify(msg, sig, addr)

	assert.NoError(t, err)
}

func TestVerify_SignerMismatch(t *testing.T) {
	msg := auth.ClaimMessage(9, common.HexToAddress("0x8ba1f109551bd432803012645ac136ddd64dba72"))
	sig, _ := sign(t, msg)
	_, other := sign(t, msg)

	err := auth.Verify(msg, sig, other)

	assert.Equal(t, auth.ErrSignerMismatch, err)
}

func TestVerify_DifferentMessageMismatches(t *testing.T) {
	sig, addr := sign(t, auth.EscrowMessage(1))

	err := auth.Verify(auth.EscrowMessage(2), sig, addr)

	assert.Equal(t, auth.ErrSignerMismatch, err)
}

func TestVerify_MissingExpected(t *testing.T) {
	msg := auth.EscrowMessage(1)
	sig, _ := sign(t, msg)

	err := auth.Verify(msg, sig, common.Address{})

	assert.Equal(t, auth.ErrMissingInput, err)
}
