// Package auth recovers and checks EIP-191 personal-message signatures.
//
// The message text is the wire contract: issuers and completers sign the
// exact strings built here, and any client must be able to rebuild them
// byte for byte. Changing a message format breaks every deployed signer,
// treat the formats as versioned.
package auth

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Verification failures.
var (
	// ErrMissingInput is returned when the message, signature or expected
	// signer is absent.
	ErrMissingInput = errors.New("auth: missing message, signature or expected signer")

	// ErrMalformedSignature is returned when the signature cannot be
	// decoded or does not recover to a public key.
	ErrMalformedSignature = errors.New("auth: malformed signature")

	// ErrSignerMismatch is returned when the recovered signer is not the
	// expected address.
	ErrSignerMismatch = errors.New("auth: signer does not match expected address")
)

// PostMessage is the message an issuer signs to post a job.
func PostMessage(issuer common.Address) string {
	return fmt.Sprintf("ClawGig post job as %s", issuer.Hex())
}

// EscrowMessage is the message an issuer signs to escrow a job's bounty.
func EscrowMessage(jobID uint64) string {
	return fmt.Sprintf("ClawGig escrow job %d", jobID)
}

// CancelMessage is the message an issuer signs to cancel a job.
func CancelMessage(jobID uint64) string {
	return fmt.Sprintf("ClawGig cancel job %d", jobID)
}

// ExpireMessage is the message an issuer signs to expire a job.
func ExpireMessage(jobID uint64) string {
	return fmt.Sprintf("ClawGig expire job %d", jobID)
}

// ClaimMessage is the message a completer signs to claim a job.
func ClaimMessage(jobID uint64, completer common.Address) string {
	return fmt.Sprintf("ClawGig claim job %d as %s", jobID, completer.Hex())
}

// SubmitMessage is the message a completer signs to submit work.
func SubmitMessage(jobID uint64, completer common.Address, artifactRef string) string {
	return fmt.Sprintf("ClawGig submit job %d as %s ipfs %s", jobID, completer.Hex(), artifactRef)
}

// VerifyMessage is the message an issuer signs to verify submitted work.
// The booleans are encoded as the literal words "true" and "false".
func VerifyMessage(jobID uint64, approved, reopen bool) string {
	return fmt.Sprintf("ClawGig verify job %d approved %t reopen %t", jobID, approved, reopen)
}

// TextHash returns the EIP-191 hash of a personal message, the digest that
// wallet personal_sign implementations actually sign.
func TextHash(message string) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return crypto.Keccak256([]byte(prefixed))
}

// Recover returns the address that signed the personal message.
func Recover(message, signature string) (common.Address, error) {
	if message == "" || signature == "" {
		return common.Address{}, ErrMissingInput
	}

	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrMalformedSignature
	}

	// Wallets produce V as 27/28, secp256k1 recovery wants 0/1.
	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(TextHash(message), sig)
	if err != nil {
		return common.Address{}, ErrMalformedSignature
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify checks that the signature over the message recovers to the expected
// address. Address comparison is checksum-agnostic; the message text must
// match exactly.
func Verify(message, signature string, expected common.Address) error {
	if expected == (common.Address{}) {
		return ErrMissingInput
	}

	recovered, err := Recover(message, signature)
	if err != nil {
		return err
	}
	if recovered != expected {
		return ErrSignerMismatch
	}
	return nil
}
