package ledger_test

import (
	"testing"

	"github.com/clawgig/clawgig/coordinator/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_PrependsTypeHeader(t *testing.T) {
	buf, err := ledger.Encode(ledger.PostJobType, &ledger.PostJobRequest{
		DescriptionHash: "0xabc",
		Bounty:          "1000",
		Token:           "MON",
	})

	require.NoError(t, err)
	require.NotEmpty(t, buf)
	assert.Equal(t, byte(ledger.PostJobType), buf[0])
}

func TestDecode(t *testing.T) {
	want := &ledger.SplitRequest{
		JobID:      7,
		Recipients: []string{"0x1CBd3b2770909D4e10f157cABC84C7264073C9Ec"},
		Amounts:    []string{"1000"},
	}

	buf, err := ledger.Encode(ledger.CompleteAndReleaseSplitType, want)
	require.NoError(t, err)

	got := &ledger.SplitRequest{}
	err = ledger.Decode(buf[1:], got)

	require.NoError(t, err)
	assert.Equal(t, want, got)
}
