package signable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"crypto/sha256"

	"github.com/anchoragelabs/airgap-signer-core/signerr"
	"github.com/anchoragelabs/airgap-signer-core/signingspec"
)

func TestExtractWhole(t *testing.T) {
	payload := []byte("the quick brown fox")
	got, err := Extract(payload, signingspec.SignableWhole())
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestExtractRange(t *testing.T) {
	payload := []byte("0123456789")
	got, err := Extract(payload, signingspec.SignableRange(2, 4))
	require.NoError(t, err)
	assert.Equal(t, []byte("2345"), got)
}

func TestExtractRangeOutOfBounds(t *testing.T) {
	payload := []byte("short")
	_, err := Extract(payload, signingspec.SignableRange(3, 100))
	require.Error(t, err)
	assert.True(t, signerr.Is(err, signerr.KindRangeOutOfBounds))
}

func TestExtractRangeOverflow(t *testing.T) {
	payload := []byte("short")
	_, err := Extract(payload, signingspec.SignableRange(1, ^uint64(0)))
	require.Error(t, err)
	assert.True(t, signerr.Is(err, signerr.KindRangeOutOfBounds))
}

func TestExtractHashThenSignWhole(t *testing.T) {
	payload := []byte("payload bytes")

	cases := []struct {
		name string
		alg  signingspec.HashAlgorithm
		want func([]byte) []byte
	}{
		{"blake2b-256", signingspec.HashBlake2b256, func(b []byte) []byte { d := blake2b.Sum256(b); return d[:] }},
		{"sha-256", signingspec.HashSHA256, func(b []byte) []byte { d := sha256.Sum256(b); return d[:] }},
		{"sha3-256", signingspec.HashSHA3_256, func(b []byte) []byte { d := sha3.Sum256(b); return d[:] }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Extract(payload, signingspec.SignableHashThenSign(tc.alg, signingspec.Whole()))
			require.NoError(t, err)
			assert.Equal(t, tc.want(payload), got)
		})
	}
}

func TestExtractHashThenSignRangeSource(t *testing.T) {
	payload := []byte("0123456789")
	want := sha256.Sum256([]byte("2345"))

	got, err := Extract(payload, signingspec.SignableHashThenSign(signingspec.HashSHA256, signingspec.SourceRangeOf(2, 4)))
	require.NoError(t, err)
	assert.Equal(t, want[:], got)
}

func TestExtractHashThenSignPropagatesRangeError(t *testing.T) {
	payload := []byte("short")
	_, err := Extract(payload, signingspec.SignableHashThenSign(signingspec.HashSHA256, signingspec.SourceRangeOf(0, 100)))
	require.Error(t, err)
	assert.True(t, signerr.Is(err, signerr.KindRangeOutOfBounds))
}

func TestSliceZeroLength(t *testing.T) {
	payload := []byte("abc")
	got, err := Slice(payload, 3, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// TestExtractDoesNotAliasPayload guards against a regression where Whole
// and Range returned a slice of payload's own backing array: a caller that
// zeroes the extracted message after signing must not also zero payload.
func TestExtractDoesNotAliasPayload(t *testing.T) {
	t.Run("whole", func(t *testing.T) {
		payload := []byte("the quick brown fox")
		want := append([]byte{}, payload...)
		got, err := Extract(payload, signingspec.SignableWhole())
		require.NoError(t, err)

		for i := range got {
			got[i] = 0
		}
		assert.Equal(t, want, payload, "zeroing the extracted message must not mutate payload")
	})

	t.Run("range", func(t *testing.T) {
		payload := []byte("0123456789")
		want := append([]byte{}, payload...)
		got, err := Extract(payload, signingspec.SignableRange(2, 4))
		require.NoError(t, err)

		for i := range got {
			got[i] = 0
		}
		assert.Equal(t, want, payload, "zeroing the extracted message must not mutate payload")
	})
}
