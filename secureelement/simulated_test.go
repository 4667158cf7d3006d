package secureelement

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchoragelabs/airgap-signer-core/signerr"
	"github.com/anchoragelabs/airgap-signer-core/signingspec"
)

func TestUnprovisionedReportsNotProvisioned(t *testing.T) {
	se := NewSimulated()
	provisioned, err := se.IsProvisioned()
	require.NoError(t, err)
	assert.False(t, provisioned)
}

func TestSetPinThenVerify(t *testing.T) {
	se := NewSimulated()
	require.NoError(t, se.SetPin("1234"))

	provisioned, err := se.IsProvisioned()
	require.NoError(t, err)
	assert.True(t, provisioned)

	ok, err := se.VerifyPin("1234")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSetPinTwiceFails(t *testing.T) {
	se := NewSimulated()
	require.NoError(t, se.SetPin("1234"))
	err := se.SetPin("5678")
	assert.Error(t, err)
}

func TestVerifyPinWrongDecrementsAttempts(t *testing.T) {
	se := NewSimulated()
	require.NoError(t, se.SetPin("1234"))

	for i := 0; i < MaxPinAttempts-1; i++ {
		ok, err := se.VerifyPin("wrong")
		require.NoError(t, err)
		assert.False(t, ok)
	}

	// one attempt remains; a correct PIN now should still succeed
	ok, err := se.VerifyPin("1234")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyPinLocksOutAfterBudgetExhausted(t *testing.T) {
	se := NewSimulated()
	require.NoError(t, se.SetPin("1234"))

	var lastErr error
	for i := 0; i < MaxPinAttempts; i++ {
		_, lastErr = se.VerifyPin("wrong")
	}
	require.Error(t, lastErr)
	assert.True(t, signerr.Is(lastErr, signerr.KindSeLockedOut))

	// even the correct PIN is rejected once locked out
	_, err := se.VerifyPin("1234")
	require.Error(t, err)
	assert.True(t, signerr.Is(err, signerr.KindSeLockedOut))
}

func TestSignRequiresPriorVerifyPin(t *testing.T) {
	se := NewSimulated()
	require.NoError(t, se.SetPin("1234"))
	_, err := se.GenerateKey("0")
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("tx"))
	_, err = se.Sign("0", digest[:], signingspec.AlgorithmEd25519)
	require.Error(t, err)
	assert.True(t, signerr.Is(err, signerr.KindSeAuth))
}

func TestGenerateThenSignEd25519(t *testing.T) {
	se := NewSimulated()
	require.NoError(t, se.SetPin("1234"))
	pub, err := se.GenerateKey("0")
	require.NoError(t, err)

	ok, err := se.VerifyPin("1234")
	require.NoError(t, err)
	require.True(t, ok)

	digest := sha256.Sum256([]byte("tx"))
	sig, err := se.Sign("0", digest[:], signingspec.AlgorithmEd25519)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(ed25519.PublicKey(pub), digest[:], sig))
}

func TestGenerateThenSignSecp256k1Ecdsa(t *testing.T) {
	se := NewSimulated()
	require.NoError(t, se.SetPin("1234"))
	_, err := se.GenerateKey("0")
	require.NoError(t, err)
	_, err = se.VerifyPin("1234")
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("tx"))
	sig, err := se.Sign("0", digest[:], signingspec.AlgorithmSecp256k1Ecdsa)
	require.NoError(t, err)

	parsed, err := ecdsa.ParseDERSignature(sig)
	require.NoError(t, err)

	seed, err := se.ExportSeedForTest("0")
	require.NoError(t, err)
	priv, pub := btcec.PrivKeyFromBytes(seed)
	_ = priv
	assert.True(t, parsed.Verify(digest[:], pub))
}

func TestGenerateThenSignSecp256k1Schnorr(t *testing.T) {
	se := NewSimulated()
	require.NoError(t, se.SetPin("1234"))
	_, err := se.GenerateKey("0")
	require.NoError(t, err)
	_, err = se.VerifyPin("1234")
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("tx"))
	sig, err := se.Sign("0", digest[:], signingspec.AlgorithmSecp256k1Schnorr)
	require.NoError(t, err)

	parsed, err := schnorr.ParseSignature(sig)
	require.NoError(t, err)

	seed, err := se.ExportSeedForTest("0")
	require.NoError(t, err)
	_, pub := btcec.PrivKeyFromBytes(seed)
	assert.True(t, parsed.Verify(digest[:], pub))
}

func TestImportKeyRecoversPublicKey(t *testing.T) {
	se := NewSimulated()
	require.NoError(t, se.SetPin("1234"))

	generated, err := se.GenerateKey("0")
	require.NoError(t, err)
	seed, err := se.ExportSeedForTest("0")
	require.NoError(t, err)

	fresh := NewSimulated()
	require.NoError(t, fresh.SetPin("1234"))
	imported, err := fresh.ImportKey("0", seed)
	require.NoError(t, err)
	assert.Equal(t, generated, imported)
}

func TestExportSeedRefusedAfterProvisioning(t *testing.T) {
	se := NewSimulated()
	require.NoError(t, se.SetPin("1234"))
	_, err := se.GenerateKey("0")
	require.NoError(t, err)

	_, err = se.VerifyPin("1234")
	require.NoError(t, err)

	_, err = se.ExportSeed("0")
	assert.Error(t, err)
}

// ExportSeedForTest bypasses the post-provisioning refusal so signature
// tests can recover the raw seed to independently verify against.
func (s *Simulated) ExportSeedForTest(slotID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[slotID]
	if !ok {
		return nil, fmt.Errorf("no such slot %q", slotID)
	}
	out := make([]byte, SeedSize)
	copy(out, sl.seed[:])
	return out, nil
}
