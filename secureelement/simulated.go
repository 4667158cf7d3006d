// Package secureelement provides Simulated, an in-memory stand-in for the
// hardware secure element behind hwcontracts.SecureElement, for hosts
// without real hardware and for tests.
//
// It plays the same role a pkg/tropicsquare package plays for the Tropic
// Square secure element: a typed collaborator satisfying the hardware
// contract with no physical device behind it yet.
package secureelement

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/anchoragelabs/airgap-signer-core/signerr"
	"github.com/anchoragelabs/airgap-signer-core/signingspec"
)

// MaxPinAttempts is the lockout threshold. The original prototype's
// SimSecureElement never implemented one (its verify_pin has no attempt
// counter at all).
const MaxPinAttempts = 5

// SeedSize is the byte length of a key slot's seed stored in seed.bin.
const SeedSize = 32

type slot struct {
	seed [SeedSize]byte
}

// Simulated is a software secure element: PIN verification with an attempt
// budget and hardware-style lockout, and Ed25519 / secp256k1-ECDSA /
// secp256k1-Schnorr signing over 32-byte seed-derived keys held only inside
// this type.
type Simulated struct {
	mu sync.Mutex

	pinHash      []byte // nil until SetPin
	attemptsLeft int
	lockedOut    bool
	pinVerified  bool
	provisioned  bool

	slots map[string]*slot
}

// NewSimulated returns an unprovisioned secure element.
func NewSimulated() *Simulated {
	return &Simulated{
		attemptsLeft: MaxPinAttempts,
		slots:        make(map[string]*slot),
	}
}

// IsProvisioned reports whether a PIN has been set. The orchestrator's Boot
// state uses this to decide between the setup flow and Authenticate.
func (s *Simulated) IsProvisioned() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provisioned, nil
}

// SetPin sets the device PIN exactly once; a second call is a programming
// error in the orchestrator, not a recoverable runtime condition, so it
// returns a KindSeOther error rather than silently overwriting the PIN.
func (s *Simulated) SetPin(pin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.provisioned {
		return signerr.New(signerr.KindSeOther, "PIN already set")
	}
	if pin == "" {
		return signerr.New(signerr.KindSeOther, "PIN must not be empty")
	}
	hash := sha256.Sum256([]byte(pin))
	s.pinHash = hash[:]
	s.provisioned = true
	return nil
}

// VerifyPin checks pin against the stored hash. A wrong PIN decrements the
// attempt budget and returns (false, nil) while attempts remain; once the
// budget is exhausted, every subsequent call (right or wrong) fails with
// KindSeLockedOut, matching the hardware lockout the Authenticate state
// treats as terminal.
func (s *Simulated) VerifyPin(pin string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lockedOut {
		return false, signerr.New(signerr.KindSeLockedOut, "secure element is locked out")
	}
	if !s.provisioned {
		return false, signerr.New(signerr.KindSeOther, "PIN not set")
	}

	hash := sha256.Sum256([]byte(pin))
	if subtle.ConstantTimeCompare(hash[:], s.pinHash) == 1 {
		s.pinVerified = true
		s.attemptsLeft = MaxPinAttempts
		return true, nil
	}

	s.attemptsLeft--
	if s.attemptsLeft <= 0 {
		s.lockedOut = true
		s.pinVerified = false
		return false, signerr.New(signerr.KindSeLockedOut, "attempt budget exhausted")
	}
	return false, nil
}

func (s *Simulated) requirePinVerified() error {
	if !s.pinVerified {
		return signerr.New(signerr.KindSeAuth, "sign requires a prior successful verify_pin in this session")
	}
	return nil
}

// GenerateKey creates a fresh random 32-byte seed in slot and returns the
// corresponding Ed25519 public key. The seed itself is algorithm-agnostic:
// Sign derives the requested scheme from it per call, while PublicKey
// always returns the Ed25519 key.
func (s *Simulated) GenerateKey(slotID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var seed [SeedSize]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, signerr.Wrap(signerr.KindSeOther, fmt.Errorf("generating seed: %w", err))
	}
	s.slots[slotID] = &slot{seed: seed}
	return ed25519PublicFromSeed(seed)
}

// ImportKey installs an externally-supplied seed (the SetupRecoverOrGenerate
// recovery path: "if seed.bin present, call import_key(0, seed)").
func (s *Simulated) ImportKey(slotID string, seed []byte) ([]byte, error) {
	if len(seed) != SeedSize {
		return nil, signerr.New(signerr.KindSeOther, fmt.Sprintf("seed must be %d bytes, got %d", SeedSize, len(seed)))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf [SeedSize]byte
	copy(buf[:], seed)
	s.slots[slotID] = &slot{seed: buf}
	return ed25519PublicFromSeed(buf)
}

// ExportSeed returns a slot's raw seed. Per contract this is permitted only
// during initial provisioning; Simulated enforces that by refusing once a
// PIN has been verified in any session, since verify_pin success can only
// happen after provisioning completed.
func (s *Simulated) ExportSeed(slotID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pinVerified {
		return nil, signerr.New(signerr.KindSeOther, "export_seed is only permitted during initial provisioning")
	}
	sl, ok := s.slots[slotID]
	if !ok {
		return nil, signerr.New(signerr.KindSeOther, fmt.Sprintf("no key in slot %q", slotID))
	}
	out := make([]byte, SeedSize)
	copy(out, sl.seed[:])
	return out, nil
}

// PublicKey returns slot's Ed25519 public key, deriving it fresh from the
// stored seed on every call rather than caching it.
func (s *Simulated) PublicKey(slotID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[slotID]
	if !ok {
		return nil, signerr.New(signerr.KindSeOther, fmt.Sprintf("no key in slot %q", slotID))
	}
	return ed25519PublicFromSeed(sl.seed)
}

// Sign signs digest under slot's key using algorithm alg, requiring a prior
// successful VerifyPin in the current session.
func (s *Simulated) Sign(slotID string, digest []byte, alg signingspec.SignAlgorithm) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requirePinVerified(); err != nil {
		return nil, err
	}
	sl, ok := s.slots[slotID]
	if !ok {
		return nil, signerr.New(signerr.KindSeOther, fmt.Sprintf("no key in slot %q", slotID))
	}

	switch alg {
	case signingspec.AlgorithmEd25519:
		priv := ed25519.NewKeyFromSeed(sl.seed[:])
		return ed25519.Sign(priv, digest), nil
	case signingspec.AlgorithmSecp256k1Ecdsa:
		priv, _ := btcec.PrivKeyFromBytes(sl.seed[:])
		sig := ecdsa.Sign(priv, digest)
		return sig.Serialize(), nil
	case signingspec.AlgorithmSecp256k1Schnorr:
		priv, _ := btcec.PrivKeyFromBytes(sl.seed[:])
		sig, err := schnorr.Sign(priv, digest)
		if err != nil {
			return nil, signerr.Wrap(signerr.KindSeOther, fmt.Errorf("schnorr sign: %w", err))
		}
		return sig.Serialize(), nil
	default:
		return nil, signerr.New(signerr.KindSeOther, fmt.Sprintf("unsupported algorithm %q", alg))
	}
}

func ed25519PublicFromSeed(seed [SeedSize]byte) ([]byte, error) {
	priv := ed25519.NewKeyFromSeed(seed[:])
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected public key type")
	}
	return []byte(pub), nil
}
