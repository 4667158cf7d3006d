// Package signingspec decodes and validates the declarative signing
// description carried alongside a payload on removable storage
// (sign.cbor), and is the exact inverse serializer used to round-trip it.
//
// The wire format is CBOR: maps with textual keys, and tagged variants
// (Signable, SignAlgorithm, OutputSpec) encoded as single-key maps whose key
// is the variant tag and whose value is the variant's payload (null for
// variants that carry none). Unknown top-level keys, unknown keys in a Range
// or HashThenSign payload, and unknown variant tags are a decode error
// rather than being silently ignored — see Decode. The payload of a variant
// that carries none is not inspected.
package signingspec

import "fmt"

// HashAlgorithm names a digest used by a HashThenSign signable.
type HashAlgorithm string

const (
	HashBlake2b256 HashAlgorithm = "Blake2b-256"
	HashSHA256     HashAlgorithm = "SHA-256"
	HashSHA3_256   HashAlgorithm = "SHA3-256"
)

func (h HashAlgorithm) valid() bool {
	switch h {
	case HashBlake2b256, HashSHA256, HashSHA3_256:
		return true
	default:
		return false
	}
}

// SignAlgorithm names the signature scheme a spec requests.
type SignAlgorithm string

const (
	AlgorithmEd25519          SignAlgorithm = "Ed25519"
	AlgorithmSecp256k1Ecdsa   SignAlgorithm = "Secp256k1Ecdsa"
	AlgorithmSecp256k1Schnorr SignAlgorithm = "Secp256k1Schnorr"
)

func (a SignAlgorithm) valid() bool {
	switch a {
	case AlgorithmEd25519, AlgorithmSecp256k1Ecdsa, AlgorithmSecp256k1Schnorr:
		return true
	default:
		return false
	}
}

// SourceKind discriminates the two SignableSource variants (the source a
// HashThenSign digest is computed over).
type SourceKind string

const (
	SourceWhole SourceKind = "Whole"
	SourceRange SourceKind = "Range"
)

// SignableSource selects the bytes fed into a HashThenSign digest: either
// the whole payload or a byte range within it.
type SignableSource struct {
	Kind   SourceKind
	Offset uint64 // meaningful only when Kind == SourceRange
	Length uint64 // meaningful only when Kind == SourceRange
}

// Whole returns the SignableSource selecting the entire payload.
func Whole() SignableSource { return SignableSource{Kind: SourceWhole} }

// SourceRangeOf returns the SignableSource selecting payload[offset:offset+length].
func SourceRangeOf(offset, length uint64) SignableSource {
	return SignableSource{Kind: SourceRange, Offset: offset, Length: length}
}

// SignableKind discriminates the three Signable variants.
type SignableKind string

const (
	SignableWholeKind        SignableKind = "Whole"
	SignableRangeKind        SignableKind = "Range"
	SignableHashThenSignKind SignableKind = "HashThenSign"
)

// Signable describes which bytes of the payload get signed, and how.
type Signable struct {
	Kind SignableKind

	// Range fields, meaningful only when Kind == SignableRangeKind.
	Offset uint64
	Length uint64

	// HashThenSign fields, meaningful only when Kind == SignableHashThenSignKind.
	Hash   HashAlgorithm
	Source SignableSource
}

// SignableWhole returns the Signable selecting the entire payload.
func SignableWhole() Signable { return Signable{Kind: SignableWholeKind} }

// SignableRange returns the Signable selecting payload[offset:offset+length].
func SignableRange(offset, length uint64) Signable {
	return Signable{Kind: SignableRangeKind, Offset: offset, Length: length}
}

// SignableHashThenSign returns the Signable that hashes source with hash and
// signs the digest.
func SignableHashThenSign(hash HashAlgorithm, source SignableSource) Signable {
	return Signable{Kind: SignableHashThenSignKind, Hash: hash, Source: source}
}

// OutputKind discriminates the three OutputSpec variants.
type OutputKind string

const (
	OutputSignatureOnly   OutputKind = "SignatureOnly"
	OutputAppendToPayload OutputKind = "AppendToPayload"
	OutputWasmAssemble    OutputKind = "WasmAssemble"
)

func (o OutputKind) valid() bool {
	switch o {
	case OutputSignatureOnly, OutputAppendToPayload, OutputWasmAssemble:
		return true
	default:
		return false
	}
}

// Spec is a fully-decoded, validated signing specification. It is immutable
// for the duration of one signing cycle.
type Spec struct {
	Label     string
	Signable  Signable
	Algorithm SignAlgorithm
	KeyID     string
	Output    OutputKind
}

// maxLabelCodePoints bounds the human-readable label to 64 code points.
const maxLabelCodePoints = 64

// Validate checks the invariants Decode must also enforce: known variants,
// a label within the code-point budget, and (when the variant carries a
// range) an offset/length pair that is at least internally well-formed.
// Payload-length-dependent range checking is done by the signable package at
// extraction time, not here, since Decode has no payload to check against.
func (s Spec) Validate() error {
	if n := len([]rune(s.Label)); n > maxLabelCodePoints {
		return fmt.Errorf("label has %d code points, exceeds %d", n, maxLabelCodePoints)
	}
	switch s.Signable.Kind {
	case SignableWholeKind:
	case SignableRangeKind:
	case SignableHashThenSignKind:
		if !s.Signable.Hash.valid() {
			return fmt.Errorf("unknown hash algorithm %q", s.Signable.Hash)
		}
		switch s.Signable.Source.Kind {
		case SourceWhole, SourceRange:
		default:
			return fmt.Errorf("unknown signable source variant %q", s.Signable.Source.Kind)
		}
	default:
		return fmt.Errorf("unknown signable variant %q", s.Signable.Kind)
	}
	if !s.Algorithm.valid() {
		return fmt.Errorf("unknown algorithm %q", s.Algorithm)
	}
	if s.KeyID == "" {
		return fmt.Errorf("key_id must not be empty")
	}
	if !s.Output.valid() {
		return fmt.Errorf("unknown output variant %q", s.Output)
	}
	return nil
}
