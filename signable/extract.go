// Package signable extracts the exact bytes a signing cycle will sign, and
// digests them when the requested scheme is hash-then-sign.
//
// This mirrors a typical crypto package (hash-then-sign over a fixed
// digest, package-level pure functions with no held state) but generalizes
// the digest source from "the whole payload" to any of the three Signable
// variants a spec may request.
package signable

import (
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"crypto/sha256"

	"github.com/anchoragelabs/airgap-signer-core/signerr"
	"github.com/anchoragelabs/airgap-signer-core/signingspec"
)

// Slice returns a copy of payload[offset:offset+length], failing with
// KindRangeOutOfBounds rather than panicking when the range does not fit —
// offset and length come from an attacker-controlled spec. The result never
// aliases payload, so callers may zero it without corrupting the source.
func Slice(payload []byte, offset, length uint64) ([]byte, error) {
	if offset > uint64(len(payload)) {
		return nil, signerr.New(signerr.KindRangeOutOfBounds,
			fmt.Sprintf("offset %d exceeds payload length %d", offset, len(payload)))
	}
	end := offset + length
	if end < offset || end > uint64(len(payload)) {
		return nil, signerr.New(signerr.KindRangeOutOfBounds,
			fmt.Sprintf("range [%d:%d] exceeds payload length %d", offset, end, len(payload)))
	}
	out := make([]byte, length)
	copy(out, payload[offset:end])
	return out, nil
}

func newDigest(alg signingspec.HashAlgorithm) (hash.Hash, error) {
	switch alg {
	case signingspec.HashBlake2b256:
		return blake2b.New256(nil)
	case signingspec.HashSHA256:
		return sha256.New(), nil
	case signingspec.HashSHA3_256:
		return sha3.New256(), nil
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", alg)
	}
}

func resolveSource(payload []byte, src signingspec.SignableSource) ([]byte, error) {
	switch src.Kind {
	case signingspec.SourceWhole:
		return payload, nil
	case signingspec.SourceRange:
		return Slice(payload, src.Offset, src.Length)
	default:
		return nil, fmt.Errorf("unknown signable source variant %q", src.Kind)
	}
}

// Extract computes the bytes that get signed for spec's Signable against
// payload: the whole payload, a byte range of it, or a digest of one of
// those. The returned bytes are what a KeyProvider-style signer consumes
// directly — for HashThenSign that is the raw digest, not the pre-image.
// The result never aliases payload's backing array, in any variant: a
// caller that scrubs the signed message afterward must not also scrub the
// original payload.
func Extract(payload []byte, s signingspec.Signable) ([]byte, error) {
	switch s.Kind {
	case signingspec.SignableWholeKind:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	case signingspec.SignableRangeKind:
		return Slice(payload, s.Offset, s.Length)
	case signingspec.SignableHashThenSignKind:
		source, err := resolveSource(payload, s.Source)
		if err != nil {
			return nil, signerr.Wrap(signerr.KindRangeOutOfBounds, err)
		}
		digest, err := newDigest(s.Hash)
		if err != nil {
			return nil, signerr.New(signerr.KindSpecDecode, err.Error())
		}
		if _, err := digest.Write(source); err != nil {
			return nil, fmt.Errorf("hashing signable source: %w", err)
		}
		return digest.Sum(nil), nil
	default:
		return nil, signerr.New(signerr.KindSpecDecode, fmt.Sprintf("unknown signable variant %q", s.Kind))
	}
}
