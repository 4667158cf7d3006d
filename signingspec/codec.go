package signingspec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/anchoragelabs/airgap-signer-core/signerr"
)

// canonicalEncMode produces deterministic map-key ordering and integer
// encoding so two calls to Encode on equal values produce byte-identical
// output, which a byte-for-byte comparison of a re-encoded spec against its
// original input depends on.
var canonicalEncMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("signingspec: building canonical encode mode: %v", err))
	}
	return mode
}()

// strictDecMode rejects duplicate map keys and refuses to decode into a
// destination that would silently drop unrecognized data.
var strictDecMode = func() cbor.DecMode {
	opts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}
	mode, err := opts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("signingspec: building strict decode mode: %v", err))
	}
	return mode
}()

// wireSpec is the exact shape of Spec on the wire: a CBOR map with textual
// keys, using cbor.RawMessage for the variant fields so Decode can apply the
// single-key-map convention itself and reject unknown variant tags before
// they ever reach Spec.
type wireSpec struct {
	Label     string          `cbor:"label"`
	Signable  cbor.RawMessage `cbor:"signable"`
	Algorithm cbor.RawMessage `cbor:"algorithm"`
	KeyID     string          `cbor:"key_id"`
	Output    cbor.RawMessage `cbor:"output"`
}

// singleKeyVariant decodes a CBOR single-key map, returning the one key
// present and its raw payload. It is an error for the map to have zero keys
// or more than one.
func singleKeyVariant(raw cbor.RawMessage) (tag string, payload cbor.RawMessage, err error) {
	var m map[string]cbor.RawMessage
	if err := strictDecMode.Unmarshal(raw, &m); err != nil {
		return "", nil, fmt.Errorf("variant is not a map: %w", err)
	}
	if len(m) != 1 {
		return "", nil, fmt.Errorf("variant map has %d keys, want exactly 1", len(m))
	}
	for k, v := range m {
		tag, payload = k, v
	}
	return tag, payload, nil
}

func encodeSingleKeyVariant(tag string, payload interface{}) (cbor.RawMessage, error) {
	raw, err := canonicalEncMode.Marshal(payload)
	if err != nil {
		return nil, err
	}
	m := map[string]cbor.RawMessage{tag: raw}
	return canonicalEncMode.Marshal(m)
}

type rangePayload struct {
	Offset uint64 `cbor:"offset"`
	Length uint64 `cbor:"length"`
}

type hashThenSignPayload struct {
	Hash   HashAlgorithm   `cbor:"hash"`
	Source cbor.RawMessage `cbor:"source"`
}

func decodeSignable(raw cbor.RawMessage) (Signable, error) {
	tag, payload, err := singleKeyVariant(raw)
	if err != nil {
		return Signable{}, fmt.Errorf("signable: %w", err)
	}
	switch SignableKind(tag) {
	case SignableWholeKind:
		return SignableWhole(), nil
	case SignableRangeKind:
		var p rangePayload
		if err := strictDecMode.Unmarshal(payload, &p); err != nil {
			return Signable{}, fmt.Errorf("signable.Range: %w", err)
		}
		return SignableRange(p.Offset, p.Length), nil
	case SignableHashThenSignKind:
		var p hashThenSignPayload
		if err := strictDecMode.Unmarshal(payload, &p); err != nil {
			return Signable{}, fmt.Errorf("signable.HashThenSign: %w", err)
		}
		src, err := decodeSignableSource(p.Source)
		if err != nil {
			return Signable{}, fmt.Errorf("signable.HashThenSign: %w", err)
		}
		return SignableHashThenSign(p.Hash, src), nil
	default:
		return Signable{}, fmt.Errorf("signable: unknown variant tag %q", tag)
	}
}

func decodeSignableSource(raw cbor.RawMessage) (SignableSource, error) {
	tag, payload, err := singleKeyVariant(raw)
	if err != nil {
		return SignableSource{}, fmt.Errorf("source: %w", err)
	}
	switch SourceKind(tag) {
	case SourceWhole:
		return Whole(), nil
	case SourceRange:
		var p rangePayload
		if err := strictDecMode.Unmarshal(payload, &p); err != nil {
			return SignableSource{}, fmt.Errorf("source.Range: %w", err)
		}
		return SourceRangeOf(p.Offset, p.Length), nil
	default:
		return SignableSource{}, fmt.Errorf("source: unknown variant tag %q", tag)
	}
}

func encodeSignable(s Signable) (cbor.RawMessage, error) {
	switch s.Kind {
	case SignableWholeKind:
		return encodeSingleKeyVariant(string(SignableWholeKind), nil)
	case SignableRangeKind:
		return encodeSingleKeyVariant(string(SignableRangeKind), rangePayload{Offset: s.Offset, Length: s.Length})
	case SignableHashThenSignKind:
		srcRaw, err := encodeSignableSource(s.Source)
		if err != nil {
			return nil, err
		}
		return encodeSingleKeyVariant(string(SignableHashThenSignKind), hashThenSignPayload{Hash: s.Hash, Source: srcRaw})
	default:
		return nil, fmt.Errorf("signable: unknown variant %q", s.Kind)
	}
}

func encodeSignableSource(s SignableSource) (cbor.RawMessage, error) {
	switch s.Kind {
	case SourceWhole:
		return encodeSingleKeyVariant(string(SourceWhole), nil)
	case SourceRange:
		return encodeSingleKeyVariant(string(SourceRange), rangePayload{Offset: s.Offset, Length: s.Length})
	default:
		return nil, fmt.Errorf("source: unknown variant %q", s.Kind)
	}
}

func decodeAlgorithm(raw cbor.RawMessage) (SignAlgorithm, error) {
	tag, _, err := singleKeyVariant(raw)
	if err != nil {
		return "", fmt.Errorf("algorithm: %w", err)
	}
	alg := SignAlgorithm(tag)
	if !alg.valid() {
		return "", fmt.Errorf("algorithm: unknown variant tag %q", tag)
	}
	return alg, nil
}

func encodeAlgorithm(a SignAlgorithm) (cbor.RawMessage, error) {
	return encodeSingleKeyVariant(string(a), nil)
}

func decodeOutput(raw cbor.RawMessage) (OutputKind, error) {
	tag, _, err := singleKeyVariant(raw)
	if err != nil {
		return "", fmt.Errorf("output: %w", err)
	}
	out := OutputKind(tag)
	if !out.valid() {
		return "", fmt.Errorf("output: unknown variant tag %q", tag)
	}
	return out, nil
}

func encodeOutput(o OutputKind) (cbor.RawMessage, error) {
	return encodeSingleKeyVariant(string(o), nil)
}

// Decode parses a CBOR-encoded signing spec and validates it. Any structural
// problem — a map that isn't a map, a missing field, an extra field, an
// unknown variant tag, or a value out of range — is reported as a
// *signerr.Error of KindSpecDecode, never a panic, since raw is
// attacker-controlled removable-storage input. A payload attached to a
// variant that carries none (Whole, an algorithm, an output) is not
// inspected.
func Decode(raw []byte) (Spec, error) {
	var w wireSpec
	if err := strictDecMode.Unmarshal(raw, &w); err != nil {
		return Spec{}, signerr.Wrap(signerr.KindSpecDecode, fmt.Errorf("decoding spec envelope: %w", err))
	}
	var present map[string]cbor.RawMessage
	if err := strictDecMode.Unmarshal(raw, &present); err != nil {
		return Spec{}, signerr.Wrap(signerr.KindSpecDecode, fmt.Errorf("decoding spec envelope: %w", err))
	}
	for _, field := range []string{"label", "signable", "algorithm", "key_id", "output"} {
		if _, ok := present[field]; !ok {
			return Spec{}, signerr.New(signerr.KindSpecDecode, fmt.Sprintf("missing field %q", field))
		}
	}

	signable, err := decodeSignable(w.Signable)
	if err != nil {
		return Spec{}, signerr.Wrap(signerr.KindSpecDecode, err)
	}
	algorithm, err := decodeAlgorithm(w.Algorithm)
	if err != nil {
		return Spec{}, signerr.Wrap(signerr.KindSpecDecode, err)
	}
	output, err := decodeOutput(w.Output)
	if err != nil {
		return Spec{}, signerr.Wrap(signerr.KindSpecDecode, err)
	}

	spec := Spec{
		Label:     w.Label,
		Signable:  signable,
		Algorithm: algorithm,
		KeyID:     w.KeyID,
		Output:    output,
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, signerr.Wrap(signerr.KindSpecDecode, err)
	}
	return spec, nil
}

// Encode serializes spec back to its canonical CBOR wire form. Two calls on
// equal Spec values always produce byte-identical output.
func Encode(spec Spec) ([]byte, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to encode invalid spec: %w", err)
	}

	signableRaw, err := encodeSignable(spec.Signable)
	if err != nil {
		return nil, err
	}
	algorithmRaw, err := encodeAlgorithm(spec.Algorithm)
	if err != nil {
		return nil, err
	}
	outputRaw, err := encodeOutput(spec.Output)
	if err != nil {
		return nil, err
	}

	w := wireSpec{
		Label:     spec.Label,
		Signable:  signableRaw,
		Algorithm: algorithmRaw,
		KeyID:     spec.KeyID,
		Output:    outputRaw,
	}
	return canonicalEncMode.Marshal(w)
}

// VerifyRoundTrip re-encodes spec and checks the result decodes back to an
// equal value, the same audit-trail check a manifest hashing scheme plays
// for Turnkey manifests, applied here to the signing spec instead.
func VerifyRoundTrip(spec Spec) error {
	raw, err := Encode(spec)
	if err != nil {
		return fmt.Errorf("round trip encode: %w", err)
	}
	decoded, err := Decode(raw)
	if err != nil {
		return fmt.Errorf("round trip decode: %w", err)
	}
	if decoded != spec {
		return fmt.Errorf("round trip mismatch: got %+v, want %+v", decoded, spec)
	}
	return nil
}
