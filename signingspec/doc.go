package signingspec

// Format notes.
//
// Signing specs travel as CBOR maps with a self-describing key for every
// field, and tagged variants (Signable, SignAlgorithm, OutputSpec) as
// single-key maps whose one key names the variant. That is a deliberate
// departure from the positional, un-tagged layout `near/borsh-go` gives
// elsewhere in this module's dependency set: a Borsh decode has no way to
// notice an unexpected trailing field or an unrecognized enum discriminant
// short of running out of bytes at the wrong moment, whereas a CBOR decoder
// with DupMapKeyEnforcedAPF and ExtraDecErrorUnknownField rejects both
// outright.
// A spec arriving over removable storage on an air-gapped device gets no
// second look before it drives a signature, so "reject anything the
// decoder does not fully recognize" mattered more here than Borsh's denser
// framing.
