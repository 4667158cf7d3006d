package testfixtures

import borsh "github.com/near/borsh-go"

// legacySpec is a stand-in for the positional wire format signingspec
// deliberately did not adopt: fields are encoded in declaration order with
// no key or type tag, so a decoder has no way to notice an unexpected or
// missing field short of the two byte slices happening to have different
// lengths.
type legacySpec struct {
	Label     string
	Algorithm string
	KeyID     string
}

// BorshEncodedSpec serializes a plausible-looking spec using the
// positional format signingspec's decoder must reject outright: valid
// Borsh, but not a CBOR map, and not something codec.Decode should ever
// mistake for one of its own tagged variants.
func BorshEncodedSpec() []byte {
	b, err := borsh.Serialize(legacySpec{
		Label:     "legacy transfer",
		Algorithm: "Ed25519",
		KeyID:     "0",
	})
	if err != nil {
		panic("testfixtures: borsh.Serialize of a fixed struct cannot fail: " + err.Error())
	}
	return b
}
