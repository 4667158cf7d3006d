package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchoragelabs/airgap-signer-core/hwcontracts"
	"github.com/anchoragelabs/airgap-signer-core/render"
	"github.com/anchoragelabs/airgap-signer-core/secureelement"
	"github.com/anchoragelabs/airgap-signer-core/signerr"
	"github.com/anchoragelabs/airgap-signer-core/signingspec"
	"github.com/anchoragelabs/airgap-signer-core/storage"
)

// fakeDisplay records every ShowMessage/ShowLines call instead of drawing
// anything, an in-memory recorder rather than a mocking framework.
type fakeDisplay struct {
	messages [][]string
	lines    []render.DisplayLine
	scroll   int
	width    int
}

func newFakeDisplay() *fakeDisplay { return &fakeDisplay{width: 40} }

func (d *fakeDisplay) Clear() {}
func (d *fakeDisplay) ShowMessage(lines []string) {
	d.messages = append(d.messages, lines)
}
func (d *fakeDisplay) ShowLines(lines []render.DisplayLine, scrollOffset int) {
	d.lines = lines
	d.scroll = scrollOffset
}
func (d *fakeDisplay) Width() int { return d.width }

func (d *fakeDisplay) lastMessage() []string {
	if len(d.messages) == 0 {
		return nil
	}
	return d.messages[len(d.messages)-1]
}

// fakeInterpreter stands in for a compiled sandbox module so state-machine
// tests never need to encode real WASM bytecode.
type fakeInterpreter struct {
	result       []byte
	assembled    []byte
	hasAssemble  bool
	interpretErr error
	assembleErr  error
	closed       bool

	// assemblePayload/assembleSignature record exactly what the machine
	// forwarded to Assemble, so a test can catch the machine handing over
	// bytes that were mutated (e.g. zeroed) after extraction.
	assemblePayload   []byte
	assembleSignature []byte
}

func (f *fakeInterpreter) Interpret(ctx context.Context, payload []byte) ([]byte, error) {
	if f.interpretErr != nil {
		return nil, f.interpretErr
	}
	return f.result, nil
}

func (f *fakeInterpreter) Assemble(ctx context.Context, payload, signature []byte) ([]byte, error) {
	f.assemblePayload = append([]byte{}, payload...)
	f.assembleSignature = append([]byte{}, signature...)
	if f.assembleErr != nil {
		return nil, f.assembleErr
	}
	return f.assembled, nil
}

func (f *fakeInterpreter) HasAssemble() bool { return f.hasAssemble }

func (f *fakeInterpreter) Close(ctx context.Context) error {
	f.closed = true
	return nil
}

type fakeLoader struct {
	interp *fakeInterpreter
	err    error
}

func (l *fakeLoader) Load(ctx context.Context, wasmBytes []byte) (Interpreter, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.interp, nil
}

func specCBOR(t *testing.T, spec signingspec.Spec) []byte {
	t.Helper()
	raw, err := signingspec.Encode(spec)
	require.NoError(t, err)
	return raw
}

// harness bundles a Machine with its fakes and drives it from Boot through
// a fresh provisioning cycle up to Idle, ready for a signing scenario.
type harness struct {
	t       *testing.T
	m       *Machine
	display *fakeDisplay
	store   *storage.Fake
	se      *secureelement.Simulated
	loader  *fakeLoader
	pub     []byte
}

// insertSigningVolume swaps in a fresh Fake volume for one signing cycle.
// storage.Fake.Insert may be called only once per instance, so each
// insert-storage step in a scenario needs its own Fake rather than
// reinserting into the one used for provisioning.
func (h *harness) insertSigningVolume(files map[string][]byte) {
	h.store = storage.NewFake()
	h.m.SetStorage(h.store)
	h.store.Insert(files)
}

func newProvisionedHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	display := newFakeDisplay()
	store := storage.NewFake()
	se := secureelement.NewSimulated()
	loader := &fakeLoader{interp: &fakeInterpreter{}}

	m := NewMachine(display, nil, store, se, loader)
	state, err := m.Start(ctx)
	require.NoError(t, err)
	require.Equal(t, SetupPinEntry, state)

	state, err = m.Step(ctx, PinEntered{Pin: "1234"})
	require.NoError(t, err)
	require.Equal(t, SetupPinConfirm, state)

	state, err = m.Step(ctx, PinEntered{Pin: "1234"})
	require.NoError(t, err)
	require.Equal(t, SetupPrivateStorageWait, state)

	store.Insert(nil)
	state, err = m.Step(ctx, StorageArrived{})
	require.NoError(t, err)
	require.Equal(t, SetupPublicStorageWait, state)

	pub, ok := store.WrittenFile("pubkey.bin")
	require.False(t, ok, "pubkey.bin belongs on the public volume, not private")

	state, err = m.Step(ctx, StorageArrived{})
	require.NoError(t, err)
	require.Equal(t, Authenticate, state)

	pub, ok = store.WrittenFile("pubkey.bin")
	require.True(t, ok)

	state, err = m.Step(ctx, PinEntered{Pin: "1234"})
	require.NoError(t, err)
	require.Equal(t, Idle, state)

	return &harness{t: t, m: m, display: display, store: store, se: se, loader: loader, pub: pub}
}

func TestProvisioningThenAuthenticateReachesIdle(t *testing.T) {
	h := newProvisionedHarness(t)
	assert.Equal(t, Idle, h.m.State())
	assert.NotEmpty(t, h.pub)
}

// TestEndToEndSignatureOnly is scenario E1: insert storage, review, confirm,
// signature lands on the output volume, and Done returns to Idle once the
// volume is removed.
func TestEndToEndSignatureOnly(t *testing.T) {
	h := newProvisionedHarness(t)
	ctx := context.Background()

	spec := signingspec.Spec{
		Label:     "test transfer",
		Signable:  signingspec.SignableWhole(),
		Algorithm: signingspec.AlgorithmEd25519,
		KeyID:     KeySlot,
		Output:    signingspec.OutputSignatureOnly,
	}
	h.loader.interp.result = []byte(`{"to":"alice","amount":5}`)

	h.insertSigningVolume(map[string][]byte{
		"payload.bin":      []byte("payload-bytes"),
		"interpreter.wasm": []byte("wasm-bytes"),
		"sign.cbor":        specCBOR(t, spec),
	})

	state, err := h.m.Step(ctx, StorageArrived{})
	require.NoError(t, err)
	require.Equal(t, Review, state, h.display.lastMessage())

	state, err = h.m.Step(ctx, ButtonPressed{Button: hwcontracts.ButtonConfirm})
	require.NoError(t, err)
	require.Equal(t, Done, state)

	signed, ok := h.store.WrittenFile("signed.bin")
	require.True(t, ok)
	require.NotEmpty(t, signed)

	pub, err := h.se.PublicKey(KeySlot)
	require.NoError(t, err)
	assert.Len(t, pub, 32)

	state, err = h.m.Step(ctx, StorageRemoved{})
	require.NoError(t, err)
	assert.Equal(t, Idle, state)
}

// TestReviewRejectReturnsToIdleWithoutSigning is scenario E4 and invariant
// 8: pressing Reject at Review must never reach the secure element.
func TestReviewRejectReturnsToIdleWithoutSigning(t *testing.T) {
	h := newProvisionedHarness(t)
	ctx := context.Background()

	spec := signingspec.Spec{
		Label:     "reject me",
		Signable:  signingspec.SignableWhole(),
		Algorithm: signingspec.AlgorithmEd25519,
		KeyID:     KeySlot,
		Output:    signingspec.OutputSignatureOnly,
	}
	h.loader.interp.result = []byte(`{"to":"bob"}`)
	h.insertSigningVolume(map[string][]byte{
		"payload.bin":      []byte("payload"),
		"interpreter.wasm": []byte("wasm"),
		"sign.cbor":        specCBOR(t, spec),
	})

	state, err := h.m.Step(ctx, StorageArrived{})
	require.NoError(t, err)
	require.Equal(t, Review, state)

	state, err = h.m.Step(ctx, ButtonPressed{Button: hwcontracts.ButtonReject})
	require.NoError(t, err)
	assert.Equal(t, Idle, state)

	_, ok := h.store.WrittenFile("signed.bin")
	assert.False(t, ok, "reject must not produce any output")
}

// TestReviewScrollDoesNotAdvanceState covers Up/Down at Review being pure
// display operations.
func TestReviewScrollDoesNotAdvanceState(t *testing.T) {
	h := newProvisionedHarness(t)
	ctx := context.Background()

	spec := signingspec.Spec{
		Label:     "scroll",
		Signable:  signingspec.SignableWhole(),
		Algorithm: signingspec.AlgorithmEd25519,
		KeyID:     KeySlot,
		Output:    signingspec.OutputSignatureOnly,
	}
	h.loader.interp.result = []byte(`{"a":1,"b":2,"c":3}`)
	h.insertSigningVolume(map[string][]byte{
		"payload.bin":      []byte("payload"),
		"interpreter.wasm": []byte("wasm"),
		"sign.cbor":        specCBOR(t, spec),
	})

	state, err := h.m.Step(ctx, StorageArrived{})
	require.NoError(t, err)
	require.Equal(t, Review, state)

	state, err = h.m.Step(ctx, ButtonPressed{Button: hwcontracts.ButtonDown})
	require.NoError(t, err)
	assert.Equal(t, Review, state)
	assert.Equal(t, 1, h.display.scroll)

	state, err = h.m.Step(ctx, ButtonPressed{Button: hwcontracts.ButtonUp})
	require.NoError(t, err)
	assert.Equal(t, Review, state)
	assert.Equal(t, 0, h.display.scroll)
}

// TestWrongPinLocksOutAfterBudget is scenario E5: five consecutive wrong
// PINs during Authenticate move to the terminal LockedOut state.
func TestWrongPinLocksOutAfterBudget(t *testing.T) {
	ctx := context.Background()
	display := newFakeDisplay()
	store := storage.NewFake()
	se := secureelement.NewSimulated()
	loader := &fakeLoader{interp: &fakeInterpreter{}}
	m := NewMachine(display, nil, store, se, loader)

	state, err := m.Start(ctx)
	require.NoError(t, err)
	require.Equal(t, SetupPinEntry, state)
	state, _ = m.Step(ctx, PinEntered{Pin: "0000"})
	require.Equal(t, SetupPinConfirm, state)
	state, _ = m.Step(ctx, PinEntered{Pin: "0000"})
	require.Equal(t, SetupPrivateStorageWait, state)
	store.Insert(nil)
	state, _ = m.Step(ctx, StorageArrived{})
	require.Equal(t, SetupPublicStorageWait, state)
	state, _ = m.Step(ctx, StorageArrived{})
	require.Equal(t, Authenticate, state)

	for i := 0; i < secureelement.MaxPinAttempts-1; i++ {
		state, err = m.Step(ctx, PinEntered{Pin: "9999"})
		require.NoError(t, err)
		require.Equal(t, Authenticate, state)
	}
	state, err = m.Step(ctx, PinEntered{Pin: "9999"})
	require.NoError(t, err)
	assert.Equal(t, LockedOut, state)
	assert.True(t, state.Terminal())

	_, err = m.Step(ctx, PinEntered{Pin: "0000"})
	assert.Error(t, err, "no transitions leave a terminal state")
}

// TestBadInterpreterReturnsToIdle is scenario E6: a spec/interpreter that
// fails to load rejects the cycle back to Idle instead of crashing.
func TestBadInterpreterReturnsToIdle(t *testing.T) {
	h := newProvisionedHarness(t)
	ctx := context.Background()
	h.loader.err = signerr.New(signerr.KindSandboxAbi, "bad module")

	h.insertSigningVolume(map[string][]byte{
		"payload.bin":      []byte("payload"),
		"interpreter.wasm": []byte("not really wasm"),
		"sign.cbor": specCBOR(t, signingspec.Spec{
			Label:     "bad",
			Signable:  signingspec.SignableWhole(),
			Algorithm: signingspec.AlgorithmEd25519,
			KeyID:     KeySlot,
			Output:    signingspec.OutputSignatureOnly,
		}),
	})

	state, err := h.m.Step(ctx, StorageArrived{})
	require.NoError(t, err)
	assert.Equal(t, Idle, state)
}

// TestSignRequiresPriorAuthenticationInSession is invariant 9: Signing must
// never be reachable without pinVerifiedThisSess having been set by a
// successful Authenticate transition.
func TestSignRequiresPriorAuthenticationInSession(t *testing.T) {
	h := newProvisionedHarness(t)
	ctx := context.Background()
	h.m.pinVerifiedThisSess = false

	spec := signingspec.Spec{
		Label:     "no auth",
		Signable:  signingspec.SignableWhole(),
		Algorithm: signingspec.AlgorithmEd25519,
		KeyID:     KeySlot,
		Output:    signingspec.OutputSignatureOnly,
	}
	h.loader.interp.result = []byte(`{"x":1}`)
	h.insertSigningVolume(map[string][]byte{
		"payload.bin":      []byte("payload"),
		"interpreter.wasm": []byte("wasm"),
		"sign.cbor":        specCBOR(t, spec),
	})

	state, err := h.m.Step(ctx, StorageArrived{})
	require.NoError(t, err)
	require.Equal(t, Review, state)

	state, err = h.m.Step(ctx, ButtonPressed{Button: hwcontracts.ButtonConfirm})
	require.NoError(t, err)
	assert.Equal(t, Fatal, state)
}

// TestWasmAssembleOutputRequiresAssembleExport covers the OutputWasmAssemble
// dispatch path and its refusal when the loaded module has no assemble
// export.
func TestWasmAssembleOutputRequiresAssembleExport(t *testing.T) {
	h := newProvisionedHarness(t)
	ctx := context.Background()

	spec := signingspec.Spec{
		Label:     "assemble",
		Signable:  signingspec.SignableWhole(),
		Algorithm: signingspec.AlgorithmEd25519,
		KeyID:     KeySlot,
		Output:    signingspec.OutputWasmAssemble,
	}
	h.loader.interp.result = []byte(`{"x":1}`)
	h.loader.interp.hasAssemble = false
	h.insertSigningVolume(map[string][]byte{
		"payload.bin":      []byte("payload"),
		"interpreter.wasm": []byte("wasm"),
		"sign.cbor":        specCBOR(t, spec),
	})

	state, err := h.m.Step(ctx, StorageArrived{})
	require.NoError(t, err)
	assert.Equal(t, Idle, state, h.display.lastMessage())

	h.loader.interp.hasAssemble = true
	h.loader.interp.assembled = []byte("assembled-tx")
	h.insertSigningVolume(map[string][]byte{
		"payload.bin":      []byte("payload"),
		"interpreter.wasm": []byte("wasm"),
		"sign.cbor":        specCBOR(t, spec),
	})

	state, err = h.m.Step(ctx, StorageArrived{})
	require.NoError(t, err)
	require.Equal(t, Review, state)

	state, err = h.m.Step(ctx, ButtonPressed{Button: hwcontracts.ButtonConfirm})
	require.NoError(t, err)
	require.Equal(t, Done, state)

	signed, ok := h.store.WrittenFile("signed.bin")
	require.True(t, ok)
	assert.Equal(t, []byte("assembled-tx"), signed)
}

// TestWasmAssembleReceivesUnmodifiedPayload is a regression test for
// signable.Extract having once returned a slice that aliased the machine's
// payload buffer: confirmAndSign's zero(message) after signing would then
// zero m.payload out from under the later Assemble call. Signable is Whole,
// so message and m.payload previously pointed at the same backing array.
func TestWasmAssembleReceivesUnmodifiedPayload(t *testing.T) {
	h := newProvisionedHarness(t)
	ctx := context.Background()

	spec := signingspec.Spec{
		Label:     "assemble-whole",
		Signable:  signingspec.SignableWhole(),
		Algorithm: signingspec.AlgorithmEd25519,
		KeyID:     KeySlot,
		Output:    signingspec.OutputWasmAssemble,
	}
	h.loader.interp.result = []byte(`{"x":1}`)
	h.loader.interp.hasAssemble = true
	h.loader.interp.assembled = []byte("assembled-tx")

	payload := []byte("original-payload-bytes")
	h.insertSigningVolume(map[string][]byte{
		"payload.bin":      payload,
		"interpreter.wasm": []byte("wasm"),
		"sign.cbor":        specCBOR(t, spec),
	})

	state, err := h.m.Step(ctx, StorageArrived{})
	require.NoError(t, err)
	require.Equal(t, Review, state)

	state, err = h.m.Step(ctx, ButtonPressed{Button: hwcontracts.ButtonConfirm})
	require.NoError(t, err)
	require.Equal(t, Done, state)

	assert.Equal(t, payload, h.loader.interp.assemblePayload,
		"Assemble must see the real payload, not a scrubbed copy that aliased it")
}

// TestAppendToPayloadOutputIsUnmodified covers OutputAppendToPayload with a
// Range signable, and is the AppendToPayload half of the same aliasing
// regression: emit() reads m.payload again after confirmAndSign has already
// zeroed the extracted signable bytes.
func TestAppendToPayloadOutputIsUnmodified(t *testing.T) {
	h := newProvisionedHarness(t)
	ctx := context.Background()

	spec := signingspec.Spec{
		Label:     "append-range",
		Signable:  signingspec.SignableRange(0, 4),
		Algorithm: signingspec.AlgorithmEd25519,
		KeyID:     KeySlot,
		Output:    signingspec.OutputAppendToPayload,
	}
	h.loader.interp.result = []byte(`{"x":1}`)

	payload := []byte("full-payload-bytes")
	h.insertSigningVolume(map[string][]byte{
		"payload.bin":      payload,
		"interpreter.wasm": []byte("wasm"),
		"sign.cbor":        specCBOR(t, spec),
	})

	state, err := h.m.Step(ctx, StorageArrived{})
	require.NoError(t, err)
	require.Equal(t, Review, state)

	state, err = h.m.Step(ctx, ButtonPressed{Button: hwcontracts.ButtonConfirm})
	require.NoError(t, err)
	require.Equal(t, Done, state)

	signed, ok := h.store.WrittenFile("signed.bin")
	require.True(t, ok)
	require.True(t, len(signed) > len(payload))
	assert.Equal(t, payload, signed[:len(payload)],
		"AppendToPayload output must be prefixed with the real, unscrubbed payload")
}

// TestEndToEndSignatureOnlyWithRangeSignable is orchestrator-level coverage
// for SignableRange, previously exercised only by signable's own unit
// tests and never through a full Machine cycle.
func TestEndToEndSignatureOnlyWithRangeSignable(t *testing.T) {
	h := newProvisionedHarness(t)
	ctx := context.Background()

	spec := signingspec.Spec{
		Label:     "range",
		Signable:  signingspec.SignableRange(2, 5),
		Algorithm: signingspec.AlgorithmEd25519,
		KeyID:     KeySlot,
		Output:    signingspec.OutputSignatureOnly,
	}
	h.loader.interp.result = []byte(`{"to":"carol"}`)

	h.insertSigningVolume(map[string][]byte{
		"payload.bin":      []byte("0123456789"),
		"interpreter.wasm": []byte("wasm"),
		"sign.cbor":        specCBOR(t, spec),
	})

	state, err := h.m.Step(ctx, StorageArrived{})
	require.NoError(t, err)
	require.Equal(t, Review, state)

	state, err = h.m.Step(ctx, ButtonPressed{Button: hwcontracts.ButtonConfirm})
	require.NoError(t, err)
	require.Equal(t, Done, state)

	signed, ok := h.store.WrittenFile("signed.bin")
	require.True(t, ok)
	assert.NotEmpty(t, signed)
}

// TestEndToEndSignatureOnlyWithHashThenSignSignable is orchestrator-level
// coverage for SignableHashThenSign, the one Signable variant Extract
// already returned a freshly allocated digest for rather than a slice of
// the payload.
func TestEndToEndSignatureOnlyWithHashThenSignSignable(t *testing.T) {
	h := newProvisionedHarness(t)
	ctx := context.Background()

	spec := signingspec.Spec{
		Label:     "hash-then-sign",
		Signable:  signingspec.SignableHashThenSign(signingspec.HashSHA256, signingspec.Whole()),
		Algorithm: signingspec.AlgorithmEd25519,
		KeyID:     KeySlot,
		Output:    signingspec.OutputSignatureOnly,
	}
	h.loader.interp.result = []byte(`{"to":"dave"}`)

	h.insertSigningVolume(map[string][]byte{
		"payload.bin":      []byte("hash-me-please"),
		"interpreter.wasm": []byte("wasm"),
		"sign.cbor":        specCBOR(t, spec),
	})

	state, err := h.m.Step(ctx, StorageArrived{})
	require.NoError(t, err)
	require.Equal(t, Review, state)

	state, err = h.m.Step(ctx, ButtonPressed{Button: hwcontracts.ButtonConfirm})
	require.NoError(t, err)
	require.Equal(t, Done, state)

	signed, ok := h.store.WrittenFile("signed.bin")
	require.True(t, ok)
	assert.NotEmpty(t, signed)
}
