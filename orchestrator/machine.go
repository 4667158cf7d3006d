package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/anchoragelabs/airgap-signer-core/hwcontracts"
	"github.com/anchoragelabs/airgap-signer-core/render"
	"github.com/anchoragelabs/airgap-signer-core/signable"
	"github.com/anchoragelabs/airgap-signer-core/signerr"
	"github.com/anchoragelabs/airgap-signer-core/signingspec"
)

// KeySlot is the one key slot this device provisions: a single
// seed.bin/pubkey.bin pair.
const KeySlot = "0"

const (
	fileSeed    = "seed.bin"
	filePubkey  = "pubkey.bin"
	filePayload = "payload.bin"
	fileInterp  = "interpreter.wasm"
	fileSpec    = "sign.cbor"
	fileSigned  = "signed.bin"
)

// Machine is the device's single state machine. It is not safe for
// concurrent use — the whole point of the single-threaded cooperative
// model is that there is exactly one control flow driving it.
type Machine struct {
	state State

	display hwcontracts.Display
	buttons hwcontracts.Buttons
	storage hwcontracts.Storage
	se      hwcontracts.SecureElement
	loader  ModuleLoader
	logger  *slog.Logger

	pendingPin          string
	pinVerifiedThisSess bool
	provisionedPub      []byte

	spec         signingspec.Spec
	payload      []byte
	interpreter  Interpreter
	lines        []render.DisplayLine
	scrollOffset int
	signature    []byte

	fatalMessage string
}

// NewMachine constructs a Machine in the Boot state. Call Start to run the
// boot decision. Logging defaults to slog.Default(); call SetLogger to
// point it at a specific handler.
func NewMachine(display hwcontracts.Display, buttons hwcontracts.Buttons, storage hwcontracts.Storage, se hwcontracts.SecureElement, loader ModuleLoader) *Machine {
	return &Machine{state: Boot, display: display, buttons: buttons, storage: storage, se: se, loader: loader, logger: slog.Default()}
}

// SetLogger points the machine's diagnostic logging at logger, the
// capability a driver loop injects instead of the state machine reaching
// for a package-level global. nil restores slog.Default().
func (m *Machine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	m.logger = logger
}

// State returns the machine's current state.
func (m *Machine) State() State { return m.state }

// Storage returns the volume the machine is currently wired to, so a
// driver loop can type-assert it down to a concrete implementation (for
// example to call a real WaitInsert before delivering StorageArrived).
func (m *Machine) Storage() hwcontracts.Storage { return m.storage }

// SetStorage points the machine at a different physical volume. The
// driver loop calls this whenever the volume backing the next
// StorageArrived event is not the one already wired in — most notably
// between SetupPrivateStorageWait and SetupPublicStorageWait, which are
// two distinct volumes in sequence, and again before each new signing
// cycle's volume.
func (m *Machine) SetStorage(s hwcontracts.Storage) { m.storage = s }

// FatalMessage returns the user-visible message associated with a Fatal
// state, or "" outside Fatal.
func (m *Machine) FatalMessage() string { return m.fatalMessage }

func (m *Machine) toFatal(format string, args ...interface{}) State {
	m.fatalMessage = fmt.Sprintf(format, args...)
	m.logger.Error("device entering fatal state", "reason", m.fatalMessage, "from_state", m.state.String())
	m.display.ShowMessage([]string{"FATAL", m.fatalMessage})
	m.state = Fatal
	return m.state
}

// Start runs the Boot decision: SetupPinEntry if the secure element is
// unprovisioned, else Authenticate. Boot's transition needs no external
// event — IsProvisioned is itself the secure-element request/response
// suspension point the concurrency model already accounts for.
func (m *Machine) Start(ctx context.Context) (State, error) {
	if m.state != Boot {
		return m.state, fmt.Errorf("Start called outside Boot (state is %s)", m.state)
	}
	provisioned, err := m.se.IsProvisioned()
	if err != nil {
		return m.toFatal("checking provisioning: %v", err), nil
	}
	if provisioned {
		m.state = Authenticate
		m.display.ShowMessage([]string{"ENTER PIN"})
	} else {
		m.state = SetupPinEntry
		m.display.ShowMessage([]string{"SET PIN"})
	}
	return m.state, nil
}

// Step consumes one external event and returns the resulting state. It is
// a no-op returning the current state (with an error) for any event that
// does not apply to the current state, and for any event delivered to a
// terminal state.
func (m *Machine) Step(ctx context.Context, ev Event) (State, error) {
	if m.state.Terminal() {
		return m.state, signerr.New(signerr.KindSeOther, fmt.Sprintf("no transitions out of terminal state %s", m.state))
	}

	if bp, ok := ev.(ButtonPressed); ok && bp.Button == hwcontracts.ButtonReject &&
		(m.state == SetupPinEntry || m.state == SetupPinConfirm) {
		m.pendingPin = ""
		m.state = SetupPinEntry
		m.display.ShowMessage([]string{"SET PIN"})
		return m.state, nil
	}

	switch m.state {
	case SetupPinEntry:
		return m.stepSetupPinEntry(ev)
	case SetupPinConfirm:
		return m.stepSetupPinConfirm(ev)
	case SetupPrivateStorageWait:
		return m.stepSetupPrivateStorageWait(ctx, ev)
	case SetupPublicStorageWait:
		return m.stepSetupPublicStorageWait(ev)
	case Authenticate:
		return m.stepAuthenticate(ev)
	case Idle:
		return m.stepIdle(ctx, ev)
	case Review:
		return m.stepReview(ctx, ev)
	case Done:
		return m.stepDone(ev)
	default:
		return m.state, fmt.Errorf("Step has no handler for state %s", m.state)
	}
}

func (m *Machine) stepSetupPinEntry(ev Event) (State, error) {
	pe, ok := ev.(PinEntered)
	if !ok {
		return m.state, fmt.Errorf("SetupPinEntry expects PinEntered, got %T", ev)
	}
	if pe.Pin == "" {
		m.display.ShowMessage([]string{"SET PIN"})
		return m.state, nil
	}
	m.pendingPin = pe.Pin
	m.state = SetupPinConfirm
	m.display.ShowMessage([]string{"CONFIRM PIN"})
	return m.state, nil
}

func (m *Machine) stepSetupPinConfirm(ev Event) (State, error) {
	pe, ok := ev.(PinEntered)
	if !ok {
		return m.state, fmt.Errorf("SetupPinConfirm expects PinEntered, got %T", ev)
	}
	if pe.Pin == "" || pe.Pin != m.pendingPin {
		m.pendingPin = ""
		m.state = SetupPinEntry
		m.display.ShowMessage([]string{"MISMATCH", "SET PIN"})
		return m.state, nil
	}
	if err := m.se.SetPin(pe.Pin); err != nil {
		return m.toFatal("setting PIN: %v", err), nil
	}
	m.pendingPin = ""
	m.state = SetupPrivateStorageWait
	m.display.ShowMessage([]string{"INSERT PRIVATE STORAGE"})
	return m.state, nil
}

func (m *Machine) stepSetupPrivateStorageWait(ctx context.Context, ev Event) (State, error) {
	if _, ok := ev.(StorageArrived); !ok {
		return m.state, fmt.Errorf("SetupPrivateStorageWait expects StorageArrived, got %T", ev)
	}
	m.state = SetupRecoverOrGenerate

	if err := m.storage.MountReadOnly(); err != nil {
		return m.toFatal("mounting private storage: %v", err), nil
	}
	seed, readErr := m.storage.Read(fileSeed)
	if err := m.storage.Unmount(); err != nil {
		return m.toFatal("unmounting private storage: %v", err), nil
	}

	var pub []byte
	var err error
	if readErr == nil && len(seed) > 0 {
		pub, err = m.se.ImportKey(KeySlot, seed)
		zero(seed)
		if err != nil {
			return m.toFatal("importing recovered key: %v", err), nil
		}
	} else {
		pub, err = m.se.GenerateKey(KeySlot)
		if err != nil {
			return m.toFatal("generating key: %v", err), nil
		}
		freshSeed, err := m.se.ExportSeed(KeySlot)
		if err != nil {
			return m.toFatal("exporting seed for backup: %v", err), nil
		}
		if err := m.storage.MountReadWrite(); err != nil {
			return m.toFatal("mounting private storage for backup: %v", err), nil
		}
		if err := m.storage.Write(fileSeed, freshSeed); err != nil {
			return m.toFatal("writing seed backup: %v", err), nil
		}
		if err := m.storage.Unmount(); err != nil {
			return m.toFatal("unmounting private storage: %v", err), nil
		}
		zero(freshSeed)
	}

	m.provisionedPub = pub
	m.state = SetupPublicStorageWait
	m.display.ShowMessage([]string{"INSERT PUBLIC STORAGE"})
	return m.state, nil
}

func (m *Machine) stepSetupPublicStorageWait(ev Event) (State, error) {
	if _, ok := ev.(StorageArrived); !ok {
		return m.state, fmt.Errorf("SetupPublicStorageWait expects StorageArrived, got %T", ev)
	}
	if err := m.storage.MountReadWrite(); err != nil {
		return m.toFatal("mounting public storage: %v", err), nil
	}
	if err := m.storage.Write(filePubkey, m.provisionedPub); err != nil {
		return m.toFatal("writing pubkey: %v", err), nil
	}
	if err := m.storage.Unmount(); err != nil {
		return m.toFatal("unmounting public storage: %v", err), nil
	}
	m.state = Authenticate
	m.display.ShowMessage([]string{"ENTER PIN"})
	return m.state, nil
}

func (m *Machine) stepAuthenticate(ev Event) (State, error) {
	pe, ok := ev.(PinEntered)
	if !ok {
		return m.state, fmt.Errorf("Authenticate expects PinEntered, got %T", ev)
	}
	ok2, err := m.se.VerifyPin(pe.Pin)
	if err != nil {
		if signerr.Is(err, signerr.KindSeLockedOut) {
			m.state = LockedOut
			m.logger.Warn("secure element locked out after too many failed PIN attempts")
			m.display.ShowMessage([]string{"LOCKED OUT"})
			return m.state, nil
		}
		return m.toFatal("verifying PIN: %v", err), nil
	}
	if !ok2 {
		m.display.ShowMessage([]string{"WRONG PIN", "ENTER PIN"})
		return m.state, nil
	}
	m.pinVerifiedThisSess = true
	m.state = Idle
	m.display.ShowMessage([]string{"INSERT STORAGE"})
	return m.state, nil
}

func (m *Machine) stepIdle(ctx context.Context, ev Event) (State, error) {
	if _, ok := ev.(StorageArrived); !ok {
		return m.state, fmt.Errorf("Idle expects StorageArrived, got %T", ev)
	}
	m.state = Loading
	return m.load(ctx)
}

func (m *Machine) load(ctx context.Context) (State, error) {
	if err := m.storage.MountReadOnly(); err != nil {
		return m.toFatal("mounting storage: %v", err), nil
	}

	payload, err := m.storage.Read(filePayload)
	if err != nil {
		return m.toFatal("reading payload: %v", err), nil
	}
	wasmBytes, err := m.storage.Read(fileInterp)
	if err != nil {
		return m.toFatal("reading interpreter: %v", err), nil
	}
	specBytes, err := m.storage.Read(fileSpec)
	if err != nil {
		return m.toFatal("reading spec: %v", err), nil
	}

	spec, err := signingspec.Decode(specBytes)
	if err != nil {
		_ = m.storage.Unmount()
		m.state = Idle
		m.display.ShowMessage([]string{"BAD SPEC", "INSERT STORAGE"})
		return m.state, nil
	}

	interp, err := m.loader.Load(ctx, wasmBytes)
	if err != nil {
		_ = m.storage.Unmount()
		m.state = Idle
		m.display.ShowMessage([]string{"BAD INTERPRETER", "INSERT STORAGE"})
		return m.state, nil
	}
	if spec.Output == signingspec.OutputWasmAssemble && !interp.HasAssemble() {
		_ = interp.Close(ctx)
		_ = m.storage.Unmount()
		m.state = Idle
		m.display.ShowMessage([]string{"NO ASSEMBLE", "INSERT STORAGE"})
		return m.state, nil
	}

	resultJSON, err := interp.Interpret(ctx, payload)
	if err != nil {
		_ = interp.Close(ctx)
		_ = m.storage.Unmount()
		m.state = Idle
		m.display.ShowMessage([]string{"INTERPRET FAILED", "INSERT STORAGE"})
		return m.state, nil
	}

	doc, err := render.ParseDocument(resultJSON)
	if err != nil {
		_ = interp.Close(ctx)
		_ = m.storage.Unmount()
		m.state = Idle
		m.display.ShowMessage([]string{"BAD REVIEW DOC", "INSERT STORAGE"})
		return m.state, nil
	}

	m.spec = spec
	m.payload = payload
	m.interpreter = interp
	m.lines = render.Flatten(doc, m.display.Width())
	m.scrollOffset = 0

	m.state = Review
	m.display.ShowLines(m.lines, m.scrollOffset)
	return m.state, nil
}

func (m *Machine) stepReview(ctx context.Context, ev Event) (State, error) {
	bp, ok := ev.(ButtonPressed)
	if !ok {
		return m.state, fmt.Errorf("Review expects ButtonPressed, got %T", ev)
	}
	switch bp.Button {
	case hwcontracts.ButtonUp:
		if m.scrollOffset > 0 {
			m.scrollOffset--
		}
		m.display.ShowLines(m.lines, m.scrollOffset)
		return m.state, nil
	case hwcontracts.ButtonDown:
		if maxScroll := len(m.lines) - 1; m.scrollOffset < maxScroll {
			m.scrollOffset++
		}
		m.display.ShowLines(m.lines, m.scrollOffset)
		return m.state, nil
	case hwcontracts.ButtonReject:
		_ = m.interpreter.Close(ctx)
		m.interpreter = nil
		if err := m.storage.Unmount(); err != nil {
			return m.toFatal("unmounting after reject: %v", err), nil
		}
		m.state = Idle
		m.logger.Info("signing request rejected at review")
		m.display.ShowMessage([]string{"REJECTED", "INSERT STORAGE"})
		return m.state, nil
	case hwcontracts.ButtonConfirm:
		return m.confirmAndSign(ctx)
	default:
		return m.state, fmt.Errorf("unknown button %v", bp.Button)
	}
}

// confirmAndSign implements Signing then Emitting synchronously: this is
// the one path in the whole machine that may call SecureElement.Sign, and
// it is reachable only from here, immediately after an explicit Confirm at
// Review — the central trust-boundary invariant of the whole device.
func (m *Machine) confirmAndSign(ctx context.Context) (State, error) {
	m.state = Signing

	if !m.pinVerifiedThisSess {
		_ = m.interpreter.Close(ctx)
		return m.toFatal("attempted to sign without a verified PIN this session"), nil
	}

	message, err := signable.Extract(m.payload, m.spec.Signable)
	if err != nil {
		_ = m.interpreter.Close(ctx)
		m.interpreter = nil
		if signerr.Is(err, signerr.KindRangeOutOfBounds) {
			_ = m.storage.Unmount()
			m.state = Idle
			m.display.ShowMessage([]string{"BAD RANGE", "INSERT STORAGE"})
			return m.state, nil
		}
		return m.toFatal("extracting signable: %v", err), nil
	}

	sig, err := m.se.Sign(m.spec.KeyID, message, m.spec.Algorithm)
	zero(message)
	if err != nil {
		_ = m.interpreter.Close(ctx)
		return m.toFatal("signing: %v", err), nil
	}
	m.signature = sig
	m.logger.Info("payload signed", "algorithm", string(m.spec.Algorithm), "output", string(m.spec.Output))

	m.state = Emitting
	return m.emit(ctx)
}

func (m *Machine) emit(ctx context.Context) (State, error) {
	var output []byte
	switch m.spec.Output {
	case signingspec.OutputSignatureOnly:
		output = m.signature
	case signingspec.OutputAppendToPayload:
		output = append(append([]byte{}, m.payload...), m.signature...)
	case signingspec.OutputWasmAssemble:
		assembled, err := m.interpreter.Assemble(ctx, m.payload, m.signature)
		if err != nil {
			_ = m.interpreter.Close(ctx)
			return m.toFatal("assembling output: %v", err), nil
		}
		output = assembled
	default:
		_ = m.interpreter.Close(ctx)
		return m.toFatal("unknown output kind %q", m.spec.Output), nil
	}

	if err := m.storage.MountReadWrite(); err != nil {
		_ = m.interpreter.Close(ctx)
		return m.toFatal("mounting storage for output: %v", err), nil
	}
	if err := m.storage.Write(fileSigned, output); err != nil {
		_ = m.interpreter.Close(ctx)
		return m.toFatal("writing signed output: %v", err), nil
	}
	if err := m.storage.Unmount(); err != nil {
		_ = m.interpreter.Close(ctx)
		return m.toFatal("unmounting after output: %v", err), nil
	}

	zero(m.signature)
	m.signature = nil
	zero(m.payload)
	m.payload = nil
	_ = m.interpreter.Close(ctx)
	m.interpreter = nil

	m.state = Done
	m.logger.Info("signed output written to storage")
	m.display.ShowMessage([]string{"DONE", "REMOVE STORAGE"})
	return m.state, nil
}

func (m *Machine) stepDone(ev Event) (State, error) {
	if _, ok := ev.(StorageRemoved); !ok {
		return m.state, fmt.Errorf("Done expects StorageRemoved, got %T", ev)
	}
	m.state = Idle
	m.display.ShowMessage([]string{"INSERT STORAGE"})
	return m.state, nil
}

// zero overwrites b with zero bytes in place. Used for every buffer that
// transits the secure-element boundary, per the resource policy's "any
// buffer that ever transited the signer interface is zeroed before
// release."
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
