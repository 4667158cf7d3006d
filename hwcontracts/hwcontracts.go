// Package hwcontracts declares the abstract capability set the orchestrator
// drives: a display, a button pad, removable storage, and a secure element.
// No concrete hardware driver lives here — that mirrors an
// api.HTTPClient/api.KeyProvider pattern of depending on small interfaces
// and injecting a concrete implementation at the edge (see cmd/airgapsim and
// package secureelement/storage for the collaborators used in this repo).
package hwcontracts

import (
	"context"

	"github.com/anchoragelabs/airgap-signer-core/render"
	"github.com/anchoragelabs/airgap-signer-core/signingspec"
)

// ButtonEvent is one of the four logical events a button device can
// deliver. There is no fifth kind; a driver's debounce logic lives below
// this contract, not above it.
type ButtonEvent uint8

const (
	ButtonUp ButtonEvent = iota
	ButtonDown
	ButtonConfirm
	ButtonReject
)

func (e ButtonEvent) String() string {
	switch e {
	case ButtonUp:
		return "Up"
	case ButtonDown:
		return "Down"
	case ButtonConfirm:
		return "Confirm"
	case ButtonReject:
		return "Reject"
	default:
		return "Unknown"
	}
}

// Display shows text on the device screen. Calls must be idempotent — the
// last write wins regardless of what was on screen before.
type Display interface {
	Clear()
	ShowMessage(lines []string)
	ShowLines(lines []render.DisplayLine, scrollOffset int)
	// Width is the wrap column for package render's Flatten.
	Width() int
}

// Buttons delivers physical button activations one at a time. WaitEvent
// blocks until a button is pressed; it delivers exactly one event per
// physical activation.
type Buttons interface {
	WaitEvent(ctx context.Context) (ButtonEvent, error)
}

// Storage is a removable, mountable volume. The mount/unmount sequencing —
// insert, mount read-only, read, unmount, mount read-write, write — is part
// of the contract; callers must not skip or reorder these steps.
type Storage interface {
	WaitInsert(ctx context.Context) error
	MountReadOnly() error
	Read(name string) ([]byte, error)
	Unmount() error
	MountReadWrite() error
	Write(name string, data []byte) error
}

// SecureElement is the boundary behind which all private key material
// lives. Sign requires a prior successful VerifyPin call in the current
// session; implementations must enforce this themselves rather than trust
// the caller.
type SecureElement interface {
	IsProvisioned() (bool, error)
	SetPin(pin string) error
	// VerifyPin returns (true, nil) on success, (false, nil) on a rejected
	// PIN that still leaves attempts remaining, and a *signerr.Error of
	// KindSeLockedOut once the attempt budget is exhausted.
	VerifyPin(pin string) (bool, error)
	GenerateKey(slot string) (publicKey []byte, err error)
	ImportKey(slot string, seed []byte) (publicKey []byte, err error)
	// ExportSeed is permitted only during initial provisioning;
	// implementations must refuse it once provisioning has completed.
	ExportSeed(slot string) (seed []byte, err error)
	// PublicKey returns the slot's identity public key, in the format used
	// during provisioning (pubkey.bin) regardless of which SignAlgorithm a
	// later signing cycle requests.
	PublicKey(slot string) ([]byte, error)
	// Sign signs digest under slot's key using the requested algorithm.
	// The base signing-spec contract this is drawn from does not name an
	// algorithm parameter here, but the signing spec's closed three-way
	// SignAlgorithm choice has to reach the key material somehow, and a
	// single fixed on-device scheme would make that enum meaningless — so
	// this contract threads it through explicitly rather than picking one
	// algorithm per device.
	Sign(slot string, digest []byte, alg signingspec.SignAlgorithm) (signature []byte, err error)
}
