package orchestrator

import "github.com/anchoragelabs/airgap-signer-core/hwcontracts"

// Event is one external trigger the machine's Step consumes: a button
// activation, a storage arrival/removal, or a PIN entry. Restricting Step
// to exactly these keeps the "suspension points are exactly wait_event,
// wait_insert, and the secure element boundary" concurrency model visible
// in the type system — everything else Step does in response to one event
// is synchronous, in-process work with no further suspension.
type Event interface{ isEvent() }

// ButtonPressed carries one of the four logical button activations,
// used at Review (scroll/confirm/reject) and SetupPinEntry/SetupPinConfirm
// (reject only — see PinEntered for how a candidate PIN itself arrives).
type ButtonPressed struct {
	Button hwcontracts.ButtonEvent
}

func (ButtonPressed) isEvent() {}

// PinEntered carries a candidate PIN string collected by whatever keypad
// abstraction sits above the four-button device — the base hardware
// contract's Buttons interface has no digit-entry primitive, so PIN
// collection is modeled as its own event rather than forced through
// ButtonEvent. An empty Pin at SetupPinEntry is treated the same as a
// Reject: try again.
type PinEntered struct {
	Pin string
}

func (PinEntered) isEvent() {}

// StorageArrived signals that Storage.WaitInsert has returned: a volume is
// present and Step should mount and process it for whichever state is
// waiting on it (a provisioning volume, or a signing-cycle volume at Idle).
type StorageArrived struct{}

func (StorageArrived) isEvent() {}

// StorageRemoved signals the user has physically removed the volume,
// which is what moves Done back to Idle.
type StorageRemoved struct{}

func (StorageRemoved) isEvent() {}
