// Package signerr provides the unified error taxonomy shared by the signing
// core: a closed set of failure kinds and the propagation rule attached to
// each one, so callers at the trust boundary can switch on Kind instead of
// matching strings.
package signerr

import (
	"errors"
	"fmt"
)

// Kind is a closed enumeration of the failure categories the signing core
// can produce. Adding a case is a protocol-version change.
type Kind uint8

const (
	// KindSpecDecode means the signing spec was malformed or named an
	// unknown variant. Propagation: reject the cycle, back to Idle.
	KindSpecDecode Kind = iota + 1
	// KindSandboxAbi means the interpreter violated the sandbox ABI (bad
	// pointer, bad length prefix, alloc failure). Propagation: reject the
	// cycle, back to Idle.
	KindSandboxAbi
	// KindSandboxExhausted means the interpreter exceeded a CPU, memory, or
	// stack cap. Propagation: reject the cycle, back to Idle.
	KindSandboxExhausted
	// KindRangeOutOfBounds means a spec's range selection exceeds the
	// payload length. Propagation: reject the cycle, back to Idle.
	KindRangeOutOfBounds
	// KindInvalidJSON means the interpreter returned bytes that are not
	// valid UTF-8 JSON. Propagation: reject the cycle.
	KindInvalidJSON
	// KindSeAuth means PIN verification failed. Propagation: decrement
	// attempts, redisplay, transition to LockedOut on zero.
	KindSeAuth
	// KindSeLockedOut means the secure element reports hardware lockout.
	// Propagation: terminal LockedOut.
	KindSeLockedOut
	// KindSeOther is any other secure-element error. Propagation: Fatal
	// with a user-visible message.
	KindSeOther
	// KindStorageIo is a mount/read/write failure. Propagation: reject the
	// cycle if mid-cycle, Fatal if during provisioning.
	KindStorageIo
	// KindUserReject means the user pressed Reject at review. This is not
	// an error: clean return to Idle.
	KindUserReject
)

func (k Kind) String() string {
	switch k {
	case KindSpecDecode:
		return "SpecDecode"
	case KindSandboxAbi:
		return "SandboxAbi"
	case KindSandboxExhausted:
		return "SandboxExhausted"
	case KindRangeOutOfBounds:
		return "RangeOutOfBounds"
	case KindInvalidJSON:
		return "InvalidJson"
	case KindSeAuth:
		return "SeAuth"
	case KindSeLockedOut:
		return "SeLockedOut"
	case KindSeOther:
		return "SeOther"
	case KindStorageIo:
		return "StorageIo"
	case KindUserReject:
		return "UserReject"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// Resource names the specific budget a KindSandboxExhausted error blew
// through: cpu, memory, or stack.
type Resource string

const (
	ResourceCPU    Resource = "cpu"
	ResourceMemory Resource = "memory"
	ResourceStack  Resource = "stack"
)

// AbiReason names the specific ABI contract violation for a KindSandboxAbi
// error.
type AbiReason string

const (
	AbiOutOfBounds   AbiReason = "OutOfBounds"
	AbiAllocFailed   AbiReason = "AllocFailed"
	AbiInvalidResult AbiReason = "InvalidResult"
	AbiMissingExport AbiReason = "MissingExport"
	AbiHasImports    AbiReason = "HasImports"
)

// Error is the wrapped error type every core package returns at its
// boundary. Cause is preserved for errors.Unwrap so errors.Is/errors.As
// keep working through the chain, matching the usual
// fmt.Errorf("...: %w", err) wrapping discipline.
type Error struct {
	Kind     Kind
	Resource Resource  // set only for KindSandboxExhausted
	Abi      AbiReason // set only for KindSandboxAbi
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	switch {
	case e.Resource != "":
		if e.Message != "" {
			return fmt.Sprintf("%s{%s}: %s", e.Kind, e.Resource, e.Message)
		}
		return fmt.Sprintf("%s{%s}", e.Kind, e.Resource)
	case e.Abi != "":
		if e.Message != "" {
			return fmt.Sprintf("%s{%s}: %s", e.Kind, e.Abi, e.Message)
		}
		return fmt.Sprintf("%s{%s}", e.Kind, e.Abi)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a plain Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind that wraps cause.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Message: cause.Error(), Cause: cause}
}

// Exhausted builds a KindSandboxExhausted error for the given resource.
func Exhausted(resource Resource) *Error {
	return &Error{Kind: KindSandboxExhausted, Resource: resource}
}

// Abi builds a KindSandboxAbi error for the given ABI violation.
func Abi(reason AbiReason, message string) *Error {
	return &Error{Kind: KindSandboxAbi, Abi: reason, Message: message}
}

// Is reports whether err carries the given Kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
