package sandbox

import "time"

const wasmPageSize = 64 * 1024

// MaxMemoryBytes is the hard linear-memory cap enforced by wazero's
// RuntimeConfig.WithMemoryLimitPages.
const MaxMemoryBytes = 16 * 1024 * 1024

// MemoryLimitPages is MaxMemoryBytes expressed in wazero's 64 KiB page unit.
const MemoryLimitPages = MaxMemoryBytes / wasmPageSize

// StackBudgetBytes documents the "call-stack depth ≤ 512 KiB of frame
// storage" cap. wazero's stable API does not expose byte-level guest
// call-stack accounting, so this constant is not enforced directly in
// bytes; instead the host relies on wazero's own internal call-stack
// ceiling — which exists precisely to keep a runaway guest module from
// overflowing the host Go process's native stack — and reclassifies
// whatever stack-overflow-shaped fault it surfaces as
// SandboxExhausted{stack}. See isStackOverflow in runtime.go.
const StackBudgetBytes = 512 * 1024

// CPUTimeBudget stands in for the "CPU units" budget of a sandboxed call.
// The original prototype this design descends from used a wasmtime fuel
// counter (10,000,000 units); wazero's stable API has no equivalent
// instruction-metering hook, so CPU exhaustion is approximated with a wall
// clock deadline instead — reasonable here because the sandbox call is
// synchronous, single-threaded, and uncontended, so wall-clock time and CPU
// time coincide.
const CPUTimeBudget = 2 * time.Second
