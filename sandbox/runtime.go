// Package sandbox hosts an untrusted WASM interpreter module under the
// isolation invariants a signing cycle depends on: zero imports, a bounded
// linear memory, a bounded call budget, and bounds-checked memory transfer
// in both directions.
//
// The engine is github.com/tetratelabs/wazero, a pure-Go, zero-CGo WASM
// runtime — no dependency here can shell out, dlopen, or otherwise reach
// outside the Go process, which matters for a component whose entire job is
// running code that must not have ambient authority.
package sandbox

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/anchoragelabs/airgap-signer-core/signerr"
)

// Runtime owns the wazero engine. One Runtime can compile and run many
// modules; it should be closed when the process is done sandboxing.
type Runtime struct {
	rt wazero.Runtime
}

// NewRuntime constructs a Runtime with the memory cap and context-driven
// cancellation this package's isolation invariants require.
func NewRuntime(ctx context.Context) *Runtime {
	cfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(MemoryLimitPages).
		WithCloseOnContextDone(true)
	return &Runtime{rt: wazero.NewRuntimeWithConfig(ctx, cfg)}
}

// Close releases the engine and every module compiled from it.
func (r *Runtime) Close(ctx context.Context) error {
	return r.rt.Close(ctx)
}

// CompiledModule is a validated, compiled interpreter artifact. The host
// may reuse it across many calls; each call gets a fresh instance with
// fresh linear memory, per the sandbox's per-call state machine.
type CompiledModule struct {
	runtime  *Runtime
	compiled wazero.CompiledModule
	hasAssemble bool
}

// Compile validates and compiles wasmBytes. It rejects any module that
// declares an import: this host registers no host modules, so an import
// can never be satisfied and the sandbox has nothing to reject at
// instantiation time by construction, but checking here up front produces
// a precise SandboxAbi{HasImports} error instead of a raw linker error.
func (r *Runtime) Compile(ctx context.Context, wasmBytes []byte) (*CompiledModule, error) {
	compiled, err := r.rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		if isMemoryLimitExceeded(err) {
			return nil, signerr.Exhausted(signerr.ResourceMemory)
		}
		return nil, signerr.Wrap(signerr.KindSandboxAbi, fmt.Errorf("compiling module: %w", err))
	}
	if len(compiled.ImportedFunctions()) > 0 {
		return nil, signerr.Abi(signerr.AbiHasImports,
			fmt.Sprintf("module declares %d imported function(s)", len(compiled.ImportedFunctions())))
	}

	exports := compiled.ExportedFunctions()
	if _, ok := exports["alloc"]; !ok {
		return nil, signerr.Abi(signerr.AbiMissingExport, "module does not export alloc")
	}
	if _, ok := exports["interpret"]; !ok {
		return nil, signerr.Abi(signerr.AbiMissingExport, "module does not export interpret")
	}
	_, hasAssemble := exports["assemble"]

	return &CompiledModule{runtime: r, compiled: compiled, hasAssemble: hasAssemble}, nil
}

// HasAssemble reports whether the module exports the optional assemble
// entry point, which the caller needs before it can honor OutputWasmAssemble.
func (m *CompiledModule) HasAssemble() bool { return m.hasAssemble }

// Close releases the compiled artifact.
func (m *CompiledModule) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

// instance is one fresh, single-call module instantiation.
type instance struct {
	mod api.Module
}

func (m *CompiledModule) instantiate(ctx context.Context) (*instance, error) {
	cfg := wazero.NewModuleConfig().WithStartFunctions() // no _start, no WASI, no stdio/env/fs: zero ambient authority
	mod, err := m.runtime.rt.InstantiateModule(ctx, m.compiled, cfg)
	if err != nil {
		if isUnresolvedImport(err) {
			return nil, signerr.Abi(signerr.AbiHasImports, err.Error())
		}
		if isMemoryLimitExceeded(err) {
			return nil, signerr.Exhausted(signerr.ResourceMemory)
		}
		return nil, signerr.Wrap(signerr.KindSandboxAbi, fmt.Errorf("instantiating module: %w", err))
	}
	if mod.Memory() == nil {
		mod.Close(ctx)
		return nil, signerr.Abi(signerr.AbiMissingExport, "module does not export memory")
	}
	return &instance{mod: mod}, nil
}

func isUnresolvedImport(err error) bool {
	return strings.Contains(err.Error(), "import")
}

// isMemoryLimitExceeded matches wazero's error for a module whose declared
// minimum memory exceeds WithMemoryLimitPages; wazero reports it from
// CompileModule, and Compile and instantiate both check for it. The
// exact wording isn't pinned by wazero's stability guarantee, so this
// checks the substrings its error message is built from rather than the
// whole string.
func isMemoryLimitExceeded(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "memory") && (strings.Contains(msg, "min") || strings.Contains(msg, "limit") || strings.Contains(msg, "exceed"))
}

func isStackOverflow(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "stack overflow") || strings.Contains(msg, "stack limit")
}

func isDeadlineExceeded(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "context deadline exceeded") || strings.Contains(msg, "closed with exit code")
}

// callWithBudget applies the CPU-time approximation to a single blocking
// guest call: a context deadline that WithCloseOnContextDone(true) turns
// into a forced module close (and thus a call error) if the guest is still
// running when it fires.
func callWithBudget(ctx context.Context, fn func(context.Context) ([]uint64, error)) ([]uint64, error) {
	callCtx, cancel := context.WithTimeout(ctx, CPUTimeBudget)
	defer cancel()
	return fn(callCtx)
}

// transferIn writes payload into the instance's memory at an offset
// obtained from alloc, bounds-checking the write.
func (in *instance) transferIn(ctx context.Context, alloc api.Function, payload []byte) (uint32, error) {
	results, err := callWithBudget(ctx, func(c context.Context) ([]uint64, error) {
		return alloc.Call(c, uint64(len(payload)))
	})
	if err != nil {
		return 0, classifyCallError(err)
	}
	ptr := uint32(results[0])
	if ptr == 0 {
		return 0, signerr.Abi(signerr.AbiAllocFailed, fmt.Sprintf("alloc(%d) returned 0", len(payload)))
	}
	if !in.mod.Memory().Write(ptr, payload) {
		return 0, signerr.Abi(signerr.AbiOutOfBounds,
			fmt.Sprintf("alloc returned offset %d that does not fit %d bytes in a %d-byte memory", ptr, len(payload), in.mod.Memory().Size()))
	}
	return ptr, nil
}

// readResult decodes the length-prefixed result buffer convention: four
// little-endian bytes giving the length, followed by that many bytes.
func (in *instance) readResult(resultPtr uint32) ([]byte, error) {
	mem := in.mod.Memory()
	header, ok := mem.Read(resultPtr, 4)
	if !ok {
		return nil, signerr.Abi(signerr.AbiOutOfBounds, fmt.Sprintf("result offset %d has no room for a length prefix", resultPtr))
	}
	resultLen := binary.LittleEndian.Uint32(header)

	memSize := mem.Size()
	if resultPtr > memSize-4 || resultLen > memSize-4-resultPtr {
		return nil, signerr.Abi(signerr.AbiInvalidResult,
			fmt.Sprintf("declared result length %d overruns memory (size %d, offset %d)", resultLen, memSize, resultPtr))
	}

	data, ok := mem.Read(resultPtr+4, resultLen)
	if !ok {
		return nil, signerr.Abi(signerr.AbiOutOfBounds, "result body read failed bounds check")
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func classifyCallError(err error) error {
	switch {
	case isStackOverflow(err):
		return signerr.Exhausted(signerr.ResourceStack)
	case isDeadlineExceeded(err):
		return signerr.Exhausted(signerr.ResourceCPU)
	default:
		return signerr.Wrap(signerr.KindSandboxAbi, err)
	}
}

// Interpret runs the module's host algorithm for `interpret`: instantiate,
// alloc, write, call, read the length-prefixed result, then destroy the
// instance. It never reuses linear memory across calls.
func (m *CompiledModule) Interpret(ctx context.Context, payload []byte) ([]byte, error) {
	in, err := m.instantiate(ctx)
	if err != nil {
		return nil, err
	}
	defer in.mod.Close(ctx)

	alloc := in.mod.ExportedFunction("alloc")
	interpret := in.mod.ExportedFunction("interpret")

	ptr, err := in.transferIn(ctx, alloc, payload)
	if err != nil {
		return nil, err
	}

	results, err := callWithBudget(ctx, func(c context.Context) ([]uint64, error) {
		return interpret.Call(c, uint64(ptr), uint64(len(payload)))
	})
	if err != nil {
		return nil, classifyCallError(err)
	}

	return in.readResult(uint32(results[0]))
}

// Assemble runs the module's optional `assemble` entry point, used only
// when a spec's OutputSpec is WasmAssemble. Callers must check HasAssemble
// first; Assemble itself fails with AbiMissingExport if the module never
// declared it.
func (m *CompiledModule) Assemble(ctx context.Context, payload, signature []byte) ([]byte, error) {
	if !m.hasAssemble {
		return nil, signerr.Abi(signerr.AbiMissingExport, "module does not export assemble")
	}

	in, err := m.instantiate(ctx)
	if err != nil {
		return nil, err
	}
	defer in.mod.Close(ctx)

	alloc := in.mod.ExportedFunction("alloc")
	assemble := in.mod.ExportedFunction("assemble")

	payloadPtr, err := in.transferIn(ctx, alloc, payload)
	if err != nil {
		return nil, err
	}
	sigPtr, err := in.transferIn(ctx, alloc, signature)
	if err != nil {
		return nil, err
	}

	results, err := callWithBudget(ctx, func(c context.Context) ([]uint64, error) {
		return assemble.Call(c, uint64(payloadPtr), uint64(len(payload)), uint64(sigPtr), uint64(len(signature)))
	})
	if err != nil {
		return nil, classifyCallError(err)
	}

	return in.readResult(uint32(results[0]))
}
