// Package testfixtures hand-assembles minimal WebAssembly binaries for
// exercising package sandbox's ABI without an external wat2wasm toolchain.
//
// The modules built here are deliberately trivial: alloc and interpret
// (and, optionally, assemble) ignore their arguments and return a fixed
// offset baked in at build time, with the bytes at that offset supplied by
// a data segment. That is enough to drive every isolation invariant
// sandbox enforces — write-then-read bounds checks, the length-prefixed
// result convention, import rejection, missing-export detection — without
// hand-encoding real guest-side control flow or arithmetic, which would be
// needed for a module whose output actually depends on its input. Where a
// test needs input-dependent behavior it uses a fake orchestrator.Interpreter
// instead of a real compiled module.
package testfixtures

import "encoding/binary"

// ModuleOptions configures MinimalInterpreterModule.
type ModuleOptions struct {
	// MemoryMinPages is the module's declared minimum linear memory size,
	// in 64 KiB pages. Defaults to 1 if zero.
	MemoryMinPages uint32

	// AllocReturns is the constant offset alloc(n) always returns,
	// regardless of n. Zero simulates AllocFailed.
	AllocReturns uint32

	// InterpretReturns is the constant offset interpret(ptr, len) always
	// returns, regardless of its arguments.
	InterpretReturns uint32
	// InterpretResult is written into the module's data segment at
	// InterpretReturns; callers are responsible for including the 4-byte
	// little-endian length prefix themselves so malformed-result fixtures
	// can be constructed on purpose.
	InterpretResult []byte

	// WithAssemble adds an assemble(i32,i32,i32,i32)->i32 export that
	// always returns AssembleReturns, with AssembleResult placed at that
	// offset the same way as InterpretResult.
	WithAssemble    bool
	AssembleReturns uint32
	AssembleResult  []byte

	// WithImport declares one bogus imported function, "env"."host_call",
	// so tests can exercise AbiHasImports rejection.
	WithImport bool

	// OmitInterpret skips exporting interpret, so tests can exercise
	// AbiMissingExport.
	OmitInterpret bool
}

const (
	i32 = 0x7f

	secType     = 1
	secImport   = 2
	secFunction = 3
	secMemory   = 5
	secExport   = 7
	secCode     = 10
	secData     = 11

	exportKindFunc = 0x00
	exportKindMem  = 0x02

	opI32Const    = 0x41
	opEnd         = 0x0b
	opLocalGet    = 0x20
	opCall        = 0x10
	opLoop        = 0x03
	opBr          = 0x0c
	opUnreachable = 0x00

	blockTypeVoid = 0x40
)

func uleb128(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			break
		}
	}
	return out
}

// sleb128 encodes a signed LEB128, needed for i32.const immediates.
func sleb128(v int32) []byte {
	var out []byte
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			more = false
		} else {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}

func vec(items [][]byte) []byte {
	out := uleb128(uint32(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func nameBytes(s string) []byte {
	return append(uleb128(uint32(len(s))), []byte(s)...)
}

func section(id byte, content []byte) []byte {
	out := []byte{id}
	out = append(out, uleb128(uint32(len(content)))...)
	out = append(out, content...)
	return out
}

// funcBody builds a code-section entry for a function with no locals whose
// body is `i32.const value` followed by `end` — i.e. a function that
// ignores every argument and returns a single constant.
func funcBody(value uint32) []byte {
	code := []byte{opI32Const}
	code = append(code, sleb128(int32(value))...)
	code = append(code, opEnd)

	body := uleb128(0) // zero local-declaration groups
	body = append(body, code...)

	return append(uleb128(uint32(len(body))), body...)
}

// infiniteLoopBody builds a code-section entry for a function that never
// returns: `loop br 0 end unreachable end`. The unconditional branch always
// jumps back to the loop header, so this is a pure busy loop with no host
// call, memory access, or exit condition — enough to exhaust a CPU-time
// budget without ever tripping wazero's own call-stack ceiling. The trailing
// unreachable opcode satisfies the validator's requirement that the
// function fall through with a result value on the stack; since the loop
// never actually exits, that code path is provably dead.
func infiniteLoopBody() []byte {
	code := []byte{opLoop, blockTypeVoid, opBr, 0x00, opEnd, opUnreachable, opEnd}
	body := uleb128(0) // zero local-declaration groups
	body = append(body, code...)
	return append(uleb128(uint32(len(body))), body...)
}

// selfRecursiveBody builds a code-section entry for a function of type
// (i32,i32)->i32 that calls itself with its own two parameters forever:
// `local.get 0; local.get 1; call selfIndex; end`. Each call opens a new
// guest call frame with no base case, so this exhausts wazero's internal
// call-stack ceiling rather than looping in place — the busy-loop and
// deep-recursion exhaustion paths are otherwise indistinguishable from the
// host's point of view without this.
func selfRecursiveBody(selfIndex uint32) []byte {
	code := []byte{opLocalGet, 0x00, opLocalGet, 0x01, opCall}
	code = append(code, uleb128(selfIndex)...)
	code = append(code, opEnd)
	body := uleb128(0) // zero local-declaration groups
	body = append(body, code...)
	return append(uleb128(uint32(len(body))), body...)
}

func dataSegment(memIdx uint32, offset uint32, data []byte) []byte {
	seg := uleb128(memIdx)
	seg = append(seg, opI32Const)
	seg = append(seg, sleb128(int32(offset))...)
	seg = append(seg, opEnd)
	seg = append(seg, uleb128(uint32(len(data)))...)
	seg = append(seg, data...)
	return seg
}

// LengthPrefixed prepends the 4-byte little-endian length header the
// sandbox ABI's result convention requires.
func LengthPrefixed(body []byte) []byte {
	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out, uint32(len(body)))
	copy(out[4:], body)
	return out
}

// MinimalInterpreterModule assembles a valid WASM binary satisfying opts.
func MinimalInterpreterModule(opts ModuleOptions) []byte {
	return assembleModule(opts, nil)
}

// BusyLoopInterpreterModule is MinimalInterpreterModule except its
// interpret export never returns, running an unconditional loop instead —
// for exercising CPU-time exhaustion.
func BusyLoopInterpreterModule(opts ModuleOptions) []byte {
	return assembleModule(opts, infiniteLoopBody())
}

// RecursiveInterpreterModule is MinimalInterpreterModule except its
// interpret export recurses into itself with no base case — for
// exercising call-stack exhaustion.
func RecursiveInterpreterModule(opts ModuleOptions) []byte {
	return assembleModule(opts, selfRecursiveBody(funcIndex(opts, 1)))
}

// assembleModule is the shared module builder. interpretBody overrides the
// interpret export's default "return a constant" body when non-nil, used
// by the exhaustion fixtures above; a nil interpretBody falls back to
// funcBody(opts.InterpretReturns).
func assembleModule(opts ModuleOptions, interpretBody []byte) []byte {
	if opts.MemoryMinPages == 0 {
		opts.MemoryMinPages = 1
	}

	// Type section: type 0 = (i32)->i32 [alloc], type 1 = (i32,i32)->i32
	// [interpret], type 2 = (i32,i32,i32,i32)->i32 [assemble].
	fnType := func(params int, results int) []byte {
		t := []byte{0x60}
		t = append(t, uleb128(uint32(params))...)
		for i := 0; i < params; i++ {
			t = append(t, i32)
		}
		t = append(t, uleb128(uint32(results))...)
		for i := 0; i < results; i++ {
			t = append(t, i32)
		}
		return t
	}
	types := [][]byte{fnType(1, 1), fnType(2, 1), fnType(4, 1)}
	typeSec := section(secType, vec(types))

	var out []byte
	out = append(out, 0x00, 0x61, 0x73, 0x6d) // magic
	out = append(out, 0x01, 0x00, 0x00, 0x00) // version
	out = append(out, typeSec...)

	if opts.WithImport {
		imp := nameBytes("env")
		imp = append(imp, nameBytes("host_call")...)
		imp = append(imp, exportKindFunc)
		imp = append(imp, uleb128(0)...) // type index 0
		out = append(out, section(secImport, vec([][]byte{imp}))...)
	}

	// Function section: alloc uses type 0, interpret uses type 1,
	// optionally assemble uses type 2.
	funcTypeIdx := [][]byte{uleb128(0), uleb128(1)}
	if opts.WithAssemble {
		funcTypeIdx = append(funcTypeIdx, uleb128(2))
	}
	out = append(out, section(secFunction, vec(funcTypeIdx))...)

	// Memory section: one memory, min pages only.
	mem := []byte{0x00}
	mem = append(mem, uleb128(opts.MemoryMinPages)...)
	out = append(out, section(secMemory, vec([][]byte{mem}))...)

	// Export section.
	var exports [][]byte
	memExp := append(nameBytes("memory"), exportKindMem)
	memExp = append(memExp, uleb128(0)...)
	exports = append(exports, memExp)

	allocExp := append(nameBytes("alloc"), exportKindFunc)
	allocExp = append(allocExp, uleb128(funcIndex(opts, 0))...)
	exports = append(exports, allocExp)

	if !opts.OmitInterpret {
		interpretExp := append(nameBytes("interpret"), exportKindFunc)
		interpretExp = append(interpretExp, uleb128(funcIndex(opts, 1))...)
		exports = append(exports, interpretExp)
	}
	if opts.WithAssemble {
		assembleExp := append(nameBytes("assemble"), exportKindFunc)
		assembleExp = append(assembleExp, uleb128(funcIndex(opts, 2))...)
		exports = append(exports, assembleExp)
	}
	out = append(out, section(secExport, vec(exports))...)

	// Code section: one body per locally-defined function, in declaration
	// order (alloc, interpret, [assemble]).
	interpretFn := interpretBody
	if interpretFn == nil {
		interpretFn = funcBody(opts.InterpretReturns)
	}
	bodies := [][]byte{funcBody(opts.AllocReturns), interpretFn}
	if opts.WithAssemble {
		bodies = append(bodies, funcBody(opts.AssembleReturns))
	}
	out = append(out, section(secCode, vec(bodies))...)

	// Data section: place InterpretResult / AssembleResult at their
	// declared offsets.
	var segments [][]byte
	if len(opts.InterpretResult) > 0 {
		segments = append(segments, dataSegment(0, opts.InterpretReturns, opts.InterpretResult))
	}
	if opts.WithAssemble && len(opts.AssembleResult) > 0 {
		segments = append(segments, dataSegment(0, opts.AssembleReturns, opts.AssembleResult))
	}
	if len(segments) > 0 {
		out = append(out, section(secData, vec(segments))...)
	}

	return out
}

// funcIndex accounts for the one bogus imported function occupying index 0
// when WithImport is set, since imported functions are indexed before
// locally-defined ones.
func funcIndex(opts ModuleOptions, localIdx uint32) uint32 {
	if opts.WithImport {
		return localIdx + 1
	}
	return localIdx
}
