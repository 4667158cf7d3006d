package orchestrator

import (
	"context"

	"github.com/anchoragelabs/airgap-signer-core/sandbox"
)

// Interpreter is the subset of a loaded sandbox module the orchestrator
// needs. *sandbox.CompiledModule satisfies this by having the same method
// set — the orchestrator depends on the abstraction, not on wazero, so its
// own tests can substitute a lightweight fake instead of compiling and
// running real WASM bytecode for every state-machine scenario.
type Interpreter interface {
	Interpret(ctx context.Context, payload []byte) ([]byte, error)
	Assemble(ctx context.Context, payload, signature []byte) ([]byte, error)
	HasAssemble() bool
	Close(ctx context.Context) error
}

// ModuleLoader compiles interpreter bytecode read from storage into an
// Interpreter.
type ModuleLoader interface {
	Load(ctx context.Context, wasmBytes []byte) (Interpreter, error)
}

// WazeroLoader adapts a *sandbox.Runtime to ModuleLoader.
type WazeroLoader struct {
	Runtime *sandbox.Runtime
}

func (w WazeroLoader) Load(ctx context.Context, wasmBytes []byte) (Interpreter, error) {
	return w.Runtime.Compile(ctx, wasmBytes)
}
