package airgapsim

import (
	"io"
	"log/slog"
)

// newLogger builds the structured logger the provision and simulate
// commands wire into orchestrator.Machine as a capability. Both pass
// stderr as out, so diagnostics stay apart from the prompts and step
// narration those commands print to stdout.
func newLogger(out io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
