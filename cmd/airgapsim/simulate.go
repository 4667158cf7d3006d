package airgapsim

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/anchoragelabs/airgap-signer-core/orchestrator"
	"github.com/anchoragelabs/airgap-signer-core/sandbox"
	"github.com/anchoragelabs/airgap-signer-core/secureelement"
	"github.com/anchoragelabs/airgap-signer-core/storage"
)

// SimulateCommand runs the full device lifecycle in one process: fresh PIN
// setup, key generation, authentication, and then a run_loop-style
// idle/insert/review/sign cycle repeated against whatever appears in
// volume-dir between runs — the CLI equivalent of the original prototype's
// signer-sim binary, since the in-memory secure element has no state to
// persist across separate process invocations.
func SimulateCommand() *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "Run the device lifecycle end to end against local directories",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "private-dir",
				Usage:    "Directory simulating the private backup volume",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "public-dir",
				Usage:    "Directory simulating the public volume",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "volume-dir",
				Usage:    "Directory simulating the signing-cycle volume (payload.bin, interpreter.wasm, sign.cbor)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "pin",
				Usage: "Skip interactive PIN entry and use this PIN for setup and authentication",
			},
		},
		Action: runSimulateCommand,
	}
}

func runSimulateCommand(ctx context.Context, cmd *cli.Command) error {
	privateDir := cmd.String("private-dir")
	publicDir := cmd.String("public-dir")
	volumeDir := cmd.String("volume-dir")
	fixedPin := cmd.String("pin")

	display := NewConsoleDisplay(os.Stdout, 60)
	buttons := NewConsoleButtons(os.Stdin, os.Stdout)
	se := secureelement.NewSimulated()
	rt := sandbox.NewRuntime(ctx)
	defer rt.Close(ctx)
	loader := orchestrator.WazeroLoader{Runtime: rt}

	m := orchestrator.NewMachine(display, buttons, storage.NewFilesystem(privateDir, nil), se, loader)
	m.SetLogger(newLogger(os.Stderr))
	scanner := buttons.Scanner()

	pinOf := func(label string) (string, error) {
		if fixedPin != "" {
			return fixedPin, nil
		}
		return readPin(scanner, os.Stdout, label)
	}

	state, err := m.Start(ctx)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}

	if state == orchestrator.SetupPinEntry {
		if state, err = provisionInline(ctx, m, scanner, pinOf, privateDir, publicDir); err != nil {
			return err
		}
	}
	if state != orchestrator.Authenticate {
		return fmt.Errorf("unexpected state after boot/provisioning: %s", state)
	}

	pin, err := pinOf("PIN")
	if err != nil {
		return fmt.Errorf("reading PIN: %w", err)
	}
	state, err = m.Step(ctx, orchestrator.PinEntered{Pin: pin})
	if err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}
	if state != orchestrator.Idle {
		return fmt.Errorf("authentication failed, device in state %s", state)
	}
	fmt.Fprintln(os.Stdout, "authenticated; entering signing loop")

	m.SetStorage(storage.NewFilesystem(volumeDir, []string{"payload.bin", "interpreter.wasm", "sign.cbor"}))
	for {
		if err := runSigningCycle(ctx, m, buttons, scanner); err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(os.Stdout, "input closed, exiting")
				return nil
			}
			return err
		}
		if m.State().Terminal() {
			return fmt.Errorf("device reached terminal state %s: %s", m.State(), m.FatalMessage())
		}
	}
}

func provisionInline(ctx context.Context, m *orchestrator.Machine, scanner *bufio.Scanner, pinOf func(string) (string, error), privateDir, publicDir string) (orchestrator.State, error) {
	for {
		pin, err := pinOf("set PIN")
		if err != nil {
			return 0, fmt.Errorf("reading PIN: %w", err)
		}
		state, err := m.Step(ctx, orchestrator.PinEntered{Pin: pin})
		if err != nil {
			return 0, fmt.Errorf("setting PIN: %w", err)
		}
		if state != orchestrator.SetupPinConfirm {
			continue
		}
		confirm, err := pinOf("confirm PIN")
		if err != nil {
			return 0, fmt.Errorf("reading PIN confirmation: %w", err)
		}
		if state, err = m.Step(ctx, orchestrator.PinEntered{Pin: confirm}); err != nil {
			return 0, fmt.Errorf("confirming PIN: %w", err)
		}
		if state == orchestrator.SetupPrivateStorageWait {
			break
		}
		fmt.Fprintln(os.Stdout, "PIN mismatch, try again")
	}

	if err := waitEnter(scanner, os.Stdout, fmt.Sprintf("insert private volume at %s and press enter", privateDir)); err != nil {
		return 0, fmt.Errorf("waiting for private volume: %w", err)
	}
	state, err := m.Step(ctx, orchestrator.StorageArrived{})
	if err != nil {
		return 0, fmt.Errorf("processing private volume: %w", err)
	}
	if state != orchestrator.SetupPublicStorageWait {
		return 0, fmt.Errorf("provisioning failed, device in state %s", state)
	}

	m.SetStorage(storage.NewFilesystem(publicDir, nil))
	if err := waitEnter(scanner, os.Stdout, fmt.Sprintf("insert public volume at %s and press enter", publicDir)); err != nil {
		return 0, fmt.Errorf("waiting for public volume: %w", err)
	}
	return m.Step(ctx, orchestrator.StorageArrived{})
}

// runSigningCycle mirrors the original prototype's run_loop: wait for a
// volume, run one review/sign cycle, wait for one acknowledgment before
// returning to idle.
func runSigningCycle(ctx context.Context, m *orchestrator.Machine, buttons *ConsoleButtons, scanner *bufio.Scanner) error {
	fmt.Fprintln(os.Stdout, "insert volume (waiting)...")
	fs, ok := currentFilesystem(m)
	if ok {
		if err := fs.WaitInsert(ctx); err != nil {
			return fmt.Errorf("waiting for volume: %w", err)
		}
	}

	state, err := m.Step(ctx, orchestrator.StorageArrived{})
	if err != nil {
		return fmt.Errorf("loading volume: %w", err)
	}

	for state == orchestrator.Review {
		ev, err := buttons.WaitEvent(ctx)
		if err != nil {
			return err
		}
		if state, err = m.Step(ctx, orchestrator.ButtonPressed{Button: ev}); err != nil {
			return fmt.Errorf("handling review input: %w", err)
		}
	}

	if state == orchestrator.Done {
		if err := waitEnter(scanner, os.Stdout, "signed output written; remove volume and press enter"); err != nil {
			return err
		}
		if _, err := m.Step(ctx, orchestrator.StorageRemoved{}); err != nil {
			return fmt.Errorf("acknowledging removal: %w", err)
		}
	}
	return nil
}

// currentFilesystem reports whether m's storage is a *storage.Filesystem,
// which is the only implementation with a real WaitInsert to block on.
func currentFilesystem(m *orchestrator.Machine) (*storage.Filesystem, bool) {
	fs, ok := m.Storage().(*storage.Filesystem)
	return fs, ok
}
