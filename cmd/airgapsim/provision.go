package airgapsim

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/anchoragelabs/airgap-signer-core/orchestrator"
	"github.com/anchoragelabs/airgap-signer-core/sandbox"
	"github.com/anchoragelabs/airgap-signer-core/secureelement"
	"github.com/anchoragelabs/airgap-signer-core/storage"
)

// ProvisionCommand drives a freshly booted, unprovisioned device through
// PIN setup and key generation/recovery, the way a factory or a recovery
// bench would exercise it before the device leaves for the field.
func ProvisionCommand() *cli.Command {
	return &cli.Command{
		Name:  "provision",
		Usage: "Run the first-boot PIN setup and key provisioning flow",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "private-dir",
				Usage:    "Directory simulating the private backup volume (seed.bin)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "public-dir",
				Usage:    "Directory simulating the public volume (pubkey.bin)",
				Required: true,
			},
		},
		Action: runProvisionCommand,
	}
}

func runProvisionCommand(ctx context.Context, cmd *cli.Command) error {
	privateDir := cmd.String("private-dir")
	publicDir := cmd.String("public-dir")

	display := NewConsoleDisplay(os.Stdout, 40)
	se := secureelement.NewSimulated()
	rt := sandbox.NewRuntime(ctx)
	defer rt.Close(ctx)
	loader := orchestrator.WazeroLoader{Runtime: rt}

	m := orchestrator.NewMachine(display, nil, storage.NewFilesystem(privateDir, nil), se, loader)
	m.SetLogger(newLogger(os.Stderr))
	scanner := bufio.NewScanner(os.Stdin)

	state, err := m.Start(ctx)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	if state != orchestrator.SetupPinEntry {
		return fmt.Errorf("device already provisioned (state %s)", state)
	}

	for {
		pin, err := readPin(scanner, os.Stdout, "set PIN")
		if err != nil {
			return fmt.Errorf("reading PIN: %w", err)
		}
		if state, err = m.Step(ctx, orchestrator.PinEntered{Pin: pin}); err != nil {
			return fmt.Errorf("setting PIN: %w", err)
		}
		if state != orchestrator.SetupPinConfirm {
			continue
		}
		confirmPin, err := readPin(scanner, os.Stdout, "confirm PIN")
		if err != nil {
			return fmt.Errorf("reading PIN confirmation: %w", err)
		}
		if state, err = m.Step(ctx, orchestrator.PinEntered{Pin: confirmPin}); err != nil {
			return fmt.Errorf("confirming PIN: %w", err)
		}
		if state == orchestrator.SetupPrivateStorageWait {
			break
		}
		fmt.Fprintln(os.Stdout, "PIN mismatch, try again")
	}

	if err := waitEnter(scanner, os.Stdout, fmt.Sprintf("insert private volume at %s and press enter", privateDir)); err != nil {
		return fmt.Errorf("waiting for private volume: %w", err)
	}
	state, err = m.Step(ctx, orchestrator.StorageArrived{})
	if err != nil {
		return fmt.Errorf("processing private volume: %w", err)
	}
	if state != orchestrator.SetupPublicStorageWait {
		return fmt.Errorf("provisioning failed, device in state %s", state)
	}

	m.SetStorage(storage.NewFilesystem(publicDir, nil))
	if err := waitEnter(scanner, os.Stdout, fmt.Sprintf("insert public volume at %s and press enter", publicDir)); err != nil {
		return fmt.Errorf("waiting for public volume: %w", err)
	}
	state, err = m.Step(ctx, orchestrator.StorageArrived{})
	if err != nil {
		return fmt.Errorf("processing public volume: %w", err)
	}
	if state != orchestrator.Authenticate {
		return fmt.Errorf("provisioning failed, device in state %s", state)
	}

	fmt.Fprintln(os.Stdout, "provisioning complete; device is ready to authenticate")
	return nil
}
