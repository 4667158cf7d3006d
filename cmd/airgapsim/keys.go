package airgapsim

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/anchoragelabs/airgap-signer-core/orchestrator"
	"github.com/anchoragelabs/airgap-signer-core/render"
)

// InspectKeysCommand prints the key-slot table backing a provisioned
// public volume, for operator debugging rather than anything the device
// itself needs at signing time.
func InspectKeysCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-keys",
		Usage: "Print the key-slot table found on a public volume",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "public-dir",
				Usage:    "Directory simulating the public volume (pubkey.bin)",
				Required: true,
			},
		},
		Action: runInspectKeysCommand,
	}
}

func runInspectKeysCommand(ctx context.Context, cmd *cli.Command) error {
	publicDir := cmd.String("public-dir")

	pub, err := os.ReadFile(filepath.Join(publicDir, "pubkey.bin"))
	if err != nil {
		return fmt.Errorf("reading pubkey: %w", err)
	}

	slots := map[string][]byte{orchestrator.KeySlot: pub}
	fmt.Fprint(os.Stdout, render.FormatKeySlots(slots, "Key Slots"))
	return nil
}
