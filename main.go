package main

import (
	"context"
	"log"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/anchoragelabs/airgap-signer-core/cmd/airgapsim"
)

func main() {
	app := &cli.Command{
		Name:  "airgapsim",
		Usage: "Air-gapped signing device simulator",
		Commands: []*cli.Command{
			airgapsim.DecodeSpecCommand(),
			airgapsim.ProvisionCommand(),
			airgapsim.SimulateCommand(),
			airgapsim.InspectKeysCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
