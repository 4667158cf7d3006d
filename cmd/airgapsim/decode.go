package airgapsim

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/anchoragelabs/airgap-signer-core/signingspec"
)

// DecodeSpecCommand decodes a sign.cbor file (or its base64 form) and
// prints it, the same file-or-base64/--json shape a decode-manifest
// command typically uses.
func DecodeSpecCommand() *cli.Command {
	return &cli.Command{
		Name:  "decode-spec",
		Usage: "Decode a signing spec (sign.cbor)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "file",
				Usage: "Path to a CBOR-encoded signing spec",
			},
			&cli.StringFlag{
				Name:  "base64",
				Usage: "Base64-encoded signing spec",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output in JSON format",
			},
			&cli.BoolFlag{
				Name:  "verify-roundtrip",
				Usage: "Fail if re-encoding the decoded spec does not byte-for-byte match the input",
			},
		},
		Action: runDecodeSpecCommand,
	}
}

func runDecodeSpecCommand(ctx context.Context, cmd *cli.Command) error {
	filePath := cmd.String("file")
	b64 := cmd.String("base64")
	asJSON := cmd.Bool("json")
	verifyRoundtrip := cmd.Bool("verify-roundtrip")

	if filePath == "" && b64 == "" {
		return fmt.Errorf("either --file or --base64 must be provided")
	}
	if filePath != "" && b64 != "" {
		return fmt.Errorf("only one of --file or --base64 should be provided")
	}

	var raw []byte
	var err error
	if filePath != "" {
		raw, err = os.ReadFile(filePath)
	} else {
		raw, err = base64.StdEncoding.DecodeString(b64)
	}
	if err != nil {
		return fmt.Errorf("reading spec: %w", err)
	}

	spec, err := signingspec.Decode(raw)
	if err != nil {
		return fmt.Errorf("decoding spec: %w", err)
	}

	if verifyRoundtrip {
		if err := signingspec.VerifyRoundTrip(spec); err != nil {
			return fmt.Errorf("round trip check failed: %w", err)
		}
		reencoded, err := signingspec.Encode(spec)
		if err != nil {
			return fmt.Errorf("round trip check failed: %w", err)
		}
		if !bytes.Equal(reencoded, raw) {
			return fmt.Errorf("round trip check failed: re-encoded spec differs from input")
		}
		fmt.Fprintln(os.Stderr, "round trip check passed")
	}

	if asJSON {
		jsonBytes, err := json.MarshalIndent(spec, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling output: %w", err)
		}
		fmt.Println(string(jsonBytes))
		return nil
	}

	fmt.Printf("=== Signing Spec ===\n")
	fmt.Printf("Label:     %s\n", spec.Label)
	fmt.Printf("Signable:  %s\n", spec.Signable.Kind)
	fmt.Printf("Algorithm: %s\n", spec.Algorithm)
	fmt.Printf("Key ID:    %s\n", spec.KeyID)
	fmt.Printf("Output:    %s\n", spec.Output)
	return nil
}
