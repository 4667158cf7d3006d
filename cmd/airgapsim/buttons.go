package airgapsim

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/anchoragelabs/airgap-signer-core/hwcontracts"
)

// ConsoleButtons reads one line at a time from in and maps it to a
// hwcontracts.ButtonEvent, standing in for the device's four physical
// buttons when running the device logic as an ordinary process.
type ConsoleButtons struct {
	scanner *bufio.Scanner
	prompt  io.Writer
}

// NewConsoleButtons returns a ConsoleButtons reading from in and echoing
// its prompt to prompt.
func NewConsoleButtons(in io.Reader, prompt io.Writer) *ConsoleButtons {
	return &ConsoleButtons{scanner: bufio.NewScanner(in), prompt: prompt}
}

// Scanner exposes the underlying line scanner so PIN and acknowledgment
// prompts against the same input stream can share it instead of wrapping
// their own bufio.Scanner around the same reader, which would buffer
// ahead and silently drop bytes meant for the other consumer.
func (b *ConsoleButtons) Scanner() *bufio.Scanner { return b.scanner }

// WaitEvent blocks for one line of input and translates it to a
// ButtonEvent. Unrecognized input reprompts rather than erroring, since a
// stray keystroke on a real device would simply not register as any of
// the four buttons.
func (b *ConsoleButtons) WaitEvent(ctx context.Context) (hwcontracts.ButtonEvent, error) {
	for {
		fmt.Fprint(b.prompt, "> ")
		if !b.scanner.Scan() {
			if err := b.scanner.Err(); err != nil {
				return 0, err
			}
			return 0, io.EOF
		}
		switch strings.ToLower(strings.TrimSpace(b.scanner.Text())) {
		case "u", "up":
			return hwcontracts.ButtonUp, nil
		case "d", "down":
			return hwcontracts.ButtonDown, nil
		case "c", "confirm":
			return hwcontracts.ButtonConfirm, nil
		case "r", "reject":
			return hwcontracts.ButtonReject, nil
		default:
			fmt.Fprintln(b.prompt, "unrecognized input, use u/d/c/r")
		}
	}
}
