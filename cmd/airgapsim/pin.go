package airgapsim

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// readPin prompts on prompt and reads one line from scanner, trimmed of
// surrounding whitespace. It is the CLI's stand-in for whatever keypad
// abstraction a real device uses to produce an orchestrator.PinEntered
// event. The scanner must be shared across an entire command invocation:
// a fresh bufio.Scanner per call would buffer ahead into unread stdin
// bytes and drop them once discarded.
func readPin(scanner *bufio.Scanner, prompt io.Writer, label string) (string, error) {
	fmt.Fprintf(prompt, "%s: ", label)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(scanner.Text()), nil
}

// waitEnter blocks for one line of input, discarding its contents. It
// stands in for a physical volume-inserted signal in the CLI driver.
func waitEnter(scanner *bufio.Scanner, prompt io.Writer, message string) error {
	fmt.Fprintln(prompt, message)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return err
		}
		return io.EOF
	}
	return nil
}
