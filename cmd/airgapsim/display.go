package airgapsim

import (
	"fmt"
	"io"

	"github.com/anchoragelabs/airgap-signer-core/render"
)

// ConsoleDisplay renders hwcontracts.Display output to a terminal-style
// writer, standing in for the device's physical screen when running the
// device logic as an ordinary process.
type ConsoleDisplay struct {
	Out   io.Writer
	width int
}

// NewConsoleDisplay returns a ConsoleDisplay wrapping out, wrapping review
// text at width columns.
func NewConsoleDisplay(out io.Writer, width int) *ConsoleDisplay {
	return &ConsoleDisplay{Out: out, width: width}
}

func (d *ConsoleDisplay) Clear() {
	fmt.Fprint(d.Out, "\n")
}

func (d *ConsoleDisplay) ShowMessage(lines []string) {
	fmt.Fprintln(d.Out, "----------------------------------------")
	for _, line := range lines {
		fmt.Fprintln(d.Out, line)
	}
	fmt.Fprintln(d.Out, "----------------------------------------")
}

func (d *ConsoleDisplay) ShowLines(lines []render.DisplayLine, scrollOffset int) {
	fmt.Fprintln(d.Out, "======== REVIEW ========")
	for i, line := range lines {
		marker := "  "
		if i == scrollOffset {
			marker = "> "
		}
		fmt.Fprintf(d.Out, "%s%*s%s\n", marker, line.Indent*2, "", line.Text)
	}
	fmt.Fprintln(d.Out, "=========================")
	fmt.Fprintln(d.Out, "[u]p  [d]own  [c]onfirm  [r]eject")
}

func (d *ConsoleDisplay) Width() int {
	if d.width <= 0 {
		return 40
	}
	return d.width
}
