// Package confirm implements the injected Confirmer interface destructive
// operations call before executing: an interactive implementation that
// prompts on stdin/stdout, and a non-interactive one that auto-declines.
// The interface keeps callers from touching stdin directly.
package confirm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Confirmer gates a destructive operation on user approval. Simple asks
// once; Double requires a first yes/no and then a typed literal, the
// gate for full cleanup in production.
type Confirmer interface {
	Simple(message string) bool
	Double(operation string, details []string) bool
}

// Interactive prompts on the given reader/writer pair (os.Stdin/os.Stdout in
// production, buffers in tests).
type Interactive struct {
	in  *bufio.Reader
	out io.Writer
}

// NewInteractive returns a Confirmer that reads from stdin and writes to
// stdout.
func NewInteractive() *Interactive {
	return &Interactive{in: bufio.NewReader(os.Stdin), out: os.Stdout}
}

// NewInteractiveIO builds an Interactive confirmer against explicit
// reader/writer, for tests.
func NewInteractiveIO(in io.Reader, out io.Writer) *Interactive {
	return &Interactive{in: bufio.NewReader(in), out: out}
}

func (c *Interactive) Simple(message string) bool {
	fmt.Fprintf(c.out, "%s [y/N]: ", message)
	line, err := c.in.ReadString('\n')
	if err != nil {
		return false
	}
	line = strings.TrimSpace(strings.ToLower(line))
	return line == "y" || line == "yes"
}

func (c *Interactive) Double(operation string, details []string) bool {
	fmt.Fprintf(c.out, "DANGEROUS OPERATION: %s\n", operation)
	for _, d := range details {
		fmt.Fprintf(c.out, "  - %s\n", d)
	}
	if !c.Simple("Are you sure you want to proceed?") {
		return false
	}
	fmt.Fprint(c.out, "Type 'yes' to confirm: ")
	line, err := c.in.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(strings.ToLower(line)) == "yes"
}

// NonInteractive auto-declines every confirmation, for CI and scripted runs
// where no one can answer a prompt. Full cleanup on production is refused
// outright in this mode, which falls out of Double always returning false.
type NonInteractive struct{}

func NewNonInteractive() NonInteractive { return NonInteractive{} }

func (NonInteractive) Simple(string) bool            { return false }
func (NonInteractive) Double(string, []string) bool { return false }
