package cli

import (
	"io"
	"log/slog"

	"golang.org/x/term"
)

// TerminalDetector reports whether a file descriptor is an interactive terminal
type TerminalDetector interface {
	IsTerminal(fd int) bool
}

// DefaultTerminalDetector uses golang.org/x/term
type DefaultTerminalDetector struct{}

// IsTerminal implements TerminalDetector
func (d *DefaultTerminalDetector) IsTerminal(fd int) bool {
	isTerminal := term.IsTerminal(fd)

	slog.Debug("terminal detection result",
		"fd", fd,
		"is_terminal", isTerminal)

	return isTerminal
}

// fdWriter is satisfied by *os.File
type fdWriter interface {
	io.Writer
	Fd() uintptr
}

// isInteractiveOutput reports whether w is a terminal. Writers without a file
// descriptor, such as buffers in tests, are never interactive.
func (c *CLI) isInteractiveOutput(w io.Writer) bool {
	file, ok := w.(fdWriter)
	if !ok {
		return false
	}
	if c.terminalDetector == nil {
		c.terminalDetector = &DefaultTerminalDetector{}
	}
	return c.terminalDetector.IsTerminal(int(file.Fd()))
}
