package ui

import (
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ShouldUseColor reports whether ANSI colors should be written to f.
// It respects NO_COLOR, CLICOLOR_FORCE, CLICOLOR, and TTY detection.
func ShouldUseColor(f *os.File) bool {
	// https://no-color.org: any non-empty value disables color.
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR_FORCE")) == "1" {
		return true
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR")) == "0" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// ShouldUseColorOn is ShouldUseColor for an arbitrary writer. Writers that
// are not files never get color unless CLICOLOR_FORCE is set.
func ShouldUseColorOn(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return ShouldUseColor(f)
	}
	return os.Getenv("NO_COLOR") == "" && strings.TrimSpace(os.Getenv("CLICOLOR_FORCE")) == "1"
}
