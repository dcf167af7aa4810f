package ui

import "fmt"

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorWarn   = 214 // orange
	colorError  = 203 // red
	colorMuted  = 245 // medium gray
)

// Styler renders listen and schema output, optionally in color.
type Styler struct {
	Color bool
}

func (s Styler) render(code int, v string) string {
	if !s.Color {
		return v
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, v)
}

// Tag returns a fleet tag in the accent color.
func (s Styler) Tag(v string) string { return s.render(colorAccent, v) }

// Warn styles notices such as duplicate deliveries.
func (s Styler) Warn(v string) string { return s.render(colorWarn, v) }

// Error styles envelopes that failed to decode.
func (s Styler) Error(v string) string { return s.render(colorError, v) }

// Muted styles secondary detail such as timestamps.
func (s Styler) Muted(v string) string { return s.render(colorMuted, v) }
