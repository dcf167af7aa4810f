package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/alfredjeanlab/fleetbus/internal/envelope"
	"github.com/alfredjeanlab/fleetbus/internal/model"
)

// DefaultCycleInterval separates two passes of a cyclic plan.
const DefaultCycleInterval = time.Second

// Mode says whether a plan runs once or loops.
type Mode string

const (
	Once   Mode = "once"
	Cyclic Mode = "cyclic"
)

// ParseMode parses "once" or "cyclic". The empty string is Once.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case "", Once:
		return Once, nil
	case Cyclic:
		return Cyclic, nil
	}
	return "", fmt.Errorf("invalid mode %q (want once or cyclic)", s)
}

// Step is one send: wait Delay, then route Envelope. Event is the decoded form
// of the envelope, kept for logging.
type Step struct {
	Delay    time.Duration
	Envelope envelope.Envelope
	Event    model.Event
}

// Plan is an ordered sequence of steps.
type Plan struct {
	Steps         []Step
	Mode          Mode
	CycleInterval time.Duration
}

// cursor walks a plan, wrapping around in cyclic mode. It owns a private copy
// of the steps so callers may reuse theirs.
type cursor struct {
	steps     []Step
	cyclic    bool
	interval  time.Duration
	maxCycles int

	pos   int
	cycle int
	done  bool
}

func newCursor(p Plan, maxCycles int) *cursor {
	interval := p.CycleInterval
	if interval <= 0 {
		interval = DefaultCycleInterval
	}
	return &cursor{
		steps:     append([]Step(nil), p.Steps...),
		cyclic:    p.Mode == Cyclic,
		interval:  interval,
		maxCycles: maxCycles,
	}
}

// next returns the next step and how long to wait before sending it. It
// reports false once the plan is exhausted.
func (c *cursor) next() (Step, time.Duration, bool) {
	if c.done || len(c.steps) == 0 {
		return Step{}, 0, false
	}
	var wait time.Duration
	if c.pos == len(c.steps) {
		c.cycle++
		if !c.cyclic || (c.maxCycles > 0 && c.cycle >= c.maxCycles) {
			c.done = true
			return Step{}, 0, false
		}
		c.pos = 0
		wait = c.interval
	}
	step := c.steps[c.pos]
	c.pos++
	return step, wait + step.Delay, true
}

// completed returns the number of full passes made so far.
func (c *cursor) completed() int {
	if !c.done && c.pos == len(c.steps) && len(c.steps) > 0 {
		return c.cycle + 1
	}
	return c.cycle
}
