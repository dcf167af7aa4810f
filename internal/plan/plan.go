// Package plan describes publication plans and loads them from plan files.
//
// A plan is the logical form of a publication: events with their tags and
// per-step delays, plus the session settings that go with them. Entries are
// not encoded here. An entry whose attributes could not be parsed carries the
// error in Err and is rejected by the session like any other schema
// violation, so one bad entry never hides the rest of the file.
package plan

import (
	"time"

	"github.com/alfredjeanlab/fleetbus/internal/model"
	"github.com/alfredjeanlab/fleetbus/internal/scheduler"
)

// Entry is one event of a plan.
type Entry struct {
	Tag   string
	Event model.Event
	Delay time.Duration
	// Err is set when the entry could not be turned into an event.
	Err error
}

// Plan is a named, ordered sequence of entries and its session settings. Nil
// durations fall back to the configured defaults.
type Plan struct {
	Name          string
	Endpoint      string
	Mode          scheduler.Mode
	Settle        *time.Duration
	CycleInterval *time.Duration
	Linger        *time.Duration
	Strict        bool
	// Aliases maps new fleet tags to the built-in tag whose schema they share.
	Aliases map[string]string
	Entries []Entry
}

// Append adds an entry for event on tag, sent delay after the previous one.
func (p *Plan) Append(tag string, delay time.Duration, event model.Event) {
	p.Entries = append(p.Entries, Entry{Tag: tag, Event: event, Delay: delay})
}

// Duration returns *d, or fallback when d is nil.
func Duration(d *time.Duration, fallback time.Duration) time.Duration {
	if d == nil {
		return fallback
	}
	return *d
}
