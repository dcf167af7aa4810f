package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/alfredjeanlab/fleetbus/internal/listen"
	"github.com/alfredjeanlab/fleetbus/internal/session"
	"github.com/alfredjeanlab/fleetbus/internal/ui"
)

// outMu serializes summaries of concurrent sessions.
var outMu sync.Mutex

type rejectedJSON struct {
	Index     int    `json:"index"`
	Tag       string `json:"tag"`
	Action    string `json:"action"`
	SubjectID string `json:"subject_id"`
	Error     string `json:"error"`
}

type resultJSON struct {
	Plan      string         `json:"plan"`
	SessionID string         `json:"session_id"`
	Endpoint  string         `json:"endpoint"`
	Sent      int            `json:"sent"`
	Failed    int            `json:"failed"`
	Cycles    int            `json:"cycles"`
	Rejected  []rejectedJSON `json:"rejected,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func newResultJSON(name string, res session.Result, err error) resultJSON {
	out := resultJSON{
		Plan:      name,
		SessionID: res.SessionID,
		Endpoint:  res.Endpoint,
		Sent:      res.Stats.Sent,
		Failed:    res.Stats.Failed,
		Cycles:    res.Stats.Cycles,
	}
	for _, r := range res.Rejected {
		out.Rejected = append(out.Rejected, rejectedJSON{
			Index:     r.Index,
			Tag:       r.Tag,
			Action:    string(r.Event.Action),
			SubjectID: r.Event.SubjectID,
			Error:     r.Err.Error(),
		})
	}
	if err != nil {
		var se *session.Error
		if errors.As(err, &se) {
			out.Error = se.Err.Error()
		} else {
			out.Error = err.Error()
		}
	}
	return out
}

// printResult writes a one-line summary of a session, plus a line per
// rejected entry.
func printResult(w io.Writer, name string, res session.Result, err error) {
	outMu.Lock()
	defer outMu.Unlock()
	r := newResultJSON(name, res, err)
	if jsonOutput {
		data, _ := json.Marshal(r)
		fmt.Fprintln(w, string(data))
		return
	}
	status := "ok"
	if r.Error != "" {
		status = "failed: " + r.Error
	}
	fmt.Fprintf(w, "%s %s %s sent=%d failed=%d cycles=%d rejected=%d %s\n",
		r.Plan, r.SessionID, r.Endpoint, r.Sent, r.Failed, r.Cycles, len(r.Rejected), status)
	for _, rj := range r.Rejected {
		fmt.Fprintf(w, "  rejected #%d %s %s %s: %s\n", rj.Index+1, rj.Tag, rj.Action, rj.SubjectID, rj.Error)
	}
}

type receivedJSON struct {
	At        string          `json:"at"`
	Tag       string          `json:"tag"`
	Action    string          `json:"action,omitempty"`
	SubjectID string          `json:"subject_id,omitempty"`
	Body      json.RawMessage `json:"body,omitempty"`
	Raw       string          `json:"raw,omitempty"`
	Duplicate bool            `json:"duplicate,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// printReceived writes one delivered envelope.
func printReceived(w io.Writer, s ui.Styler, r listen.Received) {
	at := r.At.Format("15:04:05.000")
	if jsonOutput {
		out := receivedJSON{At: r.At.Format("2006-01-02T15:04:05.000Z07:00"), Tag: r.Tag, Duplicate: r.Duplicate}
		if json.Valid(r.Body) {
			out.Body = r.Body
		} else {
			out.Raw = string(r.Body)
		}
		if r.Err != nil {
			out.Error = r.Err.Error()
		} else {
			out.Action, out.SubjectID = string(r.Event.Action), r.Event.SubjectID
		}
		data, _ := json.Marshal(out)
		fmt.Fprintln(w, string(data))
		return
	}

	var b strings.Builder
	b.WriteString(s.Muted(at))
	b.WriteString(" ")
	b.WriteString(s.Tag(r.Tag))
	b.WriteString(" ")
	if r.Err != nil {
		b.WriteString(s.Error("invalid: " + r.Err.Error()))
	} else {
		b.WriteString(r.Event.String())
	}
	if r.Duplicate {
		b.WriteString(" ")
		b.WriteString(s.Warn("[duplicate]"))
	}
	b.WriteString(" ")
	b.WriteString(s.Muted(string(r.Body)))
	fmt.Fprintln(w, b.String())
}
