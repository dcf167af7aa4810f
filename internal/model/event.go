// Package model defines the account-lifecycle events carried on the fleet bus.
package model

import "fmt"

// Action is the lifecycle mutation an Event applies to its subject.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionRestore Action = "restore"
	ActionInit    Action = "init"
)

// Actions lists every action in wire order.
var Actions = []Action{ActionCreate, ActionUpdate, ActionDelete, ActionRestore, ActionInit}

// IsValid reports whether a is one of the known actions.
func (a Action) IsValid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionRestore, ActionInit:
		return true
	}
	return false
}

// CarriesAttributes reports whether events of this action may carry
// attributes. Delete, restore and init only reference an existing subject.
func (a Action) CarriesAttributes() bool {
	return a == ActionCreate || a == ActionUpdate
}

// ParseAction converts a wire string into an Action.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.IsValid() {
		return "", fmt.Errorf("unknown action %q", s)
	}
	return a, nil
}

// Event is a single lifecycle mutation addressed to one account or connection.
//
// Build events with the per-action constructors; the attribute-less variants
// have no way to attach attributes.
type Event struct {
	Action    Action
	SubjectID string
	Attrs     Attributes
}

// NewCreate provisions subjectID. Absent attributes fall back to fleet defaults.
func NewCreate(subjectID string, attrs Attributes) Event {
	return Event{Action: ActionCreate, SubjectID: subjectID, Attrs: attrs}
}

// NewUpdate changes the present attributes of subjectID and leaves the rest.
func NewUpdate(subjectID string, attrs Attributes) Event {
	return Event{Action: ActionUpdate, SubjectID: subjectID, Attrs: attrs}
}

// NewDelete removes subjectID.
func NewDelete(subjectID string) Event {
	return Event{Action: ActionDelete, SubjectID: subjectID}
}

// NewRestore re-activates a previously deleted or expired subjectID.
func NewRestore(subjectID string) Event {
	return Event{Action: ActionRestore, SubjectID: subjectID}
}

// NewInit asks the fleet to (re)load state for an existing subjectID.
func NewInit(subjectID string) Event {
	return Event{Action: ActionInit, SubjectID: subjectID}
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s", e.Action, e.SubjectID)
}
