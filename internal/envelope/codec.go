// Package envelope encodes lifecycle events into tagged wire envelopes and
// enforces the payload schema of each fleet tag.
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/fleetbus/internal/model"
)

// Envelope is the wire unit: a routing tag and the serialized event. The tag
// travels as its own frame so subscribers can filter without decoding Body.
type Envelope struct {
	Tag  string
	Body []byte
}

func (e Envelope) String() string {
	return e.Tag + " " + string(e.Body)
}

// wireEvent fixes the encoded field order: action, id, then attributes.
type wireEvent struct {
	Action model.Action `json:"action"`
	UserID string       `json:"user_id,omitempty"`
	ConnID string       `json:"conn_id,omitempty"`
	model.Attributes
}

// Codec encodes and decodes envelopes against a schema registry.
type Codec struct {
	registry *Registry
}

// NewCodec returns a codec validating against r. A nil r uses DefaultRegistry.
func NewCodec(r *Registry) *Codec {
	if r == nil {
		r = DefaultRegistry()
	}
	return &Codec{registry: r}
}

// Registry returns the registry the codec validates against.
func (c *Codec) Registry() *Registry {
	return c.registry
}

// Encode validates e against tag's schema and serializes it.
func (c *Codec) Encode(tag string, e model.Event) (Envelope, error) {
	s, ok := c.registry.Lookup(tag)
	if !ok {
		v := &SchemaViolation{Tag: tag, Action: e.Action}
		v.add("tag", "unknown tag %q", tag)
		return Envelope{}, v
	}
	if err := s.Validate(tag, e); err != nil {
		return Envelope{}, err
	}

	w := wireEvent{Action: e.Action, Attributes: e.Attrs}
	if s.IDField == IDConn {
		w.ConnID = e.SubjectID
	} else {
		w.UserID = e.SubjectID
	}
	body, err := json.Marshal(w)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshaling event: %w", err)
	}
	return Envelope{Tag: tag, Body: body}, nil
}

// Decode parses env and validates the event against its tag's schema.
func (c *Codec) Decode(env Envelope) (string, model.Event, error) {
	s, ok := c.registry.Lookup(env.Tag)
	if !ok {
		v := &SchemaViolation{Tag: env.Tag}
		v.add("tag", "unknown tag %q", env.Tag)
		return "", model.Event{}, v
	}

	var w wireEvent
	dec := json.NewDecoder(bytes.NewReader(env.Body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return "", model.Event{}, decodeError(env.Tag, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return "", model.Event{}, errors.New("decoding envelope body: trailing data after event")
	}

	e := model.Event{Action: w.Action, Attrs: w.Attributes}
	switch s.IDField {
	case IDConn:
		e.SubjectID = w.ConnID
		if w.UserID != "" {
			v := &SchemaViolation{Tag: env.Tag, Action: w.Action}
			v.add(IDUser, "not permitted, tag uses %s", IDConn)
			return "", model.Event{}, v
		}
	default:
		e.SubjectID = w.UserID
		if w.ConnID != "" {
			v := &SchemaViolation{Tag: env.Tag, Action: w.Action}
			v.add(IDConn, "not permitted, tag uses %s", IDUser)
			return "", model.Event{}, v
		}
	}

	if err := s.Validate(env.Tag, e); err != nil {
		return "", model.Event{}, err
	}
	return env.Tag, e, nil
}

func decodeError(tag string, err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		v := &SchemaViolation{Tag: tag}
		v.add(typeErr.Field, "must be %s, got %s", typeName(typeErr.Type.Kind().String()), typeErr.Value)
		return v
	}
	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		v := &SchemaViolation{Tag: tag}
		if unq, uerr := strconv.Unquote(field); uerr == nil {
			field = unq
		}
		v.add(field, "not permitted by any schema")
		return v
	}
	return fmt.Errorf("decoding envelope body: %w", err)
}

func typeName(kind string) string {
	switch kind {
	case "int", "int8", "int16", "int32", "int64":
		return "an integer"
	case "bool":
		return "a boolean"
	case "string":
		return "a string"
	case "struct", "map":
		return "an object"
	}
	return kind
}
