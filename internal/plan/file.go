package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/alfredjeanlab/fleetbus/internal/envelope"
	"github.com/alfredjeanlab/fleetbus/internal/model"
	"github.com/alfredjeanlab/fleetbus/internal/scheduler"
)

// Format is a plan file encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFor picks the format from the file extension of name.
func FormatFor(name string) (Format, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("plan %s: unknown format (want .toml, .yaml, .yml or .json)", name)
}

// file is the on-disk shape shared by every format.
type file struct {
	Name          string            `toml:"name" yaml:"name" json:"name"`
	Endpoint      string            `toml:"endpoint" yaml:"endpoint" json:"endpoint"`
	Mode          string            `toml:"mode" yaml:"mode" json:"mode"`
	Settle        string            `toml:"settle" yaml:"settle" json:"settle"`
	CycleInterval string            `toml:"cycle_interval" yaml:"cycle_interval" json:"cycle_interval"`
	Linger        string            `toml:"linger" yaml:"linger" json:"linger"`
	Strict        bool              `toml:"strict" yaml:"strict" json:"strict"`
	Aliases       map[string]string `toml:"aliases" yaml:"aliases" json:"aliases"`
	Events        []fileEvent       `toml:"event" yaml:"event" json:"event"`
}

type fileEvent struct {
	Tag        string         `toml:"tag" yaml:"tag" json:"tag"`
	Action     string         `toml:"action" yaml:"action" json:"action"`
	ID         string         `toml:"id" yaml:"id" json:"id"`
	Delay      string         `toml:"delay" yaml:"delay" json:"delay"`
	Attributes map[string]any `toml:"attributes" yaml:"attributes" json:"attributes"`
}

// Parse decodes a plan file. name picks the format and defaults the plan
// name. Structural problems (bad durations, unknown mode, missing tag) fail
// the whole file; attribute problems are attached to their entry.
func Parse(name string, data []byte) (*Plan, error) {
	format, err := FormatFor(name)
	if err != nil {
		return nil, err
	}

	var f file
	switch format {
	case FormatTOML:
		md, err := toml.Decode(string(data), &f)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", name, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("plan %s: unknown key %s", name, undecoded[0])
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("plan %s: %w", name, err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("plan %s: %w", name, err)
		}
	}

	p, err := f.plan()
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", name, err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(path.Base(name), path.Ext(name))
	}
	return p, nil
}

func (f *file) plan() (*Plan, error) {
	mode, err := scheduler.ParseMode(f.Mode)
	if err != nil {
		return nil, err
	}
	p := &Plan{
		Name:     f.Name,
		Endpoint: f.Endpoint,
		Mode:     mode,
		Strict:   f.Strict,
		Aliases:  f.Aliases,
	}
	for _, d := range []struct {
		key string
		val string
		dst **time.Duration
	}{
		{"settle", f.Settle, &p.Settle},
		{"cycle_interval", f.CycleInterval, &p.CycleInterval},
		{"linger", f.Linger, &p.Linger},
	} {
		if d.val == "" {
			continue
		}
		v, err := parseDuration(d.key, d.val)
		if err != nil {
			return nil, err
		}
		*d.dst = &v
	}

	if len(f.Events) == 0 {
		return nil, errors.New("no events")
	}
	for i, fe := range f.Events {
		e, err := fe.entry()
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i+1, err)
		}
		p.Entries = append(p.Entries, e)
	}
	return p, nil
}

func (fe fileEvent) entry() (Entry, error) {
	if fe.Tag == "" {
		return Entry{}, errors.New("tag is required")
	}
	var delay time.Duration
	if fe.Delay != "" {
		d, err := parseDuration("delay", fe.Delay)
		if err != nil {
			return Entry{}, err
		}
		delay = d
	}

	e := Entry{Tag: fe.Tag, Delay: delay}
	action, err := model.ParseAction(fe.Action)
	if err != nil {
		e.Event = model.Event{Action: model.Action(fe.Action), SubjectID: fe.ID}
		e.Err = &envelope.SchemaViolation{
			Tag:    fe.Tag,
			Action: model.Action(fe.Action),
			Errors: []envelope.FieldError{{Field: "action", Message: err.Error()}},
		}
		return e, nil
	}

	attrs, err := envelope.ParseAttributes(fe.Attributes)
	e.Event = model.Event{Action: action, SubjectID: fe.ID, Attrs: attrs}
	if err != nil {
		var sv *envelope.SchemaViolation
		if errors.As(err, &sv) {
			sv.Tag, sv.Action = fe.Tag, action
		}
		e.Err = err
	}
	return e, nil
}

func parseDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", key)
	}
	return d, nil
}
