package envelope

import (
	"errors"
	"fmt"
	"maps"
	"regexp"
	"sort"
	"sync"

	"github.com/alfredjeanlab/fleetbus/internal/model"
)

// Fleet tags shipped by DefaultRegistry.
const (
	TagDev       = "dev"
	TagMk3       = "mk3"
	TagMk5       = "mk5"
	TagMk19      = "mk19"
	TagWireguard = "Wireguard"
)

// ErrTagExists reports an alias for a tag that already has a schema.
var ErrTagExists = errors.New("tag already registered")

// A tag is a single subject token so subscribers can filter on it.
var tagPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidTag reports whether tag can be used as a routing label.
func ValidTag(tag string) bool {
	return tagPattern.MatchString(tag)
}

// Registry maps routing tags to schemas. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]Schema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]Schema)}
}

// DefaultRegistry returns a new registry holding the built-in fleet schemas.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for tag, s := range builtinSchemas() {
		if err := r.Register(tag, s); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds or replaces the schema for tag.
func (r *Registry) Register(tag string, s Schema) error {
	if !ValidTag(tag) {
		return fmt.Errorf("invalid tag %q: must match %s", tag, tagPattern)
	}
	if s.IDField != IDUser && s.IDField != IDConn {
		return fmt.Errorf("schema for tag %q: id field must be %s or %s", tag, IDUser, IDConn)
	}
	if s.Version == "" {
		s.Version = tag
	}
	r.mu.Lock()
	r.schemas[tag] = s
	r.mu.Unlock()
	return nil
}

// Alias registers tag as a new fleet sharing base's schema version. The tag
// must not be registered already.
func (r *Registry) Alias(tag, base string) error {
	s, ok := r.Lookup(base)
	if !ok {
		return fmt.Errorf("alias %q: unknown base tag %q", tag, base)
	}
	if _, taken := r.Lookup(tag); taken {
		return fmt.Errorf("alias %q: %w", tag, ErrTagExists)
	}
	return r.Register(tag, s)
}

// Clone returns an independent copy of r. Changes to the copy never reach r.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &Registry{schemas: maps.Clone(r.schemas)}
}

// Lookup returns the schema registered for tag.
func (r *Registry) Lookup(tag string) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[tag]
	return s, ok
}

// Tags returns the registered tags in sorted order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

func builtinSchemas() map[string]Schema {
	canonical := make([]string, len(model.ProtoTags))
	for i, p := range model.ProtoTags {
		canonical[i] = string(p)
	}

	return map[string]Schema{
		// Development fleet: legacy user payloads, permissive ids.
		TagDev: {
			IDField: IDUser,
			Actions: model.Actions,
			Keys:    []string{model.KeyProto, model.KeyTrial, model.KeyLimit, model.KeyPassword},
		},
		TagMk3: {
			IDField: IDUser,
			UUIDs:   true,
			Actions: []model.Action{model.ActionCreate, model.ActionUpdate, model.ActionDelete},
			Keys:    []string{model.KeyTrial, model.KeyLimit, model.KeyPassword},
		},
		TagMk5: {
			IDField: IDConn,
			UUIDs:   true,
			Actions: []model.Action{model.ActionCreate, model.ActionUpdate, model.ActionDelete, model.ActionRestore},
			Keys:    []string{model.KeyProto, model.KeyPassword, model.KeyWG},
			Required: map[model.Action][]string{
				model.ActionCreate: {model.KeyProto},
			},
			Protos:                canonical,
			ProtoWireguardNeedsWG: true,
		},
		TagMk19: {
			IDField: IDConn,
			UUIDs:   true,
			Actions: model.Actions,
			Keys: []string{
				model.KeyProto, model.KeyPassword, model.KeyWG,
				model.KeyToken, model.KeyExpiresAt, model.KeySubscriptionID,
			},
			Required: map[model.Action][]string{
				model.ActionCreate: {model.KeyProto},
			},
			Protos:                canonical,
			ProtoWireguardNeedsWG: true,
		},
		TagWireguard: {
			IDField: IDConn,
			Actions: model.Actions,
			Keys:    []string{model.KeyProto, model.KeyWG},
			Required: map[model.Action][]string{
				model.ActionCreate: {PathWGKeys, PathWGAddress},
			},
			Protos: []string{string(model.ProtoWireguard)},
		},
	}
}
