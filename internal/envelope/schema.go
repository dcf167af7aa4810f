package envelope

import (
	"net/netip"
	"slices"

	"github.com/google/uuid"

	"github.com/alfredjeanlab/fleetbus/internal/model"
)

// Identifier keys used by the fleets.
const (
	IDUser = "user_id"
	IDConn = "conn_id"
)

// Paths of nested fields that schemas may require.
const (
	PathWGKeys    = "wg.keys"
	PathWGAddress = "wg.address"
)

// Schema describes the payload shape one schema version of a consumer fleet
// accepts.
type Schema struct {
	// Version names the schema; aliased tags share the version of their base.
	Version string
	// IDField is the wire key carrying the subject id.
	IDField string
	// UUIDs requires subject ids (and token / subscription ids) to parse as UUIDs.
	UUIDs bool
	// Actions lists the actions the fleet understands.
	Actions []model.Action
	// Keys lists the permitted attribute keys.
	Keys []string
	// Required lists attribute paths each action must carry.
	Required map[model.Action][]string
	// Protos lists the accepted provisioning kinds. Empty accepts any
	// non-empty kind.
	Protos []string
	// ProtoWireguardNeedsWG makes create with tag=Wireguard require wg.keys
	// and wg.address.
	ProtoWireguardNeedsWG bool
}

// Permits reports whether key is an accepted attribute.
func (s Schema) Permits(key string) bool {
	return slices.Contains(s.Keys, key)
}

// Supports reports whether the fleet understands action.
func (s Schema) Supports(action model.Action) bool {
	return slices.Contains(s.Actions, action)
}

// Validate checks e against the schema and returns a *SchemaViolation listing
// every failing field, or nil.
func (s Schema) Validate(tag string, e model.Event) error {
	v := &SchemaViolation{Tag: tag, Action: e.Action}

	switch {
	case e.Action == "":
		v.add("action", "is required")
	case !e.Action.IsValid():
		v.add("action", "unknown action %q", e.Action)
	case !s.Supports(e.Action):
		v.add("action", "%s is not supported by schema %s", e.Action, s.Version)
	}

	if e.SubjectID == "" {
		v.add(s.IDField, "is required")
	} else if s.UUIDs {
		if _, err := uuid.Parse(e.SubjectID); err != nil {
			v.add(s.IDField, "must be a UUID, got %q", e.SubjectID)
		}
	}

	keys := e.Attrs.Keys()
	if e.Action.IsValid() && !e.Action.CarriesAttributes() {
		for _, k := range keys {
			v.add(k, "not allowed for %s", e.Action)
		}
		return v.err()
	}
	if e.Action == model.ActionUpdate && len(keys) == 0 {
		v.add("attributes", "update carries no attributes")
	}
	for _, k := range keys {
		if !s.Permits(k) {
			v.add(k, "not permitted by schema %s", s.Version)
		}
	}

	for _, path := range s.required(e) {
		if !hasPath(e.Attrs, path) {
			v.add(path, "is required for %s", e.Action)
		}
	}

	s.checkValues(v, e.Attrs)
	return v.err()
}

func (s Schema) required(e model.Event) []string {
	req := slices.Clone(s.Required[e.Action])
	if s.ProtoWireguardNeedsWG && e.Action == model.ActionCreate &&
		e.Attrs.Proto != nil && model.ProtoTag(*e.Attrs.Proto).IsWireguard() {
		for _, p := range []string{PathWGKeys, PathWGAddress} {
			if !slices.Contains(req, p) {
				req = append(req, p)
			}
		}
	}
	return req
}

func (s Schema) checkValues(v *SchemaViolation, a model.Attributes) {
	if a.Proto != nil {
		switch {
		case *a.Proto == "":
			v.add(model.KeyProto, "must not be empty")
		case len(s.Protos) > 0 && !slices.Contains(s.Protos, *a.Proto):
			v.add(model.KeyProto, "unknown provisioning kind %q", *a.Proto)
		}
	}
	if a.Limit != nil && *a.Limit < 0 {
		v.add(model.KeyLimit, "must not be negative, got %d", *a.Limit)
	}
	if a.Password != nil && *a.Password == "" {
		v.add(model.KeyPassword, "must not be empty")
	}
	if a.Token != nil {
		s.checkID(v, model.KeyToken, *a.Token)
	}
	if a.SubscriptionID != nil {
		s.checkID(v, model.KeySubscriptionID, *a.SubscriptionID)
	}
	if a.ExpiresAt != nil && a.ExpiresAt.IsZero() {
		v.add(model.KeyExpiresAt, "must be set")
	}
	if a.WG != nil {
		checkWireGuard(v, a.WG)
	}
}

func (s Schema) checkID(v *SchemaViolation, field, id string) {
	if id == "" {
		v.add(field, "must not be empty")
		return
	}
	if s.UUIDs {
		if _, err := uuid.Parse(id); err != nil {
			v.add(field, "must be a UUID, got %q", id)
		}
	}
}

func checkWireGuard(v *SchemaViolation, wg *model.WireGuard) {
	if wg.Keys == nil && wg.Address == nil {
		v.add(model.KeyWG, "must carry keys or address")
	}
	if k := wg.Keys; k != nil {
		if k.Pubkey == "" {
			v.add(PathWGKeys+".pubkey", "is required")
		}
		if k.Privkey == "" {
			v.add(PathWGKeys+".privkey", "is required")
		}
	}
	if addr := wg.Address; addr != nil {
		ip, err := netip.ParseAddr(addr.IP)
		if err != nil || !ip.Is4() {
			v.add(PathWGAddress+".ip", "must be an IPv4 address, got %q", addr.IP)
		}
		if addr.CIDR < 0 || addr.CIDR > 32 {
			v.add(PathWGAddress+".cidr", "must be between 0 and 32, got %d", addr.CIDR)
		}
	}
}

func hasPath(a model.Attributes, path string) bool {
	switch path {
	case PathWGKeys:
		return a.WG != nil && a.WG.Keys != nil
	case PathWGAddress:
		return a.WG != nil && a.WG.Address != nil
	}
	return slices.Contains(a.Keys(), path)
}
