package plan

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/alfredjeanlab/fleetbus/internal/envelope"
	"github.com/alfredjeanlab/fleetbus/internal/model"
	"github.com/alfredjeanlab/fleetbus/internal/scheduler"
)

// LoadTestOptions shapes a synthetic load-test plan.
type LoadTestOptions struct {
	Count    int           // messages per cycle (default 150)
	Tag      string        // fleet tag (default "dev")
	Proto    string        // provisioning kind; default depends on the fleet
	Action   model.Action  // fixed action; empty alternates create and update
	Interval time.Duration // gap between sends and between cycles (default 1s)
	Endpoint string
}

// loadNamespace seeds the stable subject ids of load plans.
var loadNamespace = uuid.MustParse("6f1c1c9e-4a43-4d0e-9b1d-2f3a5b0c7e11")

// LoadTest builds a cyclic plan of opts.Count messages for schema s. Message i
// targets subject user_<i+1> (or a UUID derived from it when the fleet
// requires UUIDs), alternates trial and carries limit 9999 where the fleet
// accepts them.
func LoadTest(s envelope.Schema, opts LoadTestOptions) (*Plan, error) {
	if opts.Count <= 0 {
		opts.Count = 150
	}
	if opts.Tag == "" {
		opts.Tag = envelope.TagDev
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Proto == "" {
		opts.Proto = "vmess"
		if len(s.Protos) > 0 {
			opts.Proto = s.Protos[0]
		}
	}
	actions := []model.Action{model.ActionCreate, model.ActionUpdate}
	if opts.Action != "" {
		if !s.Supports(opts.Action) {
			return nil, fmt.Errorf("loadgen: fleet %s does not support %s", opts.Tag, opts.Action)
		}
		actions = []model.Action{opts.Action}
	}

	interval := opts.Interval
	p := &Plan{
		Name:          "loadgen-" + opts.Tag,
		Endpoint:      opts.Endpoint,
		Mode:          scheduler.Cyclic,
		CycleInterval: &interval,
	}
	for i := 0; i < opts.Count; i++ {
		name := fmt.Sprintf("user_%d", i+1)
		id := name
		if s.UUIDs {
			id = uuid.NewSHA1(loadNamespace, []byte(name)).String()
		}

		action := actions[i%len(actions)]
		var e model.Event
		switch action {
		case model.ActionCreate:
			e = model.NewCreate(id, loadAttributes(s, opts.Proto, i))
		case model.ActionUpdate:
			e = model.NewUpdate(id, loadAttributes(s, opts.Proto, i))
		case model.ActionDelete:
			e = model.NewDelete(id)
		case model.ActionRestore:
			e = model.NewRestore(id)
		case model.ActionInit:
			e = model.NewInit(id)
		}

		delay := opts.Interval
		if i == 0 {
			delay = 0
		}
		p.Append(opts.Tag, delay, e)
	}
	return p, nil
}

func loadAttributes(s envelope.Schema, proto string, i int) model.Attributes {
	var a model.Attributes
	if s.Permits(model.KeyProto) {
		a.Proto = model.String(proto)
	}
	if s.Permits(model.KeyTrial) {
		a.Trial = model.Bool(i%2 == 0)
	}
	if s.Permits(model.KeyLimit) {
		a.Limit = model.Int(9999)
	}
	needsWG := model.ProtoTag(proto).IsWireguard() || slices.Contains(s.Required[model.ActionCreate], envelope.PathWGKeys)
	if s.Permits(model.KeyWG) && needsWG {
		a.WG = loadWireGuard(i)
	}
	if a.IsZero() && s.Permits(model.KeyPassword) {
		a.Password = model.String(fmt.Sprintf("load-%d", i+1))
	}
	return a
}

// loadWireGuard derives stable key material and a /32 in 10.10.0.0/16 for
// message i.
func loadWireGuard(i int) *model.WireGuard {
	priv := sha256.Sum256([]byte(fmt.Sprintf("loadgen-priv-%d", i)))
	pub := sha256.Sum256(priv[:])
	return &model.WireGuard{
		Keys: &model.WireGuardKeys{
			Pubkey:  base64.StdEncoding.EncodeToString(pub[:]),
			Privkey: base64.StdEncoding.EncodeToString(priv[:]),
		},
		Address: &model.WireGuardAddress{
			IP:   fmt.Sprintf("10.10.%d.%d", (i/254)%256, i%254+1),
			CIDR: 32,
		},
	}
}
