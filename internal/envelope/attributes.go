package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/alfredjeanlab/fleetbus/internal/model"
)

// ParseAttributes converts loosely-typed attributes, as produced by plan file
// and CLI decoders, into model.Attributes. Conversion is strict: unknown keys,
// nulls and non-integer limits are reported, never coerced.
func ParseAttributes(raw map[string]any) (model.Attributes, error) {
	var (
		a model.Attributes
		v = &SchemaViolation{}
	)

	for _, key := range sortedKeys(raw) {
		val := raw[key]
		if val == nil {
			v.add(key, "must not be null")
			continue
		}
		switch key {
		case model.KeyProto:
			a.Proto = parseString(v, key, val)
		case model.KeyTrial:
			b, ok := val.(bool)
			if !ok {
				v.add(key, "must be a boolean, got %T", val)
				continue
			}
			a.Trial = &b
		case model.KeyLimit:
			if n, ok := parseInt(v, key, val); ok {
				a.Limit = &n
			}
		case model.KeyPassword:
			a.Password = parseString(v, key, val)
		case model.KeyToken:
			a.Token = parseString(v, key, val)
		case model.KeySubscriptionID:
			a.SubscriptionID = parseString(v, key, val)
		case model.KeyExpiresAt:
			switch t := val.(type) {
			case time.Time:
				a.ExpiresAt = &t
			case string:
				parsed, err := time.Parse(time.RFC3339, t)
				if err != nil {
					v.add(key, "must be an RFC 3339 timestamp, got %q", t)
					continue
				}
				a.ExpiresAt = &parsed
			default:
				v.add(key, "must be a timestamp, got %T", val)
			}
		case model.KeyWG:
			a.WG = parseWireGuard(v, val)
		default:
			v.add(key, "unknown attribute")
		}
	}

	if err := v.err(); err != nil {
		return model.Attributes{}, err
	}
	return a, nil
}

func parseWireGuard(v *SchemaViolation, val any) *model.WireGuard {
	m, ok := val.(map[string]any)
	if !ok {
		v.add(model.KeyWG, "must be an object, got %T", val)
		return nil
	}
	wg := &model.WireGuard{}
	for _, key := range sortedKeys(m) {
		path := model.KeyWG + "." + key
		sub, ok := m[key].(map[string]any)
		if !ok {
			v.add(path, "must be an object, got %T", m[key])
			continue
		}
		switch key {
		case "keys":
			k := &model.WireGuardKeys{}
			for _, f := range sortedKeys(sub) {
				switch f {
				case "pubkey":
					if s := parseString(v, path+"."+f, sub[f]); s != nil {
						k.Pubkey = *s
					}
				case "privkey":
					if s := parseString(v, path+"."+f, sub[f]); s != nil {
						k.Privkey = *s
					}
				default:
					v.add(path+"."+f, "unknown attribute")
				}
			}
			wg.Keys = k
		case "address":
			addr := &model.WireGuardAddress{}
			for _, f := range sortedKeys(sub) {
				switch f {
				case "ip":
					if s := parseString(v, path+"."+f, sub[f]); s != nil {
						addr.IP = *s
					}
				case "cidr":
					if n, ok := parseInt(v, path+"."+f, sub[f]); ok {
						addr.CIDR = int(n)
					}
				default:
					v.add(path+"."+f, "unknown attribute")
				}
			}
			wg.Address = addr
		default:
			v.add(path, "unknown attribute")
		}
	}
	return wg
}

func parseString(v *SchemaViolation, key string, val any) *string {
	s, ok := val.(string)
	if !ok {
		v.add(key, "must be a string, got %T", val)
		return nil
	}
	return &s
}

func parseInt(v *SchemaViolation, key string, val any) (int64, bool) {
	switch n := val.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) <= math.MaxInt64 {
			return int64(n), true
		}
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n), true
		}
	case json.Number:
		i, err := n.Int64()
		if err == nil {
			return i, true
		}
		v.add(key, "must be an integer, got %s", n)
		return 0, false
	case float32, float64:
		v.add(key, "must be an integer, got %v", n)
		return 0, false
	default:
		v.add(key, "must be an integer, got %T", val)
		return 0, false
	}
	v.add(key, "integer out of range: %v", val)
	return 0, false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParseAttributesJSON parses a JSON object of attributes, keeping numbers
// exact so integer checks are not fooled by float decoding.
func ParseAttributesJSON(data []byte) (model.Attributes, error) {
	if len(data) == 0 {
		return model.Attributes{}, nil
	}
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return model.Attributes{}, fmt.Errorf("parsing attributes: %w", err)
	}
	return ParseAttributes(raw)
}
