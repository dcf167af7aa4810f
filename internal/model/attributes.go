package model

import (
	"fmt"
	"time"
)

// Wire keys of the optional attributes.
const (
	KeyProto          = "tag"
	KeyTrial          = "trial"
	KeyLimit          = "limit"
	KeyPassword       = "password"
	KeyWG             = "wg"
	KeyToken          = "token"
	KeyExpiresAt      = "expires_at"
	KeySubscriptionID = "subscription_id"
)

// AttributeKeys lists every attribute key in wire order.
var AttributeKeys = []string{
	KeyProto, KeyTrial, KeyLimit, KeyPassword, KeyWG, KeyToken, KeyExpiresAt, KeySubscriptionID,
}

// Attributes holds the optional fields of an Event. A nil field is absent on
// the wire, which means "leave unchanged" for update and "fleet default" for
// create. Field order here is the encoded order.
type Attributes struct {
	Proto          *string    `json:"tag,omitempty"`
	Trial          *bool      `json:"trial,omitempty"`
	Limit          *int64     `json:"limit,omitempty"`
	Password       *string    `json:"password,omitempty"`
	WG             *WireGuard `json:"wg,omitempty"`
	Token          *string    `json:"token,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	SubscriptionID *string    `json:"subscription_id,omitempty"`
}

// Keys returns the wire keys of the present attributes, in wire order.
func (a Attributes) Keys() []string {
	var keys []string
	if a.Proto != nil {
		keys = append(keys, KeyProto)
	}
	if a.Trial != nil {
		keys = append(keys, KeyTrial)
	}
	if a.Limit != nil {
		keys = append(keys, KeyLimit)
	}
	if a.Password != nil {
		keys = append(keys, KeyPassword)
	}
	if a.WG != nil {
		keys = append(keys, KeyWG)
	}
	if a.Token != nil {
		keys = append(keys, KeyToken)
	}
	if a.ExpiresAt != nil {
		keys = append(keys, KeyExpiresAt)
	}
	if a.SubscriptionID != nil {
		keys = append(keys, KeySubscriptionID)
	}
	return keys
}

// IsZero reports whether no attribute is present.
func (a Attributes) IsZero() bool {
	return len(a.Keys()) == 0
}

// WireGuard carries tunnel parameters for WireGuard connections.
type WireGuard struct {
	Keys    *WireGuardKeys    `json:"keys,omitempty"`
	Address *WireGuardAddress `json:"address,omitempty"`
}

// WireGuardKeys is a base64-encoded key pair.
type WireGuardKeys struct {
	Pubkey  string `json:"pubkey"`
	Privkey string `json:"privkey"`
}

// WireGuardAddress is the tunnel address assigned to a peer.
type WireGuardAddress struct {
	IP   string `json:"ip"`
	CIDR int    `json:"cidr"`
}

func (a WireGuardAddress) String() string {
	return fmt.Sprintf("%s/%d", a.IP, a.CIDR)
}

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// Int returns a pointer to v.
func Int(v int64) *int64 { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }

// Time returns a pointer to v.
func Time(v time.Time) *time.Time { return &v }
