package model

// ProtoTag names the provisioning kind of a connection on the newer fleets.
type ProtoTag string

const (
	ProtoVlessTcpReality   ProtoTag = "VlessTcpReality"
	ProtoVlessGrpcReality  ProtoTag = "VlessGrpcReality"
	ProtoVlessXhttpReality ProtoTag = "VlessXhttpReality"
	ProtoVmess             ProtoTag = "Vmess"
	ProtoShadowsocks       ProtoTag = "Shadowsocks"
	ProtoWireguard         ProtoTag = "Wireguard"
	ProtoHysteria2         ProtoTag = "Hysteria2"
)

// ProtoTags lists every known provisioning kind.
var ProtoTags = []ProtoTag{
	ProtoVlessTcpReality,
	ProtoVlessGrpcReality,
	ProtoVlessXhttpReality,
	ProtoVmess,
	ProtoShadowsocks,
	ProtoWireguard,
	ProtoHysteria2,
}

// IsValid reports whether p is a known provisioning kind.
func (p ProtoTag) IsValid() bool {
	for _, t := range ProtoTags {
		if p == t {
			return true
		}
	}
	return false
}

// IsWireguard reports whether p selects a WireGuard tunnel.
func (p ProtoTag) IsWireguard() bool {
	return p == ProtoWireguard
}
