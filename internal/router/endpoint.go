package router

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Endpoint is a bindable pub/sub address.
type Endpoint struct {
	Host string
	Port int
}

// ParseEndpoint accepts tcp://host:port, nats://host:port or host:port. A
// host of "*" or "" binds every interface; port 0 picks a free port.
func ParseEndpoint(s string) (Endpoint, error) {
	raw := s
	if scheme, rest, ok := strings.Cut(s, "://"); ok {
		switch scheme {
		case "tcp", "nats":
			s = rest
		default:
			return Endpoint{}, fmt.Errorf("endpoint %q: unsupported scheme %q", raw, scheme)
		}
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint %q: %w", raw, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("endpoint %q: invalid port %q", raw, portStr)
	}
	if host == "*" || host == "" {
		host = "0.0.0.0"
	}
	return Endpoint{Host: host, Port: port}, nil
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return "tcp://" + e.Address()
}

// URL returns the address subscribers connect to.
func (e Endpoint) URL() string {
	host := e.Host
	if host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return "nats://" + net.JoinHostPort(host, strconv.Itoa(e.Port))
}
