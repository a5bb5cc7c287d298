// Package host describes the remote machines a run targets and the roles
// that group them.
package host

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/rileyhilliard/fleetrun/internal/errors"
)

// DefaultPort is the SSH port used when a host spec doesn't give one.
const DefaultPort = 22

// Host identifies a remote machine and the account used to log in.
// Two hosts are the same machine when their Key is equal; the port is
// connection detail only.
type Host struct {
	Username string
	Hostname string
	Port     int
}

// Key is the comparable identity of a Host. Use it for map keys.
type Key struct {
	Username string
	Hostname string
}

// Key returns the identity of h.
func (h Host) Key() Key {
	return Key{Username: h.Username, Hostname: h.Hostname}
}

// Equal reports whether h and other are the same user on the same machine.
func (h Host) Equal(other Host) bool {
	return h.Key() == other.Key()
}

// Address returns the host:port string for dialing.
func (h Host) Address() string {
	port := h.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(h.Hostname, strconv.Itoa(port))
}

// String renders user@host, with :port when it isn't the default.
func (h Host) String() string {
	s := h.Hostname
	if h.Username != "" {
		s = h.Username + "@" + s
	}
	if h.Port != 0 && h.Port != DefaultPort {
		s += ":" + strconv.Itoa(h.Port)
	}
	return s
}

func (k Key) String() string {
	return k.Username + "@" + k.Hostname
}

// Parse reads a host spec of the form [user@]hostname[:port].
// defaultUser is used when the spec has no user part.
func Parse(spec, defaultUser string) (Host, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Host{}, errors.New(errors.ErrConfig,
			"Empty host spec",
			"Use the form user@hostname[:port]")
	}

	h := Host{Username: defaultUser, Port: DefaultPort}
	rest := spec
	if at := strings.LastIndex(rest, "@"); at != -1 {
		h.Username = rest[:at]
		rest = rest[at+1:]
	}

	portStr := ""
	switch {
	case strings.HasPrefix(rest, "["):
		// Bracketed IPv6 literal, optionally followed by a port.
		if strings.HasSuffix(rest, "]") {
			rest = rest[1 : len(rest)-1]
			break
		}
		hostname, port, err := net.SplitHostPort(rest)
		if err != nil {
			return Host{}, errors.New(errors.ErrConfig,
				fmt.Sprintf("'%s' has a malformed IPv6 address", spec),
				"Use the form user@[address]:port")
		}
		rest, portStr = hostname, port
	case strings.Contains(rest, "]"):
		return Host{}, errors.New(errors.ErrConfig,
			fmt.Sprintf("'%s' has a malformed IPv6 address", spec),
			"Use the form user@[address]:port")
	default:
		if colon := strings.LastIndex(rest, ":"); colon != -1 {
			portStr = rest[colon+1:]
			rest = rest[:colon]
		}
	}
	if portStr != "" || strings.HasSuffix(spec, ":") {
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return Host{}, errors.New(errors.ErrConfig,
				fmt.Sprintf("'%s' has an invalid port '%s'", spec, portStr),
				"Ports must be a number between 1 and 65535")
		}
		h.Port = port
	}

	if rest == "" {
		return Host{}, errors.New(errors.ErrConfig,
			fmt.Sprintf("'%s' is missing a hostname", spec),
			"Use the form user@hostname[:port]")
	}
	if h.Username == "" {
		return Host{}, errors.New(errors.ErrConfig,
			fmt.Sprintf("'%s' is missing a username", spec),
			"Use the form user@hostname[:port]")
	}
	h.Hostname = rest
	return h, nil
}

// CurrentUser returns the local login name, used as the default remote user.
func CurrentUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "root"
}
