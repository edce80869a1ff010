package audit

import (
	"net"
	"strconv"
	"time"
)

// ConnDescriptor carries everything an executor needs to reach one target.
// Credential stays opaque; nothing here is ever logged verbatim.
type ConnDescriptor struct {
	FirewallID FirewallID
	Host       string
	Port       int
	Username   string
	Credential string
	// Timeout overrides the global audit timeout when non-zero.
	Timeout time.Duration
}

// Addr renders host:port for session dialing.
func (d ConnDescriptor) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// RawOutput is the captured outcome of one successful tool invocation.
type RawOutput struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}
