package audit

import (
	"strings"
	"time"

	domain "github.com/williamsouzadelima/strati-audit/internal/domain/audit"
)

// DefaultFirewallPort is the admin port the audit tool talks to when a
// target does not set its own.
const DefaultFirewallPort = 4444

// Resolver turns a firewall entity into a connection descriptor.
// Pure lookup and transform, no side effects.
type Resolver struct {
	DefaultPort int
}

// Resolve validates the target and builds the descriptor. Inactive or
// incomplete firewalls fail with a ResolutionError, never retried.
func (r Resolver) Resolve(fw *domain.Firewall) (domain.ConnDescriptor, error) {
	if fw == nil {
		return domain.ConnDescriptor{}, &domain.ResolutionError{Reason: "firewall is nil"}
	}
	if !fw.Active {
		return domain.ConnDescriptor{}, &domain.ResolutionError{FirewallID: fw.ID, Reason: "firewall is inactive"}
	}
	if strings.TrimSpace(fw.Host) == "" {
		return domain.ConnDescriptor{}, &domain.ResolutionError{FirewallID: fw.ID, Reason: "host is empty"}
	}
	if strings.TrimSpace(fw.Username) == "" {
		return domain.ConnDescriptor{}, &domain.ResolutionError{FirewallID: fw.ID, Reason: "username is empty"}
	}

	port := fw.Port
	if port <= 0 {
		port = r.DefaultPort
	}
	if port <= 0 {
		port = DefaultFirewallPort
	}

	desc := domain.ConnDescriptor{
		FirewallID: fw.ID,
		Host:       fw.Host,
		Port:       port,
		Username:   fw.Username,
		Credential: fw.Credential,
	}
	if fw.TimeoutSeconds > 0 {
		desc.Timeout = time.Duration(fw.TimeoutSeconds) * time.Second
	}
	return desc, nil
}
