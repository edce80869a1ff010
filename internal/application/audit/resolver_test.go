package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/williamsouzadelima/strati-audit/internal/domain/audit"
)

func activeFirewall() *domain.Firewall {
	return &domain.Firewall{
		ID:         "fw-1",
		ClientID:   "c-1",
		Name:       "edge-01",
		Host:       "10.0.0.1",
		Port:       4444,
		Username:   "auditor",
		Credential: "secret",
		Active:     true,
	}
}

func TestResolverBuildsDescriptor(t *testing.T) {
	fw := activeFirewall()
	fw.TimeoutSeconds = 120

	desc, err := Resolver{DefaultPort: DefaultFirewallPort}.Resolve(fw)
	require.NoError(t, err)
	require.Equal(t, fw.ID, desc.FirewallID)
	require.Equal(t, "10.0.0.1", desc.Host)
	require.Equal(t, 4444, desc.Port)
	require.Equal(t, "auditor", desc.Username)
	require.Equal(t, "secret", desc.Credential)
	require.Equal(t, 120*time.Second, desc.Timeout)
	require.Equal(t, "10.0.0.1:4444", desc.Addr())
}

func TestResolverDefaultsPort(t *testing.T) {
	fw := activeFirewall()
	fw.Port = 0

	desc, err := Resolver{DefaultPort: DefaultFirewallPort}.Resolve(fw)
	require.NoError(t, err)
	require.Equal(t, DefaultFirewallPort, desc.Port)

	// zero-valued resolver still falls back to the package default
	desc, err = Resolver{}.Resolve(fw)
	require.NoError(t, err)
	require.Equal(t, DefaultFirewallPort, desc.Port)
}

func TestResolverZeroTimeoutMeansGlobal(t *testing.T) {
	desc, err := Resolver{}.Resolve(activeFirewall())
	require.NoError(t, err)
	require.Zero(t, desc.Timeout)
}

func TestResolverRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.Firewall)
	}{
		{"inactive", func(fw *domain.Firewall) { fw.Active = false }},
		{"empty host", func(fw *domain.Firewall) { fw.Host = "  " }},
		{"empty username", func(fw *domain.Firewall) { fw.Username = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fw := activeFirewall()
			tc.mutate(fw)

			_, err := Resolver{}.Resolve(fw)
			require.Error(t, err)

			var re *domain.ResolutionError
			require.True(t, errors.As(err, &re))
			// resolution failures are permanent, never retried
			require.False(t, domain.KindOf(err).Transient())
		})
	}

	_, err := Resolver{}.Resolve(nil)
	require.Error(t, err)
}
