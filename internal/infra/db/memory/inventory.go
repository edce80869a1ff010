package memory

import (
	"context"
	"sort"
	"time"

	domain "github.com/williamsouzadelima/strati-audit/internal/domain/audit"
)

func (s *Store) CreateClient(ctx context.Context, c *domain.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.clients[cp.ID] = &cp
	return nil
}

func (s *Store) GetClient(ctx context.Context, id domain.ClientID) (*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, domain.ErrClientNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ListClients(ctx context.Context) ([]*domain.Client, error) {
	s.mu.RLock()
	out := make([]*domain.Client, 0, len(s.clients))
	for _, c := range s.clients {
		cp := *c
		out = append(out, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out, nil
}

func (s *Store) DeleteClient(ctx context.Context, id domain.ClientID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[id]; !ok {
		return domain.ErrClientNotFound
	}
	delete(s.clients, id)
	for fid, f := range s.fws {
		if f.ClientID == id {
			delete(s.fws, fid)
		}
	}
	return nil
}

func (s *Store) CreateFirewall(ctx context.Context, f *domain.Firewall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *f
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.fws[cp.ID] = &cp
	return nil
}

func (s *Store) GetFirewall(ctx context.Context, id domain.FirewallID) (*domain.Firewall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fws[id]
	if !ok {
		return nil, domain.ErrFirewallNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *Store) UpdateFirewall(ctx context.Context, f *domain.Firewall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.fws[f.ID]; !ok {
		return domain.ErrFirewallNotFound
	}
	cp := *f
	s.fws[f.ID] = &cp
	return nil
}

func (s *Store) DeleteFirewall(ctx context.Context, id domain.FirewallID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.fws[id]; !ok {
		return domain.ErrFirewallNotFound
	}
	delete(s.fws, id)
	return nil
}

func (s *Store) ListFirewalls(ctx context.Context, clientID domain.ClientID) ([]*domain.Firewall, error) {
	return s.listFirewalls(clientID, false), nil
}

func (s *Store) ListActiveFirewalls(ctx context.Context, clientID domain.ClientID) ([]*domain.Firewall, error) {
	return s.listFirewalls(clientID, true), nil
}

func (s *Store) listFirewalls(clientID domain.ClientID, activeOnly bool) []*domain.Firewall {
	s.mu.RLock()
	var out []*domain.Firewall
	for _, f := range s.fws {
		if f.ClientID != clientID {
			continue
		}
		if activeOnly && !f.Active {
			continue
		}
		cp := *f
		out = append(out, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out
}
