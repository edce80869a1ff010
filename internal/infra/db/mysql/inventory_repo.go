package mysql

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/williamsouzadelima/strati-audit/internal/domain/audit"
)

// InventoryRepo manages the client and firewall tables.
type InventoryRepo struct {
	db *sql.DB
}

func NewInventoryRepo(db *sql.DB) *InventoryRepo {
	return &InventoryRepo{db: db}
}

func (r *InventoryRepo) CreateClient(ctx context.Context, c *domain.Client) error {
	const q = `
INSERT INTO clients (id, name, description, contact_email, created_at)
VALUES (?,?,?,?,?);
`
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q, c.ID, c.Name, c.Description, c.ContactEmail, created)
	return err
}

func (r *InventoryRepo) GetClient(ctx context.Context, id domain.ClientID) (*domain.Client, error) {
	const q = `
SELECT id, name, description, contact_email, created_at
FROM clients
WHERE id=? LIMIT 1;
`
	var c domain.Client
	var desc sql.NullString
	err := r.db.QueryRowContext(ctx, q, id).Scan(&c.ID, &c.Name, &desc, &c.ContactEmail, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Description = desc.String
	return &c, nil
}

func (r *InventoryRepo) ListClients(ctx context.Context) ([]*domain.Client, error) {
	const q = `
SELECT id, name, description, contact_email, created_at
FROM clients
ORDER BY name ASC;
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Client
	for rows.Next() {
		var c domain.Client
		var desc sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &desc, &c.ContactEmail, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Description = desc.String
		out = append(out, &c)
	}
	return out, rows.Err()
}

// DeleteClient removes the client and its firewalls. Callers guard against
// deleting a client with work in flight.
func (r *InventoryRepo) DeleteClient(ctx context.Context, id domain.ClientID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM firewalls WHERE client_id=?;`, id); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM clients WHERE id=?;`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrClientNotFound
	}
	return nil
}

func (r *InventoryRepo) CreateFirewall(ctx context.Context, f *domain.Firewall) error {
	const q = `
INSERT INTO firewalls
(id, client_id, name, host, port, username, credential, active, timeout_seconds, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?);
`
	created := f.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q,
		f.ID, f.ClientID, f.Name, f.Host, f.Port, f.Username, f.Credential,
		f.Active, f.TimeoutSeconds, created,
	)
	return err
}

func (r *InventoryRepo) GetFirewall(ctx context.Context, id domain.FirewallID) (*domain.Firewall, error) {
	const q = `
SELECT id, client_id, name, host, port, username, credential, active, timeout_seconds, created_at
FROM firewalls
WHERE id=? LIMIT 1;
`
	var f domain.Firewall
	var cred sql.NullString
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&f.ID, &f.ClientID, &f.Name, &f.Host, &f.Port, &f.Username,
		&cred, &f.Active, &f.TimeoutSeconds, &f.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrFirewallNotFound
	}
	if err != nil {
		return nil, err
	}
	f.Credential = cred.String
	return &f, nil
}

func (r *InventoryRepo) UpdateFirewall(ctx context.Context, f *domain.Firewall) error {
	const q = `
UPDATE firewalls
SET name=?, host=?, port=?, username=?, credential=?, active=?, timeout_seconds=?
WHERE id=?;
`
	_, err := r.db.ExecContext(ctx, q,
		f.Name, f.Host, f.Port, f.Username, f.Credential, f.Active, f.TimeoutSeconds, f.ID,
	)
	return err
}

func (r *InventoryRepo) DeleteFirewall(ctx context.Context, id domain.FirewallID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM firewalls WHERE id=?;`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrFirewallNotFound
	}
	return nil
}

func (r *InventoryRepo) ListFirewalls(ctx context.Context, clientID domain.ClientID) ([]*domain.Firewall, error) {
	return r.listFirewalls(ctx, clientID, false)
}

func (r *InventoryRepo) ListActiveFirewalls(ctx context.Context, clientID domain.ClientID) ([]*domain.Firewall, error) {
	return r.listFirewalls(ctx, clientID, true)
}

func (r *InventoryRepo) listFirewalls(ctx context.Context, clientID domain.ClientID, activeOnly bool) ([]*domain.Firewall, error) {
	q := `
SELECT id, client_id, name, host, port, username, credential, active, timeout_seconds, created_at
FROM firewalls
WHERE client_id=?`
	if activeOnly {
		q += ` AND active=1`
	}
	q += ` ORDER BY created_at ASC, id ASC;`

	rows, err := r.db.QueryContext(ctx, q, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Firewall
	for rows.Next() {
		var f domain.Firewall
		var cred sql.NullString
		if err := rows.Scan(
			&f.ID, &f.ClientID, &f.Name, &f.Host, &f.Port, &f.Username,
			&cred, &f.Active, &f.TimeoutSeconds, &f.CreatedAt,
		); err != nil {
			return nil, err
		}
		f.Credential = cred.String
		out = append(out, &f)
	}
	return out, rows.Err()
}
