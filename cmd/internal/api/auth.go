package api

import "context"

// ListUsers lists backend accounts (admin only).
func (c *Client) ListUsers(ctx context.Context) ([]Account, error) {
	var out []Account
	err := c.get(ctx, "/auth/users", nil, &out)
	return out, err
}

// ActiveSessions lists logged-in user sessions (admin only).
func (c *Client) ActiveSessions(ctx context.Context) (ActiveSessions, error) {
	var out ActiveSessions
	err := c.get(ctx, "/auth/sessions/active", nil, &out)
	return out, err
}
