// Package session is the client-side session manager.
//
// It owns the single source of truth for who is logged in: it restores a persisted
// credential on startup, exchanges username/password for a bearer token, refreshes
// and revokes it, and keeps the authenticated transport armed with the current token.
//
// State machine: Uninitialized -> Restoring -> Authenticated | Unauthenticated.
// Login moves Unauthenticated -> Authenticated. Logout, failed refresh and an
// authorization-expired event from the transport move back to Unauthenticated.
package session
