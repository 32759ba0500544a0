// Package api is the typed REST client for the analytics backend: detection sessions,
// Jetson devices and the admin side of auth.
//
// Every call goes through the injected authenticated transport, so bearer injection and
// the 401 forced-logout path apply uniformly. Request payloads are validated before they
// leave the process; responses are decoded as-is.
package api
