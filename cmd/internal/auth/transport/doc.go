// Package transport is the authenticated REST client shared by every component that talks
// to the analytics backend.
//
// A Client signs requests with the armed bearer credential and turns the first 401 seen
// for that credential into a single authorization-expired event. Later 401s for the same
// (already disarmed) credential only return errors. The client never navigates or touches
// persisted state itself; the session manager subscribes and performs the forced logout.
package transport
