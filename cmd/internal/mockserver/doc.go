// Package mockserver is an in-memory stand-in for the detection backend.
//
// It serves the REST surface under /api/v1 (auth, detection sessions, devices, health)
// and the analytics websocket at /api/v1/ws/{session_id}. Tokens are HS256 JWTs that
// stay valid until they expire or their holder logs out or refreshes. State lives in
// process memory and is lost on restart.
package mockserver
