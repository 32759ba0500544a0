// Package stream is the analytics stream client: one duplex websocket connection per
// analytics session, with keep-alive pings and bounded fixed-delay reconnects.
//
// State machine:
//
//	Idle -> Connecting -> Open
//	Open | Connecting -> Reconnecting -> Connecting ...   (unsolicited close, budget left)
//	Open | Connecting -> Failed                          (unsolicited close, budget spent)
//	Open | Connecting | Reconnecting -> Closing -> Idle  (Disconnect)
//
// Failed is terminal for an instance; build a new Client to try again.
//
// Timers (keep-alive and reconnect) run on an injected clock.Scheduler. Every connection
// gets a generation number; timers, read loops and dials that belong to an older generation
// are ignored, so a Disconnect always wins over a pending reconnect.
package stream
