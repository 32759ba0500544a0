package stream

import (
	"encoding/json"
	"fmt"
	"sync"

	v1 "argus/shared/contracts/stream/v1"
)

// EventKind names a subscriber event. The vocabulary is closed.
type EventKind string

const (
	EventFrame      EventKind = "frame"
	EventStats      EventKind = "stats"
	EventEvent      EventKind = "event"
	EventFPS        EventKind = "fps"
	EventConnect    EventKind = "connect"
	EventDisconnect EventKind = "disconnect"
	EventError      EventKind = "error"
)

// Kinds lists every valid EventKind.
var Kinds = []EventKind{EventFrame, EventStats, EventEvent, EventFPS, EventConnect, EventDisconnect, EventError}

func (k EventKind) valid() bool {
	for _, v := range Kinds {
		if k == v {
			return true
		}
	}
	return false
}

// Event is delivered to handlers.
//   - frame: Frame is set.
//   - stats, event, fps: Data holds the raw payload.
//   - error: Err is set.
//   - connect, disconnect: no payload.
type Event struct {
	Kind  EventKind
	Frame v1.Frame
	Data  json.RawMessage
	Err   error
}

// Statistics decodes a stats payload.
func (e Event) Statistics() (v1.Statistics, error) {
	var s v1.Statistics
	if e.Kind != EventStats {
		return s, fmt.Errorf("not a stats event: %s", e.Kind)
	}
	err := json.Unmarshal(e.Data, &s)
	return s, err
}

// Detection decodes a detection event payload.
func (e Event) Detection() (v1.DetectionEvent, error) {
	var d v1.DetectionEvent
	if e.Kind != EventEvent {
		return d, fmt.Errorf("not a detection event: %s", e.Kind)
	}
	err := json.Unmarshal(e.Data, &d)
	return d, err
}

// FPS decodes an fps payload (a bare number).
func (e Event) FPS() (float64, error) {
	if e.Kind != EventFPS {
		return 0, fmt.Errorf("not an fps event: %s", e.Kind)
	}
	var f float64
	err := json.Unmarshal(e.Data, &f)
	return f, err
}

// Handler receives events. Handlers of one client never run concurrently and see
// events in the order the client produced them. A handler may call back into the
// client; events it causes are delivered after it returns. Handlers must not block for long.
type Handler func(Event)

// Handle identifies one registration.
type Handle uint64

type registration struct {
	h  Handle
	fn Handler
}

// registry is an ordered map from kind to handle-identified handlers, plus
// the delivery queue that serializes handler calls.
type registry struct {
	mu     sync.Mutex
	next   Handle
	byKind map[EventKind][]registration
	kindOf map[Handle]EventKind

	qmu      sync.Mutex
	queue    []Event
	draining bool
}

func newRegistry() *registry {
	return &registry{
		byKind: make(map[EventKind][]registration),
		kindOf: make(map[Handle]EventKind),
	}
}

func (r *registry) on(kind EventKind, fn Handler) (Handle, error) {
	if !kind.valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownEventKind, kind)
	}
	if fn == nil {
		return 0, fmt.Errorf("%w: nil handler", ErrConfig)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	h := r.next
	r.byKind[kind] = append(r.byKind[kind], registration{h: h, fn: fn})
	r.kindOf[h] = kind
	return h, nil
}

func (r *registry) off(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind, ok := r.kindOf[h]
	if !ok {
		return false
	}
	delete(r.kindOf, h)

	regs := r.byKind[kind]
	for i, reg := range regs {
		if reg.h == h {
			r.byKind[kind] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	return true
}

// handlers returns a snapshot in registration order.
func (r *registry) handlers(kind EventKind) []Handler {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.byKind[kind]
	out := make([]Handler, len(regs))
	for i, reg := range regs {
		out[i] = reg.fn
	}
	return out
}

// enqueue appends ev without delivering it. Callers hold the client lock so
// the queue order matches the order of state transitions.
func (r *registry) enqueue(ev Event) {
	r.qmu.Lock()
	r.queue = append(r.queue, ev)
	r.qmu.Unlock()
}

// drain delivers queued events. Only one goroutine drains at a time; a caller
// that finds a drain in progress returns and leaves its events to that drainer.
func (r *registry) drain() {
	r.qmu.Lock()
	if r.draining {
		r.qmu.Unlock()
		return
	}
	r.draining = true
	for len(r.queue) > 0 {
		ev := r.queue[0]
		r.queue[0] = Event{}
		r.queue = r.queue[1:]
		r.qmu.Unlock()

		for _, fn := range r.handlers(ev.Kind) {
			fn(ev)
		}

		r.qmu.Lock()
	}
	r.draining = false
	r.qmu.Unlock()
}

func (r *registry) emit(ev Event) {
	r.enqueue(ev)
	r.drain()
}
