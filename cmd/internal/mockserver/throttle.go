package mockserver

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// failureWindow is a per-key sliding window of failed login attempts.
type failureWindow struct {
	mu     sync.Mutex
	events map[string][]time.Time
	limit  int
	window time.Duration
}

func newFailureWindow(limit int, window time.Duration) *failureWindow {
	return &failureWindow{
		events: make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
}

// Blocked reports whether key has reached the limit at now, and for how long.
func (f *failureWindow) Blocked(key string, now time.Time) (bool, time.Duration) {
	if f == nil || f.limit <= 0 {
		return false, 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.pruneLocked(key, now)
	if len(kept) < f.limit {
		return false, 0
	}
	return true, kept[0].Add(f.window).Sub(now)
}

// Record adds one failure for key at now.
func (f *failureWindow) Record(key string, now time.Time) {
	if f == nil || f.limit <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[key] = append(f.pruneLocked(key, now), now)
}

// Reset forgets key, typically after a successful login.
func (f *failureWindow) Reset(key string) {
	if f == nil {
		return
	}
	f.mu.Lock()
	delete(f.events, key)
	f.mu.Unlock()
}

func (f *failureWindow) pruneLocked(key string, now time.Time) []time.Time {
	cut := now.Add(-f.window)
	src := f.events[key]
	dst := src[:0]
	for _, t := range src {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	if len(dst) == 0 {
		delete(f.events, key)
		return nil
	}
	f.events[key] = dst
	return dst
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(retryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeDetail(w, http.StatusTooManyRequests, "Too many failed login attempts")
}
