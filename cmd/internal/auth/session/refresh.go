package session

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenExpiry returns the "exp" claim of a JWT access token. The signature is not checked:
// the client cannot verify it and only uses exp for scheduling.
func tokenExpiry(tok string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// refreshDelay computes when to refresh a token expiring at exp.
func refreshDelay(now, exp time.Time, ahead, minDelay time.Duration) time.Duration {
	d := exp.Sub(now) - ahead
	if d < minDelay {
		d = minDelay
	}
	return d
}

// scheduleRefreshLocked replaces any pending proactive refresh with one for tok.
// m.mu must be held.
func (m *Manager) scheduleRefreshLocked(tok string) {
	m.stopRefreshLocked()
	if m.cfg.RefreshAhead <= 0 {
		return
	}
	exp, ok := tokenExpiry(tok)
	if !ok {
		m.log.Debug("session.refresh.unscheduled", "reason", "no_exp")
		return
	}

	delay := refreshDelay(m.sched.Now(), exp, m.cfg.RefreshAhead, m.cfg.MinRefreshDelay)
	gen := m.refreshGen
	m.refreshTimer = m.sched.AfterFunc(delay, func() { m.runScheduledRefresh(gen) })
	m.log.Debug("session.refresh.scheduled", "in", delay.String())
}

// stopRefreshLocked cancels the pending refresh and invalidates any callback already queued.
// m.mu must be held.
func (m *Manager) stopRefreshLocked() {
	m.refreshGen++
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
}

func (m *Manager) runScheduledRefresh(gen uint64) {
	m.mu.Lock()
	stale := gen != m.refreshGen || m.state != StateAuthenticated
	if !stale {
		m.refreshTimer = nil
	}
	m.mu.Unlock()
	if stale {
		return
	}

	if _, err := m.RefreshToken(context.Background()); err != nil {
		m.log.Warn("session.refresh.scheduled.fail", "err", err)
	}
}
