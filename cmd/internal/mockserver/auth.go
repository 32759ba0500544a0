package mockserver

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

type tokenResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	User        publicUser `json:"user"`
}

type activeSessionsResponse struct {
	ActiveSessions int     `json:"active_sessions"`
	Sessions       []login `json:"sessions"`
}

// principal is the authenticated caller of a request.
type principal struct {
	acct   *account
	claims *claims
}

type authedHandler func(http.ResponseWriter, *http.Request, principal)

// authed rejects requests without a live bearer token with 401 {"detail": ...}.
func (s *Server) authed(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeUnauthorized(w, "Not authenticated")
			return
		}
		c, err := s.parseToken(raw)
		if err != nil {
			s.log.Info("mock.auth.reject", "path", r.URL.Path, "err", err)
			writeUnauthorized(w, "Could not validate credentials")
			return
		}
		a, ok := s.accounts[normalizeUsername(c.Subject)]
		if !ok || !a.Active {
			writeUnauthorized(w, "Could not validate credentials")
			return
		}
		next(w, r, principal{acct: a, claims: c})
	}
}

// adminOnly wraps an authenticated handler with a role check.
func adminOnly(next authedHandler) authedHandler {
	return func(w http.ResponseWriter, r *http.Request, p principal) {
		if !p.acct.isAdmin() {
			writeDetail(w, http.StatusForbidden, "Not enough permissions")
			return
		}
		next(w, r, p)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid form body")
		return
	}
	username := strings.TrimSpace(r.PostForm.Get("username"))
	password := r.PostForm.Get("password")
	if username == "" || password == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "username and password are required")
		return
	}

	key := normalizeUsername(username)
	now := s.now()
	if blocked, retry := s.failures.Blocked(key, now); blocked {
		s.log.Warn("mock.login.throttled", "username", key)
		writeRateLimited(w, retry)
		return
	}

	a, ok := s.accounts[key]
	hash := s.dummyHash
	if ok {
		hash = a.hash
	}
	// Unknown users are checked against the dummy hash.
	err := bcrypt.CompareHashAndPassword(hash, []byte(password))
	if !ok || err != nil {
		s.failures.Record(key, now)
		s.log.Info("mock.login.fail", "username", key)
		writeUnauthorized(w, "Incorrect username or password")
		return
	}
	if !a.Active {
		writeDetail(w, http.StatusBadRequest, "Inactive user")
		return
	}
	s.failures.Reset(key)

	s.writeToken(w, a)
	s.log.Info("mock.login.ok", "username", a.Username, "role", a.Role)
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request, p principal) {
	s.revoke(p.claims.ID)
	s.log.Info("mock.logout", "username", p.acct.Username)
	writeJSON(w, http.StatusOK, message{Message: "Successfully logged out"})
}

// handleRefresh rotates the caller's token; the presented one stops working.
func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request, p principal) {
	s.revoke(p.claims.ID)
	s.writeToken(w, p.acct)
	s.log.Info("mock.refresh", "username", p.acct.Username)
}

func (s *Server) writeToken(w http.ResponseWriter, a *account) {
	tok, err := s.issueToken(a)
	if err != nil {
		s.log.Error("mock.token.issue_failed", "err", err)
		writeDetail(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: tok, TokenType: "bearer", User: a.public()})
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, p principal) {
	writeJSON(w, http.StatusOK, p.acct.public())
}

func (s *Server) handleUsers(w http.ResponseWriter, _ *http.Request, _ principal) {
	out := make([]accountView, 0, len(seedAccounts))
	for _, seed := range seedAccounts {
		a := s.accounts[normalizeUsername(seed.Username)]
		out = append(out, accountView{publicUser: a.public(), IsActive: a.Active})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleActiveSessions(w http.ResponseWriter, _ *http.Request, _ principal) {
	logins := s.activeLogins()
	writeJSON(w, http.StatusOK, activeSessionsResponse{ActiveSessions: len(logins), Sessions: logins})
}
