package mockserver

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"argus/cmd/identity/ids"

	"github.com/golang-jwt/jwt/v5"
)

// claims are the access token claims. The subject is the username.
type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// login is one live access token, keyed by its jti.
type login struct {
	Username  string    `json:"username"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

var errTokenRevoked = errors.New("token revoked")

func (s *Server) issueToken(a *account) (string, error) {
	now := s.now().UTC()
	jti, err := ids.NewULID(now)
	if err != nil {
		return "", err
	}
	exp := now.Add(s.cfg.TokenTTL)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: a.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.Username,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := tok.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	s.mu.Lock()
	s.logins[jti] = login{Username: a.Username, IssuedAt: now, ExpiresAt: exp}
	s.mu.Unlock()
	return signed, nil
}

// parseToken verifies signature, expiry and that the token has not been revoked.
func (s *Server) parseToken(raw string) (*claims, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return []byte(s.cfg.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	_, live := s.logins[c.ID]
	s.mu.Unlock()
	if !live {
		return nil, errTokenRevoked
	}
	return &c, nil
}

func (s *Server) revoke(jti string) {
	s.mu.Lock()
	delete(s.logins, jti)
	s.mu.Unlock()
}

// activeLogins prunes expired entries and returns the rest ordered by issue time.
func (s *Server) activeLogins() []login {
	now := s.now()

	s.mu.Lock()
	out := make([]login, 0, len(s.logins))
	for jti, l := range s.logins {
		if !l.ExpiresAt.After(now) {
			delete(s.logins, jti)
			continue
		}
		out = append(out, l)
	}
	s.mu.Unlock()

	slices.SortStableFunc(out, func(a, b login) int { return a.IssuedAt.Compare(b.IssuedAt) })
	return out
}
