package mockserver

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// account is one seeded backend user.
type account struct {
	Username string
	Email    string
	FullName string
	Role     string
	Active   bool

	hash []byte
}

type seedAccount struct {
	account
	password string
}

// Seeded accounts. "user" is the backend's name for the viewer role.
var seedAccounts = []seedAccount{
	{account: account{Username: "admin", Email: "admin@example.com", FullName: "Administrator", Role: "admin", Active: true}, password: "admin123"},
	{account: account{Username: "operator", Email: "operator@example.com", FullName: "Line Operator", Role: "operator", Active: true}, password: "operator123"},
	{account: account{Username: "viewer", Email: "viewer@example.com", FullName: "Read Only", Role: "user", Active: true}, password: "viewer123"},
	{account: account{Username: "disabled", Email: "disabled@example.com", FullName: "Disabled Account", Role: "user", Active: false}, password: "disabled123"},
}

func hashAccounts(cost int) (map[string]*account, error) {
	out := make(map[string]*account, len(seedAccounts))
	for _, s := range seedAccounts {
		h, err := bcrypt.GenerateFromPassword([]byte(s.password), cost)
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", s.Username, err)
		}
		a := s.account
		a.hash = h
		out[normalizeUsername(a.Username)] = &a
	}
	return out, nil
}

func normalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// publicUser is the user object embedded in token responses and /auth/me.
type publicUser struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

// accountView is one entry of /auth/users.
type accountView struct {
	publicUser
	IsActive bool `json:"is_active"`
}

func (a *account) public() publicUser {
	return publicUser{Username: a.Username, Email: a.Email, FullName: a.FullName, Role: a.Role}
}

func (a *account) isAdmin() bool { return a.Role == "admin" }
