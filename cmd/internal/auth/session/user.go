package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Role is the user's authorization role as reported by the backend.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	// RoleViewer is the default for any other or missing role (the backend calls it "user").
	RoleViewer Role = "viewer"
)

// User is the persisted user record.
type User struct {
	Username string `json:"username" validate:"required,max=150"`
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
	FullName string `json:"full_name,omitempty" validate:"max=200"`
	Role     Role   `json:"role,omitempty"`
}

// EffectiveRole normalizes the backend role; unknown roles are viewers.
func (u User) EffectiveRole() Role {
	switch Role(strings.ToLower(strings.TrimSpace(string(u.Role)))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleOperator:
		return RoleOperator
	default:
		return RoleViewer
	}
}

// IsAdmin reports whether the user has the admin role.
func (u User) IsAdmin() bool { return u.EffectiveRole() == RoleAdmin }

// IsOperator reports whether the user may operate detection; admins are operators too.
func (u User) IsOperator() bool {
	r := u.EffectiveRole()
	return r == RoleOperator || r == RoleAdmin
}

// tokenResponse is the body of /auth/login and /auth/refresh.
type tokenResponse struct {
	AccessToken string `json:"access_token" validate:"required"`
	TokenType   string `json:"token_type"`
	User        *User  `json:"user"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateUser(u User) error {
	if err := validate.Struct(u); err != nil {
		return fmt.Errorf("user record: %w", err)
	}
	return nil
}

func encodeUser(u User) (string, error) {
	b, err := json.Marshal(u)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeUser parses and validates a persisted user record.
func decodeUser(raw string) (User, error) {
	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return User{}, fmt.Errorf("user record: %w", err)
	}
	if err := validateUser(u); err != nil {
		return User{}, err
	}
	return u, nil
}
