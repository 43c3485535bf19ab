package model

import (
	"fmt"
	"strings"
	"time"
)

// Role is the global role of a user. It drives the permission matrix and is
// distinct from the team-scoped TeamRole.
type Role string

const (
	RoleAdmin       Role = "ADMIN"
	RoleScrumMaster Role = "SCRUM_MASTER"
	RoleUser        Role = "USER"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleScrumMaster, RoleUser:
		return true
	}
	return false
}

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	if !r.IsValid() {
		return "", fmt.Errorf("invalid role: %q (want admin, scrum_master or user)", s)
	}
	return r, nil
}

type User struct {
	ID          string
	Username    string
	DisplayName string
	Role        Role
	Active      bool
	CreatedAt   time.Time
}

type Session struct {
	Token     string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}
