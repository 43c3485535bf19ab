package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "ACTIVE"
	ProjectArchived ProjectStatus = "ARCHIVED"
)

func (s ProjectStatus) IsValid() bool {
	return s == ProjectActive || s == ProjectArchived
}

var projectKeyRe = regexp.MustCompile(`^[A-Z][A-Z0-9]{1,9}$`)

// NormalizeProjectKey upper-cases key and checks it is 2-10 characters of
// letters and digits starting with a letter.
func NormalizeProjectKey(key string) (string, error) {
	k := strings.ToUpper(strings.TrimSpace(key))
	if !projectKeyRe.MatchString(k) {
		return "", fmt.Errorf("invalid project key: %q (2-10 letters or digits, starting with a letter)", key)
	}
	return k, nil
}

// Project groups work items under a stable key. A nil TeamID makes the
// project reachable by admins only.
type Project struct {
	ID          string
	Key         string
	Name        string
	Description string
	TeamID      *string
	Status      ProjectStatus
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProjectPatch updates a project. An empty TeamID detaches the team.
type ProjectPatch struct {
	Name        *string
	Description *string
	TeamID      *string
	Status      *ProjectStatus
}

type TeamRole string

const (
	TeamRoleLead   TeamRole = "LEAD"
	TeamRoleMember TeamRole = "MEMBER"
)

func (r TeamRole) IsValid() bool {
	return r == TeamRoleLead || r == TeamRoleMember
}

type Team struct {
	ID        string
	Name      string
	CreatedBy string
	CreatedAt time.Time
}

type TeamMember struct {
	TeamID   string
	UserID   string
	Username string
	Role     TeamRole
	JoinedAt time.Time
}
