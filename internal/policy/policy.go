// Package policy decides who may do what in the tracker.
//
// Every role check lives in one declarative table of (role, action,
// resource) grants. Anything not granted is denied, including requests
// from roles the table does not know. Project access, the team-membership
// gate in front of every per-project operation, is evaluated separately by
// ProjectAccess because it depends on data rather than on the role alone.
package policy

import (
	"fmt"

	"github.com/baiirun/backlog/internal/model"
)

// Decision is the outcome of an authorization check.
type Decision int

const (
	// Deny means the action is not permitted.
	Deny Decision = iota

	// Allow means the action is permitted.
	Allow
)

// String returns "allow" or "deny".
func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

type Action string

const (
	ActionCreate        Action = "create"
	ActionEdit          Action = "edit"
	ActionDelete        Action = "delete"
	ActionManageMembers Action = "manage_members"
)

// Resource is either a work item type or a whole entity.
type Resource string

const (
	ResourceProject Resource = "PROJECT"
	ResourceTeam    Resource = "TEAM"
	ResourceUser    Resource = "USER"
)

// ItemResource names the resource for a work item type.
func ItemResource(t model.ItemType) Resource {
	return Resource(t)
}

// Request is one question put to the evaluator. Owned records whether the
// actor created the resource; it is reported in the result but no rule
// grants anything through ownership.
type Request struct {
	Role     model.Role
	Action   Action
	Resource Resource
	Owned    bool
}

// Result describes the outcome of a check along with the request that
// produced it, for logging.
type Result struct {
	Decision Decision
	Request  Request
	Reason   string
}

// Allowed is shorthand for Decision == Allow.
func (r Result) Allowed() bool { return r.Decision == Allow }

// Evaluate checks req against the rule table.
func Evaluate(req Request) Result {
	if !req.Role.IsValid() {
		return Result{Decision: Deny, Request: req, Reason: fmt.Sprintf("unknown role %q", req.Role)}
	}
	if _, ok := grants[Rule{Role: req.Role, Action: req.Action, Resource: req.Resource}]; ok {
		return Result{Decision: Allow, Request: req, Reason: "granted"}
	}
	return Result{
		Decision: Deny,
		Request:  req,
		Reason:   fmt.Sprintf("%s may not %s %s", req.Role, req.Action, req.Resource),
	}
}

// Can answers the work item matrix: may role perform action (create, edit
// or delete) on an item of type t.
func Can(role model.Role, action Action, t model.ItemType) Decision {
	if !t.IsValid() {
		return Deny
	}
	return Evaluate(Request{Role: role, Action: action, Resource: ItemResource(t)}).Decision
}

// CanManage answers entity-level questions about projects, teams and user
// accounts.
func CanManage(role model.Role, action Action, entity Resource) Decision {
	if entity != ResourceProject && entity != ResourceTeam && entity != ResourceUser {
		return Deny
	}
	return Evaluate(Request{Role: role, Action: action, Resource: entity}).Decision
}

// ProjectAccess is the gate in front of every per-project operation.
// Admins always pass. Anyone else needs the project to have a team and to
// be a member of it; a project without a team is admin-only.
func ProjectAccess(role model.Role, project *model.Project, isMember bool) Decision {
	if role == model.RoleAdmin {
		return Allow
	}
	if !role.IsValid() || project == nil || project.TeamID == nil {
		return Deny
	}
	if isMember {
		return Allow
	}
	return Deny
}
