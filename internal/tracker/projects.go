package tracker

import (
	"context"
	"errors"

	"github.com/baiirun/backlog/internal/auth"
	"github.com/baiirun/backlog/internal/db"
	"github.com/baiirun/backlog/internal/model"
	"github.com/baiirun/backlog/internal/policy"
)

// ProjectInput describes a new project. Team takes a team ID or name and
// may be empty, which leaves the project to admins.
type ProjectInput struct {
	Key         string
	Name        string
	Description string
	Team        string
}

// CreateProject creates a project owned by the actor.
func (t *Tracker) CreateProject(ctx context.Context, actor auth.Actor, in ProjectInput) (*model.Project, error) {
	const op = "create project"
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := t.authorize(op, actor, policy.Request{Action: policy.ActionCreate, Resource: policy.ResourceProject}); err != nil {
		return nil, err
	}

	p := &model.Project{
		Key:         in.Key,
		Name:        in.Name,
		Description: in.Description,
		CreatedBy:   actor.UserID,
	}
	if in.Team != "" {
		team, err := t.findTeam(ctx, in.Team)
		if err != nil {
			return nil, classify(op, "team", in.Team, err)
		}
		p.TeamID = &team.ID
	}

	if err := t.store.CreateProject(ctx, p); err != nil {
		return nil, classify(op, "project", in.Key, err)
	}
	t.logCreated("project", p.ID, actor)
	return p, nil
}

// UpdateProject changes a project's name, description, team or status. The
// actor must be able to enter the project. A non-empty patch.TeamID may be
// a team ID or name.
func (t *Tracker) UpdateProject(ctx context.Context, actor auth.Actor, ref string, patch model.ProjectPatch) (*model.Project, error) {
	const op = "update project"
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := t.authorize(op, actor, policy.Request{Action: policy.ActionEdit, Resource: policy.ResourceProject}); err != nil {
		return nil, err
	}
	project, err := t.gate(ctx, op, actor, ref)
	if err != nil {
		return nil, err
	}

	if patch.TeamID != nil && *patch.TeamID != "" {
		team, err := t.findTeam(ctx, *patch.TeamID)
		if err != nil {
			return nil, classify(op, "team", *patch.TeamID, err)
		}
		patch.TeamID = &team.ID
	}

	updated, err := t.store.UpdateProject(ctx, project.ID, patch)
	if err != nil {
		return nil, classify(op, "project", project.Key, err)
	}
	t.logUpdated("project", updated.ID, actor)
	return updated, nil
}

// DeleteProject removes an empty project. Only admins may, whoever created
// it; a project that still holds items is reported as blocked.
func (t *Tracker) DeleteProject(ctx context.Context, actor auth.Actor, ref string) (model.DeleteOutcome, error) {
	const op = "delete project"
	if err := requireActor(actor); err != nil {
		return model.OutcomeNotFound, err
	}
	if err := t.authorize(op, actor, policy.Request{Action: policy.ActionDelete, Resource: policy.ResourceProject}); err != nil {
		return model.OutcomeNotFound, err
	}

	project, err := t.findProject(ctx, ref)
	if errors.Is(err, db.ErrNotFound) {
		return model.OutcomeNotFound, nil
	}
	if err != nil {
		return model.OutcomeNotFound, classify(op, "project", ref, err)
	}

	outcome, err := t.store.DeleteProject(ctx, project.ID)
	if err != nil {
		return model.OutcomeNotFound, classify(op, "project", project.Key, err)
	}
	if outcome == model.OutcomeDeleted {
		t.log.WithField("project_id", project.ID).
			WithField("actor_id", actor.UserID).
			WithField("owned", project.CreatedBy == actor.UserID).
			Info("project deleted")
	}
	return outcome, nil
}

// ListProjects returns every project to an admin and the projects of the
// actor's teams to anyone else.
func (t *Tracker) ListProjects(ctx context.Context, actor auth.Actor) ([]model.Project, error) {
	const op = "list projects"
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	var (
		projects []model.Project
		err      error
	)
	if actor.Role == model.RoleAdmin {
		projects, err = t.store.ListProjects(ctx)
	} else {
		projects, err = t.store.ListProjectsForUser(ctx, actor.UserID)
	}
	if err != nil {
		t.degraded(op, err)
		return nil, nil
	}
	return projects, nil
}

// CreateTeam creates an empty team.
func (t *Tracker) CreateTeam(ctx context.Context, actor auth.Actor, name string) (*model.Team, error) {
	const op = "create team"
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := t.authorize(op, actor, policy.Request{Action: policy.ActionCreate, Resource: policy.ResourceTeam}); err != nil {
		return nil, err
	}

	team := &model.Team{Name: name, CreatedBy: actor.UserID}
	if err := t.store.CreateTeam(ctx, team); err != nil {
		return nil, classify(op, "team", name, err)
	}
	t.logCreated("team", team.ID, actor)
	return team, nil
}

// DeleteTeam removes a team and its memberships and detaches its projects,
// all or nothing. Admins only.
func (t *Tracker) DeleteTeam(ctx context.Context, actor auth.Actor, ref string) (model.DeleteOutcome, error) {
	const op = "delete team"
	if err := requireActor(actor); err != nil {
		return model.OutcomeNotFound, err
	}
	if err := t.authorize(op, actor, policy.Request{Action: policy.ActionDelete, Resource: policy.ResourceTeam}); err != nil {
		return model.OutcomeNotFound, err
	}

	team, err := t.findTeam(ctx, ref)
	if errors.Is(err, db.ErrNotFound) {
		return model.OutcomeNotFound, nil
	}
	if err != nil {
		return model.OutcomeNotFound, classify(op, "team", ref, err)
	}

	outcome, err := t.store.DeleteTeam(ctx, team.ID)
	if err != nil {
		return model.OutcomeNotFound, classify(op, "team", team.Name, err)
	}
	if outcome == model.OutcomeDeleted {
		t.logDeleted("team", team.ID, actor)
	}
	return outcome, nil
}

// AddTeamMember adds a user, by ID or username, to a team.
func (t *Tracker) AddTeamMember(ctx context.Context, actor auth.Actor, teamRef, userRef string, role model.TeamRole) error {
	const op = "add team member"
	if err := requireActor(actor); err != nil {
		return err
	}
	if err := t.authorize(op, actor, policy.Request{Action: policy.ActionManageMembers, Resource: policy.ResourceTeam}); err != nil {
		return err
	}

	team, err := t.findTeam(ctx, teamRef)
	if err != nil {
		return classify(op, "team", teamRef, err)
	}
	user, err := t.findUser(ctx, userRef)
	if err != nil {
		return classify(op, "user", userRef, err)
	}

	if err := t.store.AddTeamMember(ctx, team.ID, user.ID, role); err != nil {
		return classify(op, "team", team.Name, err)
	}
	t.log.WithField("team_id", team.ID).
		WithField("user_id", user.ID).
		WithField("actor_id", actor.UserID).
		Info("team member added")
	return nil
}

// RemoveTeamMember drops a user, by ID or username, from a team.
func (t *Tracker) RemoveTeamMember(ctx context.Context, actor auth.Actor, teamRef, userRef string) error {
	const op = "remove team member"
	if err := requireActor(actor); err != nil {
		return err
	}
	if err := t.authorize(op, actor, policy.Request{Action: policy.ActionManageMembers, Resource: policy.ResourceTeam}); err != nil {
		return err
	}

	team, err := t.findTeam(ctx, teamRef)
	if err != nil {
		return classify(op, "team", teamRef, err)
	}
	user, err := t.findUser(ctx, userRef)
	if err != nil {
		return classify(op, "user", userRef, err)
	}

	if err := t.store.RemoveTeamMember(ctx, team.ID, user.ID); err != nil {
		return classify(op, "team member", user.Username, err)
	}
	t.log.WithField("team_id", team.ID).
		WithField("user_id", user.ID).
		WithField("actor_id", actor.UserID).
		Info("team member removed")
	return nil
}

// ListTeams returns all teams.
func (t *Tracker) ListTeams(ctx context.Context, actor auth.Actor) ([]model.Team, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	teams, err := t.store.ListTeams(ctx)
	if err != nil {
		t.degraded("list teams", err)
		return nil, nil
	}
	return teams, nil
}

// ListTeamMembers returns the members of a team.
func (t *Tracker) ListTeamMembers(ctx context.Context, actor auth.Actor, teamRef string) ([]model.TeamMember, error) {
	const op = "list team members"
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	team, err := t.findTeam(ctx, teamRef)
	if errors.Is(err, db.ErrNotFound) {
		return nil, classify(op, "team", teamRef, err)
	}
	if err != nil {
		t.degraded(op, err)
		return nil, nil
	}

	members, err := t.store.ListTeamMembers(ctx, team.ID)
	if err != nil {
		t.degraded(op, err)
		return nil, nil
	}
	return members, nil
}

// findTeam looks ref up as an internal ID, then as a team name.
func (t *Tracker) findTeam(ctx context.Context, ref string) (*model.Team, error) {
	team, err := t.store.GetTeam(ctx, ref)
	if !errors.Is(err, db.ErrNotFound) {
		return team, err
	}
	return t.store.GetTeamByName(ctx, ref)
}
