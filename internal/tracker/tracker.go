// Package tracker is the entry point for every backlog operation.
//
// Each call takes the acting user as an explicit auth.Actor and runs the
// same pipeline: reject an anonymous actor, pass the project access gate,
// consult the permission table, then hand off to the store, which records
// history in the same transaction as the change.
package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/baiirun/backlog/internal/auth"
	"github.com/baiirun/backlog/internal/db"
	"github.com/baiirun/backlog/internal/model"
	"github.com/baiirun/backlog/internal/policy"
)

// Store is everything the tracker needs from persistence.
type Store interface {
	auth.Store

	CreateUser(ctx context.Context, u *model.User) error
	CreateFirstUser(ctx context.Context, u *model.User) error
	ListUsers(ctx context.Context) ([]model.User, error)
	SetUserActive(ctx context.Context, id string, active bool) error

	CreateTeam(ctx context.Context, t *model.Team) error
	GetTeam(ctx context.Context, id string) (*model.Team, error)
	GetTeamByName(ctx context.Context, name string) (*model.Team, error)
	ListTeams(ctx context.Context) ([]model.Team, error)
	DeleteTeam(ctx context.Context, id string) (model.DeleteOutcome, error)
	AddTeamMember(ctx context.Context, teamID, userID string, role model.TeamRole) error
	RemoveTeamMember(ctx context.Context, teamID, userID string) error
	ListTeamMembers(ctx context.Context, teamID string) ([]model.TeamMember, error)
	IsTeamMember(ctx context.Context, teamID, userID string) (bool, error)

	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, id string) (*model.Project, error)
	GetProjectByKey(ctx context.Context, key string) (*model.Project, error)
	UpdateProject(ctx context.Context, id string, patch model.ProjectPatch) (*model.Project, error)
	DeleteProject(ctx context.Context, id string) (model.DeleteOutcome, error)
	ListProjects(ctx context.Context) ([]model.Project, error)
	ListProjectsForUser(ctx context.Context, userID string) ([]model.Project, error)

	CreateWorkItem(ctx context.Context, item *model.WorkItem, actorID string) error
	GetWorkItem(ctx context.Context, id string) (*model.WorkItem, error)
	GetWorkItemByExternalID(ctx context.Context, externalID string) (*model.WorkItem, error)
	UpdateStatus(ctx context.Context, id string, status model.Status, actorID string) (*model.WorkItem, error)
	UpdateWorkItem(ctx context.Context, id string, patch model.WorkItemPatch, actorID string) (*model.WorkItem, error)
	DeleteWorkItem(ctx context.Context, id string, actorID string) (model.DeleteOutcome, error)
	ListByProject(ctx context.Context, projectID string, filter db.ItemFilter) ([]model.WorkItem, error)
	ListByParent(ctx context.Context, parentID string) ([]model.WorkItem, error)
	Ancestors(ctx context.Context, id string) ([]model.WorkItem, error)
	Summarize(ctx context.Context, projectID string) (*db.ProjectSummary, error)
	FetchHistory(ctx context.Context, workItemID string) ([]model.HistoryEntry, error)
}

var _ Store = (*db.DB)(nil)

// Tracker wires the resolver, the access gate and the permission table in
// front of the store.
type Tracker struct {
	store    Store
	resolver *auth.Resolver
	log      *logrus.Logger
}

// New returns a tracker over store. Sessions issued by Login live for
// sessionTTL.
func New(store Store, log *logrus.Logger, sessionTTL time.Duration) *Tracker {
	return &Tracker{
		store:    store,
		resolver: auth.NewResolver(store, sessionTTL),
		log:      log,
	}
}

// Authenticate resolves a session token to the actor that every other
// call takes.
func (t *Tracker) Authenticate(ctx context.Context, token string) (auth.Actor, error) {
	actor, err := t.resolver.Resolve(ctx, token)
	if err != nil {
		return auth.Actor{}, classify("authenticate", "session", "", err)
	}
	return actor, nil
}

// Login issues a session for username.
func (t *Tracker) Login(ctx context.Context, username string) (*model.Session, error) {
	session, err := t.resolver.Login(ctx, username)
	if err != nil {
		return nil, classify("login", "user", "", err)
	}
	t.log.WithField("user_id", session.UserID).Info("session created")
	return session, nil
}

// Logout ends the session behind token.
func (t *Tracker) Logout(ctx context.Context, token string) error {
	return classify("logout", "session", "", t.resolver.Logout(ctx, token))
}

// requireActor rejects the zero Actor, which is what a caller holds when it
// skipped Authenticate.
func requireActor(actor auth.Actor) error {
	if actor.UserID == "" {
		return ErrUnauthenticated
	}
	return nil
}

// gate loads a project by ID or key and applies the access policy to it.
// A project the actor may not enter is Forbidden, and so is a missing one
// unless the actor is an admin.
func (t *Tracker) gate(ctx context.Context, op string, actor auth.Actor, projectRef string) (*model.Project, error) {
	project, err := t.findProject(ctx, projectRef)
	if err != nil {
		return nil, t.unseen(op, actor, "project", projectRef, err)
	}

	member := false
	if actor.Role != model.RoleAdmin && project.TeamID != nil {
		member, err = t.store.IsTeamMember(ctx, *project.TeamID, actor.UserID)
		if err != nil {
			return nil, classify(op, "project", project.Key, err)
		}
	}

	if policy.ProjectAccess(actor.Role, project, member) != policy.Allow {
		t.logDenied(op, actor, "project access", project.ID)
		return nil, forbidden(op)
	}
	return project, nil
}

// unseen maps a failed lookup. Only admins learn that a resource is
// missing; everyone else gets the error an inaccessible one would give.
func (t *Tracker) unseen(op string, actor auth.Actor, resource, ref string, err error) error {
	if errors.Is(err, db.ErrNotFound) && actor.Role != model.RoleAdmin {
		t.logDenied(op, actor, resource+" not visible", "")
		return forbidden(op)
	}
	return classify(op, resource, ref, err)
}

// findProject looks ref up as an internal ID, then as a project key.
func (t *Tracker) findProject(ctx context.Context, ref string) (*model.Project, error) {
	project, err := t.store.GetProject(ctx, ref)
	if !errors.Is(err, db.ErrNotFound) {
		return project, err
	}
	return t.store.GetProjectByKey(ctx, ref)
}

// authorize checks one request against the permission table.
func (t *Tracker) authorize(op string, actor auth.Actor, req policy.Request) error {
	req.Role = actor.Role
	res := policy.Evaluate(req)
	if !res.Allowed() {
		t.logDenied(op, actor, res.Reason, "")
		return forbidden(op)
	}
	return nil
}

func (t *Tracker) logCreated(resourceType, resourceID string, actor auth.Actor) {
	t.log.WithField(resourceType+"_id", resourceID).
		WithField("actor_id", actor.UserID).
		Info(resourceType + " created")
}

func (t *Tracker) logUpdated(resourceType, resourceID string, actor auth.Actor) {
	t.log.WithField(resourceType+"_id", resourceID).
		WithField("actor_id", actor.UserID).
		Info(resourceType + " updated")
}

func (t *Tracker) logDeleted(resourceType, resourceID string, actor auth.Actor) {
	t.log.WithField(resourceType+"_id", resourceID).
		WithField("actor_id", actor.UserID).
		Info(resourceType + " deleted")
}

func (t *Tracker) logDenied(op string, actor auth.Actor, reason, projectID string) {
	entry := t.log.WithField("op", op).
		WithField("actor_id", actor.UserID).
		WithField("role", actor.Role)
	if projectID != "" {
		entry = entry.WithField("project_id", projectID)
	}
	entry.Info("denied: " + reason)
}

// degraded logs a failed read that is being answered with an empty result.
func (t *Tracker) degraded(op string, err error) {
	t.log.WithError(err).WithField("op", op).Warn("store read failed; returning empty result")
}
