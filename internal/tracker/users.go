package tracker

import (
	"context"
	"errors"

	"github.com/baiirun/backlog/internal/auth"
	"github.com/baiirun/backlog/internal/db"
	"github.com/baiirun/backlog/internal/model"
	"github.com/baiirun/backlog/internal/policy"
)

// Bootstrap creates the first user of an empty database as an admin. Once
// any user exists it is Forbidden; further accounts go through CreateUser.
func (t *Tracker) Bootstrap(ctx context.Context, username, displayName string) (*model.User, error) {
	const op = "bootstrap"
	u := &model.User{Username: username, DisplayName: displayName, Role: model.RoleAdmin}
	err := t.store.CreateFirstUser(ctx, u)
	if errors.Is(err, db.ErrNotEmpty) {
		return nil, forbidden(op)
	}
	if err != nil {
		return nil, classify(op, "user", username, err)
	}
	t.log.WithField("user_id", u.ID).Info("bootstrap admin created")
	return u, nil
}

// CreateUser adds an account. Admins only.
func (t *Tracker) CreateUser(ctx context.Context, actor auth.Actor, username, displayName string, role model.Role) (*model.User, error) {
	const op = "create user"
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := t.authorize(op, actor, policy.Request{Action: policy.ActionCreate, Resource: policy.ResourceUser}); err != nil {
		return nil, err
	}

	u := &model.User{Username: username, DisplayName: displayName, Role: role}
	if err := t.store.CreateUser(ctx, u); err != nil {
		return nil, classify(op, "user", username, err)
	}
	t.logCreated("user", u.ID, actor)
	return u, nil
}

// SetUserActive activates or deactivates an account, by ID or username.
// A deactivated user's sessions stop resolving immediately.
func (t *Tracker) SetUserActive(ctx context.Context, actor auth.Actor, userRef string, active bool) error {
	const op = "set user active"
	if err := requireActor(actor); err != nil {
		return err
	}
	if err := t.authorize(op, actor, policy.Request{Action: policy.ActionEdit, Resource: policy.ResourceUser}); err != nil {
		return err
	}

	user, err := t.findUser(ctx, userRef)
	if err != nil {
		return classify(op, "user", userRef, err)
	}
	if err := t.store.SetUserActive(ctx, user.ID, active); err != nil {
		return classify(op, "user", user.Username, err)
	}
	t.logUpdated("user", user.ID, actor)
	return nil
}

// ListUsers returns every account.
func (t *Tracker) ListUsers(ctx context.Context, actor auth.Actor) ([]model.User, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	users, err := t.store.ListUsers(ctx)
	if err != nil {
		t.degraded("list users", err)
		return nil, nil
	}
	return users, nil
}

// findUser looks ref up as an internal ID, then as a username.
func (t *Tracker) findUser(ctx context.Context, ref string) (*model.User, error) {
	user, err := t.store.GetUser(ctx, ref)
	if !errors.Is(err, db.ErrNotFound) {
		return user, err
	}
	return t.store.GetUserByUsername(ctx, ref)
}
