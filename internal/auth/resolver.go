// Package auth resolves opaque session tokens to the acting user.
//
// The transport that carries the token (a cookie, a CLI flag) is not this
// package's concern; it only turns a token into an Actor or refuses.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/baiirun/backlog/internal/db"
	"github.com/baiirun/backlog/internal/model"
)

// ErrUnauthenticated covers every way a token can fail to resolve. Callers
// cannot tell an unknown token from an expired one or from a deactivated
// user.
var ErrUnauthenticated = errors.New("unauthenticated")

// Actor is the request-scoped identity handed to every tracker call. It is
// a value: nothing downstream can change who is acting.
type Actor struct {
	UserID   string
	Username string
	Role     model.Role
}

// Store is the slice of the database the resolver needs.
type Store interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetSession(ctx context.Context, token string) (*model.Session, error)
	CreateSession(ctx context.Context, token, userID string, ttl time.Duration) (*model.Session, error)
	DeleteSession(ctx context.Context, token string) error
	Now() time.Time
}

var _ Store = (*db.DB)(nil)

type Resolver struct {
	store Store
	ttl   time.Duration
}

// NewResolver returns a resolver issuing sessions that live for ttl.
func NewResolver(store Store, ttl time.Duration) *Resolver {
	return &Resolver{store: store, ttl: ttl}
}

// Resolve returns the actor behind token. A store failure is returned as
// is so the caller can tell an outage from a bad token.
func (r *Resolver) Resolve(ctx context.Context, token string) (Actor, error) {
	if token == "" {
		return Actor{}, ErrUnauthenticated
	}

	session, err := r.store.GetSession(ctx, token)
	if errors.Is(err, db.ErrNotFound) {
		return Actor{}, ErrUnauthenticated
	}
	if err != nil {
		return Actor{}, fmt.Errorf("resolve session: %w", err)
	}
	if !r.store.Now().Before(session.ExpiresAt) {
		return Actor{}, ErrUnauthenticated
	}

	user, err := r.store.GetUser(ctx, session.UserID)
	if errors.Is(err, db.ErrNotFound) {
		return Actor{}, ErrUnauthenticated
	}
	if err != nil {
		return Actor{}, fmt.Errorf("resolve user: %w", err)
	}
	if !user.Active {
		return Actor{}, ErrUnauthenticated
	}

	return Actor{UserID: user.ID, Username: user.Username, Role: user.Role}, nil
}

// Login issues a new session for an active user. It stands in for the
// external login flow, which is out of the tracker's hands.
func (r *Resolver) Login(ctx context.Context, username string) (*model.Session, error) {
	user, err := r.store.GetUserByUsername(ctx, username)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if !user.Active {
		return nil, ErrUnauthenticated
	}
	return r.store.CreateSession(ctx, uuid.NewString(), user.ID, r.ttl)
}

// Logout ends a session.
func (r *Resolver) Logout(ctx context.Context, token string) error {
	return r.store.DeleteSession(ctx, token)
}
