package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/baiirun/backlog/internal/model"
)

func TestCreateUser(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	u := &model.User{Username: "  Carol ", Role: model.RoleScrumMaster}
	if err := db.CreateUser(ctx, u); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	if u.Username != "carol" || !u.Active || u.ID == "" {
		t.Errorf("unexpected user %+v", u)
	}

	got, err := db.GetUserByUsername(ctx, "CAROL")
	if err != nil {
		t.Fatalf("failed to get by username: %v", err)
	}
	if got.ID != u.ID || got.Role != model.RoleScrumMaster {
		t.Errorf("unexpected user %+v", got)
	}

	users, err := db.ListUsers(ctx)
	if err != nil || len(users) != 1 {
		t.Errorf("expected 1 user, got %d, %v", len(users), err)
	}
}

func TestCreateUser_Validation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	mustUser(t, db, "alice", model.RoleAdmin)

	tests := []struct {
		name  string
		user  model.User
		field string
	}{
		{"blank username", model.User{Username: " ", Role: model.RoleUser}, "username"},
		{"unknown role", model.User{Username: "dave", Role: "OWNER"}, "role"},
		{"duplicate", model.User{Username: "Alice", Role: model.RoleUser}, "username"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := tt.user
			err := db.CreateUser(ctx, &u)
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Errorf("expected %s validation error, got %v", tt.field, err)
			}
		})
	}
}

func TestCreateFirstUser(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := &model.User{Username: "Alice", Role: model.RoleAdmin}
	if err := db.CreateFirstUser(ctx, first); err != nil {
		t.Fatalf("failed to create first user: %v", err)
	}
	if first.Username != "alice" || first.ID == "" {
		t.Errorf("unexpected user %+v", first)
	}

	second := &model.User{Username: "mallory", Role: model.RoleAdmin}
	if err := db.CreateFirstUser(ctx, second); !errors.Is(err, ErrNotEmpty) {
		t.Errorf("expected ErrNotEmpty, got %v", err)
	}
	if _, err := db.GetUserByUsername(ctx, "mallory"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected mallory not stored, got %v", err)
	}

	var verr *ValidationError
	if err := db.CreateFirstUser(ctx, &model.User{Username: " ", Role: model.RoleAdmin}); !errors.As(err, &verr) {
		t.Errorf("expected validation error for a blank username, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	alice := mustUser(t, db, "alice", model.RoleAdmin)

	_, err := db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		model.GenerateID(), "alice", "", model.RoleUser, true, time.Now())
	if !isUniqueViolation(err) {
		t.Errorf("expected duplicate username to be a unique violation, got %v", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		alice.ID, "other", "", model.RoleUser, true, time.Now())
	if !isUniqueViolation(err) {
		t.Errorf("expected duplicate id to be a unique violation, got %v", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		model.GenerateID(), nil, "", model.RoleUser, true, time.Now())
	if err == nil || isUniqueViolation(err) {
		t.Errorf("expected a NOT NULL failure that is not a unique violation, got %v", err)
	}

	if isUniqueViolation(errors.New("UNIQUE constraint failed: users.username")) {
		t.Error("expected a plain error with matching text not to count")
	}
	if isUniqueViolation(nil) {
		t.Error("expected nil not to count")
	}
}

func TestSetUserActive(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	bob := mustUser(t, db, "bob", model.RoleUser)

	if err := db.SetUserActive(ctx, bob.ID, false); err != nil {
		t.Fatalf("failed to deactivate: %v", err)
	}
	got, err := db.GetUser(ctx, bob.ID)
	if err != nil {
		t.Fatalf("failed to reload: %v", err)
	}
	if got.Active {
		t.Error("expected bob inactive")
	}

	if err := db.SetUserActive(ctx, "missing", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	users, err := db.ListUsers(ctx)
	if err != nil || len(users) != 1 {
		t.Errorf("expected inactive users still listed, got %d, %v", len(users), err)
	}
}

func TestSessions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	bob := mustUser(t, db, "bob", model.RoleUser)

	s, err := db.CreateSession(ctx, "tok", bob.ID, time.Hour)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if !s.ExpiresAt.Equal(s.CreatedAt.Add(time.Hour)) {
		t.Errorf("expected expiry one hour after creation, got %v -> %v", s.CreatedAt, s.ExpiresAt)
	}

	got, err := db.GetSession(ctx, "tok")
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	if got.UserID != bob.ID || !got.ExpiresAt.Equal(s.ExpiresAt) {
		t.Errorf("unexpected session %+v", got)
	}

	if err := db.DeleteSession(ctx, "tok"); err != nil {
		t.Fatalf("failed to delete session: %v", err)
	}
	if _, err := db.GetSession(ctx, "tok"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := db.DeleteSession(ctx, "tok"); err != nil {
		t.Errorf("deleting an unknown session should be a no-op, got %v", err)
	}
}
