package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/baiirun/backlog/internal/model"
)

const userColumns = `id, username, display_name, role, active, created_at`

func scanUser(row rowScanner) (*model.User, error) {
	u := &model.User{}
	if err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Role, &u.Active, &u.CreatedAt); err != nil {
		return nil, err
	}
	return u, nil
}

// CreateUser inserts an active user. A taken username is a validation
// failure on username.
func (db *DB) CreateUser(ctx context.Context, u *model.User) error {
	if err := db.prepareUser(u); err != nil {
		return err
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.DisplayName, u.Role, u.Active, u.CreatedAt)
	if isUniqueViolation(err) {
		return invalid("username", fmt.Sprintf("user %q already exists", u.Username))
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// CreateFirstUser inserts u only while the users table is empty. The check
// and the insert are one statement, so of two racing callers exactly one
// wins; the other gets ErrNotEmpty.
func (db *DB) CreateFirstUser(ctx context.Context, u *model.User) error {
	if err := db.prepareUser(u); err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		SELECT ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM users)`,
		u.ID, u.Username, u.DisplayName, u.Role, u.Active, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create first user: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotEmpty
	}
	return nil
}

// prepareUser normalizes and validates u and stamps its generated fields.
func (db *DB) prepareUser(u *model.User) error {
	u.Username = strings.ToLower(strings.TrimSpace(u.Username))
	if u.Username == "" {
		return invalid("username", "required")
	}
	if !u.Role.IsValid() {
		return invalid("role", fmt.Sprintf("unknown role %q", u.Role))
	}
	u.ID = model.GenerateID()
	u.Active = true
	u.CreatedAt = db.now()
	return nil
}

// GetUser retrieves a user by ID.
func (db *DB) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return nil, wrapDBError("user "+id, err)
	}
	return u, nil
}

// GetUserByUsername retrieves a user by username.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	name := strings.ToLower(strings.TrimSpace(username))
	u, err := scanUser(db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, name))
	if err != nil {
		return nil, wrapDBError("user "+username, err)
	}
	return u, nil
}

// ListUsers returns all users ordered by username.
func (db *DB) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// SetUserActive activates or deactivates a user. Deactivated users keep
// their history and memberships but can no longer authenticate.
func (db *DB) SetUserActive(ctx context.Context, id string, active bool) error {
	result, err := db.ExecContext(ctx, `UPDATE users SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

// CreateSession stores a session token for userID valid for ttl.
func (db *DB) CreateSession(ctx context.Context, token, userID string, ttl time.Duration) (*model.Session, error) {
	now := db.now()
	s := &model.Session{Token: token, UserID: userID, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	_, err := db.ExecContext(ctx, `
		INSERT INTO sessions (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		s.Token, s.UserID, s.CreatedAt, s.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return s, nil
}

// GetSession retrieves a session by token. Expiry is left to the caller.
func (db *DB) GetSession(ctx context.Context, token string) (*model.Session, error) {
	s := &model.Session{}
	err := db.QueryRowContext(ctx, `
		SELECT token, user_id, created_at, expires_at FROM sessions WHERE token = ?`, token).
		Scan(&s.Token, &s.UserID, &s.CreatedAt, &s.ExpiresAt)
	if err != nil {
		return nil, wrapDBError("session", err)
	}
	return s, nil
}

// DeleteSession removes a session. Deleting an unknown token is not an
// error.
func (db *DB) DeleteSession(ctx context.Context, token string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Now returns the database clock's current time.
func (db *DB) Now() time.Time {
	return db.now()
}
