package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/baiirun/backlog/internal/model"
)

// CreateTeam inserts a team with a unique name.
func (db *DB) CreateTeam(ctx context.Context, t *model.Team) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return invalid("name", "required")
	}
	t.ID = model.GenerateID()
	t.CreatedAt = db.now()

	_, err := db.ExecContext(ctx, `
		INSERT INTO teams (id, name, created_by, created_at) VALUES (?, ?, ?, ?)`,
		t.ID, t.Name, t.CreatedBy, t.CreatedAt)
	if isUniqueViolation(err) {
		return invalid("name", fmt.Sprintf("team %q already exists", t.Name))
	}
	if err != nil {
		return fmt.Errorf("failed to create team: %w", err)
	}
	return nil
}

// GetTeam retrieves a team by ID.
func (db *DB) GetTeam(ctx context.Context, id string) (*model.Team, error) {
	t := &model.Team{}
	err := db.QueryRowContext(ctx, `SELECT id, name, created_by, created_at FROM teams WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.CreatedBy, &t.CreatedAt)
	if err != nil {
		return nil, wrapDBError("team "+id, err)
	}
	return t, nil
}

// GetTeamByName retrieves a team by its exact name.
func (db *DB) GetTeamByName(ctx context.Context, name string) (*model.Team, error) {
	t := &model.Team{}
	err := db.QueryRowContext(ctx, `SELECT id, name, created_by, created_at FROM teams WHERE name = ?`, strings.TrimSpace(name)).
		Scan(&t.ID, &t.Name, &t.CreatedBy, &t.CreatedAt)
	if err != nil {
		return nil, wrapDBError("team "+name, err)
	}
	return t, nil
}

// ListTeams returns all teams ordered by name.
func (db *DB) ListTeams(ctx context.Context) ([]model.Team, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, created_by, created_at FROM teams ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query teams: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var teams []model.Team
	for rows.Next() {
		var t model.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedBy, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

// DeleteTeam removes a team in one transaction: memberships first, then
// the team's project assignments, then the team row. If any step fails
// nothing is removed.
func (db *DB) DeleteTeam(ctx context.Context, id string) (model.DeleteOutcome, error) {
	outcome := model.OutcomeNotFound
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM teams WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to check team: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM team_members WHERE team_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete team members: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE projects SET team_id = NULL, updated_at = ? WHERE team_id = ?`, db.now(), id); err != nil {
			return fmt.Errorf("failed to detach team projects: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM teams WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete team: %w", err)
		}
		outcome = model.OutcomeDeleted
		return nil
	})
	if err != nil {
		return model.OutcomeNotFound, err
	}
	return outcome, nil
}

// AddTeamMember adds userID to the team, or changes the team role of an
// existing member.
func (db *DB) AddTeamMember(ctx context.Context, teamID, userID string, role model.TeamRole) error {
	if role == "" {
		role = model.TeamRoleMember
	}
	if !role.IsValid() {
		return invalid("role", fmt.Sprintf("unknown team role %q", role))
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkTeam(ctx, tx, teamID); err != nil {
			return err
		}
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&exists)
		if err != nil {
			return wrapDBError("user "+userID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO team_members (team_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (team_id, user_id) DO UPDATE SET role = excluded.role`,
			teamID, userID, role, db.now())
		if err != nil {
			return fmt.Errorf("failed to add team member: %w", err)
		}
		return nil
	})
}

// RemoveTeamMember drops a membership. Missing memberships are NotFound.
func (db *DB) RemoveTeamMember(ctx context.Context, teamID, userID string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM team_members WHERE team_id = ? AND user_id = ?`, teamID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove team member: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("member %s of team %s: %w", userID, teamID, ErrNotFound)
	}
	return nil
}

// ListTeamMembers returns the members of a team ordered by username.
func (db *DB) ListTeamMembers(ctx context.Context, teamID string) ([]model.TeamMember, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT m.team_id, m.user_id, u.username, m.role, m.joined_at
		FROM team_members m JOIN users u ON u.id = m.user_id
		WHERE m.team_id = ?
		ORDER BY u.username`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to query team members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var members []model.TeamMember
	for rows.Next() {
		var m model.TeamMember
		if err := rows.Scan(&m.TeamID, &m.UserID, &m.Username, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan team member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// IsTeamMember reports whether userID belongs to teamID.
func (db *DB) IsTeamMember(ctx context.Context, teamID, userID string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM team_members WHERE team_id = ? AND user_id = ?`, teamID, userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check team membership: %w", err)
	}
	return count > 0, nil
}

func checkTeam(ctx context.Context, q querier, teamID string) error {
	var exists int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM teams WHERE id = ?`, teamID).Scan(&exists)
	if err != nil {
		return wrapDBError("team "+teamID, err)
	}
	return nil
}
