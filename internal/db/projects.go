package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/baiirun/backlog/internal/model"
)

const projectColumns = `id, key, name, description, team_id, status, created_by, created_at, updated_at`

func scanProject(row rowScanner) (*model.Project, error) {
	p := &model.Project{}
	var teamID sql.NullString
	if err := row.Scan(&p.ID, &p.Key, &p.Name, &p.Description, &teamID, &p.Status,
		&p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if teamID.Valid {
		p.TeamID = &teamID.String
	}
	return p, nil
}

// CreateProject inserts a project with a normalized, unique key.
func (db *DB) CreateProject(ctx context.Context, p *model.Project) error {
	key, err := model.NormalizeProjectKey(p.Key)
	if err != nil {
		return invalid("key", err.Error())
	}
	p.Key = key
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return invalid("name", "required")
	}
	if p.Status == "" {
		p.Status = model.ProjectActive
	}
	if !p.Status.IsValid() {
		return invalid("status", fmt.Sprintf("unknown project status %q", p.Status))
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if p.TeamID != nil {
			if err := checkTeam(ctx, tx, *p.TeamID); err != nil {
				return err
			}
		}

		now := db.now()
		p.ID = model.GenerateID()
		p.CreatedAt = now
		p.UpdatedAt = now

		_, err := tx.ExecContext(ctx, `
			INSERT INTO projects (`+projectColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Key, p.Name, p.Description, p.TeamID, p.Status, p.CreatedBy, p.CreatedAt, p.UpdatedAt)
		if isUniqueViolation(err) {
			return invalid("key", fmt.Sprintf("project key %s already exists", p.Key))
		}
		if err != nil {
			return fmt.Errorf("failed to create project: %w", err)
		}
		return nil
	})
}

// GetProject retrieves a project by ID.
func (db *DB) GetProject(ctx context.Context, id string) (*model.Project, error) {
	p, err := scanProject(db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if err != nil {
		return nil, wrapDBError("project "+id, err)
	}
	return p, nil
}

// GetProjectByKey retrieves a project by its key, in any letter case.
func (db *DB) GetProjectByKey(ctx context.Context, key string) (*model.Project, error) {
	k := strings.ToUpper(strings.TrimSpace(key))
	p, err := scanProject(db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE key = ?`, k))
	if err != nil {
		return nil, wrapDBError("project "+key, err)
	}
	return p, nil
}

// UpdateProject applies patch. An empty TeamID detaches the team, which
// leaves the project reachable by admins only.
func (db *DB) UpdateProject(ctx context.Context, id string, patch model.ProjectPatch) (*model.Project, error) {
	var updated *model.Project
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		p, err := scanProject(tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
		if err != nil {
			return wrapDBError("project "+id, err)
		}

		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				return invalid("name", "required")
			}
			p.Name = name
		}
		if patch.Description != nil {
			p.Description = *patch.Description
		}
		if patch.TeamID != nil {
			p.TeamID = optional(*patch.TeamID)
			if p.TeamID != nil {
				if err := checkTeam(ctx, tx, *p.TeamID); err != nil {
					return err
				}
			}
		}
		if patch.Status != nil {
			if !patch.Status.IsValid() {
				return invalid("status", fmt.Sprintf("unknown project status %q", *patch.Status))
			}
			p.Status = *patch.Status
		}
		p.UpdatedAt = db.now()

		if _, err := tx.ExecContext(ctx, `
			UPDATE projects SET name = ?, description = ?, team_id = ?, status = ?, updated_at = ?
			WHERE id = ?`,
			p.Name, p.Description, p.TeamID, p.Status, p.UpdatedAt, p.ID); err != nil {
			return fmt.Errorf("failed to update project: %w", err)
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteProject removes a project that holds no work items. A project with
// items is reported as OutcomeBlockedByChildren and left alone.
func (db *DB) DeleteProject(ctx context.Context, id string) (model.DeleteOutcome, error) {
	outcome := model.OutcomeNotFound
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to check project: %w", err)
		}

		var items int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM work_items WHERE project_id = ?`, id).Scan(&items); err != nil {
			return fmt.Errorf("failed to count project items: %w", err)
		}
		if items > 0 {
			outcome = model.OutcomeBlockedByChildren
			return nil
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete project: %w", err)
		}
		outcome = model.OutcomeDeleted
		return nil
	})
	if err != nil {
		return model.OutcomeNotFound, err
	}
	return outcome, nil
}

// ListProjects returns all projects ordered by key.
func (db *DB) ListProjects(ctx context.Context) ([]model.Project, error) {
	return db.queryProjects(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY key`)
}

// ListProjectsForUser returns the projects assigned to any team userID
// belongs to, ordered by key.
func (db *DB) ListProjectsForUser(ctx context.Context, userID string) ([]model.Project, error) {
	return db.queryProjects(ctx, `
		SELECT `+prefixedProjectColumns+`
		FROM projects p
		JOIN team_members m ON m.team_id = p.team_id
		WHERE m.user_id = ?
		ORDER BY p.key`, userID)
}

var prefixedProjectColumns = func() string {
	cols := strings.Split(projectColumns, ",")
	for i, c := range cols {
		cols[i] = "p." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}()

func (db *DB) queryProjects(ctx context.Context, query string, args ...any) ([]model.Project, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}
