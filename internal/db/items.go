package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/baiirun/backlog/internal/model"
)

const itemColumns = `id, external_id, type, project_id, parent_id, title, description, status, priority,
	assignee_id, reporter_id, start_date, end_date, completed_at, version, created_at, updated_at`

const (
	minPriority = 0
	maxPriority = 4
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(row rowScanner) (*model.WorkItem, error) {
	item := &model.WorkItem{}
	var parentID, assigneeID sql.NullString
	var startDate, endDate, completedAt sql.NullTime
	err := row.Scan(
		&item.ID, &item.ExternalID, &item.Type, &item.ProjectID, &parentID, &item.Title, &item.Description,
		&item.Status, &item.Priority, &assigneeID, &item.ReporterID, &startDate, &endDate, &completedAt,
		&item.Version, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		item.ParentID = &parentID.String
	}
	if assigneeID.Valid {
		item.AssigneeID = &assigneeID.String
	}
	if startDate.Valid {
		item.StartDate = &startDate.Time
	}
	if endDate.Valid {
		item.EndDate = &endDate.Time
	}
	if completedAt.Valid {
		item.CompletedAt = &completedAt.Time
	}
	return item, nil
}

// CreateWorkItem validates item, assigns its external identifier and
// inserts it with actorID as reporter, recording a CREATED history entry in
// the same transaction. ID, ExternalID, ReporterID, Version and timestamps
// are filled in on item.
func (db *DB) CreateWorkItem(ctx context.Context, item *model.WorkItem, actorID string) error {
	if item.Type == "" {
		return invalid("type", "required")
	}
	if !item.Type.IsValid() {
		return invalid("type", fmt.Sprintf("unknown type %q", item.Type))
	}
	item.Title = strings.TrimSpace(item.Title)
	if item.Title == "" {
		return invalid("title", "required")
	}
	if item.Status == "" {
		item.Status = model.StatusTodo
	}
	if !item.Status.IsValid() {
		return invalid("status", fmt.Sprintf("malformed status %q", item.Status))
	}
	if item.Priority < minPriority || item.Priority > maxPriority {
		return invalid("priority", fmt.Sprintf("must be between %d and %d", minPriority, maxPriority))
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkProjectWritable(ctx, tx, item.ProjectID); err != nil {
			return err
		}
		if item.ParentID != nil {
			if err := checkParent(ctx, tx, item.ProjectID, "", *item.ParentID); err != nil {
				return err
			}
		}
		if item.AssigneeID != nil {
			if err := checkAssignee(ctx, tx, *item.AssigneeID); err != nil {
				return err
			}
		}

		externalID, err := nextExternalID(ctx, tx, item.ProjectID)
		if err != nil {
			return err
		}

		now := db.now()
		item.ID = model.GenerateID()
		item.ExternalID = externalID
		item.ReporterID = actorID
		item.Version = 1
		item.CreatedAt = now
		item.UpdatedAt = now
		item.CompletedAt = nil
		if item.Status == model.StatusDone {
			item.CompletedAt = &now
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO work_items (`+itemColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, item.ExternalID, item.Type, item.ProjectID, item.ParentID, item.Title, item.Description,
			item.Status, item.Priority, item.AssigneeID, item.ReporterID, item.StartDate, item.EndDate,
			item.CompletedAt, item.Version, item.CreatedAt, item.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create work item: %w", err)
		}

		return recordHistory(ctx, tx, &model.HistoryEntry{
			WorkItemID: item.ID,
			UserID:     actorID,
			FieldName:  "externalId",
			NewValue:   &item.ExternalID,
			ChangeType: model.ChangeCreated,
			CreatedAt:  now,
		})
	})
}

// nextExternalID bumps the project's counter and formats the result in a
// single statement, so concurrent creators can never read the same value.
// The counter only grows: numbers freed by deletions are not reused.
func nextExternalID(ctx context.Context, q querier, projectID string) (string, error) {
	var key string
	var seq int64
	err := q.QueryRowContext(ctx, `
		UPDATE projects SET item_seq = item_seq + 1
		WHERE id = ?
		RETURNING key, item_seq`, projectID).Scan(&key, &seq)
	if err != nil {
		return "", wrapDBError("project "+projectID, err)
	}
	return model.FormatExternalID(key, seq), nil
}

// GetWorkItem retrieves a work item by ID.
func (db *DB) GetWorkItem(ctx context.Context, id string) (*model.WorkItem, error) {
	return getWorkItem(ctx, db, id)
}

func getWorkItem(ctx context.Context, q querier, id string) (*model.WorkItem, error) {
	row := q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id = ?`, id)
	item, err := scanWorkItem(row)
	if err != nil {
		return nil, wrapDBError("work item "+id, err)
	}
	return item, nil
}

// GetWorkItemByExternalID looks an item up by its human-readable code.
func (db *DB) GetWorkItemByExternalID(ctx context.Context, externalID string) (*model.WorkItem, error) {
	row := db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE external_id = ?`,
		strings.ToUpper(strings.TrimSpace(externalID)))
	item, err := scanWorkItem(row)
	if err != nil {
		return nil, wrapDBError("work item "+externalID, err)
	}
	return item, nil
}

// UpdateStatus changes an item's status. Moving to DONE stamps completedAt;
// any other status leaves completedAt as it was, including a value left
// over from an earlier DONE.
func (db *DB) UpdateStatus(ctx context.Context, id string, status model.Status, actorID string) (*model.WorkItem, error) {
	if !status.IsValid() {
		return nil, invalid("status", fmt.Sprintf("malformed status %q", status))
	}

	var updated *model.WorkItem
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		item, err := getWorkItem(ctx, tx, id)
		if err != nil {
			return err
		}

		now := db.now()
		changes := []fieldChange{{
			field: "status",
			old:   strPtr(string(item.Status)),
			new:   strPtr(string(status)),
		}}
		if status == model.StatusDone && (item.Status != model.StatusDone || item.CompletedAt == nil) {
			changes = append(changes, fieldChange{
				field: "completedAt",
				old:   timeStr(item.CompletedAt),
				new:   timeStr(&now),
			})
			item.CompletedAt = &now
		}
		item.Status = status

		if err := writeItem(ctx, tx, item, now); err != nil {
			return err
		}
		if err := recordChanges(ctx, tx, item.ID, actorID, changes, now); err != nil {
			return err
		}
		updated = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateWorkItem merges patch into the item and records one history entry
// per changed field. Dates that fail to parse are stored as null. An update
// that changes nothing still bumps updatedAt and records that.
func (db *DB) UpdateWorkItem(ctx context.Context, id string, patch model.WorkItemPatch, actorID string) (*model.WorkItem, error) {
	var updated *model.WorkItem
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		item, err := getWorkItem(ctx, tx, id)
		if err != nil {
			return err
		}
		now := db.now()

		changes, err := applyPatch(ctx, tx, item, patch, now)
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			changes = []fieldChange{{
				field: "updatedAt",
				old:   timeStr(&item.UpdatedAt),
				new:   timeStr(&now),
			}}
		}

		if err := writeItem(ctx, tx, item, now); err != nil {
			return err
		}
		if err := recordChanges(ctx, tx, item.ID, actorID, changes, now); err != nil {
			return err
		}
		updated = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// applyPatch validates patch against item, mutates item in place and
// returns the fields that actually changed.
func applyPatch(ctx context.Context, q querier, item *model.WorkItem, patch model.WorkItemPatch, now time.Time) ([]fieldChange, error) {
	var changes []fieldChange

	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, invalid("title", "required")
		}
		if title != item.Title {
			changes = append(changes, fieldChange{"title", strPtr(item.Title), strPtr(title)})
			item.Title = title
		}
	}

	if patch.Description != nil && *patch.Description != item.Description {
		changes = append(changes, fieldChange{"description", strPtr(item.Description), strPtr(*patch.Description)})
		item.Description = *patch.Description
	}

	if patch.Priority != nil {
		p := *patch.Priority
		if p < minPriority || p > maxPriority {
			return nil, invalid("priority", fmt.Sprintf("must be between %d and %d", minPriority, maxPriority))
		}
		if p != item.Priority {
			changes = append(changes, fieldChange{"priority", strPtr(strconv.Itoa(item.Priority)), strPtr(strconv.Itoa(p))})
			item.Priority = p
		}
	}

	if patch.AssigneeID != nil {
		next := optional(*patch.AssigneeID)
		if next != nil {
			if err := checkAssignee(ctx, q, *next); err != nil {
				return nil, err
			}
		}
		if !sameString(item.AssigneeID, next) {
			changes = append(changes, fieldChange{"assigneeId", item.AssigneeID, next})
			item.AssigneeID = next
		}
	}

	if patch.ParentID != nil {
		next := optional(*patch.ParentID)
		if next != nil {
			if err := checkParent(ctx, q, item.ProjectID, item.ID, *next); err != nil {
				return nil, err
			}
		}
		if !sameString(item.ParentID, next) {
			changes = append(changes, fieldChange{"parentId", item.ParentID, next})
			item.ParentID = next
		}
	}

	if patch.StartDate != nil {
		next := model.NormalizeDate(*patch.StartDate, now)
		if !sameTime(item.StartDate, next) {
			changes = append(changes, fieldChange{"startDate", timeStr(item.StartDate), timeStr(next)})
			item.StartDate = next
		}
	}

	if patch.EndDate != nil {
		next := model.NormalizeDate(*patch.EndDate, now)
		if !sameTime(item.EndDate, next) {
			changes = append(changes, fieldChange{"endDate", timeStr(item.EndDate), timeStr(next)})
			item.EndDate = next
		}
	}

	return changes, nil
}

// writeItem persists every mutable column of item, guarded by its version.
// A zero-row update means another writer got there first.
func writeItem(ctx context.Context, q querier, item *model.WorkItem, now time.Time) error {
	result, err := q.ExecContext(ctx, `
		UPDATE work_items
		SET title = ?, description = ?, status = ?, priority = ?, assignee_id = ?, parent_id = ?,
		    start_date = ?, end_date = ?, completed_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		item.Title, item.Description, item.Status, item.Priority, item.AssigneeID, item.ParentID,
		item.StartDate, item.EndDate, item.CompletedAt, now, item.ID, item.Version)
	if err != nil {
		return fmt.Errorf("failed to update work item: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("work item %s changed concurrently: %w", item.ID, ErrConflict)
	}
	item.Version++
	item.UpdatedAt = now
	return nil
}

// DeleteWorkItem removes a childless item. An item with children is left
// untouched and reported as OutcomeBlockedByChildren; that is a result, not
// an error. History rows outlive the item.
func (db *DB) DeleteWorkItem(ctx context.Context, id string, actorID string) (model.DeleteOutcome, error) {
	outcome := model.OutcomeNotFound
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var externalID string
		err := tx.QueryRowContext(ctx, `SELECT external_id FROM work_items WHERE id = ?`, id).Scan(&externalID)
		if errors.Is(err, sql.ErrNoRows) {
			outcome = model.OutcomeNotFound
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to check work item: %w", err)
		}

		children, err := countChildren(ctx, tx, id)
		if err != nil {
			return err
		}
		if children > 0 {
			outcome = model.OutcomeBlockedByChildren
			return nil
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM work_items WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete work item: %w", err)
		}

		if err := recordHistory(ctx, tx, &model.HistoryEntry{
			WorkItemID: id,
			UserID:     actorID,
			FieldName:  "externalId",
			OldValue:   &externalID,
			ChangeType: model.ChangeDeleted,
			CreatedAt:  db.now(),
		}); err != nil {
			return err
		}
		outcome = model.OutcomeDeleted
		return nil
	})
	if err != nil {
		return model.OutcomeNotFound, err
	}
	return outcome, nil
}

// checkProjectWritable verifies the project exists and is not archived.
func checkProjectWritable(ctx context.Context, q querier, projectID string) error {
	if projectID == "" {
		return invalid("projectId", "required")
	}
	var status model.ProjectStatus
	err := q.QueryRowContext(ctx, `SELECT status FROM projects WHERE id = ?`, projectID).Scan(&status)
	if err != nil {
		return wrapDBError("project "+projectID, err)
	}
	if status == model.ProjectArchived {
		return invalid("projectId", "project is archived")
	}
	return nil
}

// checkParent verifies parentID exists in the same project and, for an
// existing item, that the link would not form a cycle.
func checkParent(ctx context.Context, q querier, projectID, itemID, parentID string) error {
	if itemID != "" && parentID == itemID {
		return invalid("parentId", "an item cannot be its own parent")
	}
	var parentProject string
	err := q.QueryRowContext(ctx, `SELECT project_id FROM work_items WHERE id = ?`, parentID).Scan(&parentProject)
	if errors.Is(err, sql.ErrNoRows) {
		return invalid("parentId", "parent not found")
	}
	if err != nil {
		return fmt.Errorf("failed to check parent: %w", err)
	}
	if parentProject != projectID {
		return invalid("parentId", "parent belongs to another project")
	}
	if itemID != "" {
		cycle, err := isDescendant(ctx, q, itemID, parentID)
		if err != nil {
			return err
		}
		if cycle {
			return invalid("parentId", "parent is a descendant of the item")
		}
	}
	return nil
}

func checkAssignee(ctx context.Context, q querier, userID string) error {
	var active bool
	err := q.QueryRowContext(ctx, `SELECT active FROM users WHERE id = ?`, userID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !active) {
		return invalid("assigneeId", "no active user with that id")
	}
	if err != nil {
		return fmt.Errorf("failed to check assignee: %w", err)
	}
	return nil
}
