package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/baiirun/backlog/internal/model"
)

// ItemFilter narrows ListByProject. Zero values match everything.
type ItemFilter struct {
	Status     *model.Status
	Type       *model.ItemType
	AssigneeID *string
}

// ListByProject returns a project's items, most recently updated first.
func (db *DB) ListByProject(ctx context.Context, projectID string, filter ItemFilter) ([]model.WorkItem, error) {
	query := `SELECT ` + itemColumns + ` FROM work_items WHERE project_id = ?`
	args := []any{projectID}

	if filter.Status != nil {
		if !filter.Status.IsValid() {
			return nil, invalid("status", fmt.Sprintf("malformed status %q", *filter.Status))
		}
		query += ` AND status = ?`
		args = append(args, *filter.Status)
	}
	if filter.Type != nil {
		if !filter.Type.IsValid() {
			return nil, invalid("type", fmt.Sprintf("unknown type %q", *filter.Type))
		}
		query += ` AND type = ?`
		args = append(args, *filter.Type)
	}
	if filter.AssigneeID != nil {
		query += ` AND assignee_id = ?`
		args = append(args, *filter.AssigneeID)
	}
	query += ` ORDER BY updated_at DESC, rowid DESC`

	return db.queryWorkItems(ctx, query, args...)
}

// ListByParent returns the direct children of an item, most recently
// updated first.
func (db *DB) ListByParent(ctx context.Context, parentID string) ([]model.WorkItem, error) {
	return db.queryWorkItems(ctx, `
		SELECT `+itemColumns+` FROM work_items
		WHERE parent_id = ?
		ORDER BY updated_at DESC, rowid DESC`, parentID)
}

// ProjectSummary contains aggregated project status.
type ProjectSummary struct {
	ProjectID   string
	Total       int
	ByStatus    map[model.Status]int
	ByType      map[model.ItemType]int
	RecentDone  []model.WorkItem // last 3 completed
	InProgItems []model.WorkItem // current in-progress
}

// Summarize returns counts by status and type plus the recently completed
// and in-progress items of a project.
func (db *DB) Summarize(ctx context.Context, projectID string) (*ProjectSummary, error) {
	report := &ProjectSummary{
		ProjectID: projectID,
		ByStatus:  map[model.Status]int{},
		ByType:    map[model.ItemType]int{},
	}

	rows, err := db.QueryContext(ctx, `
		SELECT status, type, COUNT(*) FROM work_items
		WHERE project_id = ?
		GROUP BY status, type`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var status model.Status
		var itemType model.ItemType
		var count int
		if err := rows.Scan(&status, &itemType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan item count: %w", err)
		}
		report.ByStatus[status] += count
		report.ByType[itemType] += count
		report.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate item counts: %w", err)
	}

	inProg := model.StatusInProgress
	report.InProgItems, err = db.ListByProject(ctx, projectID, ItemFilter{Status: &inProg})
	if err != nil {
		return nil, err
	}

	report.RecentDone, err = db.queryWorkItems(ctx, `
		SELECT `+itemColumns+` FROM work_items
		WHERE project_id = ? AND status = ?
		ORDER BY completed_at DESC, rowid DESC LIMIT 3`, projectID, model.StatusDone)
	if err != nil {
		return nil, err
	}

	return report, nil
}

// prefixedItemColumns qualifies itemColumns with a table alias.
func prefixedItemColumns(alias string) string {
	cols := strings.Split(itemColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// queryWorkItems is a helper to scan work item rows.
func (db *DB) queryWorkItems(ctx context.Context, query string, args ...any) ([]model.WorkItem, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query work items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}
