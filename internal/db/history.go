package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/baiirun/backlog/internal/model"
)

// fieldChange is one old/new pair destined for the history ledger.
type fieldChange struct {
	field string
	old   *string
	new   *string
}

// RecordHistory appends an entry as given. Nothing is validated beyond
// what the schema requires: an audit trail keeps even a sloppy write.
func (db *DB) RecordHistory(ctx context.Context, entry *model.HistoryEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = db.now()
	}
	return recordHistory(ctx, db, entry)
}

func recordHistory(ctx context.Context, q querier, entry *model.HistoryEntry) error {
	result, err := q.ExecContext(ctx, `
		INSERT INTO work_item_history (work_item_id, user_id, field_name, old_value, new_value, change_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.WorkItemID, entry.UserID, entry.FieldName, entry.OldValue, entry.NewValue, entry.ChangeType, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}
	entry.ID, _ = result.LastInsertId()
	return nil
}

func recordChanges(ctx context.Context, q querier, itemID, actorID string, changes []fieldChange, at time.Time) error {
	for _, c := range changes {
		if err := recordHistory(ctx, q, &model.HistoryEntry{
			WorkItemID: itemID,
			UserID:     actorID,
			FieldName:  c.field,
			OldValue:   c.old,
			NewValue:   c.new,
			ChangeType: model.ChangeUpdated,
			CreatedAt:  at,
		}); err != nil {
			return err
		}
	}
	return nil
}

// FetchHistory returns the entries for a work item, newest first, with the
// actor's display name joined in. Entries survive deletion of the item and
// of the actor.
func (db *DB) FetchHistory(ctx context.Context, workItemID string) ([]model.HistoryEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT h.id, h.work_item_id, h.user_id, COALESCE(NULLIF(u.display_name, ''), u.username, ''),
		       h.field_name, h.old_value, h.new_value, h.change_type, h.created_at
		FROM work_item_history h
		LEFT JOIN users u ON u.id = h.user_id
		WHERE h.work_item_id = ?
		ORDER BY h.created_at DESC, h.id DESC`, workItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		var oldValue, newValue sql.NullString
		if err := rows.Scan(&e.ID, &e.WorkItemID, &e.UserID, &e.ActorName,
			&e.FieldName, &oldValue, &newValue, &e.ChangeType, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		if oldValue.Valid {
			e.OldValue = &oldValue.String
		}
		if newValue.Valid {
			e.NewValue = &newValue.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func strPtr(s string) *string { return &s }

func timeStr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	return strPtr(model.FormatTime(*t))
}

// optional maps "" to nil, the convention patches use to clear a field.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
