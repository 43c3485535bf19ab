package db

import (
	"context"
	"fmt"

	"github.com/baiirun/backlog/internal/model"
)

// countChildren returns how many items name id as their parent.
func countChildren(ctx context.Context, q querier, id string) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM work_items WHERE parent_id = ?`, id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count children: %w", err)
	}
	return count, nil
}

// HasChildren reports whether any item names id as its parent.
func (db *DB) HasChildren(ctx context.Context, id string) (bool, error) {
	n, err := countChildren(ctx, db, id)
	return n > 0, err
}

// isDescendant reports whether candidateID sits somewhere below ancestorID.
func isDescendant(ctx context.Context, q querier, ancestorID, candidateID string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM work_items WHERE parent_id = ?
			UNION
			SELECT w.id FROM work_items w JOIN subtree s ON w.parent_id = s.id
		)
		SELECT COUNT(*) FROM subtree WHERE id = ?`, ancestorID, candidateID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to walk hierarchy: %w", err)
	}
	return count > 0, nil
}

// Ancestors returns the chain of parents above id, root first. The item
// itself is not included.
func (db *DB) Ancestors(ctx context.Context, id string) ([]model.WorkItem, error) {
	return db.queryWorkItems(ctx, `
		WITH RECURSIVE chain(id, parent_id, depth) AS (
			SELECT id, parent_id, 0 FROM work_items WHERE id = ?
			UNION ALL
			SELECT w.id, w.parent_id, c.depth + 1 FROM work_items w JOIN chain c ON w.id = c.parent_id
		)
		SELECT `+prefixedItemColumns("w")+`
		FROM chain c JOIN work_items w ON w.id = c.id
		WHERE c.depth > 0
		ORDER BY c.depth DESC`, id)
}
