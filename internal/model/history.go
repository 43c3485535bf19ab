package model

import "time"

type ChangeType string

const (
	ChangeCreated ChangeType = "CREATED"
	ChangeUpdated ChangeType = "UPDATED"
	ChangeDeleted ChangeType = "DELETED"
)

// HistoryEntry is one immutable field change on one work item. ActorName is
// filled on reads from the users table and is empty when the actor is gone.
type HistoryEntry struct {
	ID         int64
	WorkItemID string
	UserID     string
	ActorName  string
	FieldName  string
	OldValue   *string
	NewValue   *string
	ChangeType ChangeType
	CreatedAt  time.Time
}
