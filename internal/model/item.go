// Package model defines the entities of the backlog tracker: work items,
// projects, teams, users and the history ledger.
package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ItemType string

const (
	ItemTypeEpic    ItemType = "EPIC"
	ItemTypeFeature ItemType = "FEATURE"
	ItemTypeStory   ItemType = "STORY"
	ItemTypeTask    ItemType = "TASK"
	ItemTypeBug     ItemType = "BUG"
)

// ItemTypes lists every work item type from coarsest to finest.
var ItemTypes = []ItemType{ItemTypeEpic, ItemTypeFeature, ItemTypeStory, ItemTypeTask, ItemTypeBug}

func (t ItemType) IsValid() bool {
	switch t {
	case ItemTypeEpic, ItemTypeFeature, ItemTypeStory, ItemTypeTask, ItemTypeBug:
		return true
	}
	return false
}

// ParseItemType accepts any letter case ("story", "Story").
func ParseItemType(s string) (ItemType, error) {
	t := ItemType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("invalid item type: %q (want one of epic, feature, story, task, bug)", s)
	}
	return t, nil
}

// Status is an open set of upper-case tokens. Only DONE carries behavior.
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusInReview   Status = "IN_REVIEW"
	StatusDone       Status = "DONE"
)

var statusRe = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

func (s Status) IsValid() bool {
	return statusRe.MatchString(string(s))
}

// NormalizeStatus upper-cases s and folds spaces and dashes to underscores,
// so "in progress" and "in-progress" both become IN_PROGRESS.
func NormalizeStatus(s string) Status {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	return Status(s)
}

const DefaultPriority = 2

type WorkItem struct {
	ID          string
	ExternalID  string
	Type        ItemType
	ProjectID   string
	ParentID    *string
	Title       string
	Description string
	Status      Status
	Priority    int
	AssigneeID  *string
	ReporterID  string
	StartDate   *time.Time
	EndDate     *time.Time
	CompletedAt *time.Time
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// WorkItemPatch is a field-level merge for UpdateWorkItem. Nil fields are
// left alone. For AssigneeID and ParentID an empty string clears the field.
// StartDate and EndDate carry raw input; see NormalizeDate.
type WorkItemPatch struct {
	Title       *string
	Description *string
	Priority    *int
	AssigneeID  *string
	ParentID    *string
	StartDate   *string
	EndDate     *string
}

// IsEmpty reports whether the patch names no fields at all.
func (p WorkItemPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Priority == nil &&
		p.AssigneeID == nil && p.ParentID == nil && p.StartDate == nil && p.EndDate == nil
}

// GenerateID returns a new opaque internal identifier.
func GenerateID() string {
	return uuid.NewString()
}

// FormatExternalID renders the human-readable identifier for the n-th item
// of a project, padded to at least three digits: PROJ-007, PROJ-1234.
func FormatExternalID(projectKey string, n int64) string {
	return fmt.Sprintf("%s-%03d", projectKey, n)
}

// DeleteOutcome distinguishes the results of a delete that did not fail.
type DeleteOutcome int

const (
	OutcomeNotFound DeleteOutcome = iota
	OutcomeDeleted
	OutcomeBlockedByChildren
)

func (o DeleteOutcome) String() string {
	switch o {
	case OutcomeDeleted:
		return "deleted"
	case OutcomeBlockedByChildren:
		return "blocked_by_children"
	default:
		return "not_found"
	}
}
