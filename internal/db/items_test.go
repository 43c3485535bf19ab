package db

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/baiirun/backlog/internal/model"
)

func TestCreateWorkItem_SequentialExternalIDs(t *testing.T) {
	db := setupTestDB(t)
	admin := mustUser(t, db, "alice", model.RoleAdmin)
	p := mustProject(t, db, "PROJ", nil, admin.ID)

	for i := 1; i <= 12; i++ {
		item := mustItem(t, db, p.ID, model.ItemTypeTask, nil, admin.ID)
		want := fmt.Sprintf("PROJ-%03d", i)
		if item.ExternalID != want {
			t.Errorf("item %d: expected %s, got %s", i, want, item.ExternalID)
		}
		if item.ReporterID != admin.ID {
			t.Errorf("expected reporter %s, got %s", admin.ID, item.ReporterID)
		}
		if item.Status != model.StatusTodo {
			t.Errorf("expected default status TODO, got %s", item.Status)
		}
		if item.Version != 1 {
			t.Errorf("expected version 1, got %d", item.Version)
		}
	}
}

func TestCreateWorkItem_CountersArePerProject(t *testing.T) {
	db := setupTestDB(t)
	admin := mustUser(t, db, "alice", model.RoleAdmin)
	a := mustProject(t, db, "AAA", nil, admin.ID)
	b := mustProject(t, db, "BBB", nil, admin.ID)

	mustItem(t, db, a.ID, model.ItemTypeTask, nil, admin.ID)
	mustItem(t, db, a.ID, model.ItemTypeTask, nil, admin.ID)
	got := mustItem(t, db, b.ID, model.ItemTypeTask, nil, admin.ID)

	if got.ExternalID != "BBB-001" {
		t.Errorf("expected BBB-001, got %s", got.ExternalID)
	}
}

func TestCreateWorkItem_NumbersNotReusedAfterDelete(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	admin := mustUser(t, db, "alice", model.RoleAdmin)
	p := mustProject(t, db, "PROJ", nil, admin.ID)

	mustItem(t, db, p.ID, model.ItemTypeTask, nil, admin.ID)
	second := mustItem(t, db, p.ID, model.ItemTypeTask, nil, admin.ID)
	if _, err := db.DeleteWorkItem(ctx, second.ID, admin.ID); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}

	third := mustItem(t, db, p.ID, model.ItemTypeTask, nil, admin.ID)
	if third.ExternalID != "PROJ-003" {
		t.Errorf("expected PROJ-003 after a deletion, got %s", third.ExternalID)
	}
}

func TestCreateWorkItem_Concurrent(t *testing.T) {
	db := setupTestDB(t)
	admin := mustUser(t, db, "alice", model.RoleAdmin)
	p := mustProject(t, db, "RACE", nil, admin.ID)

	const n = 20
	ids := make([]string, n)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			item := &model.WorkItem{Type: model.ItemTypeBug, ProjectID: p.ID, Title: "race", Priority: 2}
			if err := db.CreateWorkItem(ctx, item, admin.ID); err != nil {
				return err
			}
			ids[i] = item.ExternalID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent create failed: %v", err)
	}

	pattern := regexp.MustCompile(`^RACE-\d{3,}$`)
	seen := map[string]bool{}
	for _, id := range ids {
		if !pattern.MatchString(id) {
			t.Errorf("malformed external id %q", id)
		}
		if seen[id] {
			t.Errorf("duplicate external id %s", id)
		}
		seen[id] = true
	}
}

func TestCreateWorkItem_Validation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	admin := mustUser(t, db, "alice", model.RoleAdmin)
	p := mustProject(t, db, "PROJ", nil, admin.ID)
	other := mustProject(t, db, "OTHER", nil, admin.ID)
	foreign := mustItem(t, db, other.ID, model.ItemTypeEpic, nil, admin.ID)

	archived := mustProject(t, db, "OLD", nil, admin.ID)
	status := model.ProjectArchived
	if _, err := db.UpdateProject(ctx, archived.ID, model.ProjectPatch{Status: &status}); err != nil {
		t.Fatalf("failed to archive: %v", err)
	}

	missing := "no-such-user"
	tests := []struct {
		name  string
		item  model.WorkItem
		field string
	}{
		{"missing type", model.WorkItem{ProjectID: p.ID, Title: "x"}, "type"},
		{"unknown type", model.WorkItem{Type: "INITIATIVE", ProjectID: p.ID, Title: "x"}, "type"},
		{"blank title", model.WorkItem{Type: model.ItemTypeTask, ProjectID: p.ID, Title: "  "}, "title"},
		{"bad status", model.WorkItem{Type: model.ItemTypeTask, ProjectID: p.ID, Title: "x", Status: "done!"}, "status"},
		{"priority too high", model.WorkItem{Type: model.ItemTypeTask, ProjectID: p.ID, Title: "x", Priority: 9}, "priority"},
		{"parent in other project", model.WorkItem{Type: model.ItemTypeTask, ProjectID: p.ID, Title: "x", ParentID: &foreign.ID}, "parentId"},
		{"unknown assignee", model.WorkItem{Type: model.ItemTypeTask, ProjectID: p.ID, Title: "x", AssigneeID: &missing}, "assigneeId"},
		{"archived project", model.WorkItem{Type: model.ItemTypeTask, ProjectID: archived.ID, Title: "x"}, "projectId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := tt.item
			err := db.CreateWorkItem(ctx, &item, admin.ID)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, verr.Field)
			}
		})
	}

	items, err := db.ListByProject(ctx, p.ID, ItemFilter{})
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected no items written by rejected creates, got %d", len(items))
	}
}

func TestCreateWorkItem_UnknownProject(t *testing.T) {
	db := setupTestDB(t)
	admin := mustUser(t, db, "alice", model.RoleAdmin)

	item := &model.WorkItem{Type: model.ItemTypeTask, ProjectID: "nope", Title: "x"}
	err := db.CreateWorkItem(context.Background(), item, admin.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateWorkItem_CreatedAsDone(t *testing.T) {
	db := setupTestDB(t)
	admin := mustUser(t, db, "alice", model.RoleAdmin)
	p := mustProject(t, db, "PROJ", nil, admin.ID)

	item := &model.WorkItem{Type: model.ItemTypeTask, ProjectID: p.ID, Title: "already done", Status: model.StatusDone}
	if err := db.CreateWorkItem(context.Background(), item, admin.ID); err != nil {
		t.Fatalf("failed to create: %v", err)
	}
	if item.CompletedAt == nil {
		t.Error("expected completedAt for an item created as DONE")
	}
}

func TestGetWorkItemByExternalID(t *testing.T) {
	db := setupTestDB(t)
	admin := mustUser(t, db, "alice", model.RoleAdmin)
	p := mustProject(t, db, "PROJ", nil, admin.ID)
	item := mustItem(t, db, p.ID, model.ItemTypeStory, nil, admin.ID)

	got, err := db.GetWorkItemByExternalID(context.Background(), "proj-001")
	if err != nil {
		t.Fatalf("failed to get by external id: %v", err)
	}
	if got.ID != item.ID {
		t.Errorf("expected %s, got %s", item.ID, got.ID)
	}

	if _, err := db.GetWorkItemByExternalID(context.Background(), "PROJ-999"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateStatus_DoneStampsCompletedAt(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	admin := mustUser(t, db, "alice", model.RoleAdmin)
	p := mustProject(t, db, "PROJ", nil, admin.ID)
	item := mustItem(t, db, p.ID, model.ItemTypeTask, nil, admin.ID)

	doneAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	db.SetClock(func() time.Time { return doneAt })

	done, err := db.UpdateStatus(ctx, item.ID, model.StatusDone, admin.ID)
	if err != nil {
		t.Fatalf("failed to set DONE: %v", err)
	}
	if done.CompletedAt == nil || !done.CompletedAt.Equal(doneAt) {
		t.Fatalf("expected completedAt %v, got %v", doneAt, done.CompletedAt)
	}

	db.SetClock(func() time.Time { return doneAt.Add(time.Hour) })
	reopened, err := db.UpdateStatus(ctx, item.ID, model.StatusTodo, admin.ID)
	if err != nil {
		t.Fatalf("failed to set TODO: %v", err)
	}
	if reopened.CompletedAt == nil || !reopened.CompletedAt.Equal(doneAt) {
		t.Errorf("expected completedAt to stay %v after reopening, got %v", doneAt, reopened.CompletedAt)
	}

	stored, err := db.GetWorkItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("failed to reload: %v", err)
	}
	if stored.Status != model.StatusTodo {
		t.Errorf("expected TODO, got %s", stored.Status)
	}
	if stored.CompletedAt == nil || !stored.CompletedAt.Equal(doneAt) {
		t.Errorf("expected stored completedAt %v, got %v", doneAt, stored.CompletedAt)
	}
	if stored.Version != 3 {
		t.Errorf("expected version 3 after two updates, got %d", stored.Version)
	}
}

func TestUpdateStatus_OpenSet(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	admin := mustUser(t, db, "alice", model.RoleAdmin)
	p := mustProject(t, db, "PROJ", nil, admin.ID)
	item := mustItem(t, db, p.ID, model.ItemTypeTask, nil, admin.ID)

	got, err := db.UpdateStatus(ctx, item.ID, "BLOCKED", admin.ID)
	if err != nil {
		t.Fatalf("failed to set custom status: %v", err)
	}
	if got.CompletedAt != nil {
		t.Error("expected no completedAt for a non-DONE status")
	}

	if _, err := db.UpdateStatus(ctx, item.ID, "not valid", admin.ID); err == nil {
		t.Error("expected malformed status to be rejected")
	}
}

func TestUpdateStatus_NotFound(t *testing.T) {
	db := setupTestDB(t)
	admin := mustUser(t, db, "alice", model.RoleAdmin)

	_, err := db.UpdateStatus(context.Background(), "missing", model.StatusDone, admin.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateWorkItem_RecordsFieldDeltas(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	admin := mustUser(t, db, "alice", model.RoleAdmin)
	bob := mustUser(t, db, "bob", model.RoleUser)
	p := mustProject(t, db, "PROJ", nil, admin.ID)
	item := mustItem(t, db, p.ID, model.ItemTypeTask, nil, admin.ID)

	title := "Renamed"
	priority := 0
	start := "2024-03-01"
	patch := model.WorkItemPatch{Title: &title, Priority: &priority, AssigneeID: &bob.ID, StartDate: &start}

	got, err := db.UpdateWorkItem(ctx, item.ID, patch, admin.ID)
	if err != nil {
		t.Fatalf("failed to update: %v", err)
	}
	if got.Title != "Renamed" || got.Priority != 0 {
		t.Errorf("unexpected fields after update: %+v", got)
	}
	if got.AssigneeID == nil || *got.AssigneeID != bob.ID {
		t.Errorf("expected assignee %s, got %v", bob.ID, got.AssigneeID)
	}
	wantStart := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if got.StartDate == nil || !got.StartDate.Equal(wantStart) {
		t.Errorf("expected start date %v, got %v", wantStart, got.StartDate)
	}

	entries, err := db.FetchHistory(ctx, item.ID)
	if err != nil {
		t.Fatalf("failed to fetch history: %v", err)
	}
	byField := map[string]model.HistoryEntry{}
	for _, e := range entries {
		if e.ChangeType == model.ChangeUpdated {
			byField[e.FieldName] = e
		}
	}
	if len(byField) != 4 {
		t.Fatalf("expected 4 field entries, got %d: %+v", len(byField), byField)
	}

	titleEntry := byField["title"]
	if titleEntry.OldValue == nil || *titleEntry.OldValue != "A task" {
		t.Errorf("expected old title 'A task', got %v", titleEntry.OldValue)
	}
	if titleEntry.NewValue == nil || *titleEntry.NewValue != "Renamed" {
		t.Errorf("expected new title 'Renamed', got %v", titleEntry.NewValue)
	}
	if e := byField["priority"]; e.OldValue == nil || *e.OldValue != "2" || *e.NewValue != "0" {
		t.Errorf("unexpected priority entry %+v", e)
	}
	if e := byField["startDate"]; e.OldValue != nil || e.NewValue == nil || *e.NewValue != "2024-03-01T00:00:00Z" {
		t.Errorf("unexpected startDate entry %+v", e)
	}
}

func TestUpdateWorkItem_MalformedDateBecomesNull(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	admin := mustUser(t, db, "alice", model.RoleAdmin)
	p := mustProject(t, db, "PROJ", nil, admin.ID)
	item := mustItem(t, db, p.ID, model.ItemTypeTask, nil, admin.ID)

	end := "2024-05-01T10:00:00Z"
	if _, err := db.UpdateWorkItem(ctx, item.ID, model.WorkItemPatch{EndDate: &end}, admin.ID); err != nil {
		t.Fatalf("failed to set end date: %v", err)
	}

	garbage := "sometime-ish"
	title := "Still updated"
	got, err := db.UpdateWorkItem(ctx, item.ID, model.WorkItemPatch{EndDate: &garbage, Title: &title}, admin.ID)
	if err != nil {
		t.Fatalf("malformed date must not fail the update: %v", err)
	}
	if got.EndDate != nil {
		t.Errorf("expected end date coerced to null, got %v", got.EndDate)
	}
	if got.Title != title {
		t.Errorf("expected the rest of the patch applied, got title %q", got.Title)
	}
}

func TestUpdateWorkItem_NoDeltaBumpsUpdatedAt(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	admin := mustUser(t, db, "alice", model.RoleAdmin)
	p := mustProject(t, db, "PROJ", nil, admin.ID)
	item := mustItem(t, db, p.ID, model.ItemTypeTask, nil, admin.ID)

	same := item.Title
	got, err := db.UpdateWorkItem(ctx, item.ID, model.WorkItemPatch{Title: &same}, admin.ID)
	if err != nil {
		t.Fatalf("failed to update: %v", err)
	}
	if !got.UpdatedAt.After(item.UpdatedAt) {
		t.Errorf("expected updatedAt to advance past %v, got %v", item.UpdatedAt, got.UpdatedAt)
	}

	entries, err := db.FetchHistory(ctx, item.ID)
	if err != nil {
		t.Fatalf("failed to fetch history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected CREATED plus one UPDATED entry, got %d", len(entries))
	}
	if entries[0].FieldName != "updatedAt" || entries[0].ChangeType != model.ChangeUpdated {
		t.Errorf("expected an updatedAt entry, got %+v", entries[0])
	}
}

func TestUpdateWorkItem_ParentRules(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	admin := mustUser(t, db, "alice", model.RoleAdmin)
	p := mustProject(t, db, "PROJ", nil, admin.ID)
	epic := mustItem(t, db, p.ID, model.ItemTypeEpic, nil, admin.ID)
	feature := mustItem(t, db, p.ID, model.ItemTypeFeature, &epic.ID, admin.ID)
	story := mustItem(t, db, p.ID, model.ItemTypeStory, &feature.ID, admin.ID)

	tests := []struct {
		name   string
		itemID string
		parent string
	}{
		{"self", epic.ID, epic.ID},
		{"grandchild", epic.ID, story.ID},
		{"child", feature.ID, story.ID},
		{"missing", story.ID, "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent := tt.parent
			_, err := db.UpdateWorkItem(ctx, tt.itemID, model.WorkItemPatch{ParentID: &parent}, admin.ID)
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != "parentId" {
				t.Errorf("expected parentId validation error, got %v", err)
			}
		})
	}

	clear := ""
	got, err := db.UpdateWorkItem(ctx, story.ID, model.WorkItemPatch{ParentID: &clear}, admin.ID)
	if err != nil {
		t.Fatalf("failed to clear parent: %v", err)
	}
	if got.ParentID != nil {
		t.Errorf("expected parent cleared, got %v", *got.ParentID)
	}
}

func TestWriteItem_StaleVersionConflicts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	admin := mustUser(t, db, "alice", model.RoleAdmin)
	p := mustProject(t, db, "PROJ", nil, admin.ID)
	item := mustItem(t, db, p.ID, model.ItemTypeTask, nil, admin.ID)

	stale := *item
	if _, err := db.UpdateStatus(ctx, item.ID, model.StatusInProgress, admin.ID); err != nil {
		t.Fatalf("failed to update: %v", err)
	}

	err := writeItem(ctx, db, &stale, db.now())
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for a stale version, got %v", err)
	}
	if !isRetryable(err) {
		t.Error("expected a version conflict to be retryable")
	}
}

func TestUpdateStatus_ConcurrentWritersAllLand(t *testing.T) {
	db := setupTestDB(t)
	admin := mustUser(t, db, "alice", model.RoleAdmin)
	p := mustProject(t, db, "PROJ", nil, admin.ID)
	item := mustItem(t, db, p.ID, model.ItemTypeTask, nil, admin.ID)

	const n = 10
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		status := model.StatusInProgress
		if i%2 == 1 {
			status = model.StatusInReview
		}
		g.Go(func() error {
			_, err := db.UpdateStatus(ctx, item.ID, status, admin.ID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent status update failed: %v", err)
	}

	got, err := db.GetWorkItem(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("failed to reload: %v", err)
	}
	if got.Version != 1+n {
		t.Errorf("expected version %d, got %d", 1+n, got.Version)
	}
}

func TestDeleteWorkItem_BlockedByChildren(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	admin := mustUser(t, db, "alice", model.RoleAdmin)
	p := mustProject(t, db, "PROJ", nil, admin.ID)
	parent := mustItem(t, db, p.ID, model.ItemTypeFeature, nil, admin.ID)
	child := mustItem(t, db, p.ID, model.ItemTypeStory, &parent.ID, admin.ID)

	outcome, err := db.DeleteWorkItem(ctx, parent.ID, admin.ID)
	if err != nil {
		t.Fatalf("blocked delete must not be an error: %v", err)
	}
	if outcome != model.OutcomeBlockedByChildren {
		t.Fatalf("expected blocked_by_children, got %s", outcome)
	}

	for _, id := range []string{parent.ID, child.ID} {
		if _, err := db.GetWorkItem(ctx, id); err != nil {
			t.Errorf("expected %s to survive a blocked delete: %v", id, err)
		}
	}
	entries, err := db.FetchHistory(ctx, parent.ID)
	if err != nil {
		t.Fatalf("failed to fetch history: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the CREATED entry after a blocked delete, got %d", len(entries))
	}

	// Once the child goes, the parent can.
	if outcome, _ := db.DeleteWorkItem(ctx, child.ID, admin.ID); outcome != model.OutcomeDeleted {
		t.Fatalf("expected child deleted, got %s", outcome)
	}
	if outcome, _ := db.DeleteWorkItem(ctx, parent.ID, admin.ID); outcome != model.OutcomeDeleted {
		t.Errorf("expected parent deleted, got %s", outcome)
	}
}

func TestDeleteWorkItem_NotFound(t *testing.T) {
	db := setupTestDB(t)
	admin := mustUser(t, db, "alice", model.RoleAdmin)

	outcome, err := db.DeleteWorkItem(context.Background(), "missing", admin.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != model.OutcomeNotFound {
		t.Errorf("expected not_found, got %s", outcome)
	}
}

func TestDeleteWorkItem_HistoryOutlivesItem(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	admin := mustUser(t, db, "alice", model.RoleAdmin)
	p := mustProject(t, db, "PROJ", nil, admin.ID)
	item := mustItem(t, db, p.ID, model.ItemTypeBug, nil, admin.ID)

	if _, err := db.DeleteWorkItem(ctx, item.ID, admin.ID); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if _, err := db.GetWorkItem(ctx, item.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected item gone, got %v", err)
	}

	entries, err := db.FetchHistory(ctx, item.ID)
	if err != nil {
		t.Fatalf("failed to fetch history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected CREATED and DELETED entries, got %d", len(entries))
	}
	if entries[0].ChangeType != model.ChangeDeleted {
		t.Errorf("expected newest entry DELETED, got %s", entries[0].ChangeType)
	}
	if entries[0].OldValue == nil || *entries[0].OldValue != "PROJ-001" {
		t.Errorf("expected DELETED entry to carry the external id, got %v", entries[0].OldValue)
	}
}
