package db

import (
	"context"
	"testing"

	"github.com/baiirun/backlog/internal/model"
)

func TestListByProject_MostRecentlyUpdatedFirst(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	admin := mustUser(t, db, "alice", model.RoleAdmin)
	p := mustProject(t, db, "PROJ", nil, admin.ID)
	other := mustProject(t, db, "OTHER", nil, admin.ID)

	first := mustItem(t, db, p.ID, model.ItemTypeTask, nil, admin.ID)
	second := mustItem(t, db, p.ID, model.ItemTypeBug, nil, admin.ID)
	third := mustItem(t, db, p.ID, model.ItemTypeStory, nil, admin.ID)
	mustItem(t, db, other.ID, model.ItemTypeTask, nil, admin.ID)

	// Touching the oldest item moves it to the front.
	if _, err := db.UpdateStatus(ctx, first.ID, model.StatusInProgress, admin.ID); err != nil {
		t.Fatalf("failed to update: %v", err)
	}

	items, err := db.ListByProject(ctx, p.ID, ItemFilter{})
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	want := []string{first.ID, third.ID, second.ID}
	if len(items) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(items))
	}
	for i, id := range want {
		if items[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, items[i].ExternalID)
		}
	}
}

func TestListByProject_Filters(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	admin := mustUser(t, db, "alice", model.RoleAdmin)
	bob := mustUser(t, db, "bob", model.RoleUser)
	p := mustProject(t, db, "PROJ", nil, admin.ID)

	bug := mustItem(t, db, p.ID, model.ItemTypeBug, nil, admin.ID)
	task := mustItem(t, db, p.ID, model.ItemTypeTask, nil, admin.ID)
	mustItem(t, db, p.ID, model.ItemTypeTask, nil, admin.ID)

	if _, err := db.UpdateStatus(ctx, task.ID, model.StatusDone, admin.ID); err != nil {
		t.Fatalf("failed to update status: %v", err)
	}
	if _, err := db.UpdateWorkItem(ctx, bug.ID, model.WorkItemPatch{AssigneeID: &bob.ID}, admin.ID); err != nil {
		t.Fatalf("failed to assign: %v", err)
	}

	done := model.StatusDone
	typ := model.ItemTypeTask
	tests := []struct {
		name   string
		filter ItemFilter
		want   int
	}{
		{"all", ItemFilter{}, 3},
		{"status", ItemFilter{Status: &done}, 1},
		{"type", ItemFilter{Type: &typ}, 2},
		{"type and status", ItemFilter{Type: &typ, Status: &done}, 1},
		{"assignee", ItemFilter{AssigneeID: &bob.ID}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := db.ListByProject(ctx, p.ID, tt.filter)
			if err != nil {
				t.Fatalf("failed to list: %v", err)
			}
			if len(items) != tt.want {
				t.Errorf("expected %d items, got %d", tt.want, len(items))
			}
		})
	}

	bad := model.ItemType("SAGA")
	if _, err := db.ListByProject(ctx, p.ID, ItemFilter{Type: &bad}); err == nil {
		t.Error("expected an unknown type filter to be rejected")
	}
}

func TestListByParentAndAncestors(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	admin := mustUser(t, db, "alice", model.RoleAdmin)
	p := mustProject(t, db, "PROJ", nil, admin.ID)

	epic := mustItem(t, db, p.ID, model.ItemTypeEpic, nil, admin.ID)
	feature := mustItem(t, db, p.ID, model.ItemTypeFeature, &epic.ID, admin.ID)
	storyA := mustItem(t, db, p.ID, model.ItemTypeStory, &feature.ID, admin.ID)
	storyB := mustItem(t, db, p.ID, model.ItemTypeStory, &feature.ID, admin.ID)

	children, err := db.ListByParent(ctx, feature.ID)
	if err != nil {
		t.Fatalf("failed to list children: %v", err)
	}
	if len(children) != 2 || children[0].ID != storyB.ID || children[1].ID != storyA.ID {
		t.Errorf("expected [%s %s], got %+v", storyB.ExternalID, storyA.ExternalID, children)
	}

	has, err := db.HasChildren(ctx, epic.ID)
	if err != nil || !has {
		t.Errorf("expected epic to have children, got %v, %v", has, err)
	}
	has, err = db.HasChildren(ctx, storyA.ID)
	if err != nil || has {
		t.Errorf("expected story to be a leaf, got %v, %v", has, err)
	}

	chain, err := db.Ancestors(ctx, storyA.ID)
	if err != nil {
		t.Fatalf("failed to get ancestors: %v", err)
	}
	if len(chain) != 2 || chain[0].ID != epic.ID || chain[1].ID != feature.ID {
		t.Errorf("expected [epic feature], got %+v", chain)
	}

	root, err := db.Ancestors(ctx, epic.ID)
	if err != nil || len(root) != 0 {
		t.Errorf("expected no ancestors for a root, got %d, %v", len(root), err)
	}
}

func TestSummarize(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	admin := mustUser(t, db, "alice", model.RoleAdmin)
	p := mustProject(t, db, "PROJ", nil, admin.ID)

	var tasks []*model.WorkItem
	for i := 0; i < 5; i++ {
		tasks = append(tasks, mustItem(t, db, p.ID, model.ItemTypeTask, nil, admin.ID))
	}
	mustItem(t, db, p.ID, model.ItemTypeBug, nil, admin.ID)

	for _, item := range tasks[:4] {
		if _, err := db.UpdateStatus(ctx, item.ID, model.StatusDone, admin.ID); err != nil {
			t.Fatalf("failed to complete: %v", err)
		}
	}
	if _, err := db.UpdateStatus(ctx, tasks[4].ID, model.StatusInProgress, admin.ID); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	s, err := db.Summarize(ctx, p.ID)
	if err != nil {
		t.Fatalf("failed to summarize: %v", err)
	}
	if s.Total != 6 {
		t.Errorf("expected 6 items, got %d", s.Total)
	}
	if s.ByStatus[model.StatusDone] != 4 || s.ByStatus[model.StatusInProgress] != 1 || s.ByStatus[model.StatusTodo] != 1 {
		t.Errorf("unexpected status counts %v", s.ByStatus)
	}
	if s.ByType[model.ItemTypeTask] != 5 || s.ByType[model.ItemTypeBug] != 1 {
		t.Errorf("unexpected type counts %v", s.ByType)
	}
	if len(s.RecentDone) != 3 || s.RecentDone[0].ID != tasks[3].ID {
		t.Errorf("expected the last three completed, newest first, got %+v", s.RecentDone)
	}
	if len(s.InProgItems) != 1 || s.InProgItems[0].ID != tasks[4].ID {
		t.Errorf("expected one in-progress item, got %+v", s.InProgItems)
	}
}
