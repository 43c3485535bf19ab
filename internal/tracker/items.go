package tracker

import (
	"context"
	"errors"
	"strings"

	"github.com/baiirun/backlog/internal/auth"
	"github.com/baiirun/backlog/internal/db"
	"github.com/baiirun/backlog/internal/model"
	"github.com/baiirun/backlog/internal/policy"
)

// CreateInput describes a new work item. Project and Parent accept an
// internal ID or a human-readable key (PROJ, PROJ-004), Assignee an ID or
// username. StartDate and EndDate take anything model.NormalizeDate
// understands; unparseable dates are stored as empty.
type CreateInput struct {
	Project     string
	Type        model.ItemType
	Title       string
	Description string
	Status      model.Status
	Priority    *int
	Parent      string
	Assignee    string
	StartDate   string
	EndDate     string
}

// CreateWorkItem creates an item in a project the actor can enter, if the
// actor's role may create items of that type.
func (t *Tracker) CreateWorkItem(ctx context.Context, actor auth.Actor, in CreateInput) (*model.WorkItem, error) {
	const op = "create work item"
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if in.Type == "" {
		return nil, &OpError{Op: op, Resource: "work item", Err: &ValidationError{Field: "type", Reason: "required"}}
	}
	if !in.Type.IsValid() {
		return nil, &OpError{Op: op, Resource: "work item", Err: &ValidationError{Field: "type", Reason: "unknown type " + string(in.Type)}}
	}

	project, err := t.gate(ctx, op, actor, in.Project)
	if err != nil {
		return nil, err
	}
	if policy.Can(actor.Role, policy.ActionCreate, in.Type) != policy.Allow {
		t.logDenied(op, actor, string(actor.Role)+" may not create "+string(in.Type), project.ID)
		return nil, forbidden(op)
	}

	item := &model.WorkItem{
		Type:        in.Type,
		ProjectID:   project.ID,
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		Priority:    model.DefaultPriority,
	}
	if in.Priority != nil {
		item.Priority = *in.Priority
	}
	if in.Parent != "" {
		parent, err := t.parentIn(ctx, op, "", in.Parent, project.ID)
		if err != nil {
			return nil, err
		}
		item.ParentID = &parent.ID
	}
	if in.Assignee != "" {
		id, err := t.assigneeID(ctx, op, in.Assignee)
		if err != nil {
			return nil, err
		}
		item.AssigneeID = &id
	}
	now := t.store.Now()
	if in.StartDate != "" {
		item.StartDate = model.NormalizeDate(in.StartDate, now)
	}
	if in.EndDate != "" {
		item.EndDate = model.NormalizeDate(in.EndDate, now)
	}

	if err := t.store.CreateWorkItem(ctx, item, actor.UserID); err != nil {
		return nil, classify(op, "project", project.Key, err)
	}
	t.logCreated("work_item", item.ID, actor)
	return item, nil
}

// GetWorkItem returns an item by internal or external ID.
func (t *Tracker) GetWorkItem(ctx context.Context, actor auth.Actor, ref string) (*model.WorkItem, error) {
	const op = "get work item"
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	item, err := t.findItem(ctx, ref)
	if err != nil {
		return nil, t.unseen(op, actor, "work item", ref, err)
	}
	if _, err := t.gate(ctx, op, actor, item.ProjectID); err != nil {
		return nil, err
	}
	return item, nil
}

// Lineage returns the ancestors of an item, root first.
func (t *Tracker) Lineage(ctx context.Context, actor auth.Actor, ref string) ([]model.WorkItem, error) {
	item, err := t.GetWorkItem(ctx, actor, ref)
	if err != nil {
		return nil, err
	}
	ancestors, err := t.store.Ancestors(ctx, item.ID)
	if err != nil {
		t.degraded("lineage", err)
		return nil, nil
	}
	return ancestors, nil
}

// UpdateStatus moves an item to status. Reaching DONE stamps completedAt.
func (t *Tracker) UpdateStatus(ctx context.Context, actor auth.Actor, ref string, status model.Status) (*model.WorkItem, error) {
	const op = "update status"
	item, err := t.editable(ctx, op, actor, ref)
	if err != nil {
		return nil, err
	}

	updated, err := t.store.UpdateStatus(ctx, item.ID, status, actor.UserID)
	if err != nil {
		return nil, classify(op, "work item", item.ExternalID, err)
	}
	t.logUpdated("work_item", updated.ID, actor)
	return updated, nil
}

// UpdateWorkItem merges patch into an item.
func (t *Tracker) UpdateWorkItem(ctx context.Context, actor auth.Actor, ref string, patch model.WorkItemPatch) (*model.WorkItem, error) {
	const op = "update work item"
	item, err := t.editable(ctx, op, actor, ref)
	if err != nil {
		return nil, err
	}

	if patch.ParentID != nil && *patch.ParentID != "" {
		parent, err := t.parentIn(ctx, op, item.ExternalID, *patch.ParentID, item.ProjectID)
		if err != nil {
			return nil, err
		}
		patch.ParentID = &parent.ID
	}
	if patch.AssigneeID != nil && *patch.AssigneeID != "" {
		id, err := t.assigneeID(ctx, op, *patch.AssigneeID)
		if err != nil {
			return nil, err
		}
		patch.AssigneeID = &id
	}

	updated, err := t.store.UpdateWorkItem(ctx, item.ID, patch, actor.UserID)
	if err != nil {
		return nil, classify(op, "work item", item.ExternalID, err)
	}
	t.logUpdated("work_item", updated.ID, actor)
	return updated, nil
}

// parentIn resolves a parent reference within projectID. A parent in any
// other project reads the same as a missing one.
func (t *Tracker) parentIn(ctx context.Context, op, itemID, ref, projectID string) (*model.WorkItem, error) {
	parent, err := t.findItem(ctx, ref)
	if errors.Is(err, db.ErrNotFound) || (err == nil && parent.ProjectID != projectID) {
		return nil, &OpError{Op: op, Resource: "work item", ID: itemID, Err: &ValidationError{Field: "parentId", Reason: "parent not found"}}
	}
	if err != nil {
		return nil, classify(op, "work item", itemID, err)
	}
	return parent, nil
}

// assigneeID resolves an assignee given as ID or username. Unknown users
// are a validation failure on the item, not a missing resource.
func (t *Tracker) assigneeID(ctx context.Context, op, ref string) (string, error) {
	user, err := t.findUser(ctx, ref)
	if errors.Is(err, db.ErrNotFound) {
		return "", &OpError{Op: op, Resource: "work item", Err: &ValidationError{Field: "assigneeId", Reason: "no active user with that id"}}
	}
	if err != nil {
		return "", classify(op, "user", ref, err)
	}
	return user.ID, nil
}

// editable loads an item and checks the actor may edit it.
func (t *Tracker) editable(ctx context.Context, op string, actor auth.Actor, ref string) (*model.WorkItem, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	item, err := t.findItem(ctx, ref)
	if err != nil {
		return nil, t.unseen(op, actor, "work item", ref, err)
	}
	if _, err := t.gate(ctx, op, actor, item.ProjectID); err != nil {
		return nil, err
	}
	if policy.Can(actor.Role, policy.ActionEdit, item.Type) != policy.Allow {
		t.logDenied(op, actor, string(actor.Role)+" may not edit "+string(item.Type), item.ProjectID)
		return nil, forbidden(op)
	}
	return item, nil
}

// DeleteWorkItem deletes a childless item. Blocked items are an outcome,
// not an error, and so are missing ones for admins. A role with no delete
// rights at all is refused before the item is looked up.
func (t *Tracker) DeleteWorkItem(ctx context.Context, actor auth.Actor, ref string) (model.DeleteOutcome, error) {
	const op = "delete work item"
	if err := requireActor(actor); err != nil {
		return model.OutcomeNotFound, err
	}
	if !canDeleteAny(actor.Role) {
		t.logDenied(op, actor, string(actor.Role)+" may not delete work items", "")
		return model.OutcomeNotFound, forbidden(op)
	}

	item, err := t.findItem(ctx, ref)
	if errors.Is(err, db.ErrNotFound) && actor.Role == model.RoleAdmin {
		return model.OutcomeNotFound, nil
	}
	if err != nil {
		return model.OutcomeNotFound, t.unseen(op, actor, "work item", ref, err)
	}
	if _, err := t.gate(ctx, op, actor, item.ProjectID); err != nil {
		return model.OutcomeNotFound, err
	}
	if policy.Can(actor.Role, policy.ActionDelete, item.Type) != policy.Allow {
		t.logDenied(op, actor, string(actor.Role)+" may not delete "+string(item.Type), item.ProjectID)
		return model.OutcomeNotFound, forbidden(op)
	}

	outcome, err := t.store.DeleteWorkItem(ctx, item.ID, actor.UserID)
	if err != nil {
		return model.OutcomeNotFound, classify(op, "work item", item.ExternalID, err)
	}
	if outcome == model.OutcomeDeleted {
		t.logDeleted("work_item", item.ID, actor)
	}
	return outcome, nil
}

func canDeleteAny(role model.Role) bool {
	for _, typ := range model.ItemTypes {
		if policy.Can(role, policy.ActionDelete, typ) == policy.Allow {
			return true
		}
	}
	return false
}

// ListByProject lists a project's items, most recently updated first. A
// store failure after the gate yields an empty list.
func (t *Tracker) ListByProject(ctx context.Context, actor auth.Actor, projectRef string, filter db.ItemFilter) ([]model.WorkItem, error) {
	const op = "list work items"
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	project, err := t.gate(ctx, op, actor, projectRef)
	if errors.Is(err, ErrStoreUnavailable) {
		t.degraded(op, err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	items, err := t.store.ListByProject(ctx, project.ID, filter)
	if err != nil {
		var verr *db.ValidationError
		if errors.As(err, &verr) {
			return nil, classify(op, "project", project.Key, err)
		}
		t.degraded(op, err)
		return nil, nil
	}
	return items, nil
}

// ListByParent lists an item's direct children.
func (t *Tracker) ListByParent(ctx context.Context, actor auth.Actor, parentRef string) ([]model.WorkItem, error) {
	const op = "list children"
	parent, err := t.GetWorkItem(ctx, actor, parentRef)
	if errors.Is(err, ErrStoreUnavailable) {
		t.degraded(op, err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	items, err := t.store.ListByParent(ctx, parent.ID)
	if err != nil {
		t.degraded(op, err)
		return nil, nil
	}
	return items, nil
}

// FetchHistory returns an item's history, newest first. History outlives
// its item, so admins may still read it by internal ID after a delete.
func (t *Tracker) FetchHistory(ctx context.Context, actor auth.Actor, ref string) ([]model.HistoryEntry, error) {
	const op = "fetch history"
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	itemID := ref
	item, err := t.findItem(ctx, ref)
	switch {
	case err == nil:
		if _, err := t.gate(ctx, op, actor, item.ProjectID); err != nil {
			return nil, err
		}
		itemID = item.ID
	case errors.Is(err, db.ErrNotFound) && actor.Role == model.RoleAdmin:
	default:
		return nil, t.unseen(op, actor, "work item", ref, err)
	}

	entries, err := t.store.FetchHistory(ctx, itemID)
	if err != nil {
		t.degraded(op, err)
		return nil, nil
	}
	return entries, nil
}

// Summarize reports a project's counts by status and type.
func (t *Tracker) Summarize(ctx context.Context, actor auth.Actor, projectRef string) (*db.ProjectSummary, error) {
	const op = "summarize project"
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	project, err := t.gate(ctx, op, actor, projectRef)
	if err != nil {
		return nil, err
	}

	summary, err := t.store.Summarize(ctx, project.ID)
	if err != nil {
		t.degraded(op, err)
		return &db.ProjectSummary{
			ProjectID: project.ID,
			ByStatus:  map[model.Status]int{},
			ByType:    map[model.ItemType]int{},
		}, nil
	}
	return summary, nil
}

// findItem looks ref up as an internal ID, then as an external ID.
func (t *Tracker) findItem(ctx context.Context, ref string) (*model.WorkItem, error) {
	item, err := t.store.GetWorkItem(ctx, ref)
	if !errors.Is(err, db.ErrNotFound) || !strings.Contains(ref, "-") {
		return item, err
	}
	return t.store.GetWorkItemByExternalID(ctx, strings.ToUpper(ref))
}
