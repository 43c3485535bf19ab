package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/baiirun/backlog/internal/db"
	"github.com/baiirun/backlog/internal/model"
)

// flagJSON switches every command to JSON output. It is set from the
// resolved config before a command runs.
var flagJSON bool

type ItemJSON struct {
	ID          string  `json:"id"`
	ExternalID  string  `json:"external_id"`
	Type        string  `json:"type"`
	ProjectID   string  `json:"project_id"`
	Parent      *string `json:"parent,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status"`
	Priority    int     `json:"priority"`
	Assignee    *string `json:"assignee,omitempty"`
	Reporter    string  `json:"reporter"`
	StartDate   *string `json:"start_date,omitempty"`
	EndDate     *string `json:"end_date,omitempty"`
	CompletedAt *string `json:"completed_at,omitempty"`
	Version     int64   `json:"version"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// ItemShowJSON is an item with its ancestors, root first.
type ItemShowJSON struct {
	ItemJSON
	Lineage []ItemRefJSON `json:"lineage"`
}

type ItemRefJSON struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	Type       string `json:"type"`
	Title      string `json:"title"`
}

type HistoryJSON struct {
	ID         int64   `json:"id"`
	WorkItemID string  `json:"work_item_id"`
	Actor      string  `json:"actor"`
	Field      string  `json:"field"`
	OldValue   *string `json:"old_value"`
	NewValue   *string `json:"new_value"`
	ChangeType string  `json:"change_type"`
	CreatedAt  string  `json:"created_at"`
}

type ProjectJSON struct {
	ID          string  `json:"id"`
	Key         string  `json:"key"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	TeamID      *string `json:"team_id,omitempty"`
	Status      string  `json:"status"`
	CreatedBy   string  `json:"created_by"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

type SummaryJSON struct {
	ProjectID  string         `json:"project_id"`
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	ByType     map[string]int `json:"by_type"`
	RecentDone []ItemRefJSON  `json:"recent_done"`
	InProgress []ItemRefJSON  `json:"in_progress"`
}

type TeamJSON struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at"`
}

type MemberJSON struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	JoinedAt string `json:"joined_at"`
}

type UserJSON struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at,omitempty"`
}

type SessionJSON struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	ExpiresAt string `json:"expires_at"`
}

type OutcomeJSON struct {
	ID      string `json:"id"`
	Outcome string `json:"outcome"`
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(b))
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toItemJSON(item *model.WorkItem) ItemJSON {
	return ItemJSON{
		ID:          item.ID,
		ExternalID:  item.ExternalID,
		Type:        string(item.Type),
		ProjectID:   item.ProjectID,
		Parent:      item.ParentID,
		Title:       item.Title,
		Description: item.Description,
		Status:      string(item.Status),
		Priority:    item.Priority,
		Assignee:    item.AssigneeID,
		Reporter:    item.ReporterID,
		StartDate:   formatTimePtr(item.StartDate),
		EndDate:     formatTimePtr(item.EndDate),
		CompletedAt: formatTimePtr(item.CompletedAt),
		Version:     item.Version,
		CreatedAt:   formatTime(item.CreatedAt),
		UpdatedAt:   formatTime(item.UpdatedAt),
	}
}

func toItemRefs(items []model.WorkItem) []ItemRefJSON {
	refs := make([]ItemRefJSON, 0, len(items))
	for _, item := range items {
		refs = append(refs, ItemRefJSON{
			ID:         item.ID,
			ExternalID: item.ExternalID,
			Type:       string(item.Type),
			Title:      item.Title,
		})
	}
	return refs
}

func toHistoryJSON(entries []model.HistoryEntry) []HistoryJSON {
	out := make([]HistoryJSON, 0, len(entries))
	for _, e := range entries {
		actor := e.ActorName
		if actor == "" {
			actor = e.UserID
		}
		out = append(out, HistoryJSON{
			ID:         e.ID,
			WorkItemID: e.WorkItemID,
			Actor:      actor,
			Field:      e.FieldName,
			OldValue:   e.OldValue,
			NewValue:   e.NewValue,
			ChangeType: string(e.ChangeType),
			CreatedAt:  formatTime(e.CreatedAt),
		})
	}
	return out
}

func toProjectJSON(p *model.Project) ProjectJSON {
	return ProjectJSON{
		ID:          p.ID,
		Key:         p.Key,
		Name:        p.Name,
		Description: p.Description,
		TeamID:      p.TeamID,
		Status:      string(p.Status),
		CreatedBy:   p.CreatedBy,
		CreatedAt:   formatTime(p.CreatedAt),
		UpdatedAt:   formatTime(p.UpdatedAt),
	}
}

func toSummaryJSON(s *db.ProjectSummary) SummaryJSON {
	out := SummaryJSON{
		ProjectID:  s.ProjectID,
		Total:      s.Total,
		ByStatus:   map[string]int{},
		ByType:     map[string]int{},
		RecentDone: toItemRefs(s.RecentDone),
		InProgress: toItemRefs(s.InProgItems),
	}
	for status, n := range s.ByStatus {
		out.ByStatus[string(status)] = n
	}
	for typ, n := range s.ByType {
		out.ByType[string(typ)] = n
	}
	return out
}

func toTeamJSON(t *model.Team) TeamJSON {
	return TeamJSON{ID: t.ID, Name: t.Name, CreatedBy: t.CreatedBy, CreatedAt: formatTime(t.CreatedAt)}
}

func toUserJSON(u *model.User) UserJSON {
	out := UserJSON{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Role:        string(u.Role),
		Active:      u.Active,
	}
	if !u.CreatedAt.IsZero() {
		out.CreatedAt = formatTime(u.CreatedAt)
	}
	return out
}

func printItemLine(item *model.WorkItem) {
	fmt.Printf("%-10s %-8s %-12s P%d  %s\n", item.ExternalID, item.Type, item.Status, item.Priority, item.Title)
}

func printItems(items []model.WorkItem) error {
	if flagJSON {
		out := make([]ItemJSON, 0, len(items))
		for i := range items {
			out = append(out, toItemJSON(&items[i]))
		}
		return printJSON(out)
	}
	if len(items) == 0 {
		fmt.Println("No items")
		return nil
	}
	for i := range items {
		printItemLine(&items[i])
	}
	return nil
}

func printItem(item *model.WorkItem, lineage []model.WorkItem) error {
	if flagJSON {
		return printJSON(ItemShowJSON{ItemJSON: toItemJSON(item), Lineage: toItemRefs(lineage)})
	}

	fmt.Printf("%s: %s\n", item.ExternalID, item.Title)
	fmt.Printf("  ID:       %s\n", item.ID)
	fmt.Printf("  Type:     %s\n", item.Type)
	fmt.Printf("  Status:   %s\n", item.Status)
	fmt.Printf("  Priority: %d\n", item.Priority)
	if item.AssigneeID != nil {
		fmt.Printf("  Assignee: %s\n", *item.AssigneeID)
	}
	if item.StartDate != nil {
		fmt.Printf("  Start:    %s\n", formatTime(*item.StartDate))
	}
	if item.EndDate != nil {
		fmt.Printf("  End:      %s\n", formatTime(*item.EndDate))
	}
	if item.CompletedAt != nil {
		fmt.Printf("  Done:     %s\n", formatTime(*item.CompletedAt))
	}
	if len(lineage) > 0 {
		fmt.Print("  Lineage:  ")
		for _, a := range lineage {
			fmt.Printf("%s > ", a.ExternalID)
		}
		fmt.Println(item.ExternalID)
	}
	if item.Description != "" {
		fmt.Printf("\n%s\n", item.Description)
	}
	return nil
}

func printHistory(entries []model.HistoryEntry) error {
	out := toHistoryJSON(entries)
	if flagJSON {
		return printJSON(out)
	}
	if len(out) == 0 {
		fmt.Println("No history")
		return nil
	}
	for _, e := range out {
		fmt.Printf("%s  %-8s %-12s %s: %s -> %s\n", e.CreatedAt, e.ChangeType, e.Actor, e.Field, orNone(e.OldValue), orNone(e.NewValue))
	}
	return nil
}

func printSummary(s *db.ProjectSummary) error {
	out := toSummaryJSON(s)
	if flagJSON {
		return printJSON(out)
	}
	fmt.Printf("Total: %d\n", out.Total)
	for _, k := range sortedKeys(out.ByStatus) {
		fmt.Printf("  %-12s %d\n", k, out.ByStatus[k])
	}
	for _, k := range sortedKeys(out.ByType) {
		fmt.Printf("  %-12s %d\n", k, out.ByType[k])
	}
	for _, r := range out.InProgress {
		fmt.Printf("In progress: %s %s\n", r.ExternalID, r.Title)
	}
	for _, r := range out.RecentDone {
		fmt.Printf("Done: %s %s\n", r.ExternalID, r.Title)
	}
	return nil
}

func printOutcome(id string, outcome model.DeleteOutcome) error {
	if flagJSON {
		return printJSON(OutcomeJSON{ID: id, Outcome: outcome.String()})
	}
	switch outcome {
	case model.OutcomeDeleted:
		fmt.Printf("Deleted %s\n", id)
	case model.OutcomeBlockedByChildren:
		fmt.Printf("Not deleted: %s still has children\n", id)
	default:
		fmt.Printf("Not found: %s\n", id)
	}
	return nil
}

func orNone(s *string) string {
	if s == nil {
		return "(none)"
	}
	return *s
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
