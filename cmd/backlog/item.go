package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/baiirun/backlog/internal/db"
	"github.com/baiirun/backlog/internal/model"
	"github.com/baiirun/backlog/internal/tracker"
)

func newItemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "item",
		Aliases: []string{"items"},
		Short:   "Manage work items",
	}
	cmd.AddCommand(
		newItemAddCmd(),
		newItemShowCmd(),
		newItemUpdateCmd(),
		newItemStatusCmd(),
		newItemDeleteCmd(),
		newItemListCmd(),
		newItemChildrenCmd(),
		newItemHistoryCmd(),
	)
	return cmd
}

var itemAddLong = `Create a work item in a project.

Types are epic, feature, story, task and bug. Which types you may create
depends on your role: scrum masters may not create epics, users may only
create stories, tasks and bugs.

Dates accept 2024-03-01, RFC3339 or phrases like "next friday". A date
that cannot be read is left empty.`

func newItemAddCmd() *cobra.Command {
	var (
		description, status, parent, assignee, start, end string
		priority                                          int
	)
	cmd := &cobra.Command{
		Use:   "add <project> <type> <title>",
		Short: "Create a work item",
		Long:  itemAddLong,
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := model.ParseItemType(args[1])
			if err != nil {
				return usageError("type", err)
			}
			in := tracker.CreateInput{
				Project:     args[0],
				Type:        typ,
				Title:       strings.Join(args[2:], " "),
				Description: description,
				Parent:      parent,
				Assignee:    assignee,
				StartDate:   start,
				EndDate:     end,
			}
			if status != "" {
				in.Status = model.NormalizeStatus(status)
			}
			if cmd.Flags().Changed("priority") {
				in.Priority = &priority
			}

			actor, err := currentActor(cmd.Context())
			if err != nil {
				return err
			}
			item, err := app.CreateWorkItem(cmd.Context(), actor, in)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(toItemJSON(item))
			}
			fmt.Printf("Created %s (%s)\n", item.ExternalID, item.ID)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&description, "description", "d", "", "item description")
	flags.StringVarP(&status, "status", "s", "", "initial status (default TODO)")
	flags.IntVarP(&priority, "priority", "p", model.DefaultPriority, "priority, 0 (critical) to 4 (lowest)")
	flags.StringVar(&parent, "parent", "", "parent item, by ID or key")
	flags.StringVar(&assignee, "assignee", "", "assignee, by ID or username")
	flags.StringVar(&start, "start", "", "start date")
	flags.StringVar(&end, "end", "", "end date")
	return cmd
}

func newItemShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <item>",
		Short: "Show an item and its ancestors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor(cmd.Context())
			if err != nil {
				return err
			}
			item, err := app.GetWorkItem(cmd.Context(), actor, args[0])
			if err != nil {
				return err
			}
			lineage, err := app.Lineage(cmd.Context(), actor, item.ID)
			if err != nil {
				return err
			}
			return printItem(item, lineage)
		},
	}
}

func newItemUpdateCmd() *cobra.Command {
	var (
		title, description, parent, assignee, start, end string
		priority                                         int
	)
	cmd := &cobra.Command{
		Use:   "update <item>",
		Short: "Change an item's fields",
		Long: `Change an item's fields. Only the flags given are applied and each change
is recorded in the item's history. --parent "" and --assignee "" clear the
field. Use 'backlog item status' to move an item through its workflow.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch model.WorkItemPatch
			flags := cmd.Flags()
			if flags.Changed("title") {
				patch.Title = &title
			}
			if flags.Changed("description") {
				patch.Description = &description
			}
			if flags.Changed("priority") {
				patch.Priority = &priority
			}
			if flags.Changed("parent") {
				patch.ParentID = &parent
			}
			if flags.Changed("assignee") {
				patch.AssigneeID = &assignee
			}
			if flags.Changed("start") {
				patch.StartDate = &start
			}
			if flags.Changed("end") {
				patch.EndDate = &end
			}
			if patch.IsEmpty() {
				return usageError("flags", errors.New("nothing to update"))
			}

			actor, err := currentActor(cmd.Context())
			if err != nil {
				return err
			}
			item, err := app.UpdateWorkItem(cmd.Context(), actor, args[0], patch)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(toItemJSON(item))
			}
			fmt.Printf("Updated %s\n", item.ExternalID)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&title, "title", "", "new title")
	flags.StringVarP(&description, "description", "d", "", "new description")
	flags.IntVarP(&priority, "priority", "p", model.DefaultPriority, "new priority, 0 to 4")
	flags.StringVar(&parent, "parent", "", "new parent, by ID or key")
	flags.StringVar(&assignee, "assignee", "", "new assignee, by ID or username")
	flags.StringVar(&start, "start", "", "new start date")
	flags.StringVar(&end, "end", "", "new end date")
	return cmd
}

func newItemStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <item> <status>",
		Short: "Set an item's status",
		Long: `Set an item's status. Any upper-case token is accepted ("in progress" becomes
IN_PROGRESS). Moving to DONE stamps the completion time.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := model.NormalizeStatus(strings.Join(args[1:], " "))
			actor, err := currentActor(cmd.Context())
			if err != nil {
				return err
			}
			item, err := app.UpdateStatus(cmd.Context(), actor, args[0], status)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(toItemJSON(item))
			}
			fmt.Printf("%s is now %s\n", item.ExternalID, item.Status)
			return nil
		},
	}
}

func newItemDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <item>",
		Short: "Delete an item that has no children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor(cmd.Context())
			if err != nil {
				return err
			}
			outcome, err := app.DeleteWorkItem(cmd.Context(), actor, args[0])
			if err != nil {
				return err
			}
			if outcome == model.OutcomeNotFound {
				return missing("delete", "work item", args[0])
			}
			return printOutcome(args[0], outcome)
		},
	}
}

func newItemListCmd() *cobra.Command {
	var status, typ, assignee string
	var mine bool
	cmd := &cobra.Command{
		Use:   "list <project>",
		Short: "List a project's items, most recently updated first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor(cmd.Context())
			if err != nil {
				return err
			}

			var filter db.ItemFilter
			if status != "" {
				s := model.NormalizeStatus(status)
				filter.Status = &s
			}
			if typ != "" {
				t, err := model.ParseItemType(typ)
				if err != nil {
					return usageError("type", err)
				}
				filter.Type = &t
			}
			if mine {
				filter.AssigneeID = &actor.UserID
			} else if assignee != "" {
				filter.AssigneeID = &assignee
			}

			items, err := app.ListByProject(cmd.Context(), actor, args[0], filter)
			if err != nil {
				return err
			}
			return printItems(items)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&status, "status", "s", "", "only items in this status")
	flags.StringVarP(&typ, "type", "t", "", "only items of this type")
	flags.StringVar(&assignee, "assignee", "", "only items assigned to this user ID")
	flags.BoolVar(&mine, "mine", false, "only items assigned to you")
	return cmd
}

func newItemChildrenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "children <item>",
		Short: "List an item's direct children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor(cmd.Context())
			if err != nil {
				return err
			}
			items, err := app.ListByParent(cmd.Context(), actor, args[0])
			if err != nil {
				return err
			}
			return printItems(items)
		},
	}
}

func newItemHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <item>",
		Short: "Show an item's change history, newest first",
		Long: `Show an item's change history, newest first. History outlives its item:
admins can still read it by internal ID after the item is deleted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := app.FetchHistory(cmd.Context(), actor, args[0])
			if err != nil {
				return err
			}
			return printHistory(entries)
		},
	}
}
