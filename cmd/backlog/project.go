package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/baiirun/backlog/internal/model"
	"github.com/baiirun/backlog/internal/tracker"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}
	cmd.AddCommand(
		newProjectCreateCmd(),
		newProjectUpdateCmd(),
		newProjectDeleteCmd(),
		newProjectListCmd(),
		newProjectSummaryCmd(),
	)
	return cmd
}

func newProjectCreateCmd() *cobra.Command {
	var description, team string
	cmd := &cobra.Command{
		Use:   "create <key> <name>",
		Short: "Create a project (admin or scrum master)",
		Long: `Create a project. The key (2-10 letters or digits) prefixes every item ID
in the project: PROJ-001, PROJ-002, ...

A project without --team is visible to admins only.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor(cmd.Context())
			if err != nil {
				return err
			}
			p, err := app.CreateProject(cmd.Context(), actor, tracker.ProjectInput{
				Key:         args[0],
				Name:        strings.Join(args[1:], " "),
				Description: description,
				Team:        team,
			})
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(toProjectJSON(p))
			}
			fmt.Printf("Created project %s (%s)\n", p.Key, p.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "project description")
	cmd.Flags().StringVar(&team, "team", "", "owning team, by ID or name")
	return cmd
}

func newProjectUpdateCmd() *cobra.Command {
	var name, description, team, status string
	cmd := &cobra.Command{
		Use:   "update <project>",
		Short: "Change a project's name, description, team or status",
		Long: `Change a project's name, description, team or status. Only the flags given
are applied. --team "" detaches the project from its team.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch model.ProjectPatch
			flags := cmd.Flags()
			if flags.Changed("name") {
				patch.Name = &name
			}
			if flags.Changed("description") {
				patch.Description = &description
			}
			if flags.Changed("team") {
				patch.TeamID = &team
			}
			if flags.Changed("status") {
				s := model.ProjectStatus(strings.ToUpper(strings.TrimSpace(status)))
				patch.Status = &s
			}

			actor, err := currentActor(cmd.Context())
			if err != nil {
				return err
			}
			p, err := app.UpdateProject(cmd.Context(), actor, args[0], patch)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(toProjectJSON(p))
			}
			fmt.Printf("Updated project %s\n", p.Key)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVarP(&description, "description", "d", "", "new description")
	cmd.Flags().StringVar(&team, "team", "", "new owning team, by ID or name")
	cmd.Flags().StringVar(&status, "status", "", "active or archived")
	return cmd
}

func newProjectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project>",
		Short: "Delete an empty project (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor(cmd.Context())
			if err != nil {
				return err
			}
			outcome, err := app.DeleteProject(cmd.Context(), actor, args[0])
			if err != nil {
				return err
			}
			if outcome == model.OutcomeNotFound {
				return missing("delete", "project", args[0])
			}
			return printOutcome(args[0], outcome)
		},
	}
}

func newProjectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the projects you can see",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor(cmd.Context())
			if err != nil {
				return err
			}
			projects, err := app.ListProjects(cmd.Context(), actor)
			if err != nil {
				return err
			}
			if flagJSON {
				out := make([]ProjectJSON, 0, len(projects))
				for i := range projects {
					out = append(out, toProjectJSON(&projects[i]))
				}
				return printJSON(out)
			}
			if len(projects) == 0 {
				fmt.Println("No projects")
				return nil
			}
			for _, p := range projects {
				fmt.Printf("%-10s %-8s %s\n", p.Key, p.Status, p.Name)
			}
			return nil
		},
	}
}

func newProjectSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <project>",
		Short: "Show item counts by status and type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := app.Summarize(cmd.Context(), actor, args[0])
			if err != nil {
				return err
			}
			return printSummary(summary)
		},
	}
}
