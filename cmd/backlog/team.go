package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/baiirun/backlog/internal/model"
)

func newTeamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "team",
		Short: "Manage teams and their members",
	}
	cmd.AddCommand(
		newTeamCreateCmd(),
		newTeamDeleteCmd(),
		newTeamListCmd(),
		newTeamMemberCmd(),
	)
	return cmd
}

func newTeamCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a team (admin or scrum master)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor(cmd.Context())
			if err != nil {
				return err
			}
			team, err := app.CreateTeam(cmd.Context(), actor, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(toTeamJSON(team))
			}
			fmt.Printf("Created team %s (%s)\n", team.Name, team.ID)
			return nil
		},
	}
}

func newTeamDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <team>",
		Short: "Delete a team and detach its projects (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor(cmd.Context())
			if err != nil {
				return err
			}
			outcome, err := app.DeleteTeam(cmd.Context(), actor, args[0])
			if err != nil {
				return err
			}
			if outcome == model.OutcomeNotFound {
				return missing("delete", "team", args[0])
			}
			return printOutcome(args[0], outcome)
		},
	}
}

func newTeamListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List teams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor(cmd.Context())
			if err != nil {
				return err
			}
			teams, err := app.ListTeams(cmd.Context(), actor)
			if err != nil {
				return err
			}
			if flagJSON {
				out := make([]TeamJSON, 0, len(teams))
				for i := range teams {
					out = append(out, toTeamJSON(&teams[i]))
				}
				return printJSON(out)
			}
			for _, t := range teams {
				fmt.Printf("%-20s %s\n", t.Name, t.ID)
			}
			return nil
		},
	}
}

func newTeamMemberCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "member",
		Short: "Manage team membership",
	}
	cmd.AddCommand(newMemberAddCmd(), newMemberRemoveCmd(), newMemberListCmd())
	return cmd
}

func newMemberAddCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "add <team> <user>",
		Short: "Add a user to a team, or change their team role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := model.TeamRole(strings.ToUpper(strings.TrimSpace(role)))
			actor, err := currentActor(cmd.Context())
			if err != nil {
				return err
			}
			if err := app.AddTeamMember(cmd.Context(), actor, args[0], args[1], r); err != nil {
				return err
			}
			if flagJSON {
				return printJSON(map[string]string{"team": args[0], "user": args[1], "role": string(r)})
			}
			fmt.Printf("Added %s to %s as %s\n", args[1], args[0], r)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(model.TeamRoleMember), "team role: lead or member")
	return cmd
}

func newMemberRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <team> <user>",
		Short: "Remove a user from a team",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor(cmd.Context())
			if err != nil {
				return err
			}
			if err := app.RemoveTeamMember(cmd.Context(), actor, args[0], args[1]); err != nil {
				return err
			}
			if !flagJSON {
				fmt.Printf("Removed %s from %s\n", args[1], args[0])
			}
			return nil
		},
	}
}

func newMemberListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <team>",
		Short: "List a team's members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor(cmd.Context())
			if err != nil {
				return err
			}
			members, err := app.ListTeamMembers(cmd.Context(), actor, args[0])
			if err != nil {
				return err
			}
			if flagJSON {
				out := make([]MemberJSON, 0, len(members))
				for _, m := range members {
					out = append(out, MemberJSON{
						UserID:   m.UserID,
						Username: m.Username,
						Role:     string(m.Role),
						JoinedAt: formatTime(m.JoinedAt),
					})
				}
				return printJSON(out)
			}
			for _, m := range members {
				fmt.Printf("%-16s %s\n", m.Username, m.Role)
			}
			return nil
		},
	}
}
