package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/baiirun/backlog/internal/config"
	"github.com/baiirun/backlog/internal/model"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <username>",
		Short: "Start a session and print its token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := app.Login(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(SessionJSON{
					Token:     session.Token,
					UserID:    session.UserID,
					ExpiresAt: formatTime(session.ExpiresAt),
				})
			}
			fmt.Printf("export BACKLOG_SESSION=%s\n", session.Token)
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Logout(cmd.Context(), config.GetString(config.KeySession)); err != nil {
				return err
			}
			if !flagJSON {
				fmt.Println("Logged out")
			}
			return nil
		},
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the user behind the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor(cmd.Context())
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(UserJSON{ID: actor.UserID, Username: actor.Username, Role: string(actor.Role), Active: true})
			}
			fmt.Printf("%s (%s)\n", actor.Username, actor.Role)
			return nil
		},
	}
}

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	cmd.AddCommand(
		newUserBootstrapCmd(),
		newUserAddCmd(),
		newUserActiveCmd("activate", true),
		newUserActiveCmd("deactivate", false),
		newUserListCmd(),
	)
	return cmd
}

func newUserBootstrapCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "bootstrap <username>",
		Short: "Create the first admin on an empty database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := app.Bootstrap(cmd.Context(), args[0], name)
			if err != nil {
				return err
			}
			return printUser(user, "Created admin")
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func newUserAddCmd() *cobra.Command {
	var name, role string
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a user (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := model.ParseRole(role)
			if err != nil {
				return usageError("role", err)
			}
			actor, err := currentActor(cmd.Context())
			if err != nil {
				return err
			}
			user, err := app.CreateUser(cmd.Context(), actor, args[0], name, r)
			if err != nil {
				return err
			}
			return printUser(user, "Created user")
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", string(model.RoleUser), "global role: admin, scrum_master or user")
	return cmd
}

func newUserActiveCmd(use string, active bool) *cobra.Command {
	short := "Allow a user to log in again (admin only)"
	if !active {
		short = "Stop a user from acting; existing sessions stop resolving (admin only)"
	}
	return &cobra.Command{
		Use:   use + " <user>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor(cmd.Context())
			if err != nil {
				return err
			}
			if err := app.SetUserActive(cmd.Context(), actor, args[0], active); err != nil {
				return err
			}
			if flagJSON {
				return printJSON(map[string]any{"user": args[0], "active": active})
			}
			fmt.Printf("User %s %sd\n", args[0], use)
			return nil
		},
	}
}

func newUserListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor(cmd.Context())
			if err != nil {
				return err
			}
			users, err := app.ListUsers(cmd.Context(), actor)
			if err != nil {
				return err
			}
			if flagJSON {
				out := make([]UserJSON, 0, len(users))
				for i := range users {
					out = append(out, toUserJSON(&users[i]))
				}
				return printJSON(out)
			}
			for _, u := range users {
				state := "active"
				if !u.Active {
					state = "inactive"
				}
				fmt.Printf("%-16s %-13s %s\n", u.Username, u.Role, state)
			}
			return nil
		},
	}
}

func printUser(user *model.User, verb string) error {
	if flagJSON {
		return printJSON(toUserJSON(user))
	}
	fmt.Printf("%s %s (%s)\n", verb, user.Username, user.ID)
	return nil
}
