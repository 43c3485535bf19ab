package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/baiirun/backlog/internal/policy"
)

type RuleJSON struct {
	Role     string `json:"role"`
	Action   string `json:"action"`
	Resource string `json:"resource"`
}

func newRolesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "Print the permission matrix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rules := policy.Table()
			if flagJSON {
				out := make([]RuleJSON, 0, len(rules))
				for _, r := range rules {
					out = append(out, RuleJSON{Role: string(r.Role), Action: string(r.Action), Resource: string(r.Resource)})
				}
				return printJSON(out)
			}

			// role -> action -> resources
			grouped := map[string]map[string][]string{}
			for _, r := range rules {
				role, action := string(r.Role), string(r.Action)
				if grouped[role] == nil {
					grouped[role] = map[string][]string{}
				}
				grouped[role][action] = append(grouped[role][action], string(r.Resource))
			}
			roles := make([]string, 0, len(grouped))
			for role := range grouped {
				roles = append(roles, role)
			}
			sort.Strings(roles)
			for _, role := range roles {
				fmt.Println(role)
				actions := make([]string, 0, len(grouped[role]))
				for a := range grouped[role] {
					actions = append(actions, a)
				}
				sort.Strings(actions)
				for _, a := range actions {
					fmt.Printf("  %-16s %s\n", a, strings.Join(grouped[role][a], ", "))
				}
			}
			return nil
		},
	}
}
