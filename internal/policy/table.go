package policy

import "github.com/baiirun/backlog/internal/model"

// Rule grants Role permission to perform Action on Resource.
type Rule struct {
	Role     model.Role
	Action   Action
	Resource Resource
}

var (
	epic    = Resource(model.ItemTypeEpic)
	feature = Resource(model.ItemTypeFeature)
	story   = Resource(model.ItemTypeStory)
	task    = Resource(model.ItemTypeTask)
	bug     = Resource(model.ItemTypeBug)

	allItems      = []Resource{epic, feature, story, task, bug}
	planningItems = []Resource{epic, feature}
	deliveryItems = []Resource{story, task, bug}
	createEdit    = []Action{ActionCreate, ActionEdit}
)

// table is the complete permission matrix. Edit it here and nowhere else.
var table = expand(
	// Work items.
	grant(model.RoleAdmin, createEdit, allItems),
	grant(model.RoleAdmin, []Action{ActionDelete}, allItems),
	grant(model.RoleScrumMaster, createEdit, planningItems),
	grant(model.RoleScrumMaster, []Action{ActionDelete}, deliveryItems),
	grant(model.RoleUser, createEdit, deliveryItems),

	// Projects and teams. Deleting either is reserved for admins.
	grant(model.RoleAdmin, []Action{ActionCreate, ActionEdit, ActionDelete}, []Resource{ResourceProject, ResourceTeam}),
	grant(model.RoleAdmin, []Action{ActionManageMembers}, []Resource{ResourceTeam}),
	grant(model.RoleScrumMaster, createEdit, []Resource{ResourceProject, ResourceTeam}),
	grant(model.RoleScrumMaster, []Action{ActionManageMembers}, []Resource{ResourceTeam}),

	// Accounts. Edit covers activation.
	grant(model.RoleAdmin, createEdit, []Resource{ResourceUser}),
)

var grants = func() map[Rule]struct{} {
	m := make(map[Rule]struct{}, len(table))
	for _, r := range table {
		m[r] = struct{}{}
	}
	return m
}()

// Table returns a copy of every grant, for display and tests.
func Table() []Rule {
	out := make([]Rule, len(table))
	copy(out, table)
	return out
}

func grant(role model.Role, actions []Action, resources []Resource) []Rule {
	rules := make([]Rule, 0, len(actions)*len(resources))
	for _, a := range actions {
		for _, r := range resources {
			rules = append(rules, Rule{Role: role, Action: a, Resource: r})
		}
	}
	return rules
}

func expand(groups ...[]Rule) []Rule {
	var all []Rule
	for _, g := range groups {
		all = append(all, g...)
	}
	return all
}
