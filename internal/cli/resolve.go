package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/projectorhq/projector/internal/registry"
)

// resolveProject maps a user-supplied query to one project: exact id, then
// numbered shortcut into the live enabled order, then exact name, then a
// fuzzy name match when it is unambiguous.
func resolveProject(reg *registry.Registry, query string) (registry.Project, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return registry.Project{}, fmt.Errorf("project argument is required")
	}
	if p, ok := reg.Get(query); ok {
		return p, nil
	}
	if n, err := strconv.Atoi(query); err == nil {
		p, ok := reg.ByDynamicOrder(n)
		if !ok {
			return registry.Project{}, fmt.Errorf("no enabled project at position %d", n)
		}
		return p, nil
	}

	all := reg.List()
	for _, p := range all {
		if strings.EqualFold(p.Name, query) {
			return p, nil
		}
	}

	names := make([]string, len(all))
	for i, p := range all {
		names[i] = p.Name
	}
	matches := fuzzy.Find(query, names)
	switch len(matches) {
	case 0:
		return registry.Project{}, fmt.Errorf("no project matches %q", query)
	case 1:
		return all[matches[0].Index], nil
	default:
		candidates := make([]string, 0, len(matches))
		for _, m := range matches {
			candidates = append(candidates, all[m.Index].Name)
		}
		return registry.Project{}, fmt.Errorf("ambiguous project %q: %s", query, strings.Join(candidates, ", "))
	}
}
