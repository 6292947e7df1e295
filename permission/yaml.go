package permission

import (
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"
)

type routeFile struct {
	Home   string              `yaml:"home"`
	Routes map[string][]string `yaml:"routes"`
	Order  []string            `yaml:"order"`
}

// LoadRouteTableYAML reads a route table of the form
//
//	home: /
//	routes:
//	  /: [admin, manager, sales, support]
//	  /staff: [admin]
//
// Unknown keys and unknown role names are rejected. Paths listed under the
// optional "order" key come first; the rest follow sorted.
func LoadRouteTableYAML(r io.Reader) (*RouteTable, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file routeFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode route table: %w", err)
	}
	if len(file.Routes) == 0 {
		return nil, fmt.Errorf("route table has no routes")
	}

	ordered := make([]string, 0, len(file.Routes))
	seen := make(map[string]bool, len(file.Routes))
	for _, path := range file.Order {
		if _, ok := file.Routes[path]; !ok {
			return nil, fmt.Errorf("order lists unknown route %s", path)
		}
		if seen[path] {
			continue
		}
		seen[path] = true
		ordered = append(ordered, path)
	}
	rest := make([]string, 0, len(file.Routes))
	for path := range file.Routes {
		if !seen[path] {
			rest = append(rest, path)
		}
	}
	sort.Strings(rest)
	ordered = append(ordered, rest...)

	rules := make([]RouteRule, 0, len(ordered))
	for _, path := range ordered {
		names := file.Routes[path]
		roles := make([]Role, 0, len(names))
		for _, name := range names {
			role, err := ParseRole(name)
			if err != nil {
				return nil, fmt.Errorf("route %s: %w", path, err)
			}
			roles = append(roles, role)
		}
		rules = append(rules, RouteRule{Path: path, Roles: roles})
	}

	return NewRouteTable(file.Home, rules)
}
