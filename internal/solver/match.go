package solver

import "strings"

// Matcher picks challenge candidates out of a snapshot. A node matches when
// its name equals TagName and any attribute string equals one of Exact or
// contains one of Contains (case-insensitive).
type Matcher struct {
	TagName  string   `yaml:"tag_name"`
	Exact    []string `yaml:"exact"`
	Contains []string `yaml:"contains"`
}

// Match returns matching nodes in snapshot order.
func (m Matcher) Match(nodes []Node) []Node {
	var out []Node
	for _, n := range nodes {
		if m.matches(n) {
			out = append(out, n)
		}
	}
	return out
}

func (m Matcher) matches(n Node) bool {
	tag := m.TagName
	if tag == "" {
		tag = "IFRAME"
	}
	if !strings.EqualFold(n.NodeName, tag) {
		return false
	}
	for _, attr := range n.Attributes {
		for _, want := range m.Exact {
			if attr == want {
				return true
			}
		}
		if len(m.Contains) == 0 {
			continue
		}
		lower := strings.ToLower(attr)
		for _, sub := range m.Contains {
			if sub != "" && strings.Contains(lower, strings.ToLower(sub)) {
				return true
			}
		}
	}
	return false
}
