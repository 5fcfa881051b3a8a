// Package tags implements the tag filter consulted by the scheduler
// before running each task: which tasks run is decided by intersecting
// a task's tags against an operator-supplied include/skip set, with the
// special always/never tags and @group expansion layered on top.
package tags

import "strings"

// DefaultGroups returns the tag groups every filter starts with unless
// overridden: broad buckets operators can reference as "@critical"
// instead of enumerating member tags by hand.
func DefaultGroups() map[string][]string {
	return map[string][]string{
		"critical": {"critical", "setup", "bootstrap"},
		"setup":    {"setup", "bootstrap", "provision"},
		"security": {"security", "audit", "hardening", "firewall"},
		"cleanup":  {"cleanup", "teardown", "remove"},
	}
}

// Filter decides, for a given set of task tags, whether the task should
// run this invocation.
type Filter struct {
	include      map[string]bool
	skip         map[string]bool
	groups       map[string][]string
	runUntagged  bool
}

// NewFilter builds a Filter from operator-facing tag lists. Groups is
// optional; when nil, DefaultGroups() is used.
func NewFilter(include, skip []string, groups map[string][]string, runUntagged bool) *Filter {
	if groups == nil {
		groups = DefaultGroups()
	}
	f := &Filter{
		include:     toSet(include),
		skip:        toSet(skip),
		groups:      lowerGroups(groups),
		runUntagged: runUntagged,
	}
	return f
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[strings.ToLower(item)] = true
	}
	return set
}

func lowerGroups(groups map[string][]string) map[string][]string {
	out := make(map[string][]string, len(groups))
	for name, members := range groups {
		lowered := make([]string, len(members))
		for i, m := range members {
			lowered[i] = strings.ToLower(m)
		}
		out[strings.ToLower(name)] = lowered
	}
	return out
}

// expand replaces any "@group" entries in a tag set with that group's
// member tags, leaving ordinary tags untouched.
func (f *Filter) expand(set map[string]bool) map[string]bool {
	out := make(map[string]bool, len(set))
	for tag := range set {
		if strings.HasPrefix(tag, "@") {
			name := strings.TrimPrefix(tag, "@")
			for _, member := range f.groups[name] {
				out[member] = true
			}
			continue
		}
		out[tag] = true
	}
	return out
}

func intersects(a map[string]bool, tags []string) bool {
	for _, t := range tags {
		if a[strings.ToLower(t)] {
			return true
		}
	}
	return false
}

// ShouldRun implements the six-step should_run algorithm.
func (f *Filter) ShouldRun(taskTags []string) bool {
	normalized := make([]string, len(taskTags))
	for i, t := range taskTags {
		normalized[i] = strings.ToLower(t)
	}

	include := f.expand(f.include)
	skip := f.expand(f.skip)

	hasTag := func(tag string) bool {
		for _, t := range normalized {
			if t == tag {
				return true
			}
		}
		return false
	}

	// Step 2: always runs unless explicitly skipped.
	if hasTag("always") && !skip["always"] {
		return true
	}

	// Step 3: never runs unless explicitly included.
	if hasTag("never") && !include["never"] {
		return false
	}

	// Step 4: skip set wins over everything else not already handled.
	if intersects(skip, normalized) {
		return false
	}

	// Step 5: empty include set falls back to run_untagged / has-any-tag.
	if len(include) == 0 {
		return f.runUntagged || len(normalized) > 0
	}

	// Step 6: otherwise require an include match.
	return intersects(include, normalized)
}
