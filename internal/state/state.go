// Package state implements the in-memory world model (§3, §4.4, C4): the
// nodes and roles indices and the materialized (node,service) -> document
// map (VKV). It holds no concurrency control of its own: per §5 it is
// mutated exclusively by the reconciler's single goroutine.
package state

import (
	"sort"

	"condo/internal/matcher"
	"condo/internal/value"
)

// TagEntry is one (key, value) tag pair. Nodes keep tags as an ordered
// slice, preserving declaration order from the JSON record (§6).
type TagEntry struct {
	Key   string
	Value string
}

// Node mirrors one entry of the nodes prefix.
type Node struct {
	Name string
	IP   string
	Tags []TagEntry
}

// TagMap adapts a Node's ordered tags into the map matcher predicates
// consume.
func (n Node) TagMap() matcher.Tags {
	t := make(matcher.Tags, len(n.Tags))
	for _, e := range n.Tags {
		t[e.Key] = e.Value
	}

	return t
}

// ServiceTemplate is one declared (name, document template) pair of a
// role, in declaration order.
type ServiceTemplate struct {
	Name string
	Doc  value.Value
}

// Role mirrors one entry of the roles prefix, already compiled.
type Role struct {
	Key       string
	Matcher   matcher.Predicate
	Services  []ServiceTemplate
	RoleNodes []string // derived: node names currently matched (§3 invariant 2)
}

// ServiceByName finds a role's declared service template, or ok=false if
// the role no longer declares it.
func (r *Role) ServiceByName(name string) (ServiceTemplate, bool) {
	for _, s := range r.Services {
		if s.Name == name {
			return s, true
		}
	}

	return ServiceTemplate{}, false
}

// VKVKey identifies one materialized (node, service-name) entry.
type VKVKey struct {
	Node    string
	Service string
}

// State is the tuple (VKV, roles, nodes) from §3; watchers are tracked
// separately by the watch registry (C3), which the reconciler composes
// with State when building a query snapshot.
type State struct {
	Nodes map[string]*Node
	Roles map[string]*Role
	VKV   map[VKVKey]string
}

func New() *State {
	return &State{
		Nodes: map[string]*Node{},
		Roles: map[string]*Role{},
		VKV:   map[VKVKey]string{},
	}
}

// MatchingRoles returns every role whose matcher currently accepts tags,
// in a stable order (map iteration order is not stable in Go).
func (s *State) MatchingRoles(tags matcher.Tags) []*Role {
	var out []*Role
	for _, r := range s.Roles {
		if r.Matcher(tags) {
			out = append(out, r)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// RoleKeysForNode returns the keys of every role whose RoleNodes currently
// contains nodeName, for the query endpoint's per-node role list (§6).
func (s *State) RoleKeysForNode(nodeName string) []string {
	var out []string
	for key, r := range s.Roles {
		for _, n := range r.RoleNodes {
			if n == nodeName {
				out = append(out, key)
				break
			}
		}
	}

	sort.Strings(out)
	return out
}

// CloneVKV returns a shallow copy of the current VKV, used by the
// reconciler to diff the previous and new map after applying an event.
func (s *State) CloneVKV() map[VKVKey]string {
	out := make(map[VKVKey]string, len(s.VKV))
	for k, v := range s.VKV {
		out[k] = v
	}

	return out
}
