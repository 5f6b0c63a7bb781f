package reconcile

import (
	"sort"

	"condo/internal/state"
	"condo/internal/value"
)

// Snapshot is an immutable copy of the state model (§6, §9): the query
// endpoint never shares mutable state with the reconciler, it only ever
// receives one of these.
type Snapshot struct {
	Roles    []RoleSnapshot
	Nodes    []NodeSnapshot
	Watchers []WatcherSnapshot
	Errors   ErrorCounters
}

// ErrorCounters tracks ingestion health (beyond §7's log-and-drop policy)
// so an operator polling the query endpoint can see it without a metrics
// stack: roles dropped for malformed matchers/records, watcher tags
// skipped for a non-string payload, and documents that failed schema
// validation. All three only ever increase for the life of the process.
type ErrorCounters struct {
	DroppedRoles       int
	SkippedWatcherTags int
	FailedValidations  int
}

type RoleSnapshot struct {
	Key      string
	Nodes    []string
	Services []string
}

type NodeSnapshot struct {
	IP    string
	Name  string
	Tags  []state.TagEntry
	Roles []string
}

type WatcherSnapshot struct {
	Key   string
	Roles []string
	Value value.Value
}

// snapshot builds a deep-enough copy of the current state (and the
// watcher registry's state) for safe handoff across the GetState
// boundary: every slice here is freshly allocated, so later mutation of
// the live Role/Node values can't be observed through it.
func (e *Engine) snapshot() Snapshot {
	roleKeys := sortedKeys(e.state.Roles)

	roles := make([]RoleSnapshot, 0, len(roleKeys))
	for _, k := range roleKeys {
		r := e.state.Roles[k]

		nodes := append([]string(nil), r.RoleNodes...)
		sort.Strings(nodes)

		services := make([]string, 0, len(r.Services))
		for _, s := range r.Services {
			services = append(services, s.Name)
		}

		roles = append(roles, RoleSnapshot{Key: k, Nodes: nodes, Services: services})
	}

	nodeKeys := sortedKeys(e.state.Nodes)

	nodes := make([]NodeSnapshot, 0, len(nodeKeys))
	for _, k := range nodeKeys {
		n := e.state.Nodes[k]
		nodes = append(nodes, NodeSnapshot{
			IP:    n.IP,
			Name:  n.Name,
			Tags:  append([]state.TagEntry(nil), n.Tags...),
			Roles: e.state.RoleKeysForNode(k),
		})
	}

	watcherKeys := e.registry.Keys()
	sort.Strings(watcherKeys)

	watchers := make([]WatcherSnapshot, 0, len(watcherKeys))
	for _, k := range watcherKeys {
		v, _ := e.registry.Value(k)
		watchers = append(watchers, WatcherSnapshot{
			Key:   k,
			Roles: dedupe(e.registry.Roles(k)),
			Value: v,
		})
	}

	return Snapshot{Roles: roles, Nodes: nodes, Watchers: watchers, Errors: e.errors}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)
	return keys
}
