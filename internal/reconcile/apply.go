package reconcile

import (
	"github.com/golang/glog"

	"condo/internal/state"
	"condo/internal/template"
	"condo/internal/value"
)

// apply dispatches one event against the state model (§4.5's event
// table). It never observes an exception from its own transitions: every
// fallible step (JSON/EDN parsing, schema validation) has already been
// funneled through a converter that returns an error instead.
func (e *Engine) apply(ev event) {
	switch ev.kind {
	case eventNodeNew:
		e.applyNodeNew(ev.key, ev.nodeRaw)
	case eventNodeUpdated:
		e.applyNodeRemoved(ev.key)
		e.applyNodeNew(ev.key, ev.nodeRaw)
	case eventNodeRemoved:
		e.applyNodeRemoved(ev.key)
	case eventRoleNew:
		e.applyRoleNew(ev.key, ev.roleRaw)
	case eventRoleUpdated:
		e.applyRoleRemoved(ev.key)
		e.applyRoleNew(ev.key, ev.roleRaw)
	case eventRoleRemoved:
		e.applyRoleRemoved(ev.key)
	case eventWatcherUpdated:
		e.applyWatcherUpdated(ev.key, ev.watcherValue)
	}
}

func (e *Engine) applyNodeNew(key string, raw []byte) {
	n, err := state.ParseNode(key, raw)
	if err != nil {
		glog.Warningf("reconcile: dropping malformed node %s: %v", key, err)
		return
	}

	e.state.Nodes[key] = n

	tags := n.TagMap()
	for _, r := range e.state.Roles {
		if !r.Matcher(tags) {
			continue
		}

		r.RoleNodes = appendIfMissing(r.RoleNodes, key)
		for _, svc := range r.Services {
			e.renderService(n, r, svc)
		}
	}
}

func (e *Engine) applyNodeRemoved(key string) {
	if _, ok := e.state.Nodes[key]; !ok {
		return
	}

	delete(e.state.Nodes, key)

	for _, r := range e.state.Roles {
		r.RoleNodes = removeString(r.RoleNodes, key)
	}

	for k := range e.state.VKV {
		if k.Node == key {
			delete(e.state.VKV, k)
		}
	}
}

func (e *Engine) applyRoleNew(key, raw string) {
	var skippedKeys []value.Value
	r, err := state.ParseRole(key, raw, func(k value.Value) { skippedKeys = append(skippedKeys, k) })
	if err != nil {
		glog.Warningf("reconcile: dropping malformed role %s: %v", key, err)
		e.errors.DroppedRoles++
		return
	}

	for _, k := range skippedKeys {
		glog.Warningf("reconcile: role %s: service name %+v is not a keyword, skipped", key, k)
	}

	seen := map[string]bool{}
	var watcherKeys []string
	for _, svc := range r.Services {
		for _, k := range template.FindWatchers(svc.Doc, func(value.Value) {
			glog.Warningf("reconcile: role %s service %s: malformed watcher reference", key, svc.Name)
			e.errors.SkippedWatcherTags++
		}) {
			if !seen[k] {
				seen[k] = true
				watcherKeys = append(watcherKeys, k)
			}
		}
	}

	// Blocks until every referenced watcher has a concrete value (§4.3),
	// which is the re-materialization precondition for RoleNew (§4.5).
	e.registry.Incref(key, watcherKeys)

	e.state.Roles[key] = r

	for _, n := range e.state.Nodes {
		if !r.Matcher(n.TagMap()) {
			continue
		}

		r.RoleNodes = append(r.RoleNodes, n.Name)
		for _, svc := range r.Services {
			e.renderService(n, r, svc)
		}
	}
}

func (e *Engine) applyRoleRemoved(key string) {
	r, ok := e.state.Roles[key]
	if !ok {
		return
	}

	for _, n := range r.RoleNodes {
		for _, svc := range r.Services {
			delete(e.state.VKV, state.VKVKey{Node: n, Service: svc.Name})
		}
	}

	e.registry.Decref(key)
	delete(e.state.Roles, key)
}

func (e *Engine) applyWatcherUpdated(key string, v value.Value) {
	e.registry.SetValue(key, v)

	for _, roleKey := range dedupe(e.registry.Roles(key)) {
		r, ok := e.state.Roles[roleKey]
		if !ok {
			continue
		}

		for _, nodeName := range r.RoleNodes {
			n, ok := e.state.Nodes[nodeName]
			if !ok {
				continue
			}

			for _, svc := range r.Services {
				e.renderService(n, r, svc)
			}
		}
	}
}

// renderService expands one (node, service) document and writes it to
// VKV. A validation failure preserves whatever rendering was already
// present at that coordinate rather than deleting it (§4.5).
func (e *Engine) renderService(n *state.Node, r *state.Role, svc state.ServiceTemplate) {
	resolve := func(key string) (value.Value, bool) { return e.registry.Value(key) }

	doc, ok := template.Expand(svc.Doc, resolve, n.IP)
	if !ok {
		glog.Warningf("reconcile: %s/%s failed validation, preserving previous rendering if any", n.Name, svc.Name)
		e.errors.FailedValidations++
		return
	}

	e.state.VKV[state.VKVKey{Node: n.Name, Service: svc.Name}] = doc
}

func appendIfMissing(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}

	return append(list, s)
}

func removeString(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}

	return list
}

func dedupe(list []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range list {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	return out
}
