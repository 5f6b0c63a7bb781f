// Package watch implements the reference-counted lifecycle of remote
// watcher-value subscriptions (§4.3, C3). A watcher is started on first
// reference by any role and stopped when its reference multiset empties.
package watch

import (
	"context"
	"fmt"

	"github.com/golang/glog"

	"condo/internal/kvstore"
	"condo/internal/value"
)

// Update is pushed to Updates() every time a live watcher receives a new
// value from the store after its first one (the first value is read
// synchronously inside Incref and is not pushed here).
type Update struct {
	Key   string
	Value value.Value
}

// FatalError is sent on Fatal() when a watcher's remote stream ends
// unexpectedly (§4.3: "this is a fatal condition for the engine"). It is
// never sent for a key the registry itself stopped via Decref.
type FatalError struct {
	Key string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("watch: key %q stream ended unexpectedly", e.Key)
}

type entry struct {
	value   value.Value
	roles   []string // multiset, duplicates significant
	stop    func()
	stopped chan struct{} // closed by Decref before stop(), so forward
	// can tell an expected close from an unexpected one without touching
	// the registry's maps from its own goroutine.
}

// Registry owns every live watcher. It is not safe for concurrent use:
// per §5 it is owned exclusively by the reconciler goroutine.
type Registry struct {
	client  kvstore.Client
	ctx     context.Context
	entries map[string]*entry
	updates chan Update
	fatal   chan error
}

func NewRegistry(ctx context.Context, client kvstore.Client) *Registry {
	return &Registry{
		client:  client,
		ctx:     ctx,
		entries: map[string]*entry{},
		updates: make(chan Update),
		fatal:   make(chan error, 1),
	}
}

// Updates delivers an Update for every watcher every time its stream
// delivers a value (not for the initial blocking read done inside Incref).
func (r *Registry) Updates() <-chan Update { return r.updates }

// Fatal delivers at most one error: an unexpected stream close for a
// watcher the registry did not itself stop.
func (r *Registry) Fatal() <-chan error { return r.fatal }

// Incref adds roleKey as a reference of every key in keys. A key seen for
// the first time blocks until its initial value is read from the store,
// per §4.3 ("a role must not begin materializing documents until every
// watcher it references has a concrete value"). The returned map holds
// the current value of every key in keys, whether newly started or
// already live.
func (r *Registry) Incref(roleKey string, keys []string) map[string]value.Value {
	current := make(map[string]value.Value, len(keys))

	for _, k := range keys {
		if e, ok := r.entries[k]; ok {
			e.roles = append(e.roles, roleKey)
			current[k] = e.value
			continue
		}

		e := r.start(k)
		e.roles = []string{roleKey}
		r.entries[k] = e
		current[k] = e.value
	}

	return current
}

// Decref removes exactly one occurrence of roleKey from every watcher's
// reference multiset. Watchers whose multiset becomes empty are stopped
// and dropped.
func (r *Registry) Decref(roleKey string) {
	for k, e := range r.entries {
		e.roles = removeOne(e.roles, roleKey)
		if len(e.roles) == 0 {
			close(e.stopped)
			e.stop()
			delete(r.entries, k)
		}
	}
}

// Value returns a watcher's current value, for rendering an already-live
// reference (e.g. during WatcherUpdated fan-out).
func (r *Registry) Value(key string) (value.Value, bool) {
	e, ok := r.entries[key]
	if !ok {
		return value.NilValue, false
	}

	return e.value, true
}

// SetValue updates a watcher's stored value, used by the reconciler after
// receiving an Update from the channel above.
func (r *Registry) SetValue(key string, v value.Value) {
	if e, ok := r.entries[key]; ok {
		e.value = v
	}
}

// RoleCount reports the current reference count of a key (the size of its
// role multiset, duplicates included).
func (r *Registry) RoleCount(key string) int {
	if e, ok := r.entries[key]; ok {
		return len(e.roles)
	}

	return 0
}

// Keys returns every currently live watcher key.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}

	return keys
}

// StopAll tears down every live watcher unconditionally, used during
// engine shutdown (§5) regardless of outstanding reference counts.
func (r *Registry) StopAll() {
	for k, e := range r.entries {
		close(e.stopped)
		e.stop()
		delete(r.entries, k)
	}
}

// Roles returns a copy of the role-key multiset referencing key.
func (r *Registry) Roles(key string) []string {
	e, ok := r.entries[key]
	if !ok {
		return nil
	}

	out := make([]string, len(e.roles))
	copy(out, e.roles)
	return out
}

func (r *Registry) start(key string) *entry {
	stream, stop := r.client.Key(r.ctx, key)

	stopped := make(chan struct{})

	first, open := <-stream
	if !open {
		// the first read is itself the unexpected close; surface it the
		// same way a later close would be.
		r.fatal <- &FatalError{Key: key}
		return &entry{value: value.NilValue, stop: stop, stopped: stopped}
	}

	v, err := parseWatcherValue(first)
	if err != nil {
		glog.Warningf("watch: key %s: %v, using nil", key, err)
	}

	e := &entry{value: v, stop: stop, stopped: stopped}

	go r.forward(key, stream, stopped)

	return e
}

// forward relays subsequent values from a single watcher's stream into
// the registry's merged Updates channel, mirroring the teacher's
// receiveFromChild goroutine that relays a child connection's messages
// into the node's single control channel.
func (r *Registry) forward(key string, stream <-chan string, stopped <-chan struct{}) {
	for {
		select {
		case raw, open := <-stream:
			if !open {
				select {
				case <-stopped:
					// expected: Decref already tore this watcher down
				default:
					r.fatal <- &FatalError{Key: key}
				}

				return
			}

			v, err := parseWatcherValue(raw)
			if err != nil {
				glog.Warningf("watch: key %s: %v, using nil", key, err)
			}

			select {
			case r.updates <- Update{Key: key, Value: v}:
			case <-stopped:
				return
			}
		case <-stopped:
			return
		}
	}
}

func parseWatcherValue(raw string) (value.Value, error) {
	if raw == "" {
		return value.NilValue, nil
	}

	return value.Read(raw)
}

func removeOne(roles []string, roleKey string) []string {
	for i, r := range roles {
		if r == roleKey {
			return append(roles[:i], roles[i+1:]...)
		}
	}

	return roles
}
