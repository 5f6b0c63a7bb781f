// Package reconcile implements the single-threaded reconciliation engine
// (§4.5, C5): the reconciler that merges node, role, watcher and
// out-of-band query events into one serialized sequence, applies each
// against the in-memory state model, and writes the minimum VKV diff back
// to the coordination store.
package reconcile

import (
	"path"
	"sync"
	"time"

	"github.com/golang/glog"

	"condo/internal/kvstore"
	"condo/internal/state"
	"condo/internal/watch"
)

// Engine owns the state model and the watcher registry exclusively (§5):
// all mutation happens on its single run goroutine.
type Engine struct {
	events      chan event
	forwardStop chan struct{}
	producers   sync.WaitGroup
	stopped     chan struct{}
	fatal       chan error
	state       *state.State
	registry    *watch.Registry
	kv          kvstore.Client

	servicesPrefix string

	putRetryInterval time.Duration

	errors ErrorCounters
}

// NewEngine constructs and starts a reconciler. servicesPrefix is the KV
// path prefix documents are written under (§6: services_prefix/<node>/<service>).
func NewEngine(st *state.State, registry *watch.Registry, kv kvstore.Client, servicesPrefix string) *Engine {
	e := &Engine{
		events:           make(chan event),
		forwardStop:      make(chan struct{}),
		stopped:          make(chan struct{}),
		fatal:            make(chan error, 1),
		state:            st,
		registry:         registry,
		kv:               kv,
		servicesPrefix:   servicesPrefix,
		putRetryInterval: 5 * time.Second,
	}

	e.TrackProducer(e.forwardWatcherEvents)
	go e.run()

	return e
}

// TrackProducer runs fn in its own goroutine as a producer against the
// engine's merged event stream, and registers it with the WaitGroup Stop
// waits on before closing that stream (§5). Every goroutine that calls
// Engine methods which send on e.events — cmd/condo's node/role
// prefix-watch forwarders as well as the engine's own internal watcher
// forwarder — must be started this way, or Stop can race a send against
// the channel close it performs once every tracked producer has returned.
func (e *Engine) TrackProducer(fn func()) {
	e.producers.Add(1)
	go func() {
		defer e.producers.Done()
		fn()
	}()
}

// forwardWatcherEvents relays the watcher registry's own merged streams
// (value updates and fatal stream-ends) into the engine's single events
// channel, the same way the teacher's node.go wraps a child connection's
// receive/error channels and relays them into n.control. It returns once
// told to stop (Stop closes forwardStop) or once the registry's own
// streams end.
func (e *Engine) forwardWatcherEvents() {
	updates := e.registry.Updates()
	fatal := e.registry.Fatal()

	for {
		select {
		case u, open := <-updates:
			if !open {
				return
			}

			e.events <- event{kind: eventWatcherUpdated, key: u.Key, watcherValue: u.Value}
		case err, open := <-fatal:
			if !open {
				return
			}

			e.events <- event{kind: eventFatal, err: err}
			return
		case <-e.forwardStop:
			return
		}
	}
}

// NodeNew ingests a NodeNew event (§4.5).
func (e *Engine) NodeNew(key string, raw []byte) {
	e.events <- event{kind: eventNodeNew, key: key, nodeRaw: raw}
}

// NodeUpdated ingests a NodeUpdated event.
func (e *Engine) NodeUpdated(key string, raw []byte) {
	e.events <- event{kind: eventNodeUpdated, key: key, nodeRaw: raw}
}

// NodeRemoved ingests a NodeRemoved event.
func (e *Engine) NodeRemoved(key string) { e.events <- event{kind: eventNodeRemoved, key: key} }

// RoleNew ingests a RoleNew event.
func (e *Engine) RoleNew(key, raw string) {
	e.events <- event{kind: eventRoleNew, key: key, roleRaw: raw}
}

// RoleUpdated ingests a RoleUpdated event.
func (e *Engine) RoleUpdated(key, raw string) {
	e.events <- event{kind: eventRoleUpdated, key: key, roleRaw: raw}
}

// RoleRemoved ingests a RoleRemoved event.
func (e *Engine) RoleRemoved(key string) { e.events <- event{kind: eventRoleRemoved, key: key} }

// IngestNodeChange adapts a raw kvstore.Change from the nodes prefix
// watch into the corresponding NodeNew/NodeUpdated/NodeRemoved event.
func (e *Engine) IngestNodeChange(c kvstore.Change) {
	switch c.Kind {
	case kvstore.Created:
		e.NodeNew(c.Key, []byte(c.Value))
	case kvstore.Updated:
		e.NodeUpdated(c.Key, []byte(c.Value))
	case kvstore.Removed:
		e.NodeRemoved(c.Key)
	}
}

// IngestRoleChange adapts a raw kvstore.Change from the roles prefix
// watch into the corresponding RoleNew/RoleUpdated/RoleRemoved event.
func (e *Engine) IngestRoleChange(c kvstore.Change) {
	switch c.Kind {
	case kvstore.Created:
		e.RoleNew(c.Key, c.Value)
	case kvstore.Updated:
		e.RoleUpdated(c.Key, c.Value)
	case kvstore.Removed:
		e.RoleRemoved(c.Key)
	}
}

// GetState delivers a snapshot reflecting exactly the prefix of events
// processed before this call returns (§5: GetState is ordered with
// respect to every other event). It does not mutate state.
//
// Like the prefix/watcher forwarders, a caller sending on e.events must
// not still be in flight when Stop closes that channel. cmd/condo
// arranges this by shutting the query listener down (which drains any
// handler already inside GetState) before calling Stop.
func (e *Engine) GetState() Snapshot {
	sink := make(chan Snapshot, 1)
	e.events <- event{kind: eventGetState, stateSink: sink}
	return <-sink
}

// Fatal delivers at most one error when a watcher's remote stream ends
// unexpectedly (§4.3, §7): the one error class that terminates the
// engine. The caller (cmd/condo) is expected to treat this as fatal to
// the process.
func (e *Engine) Fatal() <-chan error { return e.fatal }

// Stop implements the cancellation sequence of §5: the caller is expected
// to have already closed the node and role prefix watches so no further
// NodeNew/RoleNew-family events arrive. Stop waits for every producer
// registered through TrackProducer — those prefix forwarders included —
// to confirm it has stopped sending before closing the merged stream
// itself; only then is the stream genuinely exhausted, so run's drain
// can't race a producer's in-flight send. Once the stream is drained, run
// stops every live watcher and Stop returns.
func (e *Engine) Stop() {
	close(e.forwardStop)
	e.producers.Wait()
	close(e.events)
	<-e.stopped
}

func (e *Engine) run() {
	for ev := range e.events {
		switch ev.kind {
		case eventGetState:
			ev.stateSink <- e.snapshot()
			continue
		case eventFatal:
			glog.Errorf("reconcile: fatal watcher error, stopping: %v", ev.err)
			e.registry.StopAll()
			e.fatal <- ev.err
			close(e.stopped)
			return
		}

		prev := e.state.CloneVKV()
		e.apply(ev)
		e.diffAndWrite(prev)
	}

	// e.events is closed only by Stop, once every tracked producer has
	// confirmed it stopped sending — the merged stream is genuinely
	// drained here, not just empty for the moment (§5).
	e.registry.StopAll()
	close(e.stopped)
}

func (e *Engine) servicePath(k state.VKVKey) string {
	return path.Join(e.servicesPrefix, k.Node, k.Service)
}
