package reconcile

import "condo/internal/value"

type eventKind int

const (
	eventNodeNew eventKind = iota
	eventNodeUpdated
	eventNodeRemoved
	eventRoleNew
	eventRoleUpdated
	eventRoleRemoved
	eventWatcherUpdated
	eventGetState
	eventFatal
)

// event is the tagged variant merging the four asynchronous sources
// described in §4.5/§9 into one serialized sequence: node changes, role
// changes, watcher-value changes, and out-of-band state queries. Every
// producer (the node/role prefix-watch forwarders in cmd/condo, the
// watcher registry's update forwarder, and GetState callers) sends one of
// these on the engine's single events channel, mirroring the teacher's
// node.go control struct merged over one chan control.
//
// Shutdown is not an event on this channel: §5 requires the reconciler to
// drain the merged stream to its end before tearing watchers down, which
// an injected stop marker can't guarantee against concurrently blocked
// senders. Stop instead waits for every tracked producer to confirm it
// has stopped sending (see Engine.TrackProducer) and then closes the
// channel itself, so run's range loop ends only once nothing can race it.
type event struct {
	kind eventKind

	key string

	nodeRaw []byte
	roleRaw string

	watcherValue value.Value

	stateSink chan Snapshot

	err error
}
