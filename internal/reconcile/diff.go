package reconcile

import (
	"time"

	"github.com/golang/glog"

	"condo/internal/state"
)

// diffAndWrite computes the symmetric difference between prev and the
// current VKV and executes the minimal set of PUT/DELETE operations
// (§4.5). PUT failures are retried indefinitely with a fixed back-off,
// blocking the reconciler — ingestion of subsequent events pauses while a
// write is being retried (§5's suspension points). DELETE failures are
// logged and not retried.
func (e *Engine) diffAndWrite(prev map[state.VKVKey]string) {
	next := e.state.VKV

	for k, v := range next {
		old, existed := prev[k]
		if !existed || old != v {
			e.put(k, v)
		}
	}

	for k := range prev {
		if _, ok := next[k]; !ok {
			e.delete(k)
		}
	}
}

func (e *Engine) put(k state.VKVKey, body string) {
	path := e.servicePath(k)

	for {
		if err := e.kv.Put(path, body); err != nil {
			glog.Warningf("reconcile: PUT %s failed, retrying in %s: %v", path, e.putRetryInterval, err)
			time.Sleep(e.putRetryInterval)
			continue
		}

		return
	}
}

func (e *Engine) delete(k state.VKVKey) {
	path := e.servicePath(k)

	if err := e.kv.Delete(path); err != nil {
		glog.Warningf("reconcile: DELETE %s failed, not retrying: %v", path, err)
	}
}
