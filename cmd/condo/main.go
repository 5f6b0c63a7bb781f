// Command condo runs the role-based service materializer: it watches a
// Consul nodes prefix and roles prefix, reconciles them against watcher
// values into materialized per-(node,service) documents, and optionally
// serves a read-only query endpoint over the current state.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"

	"condo/internal/config"
	"condo/internal/kvstore"
	"condo/internal/query"
	"condo/internal/reconcile"
	"condo/internal/state"
	"condo/internal/watch"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		glog.Exitf("condo: %v", err)
	}

	run(cfg)
}

func run(cfg config.Config) {
	kv, err := kvstore.New(cfg.ConsulAddr, cfg.ConsulToken)
	if err != nil {
		glog.Exitf("condo: connecting to consul at %s: %v", cfg.ConsulAddr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := watch.NewRegistry(ctx, kv)
	engine := reconcile.NewEngine(state.New(), registry, kv, cfg.ServicesPrefix)

	nodeChanges, stopNodes := kv.Prefix(ctx, cfg.NodesPrefix)
	roleChanges, stopRoles := kv.Prefix(ctx, cfg.RolesPrefix)

	engine.TrackProducer(func() { forwardPrefix(nodeChanges, cfg.NodesPrefix, engine.IngestNodeChange) })
	engine.TrackProducer(func() { forwardPrefix(roleChanges, cfg.RolesPrefix, engine.IngestRoleChange) })

	var queryServer *query.Server
	if cfg.Listen != "" {
		queryServer = query.NewServer(cfg.Listen, engine)
		queryServer.Start(ctx)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	glog.Infof("condo: running (consul=%s nodes=%s roles=%s services=%s)",
		cfg.ConsulAddr, cfg.NodesPrefix, cfg.RolesPrefix, cfg.ServicesPrefix)

	fatal := false
	select {
	case <-sig:
		glog.Infof("condo: received shutdown signal")
	case err := <-engine.Fatal():
		// the engine has already stopped itself and every live watcher;
		// calling Stop here would block forever waiting on a reconciler
		// goroutine that already returned.
		fatal = true
		glog.Errorf("condo: fatal reconciler error: %v", err)
	}

	stopNodes()
	stopRoles()
	if queryServer != nil {
		queryServer.Stop()
	}

	if !fatal {
		engine.Stop()
	}

	glog.Infof("condo: stopped")
}

// forwardPrefix relays a raw kvstore.Change stream into the engine,
// stopping when the stream closes (stopNodes/stopRoles tear the prefix
// watch down before Stop closes the engine's merged events channel).
// Started through engine.TrackProducer so Stop's drain waits for it.
func forwardPrefix(changes <-chan kvstore.Change, prefix string, ingest func(kvstore.Change)) {
	for c := range changes {
		ingest(c)
	}

	glog.Infof("condo: prefix watch %s stopped", prefix)
}
