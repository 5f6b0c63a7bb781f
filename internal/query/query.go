// Package query implements the read-only HTTP query endpoint (§4.6, C6):
// a single GET /state route that serializes the reconciler's current
// snapshot as JSON.
package query

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/golang/glog"

	"condo/internal/reconcile"
	"condo/internal/value"
)

// StateProvider is the narrow slice of Engine the server depends on, so
// this package never needs to import the concrete engine type's full
// surface.
type StateProvider interface {
	GetState() reconcile.Snapshot
}

// stateDoc mirrors the §6 wire shape of GET /state.
type stateDoc struct {
	Roles    []roleDoc    `json:"roles"`
	Nodes    []nodeDoc    `json:"nodes"`
	Watchers []watcherDoc `json:"watchers"`
	Errors   errorsDoc    `json:"errors"`
}

type roleDoc struct {
	Key      string   `json:"key"`
	Nodes    []string `json:"nodes"`
	Services []string `json:"services"`
}

type nodeDoc struct {
	IP    string            `json:"ip"`
	Name  string            `json:"name"`
	Tags  map[string]string `json:"tags"`
	Roles []string          `json:"roles"`
}

type watcherDoc struct {
	Key          string      `json:"key"`
	Roles        []string    `json:"roles"`
	WatcherValue interface{} `json:"watcher_value"`
}

type errorsDoc struct {
	DroppedRoles       int `json:"dropped_roles"`
	SkippedWatcherTags int `json:"skipped_watcher_tags"`
	FailedValidations  int `json:"failed_validations"`
}

// Server serves GET /state from a StateProvider; any other path is 404.
type Server struct {
	engine StateProvider
	http   *http.Server
}

// NewServer builds a query server listening on addr. It does not start
// listening until Start is called.
func NewServer(addr string, engine StateProvider) *Server {
	s := &Server{engine: engine}
	mux := http.NewServeMux()
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/", s.handleNotFound)
	s.http = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start runs the listener until ctx is cancelled or Stop is called, in its
// own goroutine. Bind failures are logged and fatal to the process, the
// same way the engine treats an unrecoverable watcher stream.
func (s *Server) Start(ctx context.Context) {
	go func() {
		glog.Infof("query: listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("query: listener failed: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop shuts the listener down, draining in-flight requests.
func (s *Server) Stop() {
	glog.Infof("query: shutting down")
	if err := s.http.Shutdown(context.Background()); err != nil {
		glog.Warningf("query: shutdown: %v", err)
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/state" {
		s.handleNotFound(w, r)
		return
	}

	snap := s.engine.GetState()
	doc := toDoc(snap)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		glog.Warningf("query: encoding /state response: %v", err)
	}
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte("Not found"))
}

func watcherJSON(w reconcile.WatcherSnapshot) (interface{}, error) {
	return value.ToJSON(w.Value)
}

func toDoc(snap reconcile.Snapshot) stateDoc {
	roles := make([]roleDoc, 0, len(snap.Roles))
	for _, r := range snap.Roles {
		roles = append(roles, roleDoc{Key: r.Key, Nodes: r.Nodes, Services: r.Services})
	}

	nodes := make([]nodeDoc, 0, len(snap.Nodes))
	for _, n := range snap.Nodes {
		tags := make(map[string]string, len(n.Tags))
		for _, t := range n.Tags {
			tags[t.Key] = t.Value
		}

		nodes = append(nodes, nodeDoc{IP: n.IP, Name: n.Name, Tags: tags, Roles: n.Roles})
	}

	watchers := make([]watcherDoc, 0, len(snap.Watchers))
	for _, wv := range snap.Watchers {
		jv, err := watcherJSON(wv)
		watchers = append(watchers, watcherDoc{Key: wv.Key, Roles: wv.Roles, WatcherValue: jv})
		if err != nil {
			glog.Warningf("query: watcher %s: %v", wv.Key, err)
		}
	}

	return stateDoc{
		Roles:    roles,
		Nodes:    nodes,
		Watchers: watchers,
		Errors: errorsDoc{
			DroppedRoles:       snap.Errors.DroppedRoles,
			SkippedWatcherTags: snap.Errors.SkippedWatcherTags,
			FailedValidations:  snap.Errors.FailedValidations,
		},
	}
}
