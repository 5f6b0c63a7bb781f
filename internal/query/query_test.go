package query

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"condo/internal/reconcile"
	"condo/internal/value"
)

type fakeProvider struct {
	snap reconcile.Snapshot
}

func (f fakeProvider) GetState() reconcile.Snapshot { return f.snap }

func TestHandleStateShape(t *testing.T) {
	snap := reconcile.Snapshot{
		Roles: []reconcile.RoleSnapshot{
			{Key: "web", Nodes: []string{"alpha"}, Services: []string{"app"}},
		},
		Nodes: []reconcile.NodeSnapshot{
			{IP: "10.0.0.1", Name: "alpha", Roles: []string{"web"}},
		},
		Watchers: []reconcile.WatcherSnapshot{
			{Key: "cfg", Roles: []string{"web"}, Value: value.Kw("ready")},
		},
		Errors: reconcile.ErrorCounters{DroppedRoles: 1},
	}

	s := NewServer(":0", fakeProvider{snap})

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	rec := httptest.NewRecorder()
	s.handleState(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q", ct)
	}

	var doc stateDoc
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(doc.Roles) != 1 || doc.Roles[0].Key != "web" {
		t.Fatalf("roles = %+v", doc.Roles)
	}

	if len(doc.Nodes) != 1 || doc.Nodes[0].Name != "alpha" {
		t.Fatalf("nodes = %+v", doc.Nodes)
	}

	if len(doc.Watchers) != 1 || doc.Watchers[0].WatcherValue != "ready" {
		t.Fatalf("watchers = %+v", doc.Watchers)
	}

	if doc.Errors.DroppedRoles != 1 {
		t.Fatalf("errors = %+v", doc.Errors)
	}
}

func TestUnknownPathIs404(t *testing.T) {
	s := NewServer(":0", fakeProvider{})

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}

	if rec.Body.String() != "Not found" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}
