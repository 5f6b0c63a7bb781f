package watch

import (
	"context"
	"testing"
	"time"

	"condo/internal/kvstore"
)

type fakeClient struct {
	streams map[string]chan string
	stopped map[string]bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{streams: map[string]chan string{}, stopped: map[string]bool{}}
}

func (f *fakeClient) Prefix(context.Context, string) (<-chan kvstore.Change, func()) {
	panic("not used in these tests")
}

func (f *fakeClient) Key(_ context.Context, key string) (<-chan string, func()) {
	c, ok := f.streams[key]
	if !ok {
		c = make(chan string, 4)
		f.streams[key] = c
	}

	return c, func() { f.stopped[key] = true }
}

func (f *fakeClient) Put(string, string) error { return nil }
func (f *fakeClient) Delete(string) error      { return nil }

func TestIncrefBlocksForFirstValue(t *testing.T) {
	fc := newFakeClient()
	r := NewRegistry(context.Background(), fc)

	ch := make(chan string, 1)
	fc.streams["cfg"] = ch
	ch <- `{:level 3}`

	current := r.Incref("web", []string{"cfg"})
	v, ok := current["cfg"]
	if !ok {
		t.Fatal("expected cfg to be present")
	}

	if len(v.Pairs) != 1 {
		t.Fatalf("expected one pair, got %+v", v)
	}

	if r.RoleCount("cfg") != 1 {
		t.Fatalf("expected refcount 1, got %d", r.RoleCount("cfg"))
	}
}

func TestIncrefSharesExistingWatcher(t *testing.T) {
	fc := newFakeClient()
	r := NewRegistry(context.Background(), fc)

	ch := make(chan string, 1)
	fc.streams["cfg"] = ch
	ch <- `nil`

	r.Incref("web", []string{"cfg"})
	r.Incref("svc", []string{"cfg"})

	if r.RoleCount("cfg") != 2 {
		t.Fatalf("expected refcount 2, got %d", r.RoleCount("cfg"))
	}
}

func TestDecrefStopsAtZero(t *testing.T) {
	fc := newFakeClient()
	r := NewRegistry(context.Background(), fc)

	ch := make(chan string, 1)
	fc.streams["cfg"] = ch
	ch <- `nil`

	r.Incref("web", []string{"cfg"})
	r.Incref("svc", []string{"cfg"})

	r.Decref("web")
	if fc.stopped["cfg"] {
		t.Fatal("watch should not stop while a reference remains")
	}

	r.Decref("svc")
	if !fc.stopped["cfg"] {
		t.Fatal("watch should stop once the last reference is removed")
	}

	if r.RoleCount("cfg") != 0 {
		t.Fatalf("expected refcount 0, got %d", r.RoleCount("cfg"))
	}
}

func TestUpdateIsForwarded(t *testing.T) {
	fc := newFakeClient()
	r := NewRegistry(context.Background(), fc)

	ch := make(chan string, 1)
	fc.streams["cfg"] = ch
	ch <- `nil`

	r.Incref("web", []string{"cfg"})

	ch <- `"new"`

	select {
	case u := <-r.Updates():
		if u.Key != "cfg" || u.Value.Str != "new" {
			t.Fatalf("unexpected update: %+v", u)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update")
	}
}
