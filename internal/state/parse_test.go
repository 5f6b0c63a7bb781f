package state

import (
	"testing"

	"condo/internal/value"
)

func TestParseNodePreservesTagOrder(t *testing.T) {
	raw := []byte(`{"ip":"10.0.0.1","tags":{"dc":"eu","rack":"r1","role":"web"}}`)

	n, err := ParseNode("alpha", raw)
	if err != nil {
		t.Fatal(err)
	}

	if n.IP != "10.0.0.1" {
		t.Fatalf("ip = %q", n.IP)
	}

	want := []string{"dc", "rack", "role"}
	if len(n.Tags) != len(want) {
		t.Fatalf("tags = %+v", n.Tags)
	}

	for i, k := range want {
		if n.Tags[i].Key != k {
			t.Fatalf("tags[%d] = %q, want %q", i, n.Tags[i].Key, k)
		}
	}
}

func TestParseNodeMissingTags(t *testing.T) {
	n, err := ParseNode("alpha", []byte(`{"ip":"10.0.0.1"}`))
	if err != nil {
		t.Fatal(err)
	}

	if len(n.Tags) != 0 {
		t.Fatalf("expected no tags, got %+v", n.Tags)
	}
}

func TestParseNodeBadJSON(t *testing.T) {
	if _, err := ParseNode("alpha", []byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestParseRole(t *testing.T) {
	raw := `{:matcher (eq :dc "eu") :services {:app "doc"}}`

	r, err := ParseRole("web", raw, nil)
	if err != nil {
		t.Fatal(err)
	}

	if !r.Matcher(map[string]string{"dc": "eu"}) {
		t.Fatal("expected compiled matcher to accept dc=eu")
	}

	if len(r.Services) != 1 || r.Services[0].Name != "app" {
		t.Fatalf("services = %+v", r.Services)
	}
}

func TestParseRoleSkipsNonKeywordServiceName(t *testing.T) {
	raw := `{:matcher (eq :dc "eu") :services {"app" "doc" :db "doc2"}}`

	var skipped []value.Value
	r, err := ParseRole("web", raw, func(k value.Value) { skipped = append(skipped, k) })
	if err != nil {
		t.Fatal(err)
	}

	if len(skipped) != 1 {
		t.Fatalf("expected one skipped key, got %v", skipped)
	}

	if len(r.Services) != 1 || r.Services[0].Name != "db" {
		t.Fatalf("services = %+v", r.Services)
	}
}

func TestParseRoleMissingMatcher(t *testing.T) {
	if _, err := ParseRole("web", `{:services {:app "doc"}}`, nil); err == nil {
		t.Fatal("expected error for missing :matcher")
	}
}

func TestParseRoleBadMatcher(t *testing.T) {
	if _, err := ParseRole("web", `{:matcher (and) :services {:app "doc"}}`, nil); err == nil {
		t.Fatal("expected error for invalid matcher")
	}
}
