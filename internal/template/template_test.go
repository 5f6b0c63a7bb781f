package template

import (
	"encoding/json"
	"strings"
	"testing"

	"condo/internal/value"
)

func read(t *testing.T, src string) value.Value {
	t.Helper()
	v, err := value.Read(src)
	if err != nil {
		t.Fatalf("value.Read(%q): %v", src, err)
	}

	return v
}

func TestExpandInjectsHost(t *testing.T) {
	tmpl := read(t, `{:environment []}`)

	doc, ok := Expand(tmpl, noopResolver, "10.0.0.1")
	if !ok {
		t.Fatal("expected expansion to succeed")
	}

	if !strings.Contains(doc, `"HOST"`) {
		t.Fatalf("expected HOST entry in %s", doc)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		t.Fatal(err)
	}

	env := parsed["environment"].([]interface{})
	first := env[0].(map[string]interface{})
	if first["name"] != "HOST" || first["value"] != "10.0.0.1" {
		t.Fatalf("HOST entry not first: %+v", first)
	}
}

func TestExpandPreservesDeclaredEnv(t *testing.T) {
	tmpl := read(t, `{:environment [{:name "PORT" :value "8080"}]}`)

	doc, ok := Expand(tmpl, noopResolver, "10.0.0.1")
	if !ok {
		t.Fatal("expected expansion to succeed")
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		t.Fatal(err)
	}

	env := parsed["environment"].([]interface{})
	if len(env) != 2 {
		t.Fatalf("expected HOST plus declared entry, got %v", env)
	}
}

func TestExpandSubstitutesWatcher(t *testing.T) {
	tmpl := read(t, `{:environment [] :config #condo/watcher "cfg"}`)

	resolve := func(key string) (value.Value, bool) {
		if key == "cfg" {
			v := read(t, `{:level 3}`)
			return v, true
		}

		return value.NilValue, false
	}

	doc, ok := Expand(tmpl, resolve, "10.0.0.1")
	if !ok {
		t.Fatal("expected expansion to succeed")
	}

	if !strings.Contains(doc, `"level"`) {
		t.Fatalf("expected substituted watcher content in %s", doc)
	}
}

func TestExpandFailsValidationWithoutEnvironment(t *testing.T) {
	tmpl := read(t, `{:name "app"}`)

	if _, ok := Expand(tmpl, noopResolver, "10.0.0.1"); ok {
		t.Fatal("expected validation failure for missing environment")
	}
}

func TestFindWatchersDelegates(t *testing.T) {
	tmpl := read(t, `{:a #condo/watcher "x"}`)
	keys := FindWatchers(tmpl, nil)
	if len(keys) != 1 || keys[0] != "x" {
		t.Fatalf("keys = %v", keys)
	}
}

func noopResolver(string) (value.Value, bool) { return value.NilValue, false }
