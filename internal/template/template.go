// Package template implements the service-document template expander
// (§4.2, C2): substituting watcher references, validating the result
// against the external service-document schema, and injecting the HOST
// environment entry.
package template

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang/glog"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"condo/internal/value"
)

// schemaSrc is the service-document schema consumed as a black box by
// step 2 of expansion (§4.2): a service document is a JSON object with an
// "environment" list of {"name","value"} entries and free-form extra
// fields for the process manager underneath it.
const schemaSrc = `{
  "type": "object",
  "required": ["environment"],
  "properties": {
    "environment": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "value"],
        "properties": {
          "name": {"type": "string"},
          "value": {}
        }
      }
    }
  }
}`

var validator = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	mustJSON(schemaSrc)

	c := jsonschema.NewCompiler()
	if err := c.AddResource("service-document.json", strings.NewReader(schemaSrc)); err != nil {
		panic(err)
	}

	s, err := c.Compile("service-document.json")
	if err != nil {
		panic(err)
	}

	return s
}

func mustJSON(src string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(src), &v); err != nil {
		panic(err)
	}

	return v
}

// Resolver supplies the current value of a watcher by key, for the
// substitution step. The caller (the reconciler) is required to have
// already called the watcher registry's Incref for every key
// FindWatchers returns before Expand is invoked (§4.2 precondition).
type Resolver func(key string) (value.Value, bool)

// Expand renders tmpl for node IP nodeIP, substituting watcher references
// via resolve, validating the result, and injecting a HOST environment
// entry at the head of the environment list. It returns ("", false) if
// the expanded document fails schema validation — the caller is expected
// to log and either omit the (node, service) entry or preserve whatever
// was there before (§4.5).
func Expand(tmpl value.Value, resolve Resolver, nodeIP string) (string, bool) {
	substituted := value.Substitute(tmpl, resolve)

	jv, err := value.ToJSON(substituted)
	if err != nil {
		glog.Warningf("template: converting expanded document to JSON: %v", err)
		return "", false
	}

	if err := validator.Validate(jv); err != nil {
		glog.Warningf("template: document failed schema validation: %v", err)
		return "", false
	}

	withHost, err := injectHost(jv, nodeIP)
	if err != nil {
		glog.Warningf("template: injecting HOST: %v", err)
		return "", false
	}

	out, err := json.Marshal(withHost)
	if err != nil {
		glog.Warningf("template: re-serializing document: %v", err)
		return "", false
	}

	return string(out), true
}

func injectHost(jv interface{}, nodeIP string) (interface{}, error) {
	doc, ok := jv.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("document root is not an object")
	}

	env, _ := doc["environment"].([]interface{})

	hostEntry := map[string]interface{}{"name": "HOST", "value": nodeIP}
	doc["environment"] = append([]interface{}{hostEntry}, env...)

	return doc, nil
}

// FindWatchers returns the watcher keys referenced by tmpl, reporting
// structural errors (a #condo/watcher literal with a non-string payload)
// through onError (§4.2 find_watchers).
func FindWatchers(tmpl value.Value, onError func(value.Value)) []string {
	return value.FindWatchers(tmpl, onError)
}
