package state

import (
	"bytes"
	"encoding/json"
	"fmt"

	"condo/internal/matcher"
	"condo/internal/value"
)

// ParseNode decodes a node record (§6: JSON {"ip": string, "tags": {...}})
// into a Node, preserving the tags object's declaration order — which
// encoding/json's map decoding alone would not do.
func ParseNode(name string, raw []byte) (*Node, error) {
	var root struct {
		IP string `json:"ip"`
	}

	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("node %s: %w", name, err)
	}

	tags, err := orderedTags(raw)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", name, err)
	}

	return &Node{Name: name, IP: root.IP, Tags: tags}, nil
}

// orderedTags walks the raw JSON looking for the top-level "tags" object
// and returns its entries in declaration order — plain map decoding would
// not preserve it.
func orderedTags(raw []byte) ([]TagEntry, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}

	tagsRaw, ok := generic["tags"]
	if !ok {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(tagsRaw))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("tags is not an object")
	}

	var tags []TagEntry
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}

		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("tag key is not a string")
		}

		var val string
		if err := dec.Decode(&val); err != nil {
			return nil, fmt.Errorf("tag %q value is not a string", key)
		}

		tags = append(tags, TagEntry{Key: key, Value: val})
	}

	return tags, nil
}

// ParseRole decodes a role record (§6: an associative value with
// :matcher and :services keys) into a compiled Role. Any service-name key
// that is not a keyword is logged and skipped by the caller; ParseRole
// reports it through skipped rather than failing the whole role.
func ParseRole(key string, raw string, skipped func(nonKeywordKey value.Value)) (*Role, error) {
	v, err := value.Read(raw)
	if err != nil {
		return nil, fmt.Errorf("role %s: %w", key, err)
	}

	if v.Kind != value.Map {
		return nil, fmt.Errorf("role %s: record is not a map", key)
	}

	var matcherExpr *value.Value
	var servicesExpr *value.Value

	for i := range v.Pairs {
		p := &v.Pairs[i]
		if p.Key.Kind != value.Keyword {
			continue
		}

		switch p.Key.Str {
		case "matcher":
			matcherExpr = &p.Val
		case "services":
			servicesExpr = &p.Val
		}
	}

	if matcherExpr == nil {
		return nil, fmt.Errorf("role %s: missing :matcher", key)
	}

	if servicesExpr == nil {
		return nil, fmt.Errorf("role %s: missing :services", key)
	}

	pred, err := matcher.Compile(*matcherExpr)
	if err != nil {
		return nil, fmt.Errorf("role %s: %w", key, err)
	}

	if servicesExpr.Kind != value.Map {
		return nil, fmt.Errorf("role %s: :services is not a map", key)
	}

	var services []ServiceTemplate
	for _, p := range servicesExpr.Pairs {
		if p.Key.Kind != value.Keyword {
			if skipped != nil {
				skipped(p.Key)
			}

			continue
		}

		services = append(services, ServiceTemplate{Name: p.Key.Str, Doc: p.Val})
	}

	return &Role{Key: key, Matcher: pred, Services: services}, nil
}
