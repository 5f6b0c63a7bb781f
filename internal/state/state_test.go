package state

import (
	"testing"

	"condo/internal/matcher"
)

func alwaysTrue(matcher.Tags) bool { return true }

func TestMatchingRolesStableOrder(t *testing.T) {
	s := New()
	s.Roles["b"] = &Role{Key: "b", Matcher: alwaysTrue}
	s.Roles["a"] = &Role{Key: "a", Matcher: alwaysTrue}

	roles := s.MatchingRoles(matcher.Tags{})
	if len(roles) != 2 || roles[0].Key != "a" || roles[1].Key != "b" {
		t.Fatalf("expected stable [a b] order, got %+v", roles)
	}
}

func TestMatchingRolesFiltersByPredicate(t *testing.T) {
	s := New()
	s.Roles["web"] = &Role{Key: "web", Matcher: func(t matcher.Tags) bool { return t["dc"] == "eu" }}
	s.Roles["other"] = &Role{Key: "other", Matcher: func(t matcher.Tags) bool { return t["dc"] == "us" }}

	roles := s.MatchingRoles(matcher.Tags{"dc": "eu"})
	if len(roles) != 1 || roles[0].Key != "web" {
		t.Fatalf("expected only web to match, got %+v", roles)
	}
}

func TestRoleKeysForNode(t *testing.T) {
	s := New()
	s.Roles["web"] = &Role{Key: "web", RoleNodes: []string{"alpha", "beta"}}
	s.Roles["db"] = &Role{Key: "db", RoleNodes: []string{"alpha"}}

	keys := s.RoleKeysForNode("alpha")
	if len(keys) != 2 || keys[0] != "db" || keys[1] != "web" {
		t.Fatalf("keys = %v", keys)
	}

	if keys := s.RoleKeysForNode("beta"); len(keys) != 1 || keys[0] != "web" {
		t.Fatalf("keys = %v", keys)
	}
}

func TestCloneVKVIsIndependent(t *testing.T) {
	s := New()
	s.VKV[VKVKey{Node: "alpha", Service: "app"}] = "doc"

	clone := s.CloneVKV()
	clone[VKVKey{Node: "alpha", Service: "app"}] = "mutated"

	if s.VKV[VKVKey{Node: "alpha", Service: "app"}] != "doc" {
		t.Fatal("CloneVKV should be independent of the original map")
	}
}

func TestNodeTagMapPreservesValues(t *testing.T) {
	n := Node{Tags: []TagEntry{{Key: "dc", Value: "eu"}, {Key: "role", Value: "web"}}}
	tm := n.TagMap()
	if tm["dc"] != "eu" || tm["role"] != "web" {
		t.Fatalf("TagMap = %+v", tm)
	}
}
