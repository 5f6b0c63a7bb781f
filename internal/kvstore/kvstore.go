// Package kvstore adapts the coordination store to the narrow interface
// the reconciler actually consumes (§6): a watched prefix of changes, a
// watched single key, and PUT/DELETE against arbitrary paths. It is the
// only package in this repository that imports the Consul client
// directly; everything else in condo only ever sees the interfaces below.
package kvstore

import (
	"context"
	"path"
	"strings"
	"time"

	consulapi "github.com/hashicorp/consul/api"

	"github.com/golang/glog"
)

// Change is one element of a prefix watch stream.
type ChangeKind int

const (
	Created ChangeKind = iota
	Updated
	Removed
)

type Change struct {
	Kind  ChangeKind
	Key   string
	Value string
}

// Client is the consumed Consul interface (§6). nodes/roles are observed
// through Prefix; watcher values through Key; materialized documents are
// written through Put/Delete.
type Client interface {
	Prefix(ctx context.Context, prefix string) (<-chan Change, func())
	Key(ctx context.Context, key string) (<-chan string, func())
	Put(path, body string) error
	Delete(path string) error
}

// consulClient is the production Client backed by a real Consul agent.
type consulClient struct {
	kv *consulapi.KV
}

// New dials the Consul HTTP API at addr with the given ACL token (an empty
// token leaves the client's default token in place).
func New(addr, token string) (Client, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}

	if token != "" {
		cfg.Token = token
	}

	c, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	return &consulClient{kv: c.KV()}, nil
}

func (c *consulClient) Put(path, body string) error {
	_, err := c.kv.Put(&consulapi.KVPair{Key: path, Value: []byte(body)}, nil)
	return err
}

func (c *consulClient) Delete(path string) error {
	_, err := c.kv.Delete(path, nil)
	return err
}

// Prefix long-polls the Consul KV prefix using blocking queries, diffing
// successive snapshots into Created/Updated/Removed changes. The returned
// close func stops the poll loop; a single read error (timeout, agent
// hiccup) is retried with the same backoff the reconciler uses for PUT
// retries rather than treated as stream EOF — only the close func or
// cancellation of ctx ends the stream.
func (c *consulClient) Prefix(ctx context.Context, prefix string) (<-chan Change, func()) {
	out := make(chan Change)
	stop := make(chan struct{})

	go func() {
		defer close(out)

		prev := map[string]string{}
		var waitIndex uint64

		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			default:
			}

			pairs, meta, err := c.kv.List(prefix, &consulapi.QueryOptions{
				WaitIndex: waitIndex,
				WaitTime:  5 * time.Minute,
			})
			if err != nil {
				glog.Warningf("kvstore: prefix %s list failed, retrying in 5s: %v", prefix, err)
				select {
				case <-time.After(5 * time.Second):
					continue
				case <-stop:
					return
				case <-ctx.Done():
					return
				}
			}

			waitIndex = meta.LastIndex

			next := map[string]string{}
			for _, p := range pairs {
				name := basename(prefix, p.Key)
				if name == "" {
					// the prefix's own directory marker, not an entry under it
					continue
				}

				next[name] = string(p.Value)
			}

			for k, v := range next {
				old, existed := prev[k]
				if !existed {
					send(out, stop, Change{Kind: Created, Key: k, Value: v})
				} else if old != v {
					send(out, stop, Change{Kind: Updated, Key: k, Value: v})
				}
			}

			for k := range prev {
				if _, ok := next[k]; !ok {
					send(out, stop, Change{Kind: Removed, Key: k})
				}
			}

			prev = next
		}
	}()

	return out, func() { close(stop) }
}

func send(out chan<- Change, stop <-chan struct{}, c Change) {
	select {
	case out <- c:
	case <-stop:
	}
}

// basename reduces a full Consul key under prefix to the final path
// segment condo identifies nodes and roles by (§3, §6). It returns "" for
// the prefix's own directory entry (trailing-slash key with no content
// past the prefix), which is not itself a node or role.
func basename(prefix, key string) string {
	rest := strings.TrimPrefix(key, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return ""
	}

	return path.Base(rest)
}

// Key long-polls a single KV key. The first element delivered is the
// current value (possibly ""); subsequent elements are updates. Per §4.3
// an end-of-stream here (the agent closing the watch with no recovery
// possible) is fatal, signalled by closing out without a preceding stop().
func (c *consulClient) Key(ctx context.Context, key string) (<-chan string, func()) {
	out := make(chan string)
	stop := make(chan struct{})

	go func() {
		defer close(out)

		var waitIndex uint64

		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			default:
			}

			pair, meta, err := c.kv.Get(key, &consulapi.QueryOptions{
				WaitIndex: waitIndex,
				WaitTime:  5 * time.Minute,
			})
			if err != nil {
				glog.Warningf("kvstore: key %s get failed, retrying in 5s: %v", key, err)
				select {
				case <-time.After(5 * time.Second):
					continue
				case <-stop:
					return
				case <-ctx.Done():
					return
				}
			}

			waitIndex = meta.LastIndex

			val := ""
			if pair != nil {
				val = string(pair.Value)
			}

			select {
			case out <- val:
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() { close(stop) }
}
