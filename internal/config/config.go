// Package config parses condo's command-line configuration, in the style
// of extenderctl/tetherctl: one usage string doubling as --help text, a
// single docopt.ParseArgs call, and typed accessors pulled once at startup
// into a plain struct.
package config

import (
	"github.com/docopt/docopt-go"
)

const Version = "0.0.1"

const usage = `condo: a role-based service materializer.

Usage:
    condo run [--consul_addr=<consul_addr>] [--consul_token=<consul_token>]
        [--nodes_prefix=<nodes_prefix>] [--roles_prefix=<roles_prefix>]
        [--services_prefix=<services_prefix>] [--listen=<listen>]

Options:
    -h --help                              Show this screen.
    --version                              Show version.
    --consul_addr=<consul_addr>             Consul HTTP API address [default: 127.0.0.1:8500].
    --consul_token=<consul_token>           Consul ACL token.
    --nodes_prefix=<nodes_prefix>           KV prefix nodes are read from [default: condo/nodes].
    --roles_prefix=<roles_prefix>           KV prefix roles are read from [default: condo/roles].
    --services_prefix=<services_prefix>     KV prefix materialized documents are written under [default: condo/services].
    --listen=<listen>                       Query endpoint listen address. Empty disables it.`

// Config is condo's fully resolved runtime configuration.
type Config struct {
	ConsulAddr     string
	ConsulToken    string
	NodesPrefix    string
	RolesPrefix    string
	ServicesPrefix string
	Listen         string
}

// Parse reads args (normally os.Args[1:]) and returns the resolved
// configuration, or an error from a malformed command line.
func Parse(args []string) (Config, error) {
	opts, err := docopt.ParseArgs(usage, args, Version)
	if err != nil {
		return Config{}, err
	}

	get := func(key string) string {
		s, _ := opts.String(key)
		return s
	}

	return Config{
		ConsulAddr:     get("--consul_addr"),
		ConsulToken:    get("--consul_token"),
		NodesPrefix:    get("--nodes_prefix"),
		RolesPrefix:    get("--roles_prefix"),
		ServicesPrefix: get("--services_prefix"),
		Listen:         get("--listen"),
	}, nil
}
