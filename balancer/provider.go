package balancer

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Node describes a cluster member.
type Node struct {
	// Name identifies the node in logs and status, Addr is used if empty.
	Name string
	Addr string
	// User and Password override the credentials of the connection options.
	User     string
	Password string
}

// Provider returns the members a balancer is built from.
type Provider interface {
	Nodes(ctx context.Context) ([]Node, error)
}

// StaticProvider is a fixed list of nodes.
type StaticProvider []Node

func (p StaticProvider) Nodes(context.Context) ([]Node, error) {
	nodes := make([]Node, len(p))
	copy(nodes, p)
	return nodes, nil
}

// ViperProvider reads nodes from a viper configuration:
//
//	<prefix>.endpoints  comma separated addresses, optionally name=addr
//	<prefix>.user       user of every node
//	<prefix>.password   password of every node
//
// An empty prefix reads top level keys, so environment variables bound with
// viper.AutomaticEnv (for example IPROTO_ENDPOINTS) are picked up.
type ViperProvider struct {
	Viper  *viper.Viper
	Prefix string
}

func (p ViperProvider) key(name string) string {
	if p.Prefix == "" {
		return name
	}
	return p.Prefix + "." + name
}

func (p ViperProvider) Nodes(context.Context) ([]Node, error) {
	v := p.Viper
	if v == nil {
		v = viper.GetViper()
	}

	var nodes []Node
	for _, item := range v.GetStringSlice(p.key("endpoints")) {
		for _, endpoint := range strings.Split(item, ",") {
			endpoint = strings.TrimSpace(endpoint)
			if endpoint == "" {
				continue
			}
			node := Node{
				Addr:     endpoint,
				User:     v.GetString(p.key("user")),
				Password: v.GetString(p.key("password")),
			}
			if name, addr, found := strings.Cut(endpoint, "="); found {
				if name == "" || addr == "" {
					return nil, fmt.Errorf("malformed endpoint %q", endpoint)
				}
				node.Name, node.Addr = name, addr
			}
			nodes = append(nodes, node)
		}
	}
	return nodes, nil
}
