// Package auth is the plugin bus for authentication and authorization.
// Plugins are declared in configuration by type tag and consulted
// synchronously at connect, publish and subscribe time.
package auth

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ConnInfo describes the connection a decision applies to.
type ConnInfo struct {
	ClientID   string
	Username   string
	RemoteAddr string // host without port
}

// Credentials carries the CONNECT username and password.
type Credentials struct {
	Username string
	Password []byte
}

// Decision is the result of a connect hook.
type Decision int

const (
	Accept Decision = iota
	RejectBadCredentials
	RejectNotAuthorized
	RejectBanned
)

// Action distinguishes publish from subscribe authorization checks.
type Action int

const (
	ActionPublish Action = iota
	ActionSubscribe
)

// Authenticator validates client credentials at connect time.
type Authenticator interface {
	OnConnect(conn ConnInfo, creds Credentials) (Decision, error)
}

// Authorizer checks topic permissions. Hooks may perform I/O; the session
// awaits the result before advancing.
type Authorizer interface {
	Allow(conn ConnInfo, action Action, topic string) bool
}

// Plugin is implemented by all auth plugins; a plugin may provide either or
// both hook sets.
type Plugin interface {
	Name() string
}

// Engine runs the configured plugin chain. A connection is accepted only if
// every authenticator accepts, and an operation is allowed only if every
// authorizer allows it. Plugin errors count as deny.
type Engine struct {
	authenticators []Authenticator
	authorizers    []Authorizer
}

// NewEngine builds an engine from instantiated plugins.
func NewEngine(plugins []Plugin) *Engine {
	e := &Engine{}
	for _, p := range plugins {
		if a, ok := p.(Authenticator); ok {
			e.authenticators = append(e.authenticators, a)
		}
		if a, ok := p.(Authorizer); ok {
			e.authorizers = append(e.authorizers, a)
		}
	}
	return e
}

// Authenticate runs the connect hooks.
func (e *Engine) Authenticate(conn ConnInfo, creds Credentials) Decision {
	if e == nil {
		return Accept
	}
	for _, a := range e.authenticators {
		decision, err := a.OnConnect(conn, creds)
		if err != nil {
			return RejectNotAuthorized
		}
		if decision != Accept {
			return decision
		}
	}
	return Accept
}

// CanPublish reports whether the connection may publish to the topic.
func (e *Engine) CanPublish(conn ConnInfo, topic string) bool {
	return e.allow(conn, ActionPublish, topic)
}

// CanSubscribe reports whether the connection may subscribe to the filter.
func (e *Engine) CanSubscribe(conn ConnInfo, filter string) bool {
	return e.allow(conn, ActionSubscribe, filter)
}

func (e *Engine) allow(conn ConnInfo, action Action, topic string) bool {
	if e == nil {
		return true
	}
	for _, a := range e.authorizers {
		if !a.Allow(conn, action, topic) {
			return false
		}
	}
	return true
}

// Factory builds a plugin from its raw YAML configuration node.
type Factory func(cfg *yaml.Node) (Plugin, error)

var registry = map[string]Factory{}

// Register makes a plugin type available to configuration.
func Register(typeTag string, factory Factory) {
	registry[typeTag] = factory
}

// Build instantiates plugins from configuration entries. An unknown type tag
// is a startup error.
func Build(configs []PluginConfig) ([]Plugin, error) {
	var plugins []Plugin
	for _, cfg := range configs {
		factory, ok := registry[cfg.Type]
		if !ok {
			return nil, fmt.Errorf("unknown plugin type %q", cfg.Type)
		}
		p, err := factory(&cfg.Config)
		if err != nil {
			return nil, fmt.Errorf("configure plugin %q: %w", cfg.Type, err)
		}
		plugins = append(plugins, p)
	}
	return plugins, nil
}

// PluginConfig is one entry of the plugins list in the broker configuration.
// The full mapping node is retained so each factory can decode its own
// fields.
type PluginConfig struct {
	Type   string
	Config yaml.Node
}

func (c *PluginConfig) UnmarshalYAML(node *yaml.Node) error {
	var head struct {
		Type string `yaml:"type"`
	}
	if err := node.Decode(&head); err != nil {
		return err
	}
	if head.Type == "" {
		return fmt.Errorf("plugin entry missing type tag")
	}
	c.Type = head.Type
	c.Config = *node
	return nil
}
