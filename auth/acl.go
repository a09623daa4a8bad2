package auth

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/driftmq/driftmq/topics"
)

func init() {
	Register("acl", newACL)
}

// ACL authorizes publish and subscribe operations against an ordered allow
// list. When the plugin is configured, an operation with no matching rule is
// denied.
type ACL struct {
	rules []aclRule
}

type aclRule struct {
	User   string // empty matches any user
	Addr   string // empty matches any address
	Action string // pub, sub or all
	Topic  string // topic filter pattern, empty matches any topic
}

type aclConfig struct {
	Type  string `yaml:"type"`
	Rules []struct {
		User   string `yaml:"user"`
		Addr   string `yaml:"addr"`
		Action string `yaml:"action"`
		Topic  string `yaml:"topic"`
	} `yaml:"rules"`
}

func newACL(node *yaml.Node) (Plugin, error) {
	var cfg aclConfig
	if err := node.Decode(&cfg); err != nil {
		return nil, err
	}
	if len(cfg.Rules) == 0 {
		return nil, fmt.Errorf("acl plugin requires rules")
	}

	acl := &ACL{}
	for i, r := range cfg.Rules {
		action := r.Action
		if action == "" {
			action = "all"
		}
		switch action {
		case "pub", "sub", "all":
		default:
			return nil, fmt.Errorf("acl rule %d: invalid action %q", i, r.Action)
		}
		acl.rules = append(acl.rules, aclRule{
			User:   r.User,
			Addr:   r.Addr,
			Action: action,
			Topic:  r.Topic,
		})
	}
	return acl, nil
}

func (a *ACL) Name() string { return "acl" }

// Allow reports whether any rule permits the operation.
func (a *ACL) Allow(conn ConnInfo, action Action, topic string) bool {
	for _, rule := range a.rules {
		if rule.matches(conn, action, topic) {
			return true
		}
	}
	return false
}

func (r aclRule) matches(conn ConnInfo, action Action, topic string) bool {
	if r.User != "" && r.User != conn.Username {
		return false
	}
	if r.Addr != "" && r.Addr != conn.RemoteAddr {
		return false
	}
	switch r.Action {
	case "pub":
		if action != ActionPublish {
			return false
		}
	case "sub":
		if action != ActionSubscribe {
			return false
		}
	}
	if r.Topic != "" && r.Topic != topic && !topics.Match(r.Topic, topic) {
		return false
	}
	return true
}
