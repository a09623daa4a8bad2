package auth

import (
	"crypto/subtle"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

func init() {
	Register("basic", newBasic)
}

// Basic authenticates clients against a username to password map, given
// inline or loaded from a YAML user file.
type Basic struct {
	users map[string]string
}

type basicConfig struct {
	Type     string            `yaml:"type"`
	Users    map[string]string `yaml:"users"`
	UserFile string            `yaml:"user_file"`
}

func newBasic(node *yaml.Node) (Plugin, error) {
	var cfg basicConfig
	if err := node.Decode(&cfg); err != nil {
		return nil, err
	}

	users := cfg.Users
	if cfg.UserFile != "" {
		data, err := os.ReadFile(cfg.UserFile)
		if err != nil {
			return nil, fmt.Errorf("read user file: %w", err)
		}
		fileUsers := make(map[string]string)
		if err := yaml.Unmarshal(data, &fileUsers); err != nil {
			return nil, fmt.Errorf("parse user file: %w", err)
		}
		if users == nil {
			users = fileUsers
		} else {
			for k, v := range fileUsers {
				users[k] = v
			}
		}
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("basic plugin requires users or user_file")
	}

	return &Basic{users: users}, nil
}

func (b *Basic) Name() string { return "basic" }

// OnConnect validates the supplied credentials with a constant-time compare.
func (b *Basic) OnConnect(_ ConnInfo, creds Credentials) (Decision, error) {
	want, ok := b.users[creds.Username]
	if !ok {
		return RejectBadCredentials, nil
	}
	if subtle.ConstantTimeCompare([]byte(want), creds.Password) != 1 {
		return RejectBadCredentials, nil
	}
	return Accept, nil
}
