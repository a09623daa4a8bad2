package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func buildPlugins(t *testing.T, config string) []Plugin {
	t.Helper()

	var cfgs []PluginConfig
	require.NoError(t, yaml.Unmarshal([]byte(config), &cfgs))

	plugins, err := Build(cfgs)
	require.NoError(t, err)
	return plugins
}

func TestUnknownPluginType(t *testing.T) {
	var cfgs []PluginConfig
	require.NoError(t, yaml.Unmarshal([]byte("- type: nope"), &cfgs))

	_, err := Build(cfgs)
	assert.ErrorContains(t, err, `unknown plugin type "nope"`)
}

func TestPluginEntryRequiresType(t *testing.T) {
	var cfgs []PluginConfig
	err := yaml.Unmarshal([]byte("- users: {a: b}"), &cfgs)
	assert.Error(t, err)
}

func TestBasicAuthentication(t *testing.T) {
	plugins := buildPlugins(t, `
- type: basic
  users:
    sunli: secret
    other: pw2
`)
	engine := NewEngine(plugins)

	conn := ConnInfo{ClientID: "c1"}
	assert.Equal(t, Accept, engine.Authenticate(conn, Credentials{Username: "sunli", Password: []byte("secret")}))
	assert.Equal(t, RejectBadCredentials, engine.Authenticate(conn, Credentials{Username: "sunli", Password: []byte("wrong")}))
	assert.Equal(t, RejectBadCredentials, engine.Authenticate(conn, Credentials{Username: "ghost", Password: []byte("secret")}))
}

func TestBasicRequiresUsers(t *testing.T) {
	var cfgs []PluginConfig
	require.NoError(t, yaml.Unmarshal([]byte("- type: basic"), &cfgs))

	_, err := Build(cfgs)
	assert.Error(t, err)
}

func TestACLRules(t *testing.T) {
	plugins := buildPlugins(t, `
- type: acl
  rules:
    - user: sunli
      action: pub
    - addr: 1.1.1.1
      action: all
    - topic: a/b/c
      action: sub
`)
	engine := NewEngine(plugins)

	sunli := ConnInfo{ClientID: "c1", Username: "sunli", RemoteAddr: "127.0.0.1"}
	anon := ConnInfo{ClientID: "c2", RemoteAddr: "127.0.0.1"}
	trusted := ConnInfo{ClientID: "c3", RemoteAddr: "1.1.1.1"}

	// sunli may publish anywhere but not subscribe.
	assert.True(t, engine.CanPublish(sunli, "test"))
	assert.False(t, engine.CanSubscribe(sunli, "test"))

	// Anonymous clients may subscribe only to the public topic.
	assert.True(t, engine.CanSubscribe(anon, "a/b/c"))
	assert.False(t, engine.CanSubscribe(anon, "test"))
	assert.False(t, engine.CanPublish(anon, "a/b/c"))

	// Connections from the trusted address may do anything.
	assert.True(t, engine.CanPublish(trusted, "anything"))
	assert.True(t, engine.CanSubscribe(trusted, "anything"))
}

func TestACLTopicPatterns(t *testing.T) {
	plugins := buildPlugins(t, `
- type: acl
  rules:
    - user: dev
      action: pub
      topic: sensors/#
`)
	engine := NewEngine(plugins)

	dev := ConnInfo{Username: "dev"}
	assert.True(t, engine.CanPublish(dev, "sensors/temp"))
	assert.True(t, engine.CanPublish(dev, "sensors/floor/1"))
	assert.False(t, engine.CanPublish(dev, "actuators/valve"))
}

func TestACLRequiresRules(t *testing.T) {
	var cfgs []PluginConfig
	require.NoError(t, yaml.Unmarshal([]byte("- type: acl"), &cfgs))

	_, err := Build(cfgs)
	assert.Error(t, err)
}

func TestACLInvalidAction(t *testing.T) {
	var cfgs []PluginConfig
	require.NoError(t, yaml.Unmarshal([]byte(`
- type: acl
  rules:
    - user: x
      action: fly
`), &cfgs))

	_, err := Build(cfgs)
	assert.ErrorContains(t, err, "invalid action")
}

func TestNilEngineAllowsEverything(t *testing.T) {
	var engine *Engine
	assert.Equal(t, Accept, engine.Authenticate(ConnInfo{}, Credentials{}))
	assert.True(t, engine.CanPublish(ConnInfo{}, "t"))
	assert.True(t, engine.CanSubscribe(ConnInfo{}, "t"))
}

func TestEmptyEngineAllowsEverything(t *testing.T) {
	engine := NewEngine(nil)
	assert.Equal(t, Accept, engine.Authenticate(ConnInfo{}, Credentials{}))
	assert.True(t, engine.CanPublish(ConnInfo{}, "t"))
}
