package topics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("a/b/c"))
	assert.NoError(t, ValidateName("a"))
	assert.NoError(t, ValidateName("a//c"))
	assert.NoError(t, ValidateName("$SYS/broker/uptime"))

	assert.Error(t, ValidateName(""))
	assert.Error(t, ValidateName("a/+/c"))
	assert.Error(t, ValidateName("a/#"))
	assert.Error(t, ValidateName("a/b\x00c"))
}

func TestValidateFilter(t *testing.T) {
	assert.NoError(t, ValidateFilter("a/b/c"))
	assert.NoError(t, ValidateFilter("a/+/c"))
	assert.NoError(t, ValidateFilter("#"))
	assert.NoError(t, ValidateFilter("a/#"))
	assert.NoError(t, ValidateFilter("+"))
	assert.NoError(t, ValidateFilter("a//c"))

	assert.Error(t, ValidateFilter(""))
	assert.Error(t, ValidateFilter("a/#/c"))
	assert.Error(t, ValidateFilter("a/b#"))
	assert.Error(t, ValidateFilter("a/b+/c"))
	assert.Error(t, ValidateFilter("a/+b/c"))
}

func TestValidateSharedFilter(t *testing.T) {
	assert.NoError(t, ValidateFilter("$share/group/a/b"))
	assert.NoError(t, ValidateFilter("$share/group/#"))
	assert.NoError(t, ValidateFilter("$share/group/+/b"))

	assert.Error(t, ValidateFilter("$share/group"))
	assert.Error(t, ValidateFilter("$share//a"))
	assert.Error(t, ValidateFilter("$share/gr+oup/a"))
	assert.Error(t, ValidateFilter("$share/group/"))
}

func TestParseShared(t *testing.T) {
	group, filter, shared := ParseShared("$share/g1/sensors/#")
	assert.True(t, shared)
	assert.Equal(t, "g1", group)
	assert.Equal(t, "sensors/#", filter)

	_, filter, shared = ParseShared("sensors/#")
	assert.False(t, shared)
	assert.Equal(t, "sensors/#", filter)

	_, _, shared = ParseShared("$share/only-group")
	assert.False(t, shared)
}
