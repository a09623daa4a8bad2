package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNew(t *testing.T, rules [][2]string) *Rewriter {
	t.Helper()
	r, err := New(rules)
	require.NoError(t, err)
	return r
}

func TestFirstMatchWins(t *testing.T) {
	r := mustNew(t, [][2]string{
		{"a/(.*)", "k/$1"},
		{"c/1/(.*)", "k/1/$1"},
		{"c/(.*)", "k/2/$1"},
	})

	cases := map[string]string{
		"a/1":    "k/1",
		"a/2":    "k/2",
		"c/1/33": "k/1/33",
		"c/44":   "k/2/44",
	}
	for in, want := range cases {
		got, ok := r.Rewrite(in)
		assert.True(t, ok, "topic %q", in)
		assert.Equal(t, want, got)
	}
}

func TestNoMatchLeavesTopic(t *testing.T) {
	r := mustNew(t, [][2]string{{"a/(.*)", "k/$1"}})

	got, ok := r.Rewrite("b/1")
	assert.False(t, ok)
	assert.Equal(t, "b/1", got)
}

func TestFullMatchRequired(t *testing.T) {
	r := mustNew(t, [][2]string{{"a/1", "k/1"}})

	_, ok := r.Rewrite("a/12")
	assert.False(t, ok)
	_, ok = r.Rewrite("x/a/1")
	assert.False(t, ok)
}

func TestBackreferences(t *testing.T) {
	r := mustNew(t, [][2]string{{"(.+)/in/(.+)", "$2/out/$1"}})

	got, ok := r.Rewrite("left/in/right")
	assert.True(t, ok)
	assert.Equal(t, "right/out/left", got)
}

func TestBackreferenceFollowedByLiteral(t *testing.T) {
	// "$1x" must reference group 1 then append the literal, not reference a
	// group named "1x".
	r := mustNew(t, [][2]string{{"a/(.*)", "k/$1x"}})

	got, ok := r.Rewrite("a/1")
	assert.True(t, ok)
	assert.Equal(t, "k/1x", got)
}

func TestRewriteIdempotentWhenNoRuleMatchesResult(t *testing.T) {
	r := mustNew(t, [][2]string{{"a/(.*)", "k/$1"}})

	once, ok := r.Rewrite("a/1")
	require.True(t, ok)

	// The rewritten form matches no rule, so a second pass is the identity.
	twice, ok := r.Rewrite(once)
	assert.False(t, ok)
	assert.Equal(t, once, twice)
}

func TestInvalidPattern(t *testing.T) {
	_, err := New([][2]string{{"a/(", "k"}})
	assert.Error(t, err)
}

func TestNilRewriter(t *testing.T) {
	var r *Rewriter
	got, ok := r.Rewrite("a/b")
	assert.False(t, ok)
	assert.Equal(t, "a/b", got)
	assert.Equal(t, 0, r.Len())
}
