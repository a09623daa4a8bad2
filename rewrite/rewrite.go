// Package rewrite applies configured pattern-based topic rewrites to PUBLISH
// topics on ingress.
package rewrite

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule is a compiled rewrite rule.
type Rule struct {
	pattern  *regexp.Regexp
	template string
}

// Rewriter holds an ordered list of rewrite rules. The first rule whose
// pattern matches the full topic rewrites it; at most one rule applies per
// message.
type Rewriter struct {
	rules []Rule
}

// New compiles the ordered (pattern, template) pairs into a Rewriter.
// Templates may reference capture groups as $1..$9.
func New(rules [][2]string) (*Rewriter, error) {
	r := &Rewriter{}
	for _, rule := range rules {
		pattern, err := regexp.Compile(rule[0])
		if err != nil {
			return nil, fmt.Errorf("compile rewrite pattern %q: %w", rule[0], err)
		}
		r.rules = append(r.rules, Rule{pattern: pattern, template: toExpandTemplate(rule[1])})
	}
	return r, nil
}

// toExpandTemplate converts $1..$9 backreferences into the ${1} form so that
// literals following a reference are not absorbed into its name.
func toExpandTemplate(template string) string {
	var b strings.Builder
	for i := 0; i < len(template); i++ {
		if template[i] == '$' && i+1 < len(template) && template[i+1] >= '1' && template[i+1] <= '9' {
			b.WriteString("${")
			b.WriteByte(template[i+1])
			b.WriteByte('}')
			i++
			continue
		}
		b.WriteByte(template[i])
	}
	return b.String()
}

// Rewrite returns the rewritten topic and whether any rule matched. The
// pattern must match the full topic.
func (r *Rewriter) Rewrite(topic string) (string, bool) {
	if r == nil {
		return topic, false
	}
	for _, rule := range r.rules {
		idx := rule.pattern.FindStringSubmatchIndex(topic)
		if idx == nil || idx[0] != 0 || idx[1] != len(topic) {
			continue
		}
		return string(rule.pattern.ExpandString(nil, rule.template, topic, idx)), true
	}
	return topic, false
}

// Len returns the number of configured rules.
func (r *Rewriter) Len() int {
	if r == nil {
		return 0
	}
	return len(r.rules)
}
