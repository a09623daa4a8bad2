package topics

import "strings"

const sharePrefix = "$share/"

// ParseShared parses a shared subscription filter of the form
// $share/{group}/{filter}. It returns the group name, the nested filter and
// whether the input was a shared subscription.
func ParseShared(filter string) (group, topicFilter string, shared bool) {
	if !strings.HasPrefix(filter, sharePrefix) {
		return "", filter, false
	}

	rest := filter[len(sharePrefix):]
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return "", filter, false
	}

	return parts[0], parts[1], true
}

// IsShared reports whether the filter denotes a shared subscription.
func IsShared(filter string) bool {
	return strings.HasPrefix(filter, sharePrefix)
}
