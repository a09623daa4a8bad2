package topics

import "strings"

// Match reports whether the topic name matches the filter according to MQTT
// wildcard rules:
//   - '+' matches exactly one level, '#' matches any number of trailing
//     levels (including the parent level itself).
//   - Topics starting with '$' are matched only by filters whose first level
//     is the same literal '$'-prefixed segment, never by '+' or '#' at the
//     first level.
func Match(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	if _, tail, shared := ParseShared(filter); shared {
		filter = tail
	}
	if filter == topic {
		return true
	}

	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")

	if strings.HasPrefix(topic, "$") && (filterLevels[0] == "+" || filterLevels[0] == "#") {
		return false
	}

	return matchLevels(filterLevels, topicLevels)
}

func matchLevels(filter, topic []string) bool {
	for i, level := range filter {
		switch level {
		case "#":
			// "sport/#" also matches "sport" alone.
			return i == len(filter)-1
		case "+":
			if i >= len(topic) {
				return false
			}
		default:
			if i >= len(topic) || topic[i] != level {
				return false
			}
		}
	}
	return len(filter) == len(topic)
}
