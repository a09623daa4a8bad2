// Package topics provides topic name and filter validation, wildcard
// matching and shared-subscription filter parsing.
package topics

import (
	"errors"
	"strings"

	"github.com/driftmq/driftmq/packets"
)

// Common validation errors.
var (
	ErrInvalidTopicName   = errors.New("invalid topic name")
	ErrInvalidTopicFilter = errors.New("invalid topic filter")
)

// ValidateName checks if the topic is valid for PUBLISH: non-empty, valid
// MQTT UTF-8 and free of wildcards.
func ValidateName(topic string) error {
	if topic == "" {
		return ErrInvalidTopicName
	}
	if strings.ContainsAny(topic, "+#") {
		return ErrInvalidTopicName
	}
	if !packets.ValidString(topic) {
		return ErrInvalidTopicName
	}
	return nil
}

// ValidateFilter checks if the filter is valid for SUBSCRIBE: non-empty,
// valid MQTT UTF-8, with '+' alone in its level and '#' alone in the final
// level. Shared subscription filters are validated on both the group name
// and the nested filter.
func ValidateFilter(filter string) error {
	if group, tail, shared := ParseShared(filter); shared {
		if group == "" || strings.ContainsAny(group, "+#") {
			return ErrInvalidTopicFilter
		}
		return ValidateFilter(tail)
	}
	if strings.HasPrefix(filter, "$share/") {
		// $share/ without a group/filter split
		return ErrInvalidTopicFilter
	}

	if filter == "" {
		return ErrInvalidTopicFilter
	}
	if !packets.ValidString(filter) {
		return ErrInvalidTopicFilter
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return ErrInvalidTopicFilter
			}
		case strings.Contains(level, "#"):
			return ErrInvalidTopicFilter
		case level == "+":
			// Single-level wildcard, valid at any level.
		case strings.Contains(level, "+"):
			return ErrInvalidTopicFilter
		}
	}
	return nil
}
