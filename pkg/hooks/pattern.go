package hooks

import "strings"

// MatchTopic reports whether a NATS-style pattern matches a
// dot-delimited topic. "*" matches exactly one segment; ">" matches
// zero or more trailing segments and is only meaningful as the final
// pattern segment.
func MatchTopic(pattern, topic string) bool {
	patternParts := strings.Split(pattern, ".")
	topicParts := strings.Split(topic, ".")

	ti := 0
	for _, p := range patternParts {
		if p == ">" {
			return true
		}
		if ti >= len(topicParts) {
			return false
		}
		if p != "*" && p != topicParts[ti] {
			return false
		}
		ti++
	}
	return ti >= len(topicParts)
}
