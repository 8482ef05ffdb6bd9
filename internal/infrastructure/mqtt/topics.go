package mqtt

import "strings"

// Topic levels and wildcards per MQTT 3.1.1.
const (
	levelSeparator      = "/"
	singleLevelWildcard = "+"
	multiLevelWildcard  = "#"
)

// ValidTopicName reports whether topic can be published to: non-empty and
// free of wildcards and NUL characters.
func ValidTopicName(topic string) bool {
	return topic != "" && !strings.ContainsAny(topic, singleLevelWildcard+multiLevelWildcard+"\x00")
}

// ValidFilter reports whether filter is a well-formed subscription filter.
//
// "+" must occupy a whole level and "#" must be the whole last level:
//
//	grayrelay/#        valid
//	grayrelay/+/state  valid
//	grayrelay/ro#      invalid
//	grayrelay/#/x      invalid
func ValidFilter(filter string) bool {
	if filter == "" || strings.Contains(filter, "\x00") {
		return false
	}

	levels := strings.Split(filter, levelSeparator)
	for i, level := range levels {
		switch {
		case level == multiLevelWildcard:
			if i != len(levels)-1 {
				return false
			}
		case level == singleLevelWildcard:
		case strings.ContainsAny(level, singleLevelWildcard+multiLevelWildcard):
			return false
		}
	}
	return true
}
