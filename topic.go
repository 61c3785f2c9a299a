package mqttv3

import (
	"fmt"
	"strings"
)

var (
	ErrInvalidTopicName   = fmt.Errorf("%w: invalid topic name", ErrMalformedPacket)
	ErrInvalidTopicFilter = fmt.Errorf("%w: invalid topic filter", ErrMalformedPacket)
	ErrEmptyTopic         = fmt.Errorf("%w: topic cannot be empty", ErrMalformedPacket)
)

const (
	levelSeparator      = "/"
	singleLevelWildcard = "+"
	multiLevelWildcard  = "#"
	wildcards           = singleLevelWildcard + multiLevelWildcard
)

func validateTopicText(s string, invalid error) error {
	switch {
	case s == "":
		return ErrEmptyTopic
	case validateString(s) != nil:
		return invalid
	}
	return nil
}

// ValidateTopicName checks a PUBLISH topic. Names never contain wildcards.
func ValidateTopicName(topic string) error {
	if err := validateTopicText(topic, ErrInvalidTopicName); err != nil {
		return err
	}
	if strings.ContainsAny(topic, wildcards) {
		return ErrInvalidTopicName
	}
	return nil
}

// ValidateTopicFilter checks a SUBSCRIBE or UNSUBSCRIBE filter. '+' must
// fill a whole level and '#' must be the whole last level. Empty levels
// are legal, so "//" and "+//+" pass.
func ValidateTopicFilter(filter string) error {
	if err := validateTopicText(filter, ErrInvalidTopicFilter); err != nil {
		return err
	}

	for rest, more := filter, true; more; {
		var level string
		level, rest, more = strings.Cut(rest, levelSeparator)

		if len(level) > 1 && strings.ContainsAny(level, wildcards) {
			return ErrInvalidTopicFilter
		}
		if level == multiLevelWildcard && more {
			return ErrInvalidTopicFilter
		}
	}
	return nil
}

// TopicMatch reports whether topic matches filter. A filter starting with a
// wildcard never matches a topic starting with '$', and "a/#" also matches
// the parent "a". Matching does not allocate.
func TopicMatch(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	if topic[0] == '$' && strings.ContainsRune(wildcards, rune(filter[0])) {
		return false
	}

	for {
		f, filterRest, filterMore := strings.Cut(filter, levelSeparator)
		if f == multiLevelWildcard {
			return true
		}

		t, topicRest, topicMore := strings.Cut(topic, levelSeparator)
		if f != singleLevelWildcard && f != t {
			return false
		}

		switch {
		case filterMore && topicMore:
			filter, topic = filterRest, topicRest
		case filterMore:
			return filterRest == multiLevelWildcard
		default:
			return !topicMore
		}
	}
}
