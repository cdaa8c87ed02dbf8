package events

import (
	"strings"

	"github.com/google/uuid"
)

func NewID() string { return uuid.NewString() }

// Subject prefixes topic with the deployment prefix, if any.
func Subject(prefix, topic string) string {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		return topic
	}
	return prefix + "." + topic
}

// StreamName is the JetStream stream holding every subject under prefix.
func StreamName(prefix string) string {
	if prefix == "" {
		return "incubator_events"
	}
	return strings.ReplaceAll(prefix, ".", "_") + "_events"
}
