package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for LinkPulse MQTT traffic.
const (
	// TopicPrefix is the root of every LinkPulse topic.
	TopicPrefix = "linkpulse"

	// TopicPrefixEvents carries domain events fanned out between instances.
	TopicPrefixEvents = "linkpulse/events"

	// TopicPrefixSystem carries instance status.
	TopicPrefixSystem = "linkpulse/system"

	// TopicPrefixMail carries outbound mail for the delivery worker.
	TopicPrefixMail = "linkpulse/mail"
)

// Topics provides builders for LinkPulse MQTT topics.
//
//	topic := mqtt.Topics{}.LinkClicks("3f1c...")
//	// Returns: "linkpulse/events/clicks/3f1c..."
type Topics struct{}

// LinkClicks returns the topic a recorded click on linkID is published to.
//
// Example: linkpulse/events/clicks/8a6e0804-2bd0-4672-b79d-d97027f9071a
func (Topics) LinkClicks(linkID string) string {
	return fmt.Sprintf("%s/clicks/%s", TopicPrefixEvents, linkID)
}

// AllLinkClicks returns a pattern matching clicks on every link.
//
// Pattern: linkpulse/events/clicks/+
func (Topics) AllLinkClicks() string {
	return TopicPrefixEvents + "/clicks/+"
}

// AuthEvent returns the topic for an authentication event.
//
// Example: linkpulse/events/auth/login
func (Topics) AuthEvent(event string) string {
	return fmt.Sprintf("%s/auth/%s", TopicPrefixEvents, event)
}

// MailOutbox returns the topic outbound e-mails are queued on.
//
// Example: linkpulse/mail/outbox
func (Topics) MailOutbox() string {
	return TopicPrefixMail + "/outbox"
}

// SystemStatus returns the instance status topic.
//
// Example: linkpulse/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllTopics returns a pattern matching all LinkPulse topics.
//
// Pattern: linkpulse/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// LinkIDFromClickTopic extracts the link ID from a LinkClicks topic.
func LinkIDFromClickTopic(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, TopicPrefixEvents+"/clicks/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
