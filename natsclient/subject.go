package natsclient

import "strings"

// SubjectFromTopic converts an MQTT style topic filter into a NATS subject.
// The "#" token becomes ">" and "+" becomes "*". Other tokens, including
// any "/" inside them, are kept as they are.
func SubjectFromTopic(topic string) string {
	if topic == "" {
		return ">"
	}
	tokens := strings.Split(topic, ".")
	for i, tok := range tokens {
		switch tok {
		case "#":
			tokens[i] = ">"
		case "+":
			tokens[i] = "*"
		}
	}
	return strings.Join(tokens, ".")
}
