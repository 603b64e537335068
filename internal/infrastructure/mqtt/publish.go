package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Publish sends a message to the specified topic.
//
// The payload is marshaled to JSON if it's not already a []byte or string.
//
// Parameters:
//   - topic: Full topic path (e.g., "device/1/1/HEARTBEAT")
//   - payload: Message payload (struct, map, []byte, or string)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: If true, broker stores message for new subscribers
//
// Returns:
//   - error: ErrNotConnected, ErrInvalidQoS, ErrPublishFailed, or nil
func (c *Client) Publish(topic string, payload interface{}, qos byte, retained bool) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if qos > maxQoS {
		return fmt.Errorf("%w: %d (must be 0-2)", ErrInvalidQoS, qos)
	}

	if err := validateTopic(topic); err != nil {
		return err
	}

	// Convert payload to bytes
	data, err := marshalPayload(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal error: %w", ErrPublishFailed, err)
	}

	// Publish with timeout
	token := c.client.Publish(topic, qos, retained, data)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: publish to %s", ErrTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// PublishJSON is a convenience method that marshals a struct to JSON and publishes it.
//
// Parameters:
//   - topic: Full topic path
//   - v: Struct or map to marshal as JSON
//   - qos: Quality of Service level
//   - retained: Retention flag
//
// Returns:
//   - error: Marshal errors or publish errors
func (c *Client) PublishJSON(topic string, v interface{}, qos byte, retained bool) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: JSON marshal: %w", ErrPublishFailed, err)
	}
	return c.Publish(topic, data, qos, retained)
}

// marshalPayload converts various payload types to bytes.
//
// Supported types:
//   - []byte: Used as-is
//   - string: Converted to bytes
//   - everything else: Marshaled to JSON
func marshalPayload(payload interface{}) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	default:
		return json.Marshal(payload)
	}
}

// validateTopic checks if a topic is valid for publishing.
//
// Publishing rules:
//   - Must not be empty
//   - Must not contain wildcards (+ or #)
//   - Must not start with $ (reserved for broker)
func validateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	}

	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcards not allowed in publish topic: %s", ErrInvalidTopic, topic)
	}

	if strings.HasPrefix(topic, "$") {
		return fmt.Errorf("%w: topics starting with $ are reserved: %s", ErrInvalidTopic, topic)
	}

	return nil
}
