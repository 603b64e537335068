package mqtt

import (
	"fmt"
	"strings"
)

// Subscribe registers a handler for messages matching the topic pattern.
//
// Topic patterns support MQTT wildcards:
//   - "+" matches a single level: "command/+/+/details"
//   - "#" matches multiple levels: "device/#"
//
// The subscription is tracked and automatically restored on reconnection.
//
// Parameters:
//   - topic: Topic pattern (may include wildcards)
//   - qos: Quality of Service level (0, 1, or 2)
//   - handler: Callback invoked for each matching message
//
// Returns:
//   - error: ErrNotConnected, ErrInvalidQoS, ErrSubscribeFailed, or nil
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if qos > maxQoS {
		return fmt.Errorf("%w: %d (must be 0-2)", ErrInvalidQoS, qos)
	}

	if err := validateSubscribeTopic(topic); err != nil {
		return err
	}

	// Subscribe with wrapped handler (panic recovery)
	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("%w: subscribe to %s", ErrTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	// Track subscription for reconnect restoration
	c.subMu.Lock()
	c.subscriptions[topic] = subscription{
		topic:   topic,
		qos:     qos,
		handler: handler,
	}
	c.subMu.Unlock()

	return nil
}

// Unsubscribe removes a subscription and stops receiving messages for the topic.
//
// Parameters:
//   - topic: The exact topic pattern used in Subscribe
//
// Returns:
//   - error: ErrNotConnected, ErrUnsubscribeFailed, or nil
func (c *Client) Unsubscribe(topic string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("%w: unsubscribe from %s", ErrTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	// Remove from tracked subscriptions
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	return nil
}

// validateSubscribeTopic checks if a topic pattern is valid for subscription.
//
// Subscription rules:
//   - Must not be empty
//   - "#" must be the last character and preceded by "/" (or alone)
//   - "+" must occupy an entire level
func validateSubscribeTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	}

	// Check # wildcard placement
	if idx := strings.Index(topic, "#"); idx != -1 {
		if idx != len(topic)-1 {
			return fmt.Errorf("%w: # must be last character: %s", ErrInvalidTopic, topic)
		}
		if idx > 0 && topic[idx-1] != '/' {
			return fmt.Errorf("%w: # must follow /: %s", ErrInvalidTopic, topic)
		}
	}

	// Check + wildcard placement (must be a complete level)
	for i, level := range strings.Split(topic, "/") {
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: + must occupy entire level (level %d): %s", ErrInvalidTopic, i, topic)
		}
	}

	return nil
}
