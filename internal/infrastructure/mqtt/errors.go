package mqtt

import "errors"

// Sentinel errors for MQTT operations.
//
// These errors can be checked with errors.Is() for programmatic error handling:
//
//	if errors.Is(err, mqtt.ErrNotConnected) {
//	    // handle disconnection
//	}
var (
	// ErrNotConnected indicates the client is not connected to the broker.
	ErrNotConnected = errors.New("mqtt: not connected to broker")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed indicates a message publish operation failed.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed indicates a subscription operation failed.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed indicates an unsubscribe operation failed.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS indicates an invalid QoS level was specified (must be 0-2).
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level")

	// ErrInvalidTopic indicates an invalid topic format.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("mqtt: operation timed out")
)
