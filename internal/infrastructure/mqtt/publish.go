package mqtt

import (
	"encoding/json"
	"fmt"
)

// maxPayloadSize caps telemetry payloads well below broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends a message to the given topic at the configured QoS.
//
// Parameters:
//   - topic: Target topic (see Topics for the armlink tree)
//   - payload: Message payload, at most 1MB
//   - retained: Whether the broker keeps the message for new subscribers;
//     use for state topics, not samples
//
// Returns:
//   - error: ErrInvalidTopic, ErrNotConnected, or wrapped ErrPublishFailed
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes",
			ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, byte(c.cfg.QoS), retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishJSON marshals v and publishes it, non-retained.
func (c *Client) PublishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %w", ErrPublishFailed, err)
	}
	return c.Publish(topic, payload, false)
}
