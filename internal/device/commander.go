package device

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Publisher is the subset of the MQTT client used to dispatch commands.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// CommandTopicFunc builds the MQTT topic a command for the given
// protocol and device should be published to.
type CommandTopicFunc func(protocol, deviceID string) string

// CommandPayload is the wire format for commands sent to bridges.
type CommandPayload struct {
	Command   string         `json:"command"`
	Params    map[string]any `json:"params,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// Commander dispatches commands to devices over MQTT.
//
// Commands are published to the bridge responsible for the device's
// protocol. Delivery to the bridge is confirmed by QoS; execution is
// confirmed only when the bridge echoes new state back.
type Commander struct {
	registry *Registry
	pub      Publisher
	topicFor CommandTopicFunc
	qos      byte
	logger   Logger
}

// NewCommander creates a command dispatcher.
// topicFor maps (protocol, deviceID) to the MQTT command topic.
func NewCommander(registry *Registry, pub Publisher, topicFor CommandTopicFunc, qos byte) *Commander {
	return &Commander{
		registry: registry,
		pub:      pub,
		topicFor: topicFor,
		qos:      qos,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the commander.
func (c *Commander) SetLogger(logger Logger) {
	c.logger = logger
}

// SendCommand publishes a command to the device's bridge.
//
// Returns ErrDeviceNotFound for unknown devices. Virtual devices have
// no bridge; their command is applied directly to registry state.
func (c *Commander) SendCommand(ctx context.Context, deviceID, command string, params map[string]any) error {
	device, err := c.registry.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}

	if device.Protocol == ProtocolVirtual {
		return c.applyVirtual(ctx, device, command, params)
	}

	payload := CommandPayload{
		Command:   command,
		Params:    params,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling command: %w", err)
	}

	topic := c.topicFor(string(device.Protocol), device.ID)
	if err := c.pub.Publish(topic, data, c.qos, false); err != nil {
		return fmt.Errorf("publishing command: %w", err)
	}

	c.logger.Debug("command dispatched",
		"device_id", deviceID,
		"command", command,
		"topic", topic,
	)
	return nil
}

// applyVirtual applies a command directly to a virtual device's state.
// The command name becomes a state key unless params carry explicit fields.
func (c *Commander) applyVirtual(ctx context.Context, device *Device, command string, params map[string]any) error {
	state := make(State, len(params)+1)
	for k, v := range params {
		state[k] = v
	}
	if len(params) == 0 {
		state[command] = true
	}

	if err := c.registry.SetDeviceState(ctx, device.ID, state); err != nil {
		return err
	}

	c.logger.Debug("virtual command applied", "device_id", device.ID, "command", command)
	return nil
}
