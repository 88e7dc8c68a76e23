package api

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/emberhome/ember-core/internal/automation"
	"github.com/emberhome/ember-core/internal/device"
	"github.com/emberhome/ember-core/internal/events"
	"github.com/emberhome/ember-core/internal/infrastructure/mqtt"
)

// subscribeBridgeTopics wires the MQTT bus into the rest of the system:
// bridge state updates feed the device registry, the automation engine's
// event queue, the event log, and the WebSocket relay; bridge health
// updates feed the event log and the engine.
func (s *Server) subscribeBridgeTopics() error {
	if s.mqtt == nil {
		return nil // MQTT not configured; ingestion disabled
	}

	topics := mqtt.Topics{}

	stateTopic := topics.AllBridgeStates()
	s.logger.Info("subscribing to bridge state updates", "topic", stateTopic)
	if err := s.mqtt.Subscribe(stateTopic, 1, s.handleBridgeState); err != nil {
		return err
	}

	healthTopic := topics.AllBridgeHealth()
	s.logger.Info("subscribing to bridge health updates", "topic", healthTopic)
	return s.mqtt.Subscribe(healthTopic, 1, s.handleBridgeHealth)
}

// handleBridgeState processes one device state update from a bridge.
//
// Topic: ember/state/{protocol}/{address}. The payload carries the
// canonical device ID and the changed state fields:
//
//	{"device_id": "light-living-main", "state": {"on": true}}
func (s *Server) handleBridgeState(topic string, payload []byte) error {
	var stateMsg map[string]any
	if err := json.Unmarshal(payload, &stateMsg); err != nil {
		s.logger.Warn("failed to parse bridge state message", "topic", topic, "error", err)
		return nil
	}

	deviceID, _ := stateMsg["device_id"].(string)     //nolint:errcheck // checked via empty string test below
	stateMap, _ := stateMsg["state"].(map[string]any) //nolint:errcheck // checked via nil test below
	if deviceID == "" || stateMap == nil {
		s.logger.Warn("bridge state message missing device_id or state", "topic", topic)
		return nil
	}

	ctx := context.Background()

	devState := make(device.State, len(stateMap))
	for k, v := range stateMap {
		devState[k] = v
	}
	if err := s.registry.SetDeviceState(ctx, deviceID, devState); err != nil {
		s.logger.Debug("state update to registry failed", "device_id", deviceID, "error", err)
	}

	s.fanOutStateChange(ctx, deviceID, "mqtt", stateMap)

	return nil
}

// fanOutStateChange relays one device state change to everything that
// consumes it: WebSocket clients, the automation engine's event queue,
// and the event log. The registry must already hold the new state.
func (s *Server) fanOutStateChange(ctx context.Context, deviceID, source string, stateMap map[string]any) {
	if s.hub != nil {
		s.hub.Broadcast(ChannelDeviceState, map[string]any{
			"device_id": deviceID,
			"state":     stateMap,
		})
	}

	if s.engine != nil {
		event := automation.Event{
			Type:     events.TypeDeviceStateChanged,
			Source:   source,
			DeviceID: deviceID,
			Data:     stateMap,
		}
		if err := s.engine.ProcessEvent(event); err != nil {
			s.logger.Warn("engine rejected state event", "device_id", deviceID, "error", err)
		}
	}

	if s.events != nil {
		entry := &events.Event{
			Type:     events.TypeDeviceStateChanged,
			Source:   source,
			DeviceID: deviceID,
			Data:     stateMap,
		}
		if err := s.events.Create(ctx, entry); err != nil {
			s.logger.Debug("event log write failed", "device_id", deviceID, "error", err)
		}
	}
}

// handleBridgeHealth processes a bridge health update.
//
// Topic: ember/health/{protocol}. Payload: {"status": "online"}.
func (s *Server) handleBridgeHealth(topic string, payload []byte) error {
	protocol := topic[strings.LastIndex(topic, "/")+1:]

	var healthMsg map[string]any
	if err := json.Unmarshal(payload, &healthMsg); err != nil {
		s.logger.Warn("failed to parse bridge health message", "topic", topic, "error", err)
		return nil
	}
	healthMsg["protocol"] = protocol

	s.logger.Info("bridge health update", "protocol", protocol, "status", healthMsg["status"])

	if s.hub != nil {
		s.hub.Broadcast(ChannelBridge, healthMsg)
	}

	if s.engine != nil {
		event := automation.Event{
			Type:   events.TypeBridgeHealth,
			Source: protocol,
			Data:   healthMsg,
		}
		if err := s.engine.ProcessEvent(event); err != nil {
			s.logger.Warn("engine rejected health event", "protocol", protocol, "error", err)
		}
	}

	if s.events != nil {
		entry := &events.Event{
			Type:   events.TypeBridgeHealth,
			Source: protocol,
			Data:   healthMsg,
		}
		if err := s.events.Create(context.Background(), entry); err != nil {
			s.logger.Debug("event log write failed", "protocol", protocol, "error", err)
		}
	}

	return nil
}
