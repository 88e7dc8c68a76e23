package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteDeviceMetric writes a single device measurement to InfluxDB.
//
// This is the primary method for recording device telemetry data.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Unique identifier for the device (e.g., "light-living-01")
//   - measurement: The metric name (e.g., "power_watts", "temperature_c")
//   - value: The numeric value to record
//
// Example:
//
//	client.WriteDeviceMetric("thermostat-01", "temperature_c", 21.5)
//	client.WriteDeviceMetric("light-kitchen", "power_watts", 23.0)
func (c *Client) WriteDeviceMetric(deviceID string, measurement string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_metrics",
		map[string]string{
			"device_id":   deviceID,
			"measurement": measurement,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteRuleExecution records the outcome of one automation rule execution.
//
// Used for per-rule success/failure dashboards and latency tracking.
//
// Parameters:
//   - ruleID: Automation rule identifier
//   - triggerType: The trigger kind that fired (time, sun, interval, device_state, event, manual)
//   - success: Whether every action in the rule succeeded
//   - duration: Wall-clock time of the conditions+actions pass
func (c *Client) WriteRuleExecution(ruleID string, triggerType string, success bool, duration time.Duration) {
	if !c.IsConnected() {
		return
	}

	successVal := 0
	if success {
		successVal = 1
	}

	point := write.NewPoint(
		"automation_executions",
		map[string]string{
			"rule_id":      ruleID,
			"trigger_type": triggerType,
		},
		map[string]interface{}{
			"success":     successVal,
			"duration_ms": float64(duration.Milliseconds()),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteEngineTick records one worker loop iteration of the automation engine.
//
// Used for monitoring polling cadence drift and trigger-check load.
//
// Parameters:
//   - rulesChecked: Number of rules whose triggers were evaluated this tick
//   - rulesFired: Number of rules that matched and were dispatched
//   - duration: Time spent checking triggers this tick
func (c *Client) WriteEngineTick(rulesChecked int, rulesFired int, duration time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"engine_ticks",
		map[string]string{},
		map[string]interface{}{
			"rules_checked": rulesChecked,
			"rules_fired":   rulesFired,
			"duration_ms":   float64(duration.Milliseconds()),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "core-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
