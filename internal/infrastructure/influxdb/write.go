package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteAuthEvent records a single authentication event occurrence.
//
// This is the primary method for recording login activity rates.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - kind: The event kind (e.g., "login", "login_failed", "lockout")
//   - role: The role of the account involved, or "" when unknown
//
// Example:
//
//	client.WriteAuthEvent("login", "org_admin")
//	client.WriteAuthEvent("login_failed", "")
func (c *Client) WriteAuthEvent(kind string, role string) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"kind": kind,
	}
	if role != "" {
		tags["role"] = role
	}

	point := write.NewPoint(
		"auth_events",
		tags,
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteThrottleMetric records a throttle decision with its failure streak.
//
// Used for dashboarding brute-force pressure per scope.
//
// Parameters:
//   - scope: "account" or "address"
//   - streak: The failure count that tripped (or approached) the limit
func (c *Client) WriteThrottleMetric(scope string, streak int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"throttle",
		map[string]string{
			"scope": scope,
		},
		map[string]interface{}{
			"streak": streak,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSessionGauge records the current number of active sessions.
//
// Typically written on a fixed interval by the service main loop.
func (c *Client) WriteSessionGauge(active int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"sessions",
		nil,
		map[string]interface{}{
			"active": active,
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
//	    map[string]string{"host": "gatekeep-01"},
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
