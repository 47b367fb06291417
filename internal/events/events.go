// Package events fans security events out to live consumers.
//
// Every noteworthy authentication or administration action produces one
// Event. The publisher forwards it to the WebSocket hub for connected
// dashboards, to the MQTT broker for external consumers, and to InfluxDB
// as rate telemetry. All sinks are optional and best-effort: delivery
// failures are logged and never surface to the caller, so the HTTP
// request that produced the event always completes normally.
package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nerrad567/gatekeep-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/gatekeep-core/internal/infrastructure/mqtt"
)

// Event is one security event as delivered to live consumers.
//
// Kind matches the audit action vocabulary (login, lockout, denied,
// account_created, ...) so a consumer can correlate the stream with the
// audit trail.
type Event struct {
	Kind      string         `json:"kind"`
	AccountID string         `json:"account_id,omitempty"`
	Handle    string         `json:"handle,omitempty"`
	Role      string         `json:"role,omitempty"`
	OrgID     string         `json:"org_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Broadcaster delivers a marshalled event to connected WebSocket clients.
// Implemented by the API layer's connection hub; kind lets the hub route
// to clients subscribed to specific event kinds.
type Broadcaster interface {
	Broadcast(kind string, payload []byte)
}

// Publisher fans events out to the configured sinks.
//
// A zero-value Publisher is usable and drops everything; sinks are
// attached individually so deployments can run any subset of them.
type Publisher struct {
	mu       sync.RWMutex
	hub      Broadcaster
	mqttConn *mqtt.Client
	influx   *influxdb.Client
	qos      byte
	logger   *slog.Logger
}

// NewPublisher creates a publisher with no sinks attached.
func NewPublisher(logger *slog.Logger) *Publisher {
	return &Publisher{logger: logger}
}

// SetBroadcaster attaches the WebSocket hub sink.
func (p *Publisher) SetBroadcaster(hub Broadcaster) {
	p.mu.Lock()
	p.hub = hub
	p.mu.Unlock()
}

// SetMQTT attaches the MQTT sink. Events publish to gatekeep/events/{kind}
// at the given QoS, never retained.
func (p *Publisher) SetMQTT(client *mqtt.Client, qos byte) {
	p.mu.Lock()
	p.mqttConn = client
	p.qos = qos
	p.mu.Unlock()
}

// SetInflux attaches the telemetry sink.
func (p *Publisher) SetInflux(client *influxdb.Client) {
	p.mu.Lock()
	p.influx = client
	p.mu.Unlock()
}

// Publish delivers an event to every attached sink. It never returns an
// error; sink failures are logged and swallowed.
func (p *Publisher) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	p.mu.RLock()
	hub := p.hub
	mqttConn := p.mqttConn
	influx := p.influx
	qos := p.qos
	p.mu.RUnlock()

	if hub == nil && mqttConn == nil && influx == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		if p.logger != nil {
			p.logger.Error("marshalling security event", "kind", event.Kind, "error", err)
		}
		return
	}

	if hub != nil {
		hub.Broadcast(event.Kind, payload)
	}

	if mqttConn != nil {
		topic := mqtt.Topics{}.Event(event.Kind)
		if err := mqttConn.Publish(topic, payload, qos, false); err != nil {
			if p.logger != nil {
				p.logger.Warn("publishing security event to broker",
					"kind", event.Kind,
					"error", err,
				)
			}
		}
	}

	if influx != nil {
		influx.WriteAuthEvent(event.Kind, event.Role)
		switch event.Kind {
		case "lockout":
			influx.WriteThrottleMetric("account", detailInt(event.Details, "streak"))
		case "throttled":
			influx.WriteThrottleMetric("address", detailInt(event.Details, "streak"))
		}
	}
}

// detailInt reads an integer detail value, tolerating the float64 that
// a JSON round trip produces.
func detailInt(details map[string]any, key string) int {
	switch v := details[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
