// Package mqtt provides MQTT client connectivity for Gatekeep Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Security event publishing with QoS guarantees
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Gatekeep publishes security events (logins, lockouts, denials, account
// changes) to the broker so that external consumers can react without
// polling the audit API:
//
//	Gatekeep Core → MQTT Broker → SIEM collectors / alerting / dashboards
//
// The client is publish-only. Nothing in the service consumes broker
// traffic; inbound control lives exclusively on the HTTP API.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Event payloads carry account IDs and handles; scope broker ACLs accordingly
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.Event("lockout")
//	client.Publish(topic, []byte(`{"account_id":"acc-1f2e3d4c"}`), 1, false)
package mqtt
