// Package api implements the HTTP REST API and WebSocket server for Gatekeep Core.
//
// This package provides:
//   - Authentication endpoints (login, logout, activation, password reset)
//   - Account and organisation administration with policy enforcement
//   - Audit log queries
//   - WebSocket hub streaming security events to admin dashboards
//   - Middleware stack (request ID, logging, recovery, CORS, session auth)
//   - TLS support for production deployments
//
// # Architecture
//
// The API server is the only inbound surface of the service. Every request
// carries a bearer session token except the login, activation, and reset
// endpoints. Session tokens rotate in place: when a validated token is
// within the refresh threshold of expiry, the replacement is returned in
// the X-Refresh-Token response header and the presented token stops
// resolving.
//
// # Security
//
// Authorisation decisions are delegated to the auth policy engine; handlers
// never compare roles directly. Denials return a uniform 403 so callers
// cannot probe for the existence or role of other accounts. WebSocket
// connections use single-use tickets to keep session tokens out of URLs.
package api
