// Package auth provides authentication and authorisation for Gatekeep Core.
//
// It implements a 6-role model (basic, admin, and four organisation-scoped
// roles) with:
//   - Argon2id password hashing (OWASP 2025 recommendation)
//   - Rotating short-lived JWT sessions backed by a server-side token row
//   - Single-use activation and password reset tokens, deleted on consumption
//   - A login throttle guard with per-account streaks and per-address volume
//   - An organisation-scoped policy engine for account administration
//
// Authorisation uses a "deny by default" model: every administrative action
// on an account target passes through the policy engine, and denials are
// surfaced to callers as one generic forbidden error. Clients with multiple
// organisation memberships can only be edited by a system admin; org-scoped
// actors manage such clients through membership changes alone.
package auth
