// Package server implements the hostfact HTTP API surface.
//
// Owns:
//   - HTTP routing, handlers, and request/response contracts
//   - Authentication wrappers (admin key + agent signature verification)
//   - Fact snapshot storage contracts and the live watch hub
//
// Does not own:
//   - Storage internals (Store implementations)
//   - Agent-side fact collection
//
// Invariants:
//   - JSON responses go through writeJSON (except raw snapshot passthrough)
//   - Admin endpoints are wrapped in RequireAdminKey
//   - Mutating agent endpoints are wrapped in RequireAgentAuth
package server
