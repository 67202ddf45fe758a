// Package http provides the inbound HTTP adapter for ToolBridge.
//
// It exposes three surfaces per tool server slug:
//
//   - POST /api/mcp/{slug}: the JSON-RPC protocol endpoint. Requests are
//     decoded, authorized against the server's visibility, and handed to
//     the dispatcher. The response is always HTTP 200 with a JSON-RPC
//     envelope; protocol failures live inside the envelope, not in the
//     HTTP status.
//   - GET /api/mcp/{slug}: discovery. Public servers return their
//     metadata; private servers answer 401 with a WWW-Authenticate
//     challenge pointing at the OAuth surface.
//   - /api/oauth/{slug}/...: the authorization code + PKCE flow
//     (authorize, token) plus the resource metadata document.
//
// Operational endpoints (/healthz, /metrics) and the middleware chain
// (request ID, metrics, panic recovery) also live here. The adapter
// terminates HTTP concerns only; all protocol and OAuth semantics are in
// the service layer.
package http
