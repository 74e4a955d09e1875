// Package api provides the HTTP API and WebSocket event stream for
// NodeLink Core.
//
// It exposes the device registry to local tooling: listing devices,
// queuing investigations, invoking device functions and removing stale
// entries. Registry events are relayed to WebSocket clients subscribed to
// the matching event type.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Authentication is optional. When a JWT secret is configured every route
// except /api/v1/health needs an HS256 bearer token; mutating routes need
// the operator role.
package api
