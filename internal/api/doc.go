// Package api provides the HTTP REST API and WebSocket server for ZKGate Core.
//
// It exposes terminal session management, user record CRUD, attendance log
// retrieval, and realtime punch event streaming to access-control frontends
// (attendance dashboards, HR integrations, door monitoring UIs).
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
