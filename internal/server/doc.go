// Package server implements the linechat TCP and WebSocket chat server.
//
// The implementation is organized into specialized files for configuration,
// authentication, command dispatch, per-connection goroutines, and the HTTP
// side of the WebSocket transport. Shared chat state lives in the registry
// package; this package only moves lines between it and the sockets.
package server
