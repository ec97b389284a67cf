// Package server wires HTTP handlers into a ServeMux for the WebSocket
// transport.
package server

import "net/http"

// SetupRoutes returns a ServeMux with the health check, the WebSocket
// endpoint and the browser test page.
func SetupRoutes(s *Server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("/test", TestPageHandler)
	return mux
}
