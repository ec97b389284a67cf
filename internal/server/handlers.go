// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in test page.
package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
}

// WebSocketHandler upgrades the request and runs the chat session over the
// WebSocket, one protocol line per text frame. The session is served exactly
// like a TCP client, starting with the login prompts.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}
	if s.isClosing() {
		http.Error(w, "Server is shutting down.", http.StatusServiceUnavailable)
		return
	}

	holdsSlot := false
	if s.slots != nil {
		select {
		case s.slots <- struct{}{}:
			holdsSlot = true
		default:
			http.Error(w, "Too many connections.", http.StatusServiceUnavailable)
			return
		}
	}

	ws, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		if holdsSlot {
			s.releaseSlot()
		}
		return
	}

	s.log.Info("websocket connection accepted", "addr", r.RemoteAddr)
	s.spawn(newWebSocketConn(ws, r.RemoteAddr, s.cfg.MaxLineLength, s.cfg.WriteTimeout), holdsSlot)
}

// HealthHandler reports that the server is up and how many users are online.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "linechat server is running! Online users: %d", s.registry.Count())
}

// TestPageHandler serves a minimal browser client for the WebSocket endpoint.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>linechat</title>
    <style>
        body { font-family: monospace; margin: 20px; }
        #log { border: 1px solid #ccc; height: 360px; padding: 8px; overflow-y: scroll; white-space: pre-wrap; }
        input[type="text"] { width: 420px; padding: 4px; }
        .out { color: #005a87; }
    </style>
</head>
<body>
    <h1>linechat</h1>
    <div id="log"></div>
    <input type="text" id="line" placeholder="/help" disabled>
    <button id="connect">Connect</button>
    <script>
        let ws = null;
        const log = document.getElementById('log');
        const line = document.getElementById('line');
        const button = document.getElementById('connect');

        function append(text, cls) {
            const el = document.createElement('div');
            el.textContent = text;
            if (cls) el.className = cls;
            log.appendChild(el);
            log.scrollTop = log.scrollHeight;
        }

        button.onclick = function() {
            if (ws) { ws.close(); return; }
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = function() { line.disabled = false; button.textContent = 'Disconnect'; };
            ws.onmessage = function(ev) { append(ev.data); };
            ws.onclose = function() {
                append('-- disconnected --');
                line.disabled = true;
                button.textContent = 'Connect';
                ws = null;
            };
        };

        line.addEventListener('keypress', function(e) {
            if (e.key === 'Enter' && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(line.value);
                append('> ' + line.value, 'out');
                line.value = '';
            }
        });
    </script>
</body>
</html>`
