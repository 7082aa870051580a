// Package echo provides the literal test handler spec.md §8 describes:
// it echoes "Requested Url: " + request_uri, optionally appending the POST
// body and the proxy host the request was routed under, and echoes a single
// WebSocket message back to the client when the request arrived via the
// WS_UPGRADED branch. It satisfies proxy.Handler and is reused both by the
// CLI demo and by the package's own end-to-end tests.
package echo

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/webrecorder/wsgiprox/proxy"
)

// Handler is the upstream handler bound behind the middleware. When
// ShowProxyHost is set it also appends the proxy.host the request was
// routed under, which the literal scenarios in spec.md §8 don't exercise
// but which is useful for manually inspecting routing decisions.
type Handler struct {
	ShowProxyHost bool
}

// Invoke implements proxy.Handler.
func (h Handler) Invoke(w http.ResponseWriter, r *http.Request) bool {
	if conn, ok := proxy.WebSocketConn(r.Context()); ok {
		return echoOneMessage(conn)
	}

	body := fmt.Sprintf("Requested Url: %s", r.RequestURI)

	if r.Method == http.MethodPost && r.Body != nil {
		data, err := io.ReadAll(r.Body)
		if err == nil && len(data) > 0 {
			body += " POST Data: " + string(data)
		}
	}

	if h.ShowProxyHost {
		if host := proxy.ProxyHost(r.Context()); host != "" {
			body += " Proxy Host: " + host
		}
	}

	// Deliberately does not set Content-Length: doing so would always force
	// passthrough framing over a CONNECT tunnel, defeating the chunked and
	// buffered framing paths (spec.md §4.4, §8 testable property 4).
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, body)
	return true
}

// echoOneMessage reads a single WebSocket message and writes it straight
// back, closing the connection afterward. It exists to exercise the
// WS_UPGRADED branch in tests; a real embedder would loop for the
// connection's lifetime instead.
func echoOneMessage(conn *websocket.Conn) bool {
	defer conn.Close()
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		return true
	}
	_ = conn.WriteMessage(msgType, data)
	return true
}
