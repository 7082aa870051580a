package wsgiprox_test

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/webrecorder/wsgiprox/proxy"
	"github.com/webrecorder/wsgiprox/resolvers"
)

// TestWebSocketEchoOverTunnel exercises the WS_UPGRADED branch: a client
// dials a wss:// URL through the proxy's CONNECT tunnel, the handshake
// completes inside the MITM'd TLS connection, and a message round-trips to
// internal/echo.Handler and back (spec.md §8 testable property 6).
func TestWebSocketEchoOverTunnel(t *testing.T) {
	srv, client := newTestProxy(t, proxy.Config{Resolver: resolvers.Prefix{Prefix: "prefix"}})

	proxyURL, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parsing proxy URL: %v", err)
	}

	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport")
	}

	dialer := &websocket.Dialer{
		Proxy:           http.ProxyURL(proxyURL),
		TLSClientConfig: transport.TLSClientConfig,
	}

	conn, resp, err := dialer.Dial("wss://example.com/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status = %d, want 101", resp.StatusCode)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("write message: %v", err)
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("echoed message = %q, want %q", data, "hello")
	}
}
