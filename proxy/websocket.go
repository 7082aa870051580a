package wsgiprox

import (
	"bufio"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/webrecorder/wsgiprox/internal/helper"
)

// wsUpgrader performs the actual RFC 6455 handshake. gorilla/websocket
// exposes no bare server-side Conn constructor, only Upgrader.Upgrade (which
// requires an http.Hijacker) and the client-side Dialer — so the tunnel
// connection is handed to Upgrade through tunnelHijacker below rather than
// built directly.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  helper.SpoolThreshold,
	WriteBufferSize: helper.SpoolThreshold,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// serveWebSocket implements the WS_UPGRADED branch (spec.md §4.5, §9): it
// hands the tunnel connection to wsUpgrader (which writes the 101 response
// itself and returns a *websocket.Conn bound to the same connection), then
// invokes the matched sub-app or upstream handler with a no-op
// http.ResponseWriter and the connection bound into the request's context.
func (t *tunnel) serveWebSocket(req *http.Request, sub Handler) {
	conn, err := wsUpgrader.Upgrade(&tunnelHijacker{conn: t.tlsConn}, req, nil)
	if err != nil {
		helper.LogErr(t.logger, err)
		return
	}

	ctx := withWebSocketConn(req.Context(), conn)
	req = req.WithContext(ctx)

	noop := &noopResponseWriter{header: make(http.Header)}
	if sub != nil && sub.Invoke(noop, req) {
		return
	}
	t.mw.upstream.Invoke(noop, req)
}

// tunnelHijacker adapts the already-hijacked tunnel connection to
// http.ResponseWriter/http.Hijacker so wsUpgrader.Upgrade — the only
// supported path to a server-side *websocket.Conn — can perform the
// handshake directly over it instead of a live net/http connection.
// Write/WriteHeader only run on Upgrade's error path (a malformed handshake
// request); the successful 101 response is written by Upgrade itself,
// straight to the hijacked net.Conn, with no transfer framing or body.
type tunnelHijacker struct {
	conn   net.Conn
	header http.Header
	wrote  bool
}

func (h *tunnelHijacker) Header() http.Header {
	if h.header == nil {
		h.header = make(http.Header)
	}
	return h.header
}

func (h *tunnelHijacker) WriteHeader(status int) {
	if h.wrote {
		return
	}
	h.wrote = true
	fmt.Fprintf(h.conn, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	for name, values := range h.header {
		for _, v := range values {
			fmt.Fprintf(h.conn, "%s: %s\r\n", name, v)
		}
	}
	fmt.Fprint(h.conn, "\r\n")
}

func (h *tunnelHijacker) Write(p []byte) (int, error) {
	if !h.wrote {
		h.WriteHeader(http.StatusOK)
	}
	return h.conn.Write(p)
}

func (h *tunnelHijacker) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	br := bufio.NewReader(h.conn)
	bw := bufio.NewWriter(h.conn)
	return h.conn, bufio.NewReadWriter(br, bw), nil
}

// noopResponseWriter satisfies http.ResponseWriter for a handler invoked
// after the real status line was already sent by the WS handshake (spec.md
// §9 "pass a no-op start_response to the user handler so it cannot re-send
// status").
type noopResponseWriter struct {
	header http.Header
}

func (n *noopResponseWriter) Header() http.Header         { return n.header }
func (n *noopResponseWriter) Write(p []byte) (int, error) { return len(p), nil }
func (n *noopResponseWriter) WriteHeader(int)             {}
