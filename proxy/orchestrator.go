package wsgiprox

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	uuid "github.com/satori/go.uuid"

	"github.com/webrecorder/wsgiprox/internal/helper"
)

// tunnel implements C5 (spec.md §4.5): it drives C1 (socket.go) → C2
// (tls.go) → C3 (parser.go) → C6 (router.go) → C4 (framer.go)/the WebSocket
// branch for a single CONNECT. One tunnel exists per CONNECT request and is
// owned exclusively by the goroutine that created it (spec.md §5).
type tunnel struct {
	id       uuid.UUID
	mw       *Middleware
	logger   *slog.Logger
	rawConn  net.Conn
	tlsConn  net.Conn // equals rawConn on port 80
	reader   *bufio.Reader
	connHost string
	port     string
}

// serveConnect implements the AWAIT_RAW → ... → DONE/ABORTED state machine.
func (mw *Middleware) serveConnect(w http.ResponseWriter, r *http.Request) {
	connHost, port := splitHostPort(r.Host)

	logger := mw.logger.With("host", connHost, "port", port)

	// AWAIT_RAW → HIJACKED, or terminal(405).
	rawConn, ok := extractSocket(mw.extractors, w, r)
	if !ok {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusMethodNotAllowed)
		fmt.Fprint(w, "HTTPS Proxy Not Supported")
		return
	}

	t := &tunnel{
		id:       uuid.NewV4(),
		mw:       mw,
		logger:   logger,
		rawConn:  rawConn,
		connHost: connHost,
		port:     port,
	}
	defer t.rawConn.Close()

	mw.activeTunnels.Inc()
	defer mw.activeTunnels.Dec()

	mw.observer.TunnelOpened(t.id, connHost, port)
	err := t.run(r)
	mw.observer.TunnelClosed(t.id, err)
}

// run executes TLS_UP → PARSED → ROUTED → {WS_UPGRADED|BODY_STREAMING} → DONE.
func (t *tunnel) run(outer *http.Request) error {
	scheme, stream, err := wrapTLS(outer.Context(), t.mw.ca, t.connHost, t.port, t.rawConn, t.mw.config.useWildcardCerts())
	if err != nil {
		helper.LogErr(t.logger, err)
		return err
	}
	t.tlsConn = stream
	defer t.tlsConn.Close()

	t.reader = bufio.NewReader(t.tlsConn)

	req, err := parseTunnel(t.reader, t.connHost, scheme)
	if err != nil {
		helper.LogErr(t.logger, err)
		return err
	}
	req = req.WithContext(withTunnelID(outer.Context(), t.id))

	// The auth gate and the resolver must read Proxy-Authorization off the
	// same request. The inner tunneled request is the one Go HTTP clients
	// (and any other client that authenticates per-request rather than at
	// CONNECT time) actually carry the header on, so the gate runs here,
	// against req, rather than against the outer CONNECT (spec.md §4.6).
	if realm := authRealm(t.mw.config.Resolver, req); realm != "" {
		t.writeAuthRequired(req.Proto, realm)
		return nil
	}

	return t.handleOne(req)
}

// writeAuthRequired answers the tunneled request with a 407 demanding realm,
// framed like any other tunnel response (spec.md §4.6, §7 AuthRequired).
func (t *tunnel) writeAuthRequired(protocol, realm string) {
	bw := bufio.NewWriter(t.tlsConn)
	rw := newTunnelResponseWriter(bw, protocol)
	rw.Header().Set("Proxy-Authenticate", fmt.Sprintf(`Basic realm=%q`, realm))
	rw.Header().Set("Content-Length", "0")
	rw.WriteHeader(http.StatusProxyAuthRequired)
	if err := rw.Close(); err != nil {
		helper.LogErr(t.logger, err)
	}
}

// handleOne serves the single request-response exchange a CONNECT tunnel
// carries before it closes (spec.md §1 Non-goals: "no persistent connection
// pooling to the client").
func (t *tunnel) handleOne(req *http.Request) error {
	req, sub := t.mw.router.route(req)
	matchedHost, _ := MatchedHost(req.Context())
	t.mw.observer.RequestRouted(req, matchedHost, ProxyHost(req.Context()))

	if t.mw.config.enableWebSockets() && isWebSocketUpgrade(req) {
		t.serveWebSocket(req, sub)
		return nil
	}

	bw := bufio.NewWriter(t.tlsConn)
	rw := newTunnelResponseWriter(bw, req.Proto)

	handled := false
	if sub != nil {
		handled = sub.Invoke(rw, req)
	}
	if !handled {
		t.mw.upstream.Invoke(rw, req)
	}
	if err := rw.Close(); err != nil {
		helper.LogErr(t.logger, err)
		return err
	}
	return nil
}

// splitHostPort splits a CONNECT authority "host:port" into its parts,
// defaulting to port 443 if none is present.
func splitHostPort(authority string) (host, port string) {
	host, port, err := net.SplitHostPort(authority)
	if err != nil {
		return authority, "443"
	}
	return host, port
}

// isWebSocketUpgrade reports whether req carries the WebSocket upgrade
// handshake headers (spec.md §4.5 "ROUTED → WS_UPGRADED").
func isWebSocketUpgrade(req *http.Request) bool {
	return strings.EqualFold(req.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(req.Header.Get("Connection")), "upgrade")
}
