// Package wsgiprox implements an in-process HTTP/HTTPS intercepting proxy
// middleware.
//
// # Overview
//
// The middleware sits in front of an upstream http.Handler and transparently
// converts proxy-style requests (absolute-URI GET/POST, and CONNECT followed
// by tunneled TLS) into ordinary handler invocations. The upstream handler
// sees a rewritten path and standard request metadata; it never learns
// whether the client spoke HTTP, HTTPS, or WebSocket.
//
// The hard part, and the one this package spends almost all its code on, is
// the CONNECT-tunnel interception engine: hijacking the raw client
// connection out from under the hosting HTTP server, performing
// man-in-the-middle TLS with per-host leaf certificates minted on the fly by
// an internal CA, parsing the tunneled request line and headers, invoking
// the upstream handler, and streaming its response back through the TLS
// envelope with correct framing.
//
// # Architecture
//
// The middleware is built from seven small, mostly independent pieces:
//
//   - socket extraction (socket.go): recovers the raw duplex stream from a
//     hijacked connection.
//   - TLS wrapping (tls.go): mints a leaf certificate and performs the
//     server-side TLS handshake.
//   - tunnel parsing (parser.go): reads the inner request line and headers
//     off the TLS-terminated stream.
//   - response framing (framer.go): picks chunked, buffered, or passthrough
//     transfer encoding for the handler's reply.
//   - the orchestrator (orchestrator.go): drives the above for one CONNECT
//     and branches into the WebSocket upgrade path.
//   - the router (router.go): rewrites paths and dispatches to a host-bound
//     sub-app or the upstream handler, gating on proxy authentication.
//   - the cert-download sub-app (certdownload.go): serves the CA root under
//     the proxy's own virtual host.
package wsgiprox
