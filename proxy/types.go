package wsgiprox

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	uuid "github.com/satori/go.uuid"
)

// Handler is the contract for a host-bound sub-app (spec.md §3 HostAppMap,
// §9 "Sub-app dispatch"). Invoke returns true once it has handled the
// request and false to mean "declined; fall through to the upstream
// handler". There is no error result: handled and declined are the only
// outcomes.
type Handler interface {
	Invoke(w http.ResponseWriter, r *http.Request) (handled bool)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) bool

// Invoke implements Handler.
func (f HandlerFunc) Invoke(w http.ResponseWriter, r *http.Request) bool { return f(w, r) }

// HostAppMap maps a virtual hostname to a Handler. A nil value means
// "matched but no sub-app; fall through to the upstream handler after
// rewriting to the unprefixed path" (spec.md §3).
type HostAppMap map[string]Handler

// Resolver is the policy collaborator described in spec.md §6: it rewrites
// an absolute URL into the path handed to the upstream handler and may gate
// proxy authentication.
type Resolver interface {
	// Resolve rewrites absoluteURL (e.g. "https://example.com/p?q=1") into
	// the request_uri the upstream handler will see.
	Resolve(absoluteURL string, r *http.Request) string
}

// AuthResolver is implemented by a Resolver that also wants to gate proxy
// authentication (spec.md §4.6 "Auth gate", §6).
type AuthResolver interface {
	Resolver

	// AuthRealm returns a non-empty realm when r must carry valid
	// Proxy-Authorization credentials, or "" when no gate applies.
	AuthRealm(r *http.Request) string
}

// context keys carrying the spec.md §3 "proxy.*" RequestRecord fields. Go's
// idiomatic analogue of WSGI environ keys is context.Context values rather
// than dict entries; see SPEC_FULL.md §0 for the rationale.
type contextKey int

const (
	matchedHostKey contextKey = iota
	proxyHostKey
	tunnelIDKey
	websocketConnKey
)

// WithMatchedHost returns a context carrying the matched virtual host
// (spec.md "proxy.matched_host").
func WithMatchedHost(ctx context.Context, host string) context.Context {
	return context.WithValue(ctx, matchedHostKey, host)
}

// MatchedHost returns the virtual host the request matched, and whether one
// was set at all (spec.md "proxy.matched_host" is absent unless the
// CONNECT/absolute-URI host matched a registered virtual host).
func MatchedHost(ctx context.Context) (string, bool) {
	h, ok := ctx.Value(matchedHostKey).(string)
	return h, ok
}

// WithProxyHost returns a context carrying the proxy's own declared virtual
// hostname (spec.md "proxy.host").
func WithProxyHost(ctx context.Context, host string) context.Context {
	return context.WithValue(ctx, proxyHostKey, host)
}

// ProxyHost returns the proxy's own declared virtual hostname for this
// request.
func ProxyHost(ctx context.Context) string {
	h, _ := ctx.Value(proxyHostKey).(string)
	return h
}

func withTunnelID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, tunnelIDKey, id)
}

// TunnelID returns the identifier of the CONNECT tunnel serving this
// request, if any (plain HTTP requests have none).
func TunnelID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(tunnelIDKey).(uuid.UUID)
	return id, ok
}

func withWebSocketConn(ctx context.Context, conn *websocket.Conn) context.Context {
	return context.WithValue(ctx, websocketConnKey, conn)
}

// WebSocketConn returns the upgraded WebSocket connection bound to this
// request's context, if the request arrived via the WS_UPGRADED branch
// (spec.md §4.5, §9 "object placed in the record").
func WebSocketConn(ctx context.Context) (*websocket.Conn, bool) {
	conn, ok := ctx.Value(websocketConnKey).(*websocket.Conn)
	return conn, ok
}
