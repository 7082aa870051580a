package wsgiprox

import (
	"net"
	"net/http"
)

// Extractor recovers the raw duplex connection behind a request, or returns
// ok=false if this idiom doesn't apply (spec.md §4.1, §9 "small registry of
// named predicate/extractor pairs").
type Extractor func(w http.ResponseWriter, r *http.Request) (conn net.Conn, ok bool)

// connProvider is the "documented attribute chain" spec.md §4.1 allows:
// a body stream (or anything else reachable from the request) that exposes
// its underlying socket directly. Some hosting idioms (e.g. streaming
// request bodies backed by a raw connection) implement this.
type connProvider interface {
	UnderlyingConn() net.Conn
}

// hijackerExtractor is the idiom virtually every Go net/http server
// supports: the ResponseWriter implements http.Hijacker.
func hijackerExtractor(w http.ResponseWriter, _ *http.Request) (net.Conn, bool) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return nil, false
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return nil, false
	}
	return conn, true
}

// bodyConnExtractor covers hosting servers whose request body wraps the raw
// socket and exposes it via UnderlyingConn, rather than supporting
// http.Hijacker directly.
func bodyConnExtractor(_ http.ResponseWriter, r *http.Request) (net.Conn, bool) {
	cp, ok := r.Body.(connProvider)
	if !ok {
		return nil, false
	}
	return cp.UnderlyingConn(), true
}

// defaultExtractors is consulted in order by extractSocket. Applications
// embedding the middleware may register more via Middleware.AddExtractor
// for idioms not covered here.
var defaultExtractors = []Extractor{
	hijackerExtractor,
	bodyConnExtractor,
}

// extractSocket runs extractors in order and returns the first successful
// extraction.
func extractSocket(extractors []Extractor, w http.ResponseWriter, r *http.Request) (net.Conn, bool) {
	for _, ex := range extractors {
		if conn, ok := ex(w, r); ok {
			return conn, true
		}
	}
	return nil, false
}
