package wsgiprox

import (
	"net/http"
	"strings"

	"github.com/tidwall/match"
	"golang.org/x/net/idna"
)

// Router implements C6 (spec.md §4.6): it decides, for a parsed request,
// whether a registered virtual host owns it and rewrites request_uri
// accordingly, or otherwise hands it to the resolver for prefix injection
// ahead of the upstream handler.
type Router struct {
	hostApps  HostAppMap
	resolver  Resolver
	proxyHost string
}

// newRouter builds a Router from the configuration the middleware was
// constructed with.
func newRouter(apps HostAppMap, resolver Resolver, proxyHost string) *Router {
	return &Router{hostApps: apps, resolver: resolver, proxyHost: proxyHost}
}

// route applies spec.md §4.6's algorithm: it determines the target host,
// rewrites r's URL/RequestURI in place, attaches proxy.matched_host and
// proxy.host to r's context (spec.md §3), and returns the sub-app bound to
// a matched virtual host, or nil if r should go to the upstream handler.
func (rt *Router) route(r *http.Request) (*http.Request, Handler) {
	host := hostOnly(r.URL.Host)

	if sub, matched := rt.hostApps[host]; matched {
		ctx := WithMatchedHost(r.Context(), host)
		ctx = WithProxyHost(ctx, host)
		r = r.WithContext(ctx)
		r.RequestURI = joinPathQuery(r.URL.Path, r.URL.RawQuery)
		return r, sub
	}

	if pattern, sub, matched := rt.matchGlobHost(host); matched {
		ctx := WithMatchedHost(r.Context(), pattern)
		ctx = WithProxyHost(ctx, host)
		r = r.WithContext(ctx)
		r.RequestURI = joinPathQuery(r.URL.Path, r.URL.RawQuery)
		return r, sub
	}

	r = r.WithContext(WithProxyHost(r.Context(), rt.proxyHost))
	rewritten := rt.resolver.Resolve(r.URL.String(), r)
	path, query := splitPathQuery(rewritten)
	r.URL.Path = path
	r.URL.RawQuery = query
	r.RequestURI = rewritten
	return r, nil
}

// authRealm returns the non-empty realm an AuthResolver demands for r, or ""
// if resolver doesn't gate auth or grants this request (spec.md §4.6 "Auth
// gate", §9 "credential validation lives in the resolver").
func authRealm(resolver Resolver, r *http.Request) string {
	ar, ok := resolver.(AuthResolver)
	if !ok {
		return ""
	}
	return ar.AuthRealm(r)
}

// matchGlobHost checks host against any HostAppMap key containing a glob
// pattern (e.g. "*.example.com"), so a single registration can cover a whole
// subdomain family instead of one entry per exact host.
func (rt *Router) matchGlobHost(host string) (pattern string, sub Handler, ok bool) {
	for p, h := range rt.hostApps {
		if !strings.ContainsAny(p, "*?[") {
			continue
		}
		if match.Match(host, p) {
			return p, h, true
		}
	}
	return "", nil, false
}

// hostOnly strips an optional ":port" suffix from a URL authority and
// normalizes the remaining hostname to its ASCII (punycode) form, so an
// internationalized domain in HostAppMap matches an internationalized
// request host regardless of which form the client sent.
func hostOnly(authority string) string {
	host := authority
	if i := strings.LastIndexByte(authority, ':'); i >= 0 {
		host = authority[:i]
	}
	if ascii, err := idna.ToASCII(host); err == nil {
		return ascii
	}
	return host
}

// splitPathQuery splits "path?query" into its parts. The resolver's
// rewritten request_uri is a literal path string (it may itself embed
// "scheme://host/..." as literal path bytes, per spec.md §3 invariant 2), so
// this splits textually rather than through url.Parse.
func splitPathQuery(s string) (path, query string) {
	if i := strings.IndexByte(s, '?'); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

// joinPathQuery is splitPathQuery's inverse (spec.md §3 invariant 1).
func joinPathQuery(path, query string) string {
	if query == "" {
		return path
	}
	return path + "?" + query
}
