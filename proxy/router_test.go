package wsgiprox

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

type prefixResolver struct{ prefix string }

func (p prefixResolver) Resolve(absoluteURL string, r *http.Request) string {
	return "/" + p.prefix + "/" + absoluteURL
}

func TestRoutePrefixInjectionForUnmatchedHost(t *testing.T) {
	rt := newRouter(HostAppMap{}, prefixResolver{prefix: "prefix"}, "wsgiprox")
	req := httptest.NewRequest("GET", "https://example.com/path/file?foo=bar", nil)
	req.URL.Scheme, req.URL.Host = "https", "example.com"

	out, sub := rt.route(req)
	if sub != nil {
		t.Fatalf("expected no sub-app for unmatched host")
	}
	want := "/prefix/https://example.com/path/file?foo=bar"
	if out.RequestURI != want {
		t.Fatalf("RequestURI = %q, want %q", out.RequestURI, want)
	}
	if host := ProxyHost(out.Context()); host != "wsgiprox" {
		t.Fatalf("ProxyHost = %q, want wsgiprox", host)
	}
}

func TestRouteStripsPrefixForMatchedHost(t *testing.T) {
	rt := newRouter(HostAppMap{"wsgiprox": nil}, prefixResolver{prefix: "prefix"}, "wsgiprox")
	req := httptest.NewRequest("GET", "https://wsgiprox/path/file?foo=bar", nil)
	req.URL.Scheme, req.URL.Host = "https", "wsgiprox"

	out, sub := rt.route(req)
	if sub != nil {
		t.Fatalf("expected nil sub-app (declared but unbound) to still report a match")
	}
	want := "/path/file?foo=bar"
	if out.RequestURI != want {
		t.Fatalf("RequestURI = %q, want %q", out.RequestURI, want)
	}
	if host, ok := MatchedHost(out.Context()); !ok || host != "wsgiprox" {
		t.Fatalf("MatchedHost = (%q, %v), want (wsgiprox, true)", host, ok)
	}
}

func TestRouteSubAppCanDecline(t *testing.T) {
	declined := HandlerFunc(func(w http.ResponseWriter, r *http.Request) bool { return false })
	rt := newRouter(HostAppMap{"wsgiprox": declined}, prefixResolver{}, "wsgiprox")
	req := httptest.NewRequest("GET", "https://wsgiprox/download/pem", nil)
	req.URL.Scheme, req.URL.Host = "https", "wsgiprox"

	_, sub := rt.route(req)
	if sub == nil {
		t.Fatalf("expected the registered sub-app, got nil")
	}
	if sub.Invoke(nil, req) {
		t.Fatalf("expected Invoke to decline")
	}
}

func TestRouteGlobHostPattern(t *testing.T) {
	sub := HandlerFunc(func(w http.ResponseWriter, r *http.Request) bool { return true })
	rt := newRouter(HostAppMap{"*.example.com": sub}, prefixResolver{prefix: "prefix"}, "wsgiprox")
	req := httptest.NewRequest("GET", "https://api.example.com/path", nil)
	req.URL.Scheme, req.URL.Host = "https", "api.example.com"

	out, matched := rt.route(req)
	if matched == nil {
		t.Fatalf("expected the glob-registered sub-app to match")
	}
	if host, ok := MatchedHost(out.Context()); !ok || host != "*.example.com" {
		t.Fatalf("MatchedHost = (%q, %v), want (*.example.com, true)", host, ok)
	}
}

func TestHostOnlyStripsPort(t *testing.T) {
	if got := hostOnly("example.com:443"); got != "example.com" {
		t.Fatalf("hostOnly = %q, want example.com", got)
	}
	if got := hostOnly("example.com"); got != "example.com" {
		t.Fatalf("hostOnly = %q, want example.com", got)
	}
}

type realmResolver struct{ prefixResolver }

func (realmResolver) AuthRealm(r *http.Request) string {
	if r.Header.Get("Proxy-Authorization") == "" {
		return "restricted"
	}
	return ""
}

func TestAuthRealmGatesOnMissingCredentials(t *testing.T) {
	req := httptest.NewRequest("GET", "https://example.com/", nil)
	if realm := authRealm(realmResolver{}, req); realm != "restricted" {
		t.Fatalf("authRealm = %q, want restricted", realm)
	}

	req.Header.Set("Proxy-Authorization", "Basic whatever")
	if realm := authRealm(realmResolver{}, req); realm != "" {
		t.Fatalf("authRealm = %q, want empty once credentials present", realm)
	}
}

func TestAuthRealmNoopWhenResolverDoesNotImplementIt(t *testing.T) {
	req := httptest.NewRequest("GET", "https://example.com/", nil)
	if realm := authRealm(prefixResolver{}, req); realm != "" {
		t.Fatalf("authRealm = %q, want empty for plain Resolver", realm)
	}
}
