package resolvers

import (
	"encoding/base64"
	"net/http/httptest"
	"testing"
)

func TestPrefixResolve(t *testing.T) {
	p := Prefix{Prefix: "/prefix/"}
	got := p.Resolve("https://example.com/path/file?foo=bar", nil)
	want := "/prefix/https://example.com/path/file?foo=bar"
	if got != want {
		t.Fatalf("Resolve = %q, want %q", got, want)
	}
}

func TestFixedResolve(t *testing.T) {
	f := Fixed{Path: "/static"}
	if got := f.Resolve("https://example.com/anything", nil); got != "/static" {
		t.Fatalf("Resolve = %q, want /static", got)
	}
}

func TestProxyAuthDemandsRealmWithoutCredentials(t *testing.T) {
	a := ProxyAuth{Realm: "restricted"}
	req := httptest.NewRequest("GET", "https://example.com/", nil)
	if realm := a.AuthRealm(req); realm != "restricted" {
		t.Fatalf("AuthRealm = %q, want restricted", realm)
	}
}

func TestProxyAuthGrantsAndPrefixesByUsername(t *testing.T) {
	a := ProxyAuth{}
	req := httptest.NewRequest("GET", "https://example.com/path/file?foo=bar", nil)
	req.Header.Set("Proxy-Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("other-prefix:ignore")))

	if realm := a.AuthRealm(req); realm != "" {
		t.Fatalf("AuthRealm = %q, want empty once credentials present", realm)
	}

	got := a.Resolve("https://example.com/path/file?foo=bar", req)
	want := "/other-prefix/https://example.com/path/file?foo=bar"
	if got != want {
		t.Fatalf("Resolve = %q, want %q", got, want)
	}
}

func TestProxyAuthRejectsMalformedHeader(t *testing.T) {
	a := ProxyAuth{}
	req := httptest.NewRequest("GET", "https://example.com/", nil)
	req.Header.Set("Proxy-Authorization", "Bearer not-basic")
	if realm := a.AuthRealm(req); realm == "" {
		t.Fatalf("expected AuthRealm to demand credentials for a non-Basic header")
	}
}
