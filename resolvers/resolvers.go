// Package resolvers collects Resolver implementations for the wsgiprox
// middleware (spec.md §6 "Resolver contract"): pure policy objects that
// rewrite an absolute URL into the path handed to the upstream handler, and
// may optionally gate proxy authentication.
package resolvers

import (
	"encoding/base64"
	"net/http"
	"strings"
)

// Fixed always rewrites to the same literal path, ignoring the request. It
// is mainly useful for tests and for virtual hosts that serve a single
// static target.
type Fixed struct {
	Path string
}

// Resolve implements wsgiprox.Resolver.
func (f Fixed) Resolve(string, *http.Request) string { return f.Path }

// Prefix injects a fixed path segment ahead of the absolute URL, matching
// the rewrite pattern spec.md §8's scenarios S1-S4 exercise:
// "/prefix/https://example.com/p?q=1".
type Prefix struct {
	Prefix string
}

// Resolve implements wsgiprox.Resolver.
func (p Prefix) Resolve(absoluteURL string, _ *http.Request) string {
	return "/" + strings.Trim(p.Prefix, "/") + "/" + absoluteURL
}

// ProxyAuth is a Resolver that also gates proxy authentication (spec.md
// §4.6, §8 scenario S7): any request without a well-formed
// "Proxy-Authorization: Basic <base64(user:pass)>" header is denied with a
// demanded realm. The decoded username is then used as the rewrite prefix,
// so different credentials route to different upstream path namespaces —
// grounded on the basic-auth parsing idiom of a username/prefix pair rather
// than a password check.
type ProxyAuth struct {
	Realm string
}

// AuthRealm implements wsgiprox.AuthResolver.
func (a ProxyAuth) AuthRealm(r *http.Request) string {
	if _, ok := basicAuthUser(r); ok {
		return ""
	}
	realm := a.Realm
	if realm == "" {
		realm = "wsgiprox"
	}
	return realm
}

// Resolve implements wsgiprox.Resolver. Credential validation already
// happened in AuthRealm; by the time Resolve runs the request is known to
// carry a well-formed Proxy-Authorization header.
func (a ProxyAuth) Resolve(absoluteURL string, r *http.Request) string {
	user, _ := basicAuthUser(r)
	return "/" + user + "/" + absoluteURL
}

// basicAuthUser decodes the username out of a "Proxy-Authorization: Basic
// ..." header, grounded on the teacher's DefaultBasicAuth.parseRequestAuth.
func basicAuthUser(r *http.Request) (string, bool) {
	header := r.Header.Get("Proxy-Authorization")
	if !strings.HasPrefix(header, "Basic ") {
		return "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "Basic "))
	if err != nil {
		return "", false
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", false
	}
	return parts[0], true
}
