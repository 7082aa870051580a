package wsgiprox

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/samber/lo"
	"go.uber.org/atomic"

	"github.com/webrecorder/wsgiprox/cert"
)

// Middleware is the top-level http.Handler described in spec.md §1-2: it
// sits in front of an upstream handler and transparently converts
// proxy-style requests (absolute-URI GET/POST, and CONNECT followed by
// tunneled TLS) into ordinary forward-handler invocations.
type Middleware struct {
	config     *Config
	ca         cert.CA
	router     *Router
	upstream   Handler
	extractors []Extractor
	logger     *slog.Logger
	observer   Observer

	activeTunnels atomic.Int64
}

// New builds a Middleware in front of upstream, wiring a self-signed CA per
// config and registering the cert-download sub-app (spec.md §4.7) unless
// disabled.
func New(config Config, upstream Handler, logger *slog.Logger) (*Middleware, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "wsgiprox")

	ca, err := cert.NewSelfSignCA(config.caOptions())
	if err != nil {
		return nil, fmt.Errorf("wsgiprox: building CA: %w", err)
	}

	apps := HostAppMap(lo.Assign(map[string]Handler{}, map[string]Handler(config.ProxyApps)))
	proxyHost := config.proxyHost()
	if config.enableCertDownload() {
		if _, taken := apps[proxyHost]; !taken {
			apps[proxyHost] = newCertDownloadApp(ca, logger)
		}
	}

	resolver := config.Resolver
	if resolver == nil {
		resolver = passthroughResolver{}
	}

	mw := &Middleware{
		config:     &config,
		ca:         ca,
		router:     newRouter(apps, resolver, proxyHost),
		upstream:   upstream,
		extractors: append([]Extractor(nil), defaultExtractors...),
		logger:     logger,
		observer:   &slogObserver{logger: logger},
	}
	return mw, nil
}

// SetObserver installs a custom Observer in place of the default slog-based
// one (SPEC_FULL.md §4).
func (mw *Middleware) SetObserver(o Observer) {
	if o == nil {
		o = NopObserver{}
	}
	mw.observer = o
}

// AddExtractor registers an additional raw-socket extraction idiom, tried
// after the built-ins (spec.md §9 "allow the application to register more").
func (mw *Middleware) AddExtractor(e Extractor) {
	mw.extractors = append(mw.extractors, e)
}

// ClearExtractors removes every registered raw-socket extraction idiom,
// including the built-ins, so every CONNECT fails extraction and gets the
// 405 response (spec.md §4.1, §8 scenario S8). Mainly useful for testing
// against a hosting server that genuinely exposes no hijack idiom.
func (mw *Middleware) ClearExtractors() {
	mw.extractors = nil
}

// RootCA exposes the middleware's certificate authority, e.g. so an embedder
// can provision it into a client trust store for tests.
func (mw *Middleware) RootCA() cert.CA { return mw.ca }

// ActiveTunnels returns the number of CONNECT tunnels currently open, for
// embedders that want to expose it as a liveness/load metric.
func (mw *Middleware) ActiveTunnels() int64 { return mw.activeTunnels.Load() }

// ServeHTTP implements http.Handler and is the entry point described in
// spec.md §6 "Wire protocol (inbound)".
func (mw *Middleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		mw.serveConnect(w, r)
		return
	}

	if !r.URL.IsAbs() || r.URL.Host == "" {
		// Ordinary origin-form request: passthrough, no rewriting
		// (spec.md §6).
		mw.upstream.Invoke(w, r)
		return
	}

	if realm := authRealm(mw.config.Resolver, r); realm != "" {
		w.Header().Set("Proxy-Authenticate", fmt.Sprintf(`Basic realm=%q`, realm))
		w.WriteHeader(http.StatusProxyAuthRequired)
		return
	}

	routed, sub := mw.router.route(r)
	matchedHost, _ := MatchedHost(routed.Context())
	mw.observer.RequestRouted(routed, matchedHost, ProxyHost(routed.Context()))

	if sub != nil && sub.Invoke(w, routed) {
		return
	}
	mw.upstream.Invoke(w, routed)
}

// passthroughResolver is used when no Resolver is configured: it returns the
// absolute URL unchanged, so request_uri carries no rewrite prefix.
type passthroughResolver struct{}

func (passthroughResolver) Resolve(absoluteURL string, _ *http.Request) string { return absoluteURL }
