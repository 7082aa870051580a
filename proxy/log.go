package wsgiprox

import (
	"log/slog"
	"net/http"

	uuid "github.com/satori/go.uuid"
)

// Observer receives lifecycle notifications from the middleware. It is the
// supplemented, generalized replacement for the teacher's addon pipeline
// (SPEC_FULL.md §4): embedders that only want visibility, not interception,
// implement a subset via NopObserver embedding.
type Observer interface {
	TunnelOpened(id uuid.UUID, host, port string)
	TunnelClosed(id uuid.UUID, err error)
	RequestRouted(r *http.Request, matchedHost string, proxyHost string)
}

// NopObserver is embeddable by callers who only care about one or two hooks.
type NopObserver struct{}

func (NopObserver) TunnelOpened(uuid.UUID, string, string)       {}
func (NopObserver) TunnelClosed(uuid.UUID, error)                {}
func (NopObserver) RequestRouted(*http.Request, string, string)  {}

// slogObserver is the default Observer, logging through the same *slog.Logger
// the rest of the middleware uses.
type slogObserver struct {
	logger *slog.Logger
}

func (o *slogObserver) TunnelOpened(id uuid.UUID, host, port string) {
	o.logger.Debug("tunnel opened", "tunnel", id.String(), "host", host, "port", port)
}

func (o *slogObserver) TunnelClosed(id uuid.UUID, err error) {
	if err != nil {
		o.logger.Debug("tunnel closed", "tunnel", id.String(), "error", err)
		return
	}
	o.logger.Debug("tunnel closed", "tunnel", id.String())
}

func (o *slogObserver) RequestRouted(r *http.Request, matchedHost, proxyHost string) {
	o.logger.Debug("request routed", "request_uri", r.RequestURI, "matched_host", matchedHost, "proxy_host", proxyHost)
}
