package wsgiprox

import (
	"bytes"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"

	"github.com/webrecorder/wsgiprox/cert"
)

// certDownloadApp implements C7 (spec.md §4.7): it is bound to the proxy's
// own virtual host and serves the CA root in PEM and PKCS#12 form at two
// well-known paths, declining everything else so the router falls through
// to the upstream handler.
type certDownloadApp struct {
	ca     cert.CA
	logger *slog.Logger
}

func newCertDownloadApp(ca cert.CA, logger *slog.Logger) *certDownloadApp {
	return &certDownloadApp{ca: ca, logger: logger}
}

// Invoke implements Handler.
func (a *certDownloadApp) Invoke(w http.ResponseWriter, r *http.Request) bool {
	switch r.URL.Path {
	case "/download/pem":
		a.serve(w, r, "application/x-x509-ca-cert", a.ca.RootPEM())
		return true

	case "/download/p12":
		p12, err := a.ca.RootPKCS12()
		if err != nil {
			a.logger.Error("pkcs12 export failed", "error", err)
			w.Header().Set("Content-Length", "0")
			w.WriteHeader(http.StatusInternalServerError)
			return true
		}
		a.serve(w, r, "application/x-pkcs12", p12)
		return true

	default:
		return false
	}
}

// serve writes data as the body, compressing it per the client's
// Accept-Encoding when worthwhile. The CA root rarely changes, so
// encoding it once per request is cheap and saves bytes for the common case
// of a browser or curl fetching it over a slow link.
func (a *certDownloadApp) serve(w http.ResponseWriter, r *http.Request, contentType string, data []byte) {
	body, encoding, err := negotiateEncoding(r, data)
	if err != nil {
		a.logger.Error("encoding cert download body failed", "error", err)
		body, encoding = data, ""
	}

	w.Header().Set("Content-Type", contentType)
	if encoding != "" {
		w.Header().Set("Content-Encoding", encoding)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// negotiateEncoding picks brotli over gzip over identity, matching whichever
// the client's Accept-Encoding header advertises, and returns the encoded
// body plus the Content-Encoding value to send (empty for identity).
func negotiateEncoding(r *http.Request, data []byte) (body []byte, encoding string, err error) {
	accept := r.Header.Get("Accept-Encoding")
	switch {
	case strings.Contains(accept, "br"):
		var buf bytes.Buffer
		bw := brotli.NewWriter(&buf)
		if _, err := bw.Write(data); err != nil {
			return nil, "", err
		}
		if err := bw.Close(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "br", nil

	case strings.Contains(accept, "gzip"):
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(data); err != nil {
			return nil, "", err
		}
		if err := gw.Close(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "gzip", nil

	default:
		return data, "", nil
	}
}
