package wsgiprox_test

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"testing"

	"github.com/webrecorder/wsgiprox/internal/echo"
	"github.com/webrecorder/wsgiprox/proxy"
	"github.com/webrecorder/wsgiprox/resolvers"
)

func newTestProxy(t *testing.T, cfg proxy.Config) (*httptest.Server, *http.Client) {
	t.Helper()
	cfg.CARootDir = t.TempDir()

	mw, err := proxy.New(cfg, echo.Handler{}, nil)
	if err != nil {
		t.Fatalf("proxy.New: %v", err)
	}

	srv := httptest.NewServer(mw)
	t.Cleanup(srv.Close)

	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(mw.RootCA().RootPEM())

	proxyURL, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parsing proxy URL: %v", err)
	}

	client := &http.Client{
		Transport: &http.Transport{
			Proxy:           http.ProxyURL(proxyURL),
			TLSClientConfig: &tls.Config{RootCAs: pool},
		},
	}
	return srv, client
}

func TestS1HTTPPlain(t *testing.T) {
	_, client := newTestProxy(t, proxy.Config{Resolver: resolvers.Prefix{Prefix: "prefix"}})

	resp, err := client.Get("http://example.com/path/file?foo=bar")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	want := "Requested Url: /prefix/http://example.com/path/file?foo=bar"
	if string(body) != want {
		t.Fatalf("body = %q, want %q", body, want)
	}
}

func TestS2HTTPSTunnel(t *testing.T) {
	_, client := newTestProxy(t, proxy.Config{Resolver: resolvers.Prefix{Prefix: "prefix"}})

	resp, err := client.Get("https://example.com/path/file?foo=bar")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	want := "Requested Url: /prefix/https://example.com/path/file?foo=bar"
	if string(body) != want {
		t.Fatalf("body = %q, want %q", body, want)
	}
}

func TestS3ChunkedOnHTTP11(t *testing.T) {
	_, client := newTestProxy(t, proxy.Config{Resolver: resolvers.Prefix{Prefix: "prefix"}})

	resp, err := client.Get("https://example.com/x?chunked=true")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Content-Length") != "" {
		t.Fatalf("expected no Content-Length on chunked response")
	}
	if len(resp.TransferEncoding) == 0 {
		t.Fatalf("expected Transfer-Encoding: chunked")
	}

	body, _ := io.ReadAll(resp.Body)
	want := "Requested Url: /prefix/https://example.com/x?chunked=true"
	if string(body) != want {
		t.Fatalf("body = %q, want %q", body, want)
	}
}

// TestS4BufferedOnForcedHTTP10 drives the tunnel at the raw-socket level
// because net/http.Client always speaks HTTP/1.1 to the inner server; the
// buffered-framing path only triggers when the inner request line itself
// advertises HTTP/1.0 (spec.md §8 scenario S4).
func TestS4BufferedOnForcedHTTP10(t *testing.T) {
	srv, _ := newTestProxy(t, proxy.Config{Resolver: resolvers.Prefix{Prefix: "prefix"}})

	rawConn, err := net.Dial("tcp", srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer rawConn.Close()

	if _, err := io.WriteString(rawConn, "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n"); err != nil {
		t.Fatalf("write CONNECT: %v", err)
	}

	br := bufio.NewReader(rawConn)
	tp := textproto.NewReader(br)
	if _, err := tp.ReadLine(); err != nil {
		t.Fatalf("reading CONNECT ack status line: %v", err)
	}
	if _, err := tp.ReadMIMEHeader(); err != nil {
		t.Fatalf("reading CONNECT ack headers: %v", err)
	}

	tlsConn := tls.Client(rawConn, &tls.Config{ServerName: "example.com", InsecureSkipVerify: true})
	if err := tlsConn.Handshake(); err != nil {
		t.Fatalf("TLS handshake: %v", err)
	}

	if _, err := io.WriteString(tlsConn, "GET /x?chunked=true HTTP/1.0\r\nHost: example.com\r\n\r\n"); err != nil {
		t.Fatalf("write inner request: %v", err)
	}

	tbr := bufio.NewReader(tlsConn)
	ttp := textproto.NewReader(tbr)
	statusLine, err := ttp.ReadLine()
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	if !strings.HasPrefix(statusLine, "HTTP/1.0 200") {
		t.Fatalf("status line = %q, want HTTP/1.0 200 ...", statusLine)
	}
	header, err := ttp.ReadMIMEHeader()
	if err != nil {
		t.Fatalf("reading headers: %v", err)
	}
	if header.Get("Transfer-Encoding") != "" {
		t.Fatalf("unexpected Transfer-Encoding on a buffered response")
	}
	if header.Get("Content-Length") == "" {
		t.Fatalf("expected a computed Content-Length on a buffered response")
	}

	body := make([]byte, 0)
	buf := make([]byte, 256)
	for {
		n, err := tbr.Read(buf)
		body = append(body, buf[:n]...)
		if err != nil {
			break
		}
	}
	want := "Requested Url: /prefix/https://example.com/x?chunked=true"
	if string(body) != want {
		t.Fatalf("body = %q, want %q", body, want)
	}
}

func TestS5FixedVirtualHost(t *testing.T) {
	_, client := newTestProxy(t, proxy.Config{Resolver: resolvers.Prefix{Prefix: "prefix"}})

	resp, err := client.Get("https://wsgiprox/path/file?foo=bar")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	want := "Requested Url: /path/file?foo=bar"
	if string(body) != want {
		t.Fatalf("body = %q, want %q", body, want)
	}
}

func TestS6CertDownload(t *testing.T) {
	_, client := newTestProxy(t, proxy.Config{Resolver: resolvers.Prefix{Prefix: "prefix"}})

	resp, err := client.Get("https://wsgiprox/download/pem")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "application/x-x509-ca-cert" {
		t.Fatalf("Content-Type = %q, want application/x-x509-ca-cert", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(string(body), "-----BEGIN CERTIFICATE-----") {
		t.Fatalf("body does not look like a PEM certificate: %q", body[:min(40, len(body))])
	}
}

func TestS7AuthGate(t *testing.T) {
	_, client := newTestProxy(t, proxy.Config{Resolver: resolvers.ProxyAuth{Realm: "restricted"}})

	resp, err := client.Get("https://example.com/path/file?foo=bar")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusProxyAuthRequired {
		t.Fatalf("status = %d, want 407", resp.StatusCode)
	}

	req, _ := http.NewRequest("GET", "https://example.com/path/file?foo=bar", nil)
	req.Header.Set("Proxy-Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("other-prefix:ignore")))
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("GET with credentials: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	want := "Requested Url: /other-prefix/https://example.com/path/file?foo=bar"
	if string(body) != want {
		t.Fatalf("body = %q, want %q", body, want)
	}
}

func TestS8UnsupportedHost(t *testing.T) {
	cfg := proxy.Config{Resolver: resolvers.Prefix{Prefix: "prefix"}}
	cfg.CARootDir = t.TempDir()
	mw, err := proxy.New(cfg, echo.Handler{}, nil)
	if err != nil {
		t.Fatalf("proxy.New: %v", err)
	}
	mw.ClearExtractors()

	srv := httptest.NewServer(mw)
	defer srv.Close()

	// net/http.Client turns a non-200 CONNECT reply into an error rather
	// than a response, so the CONNECT is sent and its reply read on a raw
	// socket.
	rawConn, err := net.Dial("tcp", srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer rawConn.Close()
	if _, err := io.WriteString(rawConn, "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n"); err != nil {
		t.Fatalf("write CONNECT: %v", err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(rawConn), &http.Request{Method: http.MethodConnect})
	if err != nil {
		t.Fatalf("reading CONNECT response: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}

	proxyURL, _ := url.Parse(srv.URL)
	client := &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}

	// Plain HTTP (no CONNECT) still works even with no socket-extraction
	// idiom registered.
	resp2, err := client.Get("http://example.com/path")
	if err != nil {
		t.Fatalf("plain GET: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp2.StatusCode)
	}
}
