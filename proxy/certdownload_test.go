package wsgiprox

import (
	"bytes"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
)

func TestNegotiateEncodingPrefersBrotli(t *testing.T) {
	r := httptest.NewRequest("GET", "/download/pem", nil)
	r.Header.Set("Accept-Encoding", "gzip, br")

	data := []byte("-----BEGIN CERTIFICATE-----\nfake\n-----END CERTIFICATE-----\n")
	body, encoding, err := negotiateEncoding(r, data)
	if err != nil {
		t.Fatalf("negotiateEncoding: %v", err)
	}
	if encoding != "br" {
		t.Fatalf("encoding = %q, want br", encoding)
	}

	got, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
	if err != nil {
		t.Fatalf("decoding brotli body: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("decoded body = %q, want %q", got, data)
	}
}

func TestNegotiateEncodingFallsBackToGzip(t *testing.T) {
	r := httptest.NewRequest("GET", "/download/pem", nil)
	r.Header.Set("Accept-Encoding", "gzip")

	data := []byte("hello cert download")
	body, encoding, err := negotiateEncoding(r, data)
	if err != nil {
		t.Fatalf("negotiateEncoding: %v", err)
	}
	if encoding != "gzip" {
		t.Fatalf("encoding = %q, want gzip", encoding)
	}

	gr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	got, err := io.ReadAll(gr)
	if err != nil {
		t.Fatalf("decoding gzip body: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("decoded body = %q, want %q", got, data)
	}
}

func TestNegotiateEncodingIdentityWhenUnadvertised(t *testing.T) {
	r := httptest.NewRequest("GET", "/download/pem", nil)

	data := []byte("hello cert download")
	body, encoding, err := negotiateEncoding(r, data)
	if err != nil {
		t.Fatalf("negotiateEncoding: %v", err)
	}
	if encoding != "" {
		t.Fatalf("encoding = %q, want empty (identity)", encoding)
	}
	if !bytes.Equal(body, data) {
		t.Fatalf("body = %q, want %q unchanged", body, data)
	}
}
