package wsgiprox

import (
	"context"
	"crypto/tls"
	"io"
	"net"

	"github.com/webrecorder/wsgiprox/cert"
)

// connectEstablished is the exact wire preamble spec.md §4.2/§6 prescribes.
// HTTP/1.0 + close is intentional: the tunnel is single-use and some
// clients mis-handle keep-alive here.
const connectEstablished = "HTTP/1.0 200 Connection Established\r\nProxy-Connection: close\r\nServer: wsgiprox\r\n\r\n"

// minTLSVersion is the floor spec.md §4.2 calls for: TLS 1.0, for broad
// client compatibility, unless the embedder configures something stricter.
var minTLSVersion uint16 = tls.VersionTLS10

// wrapTLS implements C2 (spec.md §4.2). It first ACKs the CONNECT with the
// "200 Connection Established" preamble, then, unless port is "80",
// performs a server-side TLS handshake over raw using a leaf minted by ca
// for host. It returns the negotiated scheme and the stream subsequent
// components must read/write through.
func wrapTLS(ctx context.Context, ca cert.CA, host, port string, raw net.Conn, useWildcard bool) (scheme string, stream net.Conn, err error) {
	if _, err := io.WriteString(raw, connectEstablished); err != nil {
		return "", nil, err
	}

	if port == "80" {
		return "http", raw, nil
	}

	leaf, err := mintLeaf(ca, host, useWildcard)
	if err != nil {
		return "", nil, err
	}

	tlsConn := tls.Server(raw, &tls.Config{
		Certificates: []tls.Certificate{*leaf},
		MinVersion:   minTLSVersion,
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return "", nil, ErrHandshakeFailed
	}

	return "https", tlsConn, nil
}

func mintLeaf(ca cert.CA, host string, useWildcard bool) (*tls.Certificate, error) {
	if useWildcard {
		return ca.WildcardLeafForHost(host)
	}
	return ca.LeafForHost(host)
}
