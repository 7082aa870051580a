package wsgiprox

import (
	"bufio"
	"io"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
)

// parseTunnel implements C3 (spec.md §4.3): it reads the request line and
// headers off reader and returns an *http.Request whose URL is the
// absolute-URI form request_uri = scheme + "://" + connectHost + target,
// ready for the router (C6) to rewrite. The returned request's Body reads
// from reader starting immediately after the header terminator, satisfying
// the RequestRecord "body positioned at first unread byte" invariant
// (spec.md §3 invariant 4).
func parseTunnel(reader *bufio.Reader, connectHost, scheme string) (*http.Request, error) {
	tp := textproto.NewReader(reader)

	line, err := tp.ReadLine()
	if err != nil {
		return nil, err
	}
	method, target, proto, ok := parseRequestLine(line)
	if !ok {
		return nil, ErrMalformedRequestLine
	}

	mimeHeader, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return nil, ErrMalformedHeaders
	}
	header := http.Header(mimeHeader)

	absoluteURI := scheme + "://" + connectHost + target
	u, err := url.ParseRequestURI(absoluteURI)
	if err != nil {
		return nil, ErrMalformedRequestLine
	}

	req := &http.Request{
		Method:     method,
		URL:        u,
		Proto:      proto,
		Header:     header,
		Host:       connectHost,
		RequestURI: absoluteURI,
	}
	req.ProtoMajor, req.ProtoMinor, _ = http.ParseHTTPVersion(proto)

	if cl := header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			req.ContentLength = n
		} else {
			req.ContentLength = -1
		}
	}

	// The tunnel carries exactly one request/response exchange (spec.md §1
	// Non-goals: no client-facing connection pooling), so a handler reading
	// past Content-Length would block on the client rather than see EOF.
	// Bound the body to the advertised length; a handler that ignores it
	// simply sees an empty body.
	var body io.Reader = reader
	if req.ContentLength > 0 {
		body = io.LimitReader(reader, req.ContentLength)
	} else {
		body = http.NoBody
	}
	req.Body = io.NopCloser(body)

	return req, nil
}

// parseRequestLine splits "METHOD SP target SP version" into its three
// tokens, rejecting anything with fewer than three space-separated tokens
// (spec.md §4.3, ErrMalformedRequestLine).
func parseRequestLine(line string) (method, target, proto string, ok bool) {
	parts := strings.Fields(line)
	if len(parts) < 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}
