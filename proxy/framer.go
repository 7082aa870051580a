package wsgiprox

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"

	"github.com/webrecorder/wsgiprox/internal/helper"
)

// framing is the transfer-encoding decision described in spec.md §4.4.
type framing int

const (
	framingUnset framing = iota
	framingChunked
	framingBuffered
	framingPassthrough
)

// tunnelResponseWriter implements C4 (spec.md §4.4): it is the write-side of
// the upstream handler invocation over a CONNECT tunnel. It owns the
// framing decision and streams (or spools, for the buffered case) the
// handler's reply through w in the exact order status line, header lines,
// terminating CRLF, body pieces.
type tunnelResponseWriter struct {
	w        *bufio.Writer
	protocol string // inner SERVER_PROTOCOL, never the outer CONNECT's HTTP/1.0 line

	header      http.Header
	status      int
	wroteHeader bool
	headersSent bool
	framing     framing

	chunked io.WriteCloser       // httputil chunked writer, used when framing == framingChunked
	spool   *helper.SpoolWriter // accumulates body when framing == framingBuffered

	err error
}

func newTunnelResponseWriter(w *bufio.Writer, protocol string) *tunnelResponseWriter {
	return &tunnelResponseWriter{
		w:        w,
		protocol: protocol,
		header:   make(http.Header),
	}
}

// Header implements http.ResponseWriter.
func (t *tunnelResponseWriter) Header() http.Header { return t.header }

// WriteHeader implements http.ResponseWriter. This is where the framing
// decision (spec.md §4.4 table) is made.
func (t *tunnelResponseWriter) WriteHeader(status int) {
	if t.wroteHeader {
		return
	}
	t.wroteHeader = true
	t.status = status

	switch {
	case t.header.Get("Content-Length") != "":
		t.framing = framingPassthrough
		t.flushHeaders()
	case t.protocol == "HTTP/1.1":
		t.framing = framingChunked
		t.header.Set("Transfer-Encoding", "chunked")
		t.header.Del("Content-Length")
		t.flushHeaders()
		t.chunked = httputil.NewChunkedWriter(t.w)
	default:
		// HTTP/1.0 with no Content-Length: buffer the whole body so we can
		// emit Content-Length once we know its length (spec.md §4.4
		// rationale: HTTP/1.0 has no chunked encoding and Connection:
		// close was already advertised in the CONNECT ack).
		t.framing = framingBuffered
		t.spool = helper.NewSpoolWriter("")
	}
}

// Write implements http.ResponseWriter. A Write before any WriteHeader call
// means the handler wants to push bytes immediately (spec.md §4.4): headers
// are flushed now, framing is forced to passthrough, and bytes go straight
// through.
func (t *tunnelResponseWriter) Write(p []byte) (int, error) {
	if !t.wroteHeader {
		t.wroteHeader = true
		t.status = http.StatusOK
		t.framing = framingPassthrough
		t.flushHeaders()
	}

	if t.err != nil {
		return 0, t.err
	}

	switch t.framing {
	case framingPassthrough:
		n, err := t.w.Write(p)
		t.err = err
		return n, err
	case framingChunked:
		if len(p) == 0 {
			// Skip zero-length pieces: they would prematurely signal
			// end-of-body in chunked framing (spec.md §4.4).
			return 0, nil
		}
		n, err := t.chunked.Write(p)
		t.err = err
		return n, err
	case framingBuffered:
		return t.spool.Write(p)
	default:
		return 0, nil
	}
}

// Flush implements http.Flusher for handlers that want to push partial
// output eagerly (only meaningful for passthrough/chunked framing; a
// buffered response is inherently not flushed until Close).
func (t *tunnelResponseWriter) Flush() {
	if t.framing == framingBuffered || t.framing == framingUnset {
		return
	}
	_ = t.w.Flush()
}

// Close finalizes the response: for chunked framing it writes the
// terminating zero-length chunk and the final CRLF; for buffered framing it now knows the
// total body length and emits the deferred status line, headers, and body.
func (t *tunnelResponseWriter) Close() error {
	if !t.wroteHeader {
		t.WriteHeader(http.StatusOK)
	}

	switch t.framing {
	case framingChunked:
		if t.chunked != nil {
			if err := t.chunked.Close(); err != nil {
				return err
			}
			// The chunked writer's Close emits only "0\r\n"; the empty
			// trailer section still needs its terminating CRLF.
			if _, err := io.WriteString(t.w, "\r\n"); err != nil {
				return err
			}
		}
	case framingBuffered:
		t.header.Set("Content-Length", fmt.Sprintf("%d", t.spool.Size()))
		t.headersSent = false
		t.flushHeaders()
		if _, err := t.spool.WriteTo(t.w); err != nil {
			return err
		}
	}
	return t.w.Flush()
}

// flushHeaders writes the status line, header block, and terminating CRLF
// exactly once (spec.md §4.4 "A blank line closes the header block only
// after framing is decided").
func (t *tunnelResponseWriter) flushHeaders() {
	if t.headersSent {
		return
	}
	t.headersSent = true

	fmt.Fprintf(t.w, "%s %d %s\r\n", t.protocol, t.status, http.StatusText(t.status))
	for name, values := range t.header {
		for _, v := range values {
			fmt.Fprintf(t.w, "%s: %s\r\n", name, v)
		}
	}
	fmt.Fprint(t.w, "\r\n")
}
