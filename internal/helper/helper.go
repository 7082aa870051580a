// Package helper collects small, server-agnostic utilities shared by the
// proxy core: error classification, buffered-reader spilling, and TLS
// record sniffing.
package helper

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"strings"
)

var normalErrMsgs = []string{
	"read: connection reset by peer",
	"write: broken pipe",
	"i/o timeout",
	"io: read/write on closed pipe",
	"connect: connection refused",
	"connect: connection reset by peer",
	"use of closed network connection",
	"EOF",
}

// LogErr logs err at Debug level if it looks like an ordinary client
// disconnect, and at Error level otherwise. Callers use this instead of
// always logging at Error so that routine tunnel teardown doesn't spam
// logs.
func LogErr(logger *slog.Logger, err error) {
	if err == nil {
		return
	}
	msg := err.Error()
	for _, s := range normalErrMsgs {
		if strings.Contains(msg, s) {
			logger.Debug("normal error", "error", err)
			return
		}
	}
	logger.Error("unexpected error", "error", err)
}

// IsTLS reports whether buf begins with a TLS handshake record header.
// ref: https://github.com/mitmproxy/mitmproxy/blob/main/mitmproxy/net/tls.py is_tls_record_magic
func IsTLS(buf []byte) bool {
	return len(buf) >= 3 && buf[0] == 0x16 && buf[1] == 0x03 && buf[2] <= 0x03
}

// SpoolThreshold is the default in-memory cap before buffered framing (§4.4)
// spills to a temp file.
const SpoolThreshold = 64 * 1024

// SpooledBuffer accumulates r into memory up to limit bytes; once the limit
// is exceeded it spills the remainder (and everything already read) into a
// temp file. It reads from the start of the spooled data, and the caller
// must Close it to unlink any temp file. Size reports the total
// number of bytes read from r.
type SpooledBuffer struct {
	rd   io.ReadSeeker
	file *os.File
	size int64
}

// Spool drains r into a SpooledBuffer, spilling to a temp file in dir (or
// the default temp dir when dir is empty) once the in-memory limit is
// exceeded.
func Spool(r io.Reader, limit int64, dir string) (*SpooledBuffer, error) {
	buf := new(bytes.Buffer)
	n, err := io.CopyN(buf, r, limit)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if n < limit {
		return &SpooledBuffer{rd: bytes.NewReader(buf.Bytes()), size: n}, nil
	}

	f, err := os.CreateTemp(dir, "wsgiprox-spool-*")
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	written, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	return &SpooledBuffer{rd: f, file: f, size: n + written}, nil
}

// Size returns the total number of bytes spooled.
func (s *SpooledBuffer) Size() int64 { return s.size }

// Read implements io.Reader.
func (s *SpooledBuffer) Read(p []byte) (int, error) { return s.rd.Read(p) }

// Close unlinks the backing temp file, if any.
func (s *SpooledBuffer) Close() error {
	if s.file == nil {
		return nil
	}
	name := s.file.Name()
	err := s.file.Close()
	if rmErr := os.Remove(name); err == nil {
		err = rmErr
	}
	return err
}

// SpoolWriter is the write-side counterpart to SpooledBuffer: it accepts
// writes in arbitrary-sized pieces, keeping them in memory up to
// SpoolThreshold and spilling to a temp file in dir beyond that. Unlike
// SpooledBuffer it does not know the total size in advance; callers read it
// back via WriteTo once writing is finished.
type SpoolWriter struct {
	dir  string
	buf  bytes.Buffer
	file *os.File
	size int64
}

// NewSpoolWriter returns a SpoolWriter that spills into dir (or the default
// temp dir when dir is empty) once SpoolThreshold in-memory bytes is exceeded.
func NewSpoolWriter(dir string) *SpoolWriter {
	return &SpoolWriter{dir: dir}
}

// Write implements io.Writer.
func (s *SpoolWriter) Write(p []byte) (int, error) {
	s.size += int64(len(p))
	if s.file != nil {
		return s.file.Write(p)
	}
	if s.buf.Len()+len(p) <= SpoolThreshold {
		return s.buf.Write(p)
	}

	f, err := os.CreateTemp(s.dir, "wsgiprox-spool-*")
	if err != nil {
		return 0, err
	}
	if _, err := f.Write(s.buf.Bytes()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return 0, err
	}
	s.buf.Reset()
	s.file = f
	return f.Write(p)
}

// Size returns the total number of bytes written so far.
func (s *SpoolWriter) Size() int64 { return s.size }

// WriteTo copies the spooled content to w and, if a temp file was used,
// closes and unlinks it.
func (s *SpoolWriter) WriteTo(w io.Writer) (int64, error) {
	if s.file == nil {
		n, err := w.Write(s.buf.Bytes())
		return int64(n), err
	}
	defer func() {
		name := s.file.Name()
		s.file.Close()
		os.Remove(name)
	}()
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return io.Copy(w, s.file)
}
