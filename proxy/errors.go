package wsgiprox

import "errors"

// Error taxonomy per spec.md §7. ErrHandshakeFailed, ErrMalformedRequestLine
// and ErrMalformedHeaders are returned internally by the tunnel's
// collaborators (tls.go, parser.go); the orchestrator ends the tunnel on
// them and never returns them to callers of Middleware.ServeHTTP.
// ErrHostUnsupported and ErrAuthRequired name the other two conditions,
// which the middleware answers directly with a 405 or 407 response; no
// function returns them.
var (
	// ErrHostUnsupported means no raw-socket extraction idiom worked.
	ErrHostUnsupported = errors.New("wsgiprox: hosting server does not support raw socket extraction")

	// ErrAuthRequired means the resolver demands Proxy-Authorization
	// credentials that were missing or invalid.
	ErrAuthRequired = errors.New("wsgiprox: proxy authentication required")

	// ErrHandshakeFailed means the TLS handshake with the client failed.
	ErrHandshakeFailed = errors.New("wsgiprox: TLS handshake failed")

	// ErrMalformedRequestLine means the tunneled request line had fewer
	// than three space-separated tokens.
	ErrMalformedRequestLine = errors.New("wsgiprox: malformed request line")

	// ErrMalformedHeaders means the tunneled header block could not be
	// parsed.
	ErrMalformedHeaders = errors.New("wsgiprox: malformed headers")
)
