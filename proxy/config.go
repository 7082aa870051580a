package wsgiprox

import "github.com/webrecorder/wsgiprox/cert"

// Config holds the options enumerated in spec.md §6. Zero values pick the
// documented defaults.
type Config struct {
	// CARootDir is the directory holding the CA root file. Minted leaves
	// are not written to disk.
	CARootDir string

	// CAFile is the filename of the CA root PEM within CARootDir.
	CAFile string

	// CAName is the human CN used for an auto-generated CA.
	CAName string

	// CACertsDir is handed to the CA as its per-host leaf sub-directory.
	// The built-in CA keeps minted leaves in memory only and writes nothing
	// to this directory.
	CACertsDir string

	// UseWildcardCerts, if true, mints one wildcard leaf per parent domain
	// instead of one per exact host. Default true.
	UseWildcardCerts *bool

	// EnableCertDownload exposes /download/pem and /download/p12 on the
	// proxy host. Default true.
	EnableCertDownload *bool

	// EnableWebSockets permits the Upgrade: websocket branch. Default true.
	EnableWebSockets *bool

	// ProxyHost is the virtual hostname reserved for the proxy itself.
	// Default "wsgiprox".
	ProxyHost string

	// ProxyApps binds additional virtual hosts to in-process handlers. A
	// nil value for a host means "matched but no sub-app; fall through to
	// the upstream handler after rewriting to the unprefixed path" (spec.md
	// §3 HostAppMap).
	ProxyApps HostAppMap

	// Resolver maps absolute URLs to rewritten paths and optionally gates
	// proxy authentication (spec.md §6 "Resolver contract").
	Resolver Resolver
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func (c *Config) useWildcardCerts() bool    { return boolOr(c.UseWildcardCerts, true) }
func (c *Config) enableCertDownload() bool  { return boolOr(c.EnableCertDownload, true) }
func (c *Config) enableWebSockets() bool    { return boolOr(c.EnableWebSockets, true) }
func (c *Config) proxyHost() string {
	if c.ProxyHost == "" {
		return "wsgiprox"
	}
	return c.ProxyHost
}

func (c *Config) caOptions() cert.Options {
	return cert.Options{
		RootDir:  c.CARootDir,
		CAFile:   c.CAFile,
		CAName:   c.CAName,
		CertsDir: c.CACertsDir,
	}
}
