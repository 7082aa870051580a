// Package cert implements the CA collaborator described in spec.md §6: an
// internal root certificate authority that mints per-host (or per-parent-domain
// wildcard) leaf certificates on the fly, and can export its root in PEM and
// PKCS#12 form for the cert-download sub-app (spec.md §4.7).
package cert

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/golang/groupcache/singleflight"
	"golang.org/x/net/publicsuffix"
	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// CA is the contract the proxy core depends on (spec.md §6 "CA contract").
// Host-qualified leaves are generated lazily and cached; the root is
// generated once and persisted under CARootDir.
type CA interface {
	// LeafForHost returns a leaf certificate for the exact hostname.
	LeafForHost(host string) (*tls.Certificate, error)

	// WildcardLeafForHost returns a leaf certificate valid for "*.<parent>"
	// and for parent itself, where parent is host with its leftmost label
	// stripped (or host itself if it has no further labels to strip, or if
	// the stripped name would be a public suffix).
	WildcardLeafForHost(host string) (*tls.Certificate, error)

	// RootPEM returns the CA root certificate, PEM-encoded.
	RootPEM() []byte

	// RootPKCS12 returns the CA root exported as a PKCS#12 bundle.
	RootPKCS12() ([]byte, error)

	// RootCert returns the parsed root certificate.
	RootCert() *x509.Certificate
}

// Options configures a SelfSignCA. Zero values pick the teacher-style
// defaults.
type Options struct {
	RootDir   string // CARootDir
	CAFile    string // filename of the root PEM within RootDir; default "wsgiprox-ca.pem"
	CAName    string // human CN for the generated root; default "wsgiprox CA"
	CertsDir  string // sub-directory for minted leaves (reserved for on-disk caching); default "certs"
	CacheSize int    // in-memory LRU size for minted leaves; default 100
}

func (o *Options) setDefaults() {
	if o.CAFile == "" {
		o.CAFile = "wsgiprox-ca.pem"
	}
	if o.CAName == "" {
		o.CAName = "wsgiprox CA"
	}
	if o.CertsDir == "" {
		o.CertsDir = "certs"
	}
	if o.CacheSize <= 0 {
		o.CacheSize = 100
	}
}

// SelfSignCA is the default CA implementation: a self-signed root persisted
// to disk (generated once, reused across restarts) plus leaves minted and
// memoized in-process.
type SelfSignCA struct {
	opts Options

	rootCert *x509.Certificate
	rootKey  *rsa.PrivateKey
	rootDER  []byte

	cacheMu sync.Mutex
	cache   *lru.Cache
	group   singleflight.Group
}

// NewSelfSignCA creates (or loads, if caFile already exists under rootDir) a
// self-signed CA. An empty rootDir uses getStorePath's default location.
func NewSelfSignCA(opts Options) (*SelfSignCA, error) {
	opts.setDefaults()

	dir, err := getStorePath(opts.RootDir)
	if err != nil {
		return nil, err
	}
	opts.RootDir = dir

	ca := &SelfSignCA{
		opts:  opts,
		cache: lru.New(opts.CacheSize),
	}

	path := ca.caFile()
	if data, err := os.ReadFile(path); err == nil {
		if err := ca.loadFrom(bytes.NewReader(data)); err == nil {
			return ca, nil
		}
	}

	if err := ca.generateRoot(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := ca.saveTo(f); err != nil {
		return nil, err
	}

	return ca, nil
}

// getStorePath resolves the directory used to persist the CA root, creating
// it if necessary. An empty dir falls back to a "wsgiprox-ca" directory
// under the user's cache/config-equivalent location (here: a relative
// default dir, matching the teacher's behavior of defaulting within the
// working directory when no explicit path is given).
func getStorePath(dir string) (string, error) {
	if dir == "" {
		dir = "wsgiprox-ca"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func (ca *SelfSignCA) caFile() string {
	return filepath.Join(ca.opts.RootDir, ca.opts.CAFile)
}

func (ca *SelfSignCA) generateRoot() error {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return err
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   ca.opts.CAName,
			Organization: []string{ca.opts.CAName},
		},
		NotBefore:             time.Now().Add(-24 * time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return err
	}

	parsed, err := x509.ParseCertificate(der)
	if err != nil {
		return err
	}

	ca.rootCert = parsed
	ca.rootKey = key
	ca.rootDER = der
	return nil
}

// saveTo PEM-encodes the root cert and key and writes them to w.
func (ca *SelfSignCA) saveTo(w io.Writer) error {
	if err := pem.Encode(w, &pem.Block{Type: "CERTIFICATE", Bytes: ca.rootDER}); err != nil {
		return err
	}
	keyDER := x509.MarshalPKCS1PrivateKey(ca.rootKey)
	return pem.Encode(w, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: keyDER})
}

func (ca *SelfSignCA) loadFrom(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	var certBlock, keyBlock *pem.Block
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			certBlock = block
		case "RSA PRIVATE KEY":
			keyBlock = block
		}
	}
	if certBlock == nil || keyBlock == nil {
		return errors.New("cert: incomplete CA PEM file")
	}

	parsedCert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return err
	}
	parsedKey, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return err
	}

	ca.rootCert = parsedCert
	ca.rootKey = parsedKey
	ca.rootDER = certBlock.Bytes
	return nil
}

// RootCert implements CA.
func (ca *SelfSignCA) RootCert() *x509.Certificate { return ca.rootCert }

// RootPEM implements CA.
func (ca *SelfSignCA) RootPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.rootDER})
}

// RootPKCS12 implements CA.
func (ca *SelfSignCA) RootPKCS12() ([]byte, error) {
	return pkcs12.Legacy.Encode(ca.rootKey, ca.rootCert, nil, "")
}

// LeafForHost implements CA.
func (ca *SelfSignCA) LeafForHost(host string) (*tls.Certificate, error) {
	return ca.leaf(host, host)
}

// WildcardLeafForHost implements CA.
func (ca *SelfSignCA) WildcardLeafForHost(host string) (*tls.Certificate, error) {
	parent := parentDomain(host)
	return ca.leaf(parent, "*."+parent)
}

// parentDomain strips the leftmost label of host, e.g. "a.example.com" ->
// "example.com", so a wildcard leaf can cover every subdomain under it. A
// host with one or zero labels is returned unchanged, and so is a host
// whose parent would itself be a public suffix (e.g. "example.co.uk" would
// naively strip to "co.uk") since minting a wildcard there would cover
// every domain under that suffix, not just the caller's.
func parentDomain(host string) string {
	idx := strings.Index(host, ".")
	if idx < 0 {
		return host
	}
	parent := host[idx+1:]
	if suffix, icann := publicsuffix.PublicSuffix(parent); icann && suffix == parent {
		return host
	}
	return parent
}

// leaf fetches cacheKey from the LRU cache, minting (and memoizing) a new
// leaf for commonName on miss. Concurrent misses for the same cacheKey are
// coalesced via singleflight so a burst of CONNECTs for one host mints
// exactly once.
func (ca *SelfSignCA) leaf(cacheKey, commonName string) (*tls.Certificate, error) {
	ca.cacheMu.Lock()
	if v, ok := ca.cache.Get(cacheKey); ok {
		ca.cacheMu.Unlock()
		return v.(*tls.Certificate), nil
	}
	ca.cacheMu.Unlock()

	v, err := ca.group.Do(cacheKey, func() (any, error) {
		c, err := ca.mintLeaf(commonName)
		if err != nil {
			return nil, err
		}
		ca.cacheMu.Lock()
		ca.cache.Add(cacheKey, c)
		ca.cacheMu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*tls.Certificate), nil
}

func (ca *SelfSignCA) mintLeaf(commonName string) (*tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-1 * time.Hour),
		NotAfter:     time.Now().AddDate(2, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{commonName},
	}
	if strings.HasPrefix(commonName, "*.") {
		// A wildcard does not match the bare parent name, so list it too.
		tmpl.DNSNames = append(tmpl.DNSNames, commonName[2:])
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.rootCert, &key.PublicKey, ca.rootKey)
	if err != nil {
		return nil, fmt.Errorf("cert: mint leaf for %s: %w", commonName, err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{der, ca.rootDER},
		PrivateKey:  key,
	}, nil
}
