package rpcrt

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// CertificateContext wraps a located certificate plus its private key, owned
// by the CertificateStore that produced it. Drop (Release) must happen
// before the owning store is closed.
type CertificateContext struct {
	Certificate *x509.Certificate
	PrivateKey  any
	subject     string
	store       *CertificateStore
	released    bool
}

// Release returns the certificate context to its store. Safe to call more
// than once.
func (c *CertificateContext) Release() {
	if c == nil || c.released {
		return
	}
	c.released = true
	if c.store != nil {
		c.store.mu.Lock()
		c.store.outstanding--
		c.store.mu.Unlock()
	}
}

// CertificateStore opens a named, file-backed certificate store identified
// by a StoreLocation + store name: load on open, one certificate per named
// entry, indexed by subject. A real OS certificate store would be wired in
// behind the same interface; this implementation is the portable,
// test-friendly default.
type CertificateStore struct {
	mu          sync.Mutex
	location    StoreLocation
	name        string
	dir         string
	outstanding int
	closed      bool
}

// OpenCertificateStore opens (creating if absent) the named store under
// baseDir/<location>/<name>/. Each certificate is a "<subject>.pem" file
// containing a CERTIFICATE PEM block optionally followed by a PRIVATE KEY
// PEM block.
func OpenCertificateStore(baseDir string, location StoreLocation, name string) (*CertificateStore, error) {
	dir := filepath.Join(baseDir, location.String(), name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, &Error{Kind: SecurityError, Message: "open certificate store", Cause: err}
	}
	return &CertificateStore{location: location, name: name, dir: dir}, nil
}

// FindBySubject returns the first certificate whose subject string contains
// the argument. Not-found is distinguished from lookup failure: not-found
// returns (nil, nil); any other error surfaces as a *Error of kind
// SecurityError.
func (s *CertificateStore) FindBySubject(subject string) (*CertificateContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, &Error{Kind: SecurityError, Message: "certificate store is closed"}
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &Error{Kind: SecurityError, Message: "list certificate store", Cause: err}
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pem") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return nil, &Error{Kind: SecurityError, Message: "read certificate entry", Detail: entry.Name(), Cause: err}
		}
		cert, key, err := parsePEMBundle(raw)
		if err != nil {
			return nil, &Error{Kind: SecurityError, Message: "parse certificate entry", Detail: entry.Name(), Cause: err}
		}
		if !strings.Contains(cert.Subject.String(), subject) {
			continue
		}
		s.outstanding++
		return &CertificateContext{
			Certificate: cert,
			PrivateKey:  key,
			subject:     cert.Subject.String(),
			store:       s,
		}, nil
	}
	return nil, nil
}

// Close releases the store handle. It is an invariant violation to close a
// store with outstanding certificate contexts; callers must Release every
// context obtained from FindBySubject first.
func (s *CertificateStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outstanding > 0 {
		return &Error{Kind: SecurityError, Message: fmt.Sprintf("certificate store closed with %d outstanding context(s)", s.outstanding)}
	}
	s.closed = true
	return nil
}

func parsePEMBundle(raw []byte) (*x509.Certificate, any, error) {
	var cert *x509.Certificate
	var key any
	rest := raw
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			c, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, nil, err
			}
			cert = c
		case "PRIVATE KEY":
			k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, nil, err
			}
			key = k
		}
	}
	if cert == nil {
		return nil, nil, fmt.Errorf("no CERTIFICATE block found")
	}
	return cert, key, nil
}

// tlsCertificate adapts a CertificateContext into a tls.Certificate for use
// by ChannelCredentials.
func (c *CertificateContext) tlsCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{c.Certificate.Raw},
		PrivateKey:  c.PrivateKey,
		Leaf:        c.Certificate,
	}
}
