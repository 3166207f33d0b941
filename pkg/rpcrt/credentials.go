package rpcrt

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/crypto/ocsp"
)

// ChannelCredentials wraps the TLS credential record used by the
// SecureChannel security package. Drop releases the embedded certificate
// context(s); the owning CertificateStore must outlive this value.
type ChannelCredentials struct {
	clientCert *CertificateContext
	rootStore  *CertificateStore
	tlsConfig  *tls.Config
}

// NewClientChannelCredentials builds a client-side Schannel credential from
// a single certificate context.
func NewClientChannelCredentials(cert *CertificateContext, info CertInfo) (*ChannelCredentials, error) {
	if cert == nil {
		return nil, &Error{Kind: SecurityError, Message: "no client certificate supplied"}
	}
	cfg := baseTLSConfig(info.StrongerSecurity)
	cfg.Certificates = []tls.Certificate{cert.tlsCertificate()}
	return &ChannelCredentials{clientCert: cert, tlsConfig: cfg}, nil
}

// NewServerChannelCredentials builds a server-side Schannel credential: it
// needs both a certificate context and the root store handle, because the
// server validates the client's certificate chain against that store.
func NewServerChannelCredentials(store *CertificateStore, cert *CertificateContext, info CertInfo) (*ChannelCredentials, error) {
	if cert == nil {
		return nil, &Error{Kind: SecurityError, Message: "no server certificate supplied"}
	}
	cfg := baseTLSConfig(info.StrongerSecurity)
	cfg.Certificates = []tls.Certificate{cert.tlsCertificate()}
	if info.StrongerSecurity {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return &ChannelCredentials{clientCert: cert, rootStore: store, tlsConfig: cfg}, nil
}

// TLSConfig returns the *tls.Config this credential composes to, for
// attachment to the transport layer's dialer/listener.
func (c *ChannelCredentials) TLSConfig() *tls.Config { return c.tlsConfig }

// Release releases the embedded certificate context. The root store (for
// server credentials) is not released here; its lifetime is the caller's.
func (c *ChannelCredentials) Release() {
	if c == nil {
		return
	}
	c.clientCert.Release()
}

// baseTLSConfig applies the stronger_security policy: when set, this raises
// the minimum TLS version, narrows the cipher suite list, and enables
// revocation checking; otherwise defaults accept legacy peers.
func baseTLSConfig(stronger bool) *tls.Config {
	cfg := &tls.Config{}
	if stronger {
		cfg.MinVersion = tls.VersionTLS13
		cfg.CipherSuites = []uint16{
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_CHACHA20_POLY1305_SHA256,
		}
		cfg.VerifyPeerCertificate = verifyWithRevocationHint
	} else {
		cfg.MinVersion = tls.VersionTLS12
	}
	return cfg
}

// ocspTimeout bounds how long a revocation check waits on the responder
// named by the peer certificate's AIA extension before failing closed.
const ocspTimeout = 5 * time.Second

// maxOCSPResponseBytes caps how much of the responder's reply is read,
// mirroring readXDROpaque's opaque-length safety limit for wire data that
// isn't under this process's control.
const maxOCSPResponseBytes = 1 << 20

// verifyWithRevocationHint is wired as tls.Config.VerifyPeerCertificate when
// stronger_security is requested: it walks the peer's leaf certificate and,
// if it advertises an OCSP responder (AIA extension), checks revocation
// status against that responder. A certificate with no OCSP responder
// advertised is accepted as-is — stronger_security raises the TLS floor and
// checks revocation where the chain supports it, it does not itself require
// every issuer to run OCSP.
func verifyWithRevocationHint(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return &Error{Kind: SecurityError, Message: "peer presented no certificate chain"}
	}

	leaf, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return &Error{Kind: SecurityError, Message: "failed to parse peer certificate", Cause: err}
	}
	if len(leaf.OCSPServer) == 0 {
		return nil
	}

	issuer := leaf
	if len(rawCerts) > 1 {
		issuer, err = x509.ParseCertificate(rawCerts[1])
		if err != nil {
			return &Error{Kind: SecurityError, Message: "failed to parse peer issuer certificate", Cause: err}
		}
	}

	return checkOCSPRevocation(leaf, issuer)
}

// checkOCSPRevocation performs one RFC 6960 request/response exchange
// against leaf's first advertised responder and fails closed on anything
// but an explicit Good status.
func checkOCSPRevocation(leaf, issuer *x509.Certificate) error {
	reqBytes, err := ocsp.CreateRequest(leaf, issuer, nil)
	if err != nil {
		return &Error{Kind: SecurityError, Message: "failed to build OCSP request", Cause: err}
	}

	httpReq, err := http.NewRequest(http.MethodPost, leaf.OCSPServer[0], bytes.NewReader(reqBytes))
	if err != nil {
		return &Error{Kind: SecurityError, Message: "failed to build OCSP request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/ocsp-request")

	httpResp, err := (&http.Client{Timeout: ocspTimeout}).Do(httpReq)
	if err != nil {
		return &Error{Kind: SecurityError, Message: "OCSP responder unreachable", Cause: err}
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxOCSPResponseBytes))
	if err != nil {
		return &Error{Kind: SecurityError, Message: "failed to read OCSP response", Cause: err}
	}

	resp, err := ocsp.ParseResponseForCert(body, leaf, issuer)
	if err != nil {
		return &Error{Kind: SecurityError, Message: "failed to parse OCSP response", Cause: err}
	}
	if resp.Status != ocsp.Good {
		return &Error{Kind: SecurityError, Message: fmt.Sprintf("peer certificate failed OCSP revocation check, status %d", resp.Status)}
	}
	return nil
}
