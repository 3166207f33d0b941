package rpcrt

import (
	"context"
	"errors"
	"net"
	"time"
)

// DirectoryProbe detects whether a directory service (the thing that would
// resolve a Kerberos realm/SPN) is reachable, so SecurityNegotiator can
// decide whether Kerberos/Negotiate is viable.
type DirectoryProbe struct {
	// Realm is looked up via an SRV record (_kerberos._tcp.<realm>) when
	// Resolver is nil; tests typically set Dial instead to avoid real DNS.
	Realm    string
	Resolver *net.Resolver
	// Dial, when set, overrides the SRV lookup with a direct dial check
	// (used by tests and by callers who already know the KDC address).
	Dial    func(ctx context.Context) error
	Timeout time.Duration
}

// NewDirectoryProbe returns a probe configured for realm, using the default
// resolver and a 2-second timeout.
func NewDirectoryProbe(realm string) *DirectoryProbe {
	return &DirectoryProbe{Realm: realm, Timeout: 2 * time.Second}
}

// Detect returns true if binding to the domain service succeeds, false for
// the well-known "no such domain" condition (here: DNS NXDOMAIN / no SRV
// records), and an error for any other classification. isClient is accepted
// for interface symmetry with the original signature; detection is
// identical for both roles.
func (p *DirectoryProbe) Detect(_ context.Context, isClient bool) (bool, error) {
	_ = isClient
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if p.Dial != nil {
		if err := p.Dial(ctx); err != nil {
			if isNoSuchDomain(err) {
				return false, nil
			}
			return false, &Error{Kind: ConfigurationError, Message: "directory probe failed", Cause: err}
		}
		return true, nil
	}

	resolver := p.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	_, addrs, err := resolver.LookupSRV(ctx, "kerberos", "tcp", p.Realm)
	if err != nil {
		if isNoSuchDomain(err) {
			return false, nil
		}
		return false, &Error{Kind: ConfigurationError, Message: "directory probe failed", Cause: err}
	}
	if len(addrs) == 0 {
		return false, nil
	}
	return true, nil
}

func isNoSuchDomain(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsNotFound
	}
	return false
}
