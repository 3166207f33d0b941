package kerberos

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"time"

	krb5config "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/keytab"

	"github.com/openrpcrt/rpcrt/internal/rpcconfig"
)

// Provider manages Kerberos keytab, krb5.conf, and service principal state.
//
// It is the shared Kerberos resource the TryKerberos / RequireMutualAuthn
// security packages use to identify and, eventually, validate incoming
// tokens.
//
// Thread Safety: all methods are safe for concurrent use. The keytab can be
// hot-reloaded at runtime via ReloadKeytab without disrupting active calls.
type Provider struct {
	keytab           *keytab.Keytab
	krb5Conf         *krb5config.Config
	servicePrincipal string
	maxClockSkew     time.Duration
	keytabPath       string
	mu               sync.RWMutex
}

// NewProvider creates a Provider from configuration, loading the keytab
// and krb5.conf at startup.
func NewProvider(cfg *rpcconfig.KerberosConfig) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("kerberos config is nil")
	}
	if cfg.KeytabPath == "" {
		return nil, fmt.Errorf("kerberos keytab path not configured")
	}
	if cfg.ServicePrincipal == "" {
		return nil, fmt.Errorf("kerberos service principal not configured")
	}

	krb5ConfPath := cfg.Krb5ConfPath
	if krb5ConfPath == "" {
		krb5ConfPath = "/etc/krb5.conf"
	}

	kt, err := loadKeytab(cfg.KeytabPath)
	if err != nil {
		return nil, fmt.Errorf("load keytab %s: %w", cfg.KeytabPath, err)
	}

	krbCfg, err := loadKrb5Conf(krb5ConfPath)
	if err != nil {
		return nil, fmt.Errorf("load krb5.conf %s: %w", krb5ConfPath, err)
	}

	return &Provider{
		keytab:           kt,
		krb5Conf:         krbCfg,
		servicePrincipal: cfg.ServicePrincipal,
		maxClockSkew:     cfg.MaxClockSkew,
		keytabPath:       cfg.KeytabPath,
	}, nil
}

// Keytab returns the current keytab (thread-safe read).
func (p *Provider) Keytab() *keytab.Keytab {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.keytab
}

// ServicePrincipal returns the configured service principal name.
func (p *Provider) ServicePrincipal() string {
	return p.servicePrincipal
}

// MaxClockSkew returns the maximum allowed clock skew.
func (p *Provider) MaxClockSkew() time.Duration {
	return p.maxClockSkew
}

// Krb5Config returns the loaded Kerberos configuration.
func (p *Provider) Krb5Config() *krb5config.Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.krb5Conf
}

// ReloadKeytab re-reads the keytab file and atomically swaps it in. Meant
// to be called from internal/rpcconfig.Watcher's keytab-change callback.
func (p *Provider) ReloadKeytab() error {
	kt, err := loadKeytab(p.keytabPath)
	if err != nil {
		return fmt.Errorf("reload keytab %s: %w", p.keytabPath, err)
	}

	p.mu.Lock()
	p.keytab = kt
	p.mu.Unlock()

	return nil
}

// spnegoOID is the ASN.1 encoded OID for SPNEGO (1.3.6.1.5.5.2):
// OID tag (0x06), length (0x06), then the OID bytes.
var spnegoOID = []byte{0x06, 0x06, 0x2b, 0x06, 0x01, 0x05, 0x05, 0x02}

// CanHandle returns true if token looks like a SPNEGO or raw Kerberos
// AP-REQ token, based on its leading ASN.1 tag. This is a fast
// classification check, not full token validation.
func (p *Provider) CanHandle(token []byte) bool {
	if len(token) < 2 {
		return false
	}
	if token[0] == 0x60 && bytes.Contains(token, spnegoOID) {
		return true
	}
	return token[0] == 0x6E
}

// loadKeytab reads and parses a keytab file.
func loadKeytab(path string) (*keytab.Keytab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keytab file: %w", err)
	}

	kt := keytab.New()
	if err := kt.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("parse keytab: %w", err)
	}

	return kt, nil
}

// loadKrb5Conf reads and parses a Kerberos configuration file.
func loadKrb5Conf(path string) (*krb5config.Config, error) {
	cfg, err := krb5config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("parse krb5.conf: %w", err)
	}

	return cfg, nil
}
