package kerberos

import (
	"fmt"

	"github.com/openrpcrt/rpcrt/pkg/rpcrt"
)

// StaticIdentity is one static-map entry: the local credential a Kerberos
// principal resolves to.
type StaticIdentity struct {
	UID uint32
	GID uint32
	SID string
}

// IdentityMappingConfig configures StaticMapper.
type IdentityMappingConfig struct {
	StaticMap  map[string]StaticIdentity
	DefaultUID uint32
	DefaultGID uint32
}

// IdentityMapper converts an authenticated Kerberos principal to the
// rpcrt.Identity a binding handle's ImpersonationScope will assume.
type IdentityMapper interface {
	MapPrincipal(principal, realm string) (rpcrt.Identity, error)
}

// StaticMapper implements IdentityMapper from a static configuration map,
// keyed by "principal@realm". Principals absent from the map get
// DefaultUID/DefaultGID. Suitable for small, fixed-membership deployments;
// an LDAP- or nsswitch-backed mapper would implement the same interface for
// anything larger.
type StaticMapper struct {
	staticMap  map[string]StaticIdentity
	defaultUID uint32
	defaultGID uint32
}

// NewStaticMapper creates a static identity mapper from configuration.
func NewStaticMapper(cfg *IdentityMappingConfig) *StaticMapper {
	staticMap := cfg.StaticMap
	if staticMap == nil {
		staticMap = make(map[string]StaticIdentity)
	}
	return &StaticMapper{
		staticMap:  staticMap,
		defaultUID: cfg.DefaultUID,
		defaultGID: cfg.DefaultGID,
	}
}

// MapPrincipal maps principal@realm to an rpcrt.Identity. Principals absent
// from the static map still resolve, to DefaultUID/DefaultGID, rather than
// failing the call outright.
func (m *StaticMapper) MapPrincipal(principal, realm string) (rpcrt.Identity, error) {
	key := fmt.Sprintf("%s@%s", principal, realm)

	if entry, ok := m.staticMap[key]; ok {
		return rpcrt.Identity{
			Principal: principal,
			UID:       entry.UID,
			GID:       entry.GID,
			SID:       entry.SID,
		}, nil
	}

	return rpcrt.Identity{
		Principal: principal,
		UID:       m.defaultUID,
		GID:       m.defaultGID,
	}, nil
}
