// Package rpcrt implements a DCE/RPC-flavored client/server runtime wrapper:
// explicit-binding clients with a retry/reconnect loop, a singleton server
// with a registration/listen state machine, security-package negotiation,
// impersonation scoping, and a status-to-error taxonomy. Marshalling, logging
// mechanics, and the wire transport itself are all external collaborators
// consumed through narrow interfaces.
package rpcrt

import "fmt"

// ProtocolSequence selects the transport a binding handle is composed over.
type ProtocolSequence int

const (
	// ProtocolSequenceLocal is on-host IPC (a local socket or named pipe).
	ProtocolSequenceLocal ProtocolSequence = iota
	// ProtocolSequenceTCP is a routable TCP/IP transport.
	ProtocolSequenceTCP
)

func (p ProtocolSequence) String() string {
	switch p {
	case ProtocolSequenceLocal:
		return "Local"
	case ProtocolSequenceTCP:
		return "TCP"
	default:
		return fmt.Sprintf("ProtocolSequence(%d)", int(p))
	}
}

// AuthenticationLevel is ordered: None < Integrity < Privacy.
type AuthenticationLevel int

const (
	AuthenticationLevelNone AuthenticationLevel = iota
	AuthenticationLevelIntegrity
	AuthenticationLevelPrivacy
)

func (l AuthenticationLevel) String() string {
	switch l {
	case AuthenticationLevelNone:
		return "None"
	case AuthenticationLevelIntegrity:
		return "Integrity"
	case AuthenticationLevelPrivacy:
		return "Privacy"
	default:
		return fmt.Sprintf("AuthenticationLevel(%d)", int(l))
	}
}

// Less reports whether l is strictly weaker than other. Used by the server's
// authorization callback, which denies a call iff its level is strictly
// below the required level (equal levels are allowed).
func (l AuthenticationLevel) Less(other AuthenticationLevel) bool {
	return l < other
}

// AuthenticationSecurity selects the security package a client requests.
type AuthenticationSecurity int

const (
	// AuthenticationSecurityNTLM always uses NTLM, never Kerberos.
	AuthenticationSecurityNTLM AuthenticationSecurity = iota
	// AuthenticationSecurityTryKerberos negotiates (Negotiate), falling back
	// to NTLM if Kerberos/the directory service is unavailable.
	AuthenticationSecurityTryKerberos
	// AuthenticationSecurityRequireMutualAuthn demands the server prove its
	// identity; fails closed if mutual authentication cannot be arranged.
	AuthenticationSecurityRequireMutualAuthn
	// AuthenticationSecuritySecureChannel is TLS with X.509 certificates.
	// Only compatible with ProtocolSequenceTCP.
	AuthenticationSecuritySecureChannel
)

func (s AuthenticationSecurity) String() string {
	switch s {
	case AuthenticationSecurityNTLM:
		return "NTLM"
	case AuthenticationSecurityTryKerberos:
		return "TryKerberos"
	case AuthenticationSecurityRequireMutualAuthn:
		return "RequireMutualAuthn"
	case AuthenticationSecuritySecureChannel:
		return "SecureChannel"
	default:
		return fmt.Sprintf("AuthenticationSecurity(%d)", int(s))
	}
}

// ImpersonationLevel determines what the server may do with the client's
// identity once acquired.
type ImpersonationLevel int

const (
	ImpersonationLevelDefault ImpersonationLevel = iota
	ImpersonationLevelIdentify
	ImpersonationLevelImpersonate
	ImpersonationLevelDelegate
)

func (l ImpersonationLevel) String() string {
	switch l {
	case ImpersonationLevelDefault:
		return "Default"
	case ImpersonationLevelIdentify:
		return "Identify"
	case ImpersonationLevelImpersonate:
		return "Impersonate"
	case ImpersonationLevelDelegate:
		return "Delegate"
	default:
		return fmt.Sprintf("ImpersonationLevel(%d)", int(l))
	}
}

// IdentityTrackingMode records how a negotiated identity should be
// re-validated across calls: Static identities are resolved once, Dynamic
// ones are re-resolved on every call (a short-lived local peer may change).
type IdentityTrackingMode int

const (
	IdentityTrackingStatic IdentityTrackingMode = iota
	IdentityTrackingDynamic
)

// StoreLocation enumerates the registry area a CertificateStore is opened
// against, mirroring the handful of well-known Schannel store locations.
type StoreLocation int

const (
	StoreLocationCurrentUser StoreLocation = iota
	StoreLocationLocalMachine
)

func (s StoreLocation) String() string {
	switch s {
	case StoreLocationCurrentUser:
		return "CurrentUser"
	case StoreLocationLocalMachine:
		return "LocalMachine"
	default:
		return fmt.Sprintf("StoreLocation(%d)", int(s))
	}
}

// CertInfo describes which certificate a ChannelCredentials should be built
// from. Read-only after construction.
type CertInfo struct {
	StoreLocation    StoreLocation
	StoreName        string
	Subject          string
	StrongerSecurity bool
}
