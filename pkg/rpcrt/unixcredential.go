package rpcrt

import "github.com/openrpcrt/rpcrt/internal/rpcsec"

// UnixCredentialBindingHandle implements BindingHandle over a raw AUTH_UNIX
// credential blob, the caller identity a local-transport call carries when
// AuthenticationSecurityNone is in effect (the Unix-domain-socket peer
// already authenticated the UID at the kernel level, so the credential is
// trusted as-is rather than challenged).
type UnixCredentialBindingHandle struct {
	raw []byte
}

// NewUnixCredentialBindingHandle wraps a raw AUTH_UNIX credential blob, as
// received on the wire, for lazy parsing.
func NewUnixCredentialBindingHandle(raw []byte) *UnixCredentialBindingHandle {
	return &UnixCredentialBindingHandle{raw: raw}
}

// CallerIdentity parses the wrapped credential and returns the Identity
// ImpersonationScope assumes.
func (h *UnixCredentialBindingHandle) CallerIdentity() (Identity, error) {
	cred, err := rpcsec.ParseUnixCredential(h.raw)
	if err != nil {
		return Identity{}, &Error{Kind: SecurityError, Message: "failed to parse Unix credential", Cause: err}
	}
	return Identity{Principal: cred.MachineName, UID: cred.UID, GID: cred.GID}, nil
}

var _ BindingHandle = (*UnixCredentialBindingHandle)(nil)
