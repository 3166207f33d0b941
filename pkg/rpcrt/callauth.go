package rpcrt

import (
	"context"
	"crypto/x509"

	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

// unixCredentialMetadataKey is the gRPC metadata key an RpcClient attaches
// its self-asserted AUTH_UNIX-style credential under, and the key dispatch
// reads it back from on the server side. The "-bin" suffix tells grpc-go to
// carry the value as raw bytes rather than a printable header.
const unixCredentialMetadataKey = "rpc-auth-unix-bin"

// tlsCallAuthInfo is the CallAuthInfo the SecureChannel security package
// resolves a call to: the TLS handshake gRPC's transport credentials already
// completed is itself the proof of identity, so there is nothing further to
// verify per call.
type tlsCallAuthInfo struct {
	cert *x509.Certificate
}

func (i *tlsCallAuthInfo) CallerIdentity() (Identity, error) {
	return Identity{Principal: i.cert.Subject.CommonName}, nil
}

func (i *tlsCallAuthInfo) EffectiveAuthLevel() AuthenticationLevel { return AuthenticationLevelPrivacy }

var _ CallAuthInfo = (*tlsCallAuthInfo)(nil)

// unixCallAuthInfo is the CallAuthInfo AuthenticationSecurityNone/NTLM/
// TryKerberos calls over ProtocolSequenceLocal resolve to: the caller's
// self-asserted AUTH_UNIX credential, trusted as-is because the
// Unix-domain-socket peer already authenticated the UID at the kernel level
// (see internal/rpcsec.UnixIdentity).
type unixCallAuthInfo struct {
	*UnixCredentialBindingHandle
	level AuthenticationLevel
}

func (i *unixCallAuthInfo) EffectiveAuthLevel() AuthenticationLevel { return i.level }

var _ CallAuthInfo = (*unixCallAuthInfo)(nil)

// resolveCallAuthInfo builds the CallAuthInfo for one dispatched call, based
// on the security package this server negotiated. SecureChannel reads the
// peer certificate gRPC's TLS transport credentials already validated;
// every other package reads the self-asserted Unix credential the client
// attached to the call's outgoing metadata.
func (s *RpcServer) resolveCallAuthInfo(ctx context.Context) (CallAuthInfo, error) {
	if s.authnSecurity == AuthenticationSecuritySecureChannel {
		p, ok := peer.FromContext(ctx)
		if !ok {
			return nil, &Error{Kind: SecurityError, Message: "no peer information available for SecureChannel call"}
		}
		tlsInfo, ok := p.AuthInfo.(credentials.TLSInfo)
		if !ok || len(tlsInfo.State.PeerCertificates) == 0 {
			return nil, &Error{Kind: SecurityError, Message: "SecureChannel call presented no peer certificate"}
		}
		return &tlsCallAuthInfo{cert: tlsInfo.State.PeerCertificates[0]}, nil
	}

	if s.protoSeq != ProtocolSequenceLocal {
		return nil, &Error{
			Kind:    SecurityError,
			Message: "no verifiable credential is available for this security package over a non-local, non-SecureChannel transport",
		}
	}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, &Error{Kind: SecurityError, Message: "call carries no credential metadata"}
	}
	values := md.Get(unixCredentialMetadataKey)
	if len(values) == 0 {
		return nil, &Error{Kind: SecurityError, Message: "call carries no Unix credential"}
	}

	handle := NewUnixCredentialBindingHandle([]byte(values[0]))
	if _, err := handle.CallerIdentity(); err != nil {
		return nil, err
	}
	return &unixCallAuthInfo{UnixCredentialBindingHandle: handle, level: s.authnLevel}, nil
}
