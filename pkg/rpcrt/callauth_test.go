package rpcrt

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"

	"github.com/openrpcrt/rpcrt/internal/rpcsec"
)

func newLocalServer(t *testing.T, authnLevel AuthenticationLevel) *RpcServer {
	t.Helper()
	s, err := NewRpcServer(ProtocolSequenceLocal, "local-svc", authnLevel, ServerOptions{
		ListenAddress: "/tmp/unused.sock",
	})
	require.NoError(t, err)
	return s
}

func TestResolveCallAuthInfoLocalAcceptsUnixCredentialMetadata(t *testing.T) {
	s := newLocalServer(t, AuthenticationLevelIntegrity)
	raw := rpcsec.BuildUnixCredential("workstation", 1001, 1001, nil)
	md := metadata.Pairs(unixCredentialMetadataKey, string(raw))
	ctx := metadata.NewIncomingContext(context.Background(), md)

	info, err := s.resolveCallAuthInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, AuthenticationLevelIntegrity, info.EffectiveAuthLevel())

	identity, err := info.CallerIdentity()
	require.NoError(t, err)
	assert.Equal(t, "workstation", identity.Principal)
	assert.Equal(t, uint32(1001), identity.UID)
}

func TestResolveCallAuthInfoLocalRejectsMissingMetadata(t *testing.T) {
	s := newLocalServer(t, AuthenticationLevelIntegrity)
	_, err := s.resolveCallAuthInfo(context.Background())
	require.Error(t, err)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, SecurityError, rpcErr.Kind)
}

func TestResolveCallAuthInfoLocalRejectsMalformedCredential(t *testing.T) {
	s := newLocalServer(t, AuthenticationLevelIntegrity)
	md := metadata.Pairs(unixCredentialMetadataKey, "\x01\x02")
	ctx := metadata.NewIncomingContext(context.Background(), md)

	_, err := s.resolveCallAuthInfo(ctx)
	require.Error(t, err)
}

func TestResolveCallAuthInfoRejectsNonLocalWithoutSecureChannel(t *testing.T) {
	store, err := NewRpcServer(ProtocolSequenceTCP, "tcp-svc", AuthenticationLevelIntegrity, ServerOptions{
		ListenAddress: "127.0.0.1:0",
	})
	require.NoError(t, err)

	raw := rpcsec.BuildUnixCredential("workstation", 1001, 1001, nil)
	md := metadata.Pairs(unixCredentialMetadataKey, string(raw))
	ctx := metadata.NewIncomingContext(context.Background(), md)

	_, err = store.resolveCallAuthInfo(ctx)
	require.Error(t, err)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, SecurityError, rpcErr.Kind)
}

func TestResolveCallAuthInfoSecureChannelRequiresPeerCertificate(t *testing.T) {
	s, err := NewRpcServer(ProtocolSequenceTCP, "tls-svc", AuthenticationLevelPrivacy, ServerOptions{
		ListenAddress: "127.0.0.1:0",
	})
	require.NoError(t, err)
	s.authnSecurity = AuthenticationSecuritySecureChannel

	_, err = s.resolveCallAuthInfo(context.Background())
	require.Error(t, err)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, SecurityError, rpcErr.Kind)
}

func TestWithCallCredentialSkippedForAuthenticationLevelNone(t *testing.T) {
	c := newTestClient(t)
	ctx := c.withCallCredential(context.Background())
	_, ok := metadata.FromOutgoingContext(ctx)
	assert.False(t, ok)
}

func TestWithCallCredentialSkippedForSecureChannel(t *testing.T) {
	c := newTestClient(t)
	c.authnLevel = AuthenticationLevelPrivacy
	c.authnSecurity = AuthenticationSecuritySecureChannel
	ctx := c.withCallCredential(context.Background())
	_, ok := metadata.FromOutgoingContext(ctx)
	assert.False(t, ok)
}

func TestWithCallCredentialAttachesUnixCredential(t *testing.T) {
	c := newTestClient(t)
	c.authnLevel = AuthenticationLevelIntegrity
	c.authnSecurity = AuthenticationSecurityNTLM
	ctx := c.withCallCredential(context.Background())

	md, ok := metadata.FromOutgoingContext(ctx)
	require.True(t, ok)
	values := md.Get(unixCredentialMetadataKey)
	require.Len(t, values, 1)

	identity, err := rpcsec.ParseUnixCredential([]byte(values[0]))
	require.NoError(t, err)
	assert.Equal(t, uint32(os.Getuid()), identity.UID)
	assert.Equal(t, uint32(os.Getgid()), identity.GID)
}
