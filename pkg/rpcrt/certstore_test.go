package rpcrt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSelfSignedCert(t *testing.T, dir, filename, subject string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: subject},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(100 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	var buf []byte
	buf = append(buf, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})...)
	buf = append(buf, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})...)

	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), buf, 0o600))
}

func TestCertificateStoreFindBySubject(t *testing.T) {
	base := t.TempDir()
	store, err := OpenCertificateStore(base, StoreLocationCurrentUser, "demo")
	require.NoError(t, err)

	dir := filepath.Join(base, "CurrentUser", "demo")
	writeSelfSignedCert(t, dir, "peer.pem", "rpcrt-peer")

	ctx, err := store.FindBySubject("rpcrt-peer")
	require.NoError(t, err)
	require.NotNil(t, ctx)
	assert.Contains(t, ctx.Certificate.Subject.String(), "rpcrt-peer")
	ctx.Release()
}

func TestCertificateStoreFindBySubjectNotFound(t *testing.T) {
	base := t.TempDir()
	store, err := OpenCertificateStore(base, StoreLocationCurrentUser, "demo")
	require.NoError(t, err)

	ctx, err := store.FindBySubject("no-such-subject")
	require.NoError(t, err)
	assert.Nil(t, ctx)
}

func TestCertificateStoreCloseRejectsOutstandingContexts(t *testing.T) {
	base := t.TempDir()
	store, err := OpenCertificateStore(base, StoreLocationCurrentUser, "demo")
	require.NoError(t, err)

	dir := filepath.Join(base, "CurrentUser", "demo")
	writeSelfSignedCert(t, dir, "peer.pem", "rpcrt-peer")

	ctx, err := store.FindBySubject("rpcrt-peer")
	require.NoError(t, err)
	require.NotNil(t, ctx)

	err = store.Close()
	assert.Error(t, err)

	ctx.Release()
	assert.NoError(t, store.Close())
}

func TestCertificateContextReleaseIsIdempotent(t *testing.T) {
	base := t.TempDir()
	store, err := OpenCertificateStore(base, StoreLocationCurrentUser, "demo")
	require.NoError(t, err)

	dir := filepath.Join(base, "CurrentUser", "demo")
	writeSelfSignedCert(t, dir, "peer.pem", "rpcrt-peer")

	ctx, err := store.FindBySubject("rpcrt-peer")
	require.NoError(t, err)

	ctx.Release()
	ctx.Release()
	assert.NoError(t, store.Close())
}

func TestStoreLocationString(t *testing.T) {
	assert.Equal(t, "CurrentUser", StoreLocationCurrentUser.String())
	assert.Equal(t, "LocalMachine", StoreLocationLocalMachine.String())
}
