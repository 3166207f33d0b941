package rpcsec

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildUnixCredential(t *testing.T, stamp uint32, machineName string, uid, gid uint32, gids []uint32) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, stamp))

	nameBytes := []byte(machineName)
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(len(nameBytes))))
	buf.Write(nameBytes)
	padding := (4 - (len(nameBytes) % 4)) % 4
	buf.Write(make([]byte, padding))

	require.NoError(t, binary.Write(&buf, binary.BigEndian, uid))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, gid))

	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(len(gids))))
	for _, g := range gids {
		require.NoError(t, binary.Write(&buf, binary.BigEndian, g))
	}

	return buf.Bytes()
}

func TestParseUnixCredentialRoundTrip(t *testing.T) {
	raw := buildUnixCredential(t, 42, "workstation", 1001, 1001, []uint32{27, 100})

	cred, err := ParseUnixCredential(raw)
	require.NoError(t, err)

	assert.Equal(t, uint32(42), cred.Stamp)
	assert.Equal(t, "workstation", cred.MachineName)
	assert.Equal(t, uint32(1001), cred.UID)
	assert.Equal(t, uint32(1001), cred.GID)
	assert.Equal(t, []uint32{27, 100}, cred.GIDs)
}

func TestParseUnixCredentialEmptyMachineName(t *testing.T) {
	raw := buildUnixCredential(t, 1, "", 0, 0, nil)

	cred, err := ParseUnixCredential(raw)
	require.NoError(t, err)
	assert.Equal(t, "", cred.MachineName)
	assert.Empty(t, cred.GIDs)
}

func TestParseUnixCredentialRejectsEmptyBody(t *testing.T) {
	_, err := ParseUnixCredential(nil)
	assert.Error(t, err)
}

func TestParseUnixCredentialRejectsTruncatedBody(t *testing.T) {
	raw := buildUnixCredential(t, 1, "host", 1, 1, []uint32{1, 2})
	_, err := ParseUnixCredential(raw[:len(raw)-4])
	assert.Error(t, err)
}

func TestParseUnixCredentialRejectsOversizedMachineName(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(1)))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(300)))

	_, err := ParseUnixCredential(buf.Bytes())
	assert.Error(t, err)
}
