package rpcsec

import (
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // test constructs an NTLMv2 response the same way a real client does
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildNTLMAuthenticateMessage(t *testing.T, ntResponse []byte, domain, username, workstation string, flags NTLMFlag) []byte {
	t.Helper()

	domainBytes := encodeUTF16LE(domain)
	userBytes := encodeUTF16LE(username)
	wsBytes := encodeUTF16LE(workstation)

	offset := authBaseSize
	lmOff := offset
	ntOff := offset
	ntLen := len(ntResponse)
	offset += ntLen
	domainOff := offset
	offset += len(domainBytes)
	userOff := offset
	offset += len(userBytes)
	wsOff := offset
	offset += len(wsBytes)

	msg := make([]byte, offset)
	copy(msg[ntlmSignatureOffset:ntlmSignatureOffset+8], NTLMSignature)
	binary.LittleEndian.PutUint32(msg[ntlmMessageTypeOffset:ntlmMessageTypeOffset+4], uint32(NTLMAuthenticate))

	binary.LittleEndian.PutUint32(msg[authLmResponseOffOffset:authLmResponseOffOffset+4], uint32(lmOff))

	binary.LittleEndian.PutUint16(msg[authNtResponseLenOffset:authNtResponseLenOffset+2], uint16(ntLen))
	binary.LittleEndian.PutUint16(msg[authNtResponseMaxOffset:authNtResponseMaxOffset+2], uint16(ntLen))
	binary.LittleEndian.PutUint32(msg[authNtResponseOffOffset:authNtResponseOffOffset+4], uint32(ntOff))
	copy(msg[ntOff:ntOff+ntLen], ntResponse)

	binary.LittleEndian.PutUint16(msg[authDomainNameLenOffset:authDomainNameLenOffset+2], uint16(len(domainBytes)))
	binary.LittleEndian.PutUint16(msg[authDomainNameMaxOffset:authDomainNameMaxOffset+2], uint16(len(domainBytes)))
	binary.LittleEndian.PutUint32(msg[authDomainNameOffOffset:authDomainNameOffOffset+4], uint32(domainOff))
	copy(msg[domainOff:domainOff+len(domainBytes)], domainBytes)

	binary.LittleEndian.PutUint16(msg[authUserNameLenOffset:authUserNameLenOffset+2], uint16(len(userBytes)))
	binary.LittleEndian.PutUint16(msg[authUserNameMaxOffset:authUserNameMaxOffset+2], uint16(len(userBytes)))
	binary.LittleEndian.PutUint32(msg[authUserNameOffOffset:authUserNameOffOffset+4], uint32(userOff))
	copy(msg[userOff:userOff+len(userBytes)], userBytes)

	binary.LittleEndian.PutUint16(msg[authWorkstationLenOffset:authWorkstationLenOffset+2], uint16(len(wsBytes)))
	binary.LittleEndian.PutUint16(msg[authWorkstationMaxOffset:authWorkstationMaxOffset+2], uint16(len(wsBytes)))
	binary.LittleEndian.PutUint32(msg[authWorkstationOffOffset:authWorkstationOffOffset+4], uint32(wsOff))
	copy(msg[wsOff:wsOff+len(wsBytes)], wsBytes)

	binary.LittleEndian.PutUint32(msg[authNegotiateFlagsOffset:authNegotiateFlagsOffset+4], uint32(flags))

	return msg
}

func TestBuildNTLMChallengeProducesValidMessage(t *testing.T) {
	challenge, serverChallenge := BuildNTLMChallenge("SERVER01")

	assert.True(t, IsNTLMMessage(challenge))
	assert.Equal(t, NTLMChallenge, NTLMMessageTypeOf(challenge))
	assert.NotEqual(t, [8]byte{}, serverChallenge)
}

func TestIsNTLMMessageRejectsShortOrForeignData(t *testing.T) {
	assert.False(t, IsNTLMMessage([]byte{0x01, 0x02}))
	assert.False(t, IsNTLMMessage(make([]byte, 20)))
}

func TestNTLMv2HandshakeRoundTrip(t *testing.T) {
	_, serverChallenge := BuildNTLMChallenge("SERVER01")

	ntHash := ComputeNTHash("Password1")
	ntlmv2Hash := ComputeNTLMv2Hash(ntHash, "alice", "EXAMPLE")

	// A minimal NTLMv2 ClientBlob: resp type/hi-resp type, reserved fields,
	// an 8-byte timestamp, an 8-byte client challenge, and the AvEOL
	// terminator. Its exact contents don't matter to validation, only that
	// NTProofStr is HMAC-MD5(serverChallenge || clientBlob) under the
	// NTLMv2 hash.
	clientBlob := make([]byte, 28)
	clientBlob[0], clientBlob[1] = 0x01, 0x01

	mac := hmac.New(md5.New, ntlmv2Hash[:])
	mac.Write(serverChallenge[:])
	mac.Write(clientBlob)
	ntProofStr := mac.Sum(nil)

	ntResponse := append(append([]byte{}, ntProofStr...), clientBlob...)

	authMsg := buildNTLMAuthenticateMessage(t, ntResponse, "EXAMPLE", "alice", "WORKSTATION", FlagUnicode|FlagExtendedSecurity)

	parsed, err := ParseNTLMAuthenticate(authMsg)
	require.NoError(t, err)
	assert.Equal(t, "alice", parsed.Username)
	assert.Equal(t, "EXAMPLE", parsed.Domain)
	assert.Equal(t, "WORKSTATION", parsed.Workstation)
	assert.False(t, parsed.IsAnonymous)

	sessionKey, err := ValidateNTLMv2Response(ntHash, parsed.Username, parsed.Domain, serverChallenge, parsed.NtChallengeResponse)
	require.NoError(t, err)
	assert.NotEqual(t, [16]byte{}, sessionKey)
}

func TestValidateNTLMv2ResponseRejectsWrongPassword(t *testing.T) {
	_, serverChallenge := BuildNTLMChallenge("SERVER01")

	correctHash := ComputeNTHash("Password1")
	wrongHash := ComputeNTHash("WrongPassword")

	ntlmv2Hash := ComputeNTLMv2Hash(correctHash, "alice", "EXAMPLE")
	clientBlob := make([]byte, 28)
	mac := hmac.New(md5.New, ntlmv2Hash[:])
	mac.Write(serverChallenge[:])
	mac.Write(clientBlob)
	ntProofStr := mac.Sum(nil)
	ntResponse := append(append([]byte{}, ntProofStr...), clientBlob...)

	_, err := ValidateNTLMv2Response(wrongHash, "alice", "EXAMPLE", serverChallenge, ntResponse)
	assert.Error(t, err)
}

func TestValidateNTLMv2ResponseRejectsShortResponse(t *testing.T) {
	ntHash := ComputeNTHash("Password1")
	_, serverChallenge := BuildNTLMChallenge("SERVER01")

	_, err := ValidateNTLMv2Response(ntHash, "alice", "EXAMPLE", serverChallenge, []byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestDeriveSigningKeyWithoutKeyExch(t *testing.T) {
	sessionBaseKey := [16]byte{1, 2, 3, 4}
	got := DeriveSigningKey(sessionBaseKey, 0, nil)
	assert.Equal(t, sessionBaseKey, got)
}

func TestDeriveSigningKeyWithKeyExch(t *testing.T) {
	sessionBaseKey := [16]byte{1, 2, 3, 4}
	encryptedKey := make([]byte, 16)
	for i := range encryptedKey {
		encryptedKey[i] = byte(i)
	}

	got := DeriveSigningKey(sessionBaseKey, FlagKeyExch, encryptedKey)
	assert.NotEqual(t, sessionBaseKey, got)
}

func TestComputeNTHashIsDeterministic(t *testing.T) {
	a := ComputeNTHash("hunter2")
	b := ComputeNTHash("hunter2")
	assert.Equal(t, a, b)

	c := ComputeNTHash("different")
	assert.NotEqual(t, a, c)
}
