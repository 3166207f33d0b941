// Package rpcsec implements the two concrete authentication security
// packages a negotiator can select for AuthenticationSecurityNTLM and
// AuthenticationSecurityRequireMutualAuthn/TryKerberos/SecureChannel: NTLM
// challenge-response per [MS-NLMP], and RPCSEC_GSS integrity/privacy wrap
// per RFC 2203/4121. Callers reach this package only through
// pkg/rpcrt/negotiator.go; nothing here knows about binding handles,
// interface UUIDs, or server state.
package rpcsec

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // HMAC-MD5 is mandated by [MS-NLMP] for NTLMv2
	"crypto/rand"
	"crypto/rc4" //nolint:gosec // RC4 only wraps the session key for KEY_EXCH, not message data
	"encoding/binary"
	"os"
	"strings"
	"time"
	"unicode/utf16"

	"golang.org/x/crypto/md4" //nolint:staticcheck // MD4 is mandated by [MS-NLMP] 3.3.1
)

// =============================================================================
// NTLM Message Types
// =============================================================================

// NTLMMessageType identifies the three messages in the NTLM handshake.
// [MS-NLMP] Section 2.2.1
type NTLMMessageType uint32

const (
	NTLMNegotiate    NTLMMessageType = 1
	NTLMChallenge    NTLMMessageType = 2
	NTLMAuthenticate NTLMMessageType = 3
)

// NTLMSignature is the 8-byte signature that identifies NTLM messages.
var NTLMSignature = []byte{'N', 'T', 'L', 'M', 'S', 'S', 'P', 0}

const (
	ntlmSignatureOffset   = 0
	ntlmMessageTypeOffset = 8
	ntlmHeaderSize        = 12
)

// NTLM Type 2 (CHALLENGE) message offsets. [MS-NLMP] Section 2.2.1.2
const (
	challengeTargetNameLenOffset = 12
	challengeTargetNameMaxOffset = 14
	challengeTargetNameOffOffset = 16
	challengeFlagsOffset         = 20
	challengeServerChalOffset    = 24
	challengeReservedOffset      = 32
	challengeTargetInfoLenOffset = 40
	challengeTargetInfoMaxOffset = 42
	challengeTargetInfoOffOffset = 44
	challengeVersionOffset       = 48
	challengeBaseSize            = 56
)

// NTLM Type 3 (AUTHENTICATE) message offsets. [MS-NLMP] Section 2.2.1.3
const (
	authLmResponseLenOffset          = 12
	authLmResponseMaxOffset          = 14
	authLmResponseOffOffset          = 16
	authNtResponseLenOffset          = 20
	authNtResponseMaxOffset          = 22
	authNtResponseOffOffset          = 24
	authDomainNameLenOffset          = 28
	authDomainNameMaxOffset          = 30
	authDomainNameOffOffset          = 32
	authUserNameLenOffset            = 36
	authUserNameMaxOffset            = 38
	authUserNameOffOffset            = 40
	authWorkstationLenOffset         = 44
	authWorkstationMaxOffset         = 46
	authWorkstationOffOffset         = 48
	authEncryptedRandomSessionKeyLen = 52
	authEncryptedRandomSessionKeyMax = 54
	authEncryptedRandomSessionKeyOff = 56
	authNegotiateFlagsOffset         = 60
	authBaseSize                     = 64
)

const serverChallengeSize = 8

// =============================================================================
// NTLM Negotiate Flags
// =============================================================================

// NTLMFlag controls authentication behavior and capabilities exchanged in
// the Type 1, Type 2, and Type 3 messages. [MS-NLMP] Section 2.2.2.5
type NTLMFlag uint32

const (
	FlagUnicode             NTLMFlag = 0x00000001
	FlagOEM                 NTLMFlag = 0x00000002
	FlagRequestTarget       NTLMFlag = 0x00000004
	FlagSign                NTLMFlag = 0x00000010
	FlagSeal                NTLMFlag = 0x00000020
	FlagLMKey               NTLMFlag = 0x00000080
	FlagNTLM                NTLMFlag = 0x00000200
	FlagAnonymous           NTLMFlag = 0x00000800
	FlagDomainSupplied      NTLMFlag = 0x00001000
	FlagWorkstationSupplied NTLMFlag = 0x00002000
	FlagAlwaysSign          NTLMFlag = 0x00008000
	FlagTargetTypeDomain    NTLMFlag = 0x00010000
	FlagTargetTypeServer    NTLMFlag = 0x00020000
	FlagExtendedSecurity    NTLMFlag = 0x00080000
	FlagTargetInfo          NTLMFlag = 0x00800000
	FlagVersion             NTLMFlag = 0x02000000
	Flag128                 NTLMFlag = 0x20000000
	// FlagKeyExch: when set, the client generates a random session key
	// (ExportedSessionKey) and sends it RC4-encrypted under SessionBaseKey
	// in EncryptedRandomSessionKey; ExportedSessionKey becomes the signing
	// key instead of SessionBaseKey.
	FlagKeyExch NTLMFlag = 0x40000000
	Flag56      NTLMFlag = 0x80000000
)

// =============================================================================
// AV_PAIR Constants (TargetInfo Structure)
// =============================================================================

// AvID represents AV_PAIR attribute IDs for the TargetInfo field.
// [MS-NLMP] Section 2.2.2.1
type AvID uint16

const (
	AvEOL             AvID = 0x0000
	AvNbComputerName  AvID = 0x0001
	AvNbDomainName    AvID = 0x0002
	AvDnsComputerName AvID = 0x0003
	AvDnsDomainName   AvID = 0x0004
	AvTimestamp       AvID = 0x0007
)

// IsNTLMMessage reports whether buf starts with the NTLMSSP signature.
func IsNTLMMessage(buf []byte) bool {
	if len(buf) < ntlmHeaderSize {
		return false
	}
	return bytes.Equal(buf[ntlmSignatureOffset:ntlmSignatureOffset+8], NTLMSignature)
}

// NTLMMessageTypeOf returns the message type, or 0 if buf is too short or
// lacks a valid signature.
func NTLMMessageTypeOf(buf []byte) NTLMMessageType {
	if len(buf) < ntlmHeaderSize {
		return 0
	}
	return NTLMMessageType(binary.LittleEndian.Uint32(buf[ntlmMessageTypeOffset : ntlmMessageTypeOffset+4]))
}

// BuildNTLMChallenge creates an NTLM Type 2 (CHALLENGE) message advertising
// realm as the TargetName/TargetInfo NetBIOS and DNS computer name. Returns
// the message and the 8-byte server challenge, which the caller must retain
// to validate the client's Type 3 response.
// [MS-NLMP] Section 2.2.1.2
func BuildNTLMChallenge(realm string) (message []byte, serverChallenge [8]byte) {
	challenge := make([]byte, serverChallengeSize)
	_, _ = rand.Read(challenge)
	copy(serverChallenge[:], challenge)

	hostname := realm
	if hostname == "" {
		hostname, _ = os.Hostname()
	}
	if hostname == "" {
		hostname = "RPCRT"
	}
	targetName := encodeUTF16LE(strings.ToUpper(hostname))

	flags := FlagUnicode |
		FlagRequestTarget |
		FlagNTLM |
		FlagSign |
		FlagAlwaysSign |
		FlagTargetTypeServer |
		FlagExtendedSecurity |
		FlagTargetInfo |
		FlagKeyExch |
		Flag128 |
		Flag56

	targetInfo := buildTargetInfo(hostname)

	targetNameOffset := challengeBaseSize
	targetInfoOffset := targetNameOffset + len(targetName)

	msg := make([]byte, targetInfoOffset+len(targetInfo))

	copy(msg[ntlmSignatureOffset:ntlmSignatureOffset+8], NTLMSignature)
	binary.LittleEndian.PutUint32(msg[ntlmMessageTypeOffset:ntlmMessageTypeOffset+4], uint32(NTLMChallenge))

	binary.LittleEndian.PutUint16(msg[challengeTargetNameLenOffset:challengeTargetNameLenOffset+2], uint16(len(targetName)))
	binary.LittleEndian.PutUint16(msg[challengeTargetNameMaxOffset:challengeTargetNameMaxOffset+2], uint16(len(targetName)))
	binary.LittleEndian.PutUint32(msg[challengeTargetNameOffOffset:challengeTargetNameOffOffset+4], uint32(targetNameOffset))

	binary.LittleEndian.PutUint32(msg[challengeFlagsOffset:challengeFlagsOffset+4], uint32(flags))

	copy(msg[challengeServerChalOffset:challengeServerChalOffset+8], challenge)
	// Reserved at offset 32: zero from make().

	binary.LittleEndian.PutUint16(msg[challengeTargetInfoLenOffset:challengeTargetInfoLenOffset+2], uint16(len(targetInfo)))
	binary.LittleEndian.PutUint16(msg[challengeTargetInfoMaxOffset:challengeTargetInfoMaxOffset+2], uint16(len(targetInfo)))
	binary.LittleEndian.PutUint32(msg[challengeTargetInfoOffOffset:challengeTargetInfoOffOffset+4], uint32(targetInfoOffset))
	// Version at offset 48: left zero (optional).

	copy(msg[targetNameOffset:], targetName)
	copy(msg[targetInfoOffset:], targetInfo)

	return msg, serverChallenge
}

func buildTargetInfo(hostname string) []byte {
	domain := "WORKGROUP"
	nbName := strings.ToUpper(hostname)
	dnsName := strings.ToLower(hostname)

	nbDomainBytes := encodeUTF16LE(domain)
	nbComputerBytes := encodeUTF16LE(nbName)
	dnsComputerBytes := encodeUTF16LE(dnsName)
	dnsDomainBytes := encodeUTF16LE("local")

	// Windows FILETIME: 100ns intervals since 1601-01-01. Go epoch offset
	// in the same units is 116444736000000000.
	const epochDiff = 116444736000000000
	ft := uint64(time.Now().UnixNano()/100) + epochDiff
	timestampBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(timestampBytes, ft)

	var buf []byte
	buf = append(buf, buildAvPair(AvNbDomainName, nbDomainBytes)...)
	buf = append(buf, buildAvPair(AvNbComputerName, nbComputerBytes)...)
	buf = append(buf, buildAvPair(AvDnsComputerName, dnsComputerBytes)...)
	buf = append(buf, buildAvPair(AvDnsDomainName, dnsDomainBytes)...)
	buf = append(buf, buildAvPair(AvTimestamp, timestampBytes)...)
	buf = append(buf, 0x00, 0x00, 0x00, 0x00) // AvEOL terminator
	return buf
}

func buildAvPair(id AvID, value []byte) []byte {
	pair := make([]byte, 4+len(value))
	binary.LittleEndian.PutUint16(pair[0:2], uint16(id))
	binary.LittleEndian.PutUint16(pair[2:4], uint16(len(value)))
	copy(pair[4:], value)
	return pair
}

func encodeUTF16LE(s string) []byte {
	encoded := utf16.Encode([]rune(s))
	b := make([]byte, len(encoded)*2)
	for i, v := range encoded {
		binary.LittleEndian.PutUint16(b[i*2:], v)
	}
	return b
}

// =============================================================================
// NTLM Authenticate Message Parsing
// =============================================================================

// NTLMAuthenticateMessage holds the parsed fields of an NTLM Type 3 message.
// [MS-NLMP] Section 2.2.1.3
type NTLMAuthenticateMessage struct {
	LmChallengeResponse       []byte
	NtChallengeResponse       []byte
	Domain                    string
	Username                  string
	Workstation               string
	NegotiateFlags            NTLMFlag
	EncryptedRandomSessionKey []byte
	IsAnonymous               bool
}

// ParseNTLMAuthenticate parses an NTLM Type 3 (AUTHENTICATE) message.
// [MS-NLMP] Section 2.2.1.3
func ParseNTLMAuthenticate(buf []byte) (*NTLMAuthenticateMessage, error) {
	if len(buf) < authBaseSize {
		return nil, ErrMessageTooShort
	}
	if !IsNTLMMessage(buf) {
		return nil, ErrInvalidSignature
	}
	if NTLMMessageTypeOf(buf) != NTLMAuthenticate {
		return nil, ErrWrongMessageType
	}

	msg := &NTLMAuthenticateMessage{}
	msg.NegotiateFlags = NTLMFlag(binary.LittleEndian.Uint32(buf[authNegotiateFlagsOffset : authNegotiateFlagsOffset+4]))
	msg.IsAnonymous = (msg.NegotiateFlags & FlagAnonymous) != 0

	lmLen := binary.LittleEndian.Uint16(buf[authLmResponseLenOffset : authLmResponseLenOffset+2])
	lmOff := binary.LittleEndian.Uint32(buf[authLmResponseOffOffset : authLmResponseOffOffset+4])
	if lmLen > 0 && int(lmOff)+int(lmLen) <= len(buf) {
		msg.LmChallengeResponse = append([]byte(nil), buf[lmOff:lmOff+uint32(lmLen)]...)
	}

	ntLen := binary.LittleEndian.Uint16(buf[authNtResponseLenOffset : authNtResponseLenOffset+2])
	ntOff := binary.LittleEndian.Uint32(buf[authNtResponseOffOffset : authNtResponseOffOffset+4])
	if ntLen > 0 && int(ntOff)+int(ntLen) <= len(buf) {
		msg.NtChallengeResponse = append([]byte(nil), buf[ntOff:ntOff+uint32(ntLen)]...)
	}

	isUnicode := (msg.NegotiateFlags & FlagUnicode) != 0

	domainLen := binary.LittleEndian.Uint16(buf[authDomainNameLenOffset : authDomainNameLenOffset+2])
	domainOff := binary.LittleEndian.Uint32(buf[authDomainNameOffOffset : authDomainNameOffOffset+4])
	if domainLen > 0 && int(domainOff)+int(domainLen) <= len(buf) {
		msg.Domain = decodeNTLMString(buf[domainOff:domainOff+uint32(domainLen)], isUnicode)
	}

	userLen := binary.LittleEndian.Uint16(buf[authUserNameLenOffset : authUserNameLenOffset+2])
	userOff := binary.LittleEndian.Uint32(buf[authUserNameOffOffset : authUserNameOffOffset+4])
	if userLen > 0 && int(userOff)+int(userLen) <= len(buf) {
		msg.Username = decodeNTLMString(buf[userOff:userOff+uint32(userLen)], isUnicode)
	}

	wsLen := binary.LittleEndian.Uint16(buf[authWorkstationLenOffset : authWorkstationLenOffset+2])
	wsOff := binary.LittleEndian.Uint32(buf[authWorkstationOffOffset : authWorkstationOffOffset+4])
	if wsLen > 0 && int(wsOff)+int(wsLen) <= len(buf) {
		msg.Workstation = decodeNTLMString(buf[wsOff:wsOff+uint32(wsLen)], isUnicode)
	}

	keyLen := binary.LittleEndian.Uint16(buf[authEncryptedRandomSessionKeyLen : authEncryptedRandomSessionKeyLen+2])
	keyOff := binary.LittleEndian.Uint32(buf[authEncryptedRandomSessionKeyOff : authEncryptedRandomSessionKeyOff+4])
	if keyLen > 0 && int(keyOff)+int(keyLen) <= len(buf) {
		msg.EncryptedRandomSessionKey = append([]byte(nil), buf[keyOff:keyOff+uint32(keyLen)]...)
	}

	return msg, nil
}

func decodeNTLMString(buf []byte, isUnicode bool) string {
	if isUnicode {
		if len(buf)%2 != 0 {
			buf = buf[:len(buf)-1]
		}
		runes := make([]rune, len(buf)/2)
		for i := 0; i < len(buf); i += 2 {
			runes[i/2] = rune(binary.LittleEndian.Uint16(buf[i : i+2]))
		}
		return string(runes)
	}
	return string(buf)
}

// =============================================================================
// NTLM Errors
// =============================================================================

type ntlmError string

func (e ntlmError) Error() string { return string(e) }

const (
	ErrMessageTooShort      ntlmError = "rpcsec/ntlm: message too short"
	ErrInvalidSignature     ntlmError = "rpcsec/ntlm: invalid signature"
	ErrWrongMessageType     ntlmError = "rpcsec/ntlm: wrong message type"
	ErrAuthenticationFailed ntlmError = "rpcsec/ntlm: authentication failed"
	ErrResponseTooShort     ntlmError = "rpcsec/ntlm: response too short"
)

// =============================================================================
// NTLMv2 Authentication
// =============================================================================

// ComputeNTHash computes the NT hash from a password: MD4(UTF16LE(password)).
// This is the fundamental credential NTLM authentication is built on and
// should be stored (if at all) with the same care as the password itself.
// [MS-NLMP] Section 3.3.1
func ComputeNTHash(password string) [16]byte {
	utf16Password := encodeUTF16LE(password)
	sum := md4.New()
	sum.Write(utf16Password)
	var out [16]byte
	copy(out[:], sum.Sum(nil))
	return out
}

// ComputeNTLMv2Hash computes HMAC-MD5(NTHash, UPPERCASE(username)+domain),
// both sides UTF-16LE encoded. [MS-NLMP] Section 3.3.2
func ComputeNTLMv2Hash(ntHash [16]byte, username, domain string) [16]byte {
	combined := strings.ToUpper(username) + domain
	mac := hmac.New(md5.New, ntHash[:])
	mac.Write(encodeUTF16LE(combined))

	var ntlmv2Hash [16]byte
	copy(ntlmv2Hash[:], mac.Sum(nil))
	return ntlmv2Hash
}

// ValidateNTLMv2Response validates the client's NTLMv2 response (NTProofStr
// + ClientBlob) against the expected value derived from ntHash, username,
// domain, and serverChallenge, and returns the derived session key on
// success. [MS-NLMP] Section 3.3.2
func ValidateNTLMv2Response(
	ntHash [16]byte,
	username, domain string,
	serverChallenge [8]byte,
	ntResponse []byte,
) ([16]byte, error) {
	var sessionKey [16]byte

	if len(ntResponse) < 24 {
		return sessionKey, ErrResponseTooShort
	}

	ntProofStr := ntResponse[:16]
	clientBlob := ntResponse[16:]

	ntlmv2Hash := ComputeNTLMv2Hash(ntHash, username, domain)

	mac := hmac.New(md5.New, ntlmv2Hash[:])
	mac.Write(serverChallenge[:])
	mac.Write(clientBlob)
	expectedNTProofStr := mac.Sum(nil)

	if !hmac.Equal(ntProofStr, expectedNTProofStr) {
		return sessionKey, ErrAuthenticationFailed
	}

	mac = hmac.New(md5.New, ntlmv2Hash[:])
	mac.Write(ntProofStr)
	copy(sessionKey[:], mac.Sum(nil))

	return sessionKey, nil
}

// DeriveSigningKey derives the signing key from the session base key: when
// FlagKeyExch is negotiated, encryptedKey is RC4-decrypted under
// sessionBaseKey to recover the client's ExportedSessionKey; otherwise
// sessionBaseKey is used directly.
func DeriveSigningKey(sessionBaseKey [16]byte, flags NTLMFlag, encryptedKey []byte) [16]byte {
	if (flags & FlagKeyExch) == 0 {
		return sessionBaseKey
	}
	if len(encryptedKey) != 16 {
		return sessionBaseKey
	}

	cipher, err := rc4.NewCipher(sessionBaseKey[:])
	if err != nil {
		return sessionBaseKey
	}

	var exportedSessionKey [16]byte
	cipher.XORKeyStream(exportedSessionKey[:], encryptedKey)
	return exportedSessionKey
}
