// RPCSEC_GSS krb5p (privacy) wrapping and unwrapping.
//
// Per RFC 2203 Section 5.3.3.4.3, when the security service is
// rpc_gss_svc_privacy the call body is replaced with rpc_gss_priv_data:
//
//	struct rpc_gss_priv_data {
//	    opaque  databody_priv<>;  // GSS Wrap token (encrypted + integrity-protected)
//	};
//
// The Wrap token is a GSS-API WrapToken per RFC 4121 Section 4.2.6.2; for
// krb5p it provides both confidentiality and integrity. Client->server uses
// KeyUsageInitiatorSeal, server->client uses KeyUsageAcceptorSeal.
//
// RFC 4121 Section 4.2.4 defines the encrypted Wrap token wire format as
// header (16 bytes, plaintext) followed by encrypt(plaintext | filler |
// header_copy), where header_copy has EC and RRC zeroed for the checksum.
// gokrb5's WrapToken does not implement decryption for the Sealed flag, so
// this handles the encrypted case directly.
package rpcsec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/gssapi"
	"github.com/jcmturner/gokrb5/v8/types"
)

const (
	wrapTokenHdrLen = 16

	wrapFlagSentByAcceptor = 0x01
	wrapFlagSealed         = 0x02
	wrapFlagAcceptorSubkey = 0x04
)

// UnwrapPrivacy decodes and decrypts an rpc_gss_priv_data request body,
// returning the procedure arguments and the sequence number carried in the
// payload (the caller dual-validates it against the credential's seq_num).
func UnwrapPrivacy(sessionKey types.EncryptionKey, credSeqNum uint32, requestBody []byte) ([]byte, uint32, error) {
	reader := bytes.NewReader(requestBody)

	wrapTokenBytes, err := readXDROpaque(reader)
	if err != nil {
		return nil, 0, fmt.Errorf("decode databody_priv: %w", err)
	}
	if len(wrapTokenBytes) < wrapTokenHdrLen {
		return nil, 0, fmt.Errorf("wrap token too short: %d bytes, need at least %d", len(wrapTokenBytes), wrapTokenHdrLen)
	}
	if wrapTokenBytes[0] != 0x05 || wrapTokenBytes[1] != 0x04 {
		return nil, 0, fmt.Errorf("invalid Wrap token ID: 0x%02x%02x, expected 0x0504", wrapTokenBytes[0], wrapTokenBytes[1])
	}

	flags := wrapTokenBytes[2]
	ec := binary.BigEndian.Uint16(wrapTokenBytes[4:6])
	rrc := binary.BigEndian.Uint16(wrapTokenBytes[6:8])
	sndSeqNum := binary.BigEndian.Uint64(wrapTokenBytes[8:16])

	if flags&wrapFlagSentByAcceptor != 0 {
		return nil, 0, fmt.Errorf("unexpected acceptor flag set: expecting token from initiator")
	}

	var plaintext []byte

	if flags&wrapFlagSealed != 0 {
		ciphertext := wrapTokenBytes[wrapTokenHdrLen:]
		if rrc > 0 && len(ciphertext) > 0 {
			ciphertext = rotateLeft(ciphertext, int(rrc))
		}

		decrypted, err := crypto.DecryptMessage(ciphertext, sessionKey, KeyUsageInitiatorSeal)
		if err != nil {
			return nil, 0, fmt.Errorf("decrypt Wrap token: %w", err)
		}
		if len(decrypted) < wrapTokenHdrLen {
			return nil, 0, fmt.Errorf("decrypted data too short for header: %d bytes", len(decrypted))
		}

		headerCopy := decrypted[len(decrypted)-wrapTokenHdrLen:]

		expectedHeader := make([]byte, wrapTokenHdrLen)
		copy(expectedHeader, wrapTokenBytes[:wrapTokenHdrLen])
		binary.BigEndian.PutUint16(expectedHeader[4:6], 0)
		binary.BigEndian.PutUint16(expectedHeader[6:8], 0)

		if !bytes.Equal(headerCopy[:2], expectedHeader[:2]) {
			return nil, 0, fmt.Errorf("header_copy token ID mismatch")
		}
		if headerCopy[2] != expectedHeader[2] {
			return nil, 0, fmt.Errorf("header_copy flags mismatch: got 0x%02x, expected 0x%02x", headerCopy[2], expectedHeader[2])
		}

		copySeqNum := binary.BigEndian.Uint64(headerCopy[8:16])
		if copySeqNum != sndSeqNum {
			return nil, 0, fmt.Errorf("header_copy seq_num mismatch: got %d, expected %d", copySeqNum, sndSeqNum)
		}

		fillerSize := int(ec)
		plaintextEnd := len(decrypted) - wrapTokenHdrLen - fillerSize
		if plaintextEnd < 0 {
			return nil, 0, fmt.Errorf("invalid EC value %d: would make plaintext negative", ec)
		}
		plaintext = decrypted[:plaintextEnd]
	} else {
		var wrapToken gssapi.WrapToken
		if err := wrapToken.Unmarshal(wrapTokenBytes, false); err != nil {
			return nil, 0, fmt.Errorf("unmarshal non-sealed Wrap token: %w", err)
		}
		ok, err := wrapToken.Verify(sessionKey, KeyUsageInitiatorSeal)
		if err != nil {
			return nil, 0, fmt.Errorf("verify non-sealed Wrap token: %w", err)
		}
		if !ok {
			return nil, 0, fmt.Errorf("non-sealed Wrap token verification failed")
		}
		plaintext = wrapToken.Payload
	}

	if len(plaintext) < 4 {
		return nil, 0, fmt.Errorf("plaintext too short for seq_num: %d bytes", len(plaintext))
	}
	bodySeqNum := binary.BigEndian.Uint32(plaintext[0:4])
	if bodySeqNum != credSeqNum {
		return nil, 0, fmt.Errorf("seq_num mismatch: credential=%d, body=%d", credSeqNum, bodySeqNum)
	}

	return plaintext[4:], bodySeqNum, nil
}

// rotateLeft undoes the right rotation (RRC) a Wrap token sender applied.
func rotateLeft(data []byte, n int) []byte {
	if len(data) == 0 || n <= 0 {
		return data
	}
	n = n % len(data)
	if n == 0 {
		return data
	}
	result := make([]byte, len(data))
	copy(result, data[n:])
	copy(result[len(data)-n:], data[:n])
	return result
}

// WrapPrivacy wraps reply data as rpc_gss_priv_data, encrypting with
// KeyUsageAcceptorSeal. No filler is used (EC=0).
func WrapPrivacy(sessionKey types.EncryptionKey, seqNum uint32, replyBody []byte) ([]byte, error) {
	plaintext := make([]byte, 4+len(replyBody))
	binary.BigEndian.PutUint32(plaintext[0:4], seqNum)
	copy(plaintext[4:], replyBody)

	encType, err := crypto.GetEtype(sessionKey.KeyType)
	if err != nil {
		return nil, fmt.Errorf("get encryption type: %w", err)
	}

	flags := byte(wrapFlagSentByAcceptor | wrapFlagSealed)
	const ec, rrc = uint16(0), uint16(0)

	header := make([]byte, wrapTokenHdrLen)
	header[0] = 0x05
	header[1] = 0x04
	header[2] = flags
	header[3] = 0xFF
	binary.BigEndian.PutUint16(header[4:6], ec)
	binary.BigEndian.PutUint16(header[6:8], rrc)
	binary.BigEndian.PutUint64(header[8:16], uint64(seqNum))

	headerCopy := make([]byte, wrapTokenHdrLen)
	copy(headerCopy, header)
	binary.BigEndian.PutUint16(headerCopy[4:6], 0)
	binary.BigEndian.PutUint16(headerCopy[6:8], 0)

	toEncrypt := make([]byte, len(plaintext)+wrapTokenHdrLen)
	copy(toEncrypt, plaintext)
	copy(toEncrypt[len(plaintext):], headerCopy)

	_, ciphertext, err := encType.EncryptMessage(sessionKey.KeyValue, toEncrypt, KeyUsageAcceptorSeal)
	if err != nil {
		return nil, fmt.Errorf("encrypt Wrap token: %w", err)
	}

	wrapTokenBytes := make([]byte, wrapTokenHdrLen+len(ciphertext))
	copy(wrapTokenBytes, header)
	copy(wrapTokenBytes[wrapTokenHdrLen:], ciphertext)

	var buf bytes.Buffer
	if err := writeOpaque(&buf, wrapTokenBytes); err != nil {
		return nil, fmt.Errorf("encode databody_priv: %w", err)
	}

	return buf.Bytes(), nil
}
