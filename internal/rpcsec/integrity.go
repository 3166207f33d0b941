// RPCSEC_GSS krb5i (integrity) wrapping and unwrapping.
//
// Per RFC 2203 Section 5.3.3.4.2, when the security service is
// rpc_gss_svc_integrity the call body is replaced with rpc_gss_integ_data:
//
//	struct rpc_gss_integ_data {
//	    opaque  databody_integ<>;  // XDR(seq_num + args)
//	    opaque  checksum<>;        // MIC over databody_integ
//	};
//
// The MIC is an RFC 4121 GSS-API MICToken: client->server uses
// KeyUsageInitiatorSign, server->client uses KeyUsageAcceptorSign.
package rpcsec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/jcmturner/gokrb5/v8/gssapi"
	"github.com/jcmturner/gokrb5/v8/types"
)

// UnwrapIntegrity decodes and verifies an rpc_gss_integ_data request body,
// returning the procedure arguments and the sequence number carried in the
// body (the caller dual-validates it against the credential's seq_num).
func UnwrapIntegrity(sessionKey types.EncryptionKey, credSeqNum uint32, requestBody []byte) ([]byte, uint32, error) {
	reader := bytes.NewReader(requestBody)

	databodyInteg, err := readXDROpaque(reader)
	if err != nil {
		return nil, 0, fmt.Errorf("decode databody_integ: %w", err)
	}
	checksumBytes, err := readXDROpaque(reader)
	if err != nil {
		return nil, 0, fmt.Errorf("decode checksum: %w", err)
	}

	var micToken gssapi.MICToken
	if err := micToken.Unmarshal(checksumBytes, false); err != nil {
		return nil, 0, fmt.Errorf("unmarshal MIC token: %w", err)
	}
	micToken.Payload = databodyInteg

	ok, err := micToken.Verify(sessionKey, KeyUsageInitiatorSign)
	if err != nil {
		return nil, 0, fmt.Errorf("verify MIC: %w", err)
	}
	if !ok {
		return nil, 0, fmt.Errorf("MIC verification failed")
	}

	if len(databodyInteg) < 4 {
		return nil, 0, fmt.Errorf("databody_integ too short for seq_num: %d bytes", len(databodyInteg))
	}
	bodySeqNum := binary.BigEndian.Uint32(databodyInteg[0:4])

	if bodySeqNum != credSeqNum {
		return nil, 0, fmt.Errorf("seq_num mismatch: credential=%d, body=%d", credSeqNum, bodySeqNum)
	}

	return databodyInteg[4:], bodySeqNum, nil
}

// WrapIntegrity wraps reply data as rpc_gss_integ_data.
func WrapIntegrity(sessionKey types.EncryptionKey, seqNum uint32, replyBody []byte) ([]byte, error) {
	databodyInteg := make([]byte, 4+len(replyBody))
	binary.BigEndian.PutUint32(databodyInteg[0:4], seqNum)
	copy(databodyInteg[4:], replyBody)

	micToken := gssapi.MICToken{
		Flags:     gssapi.MICTokenFlagSentByAcceptor,
		SndSeqNum: uint64(seqNum),
		Payload:   databodyInteg,
	}
	if err := micToken.SetChecksum(sessionKey, KeyUsageAcceptorSign); err != nil {
		return nil, fmt.Errorf("compute integrity MIC: %w", err)
	}

	micBytes, err := micToken.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal integrity MIC: %w", err)
	}

	var buf bytes.Buffer
	if err := writeOpaque(&buf, databodyInteg); err != nil {
		return nil, fmt.Errorf("encode databody_integ: %w", err)
	}
	if err := writeOpaque(&buf, micBytes); err != nil {
		return nil, fmt.Errorf("encode checksum: %w", err)
	}

	return buf.Bytes(), nil
}
