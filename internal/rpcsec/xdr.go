package rpcsec

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Key usage values for the RFC 4121 krb5 GSS-API mechanism, used to key the
// MIC/Wrap token checksum and encryption per direction.
// Per RFC 4121 Section 2:
//
//	KG-USAGE-ACCEPTOR-SEAL  = 22
//	KG-USAGE-ACCEPTOR-SIGN  = 23
//	KG-USAGE-INITIATOR-SEAL = 24
//	KG-USAGE-INITIATOR-SIGN = 25
const (
	KeyUsageAcceptorSeal  uint32 = 22
	KeyUsageAcceptorSign  uint32 = 23
	KeyUsageInitiatorSeal uint32 = 24
	KeyUsageInitiatorSign uint32 = 25
)

const maxOpaqueLen = 1 << 20 // 1MB safety limit on a single XDR opaque field

// readXDROpaque reads a length-prefixed, zero-padded-to-4-bytes XDR opaque
// value, the wire shape rpc_gss_integ_data/rpc_gss_priv_data both use to
// frame their payload.
func readXDROpaque(reader *bytes.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
		return nil, fmt.Errorf("read opaque length: %w", err)
	}
	if length > maxOpaqueLen {
		return nil, fmt.Errorf("opaque length %d exceeds maximum %d", length, maxOpaqueLen)
	}

	data := make([]byte, length)
	if _, err := reader.Read(data); err != nil {
		return nil, fmt.Errorf("read opaque data: %w", err)
	}

	padding := (4 - (length % 4)) % 4
	for range int(padding) {
		if _, err := reader.ReadByte(); err != nil {
			return nil, fmt.Errorf("skip opaque padding: %w", err)
		}
	}

	return data, nil
}

// writeOpaque writes data as a length-prefixed, zero-padded-to-4-bytes XDR
// opaque value.
func writeOpaque(buf *bytes.Buffer, data []byte) error {
	length := uint32(len(data))
	if err := binary.Write(buf, binary.BigEndian, length); err != nil {
		return err
	}
	if length == 0 {
		return nil
	}
	if _, err := buf.Write(data); err != nil {
		return err
	}
	padding := (4 - (length % 4)) % 4
	for range int(padding) {
		if err := buf.WriteByte(0); err != nil {
			return err
		}
	}
	return nil
}

func firstN(b []byte, n int) []byte {
	if len(b) < n {
		return b
	}
	return b[:n]
}

func lastN(b []byte, n int) []byte {
	if len(b) < n {
		return b
	}
	return b[len(b)-n:]
}
