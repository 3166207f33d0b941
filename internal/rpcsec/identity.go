package rpcsec

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// UnixIdentity is the caller identity carried by a raw Unix-style
// credential: UID, primary GID, supplementary GIDs, and the originating
// machine name. This is the identity a binding handle resolves to when no
// Kerberos or NTLM security package is negotiated and the transport relies
// on the peer's self-asserted Unix credentials (AuthenticationSecurityNone
// over ProtocolSequenceLocal, where the Unix-domain-socket peer credential
// already authenticates the UID at the kernel level).
type UnixIdentity struct {
	Stamp       uint32
	MachineName string
	UID         uint32
	GID         uint32
	GIDs        []uint32
}

// ParseUnixCredential decodes a wire-format Unix credential: a 4-byte
// stamp, an XDR string machine name, a UID, a GID, and an XDR array of
// supplementary GIDs (RFC 1831's AUTH_UNIX shape, reused here as the wire
// format for the "no security package" caller-identity path).
func ParseUnixCredential(body []byte) (*UnixIdentity, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("rpcsec: empty unix credential")
	}

	cred := &UnixIdentity{}
	reader := bytes.NewReader(body)

	if err := binary.Read(reader, binary.BigEndian, &cred.Stamp); err != nil {
		return nil, fmt.Errorf("read stamp: %w", err)
	}

	var nameLen uint32
	if err := binary.Read(reader, binary.BigEndian, &nameLen); err != nil {
		return nil, fmt.Errorf("read machine name length: %w", err)
	}
	if nameLen > 255 {
		return nil, fmt.Errorf("machine name too long: %d", nameLen)
	}
	nameBytes := make([]byte, nameLen)
	if _, err := reader.Read(nameBytes); err != nil {
		return nil, fmt.Errorf("read machine name: %w", err)
	}
	cred.MachineName = string(nameBytes)

	padding := (4 - (nameLen % 4)) % 4
	for i := uint32(0); i < padding; i++ {
		_, _ = reader.ReadByte()
	}

	if err := binary.Read(reader, binary.BigEndian, &cred.UID); err != nil {
		return nil, fmt.Errorf("read uid: %w", err)
	}
	if err := binary.Read(reader, binary.BigEndian, &cred.GID); err != nil {
		return nil, fmt.Errorf("read gid: %w", err)
	}

	var gidsLen uint32
	if err := binary.Read(reader, binary.BigEndian, &gidsLen); err != nil {
		return nil, fmt.Errorf("read gids length: %w", err)
	}
	if gidsLen > 16 {
		return nil, fmt.Errorf("too many gids: %d", gidsLen)
	}
	cred.GIDs = make([]uint32, gidsLen)
	for i := uint32(0); i < gidsLen; i++ {
		if err := binary.Read(reader, binary.BigEndian, &cred.GIDs[i]); err != nil {
			return nil, fmt.Errorf("read gid[%d]: %w", i, err)
		}
	}

	return cred, nil
}

// BuildUnixCredential encodes machineName, uid, gid and gids into the same
// wire shape ParseUnixCredential decodes, the counterpart a client-side
// binding handle uses to assert its caller identity on a trusted local
// transport (ProtocolSequenceLocal, AuthenticationSecurityNone).
func BuildUnixCredential(machineName string, uid, gid uint32, gids []uint32) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.BigEndian, uint32(0)) // stamp
	nameBytes := []byte(machineName)
	_ = binary.Write(buf, binary.BigEndian, uint32(len(nameBytes)))
	buf.Write(nameBytes)
	for i := 0; i < int((4-uint32(len(nameBytes))%4)%4); i++ {
		buf.WriteByte(0)
	}
	_ = binary.Write(buf, binary.BigEndian, uid)
	_ = binary.Write(buf, binary.BigEndian, gid)
	_ = binary.Write(buf, binary.BigEndian, uint32(len(gids)))
	for _, g := range gids {
		_ = binary.Write(buf, binary.BigEndian, g)
	}
	return buf.Bytes()
}
