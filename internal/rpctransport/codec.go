// Package rpctransport is the "OS RPC runtime" collaborator: it turns a
// ProtocolSequence + destination into a live gRPC connection or listener,
// leaving all marshalling to the IDL-generated stub closure the caller
// supplies. A binding handle from pkg/rpcrt wraps exactly one *grpc.ClientConn
// (client) or is served by exactly one *grpc.Server (server).
package rpctransport

// rawCodec passes payloads through as raw bytes, so the stub closure -- not
// the transport -- owns marshalling. v must be *[]byte on unmarshal and
// []byte (or *[]byte) on marshal; anything else is a programming error.
type rawCodec struct{}

func (rawCodec) Name() string { return "raw" }

func (rawCodec) Marshal(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case *[]byte:
		return *b, nil
	default:
		return nil, errUnsupportedType
	}
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	out, ok := v.(*[]byte)
	if !ok {
		return errUnsupportedType
	}
	*out = make([]byte, len(data))
	copy(*out, data)
	return nil
}

var errUnsupportedType = rawCodecError("rawCodec only supports []byte/*[]byte payloads")

type rawCodecError string

func (e rawCodecError) Error() string { return string(e) }
