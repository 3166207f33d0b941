package rpctransport

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// streamHandler bridges gRPC's generic UnknownServiceHandler stream API to
// the byte-in/byte-out Handler function signature: one request message in,
// one reply message out, matching the single-call-per-invocation shape an
// IDL stub expects from a binding handle.
func streamHandler(handler Handler) grpc.StreamHandler {
	return func(srv any, stream grpc.ServerStream) error {
		method, ok := grpc.MethodFromServerStream(stream)
		if !ok {
			return status.Error(codes.Internal, "rpctransport: method name unavailable")
		}

		var request []byte
		if err := stream.RecvMsg(&request); err != nil {
			return status.Errorf(codes.Internal, "rpctransport: receive request: %v", err)
		}

		reply, err := handler(stream.Context(), method, request)
		if err != nil {
			return toGRPCStatus(err)
		}

		if err := stream.SendMsg(reply); err != nil {
			return status.Errorf(codes.Internal, "rpctransport: send reply: %v", err)
		}
		return nil
	}
}

// toGRPCStatus maps a handler error onto a gRPC status code. The handler
// (pkg/rpcrt's server dispatch) is expected to return *rpcrt.Error values;
// anything else is surfaced as Unknown.
func toGRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	if s, ok := status.FromError(err); ok {
		return s.Err()
	}
	return status.Error(codes.Unknown, fmt.Sprintf("%v", err))
}
