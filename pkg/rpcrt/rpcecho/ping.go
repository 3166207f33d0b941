// Package rpcecho is a minimal demo interface exercising the whole rpcrt
// stack end to end: cmd/rpcrtd registers its Handler as an RpcSrvObject,
// cmd/rpcrtctl calls Ping against it through an RpcClient. The reply shape
// is modeled on a service health response rather than invented from nothing.
package rpcecho

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openrpcrt/rpcrt/internal/rpchealth"
	"github.com/openrpcrt/rpcrt/internal/rpctransport"
	"github.com/openrpcrt/rpcrt/pkg/rpcrt"
)

// InterfaceUUID identifies the demo ping interface. A real IDL-defined
// interface would have this assigned by its .idl/.proto; here it is fixed so
// client and server agree on which dispatch table to use.
var InterfaceUUID = uuid.MustParse("3b56f580-0c59-4d1b-9f2a-7f6f6c9d9a11")

// ObjectUUID identifies the single object instance cmd/rpcrtd registers
// against InterfaceUUID.
const ObjectUUID = "9f8a6b2c-1e3d-4a5f-8b7c-2d4e6f8a0b1c"

const methodPing = "Ping"

// Response is the demo RPC's reply payload.
type Response = rpchealth.Response

// NewHandler builds the server-side dispatch Handler for the demo
// interface, closing over the server's own start time. touchDir and logger
// are only consulted by the Touch method below; pass an empty touchDir to
// serve Ping alone.
func NewHandler(serviceName string, startedAt time.Time, touchDir string, logger rpcrt.Logger) rpctransport.Handler {
	touch := touchHandler(touchDir, logger)
	return func(ctx context.Context, fullMethod string, request []byte) ([]byte, error) {
		switch methodFromFullMethod(fullMethod) {
		case methodTouch:
			return touch(ctx, fullMethod, request)
		default:
			uptime := time.Since(startedAt)
			resp := Response{
				Status:    rpchealth.StatusOK,
				Service:   serviceName,
				StartedAt: startedAt.UTC().Format(time.RFC3339),
				Uptime:    uptime.String(),
				UptimeSec: int64(uptime.Seconds()),
			}
			return json.Marshal(resp)
		}
	}
}

// methodFromFullMethod extracts the trailing method segment from a full
// gRPC method name shaped "/<interface-uuid>/<method>".
func methodFromFullMethod(fullMethod string) string {
	idx := strings.LastIndex(fullMethod, "/")
	if idx < 0 {
		return fullMethod
	}
	return fullMethod[idx+1:]
}

// FullMethod is the gRPC-shaped method name a Ping call dispatches to: the
// interface UUID as the leading path segment, matched against
// pkg/rpcrt.interfaceFromFullMethod on the server side.
func FullMethod() string {
	return "/" + InterfaceUUID.String() + "/" + methodPing
}

// Ping invokes the demo interface through client and decodes the reply.
func Ping(ctx context.Context, client *rpcrt.RpcClient) (*Response, error) {
	var resp Response
	err := client.Call(ctx, "Ping", func(ctx context.Context, conn *rpctransport.Conn) (rpcrt.Status, error) {
		var reply []byte
		if err := rpctransport.Invoke(ctx, conn, FullMethod(), nil, &reply); err != nil {
			return rpcrt.StatusCommFailure, err
		}
		if err := json.Unmarshal(reply, &resp); err != nil {
			return rpcrt.StatusCommFailure, err
		}
		return rpcrt.StatusOK, nil
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
