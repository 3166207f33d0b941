package rpcecho

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/openrpcrt/rpcrt/internal/rpctransport"
	"github.com/openrpcrt/rpcrt/pkg/rpcrt"
)

const methodTouch = "Touch"

// TouchResponse reports the side effect Touch performed under the
// impersonated caller's identity.
type TouchResponse struct {
	Principal string `json:"principal"`
	UID       uint32 `json:"uid"`
	GID       uint32 `json:"gid"`
	Path      string `json:"path"`
}

// Headers implements output.TableRenderer.
func (TouchResponse) Headers() []string { return []string{"PRINCIPAL", "UID", "GID", "PATH"} }

// Rows implements output.TableRenderer.
func (r TouchResponse) Rows() [][]string {
	return [][]string{{r.Principal, fmt.Sprintf("%d", r.UID), fmt.Sprintf("%d", r.GID), r.Path}}
}

var unsafePrincipalChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// touchHandler implements the Touch method: it runs under the impersonated
// caller's identity (rpcrt.Impersonate) and writes a marker file named after
// that identity into dir, demonstrating that an ImpersonationScope reaches
// all the way from the resolved CallAuthInfo to a real side effect inside a
// dispatched handler.
func touchHandler(dir string, logger rpcrt.Logger) rpctransport.Handler {
	return func(ctx context.Context, _ string, _ []byte) ([]byte, error) {
		return rpcrt.Impersonate(ctx, logger, func(ictx context.Context) ([]byte, error) {
			identity, _ := rpcrt.IdentityFromContext(ictx)
			name := unsafePrincipalChars.ReplaceAllString(identity.Principal, "_")
			if name == "" {
				name = "unknown"
			}
			path := filepath.Join(dir, fmt.Sprintf("touch-%s-%d.marker", name, time.Now().UnixNano()))
			if err := os.WriteFile(path, []byte(identity.Principal+"\n"), 0o600); err != nil {
				return nil, &rpcrt.Error{Kind: rpcrt.Fatal, Message: "failed to write touch marker", Cause: err}
			}
			return json.Marshal(TouchResponse{
				Principal: identity.Principal,
				UID:       identity.UID,
				GID:       identity.GID,
				Path:      path,
			})
		})
	}
}

// TouchFullMethod is the gRPC-shaped method name a Touch call dispatches to.
func TouchFullMethod() string {
	return "/" + InterfaceUUID.String() + "/" + methodTouch
}

// Touch invokes the demo interface's impersonation-exercising method and
// decodes the reply.
func Touch(ctx context.Context, client *rpcrt.RpcClient) (*TouchResponse, error) {
	var resp TouchResponse
	err := client.Call(ctx, "Touch", func(ctx context.Context, conn *rpctransport.Conn) (rpcrt.Status, error) {
		var reply []byte
		if err := rpctransport.Invoke(ctx, conn, TouchFullMethod(), nil, &reply); err != nil {
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
