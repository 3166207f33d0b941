package commands

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openrpcrt/rpcrt/internal/cli/credentials"
	"github.com/openrpcrt/rpcrt/pkg/rpcrt"
	"github.com/openrpcrt/rpcrt/pkg/rpcrt/rpcmetrics"
)

// clientMetrics is process-local: rpcrtctl is a one-shot CLI invocation, so
// there is no /metrics endpoint to scrape, but routing calls through the
// same rpcrt.CallMetrics interface the daemon uses keeps the two binaries
// honest about what that interface needs to support.
var clientMetrics = rpcmetrics.New(prometheus.NewRegistry())

func parseProtocolSequence(s string) (rpcrt.ProtocolSequence, error) {
	switch s {
	case "tcp", "":
		return rpcrt.ProtocolSequenceTCP, nil
	case "local":
		return rpcrt.ProtocolSequenceLocal, nil
	default:
		return 0, fmt.Errorf("invalid protocol sequence %q (valid: tcp, local)", s)
	}
}

func parseAuthenticationLevel(s string) (rpcrt.AuthenticationLevel, error) {
	switch s {
	case "none", "":
		return rpcrt.AuthenticationLevelNone, nil
	case "integrity":
		return rpcrt.AuthenticationLevelIntegrity, nil
	case "privacy":
		return rpcrt.AuthenticationLevelPrivacy, nil
	default:
		return 0, fmt.Errorf("invalid authentication level %q (valid: none, integrity, privacy)", s)
	}
}

func parseAuthenticationSecurity(s string) (rpcrt.AuthenticationSecurity, error) {
	switch s {
	case "ntlm", "":
		return rpcrt.AuthenticationSecurityNTLM, nil
	case "try_kerberos":
		return rpcrt.AuthenticationSecurityTryKerberos, nil
	case "require_mutual_authn":
		return rpcrt.AuthenticationSecurityRequireMutualAuthn, nil
	case "secure_channel":
		return rpcrt.AuthenticationSecuritySecureChannel, nil
	default:
		return 0, fmt.Errorf("invalid authentication security %q (valid: ntlm, try_kerberos, require_mutual_authn, secure_channel)", s)
	}
}

// newClient builds an RpcClient from a stored binding target, mirroring the
// security-package branching cmd/rpcrtd's NewRpcServer performs on the
// server side.
func newClient(ctx *credentials.Context) (*rpcrt.RpcClient, error) {
	protoSeq, err := parseProtocolSequence(ctx.ProtocolSequence)
	if err != nil {
		return nil, err
	}
	authnLevel, err := parseAuthenticationLevel(ctx.AuthenticationLevel)
	if err != nil {
		return nil, err
	}
	authnSecurity, err := parseAuthenticationSecurity(ctx.AuthenticationSecurity)
	if err != nil {
		return nil, err
	}

	opts := rpcrt.ClientOptions{
		RetryPolicy:       rpcrt.NewRetryPolicy(3, 200, 100, 5000),
		ConnectMaxRetries: 5,
		ConnectRetrySleep: 0,
		Metrics:           clientMetrics,
	}

	if authnLevel == rpcrt.AuthenticationLevelNone {
		return rpcrt.NewRpcClient(protoSeq, ctx.ObjectUUID, ctx.Destination, ctx.Endpoint, authnLevel, opts)
	}

	return rpcrt.NewRpcClientWithSecurityPackage(
		protoSeq,
		ctx.ObjectUUID, ctx.Destination, ctx.Endpoint, ctx.SPN,
		authnLevel, authnSecurity,
		rpcrt.ImpersonationLevelImpersonate,
		false,
		opts,
	)
}
