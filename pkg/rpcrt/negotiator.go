package rpcrt

// QOSCapabilities records the quality-of-service bits SecurityNegotiator
// derives for a binding handle: which service was chosen, whether mutual
// authentication is set, and any capability hints the transport should
// attach (e.g. "local-hint" for a Local-transport mutual-authn request).
type QOSCapabilities struct {
	EffectiveService AuthenticationSecurity
	MutualAuthn      bool
	Capabilities     []string
	SPNRequired      bool
}

// NegotiationResult is SecurityNegotiator's full output.
type NegotiationResult struct {
	QOS            QOSCapabilities
	IdentityMode   IdentityTrackingMode
}

// SecurityNegotiator is a pure decision function: given a transport, the
// requested security, and directory availability, it produces the effective
// authentication service, QOS capabilities, identity tracking mode, and
// whether an SPN is required. It has no state and performs no I/O itself;
// DirectoryProbe.Detect is expected to have already run.
type SecurityNegotiator struct{}

// NegotiateClient implements the client-side rules (section 4.6). When level
// is AuthenticationLevelNone, no credential, SPN, or mutual-authn field has
// any effect: the negotiator records this and returns a zero-value result
// without consulting directoryAvailable or failing on an otherwise-invalid
// combination.
func (SecurityNegotiator) NegotiateClient(transport ProtocolSequence, requested AuthenticationSecurity, level AuthenticationLevel, directoryAvailable bool) (*NegotiationResult, error) {
	if level == AuthenticationLevelNone {
		return &NegotiationResult{IdentityMode: IdentityTrackingStatic}, nil
	}

	result := &NegotiationResult{}

	switch {
	case requested == AuthenticationSecurityNTLM:
		result.QOS = QOSCapabilities{EffectiveService: AuthenticationSecurityNTLM}

	case transport == ProtocolSequenceLocal:
		result.QOS.EffectiveService = AuthenticationSecurityNTLM
		if requested == AuthenticationSecurityRequireMutualAuthn {
			if directoryAvailable {
				result.QOS.MutualAuthn = true
				result.QOS.Capabilities = append(result.QOS.Capabilities, "local-hint")
			} else {
				return nil, &Error{
					Kind:    ConfigurationError,
					Message: "mutual authentication requested over Local transport but no directory service is available",
				}
			}
		}

	default: // TCP
		if directoryAvailable {
			result.QOS.EffectiveService = requested
			if requested != AuthenticationSecurityNTLM {
				result.QOS.MutualAuthn = true
			}
		} else if requested != AuthenticationSecurityNTLM {
			if requested == AuthenticationSecurityRequireMutualAuthn {
				return nil, &Error{
					Kind:    ConfigurationError,
					Message: "mutual authentication strictly required but no directory service is available",
				}
			}
			result.QOS.EffectiveService = AuthenticationSecurityNTLM
		} else {
			result.QOS.EffectiveService = AuthenticationSecurityNTLM
		}
	}

	result.QOS.SPNRequired = result.QOS.MutualAuthn
	if transport == ProtocolSequenceTCP {
		result.IdentityMode = IdentityTrackingStatic
	} else {
		result.IdentityMode = IdentityTrackingDynamic
	}
	return result, nil
}

// NegotiateServer implements the server-side rule: NTLM when the directory
// is absent, Negotiate with a DNS-derived SPN registered with the runtime
// when present. The SPN string itself is composed by the caller from the
// fully-qualified DNS host name and the configured service name; this
// function only decides whether one is required.
func (SecurityNegotiator) NegotiateServer(directoryAvailable bool) QOSCapabilities {
	if !directoryAvailable {
		return QOSCapabilities{EffectiveService: AuthenticationSecurityNTLM}
	}
	return QOSCapabilities{
		EffectiveService: AuthenticationSecurityTryKerberos,
		MutualAuthn:      true,
		SPNRequired:      true,
	}
}

// ComposeSPN builds the service principal name a server registers with the
// directory, from the configured service name and the host's fully
// qualified DNS name.
func ComposeSPN(serviceName, fqdnHost string) string {
	return serviceName + "/" + fqdnHost
}
