package rpcrt

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"

	"github.com/openrpcrt/rpcrt/internal/rpcsec"
	"github.com/openrpcrt/rpcrt/internal/rpctransport"
)

// EndpointResolver resolves a partially-bound client's endpoint against the
// local endpoint-map database, the Go analogue of the OS RPC runtime's
// automatic endpoint-mapper query on the first call after ResetBindings.
type EndpointResolver interface {
	Resolve(objUUID uuid.UUID, transport ProtocolSequence) (address string, ok bool, err error)
}

// CallMetrics is the narrow interface Call reports through; rpcmetrics
// implements it against a caller-supplied Prometheus registry. The zero
// value (nopCallMetrics) discards everything.
type CallMetrics interface {
	ObserveCall(tag string, status Status, attempts int)
	ObserveRetry(tag string, verdict Verdict)
	ObserveReconnect(tag string)
}

type nopCallMetrics struct{}

func (nopCallMetrics) ObserveCall(string, Status, int) {}
func (nopCallMetrics) ObserveRetry(string, Verdict)    {}
func (nopCallMetrics) ObserveReconnect(string)         {}

// StubClosure performs one remote procedure call over conn, returning the
// status RetryPolicy classifies. Converting a runtime exception/panic from
// the IDL stub into this status is the closure's responsibility: Call and
// wrapWithRetries only ever see statuses, never raw exceptions.
type StubClosure func(ctx context.Context, conn *rpctransport.Conn) (Status, error)

// ClientOptions bundles the knobs shared by every RpcClient constructor.
type ClientOptions struct {
	RetryPolicy       *RetryPolicy
	ConnectMaxRetries int
	ConnectRetrySleep time.Duration
	Resolver          EndpointResolver
	Logger            Logger
	Metrics           CallMetrics
	// BufDialer, when set, routes the client over an in-process bufconn
	// transport instead of a real socket. Tests only.
	BufDialer *bufconn.Listener
}

// RpcClient owns a single explicit binding handle and surfaces it, as an
// opaque token, to the IDL-generated stub closures passed to Call.
//
// Not internally synchronized: concurrent calls on the same client must be
// externally serialized, matching the original's binding-handle semantics.
type RpcClient struct {
	protoSeq      ProtocolSequence
	objUUID       uuid.UUID
	host          string
	endpoint      string
	authnLevel    AuthenticationLevel
	authnSecurity AuthenticationSecurity
	impLevel      ImpersonationLevel
	identityMode  IdentityTrackingMode
	spn           string
	tlsConfig     *tls.Config

	retryPolicy       *RetryPolicy
	connectMaxRetries int
	connectRetrySleep time.Duration
	resolver          EndpointResolver
	bufDialer         *bufconn.Listener

	logger  Logger
	metrics CallMetrics
	onHold  atomic.Bool

	conn *rpctransport.Conn
}

// NewRpcClient builds an unauthenticated binding handle (AuthenticationLevel
// None) or the base of a security-enabled one — security-enabled
// constructors call this first, then layer their own setup on top, mirroring
// the original's constructor delegation.
func NewRpcClient(protoSeq ProtocolSequence, objUUID, destination, endpoint string, authnLevel AuthenticationLevel, opts ClientOptions) (*RpcClient, error) {
	id, err := parseObjUUID(objUUID)
	if err != nil {
		return nil, err
	}
	if opts.RetryPolicy == nil {
		return nil, &Error{Kind: ConfigurationError, Message: "RpcClient requires a RetryPolicy"}
	}

	logger := opts.Logger
	if logger == nil {
		logger = NopLogger{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = nopCallMetrics{}
	}

	c := &RpcClient{
		protoSeq:          protoSeq,
		objUUID:           id,
		host:              destination,
		endpoint:          endpoint,
		authnLevel:        authnLevel,
		retryPolicy:       opts.RetryPolicy,
		connectMaxRetries: opts.ConnectMaxRetries,
		connectRetrySleep: opts.ConnectRetrySleep,
		resolver:          opts.Resolver,
		bufDialer:         opts.BufDialer,
		logger:            logger,
		metrics:           metrics,
	}

	c.logger.Write(fmt.Sprintf(
		"RPC client for object %s in %s will use protocol sequence %s and %s",
		objUUID, destination, protoSeq, authnLevel,
	), PriorityNotice)

	return c, nil
}

// NewRpcClientWithSecurityPackage builds a client that additionally runs
// SecurityNegotiator and attaches the resulting service/QOS settings to the
// binding handle. directoryAvailable reflects a prior DirectoryProbe.Detect
// call; spn is required whenever negotiation determines mutual
// authentication is in play.
func NewRpcClientWithSecurityPackage(
	protoSeq ProtocolSequence,
	objUUID, destination, endpoint, spn string,
	authnLevel AuthenticationLevel,
	authnSecurity AuthenticationSecurity,
	impLevel ImpersonationLevel,
	directoryAvailable bool,
	opts ClientOptions,
) (*RpcClient, error) {
	c, err := NewRpcClient(protoSeq, objUUID, destination, endpoint, authnLevel, opts)
	if err != nil {
		return nil, err
	}
	if authnLevel == AuthenticationLevelNone {
		return c, nil
	}

	result, err := (SecurityNegotiator{}).NegotiateClient(protoSeq, authnSecurity, authnLevel, directoryAvailable)
	if err != nil {
		return nil, err
	}

	if result.QOS.SPNRequired && spn == "" {
		return nil, &Error{
			Kind:    ConfigurationError,
			Message: "no SPN was provided to RPC client for mutual authentication",
		}
	}

	c.authnSecurity = result.QOS.EffectiveService
	c.impLevel = impLevel
	c.spn = spn
	c.identityMode = result.IdentityMode

	if result.QOS.SPNRequired {
		c.logger.Write(fmt.Sprintf("RPC client has to authenticate server '%s'", spn), PriorityNotice)
	}
	c.logger.Write(fmt.Sprintf(
		"RPC client binding security was set to use %s and %s",
		c.authnSecurity, impLevel,
	), PriorityNotice)

	return c, nil
}

// NewRpcClientSecureChannel builds a TLS-secured client from a previously
// constructed ChannelCredentials. SecureChannel is only compatible with the
// TCP protocol sequence.
func NewRpcClientSecureChannel(protoSeq ProtocolSequence, objUUID, destination, endpoint string, creds *ChannelCredentials, opts ClientOptions) (*RpcClient, error) {
	if protoSeq != ProtocolSequenceTCP {
		return nil, &Error{
			Kind:    ConfigurationError,
			Message: "SecureChannel is only compatible with the TCP protocol sequence",
		}
	}
	if creds == nil {
		return nil, &Error{Kind: SecurityError, Message: "no channel credentials supplied"}
	}

	c, err := NewRpcClient(protoSeq, objUUID, destination, endpoint, AuthenticationLevelPrivacy, opts)
	if err != nil {
		return nil, err
	}
	c.authnSecurity = AuthenticationSecuritySecureChannel
	c.tlsConfig = creds.TLSConfig()
	return c, nil
}

func parseObjUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, &Error{
			Kind:    BindingError,
			Message: "failed to compose binding string for RPC client",
			Cause:   err,
		}
	}
	return id, nil
}

// ResetBindings strips the endpoint from the handle, leaving a
// partially-bound handle: the next call re-resolves against the endpoint-map
// database. The host/destination is left untouched.
func (c *RpcClient) ResetBindings() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.endpoint = ""
}

// Close releases the binding handle's underlying connection. Safe to call
// more than once.
func (c *RpcClient) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *RpcClient) resolveAddress() (string, error) {
	if c.endpoint != "" {
		if c.protoSeq == ProtocolSequenceTCP {
			return c.host + ":" + c.endpoint, nil
		}
		return c.endpoint, nil
	}
	if c.resolver == nil {
		return "", &Error{
			Kind:    BindingError,
			Message: "binding handle has no endpoint and no endpoint-map resolver is configured",
		}
	}
	address, ok, err := c.resolver.Resolve(c.objUUID, c.protoSeq)
	if err != nil {
		return "", &Error{Kind: ConnectionLost, Message: "endpoint-map resolution failed", Cause: err}
	}
	if !ok {
		return "", &Error{Kind: ConnectionLost, Message: "endpoint not registered in endpoint-map database"}
	}
	return address, nil
}

func (c *RpcClient) ensureConn(ctx context.Context) (*rpctransport.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}

	address, err := c.resolveAddress()
	if err != nil {
		return nil, err
	}

	network := "tcp"
	if c.protoSeq == ProtocolSequenceLocal {
		network = "unix"
	}
	if c.bufDialer != nil {
		network = "bufconn"
	}

	conn, err := rpctransport.Dial(ctx, rpctransport.Target{Network: network, Address: address}, c.tlsConfig, c.bufDialer)
	if err != nil {
		return nil, &Error{Kind: ConnectionLost, Message: "failed to dial RPC server", Cause: err}
	}
	c.conn = conn
	return conn, nil
}

// Call is the client's core algorithm: an outer reconnect loop wrapping an
// inner retry loop (wrapWithRetries), with exactly-once on-hold/reconnected
// logging driven by an atomic CAS flag so repeated reconnect attempts within
// one Call never spam the log.
func (c *RpcClient) Call(ctx context.Context, tag string, closure StubClosure) error {
	c.onHold.Store(false)

	var status Status
	var callErr error
	attemptsConnect := 0
	wasOnHold := false

	for {
		status, callErr = c.wrapWithRetries(ctx, tag, closure)
		if Classify(status) != VerdictReconnect {
			break
		}
		if attemptsConnect == c.connectMaxRetries {
			break
		}

		if c.onHold.CompareAndSwap(false, true) {
			wasOnHold = true
			c.logger.Write(fmt.Sprintf(
				"connection lost, will reconnect every %s", c.connectRetrySleep,
			), PriorityWarning, "tag", tag)
		}
		c.metrics.ObserveReconnect(tag)

		c.ResetBindings()
		if err := sleepCtx(ctx, c.connectRetrySleep); err != nil {
			return err
		}
		attemptsConnect++
	}

	c.metrics.ObserveCall(tag, status, attemptsConnect+1)

	if err := c.finalError(status, callErr, tag); err != nil {
		return err
	}

	if wasOnHold {
		c.logger.Write(fmt.Sprintf("reconnected after %d attempts", attemptsConnect), PriorityNotice, "tag", tag)
	}
	return nil
}

// wrapWithRetries loops on the RetryPolicy verdict for one connection
// attempt, bounded by MaxCallRetries, returning control to Call's outer loop
// as soon as a Reconnect or Quit verdict (or success) is reached.
func (c *RpcClient) wrapWithRetries(ctx context.Context, tag string, closure StubClosure) (Status, error) {
	var status Status
	var callErr error

	for attempt := 1; ; attempt++ {
		conn, err := c.ensureConn(ctx)
		if err != nil {
			return StatusCommFailure, err
		}

		status, callErr = closure(c.withCallCredential(ctx), conn)
		if status == StatusOK {
			return status, nil
		}

		verdict := Classify(status)
		c.metrics.ObserveRetry(tag, verdict)

		switch verdict {
		case VerdictQuit, VerdictReconnect:
			return status, callErr

		case VerdictSimpleRetry:
			if attempt > c.retryPolicy.MaxCallRetries {
				return status, callErr
			}
			if err := sleepCtx(ctx, time.Duration(c.retryPolicy.CallRetrySleepMS)*time.Millisecond); err != nil {
				return status, err
			}

		case VerdictRetryBackoff:
			if attempt > c.retryPolicy.MaxCallRetries {
				return status, callErr
			}
			backoff := time.Duration(c.retryPolicy.BackOff(attempt)) * time.Millisecond
			if err := sleepCtx(ctx, backoff); err != nil {
				return status, err
			}
		}
	}
}

// withCallCredential attaches this binding handle's self-asserted Unix
// credential to ctx's outgoing metadata, the counterpart
// RpcServer.resolveCallAuthInfo reads back on a non-SecureChannel call.
// SecureChannel calls need no such attachment: the TLS handshake gRPC's
// transport credentials already completed is the server's proof of
// identity.
func (c *RpcClient) withCallCredential(ctx context.Context) context.Context {
	if c.authnLevel == AuthenticationLevelNone {
		return ctx
	}
	if c.authnSecurity == AuthenticationSecuritySecureChannel {
		return ctx
	}
	raw := rpcsec.BuildUnixCredential(c.machineName(), uint32(os.Getuid()), uint32(os.Getgid()), nil)
	md := metadata.Pairs(unixCredentialMetadataKey, string(raw))
	return metadata.NewOutgoingContext(ctx, md)
}

func (c *RpcClient) machineName() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}

func (c *RpcClient) finalError(status Status, cause error, tag string) error {
	if status == StatusOK {
		return nil
	}
	kind := RuntimeTransient
	if Classify(status) == VerdictReconnect {
		kind = ConnectionLost
	}
	return &Error{
		Kind:      kind,
		Status:    status,
		CallerTag: tag,
		Message:   fmt.Sprintf("%s: failed to invoke stub routine", tag),
		Cause:     cause,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
